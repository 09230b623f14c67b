package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml configs can use "10m" style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SettingsConfig describes the default auction settings the service creates
// at startup when none are persisted yet.
type SettingsConfig struct {
	Duration           Duration `yaml:"duration"`
	SoftClosePeriod    Duration `yaml:"soft_close_period"`
	BidIncrement       uint64   `yaml:"bid_increment"`
	FacilitatorFeeRate uint64   `yaml:"facilitator_fee_rate"`
}

// PricingConfig configures the fixed price source behind the reference
// vault: combining any vault draws this reserve price from the starter.
type PricingConfig struct {
	ReservePrice uint64 `yaml:"reserve_price"`
}

// Config contains service configuration. Flag values override file values.
type Config struct {
	ListenAddr     string         `yaml:"listen_addr"`
	PostgresDSN    string         `yaml:"postgres_dsn"`
	AuthorityOwner string         `yaml:"authority_owner"`
	EnableDevAPI   bool           `yaml:"enable_dev_api"`
	Pricing        PricingConfig  `yaml:"pricing"`
	Settings       SettingsConfig `yaml:"settings"`
}

// DefaultConfig returns a config suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		Settings: SettingsConfig{
			Duration:           Duration(24 * time.Hour),
			SoftClosePeriod:    Duration(10 * time.Minute),
			BidIncrement:       1,
			FacilitatorFeeRate: 0,
		},
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
