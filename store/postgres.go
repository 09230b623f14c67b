package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/gavelnet/gavel/custody"
	"github.com/gavelnet/gavel/engine"
	"github.com/gavelnet/gavel/ledger"
)

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects to PostgreSQL and runs migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS authority (
		singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
		owner VARCHAR(128) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS settings (
		id VARCHAR(64) PRIMARY KEY,
		duration_ns BIGINT NOT NULL,
		soft_close_ns BIGINT NOT NULL,
		bid_increment BIGINT NOT NULL,
		facilitator_fee_rate BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id VARCHAR(128) PRIMARY KEY,
		vault VARCHAR(128) NOT NULL,
		settings VARCHAR(64) NOT NULL,
		treasury VARCHAR(64) NOT NULL,
		top_bidder VARCHAR(128) NOT NULL,
		top_amount BIGINT NOT NULL,
		reserve_price BIGINT NOT NULL DEFAULT 0,
		start_time TIMESTAMP WITH TIME ZONE NOT NULL,
		end_time TIMESTAMP WITH TIME ZONE NOT NULL,
		state SMALLINT NOT NULL,
		asset_claimed BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS bids (
		auction VARCHAR(128) NOT NULL,
		bidder VARCHAR(128) NOT NULL,
		amount BIGINT NOT NULL,
		escrow VARCHAR(64) NOT NULL,
		placed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (auction, bidder)
	);

	CREATE INDEX IF NOT EXISTS idx_auctions_state ON auctions(state);
	CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids(auction);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveAuthority upserts the singleton authority record.
func (s *PostgresStore) SaveAuthority(a engine.Authority) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO authority (singleton, owner, updated_at)
	VALUES (TRUE, $1, NOW())
	ON CONFLICT (singleton) DO UPDATE SET owner = EXCLUDED.owner, updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, string(a.Owner))
	return err
}

// SaveSettings inserts a settings record. Settings are immutable, so repeated
// saves of the same ID are a no-op.
func (s *PostgresStore) SaveSettings(set engine.Settings) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO settings (id, duration_ns, soft_close_ns, bid_increment, facilitator_fee_rate)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		string(set.ID),
		set.Duration.Nanoseconds(),
		set.SoftClosePeriod.Nanoseconds(),
		int64(set.BidIncrement),
		int64(set.FacilitatorFeeRate),
	)
	return err
}

// SaveAuction upserts an auction record.
func (s *PostgresStore) SaveAuction(a engine.Auction) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO auctions
		(id, vault, settings, treasury, top_bidder, top_amount, reserve_price, start_time, end_time, state, asset_claimed, version, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
	ON CONFLICT (id) DO UPDATE SET
		top_bidder = EXCLUDED.top_bidder,
		top_amount = EXCLUDED.top_amount,
		end_time = EXCLUDED.end_time,
		state = EXCLUDED.state,
		asset_claimed = EXCLUDED.asset_claimed,
		version = EXCLUDED.version,
		updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		string(a.ID),
		string(a.Vault),
		string(a.Settings),
		string(a.Treasury),
		string(a.TopBidder),
		int64(a.TopAmount),
		int64(a.ReservePrice),
		a.StartTime,
		a.EndTime,
		int(a.State),
		a.AssetClaimed,
		int64(a.Version),
	)
	return err
}

// SaveBid upserts a bid record.
func (s *PostgresStore) SaveBid(b engine.Bid) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO bids (auction, bidder, amount, escrow, placed_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (auction, bidder) DO UPDATE SET
		amount = EXCLUDED.amount,
		escrow = EXCLUDED.escrow,
		updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		string(b.Auction),
		string(b.Bidder),
		int64(b.Amount),
		string(b.Escrow),
		b.PlacedAt,
	)
	return err
}

// DeleteBid removes a retired bid.
func (s *PostgresStore) DeleteBid(auction engine.AuctionID, bidder ledger.Party) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM bids WHERE auction = $1 AND bidder = $2",
		string(auction), string(bidder))
	return err
}

// Load retrieves the full persisted snapshot.
func (s *PostgresStore) Load() (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap := &Snapshot{}

	var owner string
	err := s.db.QueryRowContext(ctx, "SELECT owner FROM authority").Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("loading authority: %w", err)
	default:
		snap.Authority = &engine.Authority{Owner: ledger.Party(owner)}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, duration_ns, soft_close_ns, bid_increment, facilitator_fee_rate FROM settings")
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id                      string
			durationNs, softCloseNs int64
			increment, feeRate      int64
		)
		if err := rows.Scan(&id, &durationNs, &softCloseNs, &increment, &feeRate); err != nil {
			return nil, fmt.Errorf("scanning settings: %w", err)
		}
		snap.Settings = append(snap.Settings, engine.Settings{
			ID:                 engine.SettingsID(id),
			Duration:           time.Duration(durationNs),
			SoftClosePeriod:    time.Duration(softCloseNs),
			BidIncrement:       uint64(increment),
			FacilitatorFeeRate: uint64(feeRate),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	auctionRows, err := s.db.QueryContext(ctx, `
		SELECT id, vault, settings, treasury, top_bidder, top_amount, reserve_price,
		       start_time, end_time, state, asset_claimed, version
		FROM auctions`)
	if err != nil {
		return nil, fmt.Errorf("loading auctions: %w", err)
	}
	defer auctionRows.Close()
	for auctionRows.Next() {
		var (
			id, vault, settingsID, treasury, topBidder string
			topAmount, reservePrice, version           int64
			startTime, endTime                         time.Time
			state                                      int
			assetClaimed                               bool
		)
		if err := auctionRows.Scan(&id, &vault, &settingsID, &treasury, &topBidder,
			&topAmount, &reservePrice, &startTime, &endTime, &state, &assetClaimed, &version); err != nil {
			return nil, fmt.Errorf("scanning auction: %w", err)
		}
		snap.Auctions = append(snap.Auctions, engine.Auction{
			ID:           engine.AuctionID(id),
			Vault:        custody.VaultID(vault),
			Settings:     engine.SettingsID(settingsID),
			Treasury:     ledger.AccountID(treasury),
			TopBidder:    ledger.Party(topBidder),
			TopAmount:    uint64(topAmount),
			ReservePrice: uint64(reservePrice),
			StartTime:    startTime,
			EndTime:      endTime,
			State:        engine.State(state),
			AssetClaimed: assetClaimed,
			Version:      uint64(version),
		})
	}
	if err := auctionRows.Err(); err != nil {
		return nil, err
	}

	bidRows, err := s.db.QueryContext(ctx,
		"SELECT auction, bidder, amount, escrow, placed_at FROM bids")
	if err != nil {
		return nil, fmt.Errorf("loading bids: %w", err)
	}
	defer bidRows.Close()
	for bidRows.Next() {
		var (
			auction, bidder, escrow string
			amount                  int64
			placedAt                time.Time
		)
		if err := bidRows.Scan(&auction, &bidder, &amount, &escrow, &placedAt); err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		snap.Bids = append(snap.Bids, engine.Bid{
			Auction:  engine.AuctionID(auction),
			Bidder:   ledger.Party(bidder),
			Amount:   uint64(amount),
			Escrow:   ledger.AccountID(escrow),
			PlacedAt: placedAt,
		})
	}
	if err := bidRows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
