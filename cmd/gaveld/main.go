// Command gaveld runs the auction service: the escrow auction engine, the
// account ledger it settles on, the reference token vault custodian, a REST
// API and a websocket event feed.
//
// State is held in memory by default; pass --postgres (or set postgres_dsn in
// the config file) to persist engine records and restore them at startup.
//
// # Usage
//
//	go run ./cmd/gaveld --addr=:8080 --authority=ops --config=gaveld.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gavelnet/gavel/custody"
	"github.com/gavelnet/gavel/engine"
	"github.com/gavelnet/gavel/feed"
	"github.com/gavelnet/gavel/ledger"
	"github.com/gavelnet/gavel/server"
	"github.com/gavelnet/gavel/store"
)

func main() {
	var (
		addr        = flag.String("addr", "", "HTTP listen address (overrides config)")
		configPath  = flag.String("config", "", "Path to yaml config file")
		postgresDSN = flag.String("postgres", "", "PostgreSQL DSN (overrides config, empty for in-memory)")
		authority   = flag.String("authority", "", "Authority owner party (overrides config)")
		devAPI      = flag.Bool("dev", false, "Mount /dev provisioning routes (accounts, vaults)")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *postgresDSN != "" {
		cfg.PostgresDSN = *postgresDSN
	}
	if *authority != "" {
		cfg.AuthorityOwner = *authority
	}
	if *devAPI {
		cfg.EnableDevAPI = true
	}
	if cfg.AuthorityOwner == "" {
		fmt.Println("Error: authority owner is required (--authority or config)")
		os.Exit(1)
	}

	var st store.Store
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			fmt.Printf("Postgres error: %v\n", err)
			os.Exit(1)
		}
		st = pg
	} else {
		st = store.NewInMemoryStore()
	}
	defer st.Close()

	lg := ledger.NewLedger()
	vault := custody.NewTokenVault(lg, custody.FixedPriceSource{
		Price:      cfg.Pricing.ReservePrice,
		Combinable: true,
	})
	hub := feed.NewHub(log)

	eng := engine.New(lg, vault,
		engine.WithLogger(log),
		engine.WithSink(hub),
		engine.WithSnapshotter(st),
	)

	snap, err := st.Load()
	if err != nil {
		fmt.Printf("Load error: %v\n", err)
		os.Exit(1)
	}
	eng.Restore(snap.Authority, snap.Settings, snap.Auctions, snap.Bids)

	if snap.Authority == nil {
		if err := eng.Bootstrap(ledger.Party(cfg.AuthorityOwner)); err != nil {
			fmt.Printf("Bootstrap error: %v\n", err)
			os.Exit(1)
		}
	}
	if len(snap.Settings) == 0 {
		s, err := eng.CreateSettings(ledger.Party(cfg.AuthorityOwner),
			cfg.Settings.Duration.Std(), cfg.Settings.SoftClosePeriod.Std(),
			cfg.Settings.BidIncrement, cfg.Settings.FacilitatorFeeRate)
		if err != nil {
			fmt.Printf("Settings error: %v\n", err)
			os.Exit(1)
		}
		log.Info("default settings created", "settings", s.ID)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handler := server.NewHandler(log, eng, hub)
	handler.RegisterRoutes(r)

	if cfg.EnableDevAPI {
		log.Warn("dev provisioning API enabled; do not expose publicly")
		dev := server.NewDevHandler(log, lg, vault, ledger.Party(cfg.AuthorityOwner))
		dev.RegisterRoutes(r)
	}

	// No WriteTimeout: the websocket feed writes for the lifetime of the
	// connection and enforces its own deadlines.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		fmt.Printf("gaveld listening on %s\n", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	fmt.Println("Shutting down...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}
}
