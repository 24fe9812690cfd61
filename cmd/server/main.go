package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Martin-Hayot/bidding-engine/configs"
	"github.com/Martin-Hayot/bidding-engine/internal/auction"
	"github.com/Martin-Hayot/bidding-engine/internal/auth"
	"github.com/Martin-Hayot/bidding-engine/internal/cache"
	"github.com/Martin-Hayot/bidding-engine/internal/database"
	"github.com/Martin-Hayot/bidding-engine/internal/feed"
	"github.com/Martin-Hayot/bidding-engine/internal/handlers/rest"
	"github.com/Martin-Hayot/bidding-engine/internal/notify"
	"github.com/Martin-Hayot/bidding-engine/internal/rates"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
)

func main() {
	storeKind := flag.String("store", "postgres", "lot store backend: postgres or memory")
	flag.Parse()

	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug"
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Initialize the lot store
	var db database.Service
	switch *storeKind {
	case "memory":
		db = database.NewMemory()
	default:
		db = database.New(cfg)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.InitSchema(ctx); err != nil {
		cancel()
		log.Fatal("Error initializing schema: ", err)
	}
	cancel()

	// Optional snapshot cache
	var snapshots *cache.Snapshots
	if cfg.Redis.Enabled {
		snapshots, err = cache.NewSnapshots(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.SnapshotTTL)
		if err != nil {
			log.Fatal("Error connecting to redis: ", err)
		}
		defer snapshots.Close()
		log.Info("Snapshot cache enabled")
	}

	// Optional notification bus
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Nats.Enabled {
		natsNotifier, err := notify.NewNATS(cfg.Nats.URL)
		if err != nil {
			log.Fatal("Error connecting to NATS: ", err)
		}
		defer natsNotifier.Close()
		notifier = natsNotifier
		log.Info("Notifications enabled")
	}

	// Rate converter collaborator
	var converter rates.Converter
	if cfg.Rates.BaseURL != "" {
		converter = rates.NewClient(cfg.Rates.BaseURL, cfg.Rates.Timeout)
	}

	// Wire the engine
	lifecycle := auction.NewLifecycle(db, cfg.Auction.PublishGrace, nil)
	var invalidator auction.Invalidator
	var snapshotCache feed.SnapshotCache
	if snapshots != nil {
		invalidator = snapshots
		snapshotCache = snapshots
	}
	admission := auction.NewAdmission(db, lifecycle, notifier, converter, invalidator, auction.AdmissionConfig{
		MaxRetries:        cfg.Auction.MaxRetries,
		CeilingMultiplier: cfg.Auction.CeilingMultiplier,
		Timeout:           cfg.Auction.BidTimeout,
	})
	syncFeed := feed.New(db, lifecycle, snapshotCache, nil)

	secret := []byte(cfg.Auth.SecretKey)
	handler := rest.New(db, admission, lifecycle, syncFeed, func(r *http.Request) (types.Identity, error) {
		return auth.FromRequest(r, secret)
	})

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server started on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown: ", err)
	}
	log.Info("Server stopped gracefully")
}
