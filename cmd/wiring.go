package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lidora/internal/config"
	"lidora/internal/database"
	"lidora/internal/docstore"
	"lidora/internal/gateway"
	"lidora/internal/logger"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig(service string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(service, cfg.Logging.Level), nil
}

// storeHandle is an open document store plus what it needs on shutdown.
type storeHandle struct {
	store *docstore.Store
	db    *database.DB
}

func (h *storeHandle) Ping(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	return h.db.Ping(ctx)
}

func (h *storeHandle) Close() error {
	return h.store.Close()
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storeHandle, error) {
	h := &storeHandle{}
	switch cfg.Store.Backend {
	case "memory":
		h.store = docstore.NewMemory()
	case "sqlite":
		s, err := docstore.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		h.store = s
	case "postgres":
		db, err := database.New(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, cfg.Store.Migrations); err != nil {
			db.Close()
			return nil, err
		}
		h.db = db
		h.store = docstore.NewPostgres(db)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	policy := docstore.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Store.MaxAttempts
	h.store = h.store.WithRetryPolicy(policy)

	log.Info("store_opened", fmt.Sprintf("Using %s document store", cfg.Store.Backend), "startup", map[string]interface{}{
		"backend":      cfg.Store.Backend,
		"max_attempts": policy.MaxAttempts,
	})
	return h, nil
}

func newGateway(cfg *config.Config, log *logger.Logger) gateway.Gateway {
	if cfg.Gateway.Provider == "stripe" {
		log.Info("gateway_selected", "Using Stripe payment gateway", "startup", nil)
		return gateway.NewStripe(cfg.Gateway.SecretKey, nil)
	}
	log.Warn("gateway_selected", "Using in-memory payment gateway, no real charges are made", "startup", nil)
	return gateway.NewMemory()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
