package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"lidora/internal/fees"
	"lidora/internal/messaging"
	"lidora/internal/services/account"
	"lidora/internal/services/api"
	"lidora/internal/services/cart"
	"lidora/internal/services/checkout"
	"lidora/internal/services/query"
)

var servePort int

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig("lidora-api")
	if err != nil {
		return err
	}
	defer log.Sync()
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signalContext()
	defer stop()

	handle, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer handle.Close()

	schedule, err := cfg.Fees.Schedule()
	if err != nil {
		return err
	}
	gw := newGateway(cfg, log)

	var publisher checkout.EventPublisher
	var conn *messaging.Connection
	if cfg.RabbitMQ.Enabled {
		conn, err = messaging.New(cfg, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		publisher = messaging.NewPublisher(conn, log)
	}

	handler := api.NewHandler(api.Services{
		Cart:     cart.NewService(handle.store, fees.NewCalculator(schedule), log),
		Checkout: checkout.NewService(handle.store, gw, publisher, cfg.Gateway.Currency, log),
		Account:  account.NewService(handle.store, gw, log),
		Query:    query.NewService(handle.store, log),
	}, log, cfg.Server.RequestTimeout)
	handler.WithHealthCheck("store", handle.Ping)
	if conn != nil {
		handler.WithHealthCheck("rabbitmq", func(context.Context) error { return conn.Ping() })
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("service_started", fmt.Sprintf("HTTP API listening on %s", server.Addr), "startup", map[string]interface{}{
			"port":     cfg.Server.Port,
			"store":    cfg.Store.Backend,
			"gateway":  cfg.Gateway.Provider,
			"rabbitmq": cfg.RabbitMQ.Enabled,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("graceful_shutdown", "Shutting down HTTP API", "shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
