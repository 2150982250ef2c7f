/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the TextMatch reconciliation service. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load YAML config
  2. Initialize SQLite ledger store
  3. Build gateway client and reconciliation runner
  4. Configure HTTP router, start scheduler if enabled
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (optional; defaults apply)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - config/config.go: Configuration file format
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/textmatch/recon-engine/api"
	"github.com/textmatch/recon-engine/config"
	"github.com/textmatch/recon-engine/gateway"
	"github.com/textmatch/recon-engine/recon"
	"github.com/textmatch/recon-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// Gateway client and reconciliation runner
	gatewayClient := gateway.New(gateway.Config{
		BaseURL:           cfg.Gateway.BaseURL,
		APIKey:            cfg.Gateway.APIKey,
		PageSize:          cfg.Gateway.PageSize,
		Timeout:           cfg.Gateway.Timeout.Duration,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		BreakerFailures:   cfg.Gateway.BreakerFailures,
		BreakerCooldown:   cfg.Gateway.BreakerCooldown.Duration,
	}, log.Logger)

	runner := recon.NewRunner(store, gatewayClient, cfg.Reconciliation.RunnerOptions())

	// HTTP layer
	handler := api.NewHandler(store, runner, cfg.Server.AuthToken, cfg.Server.WebhookSecret, log.Logger)
	router := api.NewRouter(handler)

	scheduler := api.NewScheduler(store, runner, cfg.Reconciliation.Interval.Duration, log.Logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
