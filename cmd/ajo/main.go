// Command ajo runs the contribution-cycle and payout engine.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mmynk/ajo/internal/config"
	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/metrics"
	"github.com/mmynk/ajo/internal/payment"
	"github.com/mmynk/ajo/internal/payout"
	"github.com/mmynk/ajo/internal/penalty"
	"github.com/mmynk/ajo/internal/scheduler"
	"github.com/mmynk/ajo/internal/storage/sqlite"
	"github.com/mmynk/ajo/pkg/logging"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ajo",
		Short:         "Rotating savings group engine",
		Long:          "Runs Ajo groups: contribution cycles, late penalties, payouts and the payment gateway webhook.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnv("AJO_CONFIG", "ajo.yaml"), "Path to the YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and exit",
		Long:  "Generates due cycles, evaluates penalties and sweeps payouts once. Suitable for cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(cmd.Context(), configPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			slog.Info("Database migrated", "database", cfg.DBPath)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, tickCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// loadConfig resolves configuration and sets up logging from it.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		logging.Setup("")
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Setup(cfg.LogLevel)
	return cfg, nil
}

// engine is the set of components shared by serve and tick.
type engine struct {
	store      *sqlite.SQLiteStore
	metrics    *metrics.Metrics
	dispatcher *payout.Dispatcher
	applier    *payment.Applier
	scheduler  *scheduler.Scheduler
}

func newEngine(cfg config.Config, reg prometheus.Registerer) (*engine, error) {
	// Initialize SQLite storage
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("Storage initialized", "database", cfg.DBPath)

	m := metrics.New(reg)

	var gw gateway.Gateway
	if cfg.Gateway.URL == "" {
		slog.Warn("No gateway URL configured, using in-memory gateway")
		gw = gateway.NewFake()
	} else {
		gw = gateway.NewHTTPClient(gateway.ClientConfig{
			BaseURL:           cfg.Gateway.URL,
			SecretKey:         cfg.Gateway.SecretKey,
			Timeout:           cfg.Gateway.Timeout,
			RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
			Burst:             cfg.Gateway.Burst,
		})
	}

	dispatcher := payout.NewDispatcher(store, gw, m, payout.Config{
		MaxAttempts:     cfg.Payout.MaxAttempts,
		RetryBackoff:    cfg.Payout.RetryBackoff,
		MaxBackoff:      cfg.Payout.MaxBackoff,
		CallbackTimeout: cfg.Payout.CallbackTimeout,
	})

	return &engine{
		store:      store,
		metrics:    m,
		dispatcher: dispatcher,
		applier:    payment.NewApplier(store, dispatcher, m),
		scheduler:  scheduler.New(store, penalty.NewEngine(store, m), dispatcher, m, cfg.Scheduler.Interval),
	}, nil
}
