package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stonesteps/pkg/pipeline"
	"stonesteps/pkg/store"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfg    pipeline.Config
	logger *slog.Logger
	// db is nil unless --db is given.
	db *store.Store

	configPath string
	logLevel   string
	dbURL      string
)

var rootCmd = &cobra.Command{
	Use:           "stonesteps",
	Short:         "Source extraction and flux calibration of FITS images",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		cfg = pipeline.DefaultConfig()
		if configPath != "" {
			var err error
			if cfg, err = pipeline.LoadConfig(configPath); err != nil {
				return err
			}
		}

		if dbURL != "" {
			var err error
			db, err = store.New(cmd.Context(), dbURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
		}
		return nil
	},
}

// Execute runs the command line until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	err := rootCmd.ExecuteContext(ctx)
	if db != nil {
		// ctx may already be cancelled.
		db.Close(context.Background())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run log (optional)")
}
