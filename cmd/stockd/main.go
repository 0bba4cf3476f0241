// Command stockd manages the stock-management core: schema migration and
// the snapshot worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheoDny/stock-management-sub000/pkg/blob"
	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
	"github.com/TheoDny/stock-management-sub000/pkg/config"
	"github.com/TheoDny/stock-management-sub000/pkg/datastore"
	"github.com/TheoDny/stock-management-sub000/pkg/history"
	"github.com/TheoDny/stock-management-sub000/pkg/material"
	"github.com/TheoDny/stock-management-sub000/pkg/tag"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stockd",
	Short: "stock-management core service tooling",
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, err := datastore.Open(cfg.Datastore)
		if err != nil {
			return err
		}

		logger := newLogger()
		stores := []interface{ AutoMigrate() error }{
			tag.NewStore(db),
			blob.NewDiskStore(db, cfg.Blob.RootDir, logger),
			characteristic.NewStore(db),
			material.NewStore(db),
			history.NewStore(db),
		}
		for _, s := range stores {
			if err := s.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		logger.Info("schema migrated", "datastore", cfg.Datastore.Type)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the snapshot worker pool until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, err := datastore.Open(cfg.Datastore)
		if err != nil {
			return err
		}

		logger := newLogger()
		blobs := blob.NewDiskStore(db, cfg.Blob.RootDir, logger)
		materials := material.NewStore(db)
		chars := characteristic.NewStore(db)
		histStore := history.NewStore(db)
		builder := history.NewBuilder(materials, chars, blobs, logger)
		engine := history.NewEngine(histStore, builder, materials, logger)
		worker := history.NewWorker(histStore, engine, cfg.Snapshots, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info("shutting down", "signal", sig.String())
			cancel()
		}()

		worker.Run(ctx)
		return nil
	},
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to stockd config file (YAML)")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
