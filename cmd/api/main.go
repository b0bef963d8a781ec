package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agora/api/internal/config"
	"agora/api/internal/logging"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	root := &cobra.Command{
		Use:           "agora",
		Short:         "Agora deliberation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newMigrateCommand(), newReindexCommand())
	return root
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func setup() (config.Config, zerolog.Logger) {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger
}

func openDatabase(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return nil, err
	}
	return db, nil
}

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down roll back) database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := setup()
			ctx := cmd.Context()
			db, err := openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				if err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir); err != nil {
					logger.Error().Err(err).Msg("rollback failed")
					return err
				}
				logger.Info().Msg("migrations rolled back")
				return nil
			}
			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				logger.Error().Err(err).Msg("migrations failed")
				return err
			}
			logger.Info().Strs("applied", applied).Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	return cmd
}

func newReindexCommand() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Push every discussion to Meilisearch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := setup()
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return fmt.Errorf("MEILI_URL is not set")
			}
			ctx := cmd.Context()
			db, err := openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			defer meili.Close()
			deadline := time.Now().Add(wait)
			for !meili.Healthy() && time.Now().Before(deadline) {
				time.Sleep(250 * time.Millisecond)
			}

			searchService := search.NewService(meili, search.NewPgFTS(db), logger)
			count, err := searchService.Reindex(ctx, store.NewPostgresStore(db))
			if err != nil {
				logger.Error().Err(err).Msg("reindex failed")
				return err
			}
			logger.Info().Int("discussions", count).Msg("reindex complete")
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "how long to wait for Meilisearch to become healthy")
	return cmd
}
