package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"agora/api/internal/app"
	"agora/api/internal/config"
	"agora/api/internal/email"
	"agora/api/internal/gitrepo"
	"agora/api/internal/jobs"
	"agora/api/internal/metrics"
	"agora/api/internal/objectstore"
	"agora/api/internal/queue"
	"agora/api/internal/ratelimit"
	"agora/api/internal/search"
	"agora/api/internal/session"
	"agora/api/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// visitSource is what the scheduler drains into group_visits.
type visitSource interface {
	Drain(ctx context.Context) ([]store.GroupVisit, error)
	Ack(ctx context.Context, visits []store.GroupVisit) error
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, background workers and scheduled jobs",
		RunE: func(*cobra.Command, []string) error {
			cfg, logger := setup()
			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		logger.Error().Err(err).Msg("migrations failed")
		return err
	}
	if len(applied) > 0 {
		logger.Info().Strs("applied", applied).Msg("migrations applied")
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create revisions dir")
		return err
	}

	dataStore := store.NewPostgresStore(db)
	appMetrics := metrics.New()
	deps := app.Deps{
		Store:     dataStore,
		Revisions: gitrepo.New(cfg.RevisionsDir),
		Metrics:   appMetrics,
		Logger:    logger,
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		engine = meili
	}
	deps.Search = search.NewService(engine, search.NewPgFTS(db), logger)

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		archive, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			logger.Error().Err(err).Msg("object store setup failed")
			return err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("export archive unavailable")
		} else {
			deps.Archive = archive
		}
	}

	var (
		visits  visitSource
		workers queue.Server
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("redis connection failed")
			return err
		}
		defer redisClient.Close()
		logger.Info().Msg("using redis for refresh sessions, visits and background tasks")

		tracker := session.NewVisitTracker(redisClient)
		deps.Sessions = session.NewRedisStore(redisClient)
		deps.Visits = tracker
		visits = tracker

		client, err := queue.NewAsynqClient(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("task queue setup failed")
			return err
		}
		defer client.Close()
		deps.Queue = client

		server, err := queue.NewAsynqServer(cfg.RedisURL, 5, "mail=3,default=1", logger)
		if err != nil {
			logger.Error().Err(err).Msg("task worker setup failed")
			return err
		}
		workers = server
	} else {
		logger.Info().Msg("redis not configured, using postgres sessions and inline tasks")
		visits = session.NoopTracker{}
	}

	service := app.New(cfg, deps)
	if workers != nil {
		service.RegisterTasks(workers)
		go func() {
			if err := workers.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("task workers stopped")
			}
		}()
	}

	scheduler := jobs.NewScheduler(visits, dataStore, logger)
	scheduler.Schedule(cfg.VisitFlushInterval)
	scheduler.Start()

	limiter := ratelimit.New(cfg.VisitorRPS, cfg.VisitorBurst)
	go sweepLimiter(ctx, limiter)

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigin:     cfg.CORSOrigin,
		Logger:         logger,
		VisitorLimiter: limiter,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("Agora API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown error")
	}
	scheduler.Stop(shutdownCtx)
	if _, err := scheduler.FlushVisits(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("final visit flush failed")
	}
	return nil
}

func sweepLimiter(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
