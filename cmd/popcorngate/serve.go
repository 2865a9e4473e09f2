package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/voyagen/popcorngate/internal/cache"
	"github.com/voyagen/popcorngate/internal/config"
	"github.com/voyagen/popcorngate/internal/history"
	"github.com/voyagen/popcorngate/internal/logging"
	"github.com/voyagen/popcorngate/internal/metrics"
	"github.com/voyagen/popcorngate/internal/server"
	"github.com/voyagen/popcorngate/internal/store"
	"github.com/voyagen/popcorngate/internal/subscribers"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve subscriber playback and the subscriber websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve wires the process and blocks until ctx is cancelled. Resources are
// released in reverse order of acquisition.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New("popcorngate")
	log.Logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	mongo, err := store.NewMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongo.Close(closeCtx); err != nil {
			log.WithError(err).Warn("mongo close")
		}
	}()
	log.WithField("database", cfg.MongoDatabase).Info("mongo connected")

	var (
		rds      *cache.Redis
		appStore store.Store = mongo
	)
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rds.Close()

		if err := rds.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		appStore = store.NewCachedStore(mongo, rds, log)
		log.Info("redis connected (stream cache, catchup lock and events enabled)")
	} else {
		log.Info("redis disabled (REDIS_URL not set)")
	}

	recorder, sessions, closeHistory, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	m := metrics.New()
	mgr := subscribers.New(subscribers.Options{
		Store:            appStore,
		Log:              log,
		CatchupsHost:     cfg.CatchupsHost,
		CatchupsHTTPRoot: cfg.CatchupsHTTPRoot,
		EpgURL:           cfg.EpgURL,
		Redis:            rds,
		History:          recorder,
		Metrics:          m,
	})

	srv := server.New(mgr, cfg, log, m, sessions)
	return srv.ListenAndServe(ctx)
}

// openHistory connects the Postgres session history when DATABASE_URL is
// set. Sessions left open by a previous process are closed first.
func openHistory(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (history.Recorder, server.SessionLister, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("session history disabled (DATABASE_URL not set)")
		return history.Nop{}, nil, func() {}, nil
	}
	if err := history.RunMigrations(cfg.DatabaseURL, migrationsURL()); err != nil {
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	pg, err := history.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db: %w", err)
	}
	n, err := pg.CloseDangling(ctx, time.Now())
	if err != nil {
		pg.Close()
		return nil, nil, nil, err
	}
	log.WithField("closed", n).Info("session history connected")
	return pg, pg, pg.Close, nil
}
