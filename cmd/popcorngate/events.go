package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/voyagen/popcorngate/internal/cache"
	"github.com/voyagen/popcorngate/internal/logging"
)

func newEventsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Consume catchup-created events from the Redis queue",
		Long: `Blocks on the catchup event queue and prints one line per created
catchup. Recorders use the same queue to start timeshift jobs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("events: REDIS_URL is not set")
			}
			rds, err := cache.New(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			defer rds.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New("popcorngate-events")
			return consumeEvents(ctx, rds, log, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON events")
	return cmd
}

func consumeEvents(ctx context.Context, rds *cache.Redis, log logrus.FieldLogger, asJSON bool) error {
	log.WithField("queue", cache.CatchupQueue).Info("waiting for catchup events")
	for ctx.Err() == nil {
		ev, err := cache.Dequeue(ctx, rds, cache.CatchupQueue, 5*time.Second)
		if err != nil {
			log.WithError(err).Warn("dequeue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if ev == nil {
			continue
		}
		if asJSON {
			_ = json.NewEncoder(os.Stdout).Encode(ev)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s  catchup=%s source=%s user=%s title=%q window=%s..%s\n",
			time.Now().Format(time.RFC3339), ev.CatchupID, ev.SourceID, ev.UserID, ev.Title,
			time.UnixMilli(ev.Start).UTC().Format(time.RFC3339), time.UnixMilli(ev.Stop).UTC().Format(time.RFC3339))
	}
	return nil
}
