package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alfredjeanlab/crates/internal/activity"
	"github.com/alfredjeanlab/crates/internal/archive"
	"github.com/alfredjeanlab/crates/internal/config"
	"github.com/alfredjeanlab/crates/internal/consumer"
	"github.com/alfredjeanlab/crates/internal/discogs"
	"github.com/alfredjeanlab/crates/internal/events"
	"github.com/alfredjeanlab/crates/internal/importer"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/outbox"
	"github.com/alfredjeanlab/crates/internal/ratelimit"
	"github.com/alfredjeanlab/crates/internal/store"
	"github.com/alfredjeanlab/crates/internal/store/memory"
	"github.com/alfredjeanlab/crates/internal/store/postgres"
	"github.com/redis/go-redis/v9"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(c *config.Config) (store.Store, error) {
	if c.UsesMemoryStore() {
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
	s, err := postgres.New(c.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openBroker(c *config.Config) (events.Publisher, events.Subscriber, error) {
	pub, sub, err := events.Open(events.Options{
		Kind:        c.Broker.Kind,
		URL:         c.Broker.URL,
		Login:       c.Broker.Login,
		Passcode:    c.Broker.Passcode,
		ClientID:    c.Broker.ClientID,
		TopicPrefix: c.Broker.TopicPrefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s broker: %w", c.Broker.Kind, err)
	}
	logger.Info("broker connected", "kind", c.Broker.Kind, "url", c.Broker.URL)
	return pub, sub, nil
}

// openRedis returns nil when no Redis address is configured.
func openRedis(ctx context.Context, c *config.Config) (*redis.Client, error) {
	if c.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", c.Redis.Addr, err)
	}
	logger.Info("redis connected", "addr", c.Redis.Addr)
	return rdb, nil
}

func outboxConfig(c *config.Config) outbox.Config {
	return outbox.Config{
		BatchSize:     c.Outbox.BatchSize,
		BusyInterval:  c.Outbox.BusyInterval,
		IdleInterval:  c.Outbox.IdleInterval,
		CleanupEvery:  c.Outbox.CleanupEvery,
		RetentionDays: c.Outbox.RetentionDays,
		Claim:         c.Outbox.Claim,
	}
}

func newProcessor(ctx context.Context, c *config.Config, s store.Store, pub events.Publisher) (*outbox.Processor, error) {
	var opts []outbox.Option
	if c.Archive.Enabled() {
		var dests []archive.Destination
		if c.Archive.S3Bucket != "" {
			d, err := archive.NewS3Destination(ctx, c.Archive.S3Bucket, c.Archive.S3Region, c.Archive.S3Endpoint)
			if err != nil {
				return nil, err
			}
			dests = append(dests, d)
			logger.Info("archive S3 destination enabled", "bucket", c.Archive.S3Bucket)
		}
		if c.Archive.Dir != "" {
			dests = append(dests, archive.NewDirDestination(c.Archive.Dir))
			logger.Info("archive directory destination enabled", "dir", c.Archive.Dir)
		}
		opts = append(opts, outbox.WithArchiver(archive.New(c.Archive.Prefix, logger, dests...)))
	}
	return outbox.NewProcessor(s, pub, outboxConfig(c), logger, opts...), nil
}

// newImporter builds the import workflow. The limiter is shared by every
// caller of the catalog API in this process.
func newImporter(c *config.Config, s store.Store, limiter *ratelimit.Limiter) *importer.Workflow {
	client := discogs.NewClient(c.Discogs.BaseURL, limiter,
		discogs.WithToken(c.Discogs.Token),
		discogs.WithUserAgent(c.Discogs.UserAgent),
	)
	return importer.New(s, client, importer.Config{
		PerPage: c.Discogs.PerPage,
		Backoff: c.Discogs.Backoff,
	}, logger)
}

func newLimiter(c *config.Config) *ratelimit.Limiter {
	l := ratelimit.PerMinute(c.Discogs.RequestsPerMinute)
	logger.Info("catalog API rate limit", "requests_per_minute", c.Discogs.RequestsPerMinute, "interval", l.Interval())
	return l
}

// newDispatcher wires the consumer's handler table. rdb may be nil, which
// disables cache invalidation and deduplication.
func newDispatcher(c *config.Config, imp *importer.Workflow, rdb *redis.Client) *consumer.Dispatcher {
	var opts []consumer.Option
	if rdb != nil {
		opts = append(opts, consumer.WithDeduper(consumer.NewRedisDeduper(rdb, c.Redis.DedupeTTL)))
	}
	d := consumer.NewDispatcher(logger, opts...)
	d.Handle(model.DestinationImportRequested, consumer.ImportHandler(imp, logger))

	if rdb != nil {
		inv := consumer.NewCacheInvalidator(rdb, logger)
		d.Handle(model.DestinationAlbumCreated, inv.Handle)
		d.Handle(model.DestinationAlbumUpdated, inv.Handle)
		d.Handle(model.DestinationPressingCreated, inv.Handle)
	} else {
		log := consumer.LogHandler(logger)
		d.Handle(model.DestinationAlbumCreated, log)
		d.Handle(model.DestinationAlbumUpdated, log)
		d.Handle(model.DestinationPressingCreated, log)
	}
	return d
}

func newBridge(c *config.Config) *activity.Bridge {
	return activity.NewBridge(c.Activity.PushURL, c.Activity.Secret, nil, logger)
}
