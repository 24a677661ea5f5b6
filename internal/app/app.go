// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/clock/system"
	"github.com/webgrove/fetchd/internal/config"
	"github.com/webgrove/fetchd/internal/events"
	"github.com/webgrove/fetchd/internal/events/sinks"
	"github.com/webgrove/fetchd/internal/fetchd"
	"github.com/webgrove/fetchd/internal/id/uuid"
	pubsubpub "github.com/webgrove/fetchd/internal/publisher/pubsub"
	queuemem "github.com/webgrove/fetchd/internal/queue/memory"
	queuepg "github.com/webgrove/fetchd/internal/queue/postgres"
	storagegcs "github.com/webgrove/fetchd/internal/storage/gcs"
	storagelocal "github.com/webgrove/fetchd/internal/storage/local"
	storagemem "github.com/webgrove/fetchd/internal/storage/memory"
	storagenoop "github.com/webgrove/fetchd/internal/storage/noop"
	storagepg "github.com/webgrove/fetchd/internal/storage/postgres"
)

// App holds the shared, long-lived services for the service process. It is
// built once at startup from configuration and passed to the components
// that need it. Initialization fails fast when any backing service cannot
// be reached.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	queue     fetchd.Queue
	results   fetchd.ResultStore
	targets   fetchd.TargetIndex
	blobs     fetchd.BlobStore
	publisher fetchd.Publisher
	hub       *events.Hub
	ids       fetchd.IDGenerator
	clock     fetchd.Clock

	closers []func()
}

// New builds the container from configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
	}

	if err := a.initQueueAndStores(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initBlobStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initHub(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) initQueueAndStores(ctx context.Context) error {
	switch a.cfg.Queue.Provider {
	case "postgres":
		a.logger.Info("connecting to postgres")
		pool, err := storagepg.NewPool(ctx, a.cfg.Queue.DSN, a.cfg.Queue.MaxConns, a.cfg.Queue.MinConns)
		if err != nil {
			return fmt.Errorf("init postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		q, err := queuepg.NewWithPool(pool, "fetch_jobs", a.ids)
		if err != nil {
			return fmt.Errorf("init postgres queue: %w", err)
		}
		results, err := storagepg.NewResultStore(pool, "fetch_results")
		if err != nil {
			return fmt.Errorf("init result store: %w", err)
		}
		targets, err := storagepg.NewTargetIndex(pool, "completed_targets")
		if err != nil {
			return fmt.Errorf("init target index: %w", err)
		}
		a.queue, a.results, a.targets = q, results, targets
	case "memory":
		a.logger.Info("using in-memory queue; work will not survive restarts")
		a.queue = queuemem.New(a.ids, a.clock)
		a.results = storagemem.NewResultStore()
		a.targets = storagemem.NewTargetIndex()
	default:
		return fmt.Errorf("unknown queue provider: %s", a.cfg.Queue.Provider)
	}
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case "gcs":
		a.logger.Info("using GCS blob storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := storagegcs.New(client, a.cfg.Storage.GCSBucket)
		if err != nil {
			return fmt.Errorf("init gcs store: %w", err)
		}
		a.blobs = store
	case "local":
		a.logger.Info("using local blob storage", zap.String("dir", a.cfg.Storage.LocalDir))
		store, err := storagelocal.New(a.cfg.Storage.LocalDir)
		if err != nil {
			return fmt.Errorf("init local store: %w", err)
		}
		a.blobs = store
	case "memory":
		a.blobs = storagemem.NewBlobStore()
	case "noop":
		a.logger.Info("using no-op blob storage; fetched bodies will be discarded")
		a.blobs = storagenoop.New()
	default:
		return fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		return nil
	}
	a.logger.Info("connecting to pub/sub", zap.String("topic", a.cfg.PubSub.TopicName))
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	pub, err := pubsubpub.New(client)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.publisher = pub
	return nil
}

func (a *App) initHub(ctx context.Context) error {
	sinkList := []events.Sink{sinks.NewLogSink(a.logger)}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.publisher != nil {
		pubSink, err := sinks.NewPublisherSink(a.publisher, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("init publisher sink: %w", err)
		}
		sinkList = append(sinkList, pubSink)
	}

	a.hub = events.NewHub(events.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger,
	}, sinkList...)
	return nil
}

// Close shuts the hub and every backing client down in reverse
// initialization order.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config { return a.cfg }

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetQueue returns the durable job queue.
func (a *App) GetQueue() fetchd.Queue { return a.queue }

// GetResultStore returns the per-target result store.
func (a *App) GetResultStore() fetchd.ResultStore { return a.results }

// GetTargetIndex returns the completed-targets index.
func (a *App) GetTargetIndex() fetchd.TargetIndex { return a.targets }

// GetBlobStore returns the raw body store.
func (a *App) GetBlobStore() fetchd.BlobStore { return a.blobs }

// GetHub returns the event hub.
func (a *App) GetHub() *events.Hub { return a.hub }

// GetIDGenerator returns the job ID generator.
func (a *App) GetIDGenerator() fetchd.IDGenerator { return a.ids }

// GetClock returns the shared clock.
func (a *App) GetClock() fetchd.Clock { return a.clock }
