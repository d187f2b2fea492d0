// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/api"
	"github.com/skuwata/outreachd/internal/blob"
	"github.com/skuwata/outreachd/internal/channel/dm"
	"github.com/skuwata/outreachd/internal/channel/form"
	"github.com/skuwata/outreachd/internal/clock"
	"github.com/skuwata/outreachd/internal/config"
	"github.com/skuwata/outreachd/internal/crawlqueue"
	"github.com/skuwata/outreachd/internal/dispatcher"
	"github.com/skuwata/outreachd/internal/fetcher"
	"github.com/skuwata/outreachd/internal/generate"
	"github.com/skuwata/outreachd/internal/id"
	"github.com/skuwata/outreachd/internal/logging"
	"github.com/skuwata/outreachd/internal/metrics"
	"github.com/skuwata/outreachd/internal/monitor"
	"github.com/skuwata/outreachd/internal/notify"
	"github.com/skuwata/outreachd/internal/outreach"
	pubmemory "github.com/skuwata/outreachd/internal/publisher/memory"
	pubgcp "github.com/skuwata/outreachd/internal/publisher/pubsub"
	"github.com/skuwata/outreachd/internal/storage/memory"
	"github.com/skuwata/outreachd/internal/storage/postgres"
	"github.com/skuwata/outreachd/internal/task"
)

// store is the combined persistence surface both backends provide.
type store interface {
	outreach.JobStore
	outreach.TaskStore
	outreach.CompanyStore
	outreach.CrawlQueueStore
	outreach.MetricsStore
	outreach.ProcessLogger
}

// App holds the shared, long-lived services for the outreach daemon. It is
// initialized once at startup and fails fast when a critical service cannot
// be built.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	Store      store
	Publisher  outreach.Publisher
	Dispatcher *dispatcher.Dispatcher
	Processor  *crawlqueue.Processor
	Monitor    *monitor.Monitor
	Server     *api.Server

	closers []func()
}

// New builds every service from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{Cfg: cfg, Logger: logger}

	st, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = st

	pub, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	a.Publisher = pub

	blobStore, err := a.buildBlob(ctx)
	if err != nil {
		return nil, err
	}

	clk := clock.System{}

	webFetcher, err := fetcher.New(fetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	generator := generate.New(generate.Config{
		Endpoint: cfg.Outreach.GenerationEndpoint,
		APIKey:   cfg.Outreach.GenerationAPIKey,
		Model:    cfg.Outreach.GenerationModel,
	}, nil, logger)

	dmSender := dm.New(pub, cfg.PubSub.DMTopicName, clk, logger)
	formChannel := form.New(webFetcher, clk, form.Config{Headless: true}, logger)

	engine := task.New(
		generator, dmSender, formChannel,
		st, st, st, pub, st, clk,
		task.Config{
			Topic:        cfg.PubSub.TopicName,
			Model:        cfg.Outreach.GenerationModel,
			CustomPrompt: cfg.Outreach.CustomPrompt,
			OpAttempts:   cfg.Outreach.OpRetryAttempts,
			Sender: task.Sender{
				Name:    cfg.Sender.Name,
				Company: cfg.Sender.Company,
				Email:   cfg.Sender.Email,
				Product: cfg.Sender.Product,
			},
		},
		logger,
	)

	a.Dispatcher = dispatcher.New(engine, st, st, st, dispatcher.Config{
		ParallelDefault: cfg.Outreach.ParallelTasksDefault,
		RetryDefault:    cfg.Outreach.RetryAttemptsDefault,
		OpAttempts:      cfg.Outreach.OpRetryAttempts,
		ErrorThreshold:  cfg.Outreach.ErrorThreshold,
	}, logger)

	notifier := notify.NewWebhook(cfg.Alerting.WebhookURL, nil, logger)
	a.Monitor = monitor.New(st, notifier, monitor.Config{
		Channel:            cfg.Alerting.Channel,
		ErrorRateThreshold: cfg.Alerting.ErrorRateThreshold,
		TargetCycle:        cfg.TargetCycleDuration(),
		OpAttempts:         cfg.Outreach.OpRetryAttempts,
	}, logger)

	a.Processor = crawlqueue.New(st, st, webFetcher, blobStore, a.Monitor, clk, crawlqueue.Config{
		BatchSize:           cfg.Crawler.BatchSize,
		MaxRetries:          cfg.Crawler.MaxRetries,
		OpAttempts:          cfg.Outreach.OpRetryAttempts,
		SnapshotPrefix:      cfg.Storage.Prefix,
		SnapshotContentType: cfg.Storage.ContentType,
	}, logger)

	a.Server = api.NewServer(st, st, st, st, a.Dispatcher, a.Processor, a.Monitor, id.UUID{}, clk, cfg, logger)

	return a, nil
}

func (a *App) buildStore(ctx context.Context) (store, error) {
	switch a.Cfg.DB.Provider {
	case "postgres":
		a.Logger.Info("connecting to postgres")
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      a.Cfg.DB.DSN,
			MaxConns: int32(a.Cfg.DB.MaxOpenConns),
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("build postgres store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	case "memory":
		a.Logger.Info("using in-memory store; state is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown db provider: %s", a.Cfg.DB.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (outreach.Publisher, error) {
	switch a.Cfg.PubSub.Provider {
	case "pubsub":
		if a.Cfg.PubSub.ProjectID == "" {
			return nil, fmt.Errorf("pubsub.project_id must be set when pubsub.provider is pubsub")
		}
		a.Logger.Info("connecting to pub/sub", zap.String("project", a.Cfg.PubSub.ProjectID))
		client, err := pubsub.NewClient(ctx, a.Cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		pub := pubgcp.New(client)
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("pubsub close failed", zap.Error(err))
			}
		})
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	case "memory":
		a.Logger.Info("using in-memory publisher; messages are not delivered")
		return pubmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown pubsub provider: %s", a.Cfg.PubSub.Provider)
	}
}

func (a *App) buildBlob(ctx context.Context) (outreach.BlobStore, error) {
	switch a.Cfg.Storage.Provider {
	case "gcs":
		if a.Cfg.Storage.GCSBucket == "" {
			return nil, fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
		a.Logger.Info("using gcs snapshots", zap.String("bucket", a.Cfg.Storage.GCSBucket))
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("gcs close failed", zap.Error(err))
			}
		})
		return blob.NewGCS(client, a.Cfg.Storage.GCSBucket), nil
	case "memory":
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.Cfg.Storage.Provider)
	}
}

// Close shuts down every service in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.Logger.Sync()
}
