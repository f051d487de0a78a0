// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the serve and admin commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/admission"
	"github.com/JakeFAU/fetchgate/internal/api"
	"github.com/JakeFAU/fetchgate/internal/artifact"
	"github.com/JakeFAU/fetchgate/internal/authctx"
	"github.com/JakeFAU/fetchgate/internal/clock/system"
	"github.com/JakeFAU/fetchgate/internal/config"
	"github.com/JakeFAU/fetchgate/internal/dispatcher"
	"github.com/JakeFAU/fetchgate/internal/id/uuid"
	"github.com/JakeFAU/fetchgate/internal/intake"
	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/policy/ratelimit"
	"github.com/JakeFAU/fetchgate/internal/probe"
	memorypublisher "github.com/JakeFAU/fetchgate/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/fetchgate/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/fetchgate/internal/queue/memory"
	badgerStorage "github.com/JakeFAU/fetchgate/internal/storage/badger"
	memoryStorage "github.com/JakeFAU/fetchgate/internal/storage/memory"
	"github.com/JakeFAU/fetchgate/internal/storage/postgres"
	"github.com/JakeFAU/fetchgate/internal/telegram"
	"github.com/JakeFAU/fetchgate/internal/worker"
	"github.com/JakeFAU/fetchgate/internal/ytdlp"
)

const (
	defaultOutcomeTopic = "fetch-outcomes"
	memoryPublisherKeep = 256
)

// ErrShuttingDown resolves jobs still queued when the service stops.
var ErrShuttingDown = errors.New("service is shutting down")

// Option customizes App construction.
type Option func(*options)

type options struct {
	messenger media.Messenger
	runner    ytdlp.Runner
	store     media.EntitlementStore
}

// WithMessenger replaces the Bot API client.
func WithMessenger(m media.Messenger) Option {
	return func(o *options) { o.messenger = m }
}

// WithRunner replaces the process runner used to invoke yt-dlp.
func WithRunner(r ytdlp.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithStore replaces the configured entitlement store.
func WithStore(s media.EntitlementStore) Option {
	return func(o *options) { o.store = s }
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      media.EntitlementStore
	admission  *admission.Controller
	intake     *intake.Service
	queue      *queueMemory.Queue
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
	telegram   *telegram.Client
	closers    []func() error
}

// New creates and initializes every service from cfg. It fails fast if any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	logger.Info("initializing application services")

	if o.store != nil {
		a.store = o.store
	} else {
		store, closeStore, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, closeStore)
	}

	messenger := o.messenger
	if messenger == nil {
		client, err := telegram.New(telegram.Config{
			Token:   cfg.Telegram.BotToken,
			BaseURL: cfg.Telegram.APIBaseURL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize telegram client: %w", err)
		}
		a.telegram = client
		messenger = client
	}

	artifacts, err := artifact.NewManager(cfg.Fetcher.DownloadDir, logger.Named("artifact"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize artifact manager: %w", err)
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	urls, err := intake.NewURLFilter(cfg.Intake.AllowedURLPatterns)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize url filter: %w", err)
	}

	engine := ytdlp.New(ytdlp.Config{
		Binary:            cfg.Fetcher.Binary,
		DownloadDir:       artifacts.Dir(),
		Format:            cfg.Fetcher.Format,
		MergeOutputFormat: cfg.Fetcher.MergeOutputFormat,
		GeoBypassCountry:  cfg.Fetcher.GeoBypassCountry,
	}, o.runner, logger.Named("ytdlp"))

	ids := uuid.New()
	clock := system.New()

	a.admission = admission.New(a.store, ids, admission.Config{
		MaxFreeBytes:      cfg.Admission.MaxFreeBytes,
		FreeTierInclusive: cfg.Admission.FreeTierInclusive,
		UnknownSize:       cfg.Admission.UnknownSize,
		AdministratorID:   cfg.Admission.AdministratorID,
	}, logger.Named("admission"))

	a.queue = queueMemory.NewQueue(cfg.Worker.QueueDepth)
	topic := cfg.PubSub.TopicName
	if topic == "" {
		topic = defaultOutcomeTopic
	}
	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			engine,
			artifacts,
			messenger,
			publisher,
			clock,
			worker.Config{Topic: topic},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatcher = dispatcher.New(a.queue, workers)

	a.intake = intake.New(intake.Deps{
		Prober:    probe.New(engine, logger.Named("probe")),
		Admission: a.admission,
		Queue:     a.dispatcher,
		Messenger: messenger,
		Auth: authctx.NewFileProvider(authctx.Config{
			CookieContent: cfg.Auth.CookieContent,
			CookieFile:    cfg.Auth.CookieFile,
			WorkDir:       filepath.Join(artifacts.Dir(), "auth"),
		}, logger.Named("auth")),
		IDs:     ids,
		Clock:   clock,
		Limiter: ratelimit.New(ratelimit.Config{PerMinute: cfg.Intake.RatePerMinute, Burst: cfg.Intake.Burst}),
		URLs:    urls,
	}, intake.Config{
		GateSteps:      cfg.Gate.Steps,
		MaxFreeBytes:   cfg.Admission.MaxFreeBytes,
		EnqueueTimeout: cfg.EnqueueTimeout(),
	}, logger.Named("intake"))

	a.server = api.NewServer(a.intake, cfg.WebhookSecret(), a.ready, logger.Named("api"))

	logger.Info("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("workers", cfg.Worker.Concurrency),
	)
	return a, nil
}

// OpenStore opens the configured entitlement store and returns its closer.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (media.EntitlementStore, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		logger.Info("connecting to postgres")
		store, err := postgres.NewEntitlementStore(ctx, postgres.EntitlementStoreConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
			Migrate:  true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil
	case config.BackendBadger:
		logger.Info("opening badger store", zap.String("path", cfg.Storage.Badger.Path))
		store, err := badgerStorage.Open(cfg.Storage.Badger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize badger store: %w", err)
		}
		return store, store.Close, nil
	case config.BackendMemory:
		logger.Warn("using in-memory entitlement store; grants and gate progress are lost on restart")
		return memoryStorage.NewEntitlementStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func (a *App) newPublisher(ctx context.Context) (media.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no pubsub topic configured; outcome events stay in memory")
		return memorypublisher.New(memoryPublisherKeep), nil
	}
	a.logger.Info("connecting to pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := pubsubpublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func (a *App) ready(ctx context.Context) error {
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Admission exposes the admission controller.
func (a *App) Admission() *admission.Controller { return a.admission }

// Intake exposes the inbound event service.
func (a *App) Intake() *intake.Service { return a.intake }

// Dispatcher exposes the queue front-end and worker pool.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Server exposes the HTTP server.
func (a *App) Server() *api.Server { return a.server }

// Telegram returns the Bot API client, or nil when a messenger was injected.
func (a *App) Telegram() *telegram.Client { return a.telegram }

// Drain stops intake, waits for accepted updates, and fails any job that
// never reached a worker. Call it after the HTTP server stopped and the
// dispatcher returned.
func (a *App) Drain(ctx context.Context) {
	a.server.Wait()
	a.queue.Close()
	if n := a.dispatcher.Drain(ctx, ErrShuttingDown); n > 0 {
		a.logger.Warn("queued jobs abandoned at shutdown", zap.Int("count", n))
	}
	a.intake.Wait()
}

// Close shuts down every service in reverse construction order.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
