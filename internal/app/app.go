// Package app holds the long-lived services of one CLI invocation and scopes
// document store access to a single run.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/analysis"
	"github.com/JakeFAU/techtrend/internal/archive"
	"github.com/JakeFAU/techtrend/internal/archive/gcs"
	"github.com/JakeFAU/techtrend/internal/archive/local"
	archivememory "github.com/JakeFAU/techtrend/internal/archive/memory"
	"github.com/JakeFAU/techtrend/internal/clock"
	"github.com/JakeFAU/techtrend/internal/config"
	"github.com/JakeFAU/techtrend/internal/logging"
	"github.com/JakeFAU/techtrend/internal/notify"
	"github.com/JakeFAU/techtrend/internal/notify/kafka"
	notifymemory "github.com/JakeFAU/techtrend/internal/notify/memory"
	"github.com/JakeFAU/techtrend/internal/notify/pubsub"
	"github.com/JakeFAU/techtrend/internal/store"
	elasticstore "github.com/JakeFAU/techtrend/internal/store/elastic"
	storememory "github.com/JakeFAU/techtrend/internal/store/memory"
	mongostore "github.com/JakeFAU/techtrend/internal/store/mongo"
	"github.com/JakeFAU/techtrend/internal/store/postgres"
	"github.com/JakeFAU/techtrend/internal/tracing"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

// StoreOpener connects to the configured document store.
type StoreOpener func(ctx context.Context) (store.Store, error)

// App holds the shared services of one invocation. The document store is not
// among them: every run acquires and releases its own handle via WithStore.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     clock.Clock
	publisher notify.Publisher
	archive   archive.BlobStore
	tagger    analysis.Tagger
	openStore StoreOpener
	closers   []func() error
	tracer    *sdktrace.TracerProvider
}

// Option customizes an App.
type Option func(*App)

// WithLogger replaces the logger built from configuration.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithPublisher replaces the configured event publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithArchive replaces the configured listing archive.
func WithArchive(b archive.BlobStore) Option {
	return func(a *App) { a.archive = b }
}

// WithTagger replaces the prose part-of-speech tagger.
func WithTagger(t analysis.Tagger) Option {
	return func(a *App) { a.tagger = t }
}

// WithStoreOpener replaces the configured store backend.
func WithStoreOpener(fn StoreOpener) Option {
	return func(a *App) { a.openStore = fn }
}

// New builds the services named by cfg. It fails fast when a configured
// publisher or archive cannot be reached.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		a.logger = logger
	}
	if a.clock == nil {
		a.clock = clock.System{}
	}
	if a.tagger == nil {
		a.tagger = analysis.NewProseTagger()
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
	}

	if a.publisher == nil {
		pub, err := buildPublisher(ctx, cfg.Notify)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = pub
	}

	if a.archive == nil {
		blobs, closer, err := buildArchive(ctx, cfg.Archive)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.archive = blobs
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	if a.openStore == nil {
		a.openStore = storeOpener(cfg.Store)
	}

	a.logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("notify", cfg.Notify.Provider),
		zap.String("archive", cfg.Archive.Provider),
	)
	return a, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Close releases the publisher, the archive client and the tracer, then
// flushes the logger.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	// Sync fails on some terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}

// storeCloseTimeout bounds the store shutdown once the run context is gone.
const storeCloseTimeout = 5 * time.Second

// WithStore opens the document store, ensures the natural-key index of each
// collection, runs fn and closes the store on every exit path. The close uses
// a context detached from ctx so an interrupted run still disconnects cleanly.
func (a *App) WithStore(ctx context.Context, colls []upsert.Collection, fn func(store.Store) error) (err error) {
	s, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCloseTimeout)
		defer cancel()
		if cerr := s.Close(closeCtx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close store: %w", cerr))
		}
	}()

	for _, coll := range colls {
		if err := s.EnsureIndex(ctx, coll); err != nil {
			return fmt.Errorf("ensure index on %s: %w", coll.FullName(), err)
		}
	}
	return fn(s)
}

func (a *App) publish(ctx context.Context, topic string, payload any) {
	id, err := a.publisher.Publish(ctx, topic, payload)
	if err != nil {
		a.logger.Warn("publish event", zap.String("topic", topic), zap.Error(err))
		return
	}
	a.logger.Debug("event published", zap.String("topic", topic), zap.String("id", id))
}

func buildPublisher(ctx context.Context, cfg config.NotifyConfig) (notify.Publisher, error) {
	switch cfg.Provider {
	case "", config.ProviderNone:
		return notify.Noop{}, nil
	case config.ProviderMemory:
		return notifymemory.New(), nil
	case config.ProviderPubSub:
		pub, err := pubsub.Open(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		if err := pub.CheckTopics(ctx, cfg.IngestTopic, cfg.StatisticsTopic); err != nil {
			_ = pub.Close()
			return nil, err
		}
		return pub, nil
	case config.ProviderKafka:
		return kafka.New(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Provider)
	}
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.BlobStore, func() error, error) {
	switch cfg.Provider {
	case "", config.ProviderNone:
		return nil, nil, nil
	case config.ProviderMemory:
		return archivememory.NewBlobStore(), nil, nil
	case config.ProviderLocal:
		blobs, err := local.New(cfg.Local)
		if err != nil {
			return nil, nil, err
		}
		return blobs, nil, nil
	case config.ProviderGCS:
		blobs, err := gcs.Open(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, err
		}
		return blobs, blobs.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
}

// sharedStore keeps the in-memory backend alive across runs of one process.
type sharedStore struct {
	store.Store
}

func (sharedStore) Close(context.Context) error { return nil }

func storeOpener(cfg config.StoreConfig) StoreOpener {
	switch cfg.Provider {
	case config.ProviderMongo:
		return func(ctx context.Context) (store.Store, error) {
			return mongostore.Open(ctx, cfg.Mongo)
		}
	case config.ProviderElasticsearch:
		return func(ctx context.Context) (store.Store, error) {
			s, err := elasticstore.New(cfg.Elasticsearch)
			if err != nil {
				return nil, err
			}
			if err := s.Ping(ctx); err != nil {
				return nil, err
			}
			return s, nil
		}
	case config.ProviderPostgres:
		return func(ctx context.Context) (store.Store, error) {
			return postgres.Open(ctx, cfg.Postgres)
		}
	case config.ProviderMemory:
		mem := sharedStore{storememory.New()}
		return func(context.Context) (store.Store, error) {
			return mem, nil
		}
	default:
		return func(context.Context) (store.Store, error) {
			return nil, fmt.Errorf("unknown store provider: %s", cfg.Provider)
		}
	}
}
