// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/api"
	"github.com/JakeFAU/pagesnap/internal/browser"
	"github.com/JakeFAU/pagesnap/internal/clock/system"
	"github.com/JakeFAU/pagesnap/internal/config"
	"github.com/JakeFAU/pagesnap/internal/id/uuid"
	"github.com/JakeFAU/pagesnap/internal/notify"
	publisher "github.com/JakeFAU/pagesnap/internal/publisher/pubsub"
	"github.com/JakeFAU/pagesnap/internal/snapshot"
	"github.com/JakeFAU/pagesnap/internal/storage/gcs"
	"github.com/JakeFAU/pagesnap/internal/storage/local"
)

// Store persists and reads back the snapshot record.
type Store interface {
	snapshot.BlobStore
	api.Reader
}

// StorageClientFactory creates GCS clients.
type StorageClientFactory interface {
	NewClient(ctx context.Context) (*gcstorage.Client, error)
}

// PubSubClientFactory creates Pub/Sub clients.
type PubSubClientFactory interface {
	NewClient(ctx context.Context, projectID string) (*pubsub.Client, error)
}

// DefaultStorageClientFactory uses Application Default Credentials.
type DefaultStorageClientFactory struct{}

// NewClient creates a GCS client.
func (DefaultStorageClientFactory) NewClient(ctx context.Context) (*gcstorage.Client, error) {
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// DefaultPubSubClientFactory uses Application Default Credentials.
type DefaultPubSubClientFactory struct{}

// NewClient creates a Pub/Sub client for projectID.
func (DefaultPubSubClientFactory) NewClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return client, nil
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	storageFactory StorageClientFactory
	pubsubFactory  PubSubClientFactory
}

// WithStorageClientFactory overrides how GCS clients are created.
func WithStorageClientFactory(f StorageClientFactory) Option {
	return func(o *options) {
		o.storageFactory = f
	}
}

// WithPubSubClientFactory overrides how Pub/Sub clients are created.
func WithPubSubClientFactory(f PubSubClientFactory) Option {
	return func(o *options) {
		o.pubsubFactory = f
	}
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    Store
	notifier snapshot.Notifier
	launcher *browser.Launcher
	clock    *system.Clock
	ids      *uuid.Generator
	closers  []func() error
}

// New creates and initializes an App from cfg. It fails fast if any
// configured service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{
		storageFactory: DefaultStorageClientFactory{},
		pubsubFactory:  DefaultPubSubClientFactory{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}

	if err := a.initStore(ctx, o.storageFactory); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initNotifier(ctx, o.pubsubFactory); err != nil {
		a.Close()
		return nil, err
	}

	launcher, err := browser.NewLauncher(browser.Config{
		ExecPath:                 cfg.Browser.ExecPath,
		Headless:                 cfg.Browser.Headless,
		LaunchTimeout:            cfg.Browser.LaunchTimeout,
		NavigationTimeout:        cfg.Navigation.Timeout,
		DefaultNavigationTimeout: cfg.Navigation.DefaultTimeout,
		WaitUntil:                cfg.Navigation.WaitUntil,
		BlockResources:           cfg.Browser.BlockResources,
		BlockedResourceTypes:     cfg.Browser.BlockedResourceTypes,
		ExtraFlags:               cfg.Browser.ExtraFlags,
	}, logger.Named("browser"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("configure browser: %w", err)
	}
	a.launcher = launcher

	return a, nil
}

func (a *App) initStore(ctx context.Context, factory StorageClientFactory) error {
	switch a.cfg.Output.Backend {
	case "gcs":
		client, err := factory.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Output.GCSBucket, Prefix: a.cfg.Output.GCSPrefix})
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.logger.Info("Using GCS output", zap.String("bucket", a.cfg.Output.GCSBucket))
		a.store = store
	case "local", "":
		dir, err := ResolveOutputDir(a.cfg.Output.Dir)
		if err != nil {
			return err
		}
		store, err := local.New(local.Config{BaseDir: dir})
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.logger.Info("Using local output", zap.String("dir", store.Dir()))
		a.store = store
	default:
		return fmt.Errorf("unknown output backend: %s", a.cfg.Output.Backend)
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context, factory PubSubClientFactory) error {
	ps := a.cfg.Notify.PubSub
	if !ps.Enabled() {
		return nil
	}
	client, err := factory.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	pub := publisher.New(client.Topic(ps.Topic))
	// Registered after the client so it is flushed before the client closes.
	a.closers = append(a.closers, pub.Close)
	a.notifier = notify.New(pub, a.logger.Named("notify"))
	a.logger.Info("Publishing run notifications", zap.String("topic", ps.Topic))
	return nil
}

// ResolveOutputDir returns dir, or the output directory next to the running
// executable when dir is empty.
func ResolveOutputDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "output"), nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the configured record store.
func (a *App) Store() Store {
	return a.store
}

// NewExtractor builds an Extractor for a single run.
func (a *App) NewExtractor() (*snapshot.Extractor, error) {
	opts := []snapshot.Option{snapshot.WithRunID(a.ids.MustNewID())}
	if a.notifier != nil {
		opts = append(opts, snapshot.WithNotifier(a.notifier))
	}
	return snapshot.New(snapshot.Config{
		TargetURL:  a.cfg.Target.URL,
		ObjectPath: a.cfg.Output.File,
		Retry: snapshot.RetryConfig{
			MaxAttempts: a.cfg.Navigation.MaxAttempts,
			Delay:       a.cfg.Navigation.RetryDelay,
		},
		Settle: snapshot.SettleConfig{
			Strategy:     snapshot.SettleStrategy(strings.ToLower(strings.TrimSpace(a.cfg.Settle.Strategy))),
			Delay:        a.cfg.Settle.Delay,
			PollInterval: a.cfg.Settle.PollInterval,
			QuietPeriod:  a.cfg.Settle.QuietPeriod,
		},
	}, a.launcher, a.store, a.clock, a.logger.Named("snapshot"), opts...)
}

// Scrape runs the extractor once.
func (a *App) Scrape(ctx context.Context) error {
	extractor, err := a.NewExtractor()
	if err != nil {
		return fmt.Errorf("build extractor: %w", err)
	}
	return extractor.Run(ctx)
}

// NewServer builds the snapshot host.
func (a *App) NewServer() *api.Server {
	return api.NewServer(a.store, a.cfg.Output.File, a.ids, a.logger.Named("api"))
}

// Handler returns the snapshot host's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.NewServer().Handler()
}

// Close shuts down all services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
