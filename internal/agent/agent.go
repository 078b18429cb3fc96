package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/mwantia/fabric/pkg/container"
	config "github.com/mwantia/gostore/internal/config/server"
	"github.com/mwantia/gostore/pkg/db/store"
	"github.com/mwantia/gostore/pkg/log"
	"github.com/mwantia/gostore/pkg/storage/active"
	"github.com/mwantia/gostore/pkg/storage/pool"
	"github.com/mwantia/gostore/pkg/storage/provider"
	"gorm.io/gorm/logger"
)

type GoStoreAgent struct {
	mutex sync.RWMutex

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	store    *store.SQLiteStore
	registry *provider.Registry
	active   *active.Switch
	opened   bool
}

func NewAgent(cfg *config.BaseServerConfig) *GoStoreAgent {
	return &GoStoreAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("gostore", cfg.Log),
	}
}

// Open connects and migrates the metadata store, assembles the provider
// registry and restores the persisted active backend. Commands that work
// in-process call Open and Close without Serve.
func (gsa *GoStoreAgent) Open(ctx context.Context) error {
	gsa.mutex.Lock()
	defer gsa.mutex.Unlock()

	if gsa.opened {
		return nil
	}

	if err := gsa.setupStore(ctx); err != nil {
		return err
	}

	if err := gsa.setupStorage(ctx); err != nil {
		_ = gsa.store.Close()
		return err
	}

	if err := gsa.setupServices(); err != nil {
		gsa.shutdown(ctx)
		return err
	}

	gsa.opened = true
	return nil
}

func (gsa *GoStoreAgent) setupStore(ctx context.Context) error {
	gsa.log.Debug("Opening metadata store '%s'...", gsa.cfg.Metadata.SQLite.Path)

	level := logger.Silent
	if gsa.cfg.Metadata.SQLite.LogQueries {
		level = logger.Info
	}

	metadata, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:     gsa.cfg.Metadata.SQLite.Path,
		LogLevel: level,
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata store: %w", err)
	}

	if err := metadata.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect metadata store: %w", err)
	}

	if err := metadata.Migrate(ctx); err != nil {
		_ = metadata.Close()
		return fmt.Errorf("failed to migrate metadata store: %w", err)
	}

	gsa.store = metadata
	return nil
}

func (gsa *GoStoreAgent) setupStorage(ctx context.Context) error {
	env := provider.Env{
		Store:  gsa.store,
		Logger: gsa.log.Named("provider"),
		Pool: pool.Config{
			MaxTotal:      gsa.cfg.Pool.MaxTotal,
			MinIdle:       gsa.cfg.Pool.MinIdle,
			MaxIdle:       gsa.cfg.Pool.MaxIdle,
			TestOnBorrow:  gsa.cfg.Pool.TestOnBorrow,
			TestOnReturn:  gsa.cfg.Pool.TestOnReturn,
			BorrowTimeout: gsa.duration("pool.borrow_timeout", gsa.cfg.Pool.BorrowTimeout, 10*time.Second),
		},
		ValidateTimeout: gsa.duration("storage.validate_timeout", gsa.cfg.Storage.ValidateTimeout, 15*time.Second),
		PreviewExpiry:   gsa.duration("storage.preview_expiry", gsa.cfg.Storage.PreviewExpiry, 15*time.Minute),
		TrashPrefix:     gsa.cfg.Storage.TrashPrefix,
	}

	registry, err := provider.NewRegistry(provider.Defaults(env)...)
	if err != nil {
		return fmt.Errorf("failed to assemble provider registry: %w", err)
	}
	gsa.registry = registry

	gsa.active = active.New(gsa.store, registry, gsa.log.Named("switch"))
	if _, _, err := gsa.active.Restore(ctx); err != nil {
		// The agent still starts, a later switch replaces the broken backend.
		gsa.log.Error("Failed to restore active backend: %v", err)
	}

	return nil
}

func (gsa *GoStoreAgent) setupServices() error {
	errs := container.Errors{}

	gsa.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](gsa.sc,
		container.With[log.LoggerService](),
		container.WithInstance(gsa.log)))

	gsa.log.Debug("Registering 'MetadataStore'...")
	errs.Add(container.Register[store.SQLiteStore](gsa.sc,
		container.With[store.MetadataStore](),
		container.WithInstance(gsa.store)))

	gsa.log.Debug("Registering 'Registry'...")
	errs.Add(container.Register[provider.Registry](gsa.sc,
		container.With[active.Registry](),
		container.WithInstance(gsa.registry)))

	gsa.log.Debug("Registering 'Switch'...")
	errs.Add(container.Register[active.Switch](gsa.sc,
		container.WithInstance(gsa.active)))

	return errs.Errors()
}

func (gsa *GoStoreAgent) Store() store.MetadataStore {
	return gsa.store
}

func (gsa *GoStoreAgent) Registry() *provider.Registry {
	return gsa.registry
}

func (gsa *GoStoreAgent) Switch() *active.Switch {
	return gsa.active
}

func (gsa *GoStoreAgent) Logger() log.LoggerService {
	return gsa.log
}

func (gsa *GoStoreAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	if err := gsa.Open(ctx); err != nil {
		return err
	}

	if state, ok := gsa.active.Active(); ok {
		gsa.log.Info("Serving %s backend %d", state.Kind.Key(), state.BackendID)
	} else {
		gsa.log.Warn("No active backend configured, use 'gostore backend switch' to select one")
	}

	<-ctx.Done()

	timeout, err := time.ParseDuration(gsa.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return gsa.Close(shutdown)
}

// Close drains and closes the active backend, the metadata store and the
// service container.
func (gsa *GoStoreAgent) Close(ctx context.Context) error {
	gsa.mutex.Lock()
	defer gsa.mutex.Unlock()

	if !gsa.opened {
		return nil
	}
	gsa.opened = false

	return gsa.shutdown(ctx)
}

func (gsa *GoStoreAgent) shutdown(ctx context.Context) error {
	var errs []error

	if err := gsa.active.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain storage backends: %w", err))
	}

	if err := gsa.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close metadata store: %w", err))
	}

	if err := gsa.sc.Cleanup(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to complete service container cleanup: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown incomplete: %v", errs)
	}
	return nil
}

func (gsa *GoStoreAgent) duration(key, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		gsa.log.Warn("Invalid duration '%s' for '%s', using %s", value, key, fallback)
		return fallback
	}
	return d
}
