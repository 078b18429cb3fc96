// Package provider maps every provider kind to the code that validates its
// configurations and materializes storage services for them.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/db/store"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/log"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/driver/cdk"
	"github.com/mwantia/gostore/pkg/storage/driver/local"
	"github.com/mwantia/gostore/pkg/storage/driver/s3"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/pool"
	"github.com/mwantia/gostore/pkg/storage/service"
)

// Validator checks that a configuration can reach its backend. It never
// writes and never fails loudly: any problem yields false.
type Validator interface {
	Validate(ctx context.Context, cfg *models.BackendConfig) bool
}

// ServiceFactory materializes a ready storage service, with a fresh client
// pool, for a stored configuration.
type ServiceFactory interface {
	NewService(ctx context.Context, backendID uint) (storage.Service, error)
}

// Provider bundles the validator and service factory of one kind.
type Provider struct {
	Kind      kind.Kind
	Validator Validator
	Factory   ServiceFactory
}

// Env carries the shared dependencies of the built-in providers.
type Env struct {
	Store  store.MetadataStore
	Logger log.LoggerService
	Pool   pool.Config

	ValidateTimeout time.Duration
	PreviewExpiry   time.Duration
	TrashPrefix     string
}

// Defaults lists the built-in providers explicitly, one per kind.
func Defaults(env Env) []Provider {
	return []Provider{
		New(kind.AmazonS3, env, s3.Opener),
		New(kind.GoogleCloud, env, cdk.Opener),
		New(kind.AzureBlob, env, cdk.Opener),
		New(kind.MinIO, env, s3.Opener),
		New(kind.LocalDisk, env, local.Opener),
	}
}

// New assembles a provider for k whose clients are opened by open.
func New(k kind.Kind, env Env, open driver.Opener) Provider {
	logger := env.Logger.Named(k.Key())

	return Provider{
		Kind: k,
		Validator: &probeValidator{
			kind:    k,
			open:    open,
			timeout: env.ValidateTimeout,
			log:     logger,
		},
		Factory: &serviceFactory{
			kind: k,
			open: open,
			env:  env,
			log:  logger,
		},
	}
}

type serviceFactory struct {
	kind kind.Kind
	open driver.Opener
	env  Env
	log  log.LoggerService
}

func (f *serviceFactory) NewService(ctx context.Context, backendID uint) (storage.Service, error) {
	cfg, err := f.env.Store.GetBackendConfig(ctx, backendID)
	if err != nil {
		return nil, gerrors.Wrapf(err, gerrors.CodeConfigNotFound, "backend configuration %d not found", backendID)
	}
	if cfg.Kind != f.kind {
		return nil, gerrors.Newf(gerrors.CodeConfigNotFound, "backend configuration %d is %s, not %s", backendID, cfg.Kind, f.kind)
	}

	p := pool.New[driver.Client](&driver.Factory{Config: cfg, Open: f.open}, f.env.Pool)
	svc := service.New(service.Options{
		Kind:          f.kind,
		BackendID:     cfg.ID,
		Store:         f.env.Store,
		Pool:          p,
		Logger:        f.log.Named(fmt.Sprintf("%d", cfg.ID)),
		TrashPrefix:   f.env.TrashPrefix,
		PreviewExpiry: f.env.PreviewExpiry,
	})

	if err := svc.Prepare(ctx); err != nil {
		f.log.Warn("Failed to warm up client pool of backend %d: %v", cfg.ID, err)
	}
	return svc, nil
}
