package active

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/pool"
	"github.com/mwantia/gostore/pkg/storage/provider"
)

type fakeService struct {
	kind      kind.Kind
	backendID uint
	closed    atomic.Bool
}

func (f *fakeService) Upload(ctx context.Context, req storage.UploadRequest) (*models.File, error) {
	return nil, nil
}

func (f *fakeService) Download(ctx context.Context, id uint) (io.ReadCloser, error) {
	return nil, nil
}

func (f *fakeService) ListChildren(ctx context.Context, path string) (*storage.Listing, error) {
	return &storage.Listing{Path: path}, nil
}

func (f *fakeService) CreateFolder(ctx context.Context, ownerID, path string) (*models.Folder, error) {
	return nil, nil
}

func (f *fakeService) DeleteFile(ctx context.Context, id uint) error { return nil }

func (f *fakeService) DeleteFolder(ctx context.Context, path string) error { return nil }

func (f *fakeService) Rename(ctx context.Context, id uint, name string) (*models.File, error) {
	return nil, nil
}

func (f *fakeService) Move(ctx context.Context, id uint, path string) (*models.File, error) {
	return nil, nil
}

func (f *fakeService) Preview(ctx context.Context, id uint) (*storage.Preview, error) {
	return nil, nil
}

func (f *fakeService) Kind() kind.Kind   { return f.kind }
func (f *fakeService) BackendID() uint   { return f.backendID }
func (f *fakeService) Stats() pool.Stats { return pool.Stats{} }

func (f *fakeService) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeValidator struct {
	result bool
	calls  *atomic.Int32
}

func (v *fakeValidator) Validate(ctx context.Context, cfg *models.BackendConfig) bool {
	v.calls.Add(1)
	return v.result
}

// fakeRegistry records every service it materializes.
type fakeRegistry struct {
	valid       bool
	validations atomic.Int32

	mu       sync.Mutex
	services []*fakeService
}

func newFakeRegistry(valid bool) *fakeRegistry {
	return &fakeRegistry{valid: valid}
}

func (r *fakeRegistry) Validator(k kind.Kind) (provider.Validator, error) {
	return &fakeValidator{result: r.valid, calls: &r.validations}, nil
}

func (r *fakeRegistry) ServiceFactory(k kind.Kind) (provider.ServiceFactory, error) {
	return fakeFactory{registry: r, kind: k}, nil
}

func (r *fakeRegistry) servicesFor(id uint) []*fakeService {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*fakeService
	for _, svc := range r.services {
		if svc.backendID == id {
			out = append(out, svc)
		}
	}
	return out
}

func (r *fakeRegistry) all() []*fakeService {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeService(nil), r.services...)
}

type fakeFactory struct {
	registry *fakeRegistry
	kind     kind.Kind
}

func (f fakeFactory) NewService(ctx context.Context, backendID uint) (storage.Service, error) {
	svc := &fakeService{kind: f.kind, backendID: backendID}

	f.registry.mu.Lock()
	f.registry.services = append(f.registry.services, svc)
	f.registry.mu.Unlock()
	return svc, nil
}
