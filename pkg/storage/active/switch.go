// Package active holds the storage service of the currently active backend
// and replaces it at runtime without interrupting in-flight operations.
//
// Readers take a Lease on the current backend without locking. A switch
// validates and materializes the new backend, persists the choice, and only
// then swaps the pointer. The previous backend refuses new leases and its
// pool is closed once the last outstanding lease is released.
package active

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/db/store"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/log"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/provider"
)

// Registry is the part of provider.Registry the switch depends on.
type Registry interface {
	Validator(k kind.Kind) (provider.Validator, error)
	ServiceFactory(k kind.Kind) (provider.ServiceFactory, error)
}

// State is the committed (kind, backend id) pair.
type State struct {
	Kind      kind.Kind
	BackendID uint
	Since     time.Time
}

type Switch struct {
	store    store.MetadataStore
	registry Registry
	log      log.LoggerService

	current atomic.Pointer[backend]

	// mu serializes SwitchTo, Restore and Close.
	mu     sync.Mutex
	closed bool
	drains sync.WaitGroup
}

func New(metadata store.MetadataStore, registry Registry, logger log.LoggerService) *Switch {
	return &Switch{
		store:    metadata,
		registry: registry,
		log:      logger,
	}
}

// Active returns the committed state, or false before the first switch.
func (s *Switch) Active() (State, bool) {
	b := s.current.Load()
	if b == nil {
		return State{}, false
	}
	return b.state, true
}

// Acquire leases the current storage service. The lease must be released;
// until then the service stays open even if a switch happens meanwhile.
func (s *Switch) Acquire(ctx context.Context) (*Lease, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b := s.current.Load()
		if b == nil {
			return nil, gerrors.ErrNoBackendConfigured
		}
		if b.acquire() {
			return &Lease{backend: b}, nil
		}
		// Retired between load and acquire, the pointer already moved on.
	}
}

// Do runs fn with a leased service and releases the lease afterwards, also
// when fn panics.
func (s *Switch) Do(ctx context.Context, fn func(svc storage.Service) error) error {
	lease, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	return fn(lease.Service())
}

// SwitchTo makes the configuration (k, backendID) the active backend. On
// any error the previous backend stays active and untouched.
func (s *Switch) SwitchTo(ctx context.Context, k kind.Kind, backendID uint) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return State{}, errors.New("switch is closed")
	}

	cfg, err := s.store.GetBackendConfig(ctx, backendID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return State{}, gerrors.Newf(gerrors.CodeConfigNotFound, "backend configuration %d not found", backendID)
		}
		return State{}, gerrors.Wrapf(err, gerrors.CodeMetadataError, "failed to load backend configuration %d", backendID)
	}
	if cfg.Kind != k {
		return State{}, gerrors.Newf(gerrors.CodeConfigNotFound, "backend configuration %d is %s, not %s", backendID, cfg.Kind, k)
	}

	validator, err := s.registry.Validator(k)
	if err != nil {
		return State{}, err
	}
	if !validator.Validate(ctx, cfg) {
		return State{}, gerrors.Newf(gerrors.CodeConnectionValidationFailed,
			"backend configuration %d (%s) failed connection validation", backendID, k).
			WithDetails(map[string]any{"kind": k.Key(), "backend_id": backendID})
	}
	if err := s.store.MarkBackendConfigValidated(ctx, backendID); err != nil {
		s.log.Warn("Failed to record validation of backend %d: %v", backendID, err)
	}

	next, err := s.materialize(ctx, k, backendID)
	if err != nil {
		return State{}, err
	}

	record := &models.ActiveBackend{Kind: k, BackendID: backendID}
	if err := s.store.ReplaceActiveBackend(ctx, record); err != nil {
		s.closeService(next.svc, k, backendID)
		return State{}, gerrors.Wrapf(err, gerrors.CodeSwitchPersistenceFailed,
			"failed to persist %s backend %d as active", k, backendID)
	}

	previous := s.current.Swap(next)
	s.retire(previous)

	if previous != nil {
		s.log.Info("Switched active backend from %s/%d to %s/%d",
			previous.state.Kind.Key(), previous.state.BackendID, k.Key(), backendID)
	} else {
		s.log.Info("Activated %s backend %d", k.Key(), backendID)
	}
	return next.state, nil
}

// Restore re-materializes the persisted active backend at startup without
// probing it. A missing record leaves the switch without backend.
func (s *Switch) Restore(ctx context.Context) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.store.GetActiveBackend(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info("No active backend configured")
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, gerrors.Wrap(gerrors.CodeMetadataError, "failed to load active backend record", err)
	}

	next, err := s.materialize(ctx, record.Kind, record.BackendID)
	if err != nil {
		return State{}, false, err
	}

	previous := s.current.Swap(next)
	s.retire(previous)

	s.log.Info("Restored active %s backend %d", record.Kind.Key(), record.BackendID)
	return next.state, true, nil
}

// Close retires the active backend and waits until every retired backend
// has drained and closed its pool, or ctx expires.
func (s *Switch) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.retire(s.current.Swap(nil))
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.drains.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Switch) materialize(ctx context.Context, k kind.Kind, backendID uint) (*backend, error) {
	factory, err := s.registry.ServiceFactory(k)
	if err != nil {
		return nil, err
	}

	svc, err := factory.NewService(ctx, backendID)
	if err != nil {
		return nil, err
	}

	return newBackend(svc, State{Kind: k, BackendID: backendID, Since: time.Now()}), nil
}

// retire stops new leases on b and closes its service in the background
// once the outstanding leases are released.
func (s *Switch) retire(b *backend) {
	if b == nil {
		return
	}

	drained := b.retire()

	s.drains.Add(1)
	go func() {
		defer s.drains.Done()

		<-drained
		s.closeService(b.svc, b.state.Kind, b.state.BackendID)
		s.log.Debug("Closed retired %s backend %d", b.state.Kind.Key(), b.state.BackendID)
	}()
}

func (s *Switch) closeService(svc storage.Service, k kind.Kind, backendID uint) {
	if err := svc.Close(); err != nil {
		s.log.Warn("Failed to close %s backend %d: %v", k.Key(), backendID, err)
	}
}
