package active

import (
	"sync"

	"github.com/mwantia/gostore/pkg/storage"
)

// backend pairs a service with its lease counter.
type backend struct {
	svc   storage.Service
	state State

	mu      sync.Mutex
	refs    int
	retired bool
	drained chan struct{}
}

func newBackend(svc storage.Service, state State) *backend {
	return &backend{
		svc:     svc,
		state:   state,
		drained: make(chan struct{}),
	}
}

func (b *backend) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.retired {
		return false
	}
	b.refs++
	return true
}

func (b *backend) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refs--
	if b.retired && b.refs == 0 {
		close(b.drained)
	}
}

// retire refuses further leases. The returned channel is closed once the
// last lease is released.
func (b *backend) retire() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.retired {
		b.retired = true
		if b.refs == 0 {
			close(b.drained)
		}
	}
	return b.drained
}

// Lease pins one storage service. Release is idempotent.
type Lease struct {
	backend *backend
	once    sync.Once
}

func (l *Lease) Service() storage.Service {
	return l.backend.svc
}

func (l *Lease) State() State {
	return l.backend.state
}

func (l *Lease) Release() {
	l.once.Do(l.backend.release)
}
