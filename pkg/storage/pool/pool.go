// Package pool implements a bounded, blocking object pool for native storage
// clients. Each pool serves exactly one backend configuration; pools for
// different configurations share nothing.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	gerrors "github.com/mwantia/gostore/pkg/errors"
)

// Factory encapsulates the lifecycle of pooled values.
type Factory[T any] interface {
	// Create builds a new value, including any provider authentication.
	Create(ctx context.Context) (T, error)

	// Validate performs a cheap round-trip to check the value still works.
	Validate(ctx context.Context, value T) error

	// Destroy releases native resources held by the value.
	Destroy(value T) error
}

// Stats is a diagnostic snapshot of a pool.
type Stats struct {
	Active    int  `json:"active"`
	Idle      int  `json:"idle"`
	Created   int  `json:"created"`
	Destroyed int  `json:"destroyed"`
	MaxTotal  int  `json:"max_total"`
	Closed    bool `json:"closed"`
}

// Pool hands out Handles of T bounded by Config.MaxTotal.
type Pool[T any] struct {
	cfg     Config
	factory Factory[T]

	slots chan struct{}
	done  chan struct{}

	mu        sync.Mutex
	idle      []*Handle[T]
	active    int
	created   int
	destroyed int
	closed    bool
}

// New creates a pool. No values are created until the first Borrow or Prepare.
func New[T any](factory Factory[T], cfg Config) *Pool[T] {
	cfg = cfg.normalize()

	return &Pool[T]{
		cfg:     cfg,
		factory: factory,
		slots:   make(chan struct{}, cfg.MaxTotal),
		done:    make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (p *Pool[T]) Config() Config {
	return p.cfg
}

// Borrow returns a handle, blocking up to BorrowTimeout while the pool is
// exhausted. With TestOnBorrow, idle handles that fail validation are
// destroyed and replaced transparently.
func (p *Pool[T]) Borrow(ctx context.Context) (*Handle[T], error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	for {
		h := p.popIdle()
		if h == nil {
			break
		}
		if !p.cfg.TestOnBorrow {
			return h, nil
		}
		if err := p.factory.Validate(ctx, h.value); err == nil {
			return h, nil
		}
		p.discard(h)
	}

	value, err := p.factory.Create(ctx)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()

		p.releaseSlot()
		return nil, gerrors.Wrap(gerrors.CodeConnectionError, "failed to create pooled client", err)
	}

	now := time.Now()
	h := &Handle[T]{
		pool:      p,
		value:     value,
		state:     StateBorrowed,
		createdAt: now,
		lastUsed:  now,
	}

	p.mu.Lock()
	p.created++
	p.mu.Unlock()

	return h, nil
}

// Return gives a borrowed handle back to the pool. Returning a handle twice
// or after Invalidate is a no-op.
func (p *Pool[T]) Return(h *Handle[T]) {
	if !p.transition(h, StateBorrowed, stateReturning) {
		return
	}

	if p.cfg.TestOnReturn {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.BorrowTimeout)
		err := p.factory.Validate(ctx, h.value)
		cancel()
		if err != nil {
			p.invalidate(h, stateReturning)
			return
		}
	}

	p.mu.Lock()
	p.active--
	if p.closed || len(p.idle) >= p.cfg.MaxIdle {
		h.state = StateInvalid
		p.mu.Unlock()

		p.releaseSlot()
		p.destroy(h)
		return
	}
	h.state = StateIdle
	h.lastUsed = time.Now()
	p.idle = append(p.idle, h)
	p.mu.Unlock()

	p.releaseSlot()
}

// Invalidate destroys a borrowed handle instead of returning it, e.g. after
// an aborted transfer left the native client in an unknown state.
func (p *Pool[T]) Invalidate(h *Handle[T]) {
	p.invalidate(h, StateBorrowed)
}

// With borrows a handle for the duration of fn. The handle is returned on
// success and invalidated when fn panics or ctx was cancelled meanwhile.
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	h, err := p.Borrow(ctx)
	if err != nil {
		return err
	}

	healthy := false
	defer func() {
		if healthy && ctx.Err() == nil {
			p.Return(h)
		} else {
			p.Invalidate(h)
		}
	}()

	err = fn(h.value)
	healthy = true
	return err
}

// Prepare creates idle values until MinIdle is reached.
func (p *Pool[T]) Prepare(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed || len(p.idle) >= p.cfg.MinIdle || p.active+len(p.idle) >= p.cfg.MaxTotal {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		select {
		case p.slots <- struct{}{}:
		default:
			return nil
		}
		p.mu.Lock()
		p.active++
		p.mu.Unlock()

		value, err := p.factory.Create(ctx)

		p.mu.Lock()
		p.active--
		if err == nil {
			p.created++
			now := time.Now()
			h := &Handle[T]{pool: p, value: value, state: StateIdle, createdAt: now, lastUsed: now}
			if p.closed {
				h.state = StateInvalid
				p.mu.Unlock()
				p.releaseSlot()
				p.destroy(h)
				return gerrors.ErrPoolClosed
			}
			p.idle = append(p.idle, h)
		}
		p.mu.Unlock()
		p.releaseSlot()

		if err != nil {
			return gerrors.Wrap(gerrors.CodeConnectionError, "failed to prepare idle clients", err)
		}
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Active:    p.active,
		Idle:      len(p.idle),
		Created:   p.created,
		Destroyed: p.destroyed,
		MaxTotal:  p.cfg.MaxTotal,
		Closed:    p.closed,
	}
}

// Close destroys all idle values. Borrowed handles are destroyed when they
// come back. Borrow fails with POOL_CLOSED afterwards.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)

	idle := p.idle
	p.idle = nil
	for _, h := range idle {
		h.state = StateInvalid
	}
	p.mu.Unlock()

	var errs []error
	for _, h := range idle {
		if err := p.destroy(h); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to destroy %d pooled clients: %v", len(errs), errs)
	}
	return nil
}

func (p *Pool[T]) acquireSlot(ctx context.Context) error {
	select {
	case <-p.done:
		return gerrors.ErrPoolClosed
	default:
	}

	select {
	case p.slots <- struct{}{}:
	default:
		timer := time.NewTimer(p.cfg.BorrowTimeout)
		defer timer.Stop()

		select {
		case p.slots <- struct{}{}:
		case <-timer.C:
			return gerrors.Newf(gerrors.CodePoolExhausted,
				"no client available within %s (max_total=%d)", p.cfg.BorrowTimeout, p.cfg.MaxTotal)
		case <-ctx.Done():
			return gerrors.Wrap(gerrors.CodePoolExhausted, "borrow cancelled", ctx.Err())
		case <-p.done:
			return gerrors.ErrPoolClosed
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return gerrors.ErrPoolClosed
	}
	p.active++
	p.mu.Unlock()
	return nil
}

func (p *Pool[T]) releaseSlot() {
	<-p.slots
}

// popIdle takes the most recently used idle handle and marks it borrowed.
func (p *Pool[T]) popIdle() *Handle[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.idle)
	if n == 0 {
		return nil
	}
	h := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]

	h.state = StateBorrowed
	h.lastUsed = time.Now()
	return h
}

// discard destroys a handle that failed validation during Borrow. The slot
// stays with the borrower.
func (p *Pool[T]) discard(h *Handle[T]) {
	p.mu.Lock()
	h.state = StateInvalid
	p.mu.Unlock()

	p.destroy(h)
}

func (p *Pool[T]) invalidate(h *Handle[T], from State) {
	if !p.transition(h, from, StateInvalid) {
		return
	}

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	p.releaseSlot()
	p.destroy(h)

	if p.cfg.MinIdle > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.BorrowTimeout)
		_ = p.Prepare(ctx)
		cancel()
	}
}

func (p *Pool[T]) transition(h *Handle[T], from, to State) bool {
	if h == nil || h.pool != p {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h.state != from {
		return false
	}
	h.state = to
	return true
}

func (p *Pool[T]) destroy(h *Handle[T]) error {
	err := p.factory.Destroy(h.value)

	p.mu.Lock()
	h.state = StateDestroyed
	p.destroyed++
	p.mu.Unlock()

	return err
}
