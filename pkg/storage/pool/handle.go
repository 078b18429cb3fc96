package pool

import "time"

// State is the lifecycle state of a pooled handle.
type State int

const (
	StateCreated State = iota
	StateIdle
	StateBorrowed
	StateInvalid
	StateDestroyed

	// stateReturning guards a handle while TestOnReturn validation runs.
	stateReturning
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateIdle:
		return "idle"
	case StateBorrowed:
		return "borrowed"
	case StateInvalid, stateReturning:
		return "invalid"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Handle wraps one pooled value. It is owned by its pool; callers only hold
// it between Borrow and Return/Invalidate.
type Handle[T any] struct {
	pool  *Pool[T]
	value T
	state State

	createdAt time.Time
	lastUsed  time.Time
}

// Value returns the native value.
func (h *Handle[T]) Value() T {
	return h.value
}

// State returns the current lifecycle state.
func (h *Handle[T]) State() State {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	return h.state
}

// CreatedAt returns when the underlying value was created.
func (h *Handle[T]) CreatedAt() time.Time {
	return h.createdAt
}

// Release returns the handle to its pool.
func (h *Handle[T]) Release() {
	h.pool.Return(h)
}

// Invalidate destroys the handle instead of returning it.
func (h *Handle[T]) Invalidate() {
	h.pool.Invalidate(h)
}
