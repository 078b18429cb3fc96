// Package driver defines the native client held by pooled handles. Each
// sub-package adapts one vendor SDK to Client.
package driver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/transfer"
)

// ErrObjectNotFound is returned when a key does not exist in the backend.
var ErrObjectNotFound = errors.New("object not found")

// Client is a connected, authenticated handle to one backend.
type Client interface {
	// Put writes size bytes from r to key using the given strategy. Chunked
	// puts transfer the body in parts of the kind's part size.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, strategy transfer.Strategy) error

	// Get opens key for reading. Chunked gets issue ranged reads.
	Get(ctx context.Context, key string, size int64, strategy transfer.Strategy) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error

	Copy(ctx context.Context, dst, src string) error

	Exists(ctx context.Context, key string) (bool, error)

	// MkdirAll creates a directory (local) or a folder marker (remote).
	MkdirAll(ctx context.Context, key string) error

	// Rmdir removes what MkdirAll created. Missing entries are ignored.
	Rmdir(ctx context.Context, key string) error

	Preview(ctx context.Context, key string, expiry time.Duration) (*storage.Preview, error)

	// Ping performs a cheap round-trip without writing anything.
	Ping(ctx context.Context) error

	Close() error
}

// Opener connects a new Client for a stored configuration.
type Opener func(ctx context.Context, cfg *models.BackendConfig) (Client, error)

// Factory adapts an Opener to the pool lifecycle of one configuration.
type Factory struct {
	Config *models.BackendConfig
	Open   Opener
}

func (f *Factory) Create(ctx context.Context) (Client, error) {
	return f.Open(ctx, f.Config)
}

func (f *Factory) Validate(ctx context.Context, c Client) error {
	return c.Ping(ctx)
}

func (f *Factory) Destroy(c Client) error {
	return c.Close()
}

// MarkerKey is the zero-byte object representing a folder on object stores.
func MarkerKey(key string) string {
	if key == "" || key[len(key)-1] == '/' {
		return key
	}
	return key + "/"
}
