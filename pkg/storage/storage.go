// Package storage defines the unified contract every backend exposes to
// callers, independent of the provider that holds the bytes.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/pool"
)

// Service is implemented once for all provider kinds. Provider specifics
// live in the pooled driver clients.
type Service interface {
	Upload(ctx context.Context, req UploadRequest) (*models.File, error)

	// Download streams the content of a file. The returned reader holds a
	// pooled client until it is closed.
	Download(ctx context.Context, id uint) (io.ReadCloser, error)

	ListChildren(ctx context.Context, path string) (*Listing, error)

	CreateFolder(ctx context.Context, ownerID, path string) (*models.Folder, error)

	DeleteFile(ctx context.Context, id uint) error

	// DeleteFolder removes the folder with all descendant folders and files.
	DeleteFolder(ctx context.Context, path string) error

	Rename(ctx context.Context, id uint, name string) (*models.File, error)

	Move(ctx context.Context, id uint, path string) (*models.File, error)

	Preview(ctx context.Context, id uint) (*Preview, error)

	Kind() kind.Kind

	BackendID() uint

	Stats() pool.Stats

	Close() error
}

// UploadRequest describes a file to store. Size must be known upfront, it
// selects the transfer strategy.
type UploadRequest struct {
	OwnerID     string
	Folder      string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Listing holds the direct children of a logical folder.
type Listing struct {
	Path    string
	Folders []models.Folder
	Files   []models.File
}

// Preview is either a time-limited URL (remote kinds) or an open stream
// (local disk). Exactly one of URL and Body is set.
type Preview struct {
	URL     string
	Expires time.Time
	Body    io.ReadCloser
}
