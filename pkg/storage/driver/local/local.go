// Package local stores objects as files below a root directory.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/transfer"
)

// Client implements driver.Client on the local filesystem. Writes go to a
// temp file that is renamed into place once complete.
type Client struct {
	root string
}

// Open creates a client for settings. The root directory is not created
// here, Ping reports whether it exists.
func Open(ctx context.Context, settings *models.LocalSettings) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(settings.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root %q: %w", settings.Root, err)
	}
	return &Client{root: root}, nil
}

// Opener decodes a stored configuration and opens a client for it.
func Opener(ctx context.Context, cfg *models.BackendConfig) (driver.Client, error) {
	settings, err := cfg.Decode()
	if err != nil {
		return nil, err
	}
	local, ok := settings.(*models.LocalSettings)
	if !ok {
		return nil, fmt.Errorf("backend %d is not a local disk configuration", cfg.ID)
	}
	return Open(ctx, local)
}

func (c *Client) Root() string {
	return c.root
}

// abs resolves a key below root and refuses keys that escape it.
func (c *Client) abs(key string) (string, error) {
	joined := filepath.Join(c.root, filepath.Clean(filepath.FromSlash(key)))
	rel, err := filepath.Rel(c.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return joined, nil
}

func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, strategy transfer.Strategy) error {
	dest, err := c.abs(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", filepath.Dir(dest), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	var n int64
	var werr error
	switch strategy {
	case transfer.Chunked:
		n, werr = copyChunked(ctx, tmp, r, transfer.PartSize(kind.LocalDisk))
	default:
		n, werr = io.Copy(tmp, r)
	}
	if werr == nil && n != size {
		werr = fmt.Errorf("wrote %d bytes, expected %d", n, size)
	}
	if werr == nil {
		werr = tmp.Sync()
	}
	cerr := tmp.Close()

	if werr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", key, werr)
	}
	if cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to flush %q: %w", key, cerr)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename into %q: %w", dest, err)
	}
	return nil
}

// copyChunked copies in parts of partSize and checks ctx between parts.
func copyChunked(ctx context.Context, w io.Writer, r io.Reader, partSize int64) (int64, error) {
	bw := bufio.NewWriterSize(w, int(partSize))
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := io.CopyN(bw, r, partSize)
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

func (c *Client) Get(ctx context.Context, key string, size int64, strategy transfer.Strategy) (io.ReadCloser, error) {
	abs, err := c.abs(key)
	if err != nil {
		return nil, err
	}

	if strategy == transfer.Chunked {
		return driver.NewChunkedReader(ctx, size, transfer.PartSize(kind.LocalDisk), func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
			return c.openRange(abs, offset, length)
		}), nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, translate(err)
	}
	return f, nil
}

func (c *Client) openRange(abs string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, translate(err)
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, offset, length),
		file:          f,
	}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.file.Close()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	abs, err := c.abs(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Client) Copy(ctx context.Context, dst, src string) error {
	absSrc, err := c.abs(src)
	if err != nil {
		return err
	}

	f, err := os.Open(absSrc)
	if err != nil {
		return translate(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return c.Put(ctx, dst, f, info.Size(), "", transfer.Choose(kind.LocalDisk, info.Size()))
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	abs, err := c.abs(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (c *Client) MkdirAll(ctx context.Context, key string) error {
	abs, err := c.abs(key)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o750)
}

// Rmdir removes an empty directory. Non-empty directories are left alone.
func (c *Client) Rmdir(ctx context.Context, key string) error {
	abs, err := c.abs(key)
	if err != nil {
		return err
	}
	if abs == c.root {
		return nil
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Preview opens the file, local disk has no URL to hand out.
func (c *Client) Preview(ctx context.Context, key string, expiry time.Duration) (*storage.Preview, error) {
	abs, err := c.abs(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, translate(err)
	}
	return &storage.Preview{Body: f}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("storage root %q is not accessible: %w", c.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %q is not a directory", c.root)
	}
	return nil
}

func (c *Client) Close() error {
	return nil
}

func translate(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", driver.ErrObjectNotFound, err)
	}
	return err
}
