package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	config "github.com/mwantia/gostore/internal/config/server"
	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/db/store"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/log"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/driver/local"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/pool"
	"github.com/mwantia/gostore/pkg/storage/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faults injects driver failures shared by every pooled client.
type faults struct {
	mu     sync.Mutex
	put    error
	copy   error
	delete func(key string) error

	// beforePut runs ahead of every write, outside any transaction.
	beforePut func()
}

func (f *faults) get() (error, error, func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put, f.copy, f.delete
}

type faultyClient struct {
	driver.Client
	faults *faults
}

func (c *faultyClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, strategy transfer.Strategy) error {
	if err, _, _ := c.faults.get(); err != nil {
		return err
	}
	c.faults.mu.Lock()
	hook := c.faults.beforePut
	c.faults.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.Client.Put(ctx, key, r, size, contentType, strategy)
}

func (c *faultyClient) Copy(ctx context.Context, dst, src string) error {
	if _, err, _ := c.faults.get(); err != nil {
		return err
	}
	return c.Client.Copy(ctx, dst, src)
}

func (c *faultyClient) Delete(ctx context.Context, key string) error {
	if _, _, fn := c.faults.get(); fn != nil {
		if err := fn(key); err != nil {
			return err
		}
	}
	return c.Client.Delete(ctx, key)
}

// faultyStore fails selected writes, also inside transactions.
type faultyStore struct {
	store.MetadataStore
	insertFile error
	updateFile error
	deleteFile error

	// beforeTx runs before a transaction takes the database connection.
	beforeTx func()
}

func (s *faultyStore) Transaction(ctx context.Context, fn func(tx store.MetadataStore) error) error {
	if s.beforeTx != nil {
		s.beforeTx()
	}
	return s.MetadataStore.Transaction(ctx, func(tx store.MetadataStore) error {
		return fn(&faultyStore{MetadataStore: tx, insertFile: s.insertFile, updateFile: s.updateFile, deleteFile: s.deleteFile})
	})
}

func (s *faultyStore) InsertFile(ctx context.Context, file *models.File) error {
	if s.insertFile != nil {
		return s.insertFile
	}
	return s.MetadataStore.InsertFile(ctx, file)
}

func (s *faultyStore) UpdateFile(ctx context.Context, file *models.File) error {
	if s.updateFile != nil {
		return s.updateFile
	}
	return s.MetadataStore.UpdateFile(ctx, file)
}

func (s *faultyStore) DeleteFileByID(ctx context.Context, id uint) error {
	if s.deleteFile != nil {
		return s.deleteFile
	}
	return s.MetadataStore.DeleteFileByID(ctx, id)
}

type harness struct {
	svc    *Service
	store  *faultyStore
	faults *faults
	root   string
	logs   *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "metadata.db")})
	require.NoError(t, err)
	require.NoError(t, db.Connect(ctx))
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { _ = db.Close() })

	root := t.TempDir()
	cfg, err := models.NewBackendConfig("local", &models.LocalSettings{Root: root})
	require.NoError(t, err)
	require.NoError(t, db.CreateBackendConfig(ctx, cfg))

	f := &faults{}
	factory := &driver.Factory{
		Config: cfg,
		Open: func(ctx context.Context, cfg *models.BackendConfig) (driver.Client, error) {
			c, err := local.Opener(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return &faultyClient{Client: c, faults: f}, nil
		},
	}

	logs := &bytes.Buffer{}
	fs := &faultyStore{MetadataStore: db}
	svc := New(Options{
		Kind:      kind.LocalDisk,
		BackendID: cfg.ID,
		Store:     fs,
		Pool:      pool.New[driver.Client](factory, pool.Config{MaxTotal: 2}),
		Logger:    log.NewWriterLoggerService("test", config.LogServerConfig{Level: "debug"}, logs),
	})
	t.Cleanup(func() { _ = svc.Close() })

	return &harness{svc: svc, store: fs, faults: f, root: root, logs: logs}
}

func (h *harness) upload(t *testing.T, folder, name, content string) *models.File {
	t.Helper()

	file, err := h.svc.Upload(context.Background(), storage.UploadRequest{
		OwnerID: "alice",
		Folder:  folder,
		Name:    name,
		Size:    int64(len(content)),
		Body:    strings.NewReader(content),
	})
	require.NoError(t, err)
	return file
}

func (h *harness) read(t *testing.T, id uint) string {
	t.Helper()

	rc, err := h.svc.Download(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func (h *harness) onDisk(key string) bool {
	_, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(key)))
	return err == nil
}

func TestUploadDownload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/docs")
	require.NoError(t, err)

	file := h.upload(t, "docs/", "notes.txt", "hello")
	assert.Equal(t, "/docs", file.Path)
	assert.Equal(t, "alice/docs/notes.txt", file.StoragePath)
	assert.Equal(t, kind.LocalDisk, file.Kind)
	assert.True(t, strings.HasPrefix(file.Type, "text/plain"))
	assert.True(t, h.onDisk("alice/docs/notes.txt"))

	assert.Equal(t, "hello", h.read(t, file.ID))

	stats := h.svc.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Idle)
}

func TestUploadLargeFileUsesChunkedTransfer(t *testing.T) {
	h := newHarness(t)

	size := transfer.ThresholdLocalDisk + 1
	require.Equal(t, transfer.Chunked, transfer.Choose(kind.LocalDisk, size))

	data := bytes.Repeat([]byte("gostore!"), int(size/8)+1)[:size]
	file, err := h.svc.Upload(context.Background(), storage.UploadRequest{
		OwnerID: "alice",
		Folder:  "/",
		Name:    "big.bin",
		Size:    size,
		Body:    bytes.NewReader(data),
	})
	require.NoError(t, err)

	got := h.read(t, file.ID)
	assert.True(t, bytes.Equal(data, []byte(got)))
}

func TestUploadIntoMissingFolder(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Upload(context.Background(), storage.UploadRequest{
		OwnerID: "alice", Folder: "/missing", Name: "a.txt", Size: 1, Body: strings.NewReader("x"),
	})
	assert.True(t, errors.Is(err, gerrors.ErrNotFound))
	assert.False(t, h.onDisk("alice/missing/a.txt"))
}

func TestUploadConflictKeepsOriginal(t *testing.T) {
	h := newHarness(t)
	original := h.upload(t, "/", "a.txt", "first")

	_, err := h.svc.Upload(context.Background(), storage.UploadRequest{
		OwnerID: "alice", Folder: "/", Name: "a.txt", Size: 6, Body: strings.NewReader("second"),
	})
	assert.True(t, errors.Is(err, gerrors.ErrAlreadyExists))
	assert.Equal(t, "first", h.read(t, original.ID))
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, storage.UploadRequest{OwnerID: "alice", Name: "../x", Size: 1, Body: strings.NewReader("x")})
	assert.True(t, errors.Is(err, gerrors.ErrInvalidArgument))

	_, err = h.svc.Upload(ctx, storage.UploadRequest{OwnerID: "", Name: "x", Size: 1, Body: strings.NewReader("x")})
	assert.True(t, errors.Is(err, gerrors.ErrInvalidArgument))

	_, err = h.svc.Upload(ctx, storage.UploadRequest{OwnerID: "alice", Name: "x", Size: 1})
	assert.True(t, errors.Is(err, gerrors.ErrInvalidArgument))
}

func TestUploadTransferFailureWritesNoMetadata(t *testing.T) {
	h := newHarness(t)
	h.faults.put = fmt.Errorf("connection reset")

	_, err := h.svc.Upload(context.Background(), storage.UploadRequest{
		OwnerID: "alice", Folder: "/", Name: "a.txt", Size: 1, Body: strings.NewReader("x"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gerrors.ErrTransferFailure))
	assert.True(t, gerrors.IsRetryable(err))

	listing, err := h.svc.ListChildren(context.Background(), "/")
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
}

func TestUploadMetadataFailureCompensates(t *testing.T) {
	h := newHarness(t)
	h.store.insertFile = fmt.Errorf("disk full")

	_, err := h.svc.Upload(context.Background(), storage.UploadRequest{
		OwnerID: "alice", Folder: "/", Name: "a.txt", Size: 1, Body: strings.NewReader("x"),
	})
	assert.True(t, errors.Is(err, gerrors.ErrMetadataError))
	assert.False(t, h.onDisk("alice/a.txt"))

	entries, err := os.ReadDir(filepath.Join(h.root, DefaultTrashPrefix))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadMetadataAndCleanupFailure(t *testing.T) {
	h := newHarness(t)
	h.store.insertFile = fmt.Errorf("disk full")
	h.faults.delete = func(key string) error { return fmt.Errorf("permission denied") }

	_, err := h.svc.Upload(context.Background(), storage.UploadRequest{
		OwnerID: "alice", Folder: "/", Name: "a.txt", Size: 1, Body: strings.NewReader("x"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gerrors.ErrMetadataError))
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "permission denied")
	assert.Contains(t, h.logs.String(), "staged for 'alice/a.txt'")
	assert.False(t, h.onDisk("alice/a.txt"))
}

func TestDownloadOtherBackendIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	foreign := &models.File{OwnerID: "alice", Name: "a.txt", Path: "/", StoragePath: "alice/a.txt", Kind: kind.AmazonS3, BackendID: h.svc.BackendID()}
	require.NoError(t, h.store.InsertFile(ctx, foreign))

	_, err := h.svc.Download(ctx, foreign.ID)
	assert.True(t, errors.Is(err, gerrors.ErrNotFound))

	_, err = h.svc.Download(ctx, 4242)
	assert.True(t, errors.Is(err, gerrors.ErrNotFound))
}

func TestListChildren(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/b")
	require.NoError(t, err)
	_, err = h.svc.CreateFolder(ctx, "alice", "/a")
	require.NoError(t, err)
	h.upload(t, "/", "z.txt", "z")
	h.upload(t, "/", "y.txt", "y")
	h.upload(t, "/a", "nested.txt", "n")

	listing, err := h.svc.ListChildren(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "/", listing.Path)
	require.Len(t, listing.Folders, 2)
	assert.Equal(t, "a", listing.Folders[0].Name)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "y.txt", listing.Files[0].Name)

	empty, err := h.svc.ListChildren(ctx, "/unknown")
	require.NoError(t, err)
	assert.Empty(t, empty.Files)
	assert.Empty(t, empty.Folders)
}

func TestCreateFolder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/docs/2024")
	assert.True(t, errors.Is(err, gerrors.ErrNotFound))

	folder, err := h.svc.CreateFolder(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs", folder.Path)
	assert.Equal(t, "/", folder.ParentPath)
	assert.True(t, h.onDisk("alice/docs"))

	_, err = h.svc.CreateFolder(ctx, "alice", "/docs/")
	assert.True(t, errors.Is(err, gerrors.ErrAlreadyExists))

	_, err = h.svc.CreateFolder(ctx, "alice", "/")
	assert.True(t, errors.Is(err, gerrors.ErrAlreadyExists))
}

func TestDeleteFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.upload(t, "/", "a.txt", "x")

	require.NoError(t, h.svc.DeleteFile(ctx, file.ID))
	assert.False(t, h.onDisk("alice/a.txt"))

	entries, err := os.ReadDir(filepath.Join(h.root, DefaultTrashPrefix))
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.True(t, errors.Is(h.svc.DeleteFile(ctx, file.ID), gerrors.ErrNotFound))
}

func TestDeleteFileRestoresOnMetadataFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.upload(t, "/", "a.txt", "keep me")

	h.store.deleteFile = fmt.Errorf("database is locked")
	err := h.svc.DeleteFile(ctx, file.ID)
	assert.True(t, errors.Is(err, gerrors.ErrMetadataError))

	h.store.deleteFile = nil
	assert.Equal(t, "keep me", h.read(t, file.ID))
}

func TestDeleteFileStagingFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.upload(t, "/", "a.txt", "x")

	h.faults.copy = fmt.Errorf("quota exceeded")
	err := h.svc.DeleteFile(ctx, file.ID)
	assert.True(t, errors.Is(err, gerrors.ErrTransferFailure))

	h.faults.copy = nil
	assert.Equal(t, "x", h.read(t, file.ID))
}

func TestDeleteFolderRecursive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/docs")
	require.NoError(t, err)
	_, err = h.svc.CreateFolder(ctx, "alice", "/docs/2024")
	require.NoError(t, err)
	_, err = h.svc.CreateFolder(ctx, "alice", "/docs-old")
	require.NoError(t, err)

	h.upload(t, "/docs", "a.txt", "a")
	h.upload(t, "/docs/2024", "b.txt", "b")
	kept := h.upload(t, "/docs-old", "c.txt", "c")

	require.NoError(t, h.svc.DeleteFolder(ctx, "/docs"))

	assert.False(t, h.onDisk("alice/docs"))
	assert.True(t, h.onDisk("alice/docs-old/c.txt"))
	assert.Equal(t, "c", h.read(t, kept.ID))

	listing, err := h.svc.ListChildren(ctx, "/")
	require.NoError(t, err)
	require.Len(t, listing.Folders, 1)
	assert.Equal(t, "docs-old", listing.Folders[0].Name)

	assert.True(t, errors.Is(h.svc.DeleteFolder(ctx, "/docs"), gerrors.ErrNotFound))
	assert.True(t, errors.Is(h.svc.DeleteFolder(ctx, "/"), gerrors.ErrInvalidArgument))
}

func TestDeleteFolderRestoresOnMetadataFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/docs")
	require.NoError(t, err)
	file := h.upload(t, "/docs", "a.txt", "a")

	h.store.deleteFile = fmt.Errorf("database is locked")
	assert.True(t, errors.Is(h.svc.DeleteFolder(ctx, "/docs"), gerrors.ErrMetadataError))

	h.store.deleteFile = nil
	assert.Equal(t, "a", h.read(t, file.ID))
}

func TestRenameAndMove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/archive")
	require.NoError(t, err)
	file := h.upload(t, "/", "a.txt", "content")
	h.upload(t, "/", "taken.txt", "t")

	_, err = h.svc.Rename(ctx, file.ID, "taken.txt")
	assert.True(t, errors.Is(err, gerrors.ErrAlreadyExists))

	renamed, err := h.svc.Rename(ctx, file.ID, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice/b.txt", renamed.StoragePath)
	assert.False(t, h.onDisk("alice/a.txt"))
	assert.Equal(t, "content", h.read(t, file.ID))

	_, err = h.svc.Move(ctx, file.ID, "/missing")
	assert.True(t, errors.Is(err, gerrors.ErrNotFound))

	moved, err := h.svc.Move(ctx, file.ID, "archive")
	require.NoError(t, err)
	assert.Equal(t, "/archive", moved.Path)
	assert.Equal(t, "alice/archive/b.txt", moved.StoragePath)
	assert.False(t, h.onDisk("alice/b.txt"))
	assert.Equal(t, "content", h.read(t, file.ID))

	same, err := h.svc.Move(ctx, file.ID, "/archive")
	require.NoError(t, err)
	assert.Equal(t, moved.StoragePath, same.StoragePath)
}

func TestRenameMetadataFailureKeepsOriginal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.upload(t, "/", "a.txt", "content")

	h.store.updateFile = fmt.Errorf("constraint failed")
	_, err := h.svc.Rename(ctx, file.ID, "b.txt")
	assert.True(t, errors.Is(err, gerrors.ErrMetadataError))

	assert.True(t, h.onDisk("alice/a.txt"))
	assert.False(t, h.onDisk("alice/b.txt"))
}

func TestRenameOrphanIsLogged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.upload(t, "/", "a.txt", "content")

	h.faults.delete = func(key string) error {
		if key == "alice/a.txt" {
			return fmt.Errorf("permission denied")
		}
		return nil
	}
	renamed, err := h.svc.Rename(ctx, file.ID, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", renamed.Name)
	assert.Contains(t, h.logs.String(), "Orphaned object 'alice/a.txt'")
}

func TestPreviewLocalStreams(t *testing.T) {
	h := newHarness(t)
	file := h.upload(t, "/", "a.txt", "preview")

	preview, err := h.svc.Preview(context.Background(), file.ID)
	require.NoError(t, err)
	require.NotNil(t, preview.Body)
	defer preview.Body.Close()

	data, err := io.ReadAll(preview.Body)
	require.NoError(t, err)
	assert.Equal(t, "preview", string(data))
}

func TestDownloadStreamHoldsClientUntilClosed(t *testing.T) {
	h := newHarness(t)
	file := h.upload(t, "/", "a.txt", "x")

	rc, err := h.svc.Download(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.svc.Stats().Active)

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
	assert.Equal(t, 0, h.svc.Stats().Active)
}

func TestDeleteFolderRecursiveWithMultiByteNames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/café")
	require.NoError(t, err)
	_, err = h.svc.CreateFolder(ctx, "alice", "/café/sub")
	require.NoError(t, err)
	_, err = h.svc.CreateFolder(ctx, "alice", "/cafés")
	require.NoError(t, err)
	nested := h.upload(t, "/café/sub", "b.txt", "b")
	kept := h.upload(t, "/cafés", "c.txt", "c")

	require.NoError(t, h.svc.DeleteFolder(ctx, "/café"))
	assert.Equal(t, "c", h.read(t, kept.ID))

	listing, err := h.svc.ListChildren(ctx, "/café/sub")
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
	assert.Empty(t, listing.Folders)

	_, err = h.svc.Download(ctx, nested.ID)
	assert.True(t, errors.Is(err, gerrors.ErrNotFound))
	assert.False(t, h.onDisk("alice/café/sub/b.txt"))
	assert.False(t, h.onDisk("alice/café"))
}

// pauseFirst returns a hook that blocks the first caller until release is
// closed. Later callers pass straight through.
func pauseFirst(reached, release chan struct{}) func() {
	var first atomic.Bool
	return func() {
		if first.CompareAndSwap(false, true) {
			close(reached)
			<-release
		}
	}
}

func TestConcurrentUploadToSamePathKeepsWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reached, release := make(chan struct{}), make(chan struct{})
	h.faults.mu.Lock()
	h.faults.beforePut = pauseFirst(reached, release)
	h.faults.mu.Unlock()

	// The late upload passed the conflict check and stalls before writing.
	lateErr := make(chan error, 1)
	go func() {
		_, err := h.svc.Upload(ctx, storage.UploadRequest{
			OwnerID: "alice", Folder: "/", Name: "a.txt", Size: 4, Body: strings.NewReader("BBBB"),
		})
		lateErr <- err
	}()
	<-reached

	winner := h.upload(t, "/", "a.txt", "AAAA")
	close(release)

	err := <-lateErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, gerrors.ErrAlreadyExists))

	assert.Equal(t, "AAAA", h.read(t, winner.ID))

	entries, err := os.ReadDir(filepath.Join(h.root, DefaultTrashPrefix))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentRenameToSameNameKeepsWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.upload(t, "/", "x.txt", "X")
	second := h.upload(t, "/", "y.txt", "Y")

	reached, release := make(chan struct{}), make(chan struct{})
	h.store.beforeTx = pauseFirst(reached, release)

	lateErr := make(chan error, 1)
	go func() {
		_, err := h.svc.Rename(ctx, second.ID, "b.txt")
		lateErr <- err
	}()
	<-reached

	renamed, err := h.svc.Rename(ctx, first.ID, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice/b.txt", renamed.StoragePath)
	close(release)

	err = <-lateErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, gerrors.ErrAlreadyExists))

	assert.Equal(t, "X", h.read(t, first.ID))
	assert.Equal(t, "Y", h.read(t, second.ID))
	assert.True(t, h.onDisk("alice/y.txt"))
}

func TestConcurrentMoveToSameFolderKeepsWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateFolder(ctx, "alice", "/a")
	require.NoError(t, err)
	_, err = h.svc.CreateFolder(ctx, "alice", "/b")
	require.NoError(t, err)
	_, err = h.svc.CreateFolder(ctx, "alice", "/dest")
	require.NoError(t, err)

	first := h.upload(t, "/a", "same.txt", "first")
	second := h.upload(t, "/b", "same.txt", "second")

	reached, release := make(chan struct{}), make(chan struct{})
	h.store.beforeTx = pauseFirst(reached, release)

	lateErr := make(chan error, 1)
	go func() {
		_, err := h.svc.Move(ctx, second.ID, "/dest")
		lateErr <- err
	}()
	<-reached

	_, err = h.svc.Move(ctx, first.ID, "/dest")
	require.NoError(t, err)
	close(release)

	err = <-lateErr
	assert.True(t, errors.Is(err, gerrors.ErrAlreadyExists))

	assert.Equal(t, "first", h.read(t, first.ID))
	assert.Equal(t, "second", h.read(t, second.ID))
}
