// Package service implements storage.Service once for every provider kind.
// Metadata lives in the metadata store, bytes go through a pool of native
// driver clients bound to one backend configuration.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/db/store"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/log"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/pool"
	"github.com/mwantia/gostore/pkg/storage/transfer"
)

const (
	DefaultTrashPrefix   = ".trash"
	DefaultPreviewExpiry = 15 * time.Minute
)

type Options struct {
	Kind      kind.Kind
	BackendID uint

	Store  store.MetadataStore
	Pool   *pool.Pool[driver.Client]
	Logger log.LoggerService

	TrashPrefix   string
	PreviewExpiry time.Duration
}

type Service struct {
	kind      kind.Kind
	backendID uint

	store store.MetadataStore
	pool  *pool.Pool[driver.Client]
	log   log.LoggerService

	trashPrefix   string
	previewExpiry time.Duration
}

var _ storage.Service = (*Service)(nil)

func New(opts Options) *Service {
	if opts.TrashPrefix == "" {
		opts.TrashPrefix = DefaultTrashPrefix
	}
	if opts.PreviewExpiry <= 0 {
		opts.PreviewExpiry = DefaultPreviewExpiry
	}

	return &Service{
		kind:          opts.Kind,
		backendID:     opts.BackendID,
		store:         opts.Store,
		pool:          opts.Pool,
		log:           opts.Logger,
		trashPrefix:   opts.TrashPrefix,
		previewExpiry: opts.PreviewExpiry,
	}
}

func (s *Service) Kind() kind.Kind {
	return s.kind
}

func (s *Service) BackendID() uint {
	return s.backendID
}

func (s *Service) Stats() pool.Stats {
	return s.pool.Stats()
}

// Prepare warms the client pool up to its configured minimum.
func (s *Service) Prepare(ctx context.Context) error {
	return s.pool.Prepare(ctx)
}

func (s *Service) Close() error {
	return s.pool.Close()
}

func (s *Service) scope() models.Scope {
	return models.Scope{Kind: s.kind, BackendID: s.backendID}
}

func (s *Service) Upload(ctx context.Context, req storage.UploadRequest) (*models.File, error) {
	if err := storage.ValidateOwner(req.OwnerID); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if req.Size < 0 || req.Body == nil {
		return nil, gerrors.New(gerrors.CodeInvalidArgument, "upload requires a body of known size")
	}

	folder := storage.CleanPath(req.Folder)
	if err := s.requireFolder(ctx, folder); err != nil {
		return nil, err
	}
	if err := s.requireFreeFile(ctx, folder, req.Name); err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(req.Name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := storage.ObjectKey(req.OwnerID, folder, req.Name)
	staging := s.stagingKey()
	strategy := transfer.Choose(s.kind, req.Size)
	s.log.Debug("Uploading '%s' (%s, %s)", key, humanize.IBytes(uint64(req.Size)), strategy)

	err := s.pool.With(ctx, func(c driver.Client) error {
		return c.Put(ctx, staging, req.Body, req.Size, contentType, strategy)
	})
	if err != nil {
		return nil, transferErr(err, "failed to upload '%s'", key)
	}

	file := &models.File{
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Type:        contentType,
		Size:        req.Size,
		Path:        folder,
		StoragePath: key,
		Kind:        s.kind,
		BackendID:   s.backendID,
	}

	// The row claims the path first. Only the request whose insert wins
	// ever writes to the final key.
	err = s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		if err := tx.InsertFile(ctx, file); err != nil {
			return err
		}
		err := s.pool.With(ctx, func(c driver.Client) error {
			return c.Copy(ctx, key, staging)
		})
		return transferErr(err, "failed to publish '%s'", key)
	})
	if err != nil {
		return nil, s.compensateUpload(ctx, staging, key, folder, req.Name, err)
	}

	s.dropStaging(ctx, staging, key)
	return file, nil
}

// compensateUpload removes the staged object after the upload could not be
// committed. The final key was never written by this request.
func (s *Service) compensateUpload(ctx context.Context, staging, key, folder, name string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	err := s.pool.With(ctx, func(c driver.Client) error {
		return c.Delete(ctx, staging)
	})
	if err != nil && !errors.Is(err, driver.ErrObjectNotFound) {
		s.log.Error("Failed to remove '%s' staged for '%s': %v (cause: %v)", staging, key, err, cause)
		return gerrors.Wrap(gerrors.CodeMetadataError, "failed to record upload and to remove the written object",
			errors.Join(cause, err)).WithDetails(map[string]any{"key": key, "staging": staging})
	}

	if gerrors.GetCode(cause) != "" {
		return cause
	}
	if _, err := s.store.GetFileByPath(ctx, s.scope(), folder, name); err == nil {
		return gerrors.Wrapf(cause, gerrors.CodeAlreadyExists, "file '%s' already exists in '%s'", name, folder)
	}
	return gerrors.Wrapf(cause, gerrors.CodeMetadataError, "failed to record upload of '%s'", key)
}

// stagingKey returns a fresh key below the trash prefix that no other
// request writes to.
func (s *Service) stagingKey() string {
	return path.Join(s.trashPrefix, "upload-"+uuid.NewString())
}

func (s *Service) dropStaging(ctx context.Context, staging, key string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.pool.With(ctx, func(c driver.Client) error {
		return c.Delete(ctx, staging)
	}); err != nil {
		s.log.Warn("Failed to remove '%s' staged for '%s': %v", staging, key, err)
	}
}

func (s *Service) Download(ctx context.Context, id uint) (io.ReadCloser, error) {
	file, err := s.getFile(ctx, id)
	if err != nil {
		return nil, err
	}

	h, err := s.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}

	strategy := transfer.Choose(s.kind, file.Size)
	rc, err := h.Value().Get(ctx, file.StoragePath, file.Size, strategy)
	if err != nil {
		if ctx.Err() != nil {
			h.Invalidate()
		} else {
			h.Release()
		}
		return nil, transferErr(err, "failed to download '%s'", file.StoragePath)
	}

	return &stream{ctx: ctx, rc: rc, handle: h}, nil
}

// stream keeps the pooled client borrowed until the caller closes it.
type stream struct {
	ctx    context.Context
	rc     io.ReadCloser
	handle *pool.Handle[driver.Client]

	once   sync.Once
	failed bool
}

func (st *stream) Read(p []byte) (int, error) {
	n, err := st.rc.Read(p)
	if err != nil && err != io.EOF {
		st.failed = true
	}
	return n, err
}

func (st *stream) Close() error {
	var err error
	st.once.Do(func() {
		err = st.rc.Close()
		if st.failed || st.ctx.Err() != nil {
			st.handle.Invalidate()
		} else {
			st.handle.Release()
		}
	})
	return err
}

func (s *Service) ListChildren(ctx context.Context, p string) (*storage.Listing, error) {
	p = storage.CleanPath(p)

	folders, err := s.store.ListFolders(ctx, s.scope(), p)
	if err != nil {
		return nil, metadataErr(err, "failed to list folders of '%s'", p)
	}
	files, err := s.store.ListFiles(ctx, s.scope(), p)
	if err != nil {
		return nil, metadataErr(err, "failed to list files of '%s'", p)
	}

	return &storage.Listing{
		Path:    p,
		Folders: folders,
		Files:   files,
	}, nil
}

func (s *Service) CreateFolder(ctx context.Context, ownerID, p string) (*models.Folder, error) {
	if err := storage.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	p = storage.CleanPath(p)
	if p == "/" {
		return nil, gerrors.New(gerrors.CodeAlreadyExists, "the root folder always exists")
	}

	parent, name := storage.SplitPath(p)
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.requireFolder(ctx, parent); err != nil {
		return nil, err
	}

	_, err := s.store.GetFolderByPath(ctx, s.scope(), p)
	switch {
	case err == nil:
		return nil, gerrors.Newf(gerrors.CodeAlreadyExists, "folder '%s' already exists", p)
	case !errors.Is(err, store.ErrNotFound):
		return nil, metadataErr(err, "failed to look up folder '%s'", p)
	}

	folder := &models.Folder{
		OwnerID:     ownerID,
		Name:        name,
		ParentPath:  parent,
		Path:        p,
		StoragePath: storage.ObjectKey(ownerID, p, ""),
		Kind:        s.kind,
		BackendID:   s.backendID,
	}

	err = s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		if err := tx.InsertFolder(ctx, folder); err != nil {
			return metadataErr(err, "failed to record folder '%s'", p)
		}
		err := s.pool.With(ctx, func(c driver.Client) error {
			return c.MkdirAll(ctx, folder.StoragePath)
		})
		return transferErr(err, "failed to create folder '%s'", folder.StoragePath)
	})
	if err != nil {
		return nil, metadataErr(err, "failed to create folder '%s'", p)
	}

	return folder, nil
}

func (s *Service) DeleteFile(ctx context.Context, id uint) error {
	file, err := s.getFile(ctx, id)
	if err != nil {
		return err
	}

	staged := s.trashFor(file.StoragePath)
	if err := s.stage(ctx, staged); err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		return tx.DeleteFileByID(ctx, file.ID)
	})
	if err != nil {
		s.unstage(ctx, staged)
		return metadataErr(err, "failed to delete file %d", id)
	}

	s.purge(ctx, staged)
	return nil
}

func (s *Service) DeleteFolder(ctx context.Context, p string) error {
	p = storage.CleanPath(p)
	if p == "/" {
		return gerrors.New(gerrors.CodeInvalidArgument, "the root folder cannot be deleted")
	}

	folder, err := s.store.GetFolderByPath(ctx, s.scope(), p)
	if err != nil {
		return metadataErr(err, "folder '%s' not found", p)
	}
	descendants, err := s.store.ListFoldersUnder(ctx, s.scope(), p)
	if err != nil {
		return metadataErr(err, "failed to list folders under '%s'", p)
	}
	files, err := s.store.ListFilesUnder(ctx, s.scope(), p)
	if err != nil {
		return metadataErr(err, "failed to list files under '%s'", p)
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		keys = append(keys, file.StoragePath)
	}
	staged := s.trashFor(keys...)
	if err := s.stage(ctx, staged); err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		for _, file := range files {
			if err := tx.DeleteFileByID(ctx, file.ID); err != nil {
				return err
			}
		}
		for _, descendant := range descendants {
			if err := tx.DeleteFolderByID(ctx, descendant.ID); err != nil {
				return err
			}
		}
		return tx.DeleteFolderByID(ctx, folder.ID)
	})
	if err != nil {
		s.unstage(ctx, staged)
		return metadataErr(err, "failed to delete folder '%s'", p)
	}

	s.purge(ctx, staged)

	// Deepest first: descendants are ordered by path, children after parents.
	dirs := make([]string, 0, len(descendants)+1)
	for i := len(descendants) - 1; i >= 0; i-- {
		dirs = append(dirs, descendants[i].StoragePath)
	}
	dirs = append(dirs, folder.StoragePath)
	s.removeDirs(ctx, dirs)

	s.log.Debug("Deleted folder '%s' with %d files and %d subfolders", p, len(files), len(descendants))
	return nil
}

func (s *Service) Rename(ctx context.Context, id uint, name string) (*models.File, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	file, err := s.getFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.Name == name {
		return file, nil
	}
	if err := s.requireFreeFile(ctx, file.Path, name); err != nil {
		return nil, err
	}

	return s.relocate(ctx, file, file.Path, name)
}

func (s *Service) Move(ctx context.Context, id uint, p string) (*models.File, error) {
	p = storage.CleanPath(p)

	file, err := s.getFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.Path == p {
		return file, nil
	}
	if err := s.requireFolder(ctx, p); err != nil {
		return nil, err
	}
	if err := s.requireFreeFile(ctx, p, file.Name); err != nil {
		return nil, err
	}

	return s.relocate(ctx, file, p, file.Name)
}

// relocate claims the new path in the metadata row and copies the object
// to its new key within the same transaction, then removes the old key. A
// failed removal leaves an orphan that is logged.
func (s *Service) relocate(ctx context.Context, file *models.File, folder, name string) (*models.File, error) {
	oldKey := file.StoragePath
	newKey := storage.ObjectKey(file.OwnerID, folder, name)

	updated := *file
	updated.Name = name
	updated.Path = folder
	updated.StoragePath = newKey

	copied := false
	err := s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		if err := tx.UpdateFile(ctx, &updated); err != nil {
			return metadataErr(err, "failed to update file %d", file.ID)
		}
		err := s.pool.With(ctx, func(c driver.Client) error {
			return c.Copy(ctx, newKey, oldKey)
		})
		if err != nil {
			return transferErr(err, "failed to copy '%s' to '%s'", oldKey, newKey)
		}
		copied = true
		return nil
	})
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		if copied {
			// The commit failed after the copy, the row still points at oldKey.
			if derr := s.pool.With(cleanup, func(c driver.Client) error {
				return c.Delete(cleanup, newKey)
			}); derr != nil {
				s.log.Error("Failed to remove copy '%s' after metadata failure: %v", newKey, derr)
			}
		}
		if gerrors.HasCode(err, gerrors.CodeMetadataError) {
			if other, lerr := s.store.GetFileByPath(cleanup, s.scope(), folder, name); lerr == nil && other.ID != file.ID {
				return nil, gerrors.Wrapf(err, gerrors.CodeAlreadyExists, "file '%s' already exists in '%s'", name, folder)
			}
		}
		return nil, err
	}

	cleanup := context.WithoutCancel(ctx)
	if err := s.pool.With(cleanup, func(c driver.Client) error {
		return c.Delete(cleanup, oldKey)
	}); err != nil {
		s.log.Warn("Orphaned object '%s' left behind by file %d: %v", oldKey, file.ID, err)
	}

	return &updated, nil
}

func (s *Service) Preview(ctx context.Context, id uint) (*storage.Preview, error) {
	file, err := s.getFile(ctx, id)
	if err != nil {
		return nil, err
	}

	var preview *storage.Preview
	err = s.pool.With(ctx, func(c driver.Client) error {
		var err error
		preview, err = c.Preview(ctx, file.StoragePath, s.previewExpiry)
		return err
	})
	if err != nil {
		return nil, transferErr(err, "failed to preview '%s'", file.StoragePath)
	}
	return preview, nil
}

// getFile loads a file row and hides rows owned by other backends.
func (s *Service) getFile(ctx context.Context, id uint) (*models.File, error) {
	file, err := s.store.GetFileByID(ctx, id)
	if err != nil {
		return nil, metadataErr(err, "file %d not found", id)
	}
	if file.Kind != s.kind || file.BackendID != s.backendID {
		return nil, gerrors.Newf(gerrors.CodeNotFound, "file %d not found on %s backend %d", id, s.kind, s.backendID)
	}
	return file, nil
}

func (s *Service) requireFolder(ctx context.Context, p string) error {
	if p == "/" {
		return nil
	}
	if _, err := s.store.GetFolderByPath(ctx, s.scope(), p); err != nil {
		return metadataErr(err, "folder '%s' does not exist", p)
	}
	return nil
}

func (s *Service) requireFreeFile(ctx context.Context, folder, name string) error {
	_, err := s.store.GetFileByPath(ctx, s.scope(), folder, name)
	switch {
	case err == nil:
		return gerrors.Newf(gerrors.CodeAlreadyExists, "file '%s' already exists in '%s'", name, folder)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return metadataErr(err, "failed to look up '%s' in '%s'", name, folder)
	}
}

// metadataErr maps store errors into the error taxonomy. Errors that are
// already classified pass through.
func metadataErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if gerrors.GetCode(err) != "" {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return gerrors.Wrapf(err, gerrors.CodeNotFound, format, args...)
	}
	return gerrors.Wrapf(err, gerrors.CodeMetadataError, format, args...)
}

// transferErr maps driver errors into the error taxonomy. Pool errors are
// already classified and pass through.
func transferErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if gerrors.GetCode(err) != "" {
		return err
	}
	if errors.Is(err, driver.ErrObjectNotFound) {
		return gerrors.Wrapf(err, gerrors.CodeNotFound, format, args...)
	}
	return gerrors.Wrapf(err, gerrors.CodeTransferFailure, format, args...)
}

func (s *Service) String() string {
	return fmt.Sprintf("%s/%d", s.kind.Key(), s.backendID)
}
