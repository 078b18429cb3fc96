package active

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/mwantia/gostore/internal/config/server"
	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/db/store"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/log"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/pool"
	"github.com/mwantia/gostore/pkg/storage/provider"
	"github.com/mwantia/gostore/pkg/storage/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "metadata.db")})
	require.NoError(t, err)
	require.NoError(t, db.Connect(ctx))
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestLogger() log.LoggerService {
	return log.NewWriterLoggerService("test", config.LogServerConfig{Level: "error"}, io.Discard)
}

func createConfig(t *testing.T, db store.MetadataStore, settings models.Settings) *models.BackendConfig {
	t.Helper()

	cfg, err := models.NewBackendConfig(settings.Kind().Key(), settings)
	require.NoError(t, err)
	require.NoError(t, db.CreateBackendConfig(context.Background(), cfg))
	return cfg
}

func newDefaultSwitch(t *testing.T, db store.MetadataStore) *Switch {
	t.Helper()

	registry, err := provider.NewRegistry(provider.Defaults(provider.Env{
		Store:           db,
		Logger:          newTestLogger(),
		Pool:            pool.Config{MaxTotal: 4},
		ValidateTimeout: 5 * time.Second,
	})...)
	require.NoError(t, err)

	sw := New(db, registry, newTestLogger())
	t.Cleanup(func() { _ = sw.Close(context.Background()) })
	return sw
}

// TestFailedSwitchKeepsServingLocalDisk switches to local disk, stores a
// file, then tries an S3 configuration with a wrong credential.
func TestFailedSwitchKeepsServingLocalDisk(t *testing.T) {
	db := newTestStore(t)
	sw := newDefaultSwitch(t, db)
	ctx := context.Background()

	_, err := sw.Acquire(ctx)
	assert.True(t, errors.Is(err, gerrors.ErrNoBackendConfigured))

	localCfg := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})
	s3Cfg := createConfig(t, db, &models.S3Settings{
		Endpoint:        "http://127.0.0.1:1",
		Region:          "us-east-1",
		Bucket:          "files",
		AccessKeyID:     "AKIAWRONG",
		SecretAccessKey: "wrong-secret",
	})

	state, err := sw.SwitchTo(ctx, kind.LocalDisk, localCfg.ID)
	require.NoError(t, err)
	assert.Equal(t, kind.LocalDisk, state.Kind)

	data := make([]byte, 10_000_000)
	_, err = rand.Read(data)
	require.NoError(t, err)

	var file *models.File
	require.NoError(t, sw.Do(ctx, func(svc storage.Service) error {
		var err error
		file, err = svc.Upload(ctx, storage.UploadRequest{
			OwnerID: "alice",
			Folder:  "/",
			Name:    "ten.bin",
			Size:    int64(len(data)),
			Body:    bytes.NewReader(data),
		})
		if err != nil {
			return err
		}

		listing, err := svc.ListChildren(ctx, "/")
		if err != nil {
			return err
		}
		assert.Len(t, listing.Files, 1)
		return nil
	}))
	assert.Equal(t, transfer.Direct, transfer.Choose(kind.LocalDisk, file.Size))

	_, err = sw.SwitchTo(ctx, kind.AmazonS3, s3Cfg.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gerrors.ErrConnectionValidationFailed))

	active, ok := sw.Active()
	require.True(t, ok)
	assert.Equal(t, kind.LocalDisk, active.Kind)
	assert.Equal(t, localCfg.ID, active.BackendID)

	record, err := db.GetActiveBackend(ctx)
	require.NoError(t, err)
	assert.Equal(t, localCfg.ID, record.BackendID)

	require.NoError(t, sw.Do(ctx, func(svc storage.Service) error {
		rc, err := svc.Download(ctx, file.ID)
		if err != nil {
			return err
		}
		defer rc.Close()

		got, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		assert.True(t, bytes.Equal(data, got))
		return nil
	}))
}

func TestSwitchToUnknownConfig(t *testing.T) {
	db := newTestStore(t)
	sw := newDefaultSwitch(t, db)
	ctx := context.Background()

	_, err := sw.SwitchTo(ctx, kind.LocalDisk, 42)
	assert.True(t, errors.Is(err, gerrors.ErrConfigNotFound))

	cfg := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})
	_, err = sw.SwitchTo(ctx, kind.MinIO, cfg.ID)
	assert.True(t, errors.Is(err, gerrors.ErrConfigNotFound))

	_, ok := sw.Active()
	assert.False(t, ok)
}

func TestRestoreDoesNotProbe(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	cfg := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})
	first := newDefaultSwitch(t, db)
	_, err := first.SwitchTo(ctx, kind.LocalDisk, cfg.ID)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	registry := newFakeRegistry(false)
	second := New(db, registry, newTestLogger())
	defer second.Close(ctx)

	state, ok, err := second.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg.ID, state.BackendID)
	assert.Equal(t, int32(0), registry.validations.Load())

	active, ok := second.Active()
	require.True(t, ok)
	assert.Equal(t, kind.LocalDisk, active.Kind)
}

func TestRestoreWithoutRecord(t *testing.T) {
	db := newTestStore(t)
	sw := New(db, newFakeRegistry(true), newTestLogger())
	defer sw.Close(context.Background())

	_, ok, err := sw.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingReplaceStore struct {
	store.MetadataStore
}

func (failingReplaceStore) ReplaceActiveBackend(ctx context.Context, active *models.ActiveBackend) error {
	return fmt.Errorf("database is locked")
}

func TestPersistenceFailureClosesNewService(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	registry := newFakeRegistry(true)

	first := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})
	second := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})

	sw := New(db, registry, newTestLogger())
	defer sw.Close(ctx)
	_, err := sw.SwitchTo(ctx, kind.LocalDisk, first.ID)
	require.NoError(t, err)

	sw.store = failingReplaceStore{MetadataStore: db}
	_, err = sw.SwitchTo(ctx, kind.LocalDisk, second.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gerrors.ErrSwitchPersistenceFailed))

	active, _ := sw.Active()
	assert.Equal(t, first.ID, active.BackendID)

	services := registry.servicesFor(second.ID)
	require.Len(t, services, 1)
	assert.True(t, services[0].closed.Load())
	assert.False(t, registry.servicesFor(first.ID)[0].closed.Load())
}

func TestRetiredBackendDrainsBeforeClose(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	registry := newFakeRegistry(true)

	first := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})
	second := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})

	sw := New(db, registry, newTestLogger())
	_, err := sw.SwitchTo(ctx, kind.LocalDisk, first.ID)
	require.NoError(t, err)

	lease, err := sw.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, lease.Service().BackendID())

	_, err = sw.SwitchTo(ctx, kind.LocalDisk, second.ID)
	require.NoError(t, err)

	// New leases go to the new backend, the old one waits for its lease.
	next, err := sw.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.Service().BackendID())
	next.Release()

	old := registry.servicesFor(first.ID)[0]
	time.Sleep(20 * time.Millisecond)
	assert.False(t, old.closed.Load())

	lease.Release()
	lease.Release()
	assert.Eventually(t, old.closed.Load, time.Second, 5*time.Millisecond)

	require.NoError(t, sw.Close(ctx))
	assert.True(t, registry.servicesFor(second.ID)[0].closed.Load())

	_, err = sw.Acquire(ctx)
	assert.True(t, errors.Is(err, gerrors.ErrNoBackendConfigured))
}

func TestCloseTimesOutWhileLeased(t *testing.T) {
	db := newTestStore(t)
	registry := newFakeRegistry(true)
	cfg := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})

	sw := New(db, registry, newTestLogger())
	_, err := sw.SwitchTo(context.Background(), kind.LocalDisk, cfg.ID)
	require.NoError(t, err)

	lease, err := sw.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sw.Close(ctx), context.DeadlineExceeded)

	lease.Release()
	require.NoError(t, sw.Close(context.Background()))
	assert.True(t, registry.servicesFor(cfg.ID)[0].closed.Load())
}

func TestConcurrentReadersDuringSwitches(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	registry := newFakeRegistry(true)

	a := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})
	b := createConfig(t, db, &models.LocalSettings{Root: t.TempDir()})

	sw := New(db, registry, newTestLogger())
	_, err := sw.SwitchTo(ctx, kind.LocalDisk, a.ID)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				err := sw.Do(ctx, func(svc storage.Service) error {
					if svc.(*fakeService).closed.Load() {
						return fmt.Errorf("leased a closed service")
					}
					return nil
				})
				if err != nil {
					failures.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		target := a.ID
		if i%2 == 0 {
			target = b.ID
		}
		_, err := sw.SwitchTo(ctx, kind.LocalDisk, target)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	require.NoError(t, sw.Close(ctx))
	assert.Equal(t, int32(0), failures.Load())
	for _, svc := range registry.all() {
		assert.True(t, svc.closed.Load())
	}
}
