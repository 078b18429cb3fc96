package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/gostore/pkg/db/migrations"
	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements MetadataStore using SQLite
type SQLiteStore struct {
	db   *gorm.DB
	path string
	tx   bool
}

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed metadata store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.tx {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// MigrationStatus lists known migrations and whether they are applied.
func (s *SQLiteStore) MigrationStatus(ctx context.Context) ([]migrations.MigrationStatus, error) {
	return migrations.NewMigrator(s.db).Status(ctx)
}

// Rollback reverts the latest applied migration.
func (s *SQLiteStore) Rollback(ctx context.Context) (*migrations.Migration, error) {
	return migrations.NewMigrator(s.db).Rollback(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn inside a database transaction. Nested calls use
// savepoints.
func (s *SQLiteStore) Transaction(ctx context.Context, fn func(tx MetadataStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQLiteStore{db: tx, path: s.path, tx: true})
	})
}

// Backend configuration operations

func (s *SQLiteStore) CreateBackendConfig(ctx context.Context, cfg *models.BackendConfig) error {
	if !cfg.Kind.Valid() {
		return fmt.Errorf("invalid provider kind %d", cfg.Kind)
	}
	return s.db.WithContext(ctx).Create(cfg).Error
}

func (s *SQLiteStore) GetBackendConfig(ctx context.Context, id uint) (*models.BackendConfig, error) {
	var cfg models.BackendConfig
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) ListBackendConfigs(ctx context.Context) ([]models.BackendConfig, error) {
	var configs []models.BackendConfig
	err := s.db.WithContext(ctx).Order("id").Find(&configs).Error
	return configs, err
}

func (s *SQLiteStore) ListBackendConfigsByKind(ctx context.Context, k kind.Kind) ([]models.BackendConfig, error) {
	var configs []models.BackendConfig
	err := s.db.WithContext(ctx).Where("kind = ?", k).Order("id").Find(&configs).Error
	return configs, err
}

func (s *SQLiteStore) MarkBackendConfigValidated(ctx context.Context, id uint) error {
	now := s.db.NowFunc()
	result := s.db.WithContext(ctx).Model(&models.BackendConfig{}).
		Where("id = ?", id).
		Update("validated_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBackendConfig removes a configuration unless it is the active backend.
func (s *SQLiteStore) DeleteBackendConfig(ctx context.Context, id uint) error {
	return s.Transaction(ctx, func(tx MetadataStore) error {
		active, err := tx.GetActiveBackend(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if active != nil && active.BackendID == id {
			return ErrBackendInUse
		}

		db := tx.(*SQLiteStore).db
		result := db.WithContext(ctx).Delete(&models.BackendConfig{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Active backend operations

func (s *SQLiteStore) GetActiveBackend(ctx context.Context) (*models.ActiveBackend, error) {
	var active models.ActiveBackend
	err := s.db.WithContext(ctx).Order("id DESC").First(&active).Error
	if err != nil {
		return nil, translate(err)
	}
	return &active, nil
}

func (s *SQLiteStore) InsertActiveBackend(ctx context.Context, active *models.ActiveBackend) error {
	return s.db.WithContext(ctx).Create(active).Error
}

func (s *SQLiteStore) DeleteActiveBackend(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.ActiveBackend{}).Error
}

// ReplaceActiveBackend deletes the current record and inserts active as one
// transaction, so readers never see zero or two records.
func (s *SQLiteStore) ReplaceActiveBackend(ctx context.Context, active *models.ActiveBackend) error {
	return s.Transaction(ctx, func(tx MetadataStore) error {
		if err := tx.DeleteActiveBackend(ctx); err != nil {
			return fmt.Errorf("failed to delete active backend: %w", err)
		}
		active.ID = 0
		if err := tx.InsertActiveBackend(ctx, active); err != nil {
			return fmt.Errorf("failed to insert active backend: %w", err)
		}
		return nil
	})
}

// File operations

func (s *SQLiteStore) InsertFile(ctx context.Context, file *models.File) error {
	return s.db.WithContext(ctx).Create(file).Error
}

// UpdateFile writes the mutable columns of file. Unlike Save it never
// re-creates a row that was deleted concurrently.
func (s *SQLiteStore) UpdateFile(ctx context.Context, file *models.File) error {
	file.UpdatedAt = s.db.NowFunc()
	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ?", file.ID).
		Updates(map[string]any{
			"name":         file.Name,
			"type":         file.Type,
			"size":         file.Size,
			"path":         file.Path,
			"storage_path": file.StoragePath,
			"updated_at":   file.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetFileByID(ctx context.Context, id uint) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		return nil, translate(err)
	}
	return &file, nil
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, scope models.Scope, path, name string) (*models.File, error) {
	var file models.File
	err := s.scoped(ctx, scope).
		Where("path = ? AND name = ?", path, name).
		First(&file).Error
	if err != nil {
		return nil, translate(err)
	}
	return &file, nil
}

func (s *SQLiteStore) DeleteFileByID(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.File{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFiles returns the files directly inside path, ordered by name.
func (s *SQLiteStore) ListFiles(ctx context.Context, scope models.Scope, path string) ([]models.File, error) {
	var files []models.File
	err := s.scoped(ctx, scope).
		Where("path = ?", path).
		Order("name").
		Find(&files).Error
	return files, err
}

// ListFilesUnder returns the files inside path and all of its descendants.
func (s *SQLiteStore) ListFilesUnder(ctx context.Context, scope models.Scope, path string) ([]models.File, error) {
	var files []models.File
	query := s.scoped(ctx, scope)
	if path != "/" {
		prefix := descendantPrefix(path)
		query = query.Where("path = ? OR substr(path, 1, length(?)) = ?", path, prefix, prefix)
	}
	err := query.Order("path").Order("name").Find(&files).Error
	return files, err
}

// Folder operations

func (s *SQLiteStore) InsertFolder(ctx context.Context, folder *models.Folder) error {
	return s.db.WithContext(ctx).Create(folder).Error
}

func (s *SQLiteStore) GetFolderByPath(ctx context.Context, scope models.Scope, path string) (*models.Folder, error) {
	var folder models.Folder
	err := s.scoped(ctx, scope).Where("path = ?", path).First(&folder).Error
	if err != nil {
		return nil, translate(err)
	}
	return &folder, nil
}

func (s *SQLiteStore) DeleteFolderByID(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Folder{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFolders returns the folders whose parent is parent, ordered by name.
func (s *SQLiteStore) ListFolders(ctx context.Context, scope models.Scope, parent string) ([]models.Folder, error) {
	var folders []models.Folder
	err := s.scoped(ctx, scope).
		Where("parent_path = ?", parent).
		Order("name").
		Find(&folders).Error
	return folders, err
}

// ListFoldersUnder returns all strict descendants of path, deepest last.
func (s *SQLiteStore) ListFoldersUnder(ctx context.Context, scope models.Scope, path string) ([]models.Folder, error) {
	var folders []models.Folder
	query := s.scoped(ctx, scope)
	if path != "/" {
		prefix := descendantPrefix(path)
		query = query.Where("substr(path, 1, length(?)) = ?", prefix, prefix)
	}
	err := query.Order("path").Find(&folders).Error
	return folders, err
}

func (s *SQLiteStore) scoped(ctx context.Context, scope models.Scope) *gorm.DB {
	return s.db.WithContext(ctx).Where("kind = ? AND backend_id = ?", scope.Kind, scope.BackendID)
}

// descendantPrefix is compared with substr/length, which both count
// characters, so multi-byte folder names match their descendants.
func descendantPrefix(path string) string {
	return strings.TrimSuffix(path, "/") + "/"
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
