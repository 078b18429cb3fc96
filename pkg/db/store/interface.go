package store

import (
	"context"
	"errors"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage/kind"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ErrBackendInUse is returned when deleting the active backend configuration.
var ErrBackendInUse = errors.New("backend configuration is the active backend")

// MetadataStore defines the interface for database operations
type MetadataStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// Transaction runs fn against a store bound to one database transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx MetadataStore) error) error

	// Backend configuration operations
	CreateBackendConfig(ctx context.Context, cfg *models.BackendConfig) error
	GetBackendConfig(ctx context.Context, id uint) (*models.BackendConfig, error)
	ListBackendConfigs(ctx context.Context) ([]models.BackendConfig, error)
	ListBackendConfigsByKind(ctx context.Context, k kind.Kind) ([]models.BackendConfig, error)
	MarkBackendConfigValidated(ctx context.Context, id uint) error
	DeleteBackendConfig(ctx context.Context, id uint) error

	// Active backend operations
	GetActiveBackend(ctx context.Context) (*models.ActiveBackend, error)
	InsertActiveBackend(ctx context.Context, active *models.ActiveBackend) error
	DeleteActiveBackend(ctx context.Context) error
	ReplaceActiveBackend(ctx context.Context, active *models.ActiveBackend) error

	// File operations
	InsertFile(ctx context.Context, file *models.File) error
	UpdateFile(ctx context.Context, file *models.File) error
	GetFileByID(ctx context.Context, id uint) (*models.File, error)
	GetFileByPath(ctx context.Context, scope models.Scope, path, name string) (*models.File, error)
	DeleteFileByID(ctx context.Context, id uint) error
	ListFiles(ctx context.Context, scope models.Scope, path string) ([]models.File, error)
	ListFilesUnder(ctx context.Context, scope models.Scope, path string) ([]models.File, error)

	// Folder operations
	InsertFolder(ctx context.Context, folder *models.Folder) error
	GetFolderByPath(ctx context.Context, scope models.Scope, path string) (*models.Folder, error)
	DeleteFolderByID(ctx context.Context, id uint) error
	ListFolders(ctx context.Context, scope models.Scope, parent string) ([]models.Folder, error)
	ListFoldersUnder(ctx context.Context, scope models.Scope, path string) ([]models.Folder, error)
}
