package migrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/gostore/pkg/db/models"
	"gorm.io/gorm"
)

// ErrNothingToRollback is returned by Rollback when no migration is applied.
var ErrNothingToRollback = errors.New("no applied migrations to roll back")

// Migration is one versioned schema change with its inverse.
type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
	Down        func(*gorm.DB) error
}

// migrationHistory tracks applied migrations
type migrationHistory struct {
	ID          uint   `gorm:"primaryKey"`
	Version     int    `gorm:"uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	AppliedAt   int64  `gorm:"autoCreateTime"`
}

// Migrator handles database migrations
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: allMigrations(),
	}
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	// Ensure migration history table exists
	if err := m.db.WithContext(ctx).AutoMigrate(&migrationHistory{}); err != nil {
		return fmt.Errorf("failed to create migration history table: %w", err)
	}

	// Get applied migrations
	var applied []migrationHistory
	if err := m.db.WithContext(ctx).Find(&applied).Error; err != nil {
		return fmt.Errorf("failed to query migration history: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for _, a := range applied {
		appliedVersions[a.Version] = true
	}

	// Run pending migrations
	for _, migration := range m.migrations {
		if appliedVersions[migration.Version] {
			continue
		}

		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

// Rollback reverts the most recently applied migration and returns it.
func (m *Migrator) Rollback(ctx context.Context) (*Migration, error) {
	if !m.db.WithContext(ctx).Migrator().HasTable(&migrationHistory{}) {
		return nil, ErrNothingToRollback
	}

	var last migrationHistory
	err := m.db.WithContext(ctx).Order("version DESC").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}
	if last.ID == 0 {
		return nil, ErrNothingToRollback
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last.Version {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil {
		return nil, fmt.Errorf("migration %d is recorded but unknown to this build", last.Version)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&last).Error
	})
	if err != nil {
		return nil, fmt.Errorf("rollback of migration %d (%s) failed: %w", migration.Version, migration.Description, err)
	}

	return migration, nil
}

// Status lists every known migration in order. A database that was never
// migrated reports all of them as pending.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	appliedAt := make(map[int]int64)
	if m.db.WithContext(ctx).Migrator().HasTable(&migrationHistory{}) {
		var applied []migrationHistory
		if err := m.db.WithContext(ctx).Find(&applied).Error; err != nil {
			return nil, fmt.Errorf("failed to query migration history: %w", err)
		}
		for _, a := range applied {
			appliedAt[a.Version] = a.AppliedAt
		}
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		at, ok := appliedAt[migration.Version]
		statuses = append(statuses, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     ok,
			AppliedAt:   at,
		})
	}

	return statuses, nil
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
	// AppliedAt is a unix timestamp, zero while pending.
	AppliedAt int64
}

func (m *Migrator) runMigration(ctx context.Context, migration Migration) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Up(tx); err != nil {
			return err
		}

		history := migrationHistory{
			Version:     migration.Version,
			Description: migration.Description,
		}
		return tx.Create(&history).Error
	})
}

// allMigrations returns all migrations in order
func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial schema creation",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(
					&models.BackendConfig{},
					&models.ActiveBackend{},
					&models.File{},
					&models.Folder{},
				)
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(
					&models.Folder{},
					&models.File{},
					&models.ActiveBackend{},
					&models.BackendConfig{},
				)
			},
		},
		{
			Version:     2,
			Description: "Unique logical paths per backend",
			Up: func(db *gorm.DB) error {
				if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_file_unique_path ON files (kind, backend_id, path, name)").Error; err != nil {
					return err
				}
				return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_folder_unique_path ON folders (kind, backend_id, path)").Error
			},
			Down: func(db *gorm.DB) error {
				if err := db.Exec("DROP INDEX IF EXISTS idx_file_unique_path").Error; err != nil {
					return err
				}
				return db.Exec("DROP INDEX IF EXISTS idx_folder_unique_path").Error
			},
		},
	}
}
