package models

import (
	"time"

	"github.com/mwantia/gostore/pkg/storage/kind"
)

// Folder represents a logical directory. Object stores have no directories,
// so folders exist primarily as metadata rows.
type Folder struct {
	ID         uint   `gorm:"primaryKey"`
	OwnerID    string `gorm:"type:text;not null;index"`
	Name       string `gorm:"type:text;not null"`
	ParentPath string `gorm:"type:text;not null;index:idx_folder_scope_parent"`
	// Absolute logical path, e.g. "/docs/2024"
	Path        string `gorm:"type:text;not null;index:idx_folder_scope_path"`
	StoragePath string `gorm:"type:text;not null"`

	Kind      kind.Kind `gorm:"not null;index:idx_folder_scope_parent;index:idx_folder_scope_path"`
	BackendID uint      `gorm:"not null;index:idx_folder_scope_parent;index:idx_folder_scope_path"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scope returns the backend this folder belongs to.
func (f *Folder) Scope() Scope {
	return Scope{Kind: f.Kind, BackendID: f.BackendID}
}
