package models

import (
	"time"

	"github.com/mwantia/gostore/pkg/storage/kind"
)

// File represents metadata for a file stored in a backend
type File struct {
	ID      uint   `gorm:"primaryKey"`
	OwnerID string `gorm:"type:text;not null;index"`
	Name    string `gorm:"type:text;not null"`
	Type    string `gorm:"type:text"`
	Size    int64  `gorm:"not null"`

	// Logical folder path, e.g. "/docs"
	Path string `gorm:"type:text;not null;index:idx_file_scope_path"`
	// Object key within the backend
	StoragePath string `gorm:"type:text;not null"`

	Kind      kind.Kind `gorm:"not null;index:idx_file_scope_path"`
	BackendID uint      `gorm:"not null;index:idx_file_scope_path"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scope returns the backend this file belongs to.
func (f *File) Scope() Scope {
	return Scope{Kind: f.Kind, BackendID: f.BackendID}
}
