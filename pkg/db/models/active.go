package models

import (
	"time"

	"github.com/mwantia/gostore/pkg/storage/kind"
)

// ActiveBackend is the singleton record naming the backend that currently
// serves storage operations.
type ActiveBackend struct {
	ID        uint      `gorm:"primaryKey"`
	Kind      kind.Kind `gorm:"not null"`
	BackendID uint      `gorm:"not null"`

	CreatedAt time.Time
}

// Scope identifies the backend a metadata row belongs to.
type Scope struct {
	Kind      kind.Kind
	BackendID uint
}
