package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mwantia/gostore/pkg/storage/kind"
)

// BackendConfig represents one stored provider configuration. The settings
// column holds the JSON encoding of the Settings variant matching Kind.
// Configurations are never updated in place; replace them instead.
type BackendConfig struct {
	ID       uint      `gorm:"primaryKey"`
	Name     string    `gorm:"type:text;not null"`
	Kind     kind.Kind `gorm:"not null;index"`
	Settings string    `gorm:"type:text;not null"`

	ValidatedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewBackendConfig encodes settings into a new, unsaved configuration.
func NewBackendConfig(name string, settings Settings) (*BackendConfig, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s settings: %w", settings.Kind(), err)
	}

	return &BackendConfig{
		Name:     name,
		Kind:     settings.Kind(),
		Settings: string(data),
	}, nil
}

// Decode returns the typed settings variant for this configuration.
func (b *BackendConfig) Decode() (Settings, error) {
	settings, err := newSettings(b.Kind)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(b.Settings), settings); err != nil {
		return nil, fmt.Errorf("failed to decode %s settings of backend %d: %w", b.Kind, b.ID, err)
	}
	return settings, nil
}
