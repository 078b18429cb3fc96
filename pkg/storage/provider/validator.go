package provider

import (
	"context"
	"time"

	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/log"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/kind"
)

const DefaultValidateTimeout = 15 * time.Second

// probeValidator opens a throwaway client and pings the backend.
type probeValidator struct {
	kind    kind.Kind
	open    driver.Opener
	timeout time.Duration
	log     log.LoggerService
}

func (v *probeValidator) Validate(ctx context.Context, cfg *models.BackendConfig) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("Validation of backend %d panicked: %v", cfg.ID, r)
			ok = false
		}
	}()

	if cfg.Kind != v.kind {
		v.log.Warn("Backend %d is %s, expected %s", cfg.ID, cfg.Kind, v.kind)
		return false
	}

	timeout := v.timeout
	if timeout <= 0 {
		timeout = DefaultValidateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	settings, err := cfg.Decode()
	if err != nil {
		v.log.Warn("Backend %d has undecodable settings: %v", cfg.ID, err)
		return false
	}
	if err := settings.Validate(); err != nil {
		v.log.Warn("Backend %d has invalid settings: %v", cfg.ID, err)
		return false
	}

	client, err := v.open(ctx, cfg)
	if err != nil {
		v.log.Warn("Failed to open client for backend %d: %v", cfg.ID, err)
		return false
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		v.log.Warn("Backend %d (%s) is not reachable: %v", cfg.ID, settings, err)
		return false
	}

	v.log.Debug("Backend %d (%s) validated", cfg.ID, cfg.Kind)
	return true
}
