package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/gostore/internal/agent"
	config "github.com/mwantia/gostore/internal/config/server"
	"github.com/mwantia/gostore/pkg/db/store"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/spf13/cobra"
)

// withAgent opens the agent in-process for the duration of fn. Unless the
// log level was requested explicitly, only warnings reach the terminal.
func withAgent(cmd *cobra.Command, fn func(ctx context.Context, a *agent.GoStoreAgent) error) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}

	if f := cmd.Flag("log-level"); f == nil || !f.Changed {
		cfg.Log.Level = "warn"
	}

	ctx := cmd.Context()
	a := agent.NewAgent(cfg)
	if err := a.Open(ctx); err != nil {
		return err
	}
	defer a.Close(context.Background())

	return fn(ctx, a)
}

// withService runs fn against the active storage service.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc storage.Service) error) error {
	return withAgent(cmd, func(ctx context.Context, a *agent.GoStoreAgent) error {
		return a.Switch().Do(ctx, func(svc storage.Service) error {
			return fn(ctx, svc)
		})
	})
}

// storeErr maps metadata store sentinels onto the error taxonomy.
func storeErr(err error, id uint) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return gerrors.Newf(gerrors.CodeConfigNotFound, "backend configuration %d not found", id)
	case errors.Is(err, store.ErrBackendInUse):
		return gerrors.Newf(gerrors.CodeConfigInUse, "backend configuration %d is the active backend", id)
	}
	return gerrors.Wrap(gerrors.CodeMetadataError, "metadata operation failed", err)
}
