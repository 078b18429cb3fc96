package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	config "github.com/mwantia/gostore/internal/config/server"
	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.BaseServerConfig {
	t.Helper()

	cfg := config.GetServerDefault()
	cfg.Log.Level = "error"
	cfg.Log.NoTerminal = true
	cfg.Metadata.SQLite.Path = filepath.Join(t.TempDir(), "gostore.db")
	return &cfg
}

func TestOpenWithoutActiveBackend(t *testing.T) {
	ctx := context.Background()
	agent := NewAgent(newTestConfig(t))

	require.NoError(t, agent.Open(ctx))
	defer agent.Close(ctx)

	_, ok := agent.Switch().Active()
	assert.False(t, ok)
	assert.ElementsMatch(t, kind.All(), agent.Registry().Kinds())
}

func TestOpenRestoresActiveBackend(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)

	first := NewAgent(cfg)
	require.NoError(t, first.Open(ctx))

	backend, err := models.NewBackendConfig("local", &models.LocalSettings{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, first.Store().CreateBackendConfig(ctx, backend))

	_, err = first.Switch().SwitchTo(ctx, kind.LocalDisk, backend.ID)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second := NewAgent(cfg)
	require.NoError(t, second.Open(ctx))
	defer second.Close(ctx)

	state, ok := second.Switch().Active()
	require.True(t, ok)
	assert.Equal(t, kind.LocalDisk, state.Kind)
	assert.Equal(t, backend.ID, state.BackendID)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	agent := NewAgent(newTestConfig(t))

	require.NoError(t, agent.Open(ctx))
	require.NoError(t, agent.Close(ctx))
	require.NoError(t, agent.Close(ctx))
}

func TestServeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := NewAgent(newTestConfig(t))
	done := make(chan error, 1)
	go func() { done <- agent.Serve(ctx) }()

	require.Eventually(t, func() bool {
		agent.mutex.RLock()
		defer agent.mutex.RUnlock()
		return agent.opened
	}, 10*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	agent.mutex.RLock()
	defer agent.mutex.RUnlock()
	assert.False(t, agent.opened)
}
