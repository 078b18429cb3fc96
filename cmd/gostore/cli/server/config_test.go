package server

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/mwantia/gostore/pkg/db/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConfig(t *testing.T, args ...string) string {
	t.Helper()

	cmd := NewConfigCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestConfigMigrateStatusAndRollback(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "metadata.db")

	out := runConfig(t, "migrate", "status", "--db", dbPath)
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "pending")

	s, err := store.NewSQLiteStore(store.SQLiteConfig{Path: dbPath})
	require.NoError(t, err)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Close())

	out = runConfig(t, "migrate", "status", "--db", dbPath)
	assert.NotContains(t, out, "pending")
	assert.Contains(t, out, "Unique logical paths per backend")

	out = runConfig(t, "migrate", "rollback", "--db", dbPath)
	assert.Contains(t, out, "Rolled back migration 2")

	out = runConfig(t, "migrate", "rollback", "--db", dbPath)
	assert.Contains(t, out, "Rolled back migration 1")

	out = runConfig(t, "migrate", "rollback", "--db", dbPath)
	assert.Contains(t, out, "nothing to roll back")
}
