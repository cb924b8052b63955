package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.db")
	ctx := context.Background()

	first, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	history := NewCollection[note](first, "history", "alice")
	require.NoError(t, history.Init(ctx))
	require.NoError(t, history.Push(ctx, note{Key: "m1"}))
	require.NoError(t, history.Push(ctx, note{Key: "m2"}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, path, second.Path())

	reopened := NewCollection[note](second, "history", "alice")
	require.NoError(t, reopened.Init(ctx))
	assert.Equal(t, []string{"m1", "m2"}, reopened.IDs())
}

func TestSQLiteBackendTracksUpdateTime(t *testing.T) {
	backend := setupTestSQLiteBackend(t)
	ctx := context.Background()
	require.NoError(t, backend.Write(ctx, "ns", "e", "k", []byte(`1`)))

	var updated int64
	err := backend.DB().QueryRowContext(ctx,
		`SELECT updated_at_ms FROM entries WHERE namespace = 'ns' AND entity_id = 'e' AND key = 'k'`).Scan(&updated)
	require.NoError(t, err)
	assert.Positive(t, updated)
}

func TestSQLiteBackendClosedDatabaseErrors(t *testing.T) {
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	_, _, err = backend.Read(context.Background(), "ns", "e", "k")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "select entry")
}
