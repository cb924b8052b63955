package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestPostgresBackend(t *testing.T, dsn string) *PostgresBackend {
	ctx := context.Background()
	backend, err := NewPostgresBackend(ctx, dsn)
	require.NoError(t, err)
	_, err = backend.Pool().Exec(ctx, `TRUNCATE parley_entries`)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestNotifyPayloadDropsLargeValues(t *testing.T) {
	small, err := notifyPayload(&ChangeEvent{Namespace: "ns", EntityID: "e", Key: "k", Value: []byte(`"x"`)})
	require.NoError(t, err)
	ev, err := decodeEvent([]byte(small))
	require.NoError(t, err)
	assert.Equal(t, `"x"`, string(ev.Value))

	big := []byte(`"` + strings.Repeat("a", 10000) + `"`)
	large, err := notifyPayload(&ChangeEvent{Namespace: "ns", EntityID: "e", Key: "k", Value: big})
	require.NoError(t, err)
	assert.Less(t, len(large), maxNotifyPayload)
	ev, err = decodeEvent([]byte(large))
	require.NoError(t, err)
	assert.Empty(t, ev.Value)
	assert.Equal(t, "k", ev.Key)
}

func TestPostgresFollowLargeValue(t *testing.T) {
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set")
	}
	writer := setupTestPostgresBackend(t, dsn)
	reader, err := NewPostgresBackend(context.Background(), dsn)
	require.NoError(t, err)
	defer reader.Close()

	ctx := context.Background()
	follower := NewMap(reader, "chatWindow", "bob")
	rec := newRecorder()
	follower.RegisterHook("draft", rec.mapHook)
	require.NoError(t, follower.Follow(ctx))
	defer follower.Close()

	long := strings.Repeat("b", 9000)
	require.NoError(t, NewMap(writer, "chatWindow", "bob").Set(ctx, "draft", long))

	c := rec.next(t)
	assert.Equal(t, long, c.New)
	assert.Nil(t, c.Old)
}
