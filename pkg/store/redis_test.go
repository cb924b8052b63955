package store

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisBackend(t *testing.T) {
	t.Run("creates backend successfully", func(t *testing.T) {
		backend, _ := setupTestRedisBackend(t)
		assert.NotNil(t, backend)
		assert.Equal(t, "test-instance", backend.InstanceName())
		assert.NoError(t, backend.Ping(context.Background()))
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewRedisBackend(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestRedisBackendHashLayout(t *testing.T) {
	backend, mr := setupTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Write(ctx, "chatWindow", "alice@example.org", "minimized", []byte(`false`)))
	require.NoError(t, backend.Write(ctx, "chatWindow", "alice@example.org", "draft", []byte(`"hi"`)))

	key := "parley:test-instance:chatWindow:alice@example.org"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, "false", mr.HGet(key, "minimized"))

	keys, err := backend.Keys(ctx, "chatWindow", "alice@example.org")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"minimized", "draft"}, keys)
}

func TestRedisBackendInstanceNamespacing(t *testing.T) {
	backend, mr := setupTestRedisBackend(t)
	other, err := NewRedisBackend(&redis.Options{Addr: mr.Addr()}, "other-instance")
	require.NoError(t, err)
	defer other.Close()

	ctx := context.Background()
	require.NoError(t, backend.Write(ctx, "ns", "e", "k", []byte(`1`)))

	_, ok, err := other.Read(ctx, "ns", "e", "k")
	require.NoError(t, err)
	assert.False(t, ok, "instances must not see each other's entries")
}

func TestRedisBackendSubscriptionErrorChannel(t *testing.T) {
	backend, mr := setupTestRedisBackend(t)
	ctx := context.Background()

	sub, err := backend.Watch(ctx)
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish(ChangeEventsChannel("test-instance"), "not json")

	select {
	case err := <-sub.Errors():
		assert.Error(t, err)
	case <-timeout():
		t.Fatal("expected decode error on error channel")
	}

	// The subscription keeps delivering after a bad payload.
	require.NoError(t, backend.Write(ctx, "ns", "e", "k", []byte(`1`)))
	ev := nextEvent(t, sub)
	assert.Equal(t, "k", ev.Key)
}

func TestRedisBackendDeleteMissingPublishesNothing(t *testing.T) {
	backend, _ := setupTestRedisBackend(t)
	ctx := context.Background()

	sub, err := backend.Watch(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, backend.Delete(ctx, "ns", "e", "missing"))
	require.NoError(t, backend.Write(ctx, "ns", "e", "present", []byte(`1`)))

	ev := nextEvent(t, sub)
	assert.Equal(t, "present", ev.Key, "first event must be the write, not the no-op delete")
}

func TestRedisBackendClosedClientErrors(t *testing.T) {
	backend, _ := setupTestRedisBackend(t)
	require.NoError(t, backend.Close())

	_, _, err := backend.Read(context.Background(), "ns", "e", "k")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read entry from Redis")
}
