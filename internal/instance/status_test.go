package instance

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/parley/internal/config"
	"github.com/dyluth/parley/pkg/store"
)

func TestDetermineStatus_InProcess(t *testing.T) {
	status := DetermineStatus(context.Background(), store.NewMemoryBackend())
	assert.Equal(t, StatusInProcess, status)
}

func TestDetermineStatus_Reachable(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := store.NewRedisBackend(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, StatusReachable, DetermineStatus(context.Background(), b))
}

func TestDetermineStatus_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := store.NewRedisBackend(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	defer b.Close()
	mr.Close()

	assert.Equal(t, StatusUnreachable, DetermineStatus(context.Background(), b))
}

func TestDescribe(t *testing.T) {
	info := Describe(context.Background(), "prod", config.BackendMemory, store.NewMemoryBackend())
	assert.Equal(t, InstanceInfo{
		Name:      "prod",
		Backend:   config.BackendMemory,
		Status:    StatusInProcess,
		Watchable: true,
	}, info)
}
