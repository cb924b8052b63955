package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries in Redis hashes, one hash per entity, and
// publishes a ChangeEvent for every write and delete.
// All keys and channels are automatically namespaced with the instance name.
// The backend is thread-safe and can be used concurrently from multiple goroutines.
type RedisBackend struct {
	rdb          *redis.Client
	instanceName string
}

var (
	_ Backend = (*RedisBackend)(nil)
	_ Watcher = (*RedisBackend)(nil)
)

// NewRedisBackend creates a backend for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: parley instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewRedisBackend(redisOpts *redis.Options, instanceName string) (*RedisBackend, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &RedisBackend{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the backend should not be used.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// RedisClient exposes the underlying client for diagnostics.
func (b *RedisBackend) RedisClient() *redis.Client {
	return b.rdb
}

// InstanceName returns the instance the backend is scoped to.
func (b *RedisBackend) InstanceName() string {
	return b.instanceName
}

// Read implements Backend with HGET on parley:{instance}:{namespace}:{entity}.
func (b *RedisBackend) Read(ctx context.Context, namespace, entityID, key string) ([]byte, bool, error) {
	raw, err := b.rdb.HGet(ctx, EntityKey(b.instanceName, namespace, entityID), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read entry from Redis: %w", err)
	}
	return raw, true, nil
}

// Write implements Backend with HSET, then publishes the change event.
func (b *RedisBackend) Write(ctx context.Context, namespace, entityID, key string, raw []byte) error {
	if err := b.rdb.HSet(ctx, EntityKey(b.instanceName, namespace, entityID), key, raw).Err(); err != nil {
		return fmt.Errorf("failed to write entry to Redis: %w", err)
	}

	return b.publish(ctx, &ChangeEvent{
		Namespace: namespace,
		EntityID:  entityID,
		Key:       key,
		Value:     raw,
		AtMs:      time.Now().UnixMilli(),
	})
}

// Delete implements Backend with HDEL. An event is published only when a
// field was actually removed.
func (b *RedisBackend) Delete(ctx context.Context, namespace, entityID, key string) error {
	removed, err := b.rdb.HDel(ctx, EntityKey(b.instanceName, namespace, entityID), key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete entry from Redis: %w", err)
	}
	if removed == 0 {
		return nil
	}

	return b.publish(ctx, &ChangeEvent{
		Namespace: namespace,
		EntityID:  entityID,
		Key:       key,
		Deleted:   true,
		AtMs:      time.Now().UnixMilli(),
	})
}

// Keys returns the entry keys stored for one entity.
func (b *RedisBackend) Keys(ctx context.Context, namespace, entityID string) ([]string, error) {
	keys, err := b.rdb.HKeys(ctx, EntityKey(b.instanceName, namespace, entityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entry keys: %w", err)
	}
	return keys, nil
}

func (b *RedisBackend) publish(ctx context.Context, ev *ChangeEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, ChangeEventsChannel(b.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Watch subscribes to change events for this instance.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Watch returns only after Redis has confirmed the subscription, so writes
// made after it returns are always delivered.
// Delivery is at-most-once: Redis Pub/Sub drops messages for subscribers
// that fall too far behind.
func (b *RedisBackend) Watch(ctx context.Context) (*Subscription, error) {
	channel := ChangeEventsChannel(b.instanceName)
	pubsub := b.rdb.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	// Create buffered channels for events and errors
	eventsChan := make(chan *ChangeEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					// Send error on error channel, skip message
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return newSubscription(eventsChan, errorsChan, cancelFunc), nil
}
