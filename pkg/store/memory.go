package store

import (
	"context"
	"sync"
	"time"
)

type entryKey struct {
	namespace string
	entityID  string
	key       string
}

// MemoryBackend keeps entries in process. It implements Watcher by fanning
// every write out to its subscribers; delivery never blocks the writer.
// Safe for concurrent use.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[entryKey][]byte
	feed    fanout
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Watcher = (*MemoryBackend)(nil)
)

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[entryKey][]byte),
	}
}

// Read implements Backend.
func (b *MemoryBackend) Read(ctx context.Context, namespace, entityID, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	raw, ok := b.entries[entryKey{namespace, entityID, key}]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return copyBytes(raw), true, nil
}

// Write implements Backend.
func (b *MemoryBackend) Write(ctx context.Context, namespace, entityID, key string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.entries[entryKey{namespace, entityID, key}] = copyBytes(raw)
	b.mu.Unlock()

	b.publish(&ChangeEvent{Namespace: namespace, EntityID: entityID, Key: key, Value: copyBytes(raw), AtMs: time.Now().UnixMilli()})
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(ctx context.Context, namespace, entityID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := entryKey{namespace, entityID, key}
	b.mu.Lock()
	_, existed := b.entries[k]
	delete(b.entries, k)
	b.mu.Unlock()

	if existed {
		b.publish(&ChangeEvent{Namespace: namespace, EntityID: entityID, Key: key, Deleted: true, AtMs: time.Now().UnixMilli()})
	}
	return nil
}

// Len returns the number of stored entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close implements io.Closer. Active subscriptions are closed.
func (b *MemoryBackend) Close() error {
	b.feed.close()
	return nil
}

// Watch implements Watcher.
func (b *MemoryBackend) Watch(ctx context.Context) (*Subscription, error) {
	return b.feed.watch(ctx), nil
}

func (b *MemoryBackend) publish(ev *ChangeEvent) {
	b.feed.publish(ev)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
