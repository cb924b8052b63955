package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// MapHook observes changes to one key of a Map. Both values are in their
// stored form (numbers as float64, objects as map[string]any), and oldValue
// is nil when the key had no previous value.
type MapHook func(newValue, oldValue any)

// Map is a reactive key/value table for one (namespace, entityID) pair.
// Reads and writes go straight to the backend, so a Map never serves stale
// values; its hooks fire synchronously inside Set and Delete.
type Map struct {
	backend   Backend
	namespace string
	entityID  string
	opts      options

	// writeMu serializes mutations. Hooks run after it is released.
	writeMu sync.Mutex
	queue   notifyQueue

	mu    sync.Mutex
	hooks map[string]*Hooks[MapHook]
	// seen holds the last raw value this Map has notified about per key; the
	// follower uses it to drop echoes of its own writes.
	seen map[string][]byte

	follow followState
	closed atomic.Bool
}

// NewMap creates a Map over backend for the given namespace and entity.
func NewMap(backend Backend, namespace, entityID string, opts ...Option) *Map {
	return &Map{
		backend:   backend,
		namespace: namespace,
		entityID:  entityID,
		opts:      newOptions(opts),
		hooks:     make(map[string]*Hooks[MapHook]),
		seen:      make(map[string][]byte),
	}
}

// Namespace returns the namespace the Map was created with.
func (m *Map) Namespace() string { return m.namespace }

// EntityID returns the entity id the Map was created with.
func (m *Map) EntityID() string { return m.entityID }

// Get returns the current value of key, or (nil, false, nil) if it was never set.
func (m *Map) Get(ctx context.Context, key string) (any, bool, error) {
	raw, ok, err := m.read(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return nil, false, m.storageErr("decode", key, err)
	}
	return v, true, nil
}

// Lookup reads key from m and decodes it into V.
// Returns the zero value and false if the key was never set.
func Lookup[V any](ctx context.Context, m *Map, key string) (V, bool, error) {
	var out V
	raw, ok, err := m.read(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, m.storageErr("decode", key, err)
	}
	return out, true, nil
}

// Set writes value under key. If the value differs from the current one,
// every hook registered for key runs with (value, previous) before Set
// returns. Writing an equal value touches nothing and fires no hooks.
//
// Hooks may call Set or Delete on the Map notifying them. Such a nested
// change is committed immediately and its hooks run once the current
// notification has reached every hook. The same applies to a Set made while
// another goroutine is delivering this Map's notifications: that goroutine
// delivers it.
//
// Equality is shallow: comparable values are compared with ==, structured
// values (maps, slices) always count as a change.
func (m *Map) Set(ctx context.Context, key string, value any) error {
	if m.closed.Load() {
		return ErrClosed
	}

	raw, err := EncodeValue(value)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	// Compare against the stored form so that, for example, an int that
	// round-trips to float64 is still equal to itself.
	normalized, err := DecodeValue(raw)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}

	return m.mutate(func() error {
		prevRaw, existed, err := m.read(ctx, key)
		if err != nil {
			return err
		}
		var prev any
		if existed {
			if prev, err = DecodeValue(prevRaw); err != nil {
				return m.storageErr("decode", key, err)
			}
			if shallowEqual(normalized, prev) {
				return nil
			}
		}

		if err := m.backend.Write(ctx, m.namespace, m.entityID, key, raw); err != nil {
			return m.storageErr("write", key, err)
		}
		m.remember(key, raw)

		m.fire(key, normalized, prev)
		return nil
	})
}

// Delete removes key. If it had a value, hooks run with (nil, previous).
func (m *Map) Delete(ctx context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	return m.mutate(func() error {
		prevRaw, existed, err := m.read(ctx, key)
		if err != nil {
			return err
		}
		if !existed {
			return nil
		}
		prev, err := DecodeValue(prevRaw)
		if err != nil {
			return m.storageErr("decode", key, err)
		}

		if err := m.backend.Delete(ctx, m.namespace, m.entityID, key); err != nil {
			return m.storageErr("delete", key, err)
		}
		m.forget(key)

		m.fire(key, nil, prev)
		return nil
	})
}

// RegisterHook appends fn to the observers of key. On a following Map the
// stored value of a newly observed key is read, so the next change made by
// another client reports it as the old value.
func (m *Map) RegisterHook(key string, fn MapHook) Handle {
	m.mu.Lock()
	hooks, ok := m.hooks[key]
	if !ok {
		hooks = &Hooks[MapHook]{}
		m.hooks[key] = hooks
	}
	m.mu.Unlock()
	if !ok && m.follow.active() {
		m.prime(context.Background(), []string{key})
	}
	return hooks.Add(fn)
}

// Unregister removes a hook registered with RegisterHook.
func (m *Map) Unregister(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, hooks := range m.hooks {
		if hooks.Remove(h) {
			return true
		}
	}
	return false
}

// HookCount returns the number of hooks registered for key.
func (m *Map) HookCount(key string) int {
	m.mu.Lock()
	hooks, ok := m.hooks[key]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return hooks.Len()
}

// Follow applies writes made by other clients of the backend to this Map,
// firing hooks for keys whose stored value changed. It returns once the
// change feed is established. The current values of the observed keys are
// read first, so the old value of the first followed change comes from
// storage. The feed runs until ctx is cancelled or the Map is closed.
func (m *Map) Follow(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	// Read before subscribing: a write landing in between is then reported
	// by the next event as a change from the primed value.
	m.mu.Lock()
	keys := make([]string, 0, len(m.hooks))
	for key := range m.hooks {
		keys = append(keys, key)
	}
	m.mu.Unlock()
	m.prime(ctx, keys)

	return m.follow.start(func() (*follower, error) {
		return startFollower(ctx, m.backend, &m.opts, func(ev *ChangeEvent) bool {
			return ev.Matches(m.namespace, m.entityID)
		}, m.apply)
	})
}

// Close tears the Map down: all hooks are dropped, the follower stops and
// further mutations return ErrClosed.
func (m *Map) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.follow.stop()
	m.mu.Lock()
	for _, hooks := range m.hooks {
		hooks.Clear()
	}
	m.hooks = make(map[string]*Hooks[MapHook])
	m.mu.Unlock()
}

// apply handles one change feed event for this Map's entity. The entry is
// re-read rather than taken from the event, so events that carry no value
// and events that arrive out of order both converge on the stored state.
func (m *Map) apply(ctx context.Context, ev *ChangeEvent) {
	_ = m.mutate(func() error {
		m.applyLocked(ctx, ev)
		return nil
	})
}

func (m *Map) applyLocked(ctx context.Context, ev *ChangeEvent) {
	if m.closed.Load() {
		return
	}

	m.mu.Lock()
	prevRaw, known := m.seen[ev.Key]
	m.mu.Unlock()

	raw, ok, err := m.read(ctx, ev.Key)
	if err != nil {
		m.opts.logger.Warn().Err(err).Str("key", ev.Key).Msg("failed to re-read followed key")
		return
	}

	var prev any
	if known {
		prev, _ = DecodeValue(prevRaw)
	}

	if !ok {
		if !known {
			return
		}
		m.forget(ev.Key)
		m.fire(ev.Key, nil, prev)
		return
	}

	if known && bytes.Equal(prevRaw, raw) {
		return
	}
	next, err := DecodeValue(raw)
	if err != nil {
		m.opts.logger.Warn().Err(err).Str("key", ev.Key).Msg("failed to decode followed key")
		return
	}
	m.remember(ev.Key, raw)
	if known && shallowEqual(next, prev) {
		return
	}
	m.fire(ev.Key, next, prev)
}

// prime records the stored value of each key not yet seen, so the first
// change delivered by the feed has the right old value.
func (m *Map) prime(ctx context.Context, keys []string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	for _, key := range keys {
		m.mu.Lock()
		_, known := m.seen[key]
		m.mu.Unlock()
		if known {
			continue
		}
		raw, ok, err := m.read(ctx, key)
		if err != nil {
			m.opts.logger.Warn().Err(err).Str("key", key).Msg("failed to read followed key")
			continue
		}
		if ok {
			m.remember(key, raw)
		}
	}
}

// mutate runs fn under the write lock, then delivers the notifications fn
// queued.
func (m *Map) mutate(fn func() error) error {
	m.writeMu.Lock()
	err := fn()
	m.writeMu.Unlock()
	m.queue.drain()
	return err
}

func (m *Map) read(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := m.backend.Read(ctx, m.namespace, m.entityID, key)
	if err != nil {
		return nil, false, m.storageErr("read", key, err)
	}
	return raw, ok, nil
}

// fire queues a notification for key. Caller holds writeMu.
func (m *Map) fire(key string, newValue, oldValue any) {
	m.queue.enqueue(func() {
		m.mu.Lock()
		hooks, ok := m.hooks[key]
		m.mu.Unlock()
		if !ok {
			return
		}
		notify(&m.opts, "map", hooks, func(fn MapHook) {
			fn(newValue, oldValue)
		})
	})
}

func (m *Map) remember(key string, raw []byte) {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.mu.Lock()
	m.seen[key] = cp
	m.mu.Unlock()
}

func (m *Map) forget(key string) {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
}

func (m *Map) storageErr(op, key string, err error) error {
	m.opts.metrics.StorageFailed(op)
	return &StorageError{Op: op, Namespace: m.namespace, EntityID: m.entityID, Key: key, Err: err}
}
