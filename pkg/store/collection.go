package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Item is a record that can be held by a Collection.
type Item interface {
	ID() string
}

// Materializer turns a bare id into a fully loaded item. It must be
// deterministic for a given id within one process and must not call back
// into the Collection that invokes it.
type Materializer[T Item] func(ctx context.Context, id string) (T, error)

// CollectionHook observes the id sequence of a Collection. Both slices are
// private copies taken immediately after and before the change.
type CollectionHook func(newIDs, oldIDs []string)

// Visitor is called by Empty for every id before it is removed. item is the
// cached item when materialized is true, and the zero value otherwise.
type Visitor[T Item] func(id string, item T, materialized bool)

// Collection is a persisted, ordered, deduplicated sequence of ids with a
// lazily filled id -> item cache. The sequence is stored as a JSON array
// under the "ids" entry of (namespace, entityID).
type Collection[T Item] struct {
	backend   Backend
	namespace string
	entityID  string
	opts      options

	// writeMu serializes Init, Push, Empty and Reload. Hooks run after it
	// is released.
	writeMu sync.Mutex
	queue   notifyQueue

	mu          sync.RWMutex
	initialized bool
	ids         []string
	index       map[string]struct{}
	cache       map[string]T
	materialize Materializer[T]

	// materializeMu makes concurrent cache misses for the same id call the
	// materializer once.
	materializeMu sync.Mutex

	hooks  Hooks[CollectionHook]
	follow followState
	closed atomic.Bool
}

// NewCollection creates a Collection over backend. Init must be called before use.
func NewCollection[T Item](backend Backend, namespace, entityID string, opts ...Option) *Collection[T] {
	return &Collection[T]{
		backend:   backend,
		namespace: namespace,
		entityID:  entityID,
		opts:      newOptions(opts),
		ids:       []string{},
		index:     make(map[string]struct{}),
		cache:     make(map[string]T),
	}
}

// SetMaterializer registers the function used to turn ids that were not
// pushed through this instance into items.
func (c *Collection[T]) SetMaterializer(fn Materializer[T]) {
	c.mu.Lock()
	c.materialize = fn
	c.mu.Unlock()
}

// Init loads the persisted sequence (empty if none was stored) and
// materializes every id. Materializer failures do not abort Init: the ids
// stay in the sequence and the failures are returned joined together as
// *MaterializationError values.
func (c *Collection[T]) Init(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	initialized := c.initialized
	c.mu.RUnlock()
	if initialized {
		return ErrAlreadyInitialized
	}

	ids, err := c.load(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.setIDs(ids)
	c.initialized = true
	c.mu.Unlock()

	return c.observe(ctx, ids)
}

// Push appends item's id if it is not already present, caches item, persists
// the sequence and fires the collection hooks. Pushing an id that is already
// present does nothing.
//
// Hooks may call Push or Empty on the Collection notifying them; the nested
// change is committed at once and notified after the current notification.
func (c *Collection[T]) Push(ctx context.Context, item T) error {
	if c.closed.Load() {
		return ErrClosed
	}
	id := item.ID()
	if id == "" {
		return fmt.Errorf("cannot push item with empty id")
	}
	return c.mutate(func() error {
		return c.pushLocked(ctx, id, item)
	})
}

func (c *Collection[T]) pushLocked(ctx context.Context, id string, item T) error {
	c.mu.RLock()
	if !c.initialized {
		c.mu.RUnlock()
		return ErrNotInitialized
	}
	_, present := c.index[id]
	old := cloneIDs(c.ids)
	c.mu.RUnlock()

	if present {
		return nil
	}

	next := append(cloneIDs(old), id)
	if err := c.persist(ctx, next); err != nil {
		return err
	}

	c.mu.Lock()
	c.setIDs(next)
	c.cache[id] = item
	c.mu.Unlock()

	c.fire(next, old)
	return nil
}

// Empty removes every id. visitor (which may be nil) runs once per id, in
// sequence order, before anything is cleared, so callers can release what
// each item owns. A panicking visitor is logged and does not stop the
// clear. Emptying an empty collection does nothing and fires no hooks.
//
// If the backend delete fails the in-memory state is left untouched and the
// error is returned, so the call can be retried. The visitor runs with the
// collection locked and must not mutate it.
func (c *Collection[T]) Empty(ctx context.Context, visitor Visitor[T]) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.mutate(func() error {
		return c.emptyLocked(ctx, visitor)
	})
}

func (c *Collection[T]) emptyLocked(ctx context.Context, visitor Visitor[T]) error {
	c.mu.RLock()
	if !c.initialized {
		c.mu.RUnlock()
		return ErrNotInitialized
	}
	old := cloneIDs(c.ids)
	items := make(map[string]T, len(c.cache))
	for id, item := range c.cache {
		items[id] = item
	}
	c.mu.RUnlock()

	if len(old) == 0 {
		return nil
	}

	if visitor != nil {
		for _, id := range old {
			item, ok := items[id]
			c.opts.recovering("visitor", func() { visitor(id, item, ok) })
		}
	}

	if err := c.backend.Delete(ctx, c.namespace, c.entityID, sequenceKey); err != nil {
		return c.storageErr("delete", err)
	}

	c.mu.Lock()
	c.setIDs([]string{})
	c.cache = make(map[string]T)
	c.mu.Unlock()

	c.fire([]string{}, old)
	return nil
}

// Reload re-reads the persisted sequence. When it differs from the
// in-memory one, cached items of ids no longer present are dropped, new ids
// are materialized and the hooks fire with (persisted, previous).
func (c *Collection[T]) Reload(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.mutate(func() error {
		return c.reloadLocked(ctx)
	})
}

func (c *Collection[T]) reloadLocked(ctx context.Context) error {
	c.mu.RLock()
	if !c.initialized {
		c.mu.RUnlock()
		return ErrNotInitialized
	}
	old := cloneIDs(c.ids)
	c.mu.RUnlock()

	ids, err := c.load(ctx)
	if err != nil {
		return err
	}
	if slices.Equal(ids, old) {
		return nil
	}

	c.mu.Lock()
	c.setIDs(ids)
	for id := range c.cache {
		if _, ok := c.index[id]; !ok {
			delete(c.cache, id)
		}
	}
	c.mu.Unlock()

	matErr := c.observe(ctx, ids)
	c.fire(ids, old)
	return matErr
}

// RegisterHook appends fn to the collection observers.
func (c *Collection[T]) RegisterHook(fn CollectionHook) Handle {
	return c.hooks.Add(fn)
}

// Unregister removes a hook registered with RegisterHook.
func (c *Collection[T]) Unregister(h Handle) bool {
	return c.hooks.Remove(h)
}

// HookCount returns the number of registered collection hooks.
func (c *Collection[T]) HookCount() int {
	return c.hooks.Len()
}

// IDs returns a copy of the id sequence.
func (c *Collection[T]) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneIDs(c.ids)
}

// Len returns the number of ids.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Contains reports whether id is in the sequence.
func (c *Collection[T]) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// Item returns the item for id, materializing and caching it on first use.
func (c *Collection[T]) Item(ctx context.Context, id string) (T, error) {
	var zero T

	c.mu.RLock()
	_, present := c.index[id]
	item, cached := c.cache[id]
	c.mu.RUnlock()

	if !present {
		return zero, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	if cached {
		return item, nil
	}
	return c.materializeOne(ctx, id)
}

// Items returns the items of every id in sequence order. Ids that fail to
// materialize are skipped and reported in the returned error.
func (c *Collection[T]) Items(ctx context.Context) ([]T, error) {
	ids := c.IDs()
	out := make([]T, 0, len(ids))
	var errs []error
	for _, id := range ids {
		item, err := c.Item(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, item)
	}
	return out, errors.Join(errs...)
}

// Follow reloads the collection whenever the backend reports a write to its
// sequence, so pushes made by other clients reach this instance's hooks.
func (c *Collection[T]) Follow(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.follow.start(func() (*follower, error) {
		return startFollower(ctx, c.backend, &c.opts, func(ev *ChangeEvent) bool {
			return ev.Matches(c.namespace, c.entityID) && ev.Key == sequenceKey
		}, func(ctx context.Context, _ *ChangeEvent) {
			if err := c.Reload(ctx); err != nil && !errors.Is(err, ErrClosed) {
				c.opts.logger.Warn().Err(err).
					Str("namespace", c.namespace).
					Str("entity_id", c.entityID).
					Msg("failed to reload followed collection")
			}
		})
	})
}

// Close tears the Collection down: hooks are dropped, the follower stops
// and further mutations return ErrClosed. Persisted data is not touched.
func (c *Collection[T]) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.follow.stop()
	c.hooks.Clear()
}

// observe materializes every id in ids that is not cached yet.
func (c *Collection[T]) observe(ctx context.Context, ids []string) error {
	c.mu.RLock()
	hasMaterializer := c.materialize != nil
	c.mu.RUnlock()
	if !hasMaterializer {
		return nil
	}

	var errs []error
	for _, id := range ids {
		c.mu.RLock()
		_, cached := c.cache[id]
		c.mu.RUnlock()
		if cached {
			continue
		}
		if _, err := c.materializeOne(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Collection[T]) materializeOne(ctx context.Context, id string) (T, error) {
	c.materializeMu.Lock()
	defer c.materializeMu.Unlock()

	c.mu.RLock()
	item, cached := c.cache[id]
	fn := c.materialize
	c.mu.RUnlock()
	if cached {
		return item, nil
	}

	var zero T
	if fn == nil {
		return zero, &MaterializationError{ID: id, Err: ErrNoMaterializer}
	}

	item, err := fn(ctx, id)
	if err != nil {
		c.opts.metrics.MaterializeFailed(c.namespace)
		c.opts.logger.Warn().Err(err).
			Str("namespace", c.namespace).
			Str("id", id).
			Msg("materializer failed; id kept in sequence")
		return zero, &MaterializationError{ID: id, Err: err}
	}

	c.mu.Lock()
	// The collection may have been emptied while the materializer ran.
	if _, present := c.index[id]; present {
		c.cache[id] = item
	}
	c.mu.Unlock()
	return item, nil
}

func (c *Collection[T]) load(ctx context.Context) ([]string, error) {
	raw, ok, err := c.backend.Read(ctx, c.namespace, c.entityID, sequenceKey)
	if err != nil {
		return nil, c.storageErr("read", err)
	}
	if !ok {
		return []string{}, nil
	}
	ids, err := decodeIDs(raw)
	if err != nil {
		return nil, c.storageErr("decode", err)
	}
	return dedupe(ids), nil
}

func (c *Collection[T]) persist(ctx context.Context, ids []string) error {
	raw, err := encodeIDs(ids)
	if err != nil {
		return err
	}
	if err := c.backend.Write(ctx, c.namespace, c.entityID, sequenceKey, raw); err != nil {
		return c.storageErr("write", err)
	}
	return nil
}

// setIDs replaces the sequence and its index. Caller holds c.mu.
func (c *Collection[T]) setIDs(ids []string) {
	c.ids = ids
	c.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.index[id] = struct{}{}
	}
}

// mutate runs fn under the write lock, then delivers the notifications fn
// queued.
func (c *Collection[T]) mutate(fn func() error) error {
	c.writeMu.Lock()
	err := fn()
	c.writeMu.Unlock()
	c.queue.drain()
	return err
}

// fire queues a notification. Caller holds writeMu.
func (c *Collection[T]) fire(newIDs, oldIDs []string) {
	c.queue.enqueue(func() {
		notify(&c.opts, "collection", &c.hooks, func(fn CollectionHook) {
			fn(cloneIDs(newIDs), cloneIDs(oldIDs))
		})
	})
}

func (c *Collection[T]) storageErr(op string, err error) error {
	c.opts.metrics.StorageFailed(op)
	return &StorageError{Op: op, Namespace: c.namespace, EntityID: c.entityID, Key: sequenceKey, Err: err}
}

// dedupe drops repeated ids, keeping the first occurrence, so a sequence
// written by a misbehaving client still satisfies the uniqueness invariant.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
