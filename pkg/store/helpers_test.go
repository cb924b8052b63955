package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("backend down")

const (
	defaultWait = 2 * time.Second
	tick        = 10 * time.Millisecond
	// quietWait is how long tests watch for hooks that must not fire.
	quietWait = 150 * time.Millisecond
)

func timeout() <-chan time.Time {
	return time.After(defaultWait)
}

// finishes runs fn on its own goroutine and fails the test if it has not
// returned within defaultWait.
func finishes(t *testing.T, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-timeout():
		require.FailNow(t, "call did not return")
	}
}

// flakyBackend wraps a MemoryBackend and fails selected operations on demand.
// It deliberately does not implement Watcher.
type flakyBackend struct {
	inner *MemoryBackend

	mu         sync.Mutex
	failRead   bool
	failWrite  bool
	failDelete bool
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{inner: NewMemoryBackend()}
}

func (b *flakyBackend) set(read, write, del bool) {
	b.mu.Lock()
	b.failRead, b.failWrite, b.failDelete = read, write, del
	b.mu.Unlock()
}

func (b *flakyBackend) Read(ctx context.Context, ns, entity, key string) ([]byte, bool, error) {
	b.mu.Lock()
	fail := b.failRead
	b.mu.Unlock()
	if fail {
		return nil, false, errBackendDown
	}
	return b.inner.Read(ctx, ns, entity, key)
}

func (b *flakyBackend) Write(ctx context.Context, ns, entity, key string, raw []byte) error {
	b.mu.Lock()
	fail := b.failWrite
	b.mu.Unlock()
	if fail {
		return errBackendDown
	}
	return b.inner.Write(ctx, ns, entity, key, raw)
}

func (b *flakyBackend) Delete(ctx context.Context, ns, entity, key string) error {
	b.mu.Lock()
	fail := b.failDelete
	b.mu.Unlock()
	if fail {
		return errBackendDown
	}
	return b.inner.Delete(ctx, ns, entity, key)
}

type note struct {
	Key  string
	Text string
}

func (n note) ID() string { return n.Key }

// noteMaterializer builds notes from ids and counts its calls.
type noteMaterializer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newNoteMaterializer() *noteMaterializer {
	return &noteMaterializer{calls: map[string]int{}, fail: map[string]error{}}
}

func (m *noteMaterializer) materialize(_ context.Context, id string) (note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[id]++
	if err := m.fail[id]; err != nil {
		return note{}, err
	}
	return note{Key: id, Text: "materialized " + id}, nil
}

func (m *noteMaterializer) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

type change struct {
	New, Old any
}

// recorder collects hook invocations for later assertions.
type recorder struct {
	mu    sync.Mutex
	calls []change
	ch    chan change
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan change, 64)}
}

func (r *recorder) mapHook(newValue, oldValue any) {
	r.record(change{New: newValue, Old: oldValue})
}

func (r *recorder) collectionHook(newIDs, oldIDs []string) {
	r.record(change{New: newIDs, Old: oldIDs})
}

func (r *recorder) record(c change) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	r.ch <- c
}

func (r *recorder) snapshot() []change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]change, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) next(t *testing.T) change {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-timeout():
		require.FailNow(t, "timed out waiting for hook")
		return change{}
	}
}

func nextEvent(t *testing.T, sub *Subscription) *ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed before event arrived")
		return ev
	case <-timeout():
		require.FailNow(t, "timed out waiting for change event")
		return nil
	}
}
