package store

import (
	"context"
	"sync"
)

// fanout delivers change events to in-process subscribers. Each subscriber
// gets its own unbounded queue, so publishing never blocks on a slow reader.
// The zero value is ready to use.
type fanout struct {
	mu       sync.Mutex
	watchers map[uint64]*queueWatcher
	nextID   uint64
}

func (f *fanout) watch(ctx context.Context) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	w := &queueWatcher{
		signal: make(chan struct{}, 1),
		cancel: cancel,
	}

	f.mu.Lock()
	if f.watchers == nil {
		f.watchers = make(map[uint64]*queueWatcher)
	}
	f.nextID++
	id := f.nextID
	f.watchers[id] = w
	f.mu.Unlock()

	events := make(chan *ChangeEvent)
	errs := make(chan error)

	go func() {
		defer close(events)
		defer close(errs)
		defer func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
		}()
		w.pump(subCtx, events)
	}()

	return newSubscription(events, errs, cancel)
}

func (f *fanout) publish(ev *ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watchers {
		w.enqueue(ev)
	}
}

// close cancels every active subscription.
func (f *fanout) close() {
	f.mu.Lock()
	watchers := f.watchers
	f.watchers = nil
	f.mu.Unlock()
	for _, w := range watchers {
		w.cancel()
	}
}

type queueWatcher struct {
	mu     sync.Mutex
	queue  []*ChangeEvent
	signal chan struct{}
	cancel context.CancelFunc
}

func (w *queueWatcher) enqueue(ev *ChangeEvent) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *queueWatcher) pump(ctx context.Context, out chan<- *ChangeEvent) {
	for {
		w.mu.Lock()
		pending := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, ev := range pending {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-w.signal:
		case <-ctx.Done():
			return
		}
	}
}
