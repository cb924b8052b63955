package store

import (
	"context"
	"fmt"
	"sync"
)

// follower consumes a backend change feed on its own goroutine and hands
// matching events to apply.
type follower struct {
	sub  *Subscription
	done chan struct{}
}

func startFollower(ctx context.Context, backend Backend, o *options, match func(*ChangeEvent) bool, apply func(context.Context, *ChangeEvent)) (*follower, error) {
	w, ok := backend.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}

	sub, err := w.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to watch backend: %w", err)
	}

	f := &follower{sub: sub, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		errs := sub.Errors()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if match(ev) {
					apply(ctx, ev)
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				o.logger.Warn().Err(err).Msg("change feed error")
			}
		}
	}()

	return f, nil
}

func (f *follower) stop() {
	_ = f.sub.Close()
}

// followState guards the single follower a Map or Collection may run.
type followState struct {
	mu sync.Mutex
	f  *follower
}

func (s *followState) start(start func() (*follower, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		return ErrAlreadyFollowing
	}
	f, err := start()
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *followState) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f != nil
}

func (s *followState) stop() {
	s.mu.Lock()
	f := s.f
	s.f = nil
	s.mu.Unlock()
	if f != nil {
		f.stop()
	}
}
