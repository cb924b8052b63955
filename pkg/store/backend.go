package store

import (
	"context"
	"sync"
)

// Backend is the durable key/value layer underneath Map and Collection.
// Entries are addressed by (namespace, entityID, key). A write is durable and
// visible to subsequent reads once Write returns.
type Backend interface {
	// Read returns the raw value and true, or (nil, false, nil) if the entry
	// does not exist.
	Read(ctx context.Context, namespace, entityID, key string) ([]byte, bool, error)
	Write(ctx context.Context, namespace, entityID, key string, raw []byte) error
	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, namespace, entityID, key string) error
}

// Watcher is implemented by backends that can report writes made by any
// client sharing the same storage, including this one.
type Watcher interface {
	Watch(ctx context.Context) (*Subscription, error)
}

// ChangeEvent describes a single write or delete on a backend.
// Value may be empty when the backend could not carry it (large values on
// Postgres); followers re-read the entry instead of trusting Value.
type ChangeEvent struct {
	Namespace string `json:"namespace"`
	EntityID  string `json:"entity_id"`
	Key       string `json:"key"`
	Value     []byte `json:"value,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	AtMs      int64  `json:"at_ms"`
}

// Matches reports whether the event addresses the given namespace and entity.
func (e *ChangeEvent) Matches(namespace, entityID string) bool {
	return e.Namespace == namespace && e.EntityID == entityID
}

// Subscription represents an active change feed.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *ChangeEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

func newSubscription(events <-chan *ChangeEvent, errs <-chan error, cancel func()) *Subscription {
	return &Subscription{events: events, errors: errs, cancel: cancel}
}

// Events returns the channel of change events.
// The channel is closed when the subscription is closed or its context is cancelled.
func (s *Subscription) Events() <-chan *ChangeEvent {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors, such as
// undecodable payloads. The subscription continues after an error.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}
