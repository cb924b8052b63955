package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by Collection operations before Init.
	ErrNotInitialized = errors.New("collection not initialized")

	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("collection already initialized")

	// ErrClosed is returned by operations on a Map or Collection after Close.
	ErrClosed = errors.New("store closed")

	// ErrUnknownID is returned when asking a Collection for an id it does not hold.
	ErrUnknownID = errors.New("id not in collection")

	// ErrNoMaterializer is returned when an id has no cached item and no
	// materializer has been set.
	ErrNoMaterializer = errors.New("no materializer set")

	// ErrWatchUnsupported is returned by Follow when the backend does not implement Watcher.
	ErrWatchUnsupported = errors.New("backend does not support change feeds")

	// ErrAlreadyFollowing is returned by a second call to Follow.
	ErrAlreadyFollowing = errors.New("already following change feed")
)

// StorageError reports a failed backing store operation. It is returned to
// the caller of the operation that triggered it and is never retried.
type StorageError struct {
	Op        string // read, write, delete or decode
	Namespace string
	EntityID  string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s/%s/%s: %v", e.Op, e.Namespace, e.EntityID, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if err wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// MaterializationError reports a materializer failure for one id.
// The id stays in the collection; only its item is unavailable.
type MaterializationError struct {
	ID  string
	Err error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize %s: %v", e.ID, e.Err)
}

func (e *MaterializationError) Unwrap() error {
	return e.Err
}

// IsMaterializationError returns true if err wraps a *MaterializationError.
func IsMaterializationError(err error) bool {
	var me *MaterializationError
	return errors.As(err, &me)
}
