package instance

import (
	"context"

	"github.com/dyluth/parley/pkg/store"
)

// Status represents the reachability of an instance's backing store
type Status string

const (
	// StatusReachable indicates the backend answered a ping
	StatusReachable Status = "Reachable"

	// StatusUnreachable indicates the backend did not answer a ping
	StatusUnreachable Status = "Unreachable"

	// StatusInProcess indicates a backend that lives in this process and cannot fail
	StatusInProcess Status = "In-process"
)

// Pinger is implemented by backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DetermineStatus pings b if it supports pinging.
func DetermineStatus(ctx context.Context, b store.Backend) Status {
	p, ok := b.(Pinger)
	if !ok {
		return StatusInProcess
	}
	if err := p.Ping(ctx); err != nil {
		return StatusUnreachable
	}
	return StatusReachable
}

// InstanceInfo holds information about a parley instance
type InstanceInfo struct {
	Name      string `json:"name"`
	Backend   string `json:"backend"`
	Status    Status `json:"status"`
	Watchable bool   `json:"watchable"`
}

// Describe collects InstanceInfo for an opened backend.
func Describe(ctx context.Context, name, backendType string, b store.Backend) InstanceInfo {
	_, watchable := b.(store.Watcher)
	return InstanceInfo{
		Name:      name,
		Backend:   backendType,
		Status:    DetermineStatus(ctx, b),
		Watchable: watchable,
	}
}
