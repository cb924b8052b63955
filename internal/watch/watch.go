package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/internal/printer"
	"github.com/dyluth/parley/pkg/store"
)

// OutputFormat selects how StreamChanges renders events.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable, one line per event
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// Filter restricts the streamed events. Empty fields match everything.
type Filter struct {
	Namespace string
	EntityID  string
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev *store.ChangeEvent) bool {
	if f.Namespace != "" && ev.Namespace != f.Namespace {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	return true
}

// StreamChanges subscribes to watcher and writes every matching event to w
// until ctx is cancelled. Undecodable events are reported as warnings and
// skipped. ready, when non-nil, is closed once the subscription is live.
func StreamChanges(ctx context.Context, watcher store.Watcher, format OutputFormat, filter Filter, w io.Writer, ready chan<- struct{}) error {
	if format != OutputFormatDefault && format != OutputFormatJSON {
		return fmt.Errorf("unknown output format: %s", format)
	}

	sub, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	defer sub.Close()

	if ready != nil {
		close(ready)
	}

	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("change feed closed")
			}
			if !filter.Matches(ev) {
				continue
			}
			if err := writeEvent(w, ev, format); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			printer.Warning("change feed error: %v\n", err)
		}
	}
}

func writeEvent(w io.Writer, ev *store.ChangeEvent, format OutputFormat) error {
	var line string
	if format == OutputFormatJSON {
		data, err := json.Marshal(jsonEvent(ev))
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		line = string(data)
	} else {
		line = FormatEvent(ev)
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// eventJSON is the --output=json rendering. Stored values are inlined as
// JSON rather than base64.
type eventJSON struct {
	Namespace string          `json:"namespace"`
	EntityID  string          `json:"entity_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
	AtMs      int64           `json:"at_ms"`
}

func jsonEvent(ev *store.ChangeEvent) eventJSON {
	out := eventJSON{
		Namespace: ev.Namespace,
		EntityID:  ev.EntityID,
		Key:       ev.Key,
		Deleted:   ev.Deleted,
		AtMs:      ev.AtMs,
	}
	if len(ev.Value) > 0 && json.Valid(ev.Value) {
		out.Value = json.RawMessage(ev.Value)
	}
	return out
}

// FormatEvent renders ev as a single human-readable line.
func FormatEvent(ev *store.ChangeEvent) string {
	ts := time.UnixMilli(ev.AtMs).Format("15:04:05")
	target := fmt.Sprintf("%s/%s", ev.Namespace, ev.EntityID)

	if ev.Deleted {
		return fmt.Sprintf("[%s] 🗑️  Deleted: %s %s", ts, target, ev.Key)
	}

	if ev.Namespace == "message" {
		var msg chat.Message
		if err := json.Unmarshal(ev.Value, &msg); err == nil && msg.UID != "" {
			return fmt.Sprintf("[%s] 💬 Message %s %s: %s", ts, arrow(msg.Direction), msg.Peer, msg.PlaintextMessage)
		}
	}

	if ev.Namespace == "history" && ev.Key == "ids" {
		var ids []string
		if err := json.Unmarshal(ev.Value, &ids); err == nil {
			return fmt.Sprintf("[%s] 📜 History: %s now holds %d message(s)", ts, ev.EntityID, len(ids))
		}
	}

	if len(ev.Value) == 0 {
		return fmt.Sprintf("[%s] ✏️  Updated: %s %s", ts, target, ev.Key)
	}
	return fmt.Sprintf("[%s] ✏️  Updated: %s %s = %s", ts, target, ev.Key, ev.Value)
}

func arrow(d chat.Direction) string {
	switch d {
	case chat.DirectionIn:
		return "from"
	case chat.DirectionOut:
		return "to"
	}
	return "about"
}
