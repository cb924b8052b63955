package history

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/internal/filter"
	"github.com/dyluth/parley/internal/printer"
)

// OutputFormat specifies how to format the message list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated text
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete messages as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates an --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSONL:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format: %s (must be 'default' or 'jsonl')", s)
}

// ListMessages writes the history of window to w, oldest first.
// Messages that can no longer be loaded are skipped with a warning.
// Applies filter criteria if provided.
func ListMessages(ctx context.Context, window *chat.Window, format OutputFormat, filters *filter.Criteria, w io.Writer) error {
	msgs, err := window.Messages(ctx)
	if err != nil {
		printer.Warning("Skipping messages that could not be loaded: %v\n", err)
	}

	if filters != nil {
		msgs = filters.Apply(msgs)
	}

	// History order is arrival order; stamps give a stable chronological view
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Stamp < msgs[j].Stamp
	})

	switch format {
	case OutputFormatDefault, "":
		FormatTable(w, msgs, window.Contact())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, msgs); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}
