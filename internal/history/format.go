package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dyluth/parley/internal/chat"
)

// FormatTable writes messages as a table with columns ID, DIR, AGE, STATUS
// and TEXT (first line, truncated). Returns the number of rows written.
func FormatTable(w io.Writer, msgs []*chat.Message, contact string) int {
	if len(msgs) == 0 {
		fmt.Fprintf(w, "No messages with '%s'\n", contact)
		return 0
	}

	fmt.Fprintf(w, "Conversation with '%s':\n\n", contact)

	fmt.Fprintf(w, "%-10s %-4s %-8s %-7s %s\n", "ID", "DIR", "AGE", "STATUS", "TEXT")
	fmt.Fprintf(w, "%-10s %-4s %-8s %-7s %s\n",
		"----------", "----", "--------", "-------", "----------------------------------------")

	for _, m := range msgs {
		fmt.Fprintf(w, "%-10s %-4s %-8s %-7s %s\n",
			formatID(m.UID),
			formatDirection(m.Direction),
			formatTimestamp(m.Stamp),
			formatStatus(m),
			formatText(m.PlaintextMessage),
		)
	}

	noun := "message"
	if len(msgs) != 1 {
		noun = "messages"
	}
	fmt.Fprintf(w, "\n%d %s\n", len(msgs), noun)

	return len(msgs)
}

// FormatJSONL writes one compact JSON object per message, for piping into jq.
func FormatJSONL(w io.Writer, msgs []*chat.Message) error {
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes a single message as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, msg *chat.Message) error {
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID truncates the uid to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDirection(d chat.Direction) string {
	switch d {
	case chat.DirectionIn:
		return "<"
	case chat.DirectionOut:
		return ">"
	case chat.DirectionSys:
		return "*"
	}
	return "?"
}

// formatStatus shows "failed" for messages the transport rejected and
// "unread" for unread inbound messages.
func formatStatus(m *chat.Message) string {
	switch {
	case m.ErrorMessage != "":
		return "failed"
	case m.Unread:
		return "unread"
	}
	return "-"
}

// formatText returns the first non-empty line, at most 40 characters.
func formatText(text string) string {
	var first string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			first = trimmed
			break
		}
	}
	if first == "" {
		return "-"
	}
	if utf8.RuneCountInString(first) > 40 {
		return string([]rune(first)[:37]) + "..."
	}
	return first
}

// formatTimestamp renders a millisecond timestamp as a relative age like "2m ago".
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
