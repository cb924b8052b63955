package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
// Set to 6 characters to balance usability with collision avoidance.
const MinShortIDLength = 6

// ResolveMessageID resolves id against the uids of one conversation.
// A full uid is returned as is when present; anything shorter is treated as
// a prefix and must match exactly one uid.
func ResolveMessageID(ids []string, id string) (string, error) {
	if len(id) == 36 && strings.Count(id, "-") == 4 {
		for _, candidate := range ids {
			if candidate == id {
				return id, nil
			}
		}
		return "", &NotFoundError{ShortID: id}
	}

	if len(id) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(id))
	}

	var matches []string
	for _, candidate := range ids {
		if strings.HasPrefix(candidate, id) {
			matches = append(matches, candidate)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: id}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: id, Matches: matches}
	}
}

// NotFoundError indicates no message matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no messages found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple messages matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d messages", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous short IDs.
// Lists all matching uids (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous short ID '%s' matches %d messages:\n", err.ShortID, len(err.Matches))

	shown := min(len(err.Matches), 10)
	for _, m := range err.Matches[:shown] {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if len(err.Matches) > shown {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-shown)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the message.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}
