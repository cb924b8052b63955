package filter

import (
	"path/filepath"
	"strings"

	"github.com/dyluth/parley/internal/chat"
)

// Criteria defines filtering criteria for messages.
// All filters are ANDed together - a message must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64          // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64          // Unix timestamp in milliseconds, 0 = no filter
	Direction        chat.Direction // Exact match, empty = no filter
	PeerGlob         string         // Glob pattern for the peer, empty = no filter
	Contains         string         // Case-insensitive substring of the text, empty = no filter
	UnreadOnly       bool
}

// Matches returns true if the message matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(msg *chat.Message) bool {
	if c.SinceTimestampMs > 0 && msg.Stamp < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && msg.Stamp > c.UntilTimestampMs {
		return false
	}

	if c.Direction != "" && msg.Direction != c.Direction {
		return false
	}

	if c.PeerGlob != "" {
		matched, err := filepath.Match(c.PeerGlob, msg.Peer)
		if err != nil || !matched {
			return false
		}
	}

	if c.Contains != "" && !strings.Contains(strings.ToLower(msg.PlaintextMessage), strings.ToLower(c.Contains)) {
		return false
	}

	if c.UnreadOnly && !msg.Unread {
		return false
	}

	return true
}

// Apply returns the messages that match, preserving order.
func (c *Criteria) Apply(msgs []*chat.Message) []*chat.Message {
	if !c.HasFilters() {
		return msgs
	}
	out := make([]*chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if c.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.Direction != "" ||
		c.PeerGlob != "" ||
		c.Contains != "" ||
		c.UnreadOnly
}
