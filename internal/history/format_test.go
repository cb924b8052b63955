package history

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/parley/internal/chat"
)

func TestFormatText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{name: "empty", text: "", expected: "-"},
		{name: "short", text: "hello", expected: "hello"},
		{name: "exactly 40 chars", text: strings.Repeat("a", 40), expected: strings.Repeat("a", 40)},
		{name: "41 chars", text: strings.Repeat("a", 41), expected: strings.Repeat("a", 37) + "..."},
		{name: "multi-byte runes", text: strings.Repeat("ö", 41), expected: strings.Repeat("ö", 37) + "..."},
		{name: "first line only", text: "first\nsecond", expected: "first"},
		{name: "blank lines skipped", text: "  \n  hello world  \n", expected: "hello world"},
		{name: "only whitespace", text: " \n\t\n", expected: "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatText(tt.text))
		})
	}
}

func TestFormatDirectionAndStatus(t *testing.T) {
	assert.Equal(t, "<", formatDirection(chat.DirectionIn))
	assert.Equal(t, ">", formatDirection(chat.DirectionOut))
	assert.Equal(t, "*", formatDirection(chat.DirectionSys))
	assert.Equal(t, "?", formatDirection("sideways"))

	assert.Equal(t, "-", formatStatus(&chat.Message{}))
	assert.Equal(t, "unread", formatStatus(&chat.Message{Unread: true}))
	assert.Equal(t, "failed", formatStatus(&chat.Message{Unread: true, ErrorMessage: "offline"}))
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "-", formatTimestamp(0))
	assert.Equal(t, "5m ago", formatTimestamp(now.Add(-5*time.Minute-time.Second).UnixMilli()))
	assert.Equal(t, "3h ago", formatTimestamp(now.Add(-3*time.Hour-time.Minute).UnixMilli()))
	assert.Equal(t, "2d ago", formatTimestamp(now.Add(-49*time.Hour).UnixMilli()))
	assert.Contains(t, formatTimestamp(now.UnixMilli()), "s ago")
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "abc", formatID("abc"))
	assert.Equal(t, "12345678", formatID("1234567890"))
}

func TestFormatTable(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatTable(&buf, nil, "bob")
		assert.Equal(t, 0, n)
		assert.Equal(t, "No messages with 'bob'\n", buf.String())
	})

	t.Run("rows", func(t *testing.T) {
		var buf bytes.Buffer
		msgs := []*chat.Message{
			{UID: "aaaaaaaa-1111", Direction: chat.DirectionOut, PlaintextMessage: "hi bob", Stamp: time.Now().UnixMilli()},
			{UID: "bbbbbbbb-2222", Direction: chat.DirectionIn, PlaintextMessage: "hi!", Unread: true, Stamp: time.Now().UnixMilli()},
		}
		n := FormatTable(&buf, msgs, "bob")
		assert.Equal(t, 2, n)

		out := buf.String()
		assert.Contains(t, out, "Conversation with 'bob':")
		assert.Contains(t, out, "aaaaaaaa")
		assert.NotContains(t, out, "aaaaaaaa-1111")
		assert.Contains(t, out, "hi bob")
		assert.Contains(t, out, "unread")
		assert.Contains(t, out, "2 messages")
	})

	t.Run("singular count", func(t *testing.T) {
		var buf bytes.Buffer
		FormatTable(&buf, []*chat.Message{{UID: "x", Direction: chat.DirectionSys, PlaintextMessage: "joined"}}, "bob")
		assert.Contains(t, buf.String(), "\n1 message\n")
	})
}

func TestFormatJSONL(t *testing.T) {
	var buf bytes.Buffer
	msgs := []*chat.Message{
		{UID: "one", Peer: "bob", Direction: chat.DirectionOut, PlaintextMessage: "first"},
		{UID: "two", Peer: "bob", Direction: chat.DirectionIn, PlaintextMessage: "second\nline"},
	}
	require.NoError(t, FormatJSONL(&buf, msgs))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var decoded chat.Message
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &decoded))
	assert.Equal(t, "two", decoded.UID)
	assert.Equal(t, "second\nline", decoded.PlaintextMessage)
}

func TestFormatSingleJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatSingleJSON(&buf, &chat.Message{UID: "one", PlaintextMessage: "hi"}))
	assert.Contains(t, buf.String(), "\n  \"uid\": \"one\",\n")
	assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
}
