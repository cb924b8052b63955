package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/parley/pkg/store"
)

// Direction of a message relative to the local user
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
	DirectionSys Direction = "sys"
)

// MessageType mirrors the conversation type of the peer
type MessageType string

const (
	TypeChat      MessageType = "chat"
	TypeGroupChat MessageType = "groupchat"
)

const (
	messageNamespace = "message"
	messageKey       = "data"
)

// ErrMessageNotFound is returned when loading a uid that was never saved.
var ErrMessageNotFound = errors.New("message not found")

// Message is a single chat line. It satisfies store.Item through ID, so
// messages can be held directly in a history collection.
type Message struct {
	UID              string      `json:"uid"`
	Peer             string      `json:"peer"`
	Direction        Direction   `json:"direction"`
	Type             MessageType `json:"type"`
	PlaintextMessage string      `json:"plaintextMessage"`
	Stamp            int64       `json:"stamp"` // unix ms
	Unread           bool        `json:"unread,omitempty"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`

	store *MessageStore
}

// NewMessage creates an unsaved message with a fresh uid and the current time.
func NewMessage(peer string, direction Direction, text string) *Message {
	return &Message{
		UID:              uuid.New().String(),
		Peer:             peer,
		Direction:        direction,
		Type:             TypeChat,
		PlaintextMessage: text,
		Stamp:            time.Now().UnixMilli(),
	}
}

// ID implements store.Item.
func (m *Message) ID() string { return m.UID }

// DirectionString returns the direction as shown to users.
func (m *Message) DirectionString() string { return string(m.Direction) }

// Time returns Stamp as a time.Time.
func (m *Message) Time() time.Time { return time.UnixMilli(m.Stamp) }

// Save persists the message through the store it was loaded from or
// attached to.
func (m *Message) Save(ctx context.Context) error {
	if m.store == nil {
		return fmt.Errorf("message %s is not attached to a store", m.UID)
	}
	return m.store.Save(ctx, m)
}

// Delete removes the persisted message.
func (m *Message) Delete(ctx context.Context) error {
	if m.store == nil {
		return fmt.Errorf("message %s is not attached to a store", m.UID)
	}
	return m.store.Delete(ctx, m.UID)
}

// Load reads the message with the given uid from backend.
func Load(ctx context.Context, backend store.Backend, uid string) (*Message, error) {
	return NewMessageStore(backend).Load(ctx, uid)
}

// MessageStore persists messages under namespace "message", one entity per uid.
type MessageStore struct {
	backend store.Backend
}

// NewMessageStore creates a MessageStore over backend.
func NewMessageStore(backend store.Backend) *MessageStore {
	return &MessageStore{backend: backend}
}

// Attach binds m to s so that m.Save and m.Delete work.
func (s *MessageStore) Attach(m *Message) *Message {
	m.store = s
	return m
}

// Save writes m and attaches it to s.
func (s *MessageStore) Save(ctx context.Context, m *Message) error {
	if m.UID == "" {
		return fmt.Errorf("cannot save message without uid")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.backend.Write(ctx, messageNamespace, m.UID, messageKey, raw); err != nil {
		return fmt.Errorf("failed to save message %s: %w", m.UID, err)
	}
	m.store = s
	return nil
}

// Load reads the message with the given uid.
func (s *MessageStore) Load(ctx context.Context, uid string) (*Message, error) {
	raw, ok, err := s.backend.Read(ctx, messageNamespace, uid, messageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", uid, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, uid)
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", uid, err)
	}
	m.store = s
	return &m, nil
}

// Delete removes the message with the given uid. Deleting a missing message
// is not an error.
func (s *MessageStore) Delete(ctx context.Context, uid string) error {
	if err := s.backend.Delete(ctx, messageNamespace, uid, messageKey); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", uid, err)
	}
	return nil
}
