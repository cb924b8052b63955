package history

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/pkg/store"
)

// GetMessage loads a single message by uid and writes it as pretty-printed JSON.
func GetMessage(ctx context.Context, backend store.Backend, uid string, w io.Writer) error {
	if _, err := uuid.Parse(uid); err != nil {
		return fmt.Errorf("invalid message ID format: must be a valid UUID")
	}

	msg, err := chat.Load(ctx, backend, uid)
	if err != nil {
		if errors.Is(err, chat.ErrMessageNotFound) {
			return &MessageNotFoundError{UID: uid}
		}
		return fmt.Errorf("failed to fetch message: %w", err)
	}

	if err := FormatSingleJSON(w, msg); err != nil {
		return fmt.Errorf("failed to format message: %w", err)
	}

	return nil
}

// MessageNotFoundError is returned by GetMessage for unknown uids.
type MessageNotFoundError struct {
	UID string
}

func (e *MessageNotFoundError) Error() string {
	return fmt.Sprintf("message with ID '%s' not found", e.UID)
}

// IsNotFound returns true if the error is a MessageNotFoundError.
func IsNotFound(err error) bool {
	var nf *MessageNotFoundError
	return errors.As(err, &nf)
}
