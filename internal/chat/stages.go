package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dyluth/parley/internal/config"
	"github.com/dyluth/parley/pkg/pipe"
)

// PreSendPipeline is run on every outgoing message with (contactID, *Message).
const PreSendPipeline = "preSendMessage"

var (
	// ErrEmptyMessage is returned by the reject-empty stage.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned by the max-length stage.
	ErrMessageTooLong = errors.New("message too long")
)

// MessageStage adapts a function over (contact, message) to a pipe.Stage.
// fn may modify msg in place; its output tuple is (contact, msg).
func MessageStage(fn func(ctx context.Context, contact string, msg *Message) error) pipe.Stage {
	return func(ctx context.Context, args pipe.Tuple) (pipe.Tuple, error) {
		contact, msg, err := messageArgs(args)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, contact, msg); err != nil {
			return nil, err
		}
		return pipe.Tuple{contact, msg}, nil
	}
}

func messageArgs(args pipe.Tuple) (string, *Message, error) {
	if len(args) != 2 {
		return "", nil, fmt.Errorf("expected (contact, message), got %d arguments", len(args))
	}
	contact, ok := args[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("expected contact string, got %T", args[0])
	}
	msg, ok := args[1].(*Message)
	if !ok || msg == nil {
		return "", nil, fmt.Errorf("expected *Message, got %T", args[1])
	}
	return contact, msg, nil
}

// Trim strips leading and trailing whitespace.
func Trim() pipe.Stage {
	return MessageStage(func(_ context.Context, _ string, msg *Message) error {
		msg.PlaintextMessage = strings.TrimSpace(msg.PlaintextMessage)
		return nil
	})
}

// RejectEmpty rejects messages with no text.
func RejectEmpty() pipe.Stage {
	return MessageStage(func(_ context.Context, _ string, msg *Message) error {
		if msg.PlaintextMessage == "" {
			return ErrEmptyMessage
		}
		return nil
	})
}

// MaxLength rejects messages longer than limit characters.
func MaxLength(limit int) pipe.Stage {
	return MessageStage(func(_ context.Context, _ string, msg *Message) error {
		if n := utf8.RuneCountInString(msg.PlaintextMessage); n > limit {
			return fmt.Errorf("%w: %d characters (max: %d)", ErrMessageTooLong, n, limit)
		}
		return nil
	})
}

// Prefix prepends text to the message.
func Prefix(text string) pipe.Stage {
	return MessageStage(func(_ context.Context, _ string, msg *Message) error {
		msg.PlaintextMessage = text + msg.PlaintextMessage
		return nil
	})
}

// StageFactory builds a stage from its configuration entry.
type StageFactory func(cfg config.StageConfig) (pipe.Stage, error)

var stageFactories = map[string]StageFactory{
	"trim":         func(config.StageConfig) (pipe.Stage, error) { return Trim(), nil },
	"reject-empty": func(config.StageConfig) (pipe.Stage, error) { return RejectEmpty(), nil },
	"max-length": func(cfg config.StageConfig) (pipe.Stage, error) {
		if cfg.Limit <= 0 {
			return nil, fmt.Errorf("max-length requires a positive limit")
		}
		return MaxLength(cfg.Limit), nil
	},
	"prefix": func(cfg config.StageConfig) (pipe.Stage, error) {
		if cfg.Text == "" {
			return nil, fmt.Errorf("prefix requires text")
		}
		return Prefix(cfg.Text), nil
	},
}

// StageNames lists the stage names usable in configuration.
func StageNames() []string {
	names := make([]string, 0, len(stageFactories))
	for name := range stageFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry registers every configured pipeline into a new registry.
func BuildRegistry(cfg *config.Config, opts ...pipe.Option) (*pipe.Registry, error) {
	reg := pipe.NewRegistry(opts...)
	for name, entries := range cfg.Pipelines {
		stages := make([]pipe.Stage, 0, len(entries))
		for i, entry := range entries {
			factory, ok := stageFactories[entry.Stage]
			if !ok {
				return nil, fmt.Errorf("pipeline '%s' stage %d: unknown stage '%s' (valid: %s)",
					name, i, entry.Stage, strings.Join(StageNames(), ", "))
			}
			stage, err := factory(entry)
			if err != nil {
				return nil, fmt.Errorf("pipeline '%s' stage %d: %w", name, i, err)
			}
			stages = append(stages, stage)
		}
		reg.Register(name, stages...)
	}
	return reg, nil
}
