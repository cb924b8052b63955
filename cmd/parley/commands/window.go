package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/internal/printer"
)

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Inspect and change chat window state",
	Long: `Inspect and change the persisted state of a chat window.

A window counts as minimized until it is explicitly unminimized.`,
}

func windowAction(use, short string, action func(w *chat.Window, ctx context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CONTACT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			w, err := s.window(ctx, args[0], false)
			if err != nil {
				return fmt.Errorf("failed to open window: %w", err)
			}
			defer w.Close()

			if action != nil {
				if err := action(w, ctx); err != nil {
					return fmt.Errorf("failed to %s window: %w", use, err)
				}
			}
			return printWindowStatus(ctx, cmd, w)
		},
	}
}

func init() {
	windowCmd.AddCommand(
		windowAction("minimize", "Minimize a chat window", (*chat.Window).Minimize),
		windowAction("unminimize", "Unminimize a chat window", (*chat.Window).Unminimize),
		windowAction("toggle", "Toggle a chat window", (*chat.Window).Toggle),
		windowAction("status", "Show chat window state", nil),
	)
	rootCmd.AddCommand(windowCmd)
}

func printWindowStatus(ctx context.Context, cmd *cobra.Command, w *chat.Window) error {
	minimized, err := w.IsMinimized(ctx)
	if err != nil {
		return fmt.Errorf("failed to read window state: %w", err)
	}

	msgs, err := w.Messages(ctx)
	if err != nil {
		printer.Warning("Some messages could not be loaded: %v\n", err)
	}
	unread := 0
	for _, m := range msgs {
		if m.Unread {
			unread++
		}
	}

	state := "open"
	if minimized {
		state = "minimized"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d message(s), %d unread\n", w.Contact(), state, w.Len(), unread)
	return nil
}
