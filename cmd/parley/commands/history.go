package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/internal/filter"
	"github.com/dyluth/parley/internal/history"
	"github.com/dyluth/parley/internal/printer"
	"github.com/dyluth/parley/internal/resolver"
	"github.com/dyluth/parley/internal/timespec"
)

var (
	historyOutputFormat string
	historySince        string
	historyUntil        string
	historyDirection    string
	historyContains     string
	historyUnread       bool
	historyMarkRead     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and clear conversation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list CONTACT",
	Short: "List the messages exchanged with a contact",
	Long: `List the history of a conversation as a table or JSONL stream.

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one message per line

Time Filters:
  --since  - Show messages sent after this time
  --until  - Show messages sent before this time

Examples:
  parley history list bob
  parley history list bob --since=2h --direction=in
  parley history list bob --output=jsonl | jq -r .plaintextMessage`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryList,
}

var historyGetCmd = &cobra.Command{
	Use:   "get CONTACT MESSAGE_ID",
	Short: "Show one message as JSON",
	Long: `Show the complete details of one message as pretty-printed JSON.
Supports short IDs (e.g., "abc123" instead of full UUID).`,
	Args: cobra.ExactArgs(2),
	RunE: runHistoryGet,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear CONTACT",
	Short: "Delete every message exchanged with a contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryClear,
}

func init() {
	f := historyListCmd.Flags()
	f.StringVarP(&historyOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	f.StringVar(&historySince, "since", "", "Show messages after time (duration, days or RFC3339)")
	f.StringVar(&historyUntil, "until", "", "Show messages before time (duration, days or RFC3339)")
	f.StringVar(&historyDirection, "direction", "", "Filter by direction: in, out or sys")
	f.StringVar(&historyContains, "contains", "", "Filter by text (case-insensitive)")
	f.BoolVar(&historyUnread, "unread", false, "Only show unread messages")
	f.BoolVar(&historyMarkRead, "mark-read", false, "Mark listed messages as read")

	historyCmd.AddCommand(historyListCmd, historyGetCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := history.ParseOutputFormat(historyOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	since, until, err := timespec.ParseRange(historySince, historyUntil)
	if err != nil {
		return printer.Error("invalid time range", err.Error(),
			[]string{"Use a duration like '1h30m', days like '7d' or RFC3339 like '2025-10-29T13:00:00Z'"})
	}

	direction := chat.Direction(historyDirection)
	switch direction {
	case "", chat.DirectionIn, chat.DirectionOut, chat.DirectionSys:
	default:
		return printer.Error("invalid direction", fmt.Sprintf("Unknown direction: %s", historyDirection),
			[]string{"Valid directions: in, out, sys"})
	}

	criteria := &filter.Criteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		Direction:        direction,
		Contains:         historyContains,
		UnreadOnly:       historyUnread,
	}

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

	if err := history.ListMessages(ctx, w, format, criteria, cmd.OutOrStdout()); err != nil {
		return err
	}

	if historyMarkRead {
		if err := w.MarkRead(ctx); err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
	}
	return nil
}

func runHistoryGet(cmd *cobra.Command, args []string) error {
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

	uid, err := resolver.ResolveMessageID(w.IDs(), args[1])
	if err != nil {
		var ambiguous *resolver.AmbiguousError
		if errors.As(err, &ambiguous) {
			return printer.Error("ambiguous message ID", resolver.FormatAmbiguousError(ambiguous), nil)
		}
		if resolver.IsNotFoundError(err) {
			return printer.Error("message not found",
				fmt.Sprintf("No message in the conversation with %s matches '%s'.", args[0], args[1]),
				[]string{fmt.Sprintf("List the conversation:\n  parley history list %s", args[0])})
		}
		return printer.Error("invalid message ID", err.Error(), nil)
	}

	if err := history.GetMessage(ctx, s.backend, uid, cmd.OutOrStdout()); err != nil {
		if history.IsNotFound(err) {
			return printer.Error("message not found", err.Error(), nil)
		}
		return err
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	contact := args[0]

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := s.window(ctx, contact, false)
	if err != nil {
		return fmt.Errorf("failed to open window: %w", err)
	}
	defer w.Close()

	n := w.Len()
	if err := w.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	printer.Success("Cleared %d message(s) with %s\n", n, contact)
	return nil
}
