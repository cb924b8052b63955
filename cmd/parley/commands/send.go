package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/internal/printer"
	"github.com/dyluth/parley/pkg/pipe"
)

var sendCmd = &cobra.Command{
	Use:   "send CONTACT MESSAGE...",
	Short: "Send a message to a contact",
	Long: `Run the preSendMessage pipeline over a new outgoing message and, once
every stage accepts it, store it in the contact's history.

A stage that rejects the message stops it: nothing is stored.

Examples:
  parley send alice@example.com "see you at 5"
  parley send bob hello there`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var (
	receiveType string
)

var receiveCmd = &cobra.Command{
	Use:   "receive CONTACT MESSAGE...",
	Short: "Record an incoming message from a contact",
	Long: `Store an inbound message in the contact's history, marked unread.
Useful for scripting and for driving other clients that follow the backend.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runReceive,
}

func init() {
	receiveCmd.Flags().StringVar(&receiveType, "type", string(chat.TypeChat), "Message type: chat or groupchat")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	contact, text := args[0], strings.Join(args[1:], " ")

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

	msg, err := w.Send(ctx, text)
	if err != nil {
		var stageErr *pipe.StageError
		if errors.As(err, &stageErr) {
			return printer.ErrorWithContext(
				"message rejected",
				stageErr.Err.Error(),
				map[string]string{"Pipeline": stageErr.Pipeline, "Stage": fmt.Sprint(stageErr.Index)},
				nil,
			)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}

	printer.Success("Sent %s to %s\n", shortID(msg.UID), contact)
	return nil
}

func runReceive(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	contact, text := args[0], strings.Join(args[1:], " ")

	msgType := chat.MessageType(receiveType)
	if msgType != chat.TypeChat && msgType != chat.TypeGroupChat {
		return printer.Error("invalid message type", fmt.Sprintf("Unknown type: %s", receiveType),
			[]string{"Valid types: chat, groupchat"})
	}

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

	msg := chat.NewMessage(contact, chat.DirectionIn, text)
	msg.Type = msgType
	if err := w.Receive(ctx, msg); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	printer.Success("Received %s from %s\n", shortID(msg.UID), contact)
	return nil
}

func shortID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}
