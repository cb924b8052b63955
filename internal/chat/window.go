package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dyluth/parley/pkg/metrics"
	"github.com/dyluth/parley/pkg/pipe"
	"github.com/dyluth/parley/pkg/store"
)

const (
	propertiesNamespace = "chatWindow"
	historyNamespace    = "history"
	minimizedKey        = "minimized"
)

// Transport hands an outgoing message to the network. No protocol is
// implemented here; callers plug in their own.
type Transport interface {
	SendMessage(ctx context.Context, msg *Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg *Message) error

// SendMessage implements Transport.
func (f TransportFunc) SendMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Deps holds what a Window needs from its surroundings.
type Deps struct {
	Backend   store.Backend
	Pipelines *pipe.Registry // nil sends messages unmodified
	Transport Transport      // nil stores outgoing messages without sending them
	Logger    *zerolog.Logger
	Metrics   *metrics.Metrics

	// Follow makes the window observe writes from other clients of the
	// backend. Backends without a change feed are used without following.
	Follow bool
}

// Window is the state behind one open conversation: a properties map for
// window flags and the history of messages exchanged with the contact.
type Window struct {
	contact   string
	messages  *MessageStore
	props     *store.Map
	history   *store.Collection[*Message]
	pipelines *pipe.Registry
	transport Transport
	logger    zerolog.Logger

	minimizedHooks store.Hooks[func(minimized bool)]
	clearedHooks   store.Hooks[func()]
	messageHooks   store.Hooks[func(*Message)]
}

// OpenWindow loads the window state for contact. History entries whose
// message can no longer be loaded stay in the history and are logged.
func OpenWindow(ctx context.Context, deps Deps, contact string) (*Window, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if contact == "" {
		return nil, fmt.Errorf("contact cannot be empty")
	}

	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	logger = logger.With().Str("component", "chat").Str("contact", contact).Logger()

	opts := []store.Option{store.WithLogger(logger), store.WithMetrics(deps.Metrics)}
	pipelines := deps.Pipelines
	if pipelines == nil {
		pipelines = pipe.NewRegistry(pipe.WithLogger(logger))
	}

	w := &Window{
		contact:   contact,
		messages:  NewMessageStore(deps.Backend),
		props:     store.NewMap(deps.Backend, propertiesNamespace, contact, opts...),
		history:   store.NewCollection[*Message](deps.Backend, historyNamespace, contact, opts...),
		pipelines: pipelines,
		transport: deps.Transport,
		logger:    logger,
	}

	w.history.SetMaterializer(w.messages.Load)
	w.history.RegisterHook(w.historyChanged)
	w.props.RegisterHook(minimizedKey, w.minimizedChanged)

	if err := w.history.Init(ctx); err != nil {
		if !store.IsMaterializationError(err) {
			w.Close()
			return nil, fmt.Errorf("failed to load history for %s: %w", contact, err)
		}
		logger.Warn().Err(err).Msg("some history entries could not be loaded")
	}

	if deps.Follow {
		if err := w.follow(ctx); err != nil {
			w.Close()
			return nil, err
		}
	}

	return w, nil
}

func (w *Window) follow(ctx context.Context) error {
	for _, start := range []func(context.Context) error{w.props.Follow, w.history.Follow} {
		err := start(ctx)
		if errors.Is(err, store.ErrWatchUnsupported) {
			w.logger.Debug().Msg("backend has no change feed; not following")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to follow window state: %w", err)
		}
	}
	return nil
}

// Contact returns the contact id the window was opened for.
func (w *Window) Contact() string { return w.contact }

// IsMinimized reports the persisted minimized flag. A window that was never
// explicitly unminimized counts as minimized.
func (w *Window) IsMinimized(ctx context.Context) (bool, error) {
	v, ok, err := w.props.Get(ctx, minimizedKey)
	if err != nil {
		return false, err
	}
	return minimizedValue(v, ok), nil
}

// Minimize persists the minimized flag.
func (w *Window) Minimize(ctx context.Context) error {
	return w.props.Set(ctx, minimizedKey, true)
}

// Unminimize persists the unminimized flag.
func (w *Window) Unminimize(ctx context.Context) error {
	return w.props.Set(ctx, minimizedKey, false)
}

// Toggle flips the minimized flag.
func (w *Window) Toggle(ctx context.Context) error {
	minimized, err := w.IsMinimized(ctx)
	if err != nil {
		return err
	}
	if minimized {
		return w.Unminimize(ctx)
	}
	return w.Minimize(ctx)
}

// OnMinimizedChange registers fn to run whenever the minimized flag changes,
// including changes made by other clients when the window follows.
func (w *Window) OnMinimizedChange(fn func(minimized bool)) store.Handle {
	return w.minimizedHooks.Add(fn)
}

// OnCleared registers fn to run when the history goes from non-empty to empty.
func (w *Window) OnCleared(fn func()) store.Handle {
	return w.clearedHooks.Add(fn)
}

// OnMessage registers fn to run for every message that enters the history
// after the window was opened.
func (w *Window) OnMessage(fn func(*Message)) store.Handle {
	return w.messageHooks.Add(fn)
}

// Unregister removes a hook registered through one of the On methods.
func (w *Window) Unregister(h store.Handle) bool {
	return w.minimizedHooks.Remove(h) || w.clearedHooks.Remove(h) || w.messageHooks.Remove(h)
}

// Receive stores an inbound or system message and appends it to the history.
// Inbound messages are marked unread.
func (w *Window) Receive(ctx context.Context, msg *Message) error {
	if msg.Peer == "" {
		msg.Peer = w.contact
	}
	if msg.Direction == DirectionIn {
		msg.Unread = true
	}
	return w.commit(ctx, msg)
}

// AddSystemMessage records a system notice in the history.
func (w *Window) AddSystemMessage(ctx context.Context, text string) (*Message, error) {
	msg := NewMessage(w.contact, DirectionSys, text)
	if err := w.commit(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Send runs the preSendMessage pipeline over (contact, message) and, once it
// resolves, saves the message, appends it to the history and hands it to the
// transport. If a stage rejects the message nothing is stored or sent.
//
// A transport failure is recorded on the message and returned; the message
// stays in the history.
func (w *Window) Send(ctx context.Context, text string) (*Message, error) {
	draft := NewMessage(w.contact, DirectionOut, text)

	out, err := w.pipelines.Get(PreSendPipeline).Run(ctx, w.contact, draft)
	if err != nil {
		return nil, err
	}
	_, msg, err := messageArgs(out)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s returned an unusable result: %w", PreSendPipeline, err)
	}

	if err := w.commit(ctx, msg); err != nil {
		return nil, err
	}

	if w.transport == nil {
		return msg, nil
	}
	if err := w.transport.SendMessage(ctx, msg); err != nil {
		msg.ErrorMessage = err.Error()
		if saveErr := w.messages.Save(ctx, msg); saveErr != nil {
			w.logger.Warn().Err(saveErr).Str("uid", msg.UID).Msg("failed to record transport error")
		}
		return msg, fmt.Errorf("failed to send message: %w", err)
	}
	return msg, nil
}

func (w *Window) commit(ctx context.Context, msg *Message) error {
	if err := w.messages.Save(ctx, msg); err != nil {
		return err
	}
	return w.history.Push(ctx, msg)
}

// Clear empties the history and deletes every message it held. Messages are
// deleted only once the history itself is gone, so a failed Clear leaves a
// history that still loads.
func (w *Window) Clear(ctx context.Context) error {
	var uids []string
	err := w.history.Empty(ctx, func(uid string, _ *Message, _ bool) {
		uids = append(uids, uid)
	})
	if err != nil {
		return err
	}
	for _, uid := range uids {
		if err := w.messages.Delete(ctx, uid); err != nil {
			w.logger.Warn().Err(err).Str("uid", uid).Msg("failed to delete message while clearing history")
		}
	}
	return nil
}

// Messages returns the history in order. Messages that cannot be loaded are
// skipped and reported in the error.
func (w *Window) Messages(ctx context.Context) ([]*Message, error) {
	return w.history.Items(ctx)
}

// IDs returns the message uids of the history in order.
func (w *Window) IDs() []string {
	return w.history.IDs()
}

// Len returns the number of messages in the history.
func (w *Window) Len() int {
	return w.history.Len()
}

// MarkRead clears the unread flag on every inbound message.
func (w *Window) MarkRead(ctx context.Context) error {
	msgs, err := w.history.Items(ctx)
	for _, m := range msgs {
		if !m.Unread {
			continue
		}
		m.Unread = false
		if saveErr := w.messages.Save(ctx, m); saveErr != nil {
			return saveErr
		}
	}
	return err
}

// Close releases the window. Hooks stop firing; persisted state is kept.
func (w *Window) Close() {
	w.props.Close()
	w.history.Close()
	w.minimizedHooks.Clear()
	w.clearedHooks.Clear()
	w.messageHooks.Clear()
}

func (w *Window) minimizedChanged(newValue, _ any) {
	minimized := minimizedValue(newValue, newValue != nil)
	w.minimizedHooks.Dispatch(func(fn func(bool)) { fn(minimized) }, w.hookPanicked("minimized"))
}

func (w *Window) historyChanged(newIDs, oldIDs []string) {
	if len(newIDs) == 0 {
		if len(oldIDs) > 0 {
			w.clearedHooks.Dispatch(func(fn func()) { fn() }, w.hookPanicked("cleared"))
		}
		return
	}
	if w.messageHooks.Len() == 0 {
		return
	}

	known := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		known[id] = struct{}{}
	}
	for _, id := range newIDs {
		if _, ok := known[id]; ok {
			continue
		}
		msg, err := w.history.Item(context.Background(), id)
		if err != nil {
			w.logger.Warn().Err(err).Str("uid", id).Msg("failed to load new history entry")
			continue
		}
		w.messageHooks.Dispatch(func(fn func(*Message)) { fn(msg) }, w.hookPanicked("message"))
	}
}

func (w *Window) hookPanicked(kind string) func(int, any) {
	return func(i int, r any) {
		w.logger.Error().Str("kind", kind).Int("hook", i).Interface("panic", r).Msg("window hook panicked")
	}
}

// minimizedValue applies the rule that only an explicit false means the
// window is open.
func minimizedValue(v any, ok bool) bool {
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}
