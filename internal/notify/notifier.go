// Package notify delivers operator alerts for position events (protection
// alerts, liquidations, closes) to Telegram and Discord from a background
// worker.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

type message struct {
	event string
	title string
	body  string
}

// Notifier queues notifications and dispatches them to every Sender from
// Run. Notify only forwards events in the allowed set; an empty set allows
// everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	queue   chan message
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, filtered to events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan message, 256),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify queues a notification if event passes the filter. It never blocks:
// when the queue is full the message is dropped and an error returned.
func (n *Notifier) Notify(ctx context.Context, event, title, body string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	select {
	case n.queue <- message{event: event, title: title, body: body}:
		return nil
	default:
		return fmt.Errorf("notify: queue full, dropped %s", event)
	}
}

// Run delivers queued notifications until ctx is cancelled, then flushes
// what is left with a short deadline.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("notifier started", slog.Int("senders", len(n.senders)))
	defer n.logger.Info("notifier stopped")

	for {
		select {
		case <-ctx.Done():
			n.drain()
			return ctx.Err()
		case m := <-n.queue:
			_ = n.dispatch(ctx, m.title, m.body)
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case m := <-n.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = n.dispatch(ctx, m.title, m.body)
			cancel()
		default:
			return
		}
	}
}

// NotifyAll sends immediately to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, body string) error {
	return n.dispatch(ctx, title, body)
}

// dispatch sends to every sender. One sender failing does not stop the
// others; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, body string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
