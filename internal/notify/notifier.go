// Package notify fans position changes and tracker alerts out to chat
// channels. Each Sender is one channel; the Notifier filters by event kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// Event kinds accepted by Notify.
const (
	EventPosition = "position"
	EventHalt     = "halt"
	EventStartup  = "startup"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender. Only event kinds present in the
// allow list are forwarded; an empty list forwards everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
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
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends title and message for event to every sender. A failing
// sender does not stop delivery to the rest; all failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// PositionChanged notifies that d moved the target position.
func (n *Notifier) PositionChanged(ctx context.Context, d domain.Decision) error {
	title := fmt.Sprintf("%s %s -> %s", d.Instrument, d.From, d.To)
	msg := fmt.Sprintf("%s (ratio %.4f)\n%s", d.Action, d.Imbalance.Ratio, d.Reason)
	return n.Notify(ctx, EventPosition, title, msg)
}

// Halted notifies that instrument stopped accepting ticks.
func (n *Notifier) Halted(ctx context.Context, instrument string, cause error) error {
	title := fmt.Sprintf("%s halted", instrument)
	msg := "tracker stopped accepting ticks"
	if cause != nil {
		msg = cause.Error()
	}
	return n.Notify(ctx, EventHalt, title, msg)
}
