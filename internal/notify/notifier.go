// Package notify announces settlements and paper-trade no-fills on chat
// channels. Every configured sender receives each message; an event filter
// limits which kinds are announced.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// Event kinds accepted by the filter.
const (
	EventSettlement = "settlement"
	EventNoFill     = "no_fill"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to its senders. A nil *Notifier is valid and
// drops everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every kind.
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

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Allows reports whether event passes the filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers title and message to every sender if event passes the
// filter. Sender failures are joined; one failure does not stop the rest.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Allows(event) {
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
			slog.String("event", event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Settlement announces a committed settlement.
func (n *Notifier) Settlement(ctx context.Context, ev domain.SettlementEvent) error {
	title, msg := FormatSettlement(ev)
	return n.Notify(ctx, EventSettlement, title, msg)
}

// NoFill announces a paper trade the book could not absorb.
func (n *Notifier) NoFill(ctx context.Context, ev domain.FillEvent) error {
	if ev.NoFillReason == "" {
		return nil
	}
	title, msg := FormatNoFill(ev)
	return n.Notify(ctx, EventNoFill, title, msg)
}
