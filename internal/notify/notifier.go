// Package notify forwards selected ledger events to operator chat channels.
// Every registered Sender receives each event whose name passes the filter.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches to a set of Senders. Only event names in the allowed
// set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventName]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[domain.EventName]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventName(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Wants reports whether events named name pass the filter.
func (n *Notifier) Wants(name domain.EventName) bool {
	return len(n.events) == 0 || n.events[name]
}

// NotifyEvent formats ev and sends it if its name passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if !n.Wants(ev.Name) {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", string(ev.Name)))
		return nil
	}
	title, message := FormatEvent(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failure does not stop delivery to the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// FormatEvent renders the operator-facing title and body of an event.
func FormatEvent(ev domain.Event) (title, message string) {
	switch ev.Name {
	case domain.EventActivityCreated:
		return fmt.Sprintf("Activity #%d opened", ev.ActivityID),
			fmt.Sprintf("%s\npot %s, betting closes %s", ev.Description, amount(ev), ev.Deadline.Format("2006-01-02 15:04 MST"))
	case domain.EventBettingEnded:
		return fmt.Sprintf("Activity #%d closed for betting", ev.ActivityID),
			fmt.Sprintf("cutoff %s", ev.Deadline.Format("2006-01-02 15:04:05 MST"))
	case domain.EventActivityResolved:
		return fmt.Sprintf("Activity #%d resolved", ev.ActivityID),
			fmt.Sprintf("winning choice %d", ev.Choice)
	case domain.EventBetPlaced:
		return fmt.Sprintf("Bet on activity #%d", ev.ActivityID),
			fmt.Sprintf("%s staked %s on choice %d (ticket %d)", ev.Actor.Hex(), amount(ev), ev.Choice, ev.TicketID)
	case domain.EventWinningsClaimed:
		return fmt.Sprintf("Winnings claimed on activity #%d", ev.ActivityID),
			fmt.Sprintf("%s claimed %s on ticket %d", ev.Actor.Hex(), amount(ev), ev.TicketID)
	case domain.EventTicketBought:
		return fmt.Sprintf("Ticket %d sold", ev.TicketID),
			fmt.Sprintf("%s bought from %s for %s", ev.Actor.Hex(), ev.Counterparty.Hex(), amount(ev))
	default:
		return fmt.Sprintf("%s (activity #%d)", ev.Name, ev.ActivityID),
			fmt.Sprintf("ticket %d by %s", ev.TicketID, ev.Actor.Hex())
	}
}

func amount(ev domain.Event) string {
	if ev.Amount == nil {
		return "0"
	}
	return ev.Amount.String()
}
