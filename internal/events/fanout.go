// Package events delivers committed ledger events to the durable journal,
// the Redis signal bus and operator notifications.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/easybet/internal/domain"
)

const (
	// ChannelPattern matches every per-event Pub/Sub channel.
	ChannelPattern = "ledger:*"
	// Stream is the capped Redis stream holding the recent event tail.
	Stream = "ledger:events"

	notifyQueueSize = 256
)

// Channel returns the Pub/Sub channel for events named name.
func Channel(name domain.EventName) string {
	return "ledger:" + string(name)
}

// Notifier is the subset of notify.Notifier the fanout needs.
type Notifier interface {
	Wants(name domain.EventName) bool
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Fanout implements domain.EventPublisher. Any sink may be nil. Sink failures
// are logged and never returned.
type Fanout struct {
	store    domain.EventStore
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger

	queue chan domain.Event
}

// NewFanout creates a Fanout over the given sinks.
func NewFanout(store domain.EventStore, bus domain.SignalBus, notifier Notifier, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		store:    store,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_fanout")),
		queue:    make(chan domain.Event, notifyQueueSize),
	}
}

// Publish journals and broadcasts events in order, then queues the ones the
// notifier wants. Notifications are sent by Run.
func (f *Fanout) Publish(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		f.append(ctx, ev)
		f.broadcast(ctx, ev)
		if f.notifier != nil && f.notifier.Wants(ev.Name) {
			select {
			case f.queue <- ev:
			default:
				f.logger.WarnContext(ctx, "events: notification queue full, dropping",
					slog.Uint64("seq", ev.Seq),
					slog.String("event", string(ev.Name)),
				)
			}
		}
	}
}

func (f *Fanout) append(ctx context.Context, ev domain.Event) {
	if f.store == nil {
		return
	}
	if err := f.store.Append(ctx, ev); err != nil {
		f.logger.WarnContext(ctx, "events: journal append failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("event", string(ev.Name)),
			slog.String("error", err.Error()),
		)
	}
}

func (f *Fanout) broadcast(ctx context.Context, ev domain.Event) {
	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.WarnContext(ctx, "events: marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := f.bus.Publish(ctx, Channel(ev.Name), payload); err != nil {
		f.logger.WarnContext(ctx, "events: publish failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
	if err := f.bus.StreamAppend(ctx, Stream, payload); err != nil {
		f.logger.WarnContext(ctx, "events: stream append failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
}

// Run sends queued notifications until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	if f.notifier == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.queue:
			if err := f.notifier.NotifyEvent(ctx, ev); err != nil {
				f.logger.WarnContext(ctx, "events: notification failed",
					slog.Uint64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

var _ domain.EventPublisher = (*Fanout)(nil)
