package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// EventReader reads the event journal.
type EventReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
	ListByActivity(ctx context.Context, activityID uint64, opts domain.ListOpts) ([]domain.Event, error)
}

// EventHandler serves the event journal.
type EventHandler struct {
	events EventReader
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// ListEvents returns journaled events in sequence order.
// GET /api/events?activity=3&after=120&name=bet_placed&since=RFC3339&until=RFC3339&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(r)
	opts := domain.ListOpts{Limit: limit, Offset: offset, Name: domain.EventName(q.Get("name"))}

	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		opts.AfterSeq = n
	}
	for param, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		if v := q.Get(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+param)
				return
			}
			*dst = &t
		}
	}

	var (
		evs []domain.Event
		err error
	)
	if v := q.Get("activity"); v != "" {
		id, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid activity")
			return
		}
		evs, err = h.events.ListByActivity(r.Context(), id, opts)
	} else {
		evs, err = h.events.List(r.Context(), opts)
	}
	if err != nil {
		writeLedgerError(w, r, h.logger, "list events", err)
		return
	}
	if evs == nil {
		evs = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}
