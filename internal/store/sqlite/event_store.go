package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// EventStore implements domain.EventStore on SQLite.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore on a migrated database.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Append writes one event; a duplicate sequence number yields
// domain.ErrAlreadyExists.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sqlite: marshal event %d: %w", ev.Seq, err)
	}
	var ticket sql.NullInt64
	if ev.TicketID != 0 {
		ticket = sql.NullInt64{Int64: int64(ev.TicketID), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_events (seq, name, activity_id, ticket_id, actor, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(ev.Seq), string(ev.Name), int64(ev.ActivityID), ticket,
		strings.ToLower(ev.Actor.Hex()), string(payload), ev.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event %d: %w", ev.Seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: append event %d: %w", ev.Seq, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: append event %d: %w", ev.Seq, domain.ErrAlreadyExists)
	}
	return nil
}

// List returns events in sequence order.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	return s.query(ctx, nil, opts)
}

// ListByActivity returns one activity's events in sequence order.
func (s *EventStore) ListByActivity(ctx context.Context, activityID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	id := int64(activityID)
	return s.query(ctx, &id, opts)
}

// LastSeq returns the highest stored sequence number, or 0.
func (s *EventStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sqlite: last event seq: %w", err)
	}
	return uint64(seq), nil
}

func (s *EventStore) query(ctx context.Context, activityID *int64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT payload FROM ledger_events WHERE seq > ?`
	args := []any{int64(opts.AfterSeq)}
	if activityID != nil {
		query += ` AND activity_id = ?`
		args = append(args, *activityID)
	}
	if opts.Name != "" {
		query += ` AND name = ?`
		args = append(args, string(opts.Name))
	}
	if opts.Since != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += ` AND occurred_at <= ?`
		args = append(args, opts.Until.UnixNano())
	}
	query += ` ORDER BY seq ASC`
	// SQLite needs a LIMIT before OFFSET; -1 means unbounded.
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("sqlite: decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list events rows: %w", err)
	}
	return events, nil
}

var _ domain.EventStore = (*EventStore)(nil)
