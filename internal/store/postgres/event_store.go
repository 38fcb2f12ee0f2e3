package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// EventStore implements domain.EventStore over the ledger_events table. The
// full event is kept as JSONB; the indexed columns duplicate its filter keys.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append writes one event. A second event with the same sequence number is
// rejected with domain.ErrAlreadyExists.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %d: %w", ev.Seq, err)
	}

	var ticket *int64
	if ev.TicketID != 0 {
		id := int64(ev.TicketID)
		ticket = &id
	}

	const query = `
		INSERT INTO ledger_events (seq, name, activity_id, ticket_id, actor, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (seq) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		int64(ev.Seq), string(ev.Name), int64(ev.ActivityID), ticket,
		strings.ToLower(ev.Actor.Hex()), payload, ev.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %d: %w", ev.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: append event %d: %w", ev.Seq, domain.ErrAlreadyExists)
	}
	return nil
}

// List returns events in sequence order.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	return s.query(ctx, nil, opts)
}

// ListByActivity returns the events of one activity in sequence order.
func (s *EventStore) ListByActivity(ctx context.Context, activityID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	id := int64(activityID)
	return s.query(ctx, &id, opts)
}

// LastSeq returns the highest stored sequence number, or 0 when empty.
func (s *EventStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: last event seq: %w", err)
	}
	return uint64(seq), nil
}

func (s *EventStore) query(ctx context.Context, activityID *int64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT payload FROM ledger_events WHERE seq > $1`
	args := []any{int64(opts.AfterSeq)}
	argIdx := 2

	if activityID != nil {
		query += fmt.Sprintf(" AND activity_id = $%d", argIdx)
		args = append(args, *activityID)
		argIdx++
	}
	if opts.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, string(opts.Name))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		var payload []byte
		var ev domain.Event
		if err := row.Scan(&payload); err != nil {
			return ev, err
		}
		return ev, json.Unmarshal(payload, &ev)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

var _ domain.EventStore = (*EventStore)(nil)
