package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// step is one journal entry. Ledger-state undos never fail; compensations
// against the external collaborators may.
type step struct {
	name   string
	revert func(ctx context.Context) error
}

// txn is the journal of a single ledger operation. Nested operations
// (re-entrant calls carrying the parent's context) get their own txn whose
// steps and events fold into the parent on success.
type txn struct {
	ledger *Ledger
	op     string
	now    time.Time
	steps  []step
	events []domain.Event
	parent *txn
}

type txnKey struct{}

func txnFrom(ctx context.Context) *txn {
	tx, _ := ctx.Value(txnKey{}).(*txn)
	return tx
}

// undo records a revert for an in-memory mutation.
func (tx *txn) undo(fn func()) {
	tx.steps = append(tx.steps, step{
		name: "state",
		revert: func(context.Context) error {
			fn()
			return nil
		},
	})
}

// compensate records the inverse of a completed external call.
func (tx *txn) compensate(name string, fn func(ctx context.Context) error) {
	tx.steps = append(tx.steps, step{name: name, revert: fn})
}

func (tx *txn) emit(ev domain.Event) {
	ev.At = tx.now
	tx.events = append(tx.events, ev)
}

// absorb folds a committed child into tx so an outer failure also unwinds it.
func (tx *txn) absorb(child *txn) {
	tx.steps = append(tx.steps, child.steps...)
	tx.events = append(tx.events, child.events...)
}

// rollback unwinds the journal in reverse. Compensations run on a context
// that survives cancellation of the caller.
func (tx *txn) rollback(ctx context.Context, logger *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(tx.steps) - 1; i >= 0; i-- {
		s := tx.steps[i]
		if err := s.revert(ctx); err != nil {
			logger.ErrorContext(ctx, "ledger: compensation failed",
				slog.String("op", tx.op),
				slog.String("step", s.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("ledger: compensate %s: %w", s.name, err))
		}
	}
	tx.steps = nil
	tx.events = nil
	return errors.Join(errs...)
}
