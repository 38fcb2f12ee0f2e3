package ledger

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// CreateActivityParams describes a new activity.
type CreateActivityParams struct {
	Description string
	Choices     []string
	Deadline    time.Time
	InitialPot  *big.Int
}

// CreateActivity escrows the initial pot from the admin and opens a new
// activity. It returns the new activity id.
func (l *Ledger) CreateActivity(ctx context.Context, caller common.Address, p CreateActivityParams) (uint64, error) {
	var id uint64
	err := l.run(ctx, "create_activity", func(ctx context.Context, tx *txn) error {
		if caller != l.admin {
			return domain.Unauthorized("only the admin can create activities")
		}
		if len(p.Choices) < 2 {
			return domain.Invalid("an activity needs at least two choices, got %d", len(p.Choices))
		}
		for i, c := range p.Choices {
			if strings.TrimSpace(c) == "" {
				return domain.Invalid("choice %d is empty", i)
			}
		}
		if !p.Deadline.After(tx.now) {
			return domain.Invalid("deadline %s is not in the future", p.Deadline.UTC().Format(time.RFC3339))
		}
		if !positive(p.InitialPot) {
			return domain.Insufficient(nil, "initial pot must be positive")
		}
		pot := clone(p.InitialPot)

		if err := l.collect(ctx, tx, caller, pot, "initial pot"); err != nil {
			return err
		}

		id = uint64(len(l.activities))
		a := &domain.Activity{
			ID:            id,
			Creator:       caller,
			Description:   p.Description,
			Choices:       append([]string(nil), p.Choices...),
			Deadline:      p.Deadline.UTC(),
			BettingCutoff: p.Deadline.UTC(),
			InitialPot:    pot,
			TotalPool:     clone(pot),
			CreatedAt:     tx.now,
		}
		stakes := make([]*big.Int, len(a.Choices))
		for i := range stakes {
			stakes[i] = new(big.Int)
		}
		l.activities = append(l.activities, a)
		l.stakes = append(l.stakes, stakes)
		l.byActivity = append(l.byActivity, nil)
		tx.undo(func() {
			l.activities = l.activities[:id]
			l.stakes = l.stakes[:id]
			l.byActivity = l.byActivity[:id]
		})

		tx.emit(domain.Event{
			Name:        domain.EventActivityCreated,
			ActivityID:  id,
			Actor:       caller,
			Amount:      clone(pot),
			Description: a.Description,
			Deadline:    a.Deadline,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// EndBettingEarly closes betting on an activity at the current time. The
// cutoff only ever moves earlier.
func (l *Ledger) EndBettingEarly(ctx context.Context, caller common.Address, activityID uint64) error {
	return l.run(ctx, "end_betting_early", func(ctx context.Context, tx *txn) error {
		if caller != l.admin {
			return domain.Unauthorized("only the admin can end betting")
		}
		a, err := l.activity(activityID)
		if err != nil {
			return err
		}
		if a.Resolved {
			return domain.StateErr(domain.ReasonAlreadyResolved, "activity %d is resolved", activityID)
		}
		if !tx.now.Before(a.BettingCutoff) {
			return domain.StateErr(domain.ReasonBettingClosed, "betting on activity %d already closed", activityID)
		}

		prev := a.BettingCutoff
		a.BettingCutoff = tx.now
		tx.undo(func() { a.BettingCutoff = prev })

		tx.emit(domain.Event{
			Name:       domain.EventBettingEnded,
			ActivityID: activityID,
			Actor:      caller,
			Deadline:   tx.now,
		})
		return nil
	})
}

// ResolveActivity fixes the winning choice. It may be called before the
// deadline. Every open listing on the activity is withdrawn; payouts happen
// lazily through Claim.
func (l *Ledger) ResolveActivity(ctx context.Context, caller common.Address, activityID uint64, winningChoice int) error {
	return l.run(ctx, "resolve_activity", func(ctx context.Context, tx *txn) error {
		if caller != l.admin {
			return domain.Unauthorized("only the admin can resolve activities")
		}
		a, err := l.activity(activityID)
		if err != nil {
			return err
		}
		if a.Resolved {
			return domain.StateErr(domain.ReasonAlreadyResolved, "activity %d is already resolved", activityID)
		}
		if !a.ValidChoice(winningChoice) {
			return domain.Invalid("choice %d out of range for activity %d", winningChoice, activityID)
		}

		a.Resolved = true
		a.WinningChoice = winningChoice
		a.ResolvedAt = tx.now
		tx.undo(func() {
			a.Resolved = false
			a.WinningChoice = 0
			a.ResolvedAt = time.Time{}
		})

		tx.emit(domain.Event{
			Name:       domain.EventActivityResolved,
			ActivityID: activityID,
			Actor:      caller,
			Choice:     winningChoice,
		})

		for _, ticketID := range l.listedOn(activityID) {
			lst := l.listings[ticketID]
			l.removeListing(tx, activityID, ticketID)
			tx.emit(domain.Event{
				Name:       domain.EventTicketDelisted,
				ActivityID: activityID,
				TicketID:   ticketID,
				Actor:      lst.Seller,
			})
		}
		return nil
	})
}
