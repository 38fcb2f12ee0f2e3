package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// view runs fn with the state readable. Re-entrant callers already hold the
// lock through their transaction and must not take it again.
func (l *Ledger) view(ctx context.Context, fn func() error) error {
	if tx := txnFrom(ctx); tx != nil && tx.ledger == l {
		return fn()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// Activity returns a copy of an activity.
func (l *Ledger) Activity(id uint64) (domain.Activity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, err := l.activity(id)
	if err != nil {
		return domain.Activity{}, err
	}
	return a.Clone(), nil
}

// Activities returns copies of activities [offset, offset+limit). A
// non-positive limit returns everything from offset.
func (l *Ledger) Activities(offset, limit int) []domain.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset < 0 || offset >= len(l.activities) {
		return nil
	}
	end := len(l.activities)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]domain.Activity, 0, end-offset)
	for _, a := range l.activities[offset:end] {
		out = append(out, a.Clone())
	}
	return out
}

// NextActivityID is the id the next CreateActivity will assign, which is
// also the number of activities.
func (l *Ledger) NextActivityID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.activities))
}

// ChoiceStakes returns the staked sum per choice.
func (l *Ledger) ChoiceStakes(activityID uint64) ([]*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.activity(activityID); err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(l.stakes[activityID]))
	for i, s := range l.stakes[activityID] {
		out[i] = clone(s)
	}
	return out, nil
}

// ChoiceStake returns the staked sum on one choice.
func (l *Ledger) ChoiceStake(activityID uint64, choice int) (*big.Int, error) {
	stakes, err := l.ChoiceStakes(activityID)
	if err != nil {
		return nil, err
	}
	if choice < 0 || choice >= len(stakes) {
		return nil, domain.Invalid("choice %d out of range for activity %d", choice, activityID)
	}
	return stakes[choice], nil
}

// Ticket returns a copy of a ticket.
func (l *Ledger) Ticket(id uint64) (domain.Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.ticket(id)
	if err != nil {
		return domain.Ticket{}, err
	}
	return t.Clone(), nil
}

// IsClaimed reports whether a ticket has been paid out.
func (l *Ledger) IsClaimed(id uint64) (bool, error) {
	t, err := l.Ticket(id)
	if err != nil {
		return false, err
	}
	return t.Claimed, nil
}

// Listing returns the active listing for a ticket.
func (l *Ledger) Listing(ticketID uint64) (domain.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lst, ok := l.listings[ticketID]
	if !ok {
		return domain.Listing{}, domain.NotFound("ticket %d is not listed", ticketID)
	}
	return lst.Clone(), nil
}

// TicketsOf returns the tickets of an activity currently owned by owner, in
// mint order.
func (l *Ledger) TicketsOf(ctx context.Context, owner common.Address, activityID uint64) ([]domain.OwnedTicket, error) {
	var out []domain.OwnedTicket
	err := l.view(ctx, func() error {
		if _, err := l.activity(activityID); err != nil {
			return err
		}
		for _, id := range l.byActivity[activityID] {
			o, err := l.registry.OwnerOf(ctx, id)
			if err != nil {
				return fmt.Errorf("ledger: owner of ticket %d: %w", id, err)
			}
			if o != owner {
				continue
			}
			out = append(out, domain.OwnedTicket{Ticket: l.tickets[id].Clone(), Owner: o})
		}
		return nil
	})
	return out, err
}

// Liabilities returns the sum of every pool minus what has been claimed,
// i.e. the minimum balance escrow must hold.
func (l *Ledger) Liabilities() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := new(big.Int)
	for _, a := range l.activities {
		total.Add(total, a.TotalPool)
		if !a.Resolved {
			continue
		}
		winning := l.stakes[a.ID][a.WinningChoice]
		for _, id := range l.byActivity[a.ID] {
			t := l.tickets[id]
			if t.Claimed && winning.Sign() > 0 {
				share := new(big.Int).Mul(t.Stake, a.TotalPool)
				total.Sub(total, share.Quo(share, winning))
			}
		}
	}
	return total
}

// Seq is the sequence number of the last committed event.
func (l *Ledger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// ResumeSeq moves the event sequence forward to at least seq so that new
// events never reuse numbers already in an external journal.
func (l *Ledger) ResumeSeq(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = max(l.seq, seq)
}
