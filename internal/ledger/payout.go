package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// ComputeShare returns the payout owed on a ticket:
//
//	stake * totalPool / winningStake
//
// truncated toward zero. Truncation dust stays in escrow. winningStake is the
// sum of all stakes on the winning choice.
func ComputeShare(a *domain.Activity, t *domain.Ticket, winningStake *big.Int, caller, owner common.Address) (*big.Int, error) {
	if !a.Resolved {
		return nil, domain.StateErr(domain.ReasonNotResolved, "activity %d is not resolved", a.ID)
	}
	if t.ChoiceIndex != a.WinningChoice {
		return nil, domain.StateErr(domain.ReasonChoiceLost, "ticket %d backed choice %d, winner is %d", t.ID, t.ChoiceIndex, a.WinningChoice)
	}
	if t.Claimed {
		return nil, domain.StateErr(domain.ReasonAlreadyClaimed, "ticket %d", t.ID)
	}
	if caller != owner {
		return nil, domain.Unauthorized("ticket %d is owned by %s", t.ID, owner.Hex())
	}
	if !positive(winningStake) {
		// A winning ticket exists, so its own stake is in the sum.
		return nil, fmt.Errorf("ledger: activity %d has no stake on winning choice %d", a.ID, a.WinningChoice)
	}
	share := new(big.Int).Mul(t.Stake, a.TotalPool)
	return share.Quo(share, winningStake), nil
}

// Quote previews the payout Claim would make, without mutating anything.
func (l *Ledger) Quote(ctx context.Context, caller common.Address, ticketID uint64) (*big.Int, error) {
	var share *big.Int
	err := l.view(ctx, func() error {
		var err error
		share, err = l.share(ctx, caller, ticketID)
		return err
	})
	return share, err
}

func (l *Ledger) share(ctx context.Context, caller common.Address, ticketID uint64) (*big.Int, error) {
	t, err := l.ticket(ticketID)
	if err != nil {
		return nil, err
	}
	a := l.activities[t.ActivityID]
	owner, err := l.registry.OwnerOf(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ledger: owner of ticket %d: %w", ticketID, err)
	}
	var winning *big.Int
	if a.Resolved {
		winning = l.stakes[a.ID][a.WinningChoice]
	}
	return ComputeShare(a, t, winning, caller, owner)
}

// Claim pays out a winning ticket to its owner. The ticket is marked claimed
// before the payout leaves escrow.
func (l *Ledger) Claim(ctx context.Context, caller common.Address, ticketID uint64) (*big.Int, error) {
	if err := l.participant(caller); err != nil {
		return nil, err
	}
	var paid *big.Int
	err := l.run(ctx, "claim", func(ctx context.Context, tx *txn) error {
		share, err := l.share(ctx, caller, ticketID)
		if err != nil {
			return err
		}
		t := l.tickets[ticketID]

		t.Claimed = true
		tx.undo(func() { t.Claimed = false })
		l.unlist(tx, t)

		if err := l.pay(ctx, tx, caller, share, fmt.Sprintf("winnings on ticket %d", ticketID)); err != nil {
			return err
		}

		tx.emit(domain.Event{
			Name:       domain.EventWinningsClaimed,
			ActivityID: t.ActivityID,
			TicketID:   ticketID,
			Actor:      caller,
			Amount:     clone(share),
		})
		paid = share
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// ClaimAll claims every unclaimed winning ticket caller owns in an activity
// and pays the total in a single transfer.
func (l *Ledger) ClaimAll(ctx context.Context, caller common.Address, activityID uint64) (*big.Int, error) {
	if err := l.participant(caller); err != nil {
		return nil, err
	}
	total := new(big.Int)
	err := l.run(ctx, "claim_all", func(ctx context.Context, tx *txn) error {
		a, err := l.activity(activityID)
		if err != nil {
			return err
		}
		if !a.Resolved {
			return domain.StateErr(domain.ReasonNotResolved, "activity %d is not resolved", activityID)
		}
		winning := l.stakes[activityID][a.WinningChoice]

		var claimed []*domain.Ticket
		var shares []*big.Int
		for _, id := range l.byActivity[activityID] {
			t := l.tickets[id]
			if t.Claimed || t.ChoiceIndex != a.WinningChoice {
				continue
			}
			owner, err := l.registry.OwnerOf(ctx, id)
			if err != nil {
				return fmt.Errorf("ledger: owner of ticket %d: %w", id, err)
			}
			if owner != caller {
				continue
			}
			share, err := ComputeShare(a, t, winning, caller, owner)
			if err != nil {
				return err
			}
			t.Claimed = true
			tx.undo(func() { t.Claimed = false })
			l.unlist(tx, t)
			claimed = append(claimed, t)
			shares = append(shares, share)
			total.Add(total, share)
		}
		if len(claimed) == 0 {
			return domain.StateErr(domain.ReasonNothingToClaim, "no unclaimed winning tickets for %s in activity %d", caller.Hex(), activityID)
		}

		if err := l.pay(ctx, tx, caller, total, fmt.Sprintf("winnings on activity %d", activityID)); err != nil {
			return err
		}

		for i, t := range claimed {
			tx.emit(domain.Event{
				Name:       domain.EventWinningsClaimed,
				ActivityID: activityID,
				TicketID:   t.ID,
				Actor:      caller,
				Amount:     shares[i],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}
