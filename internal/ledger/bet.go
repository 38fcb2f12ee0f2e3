package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// PlaceBet escrows stake from caller and mints a new ticket for the chosen
// outcome. Every call mints an independent ticket.
func (l *Ledger) PlaceBet(ctx context.Context, caller common.Address, activityID uint64, choice int, stake *big.Int) (uint64, error) {
	if !positive(stake) {
		return 0, domain.Invalid("stake must be positive")
	}
	if err := l.participant(caller); err != nil {
		return 0, err
	}
	stake = clone(stake)

	var ticketID uint64
	err := l.run(ctx, "place_bet", func(ctx context.Context, tx *txn) error {
		a, err := l.activity(activityID)
		if err != nil {
			return err
		}
		if a.Resolved {
			return domain.StateErr(domain.ReasonAlreadyResolved, "activity %d is resolved", activityID)
		}
		if !a.BettingOpen(tx.now) {
			return domain.StateErr(domain.ReasonBettingClosed, "betting on activity %d is closed", activityID)
		}
		if !a.ValidChoice(choice) {
			return domain.Invalid("choice %d out of range for activity %d", choice, activityID)
		}

		if err := l.collect(ctx, tx, caller, stake, "stake"); err != nil {
			return err
		}

		id, err := l.registry.Mint(ctx, caller, domain.TicketMeta{
			ActivityID:  activityID,
			ChoiceIndex: choice,
			Stake:       clone(stake),
		})
		if err != nil {
			return fmt.Errorf("ledger: mint ticket: %w", err)
		}
		tx.compensate("burn ticket", func(ctx context.Context) error {
			return l.registry.Burn(ctx, id)
		})
		if _, dup := l.tickets[id]; dup {
			return fmt.Errorf("ledger: registry reissued ticket id %d", id)
		}

		l.tickets[id] = &domain.Ticket{
			ID:          id,
			ActivityID:  activityID,
			ChoiceIndex: choice,
			Stake:       stake,
		}
		l.byActivity[activityID] = append(l.byActivity[activityID], id)
		a.TotalPool.Add(a.TotalPool, stake)
		a.SoldTickets++
		l.stakes[activityID][choice].Add(l.stakes[activityID][choice], stake)
		tx.undo(func() {
			delete(l.tickets, id)
			ids := l.byActivity[activityID]
			l.byActivity[activityID] = ids[:len(ids)-1]
			a.TotalPool.Sub(a.TotalPool, stake)
			a.SoldTickets--
			l.stakes[activityID][choice].Sub(l.stakes[activityID][choice], stake)
		})

		tx.emit(domain.Event{
			Name:       domain.EventBetPlaced,
			ActivityID: activityID,
			TicketID:   id,
			Actor:      caller,
			Choice:     choice,
			Amount:     clone(stake),
		})
		ticketID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ticketID, nil
}
