package ledger

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// ListTicket offers a ticket at a fixed price. The caller must own the ticket
// and have approved the escrow operator for it. Listing an already listed
// ticket replaces its price.
func (l *Ledger) ListTicket(ctx context.Context, caller common.Address, ticketID uint64, price *big.Int) error {
	if !positive(price) {
		return domain.Invalid("price must be positive")
	}
	if err := l.participant(caller); err != nil {
		return err
	}
	price = clone(price)

	return l.run(ctx, "list_ticket", func(ctx context.Context, tx *txn) error {
		t, err := l.ticket(ticketID)
		if err != nil {
			return err
		}
		owner, err := l.registry.OwnerOf(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("ledger: owner of ticket %d: %w", ticketID, err)
		}
		if owner != caller {
			return domain.Unauthorized("ticket %d is owned by %s", ticketID, owner.Hex())
		}
		approved, err := l.registry.GetApproved(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("ledger: approval of ticket %d: %w", ticketID, err)
		}
		if approved != l.escrow {
			return domain.Unauthorized("ticket %d is not approved for the marketplace", ticketID)
		}
		if l.activities[t.ActivityID].Resolved {
			return domain.StateErr(domain.ReasonUntradeable, "activity %d is resolved", t.ActivityID)
		}
		if t.Claimed {
			return domain.StateErr(domain.ReasonUntradeable, "ticket %d is claimed", ticketID)
		}

		if _, ok := l.listings[ticketID]; ok {
			l.removeListing(tx, t.ActivityID, ticketID)
		}
		l.addListing(tx, t.ActivityID, &domain.Listing{
			TicketID: ticketID,
			Seller:   caller,
			Price:    price,
			Active:   true,
			ListedAt: tx.now,
		})

		tx.emit(domain.Event{
			Name:       domain.EventTicketListed,
			ActivityID: t.ActivityID,
			TicketID:   ticketID,
			Actor:      caller,
			Amount:     clone(price),
		})
		return nil
	})
}

// DelistTicket withdraws the seller's listing.
func (l *Ledger) DelistTicket(ctx context.Context, caller common.Address, ticketID uint64) error {
	if err := l.participant(caller); err != nil {
		return err
	}
	return l.run(ctx, "delist_ticket", func(ctx context.Context, tx *txn) error {
		lst, ok := l.listings[ticketID]
		if !ok {
			return domain.NotFound("ticket %d is not listed", ticketID)
		}
		if lst.Seller != caller {
			return domain.Unauthorized("ticket %d was listed by %s", ticketID, lst.Seller.Hex())
		}
		activityID := l.tickets[ticketID].ActivityID
		l.removeListing(tx, activityID, ticketID)

		tx.emit(domain.Event{
			Name:       domain.EventTicketDelisted,
			ActivityID: activityID,
			TicketID:   ticketID,
			Actor:      caller,
		})
		return nil
	})
}

// BuyTicket purchases a listed ticket at its listed price. Ownership and
// payment move together or not at all.
func (l *Ledger) BuyTicket(ctx context.Context, caller common.Address, ticketID uint64) error {
	if err := l.participant(caller); err != nil {
		return err
	}
	return l.run(ctx, "buy_ticket", func(ctx context.Context, tx *txn) error {
		t, err := l.ticket(ticketID)
		if err != nil {
			return err
		}
		// Resolution withdraws listings, so check it before the listing
		// lookup to report a state error rather than a missing listing.
		if l.activities[t.ActivityID].Resolved {
			return domain.StateErr(domain.ReasonUntradeable, "activity %d is resolved", t.ActivityID)
		}
		if t.Claimed {
			return domain.StateErr(domain.ReasonUntradeable, "ticket %d is claimed", ticketID)
		}
		lst, ok := l.listings[ticketID]
		if !ok || !lst.Active {
			return domain.NotFound("ticket %d is not listed", ticketID)
		}
		seller, price := lst.Seller, clone(lst.Price)
		if caller == seller {
			return domain.Invalid("seller cannot buy their own listing")
		}
		owner, err := l.registry.OwnerOf(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("ledger: owner of ticket %d: %w", ticketID, err)
		}
		if owner != seller {
			return domain.StateErr(domain.ReasonStaleListing, "ticket %d is no longer owned by seller %s", ticketID, seller.Hex())
		}
		approved, err := l.registry.GetApproved(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("ledger: approval of ticket %d: %w", ticketID, err)
		}
		if approved != l.escrow {
			return domain.StateErr(domain.ReasonStaleListing, "seller %s withdrew marketplace approval of ticket %d", seller.Hex(), ticketID)
		}

		l.removeListing(tx, t.ActivityID, ticketID)

		if err := l.collect(ctx, tx, caller, price, fmt.Sprintf("price of ticket %d", ticketID)); err != nil {
			return err
		}
		if err := l.registry.Transfer(ctx, seller, caller, ticketID); err != nil {
			return fmt.Errorf("ledger: transfer ticket %d: %w", ticketID, err)
		}
		tx.compensate("return ticket", func(ctx context.Context) error {
			if err := l.registry.Transfer(ctx, caller, seller, ticketID); err != nil {
				return err
			}
			// The transfer cleared the seller's approval of the marketplace.
			return l.registry.Approve(ctx, seller, l.escrow, ticketID)
		})
		if err := l.pay(ctx, tx, seller, price, fmt.Sprintf("proceeds of ticket %d", ticketID)); err != nil {
			return err
		}

		tx.emit(domain.Event{
			Name:         domain.EventTicketBought,
			ActivityID:   t.ActivityID,
			TicketID:     ticketID,
			Actor:        caller,
			Counterparty: seller,
			Amount:       price,
		})
		return nil
	})
}

// GetOrderBook yields (ticket id, price) for every active listing on an
// unresolved activity and the given choice, ascending by ticket id. The
// sequence snapshots the book when iteration starts and can be restarted.
func (l *Ledger) GetOrderBook(activityID uint64, choice int) iter.Seq2[uint64, *big.Int] {
	return func(yield func(uint64, *big.Int) bool) {
		for _, e := range l.OrderBook(activityID, choice) {
			if !yield(e.TicketID, e.Price) {
				return
			}
		}
	}
}

// OrderBook is the slice form of GetOrderBook.
func (l *Ledger) OrderBook(activityID uint64, choice int) []domain.OrderBookEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if activityID >= uint64(len(l.activities)) || l.activities[activityID].Resolved {
		return nil
	}
	var out []domain.OrderBookEntry
	for _, id := range l.listedOn(activityID) {
		lst := l.listings[id]
		if !lst.Active || l.tickets[id].ChoiceIndex != choice {
			continue
		}
		out = append(out, domain.OrderBookEntry{TicketID: id, Price: clone(lst.Price)})
	}
	return out
}

// listedOn returns the listed ticket ids of an activity in ascending order.
func (l *Ledger) listedOn(activityID uint64) []uint64 {
	set := l.listed[activityID]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (l *Ledger) addListing(tx *txn, activityID uint64, lst *domain.Listing) {
	l.listings[lst.TicketID] = lst
	set, ok := l.listed[activityID]
	if !ok {
		set = make(map[uint64]struct{})
		l.listed[activityID] = set
	}
	set[lst.TicketID] = struct{}{}
	tx.undo(func() {
		delete(l.listings, lst.TicketID)
		delete(l.listed[activityID], lst.TicketID)
	})
}

func (l *Ledger) removeListing(tx *txn, activityID, ticketID uint64) {
	lst, ok := l.listings[ticketID]
	if !ok {
		return
	}
	delete(l.listings, ticketID)
	delete(l.listed[activityID], ticketID)
	tx.undo(func() {
		l.listings[ticketID] = lst
		if l.listed[activityID] == nil {
			l.listed[activityID] = make(map[uint64]struct{})
		}
		l.listed[activityID][ticketID] = struct{}{}
	})
}

// unlist drops a listing for a ticket that just became untradeable.
func (l *Ledger) unlist(tx *txn, t *domain.Ticket) {
	l.removeListing(tx, t.ActivityID, t.ID)
}
