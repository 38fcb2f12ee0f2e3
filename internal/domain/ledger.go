package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Activity is a prediction market with two or more mutually exclusive
// choices. IDs are dense and start at 0.
type Activity struct {
	ID            uint64         `json:"id"`
	Creator       common.Address `json:"creator"`
	Description   string         `json:"description"`
	Choices       []string       `json:"choices"`
	Deadline      time.Time      `json:"deadline"`
	BettingCutoff time.Time      `json:"betting_cutoff"`
	InitialPot    *big.Int       `json:"initial_pot"`
	TotalPool     *big.Int       `json:"total_pool"`
	SoldTickets   uint64         `json:"sold_tickets"`
	Resolved      bool           `json:"resolved"`
	WinningChoice int            `json:"winning_choice"`
	CreatedAt     time.Time      `json:"created_at"`
	ResolvedAt    time.Time      `json:"resolved_at,omitzero"`
}

// BettingOpen reports whether a bet placed at now would be accepted.
func (a *Activity) BettingOpen(now time.Time) bool {
	return !a.Resolved && now.Before(a.BettingCutoff)
}

// ValidChoice reports whether idx names one of the activity's choices.
func (a *Activity) ValidChoice(idx int) bool {
	return idx >= 0 && idx < len(a.Choices)
}

// Clone returns a deep copy safe to hand outside the ledger lock.
func (a *Activity) Clone() Activity {
	out := *a
	out.Choices = append([]string(nil), a.Choices...)
	out.InitialPot = cloneInt(a.InitialPot)
	out.TotalPool = cloneInt(a.TotalPool)
	return out
}

// TicketMeta is the immutable data bound to a ticket at mint time.
type TicketMeta struct {
	ActivityID  uint64   `json:"activity_id"`
	ChoiceIndex int      `json:"choice_index"`
	Stake       *big.Int `json:"stake"`
}

// Ticket is a unique claim on a stake. Ownership lives in the
// OwnershipRegistry, not here.
type Ticket struct {
	ID          uint64   `json:"id"`
	ActivityID  uint64   `json:"activity_id"`
	ChoiceIndex int      `json:"choice_index"`
	Stake       *big.Int `json:"stake"`
	Claimed     bool     `json:"claimed"`
}

// Clone returns a deep copy.
func (t *Ticket) Clone() Ticket {
	out := *t
	out.Stake = cloneInt(t.Stake)
	return out
}

// Listing is a fixed-price sell offer for a ticket.
type Listing struct {
	TicketID uint64         `json:"ticket_id"`
	Seller   common.Address `json:"seller"`
	Price    *big.Int       `json:"price"`
	Active   bool           `json:"active"`
	ListedAt time.Time      `json:"listed_at"`
}

// Clone returns a deep copy.
func (l *Listing) Clone() Listing {
	out := *l
	out.Price = cloneInt(l.Price)
	return out
}

// OrderBookEntry is one row of an activity/choice order book.
type OrderBookEntry struct {
	TicketID uint64   `json:"ticket_id"`
	Price    *big.Int `json:"price"`
}

// OwnedTicket pairs a ticket with its current owner.
type OwnedTicket struct {
	Ticket
	Owner common.Address `json:"owner"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
