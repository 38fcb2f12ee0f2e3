package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventName identifies a committed ledger mutation.
type EventName string

const (
	EventActivityCreated  EventName = "activity_created"
	EventBettingEnded     EventName = "betting_ended"
	EventActivityResolved EventName = "activity_resolved"
	EventBetPlaced        EventName = "bet_placed"
	EventWinningsClaimed  EventName = "winnings_claimed"
	EventTicketListed     EventName = "ticket_listed"
	EventTicketDelisted   EventName = "ticket_delisted"
	EventTicketBought     EventName = "ticket_bought"
)

// Event is the flat record of one committed mutation. Fields that do not
// apply to a given event name are left zero.
//
//	activity_created   Actor=creator  Amount=initial pot  Description, Deadline
//	betting_ended      Actor=admin    Deadline=new cutoff
//	activity_resolved  Actor=admin    Choice=winning choice
//	bet_placed         Actor=bettor   TicketID, Choice, Amount=stake
//	winnings_claimed   Actor=claimer  TicketID, Amount=payout
//	ticket_listed      Actor=seller   TicketID, Amount=price
//	ticket_delisted    Actor=seller   TicketID
//	ticket_bought      Actor=buyer    Counterparty=seller  TicketID, Amount=price
type Event struct {
	Seq          uint64         `json:"seq"`
	Name         EventName      `json:"name"`
	At           time.Time      `json:"at"`
	ActivityID   uint64         `json:"activity_id"`
	TicketID     uint64         `json:"ticket_id,omitempty"`
	Actor        common.Address `json:"actor"`
	Counterparty common.Address `json:"counterparty,omitzero"`
	Choice       int            `json:"choice"`
	Amount       *big.Int       `json:"amount,omitempty"`
	Description  string         `json:"description,omitempty"`
	Deadline     time.Time      `json:"deadline,omitzero"`
}

// EventPublisher receives committed events in commit order. Publishing is a
// side channel: it never fails the operation that produced the events.
type EventPublisher interface {
	Publish(ctx context.Context, events []Event)
}

// EventStore persists the ledger event journal.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListByActivity(ctx context.Context, activityID uint64, opts ListOpts) ([]Event, error)
	LastSeq(ctx context.Context) (uint64, error)
}
