package ledger

import (
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// Snapshot is the serialisable ledger state. Per-choice aggregates and
// indexes are derived on restore.
type Snapshot struct {
	Seq        uint64            `json:"seq"`
	Activities []domain.Activity `json:"activities"`
	Tickets    []domain.Ticket   `json:"tickets"`
	Listings   []domain.Listing  `json:"listings"`
}

// Export copies the full ledger state.
func (l *Ledger) Export() Snapshot {
	return l.ExportWith(nil)
}

// ExportWith copies the ledger state and, while no operation can commit,
// runs capture so collaborator state read there matches the copy.
func (l *Ledger) ExportWith(capture func()) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if capture != nil {
		capture()
	}
	s := Snapshot{Seq: l.seq}
	for _, a := range l.activities {
		s.Activities = append(s.Activities, a.Clone())
	}
	for _, id := range slices.Sorted(maps.Keys(l.tickets)) {
		s.Tickets = append(s.Tickets, l.tickets[id].Clone())
	}
	for _, id := range slices.Sorted(maps.Keys(l.listings)) {
		s.Listings = append(s.Listings, l.listings[id].Clone())
	}
	return s
}

// Restore loads a snapshot into an empty ledger after checking that it is
// internally consistent.
func (l *Ledger) Restore(s Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.activities) > 0 || len(l.tickets) > 0 {
		return errors.New("ledger: restore into a non-empty ledger")
	}

	activities := make([]*domain.Activity, len(s.Activities))
	stakes := make([][]*big.Int, len(s.Activities))
	byActivity := make([][]uint64, len(s.Activities))
	for i := range s.Activities {
		a := s.Activities[i].Clone()
		if a.ID != uint64(i) {
			return fmt.Errorf("ledger: snapshot activity at %d has id %d", i, a.ID)
		}
		if len(a.Choices) < 2 || a.InitialPot == nil || a.TotalPool == nil {
			return fmt.Errorf("ledger: snapshot activity %d is malformed", a.ID)
		}
		if a.Resolved && !a.ValidChoice(a.WinningChoice) {
			return fmt.Errorf("ledger: snapshot activity %d has winning choice %d", a.ID, a.WinningChoice)
		}
		activities[i] = &a
		stakes[i] = make([]*big.Int, len(a.Choices))
		for c := range stakes[i] {
			stakes[i][c] = new(big.Int)
		}
	}

	tickets := make(map[uint64]*domain.Ticket, len(s.Tickets))
	sold := make([]uint64, len(activities))
	for _, t := range s.Tickets {
		t := t.Clone()
		if t.ActivityID >= uint64(len(activities)) {
			return fmt.Errorf("ledger: snapshot ticket %d references activity %d", t.ID, t.ActivityID)
		}
		a := activities[t.ActivityID]
		if !a.ValidChoice(t.ChoiceIndex) || !positive(t.Stake) {
			return fmt.Errorf("ledger: snapshot ticket %d is malformed", t.ID)
		}
		if _, dup := tickets[t.ID]; dup {
			return fmt.Errorf("ledger: snapshot ticket %d appears twice", t.ID)
		}
		tickets[t.ID] = &t
		byActivity[t.ActivityID] = append(byActivity[t.ActivityID], t.ID)
		stakes[t.ActivityID][t.ChoiceIndex].Add(stakes[t.ActivityID][t.ChoiceIndex], t.Stake)
		sold[t.ActivityID]++
	}

	for i, a := range activities {
		want := new(big.Int).Set(a.InitialPot)
		for _, st := range stakes[i] {
			want.Add(want, st)
		}
		if want.Cmp(a.TotalPool) != 0 {
			return fmt.Errorf("ledger: snapshot activity %d pool %s, stakes imply %s", a.ID, a.TotalPool, want)
		}
		if sold[i] != a.SoldTickets {
			return fmt.Errorf("ledger: snapshot activity %d sold %d tickets, found %d", a.ID, a.SoldTickets, sold[i])
		}
	}

	listings := make(map[uint64]*domain.Listing, len(s.Listings))
	listed := make(map[uint64]map[uint64]struct{})
	for _, lst := range s.Listings {
		lst := lst.Clone()
		t, ok := tickets[lst.TicketID]
		if !ok {
			return fmt.Errorf("ledger: snapshot listing for unknown ticket %d", lst.TicketID)
		}
		if activities[t.ActivityID].Resolved || t.Claimed || !positive(lst.Price) {
			continue
		}
		listings[lst.TicketID] = &lst
		if listed[t.ActivityID] == nil {
			listed[t.ActivityID] = make(map[uint64]struct{})
		}
		listed[t.ActivityID][lst.TicketID] = struct{}{}
	}

	l.activities = activities
	l.stakes = stakes
	l.byActivity = byActivity
	l.tickets = tickets
	l.listings = listings
	l.listed = listed
	l.seq = s.Seq
	return nil
}
