// Package registry is an in-memory unique-ticket registry with single-token
// approvals. Mint, Transfer and Burn are operator calls made on behalf of the
// minter (the ledger escrow); owners act only through Approve.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

type token struct {
	owner    common.Address
	approved common.Address
	meta     domain.TicketMeta
}

// Registry implements domain.OwnershipRegistry.
type Registry struct {
	minter common.Address

	mu     sync.Mutex
	next   uint64
	tokens map[uint64]*token
}

// New creates an empty Registry. Ticket ids start at 1.
func New(minter common.Address) *Registry {
	return &Registry{
		minter: minter,
		next:   1,
		tokens: make(map[uint64]*token),
	}
}

// Minter returns the address allowed to mint, burn and move tickets.
func (r *Registry) Minter() common.Address { return r.minter }

// Mint creates a ticket owned by owner.
func (r *Registry) Mint(_ context.Context, owner common.Address, meta domain.TicketMeta) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, domain.Invalid("mint to the zero address")
	}
	if meta.Stake == nil {
		return 0, domain.Invalid("ticket meta has no stake")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	meta.Stake = new(big.Int).Set(meta.Stake)
	r.tokens[id] = &token{owner: owner, meta: meta}
	return id, nil
}

// OwnerOf returns the current owner of a ticket.
func (r *Registry) OwnerOf(_ context.Context, id uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return t.owner, nil
}

// Transfer moves a ticket from its owner. The per-ticket approval is cleared.
func (r *Registry) Transfer(_ context.Context, from, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return domain.Invalid("transfer to the zero address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return err
	}
	if t.owner != from {
		return domain.Unauthorized("ticket %d is owned by %s, not %s", id, t.owner.Hex(), from.Hex())
	}
	t.owner = to
	t.approved = common.Address{}
	return nil
}

// Approve lets approved act on owner's ticket. Approving the zero address
// revokes.
func (r *Registry) Approve(_ context.Context, owner, approved common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return err
	}
	if t.owner != owner {
		return domain.Unauthorized("ticket %d is owned by %s", id, t.owner.Hex())
	}
	if approved == owner {
		return domain.Invalid("approval to current owner")
	}
	t.approved = approved
	return nil
}

// GetApproved returns the address approved for a ticket, or the zero address.
func (r *Registry) GetApproved(_ context.Context, id uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return t.approved, nil
}

// Meta returns the data bound to a ticket at mint.
func (r *Registry) Meta(_ context.Context, id uint64) (domain.TicketMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return domain.TicketMeta{}, err
	}
	m := t.meta
	m.Stake = new(big.Int).Set(t.meta.Stake)
	return m, nil
}

// Burn destroys a ticket. Ids are never reused.
func (r *Registry) Burn(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.get(id); err != nil {
		return err
	}
	delete(r.tokens, id)
	return nil
}

// TokensOf lists the ids owned by owner, ascending.
func (r *Registry) TokensOf(_ context.Context, owner common.Address) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for id, t := range r.tokens {
		if t.owner == owner {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) get(id uint64) (*token, error) {
	t, ok := r.tokens[id]
	if !ok {
		return nil, domain.NotFound("ticket %d", id)
	}
	return t, nil
}

// Token is the serialisable form of one ticket.
type Token struct {
	ID       uint64            `json:"id"`
	Owner    common.Address    `json:"owner"`
	Approved common.Address    `json:"approved,omitzero"`
	Meta     domain.TicketMeta `json:"meta"`
}

// State is the serialisable registry state.
type State struct {
	Next   uint64  `json:"next"`
	Tokens []Token `json:"tokens"`
}

// Export copies the registry state.
func (r *Registry) Export() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := State{Next: r.next}
	for _, id := range slices.Sorted(maps.Keys(r.tokens)) {
		t := r.tokens[id]
		m := t.meta
		m.Stake = new(big.Int).Set(t.meta.Stake)
		s.Tokens = append(s.Tokens, Token{ID: id, Owner: t.owner, Approved: t.approved, Meta: m})
	}
	return s
}

// Import replaces the state of an empty registry.
func (r *Registry) Import(s State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) > 0 || r.next != 1 {
		return errors.New("registry: import into a non-empty registry")
	}
	for _, t := range s.Tokens {
		if t.ID == 0 || t.ID >= s.Next {
			return fmt.Errorf("registry: token id %d outside [1, %d)", t.ID, s.Next)
		}
		if t.Meta.Stake == nil {
			return fmt.Errorf("registry: token %d has no stake", t.ID)
		}
		m := t.Meta
		m.Stake = new(big.Int).Set(t.Meta.Stake)
		r.tokens[t.ID] = &token{owner: t.Owner, approved: t.Approved, meta: m}
	}
	if s.Next > 0 {
		r.next = s.Next
	}
	return nil
}

var _ domain.OwnershipRegistry = (*Registry)(nil)
