package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceProvider moves fungible funds on behalf of the ledger. Transfers out
// of any account other than the ledger escrow are subject to the provider's
// own authorisation (allowances).
type BalanceProvider interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Reclaimer is implemented by balance providers that can move a payout back
// into escrow without spending the holder's allowance. The ledger uses it to
// undo payouts of a failed operation and falls back to Transfer otherwise.
type Reclaimer interface {
	Reclaim(ctx context.Context, from common.Address, amount *big.Int) error
}

// OwnershipRegistry mints and tracks unique tickets. The ledger escrow is the
// registry's minter and may move any ticket it minted.
type OwnershipRegistry interface {
	Mint(ctx context.Context, owner common.Address, meta TicketMeta) (uint64, error)
	OwnerOf(ctx context.Context, id uint64) (common.Address, error)
	Transfer(ctx context.Context, from, to common.Address, id uint64) error
	Approve(ctx context.Context, owner, approved common.Address, id uint64) error
	GetApproved(ctx context.Context, id uint64) (common.Address, error)
	Meta(ctx context.Context, id uint64) (TicketMeta, error)
	// Burn destroys a ticket. The ledger only burns to undo a mint whose
	// enclosing operation failed.
	Burn(ctx context.Context, id uint64) error
}

// Clock is the time oracle. The ledger reads it once per operation.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns wall-clock UTC time.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
