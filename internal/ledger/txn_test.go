package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/bank"
	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/registry"
)

var errPayoutDown = errors.New("payout rail down")

func TestBuyTicket_RegistryFailureRefundsBuyer(t *testing.T) {
	var flaky *flakyRegistry
	f := newFixtureWith(t, nil, func(r *registry.Registry) domain.OwnershipRegistry {
		flaky = &flakyRegistry{Registry: r}
		return flaky
	})
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 20)
	before := f.events.count()

	flaky.failTransfer = true
	err := f.ledger.BuyTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, int64(1000), f.balance(bob), "buyer refunded")
	assert.Equal(t, int64(990), f.balance(alice))
	assert.Equal(t, alice, f.owner(tk))
	assert.Len(t, f.ledger.OrderBook(act, 0), 1, "listing kept")
	assert.Equal(t, before, f.events.count())
	f.assertConserved()

	flaky.failTransfer = false
	require.NoError(t, f.ledger.BuyTicket(f.ctx, bob, tk))
	assert.Equal(t, bob, f.owner(tk))
}

func TestBuyTicket_PayoutFailureReturnsTicket(t *testing.T) {
	var hooked *hookedBank
	f := newFixtureWith(t, func(b *bank.Bank) domain.BalanceProvider {
		hooked = &hookedBank{Bank: b}
		return hooked
	}, nil)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 20)

	hooked.before = func(_ context.Context, from, to common.Address, _ *big.Int) error {
		if from == escrow && to == alice {
			return errPayoutDown
		}
		return nil
	}
	err := f.ledger.BuyTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, errPayoutDown)

	assert.Equal(t, alice, f.owner(tk))
	assert.Equal(t, int64(1000), f.balance(bob))
	assert.Equal(t, int64(990), f.balance(alice))
	approved, err := f.reg.GetApproved(f.ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, escrow, approved, "seller approval restored")
	assert.Len(t, f.ledger.OrderBook(act, 0), 1)
	f.assertConserved()
}

func TestClaim_ReentrantClaimIsRejected(t *testing.T) {
	var hooked *hookedBank
	f := newFixtureWith(t, func(b *bank.Bank) domain.BalanceProvider {
		hooked = &hookedBank{Bank: b}
		return hooked
	}, nil)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 50)
	f.resolve(act, 0)

	var nestedErr error
	reentered := false
	hooked.before = func(ctx context.Context, from, to common.Address, _ *big.Int) error {
		if from != escrow || to != alice || reentered {
			return nil
		}
		reentered = true
		_, nestedErr = f.ledger.Claim(ctx, alice, tk)
		return nil
	}

	paid, err := f.ledger.Claim(f.ctx, alice, tk)
	require.NoError(t, err)
	assert.Equal(t, int64(150), paid.Int64())

	require.True(t, reentered)
	require.ErrorIs(t, nestedErr, domain.ErrState)
	assert.Equal(t, domain.ReasonAlreadyClaimed, domain.ReasonOf(nestedErr))
	assert.Equal(t, int64(1100), f.balance(alice), "paid exactly once")
	f.assertConserved()
}

func TestRollback_UnwindsNestedOperation(t *testing.T) {
	var hooked *hookedBank
	f := newFixtureWith(t, func(b *bank.Bank) domain.BalanceProvider {
		hooked = &hookedBank{Bank: b}
		return hooked
	}, nil)
	act := f.create(100)
	other := f.create(40)
	tk := f.bet(alice, act, 0, 50)
	f.resolve(act, 0)
	before := f.events.count()

	var nestedTicket uint64
	var nestedErr error
	hooked.before = func(ctx context.Context, from, to common.Address, _ *big.Int) error {
		if from != escrow || to != alice {
			return nil
		}
		nestedTicket, nestedErr = f.ledger.PlaceBet(ctx, carol, other, 1, big.NewInt(10))
		return errPayoutDown
	}

	_, err := f.ledger.Claim(f.ctx, alice, tk)
	require.ErrorIs(t, err, errPayoutDown)
	require.NoError(t, nestedErr, "the nested bet itself succeeded")
	require.NotZero(t, nestedTicket)

	// The nested bet is unwound with its parent.
	assert.Equal(t, int64(1000), f.balance(carol))
	a, err := f.ledger.Activity(other)
	require.NoError(t, err)
	assert.Equal(t, int64(40), a.TotalPool.Int64())
	assert.Zero(t, a.SoldTickets)
	_, err = f.ledger.Ticket(nestedTicket)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.reg.OwnerOf(f.ctx, nestedTicket)
	require.ErrorIs(t, err, domain.ErrNotFound, "ticket burned")

	claimed, err := f.ledger.IsClaimed(tk)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, before, f.events.count(), "nothing published")
	f.assertConserved()

	hooked.before = nil
	paid, err := f.ledger.Claim(f.ctx, alice, tk)
	require.NoError(t, err)
	assert.Equal(t, int64(150), paid.Int64())
}

func TestRollback_ReclaimsNestedPayoutWithoutAllowance(t *testing.T) {
	var hooked *hookedBank
	f := newFixtureWith(t, func(b *bank.Bank) domain.BalanceProvider {
		hooked = &hookedBank{Bank: b}
		return hooked
	}, nil)
	act := f.create(100)
	tkAlice := f.bet(alice, act, 0, 50)
	tkBob := f.bet(bob, act, 0, 30)
	f.resolve(act, 0)
	require.NoError(t, f.bank.Approve(f.ctx, alice, escrow, big.NewInt(0)))

	var nestedPaid *big.Int
	var nestedErr error
	hooked.before = func(ctx context.Context, from, to common.Address, _ *big.Int) error {
		if from != escrow || to != bob {
			return nil
		}
		nestedPaid, nestedErr = f.ledger.Claim(ctx, alice, tkAlice)
		return errPayoutDown
	}

	_, err := f.ledger.Claim(f.ctx, bob, tkBob)
	require.ErrorIs(t, err, errPayoutDown)
	assert.NotContains(t, err.Error(), "compensate")
	require.NoError(t, nestedErr)
	assert.Equal(t, int64(112), nestedPaid.Int64())

	// Alice's payout went back to escrow although she has no allowance left.
	assert.Equal(t, int64(950), f.balance(alice))
	claimed, err := f.ledger.IsClaimed(tkAlice)
	require.NoError(t, err)
	assert.False(t, claimed)
	f.assertConserved()
}
