package ledger_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/domain"
)

func TestPlaceBet_NonPositiveStakeIsValidationError(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	f.resolve(act, 0)

	for _, stake := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		// Unknown activity, resolved activity, open activity: always validation.
		_, err := f.ledger.PlaceBet(f.ctx, alice, 99, 0, stake)
		require.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.ledger.PlaceBet(f.ctx, alice, act, 0, stake)
		require.ErrorIs(t, err, domain.ErrValidation)
	}
	assert.Equal(t, int64(1000), f.balance(alice))
}

func TestPlaceBet_MintsIndependentTickets(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)

	first := f.bet(alice, act, 0, 10)
	second := f.bet(alice, act, 0, 15)
	third := f.bet(alice, act, 1, 5)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{first, second, third})

	for _, id := range []uint64{first, second, third} {
		assert.Equal(t, alice, f.owner(id))
	}
	tk, err := f.ledger.Ticket(second)
	require.NoError(t, err)
	assert.Equal(t, act, tk.ActivityID)
	assert.Equal(t, 0, tk.ChoiceIndex)
	assert.Equal(t, int64(15), tk.Stake.Int64())
	assert.False(t, tk.Claimed)

	meta, err := f.reg.Meta(f.ctx, third)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.ChoiceIndex)

	a, err := f.ledger.Activity(act)
	require.NoError(t, err)
	assert.Equal(t, int64(130), a.TotalPool.Int64())
	assert.Equal(t, uint64(3), a.SoldTickets)

	stakes, err := f.ledger.ChoiceStakes(act)
	require.NoError(t, err)
	assert.Equal(t, int64(25), stakes[0].Int64())
	assert.Equal(t, int64(5), stakes[1].Int64())

	assert.Equal(t, int64(970), f.balance(alice))
	f.assertConserved()
}

func TestPlaceBet_Rejections(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)

	_, err := f.ledger.PlaceBet(f.ctx, alice, 3, 0, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.ledger.PlaceBet(f.ctx, alice, act, 2, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.ledger.PlaceBet(f.ctx, alice, act, 0, big.NewInt(5000))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Nothing was minted by the failures: the next ticket is id 1.
	assert.Equal(t, uint64(1), f.bet(alice, act, 0, 10))
	assert.Equal(t, int64(990), f.balance(alice))

	f.clock.Advance(time.Hour)
	_, err = f.ledger.PlaceBet(f.ctx, bob, act, 1, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonBettingClosed, domain.ReasonOf(err))

	f.resolve(act, 0)
	_, err = f.ledger.PlaceBet(f.ctx, bob, act, 1, big.NewInt(10))
	assert.Equal(t, domain.ReasonAlreadyResolved, domain.ReasonOf(err))
	assert.Equal(t, int64(1000), f.balance(bob))
	f.assertConserved()
}

func TestPlaceBet_EscrowCannotBet(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)

	_, err := f.ledger.PlaceBet(f.ctx, escrow, act, 0, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrAuthorization)

	a, err := f.ledger.Activity(act)
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.TotalPool.Int64())
	assert.Zero(t, a.SoldTickets)
	assert.Equal(t, int64(100), f.balance(escrow))
	f.assertConserved()
}

func TestPlaceBet_WithoutAllowance(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	require.NoError(t, f.bank.Approve(f.ctx, carol, escrow, big.NewInt(5)))

	_, err := f.ledger.PlaceBet(f.ctx, carol, act, 0, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(1000), f.balance(carol))
}

func TestTicketsOf(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	other := f.create(100)

	a1 := f.bet(alice, act, 0, 10)
	f.bet(bob, act, 1, 10)
	a2 := f.bet(alice, act, 1, 20)
	f.bet(alice, other, 0, 10)

	owned, err := f.ledger.TicketsOf(f.ctx, alice, act)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, a1, owned[0].ID)
	assert.Equal(t, a2, owned[1].ID)
	assert.Equal(t, alice, owned[1].Owner)

	_, err = f.ledger.TicketsOf(f.ctx, alice, 5)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
