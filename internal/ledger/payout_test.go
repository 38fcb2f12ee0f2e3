package ledger_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/ledger"
)

func TestComputeShare(t *testing.T) {
	resolved := &domain.Activity{ID: 1, Resolved: true, WinningChoice: 1, TotalPool: big.NewInt(107)}
	winner := &domain.Ticket{ID: 4, ChoiceIndex: 1, Stake: big.NewInt(3)}

	tests := []struct {
		name     string
		activity *domain.Activity
		ticket   *domain.Ticket
		caller   common.Address
		want     int64
		kind     domain.Kind
		reason   domain.Reason
	}{
		{name: "truncated share", activity: resolved, ticket: winner, caller: alice, want: 45},
		{
			name:     "unresolved",
			activity: &domain.Activity{ID: 1, TotalPool: big.NewInt(107)},
			ticket:   winner,
			caller:   alice,
			kind:     domain.KindState,
			reason:   domain.ReasonNotResolved,
		},
		{
			name:     "losing choice",
			activity: resolved,
			ticket:   &domain.Ticket{ID: 5, ChoiceIndex: 0, Stake: big.NewInt(3)},
			caller:   alice,
			kind:     domain.KindState,
			reason:   domain.ReasonChoiceLost,
		},
		{
			name:     "already claimed",
			activity: resolved,
			ticket:   &domain.Ticket{ID: 6, ChoiceIndex: 1, Stake: big.NewInt(3), Claimed: true},
			caller:   alice,
			kind:     domain.KindState,
			reason:   domain.ReasonAlreadyClaimed,
		},
		{name: "not the owner", activity: resolved, ticket: winner, caller: bob, kind: domain.KindAuthorization},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			share, err := ledger.ComputeShare(tc.activity, tc.ticket, big.NewInt(7), tc.caller, alice)
			if tc.kind != domain.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tc.kind, domain.KindOf(err))
				assert.Equal(t, tc.reason, domain.ReasonOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, share.Int64())
		})
	}
}

func TestClaim_TruncationDustStaysInEscrow(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	ta := f.bet(alice, act, 0, 3)
	tb := f.bet(bob, act, 0, 4)
	f.resolve(act, 0)

	quote, err := f.ledger.Quote(f.ctx, alice, ta)
	require.NoError(t, err)
	assert.Equal(t, int64(45), quote.Int64())

	paidA, err := f.ledger.Claim(f.ctx, alice, ta)
	require.NoError(t, err)
	paidB, err := f.ledger.Claim(f.ctx, bob, tb)
	require.NoError(t, err)

	assert.Equal(t, int64(45), paidA.Int64()) // 3*107/7 = 45.86
	assert.Equal(t, int64(61), paidB.Int64()) // 4*107/7 = 61.14
	assert.Equal(t, int64(1), f.balance(escrow))
	f.assertConserved()
}

func TestClaim_AtMostOnce(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 50)

	_, err := f.ledger.Claim(f.ctx, alice, tk)
	assert.Equal(t, domain.ReasonNotResolved, domain.ReasonOf(err))

	f.resolve(act, 0)

	_, err = f.ledger.Claim(f.ctx, bob, tk)
	require.ErrorIs(t, err, domain.ErrAuthorization)
	_, err = f.ledger.Claim(f.ctx, alice, 77)
	require.ErrorIs(t, err, domain.ErrNotFound)

	paid, err := f.ledger.Claim(f.ctx, alice, tk)
	require.NoError(t, err)
	assert.Equal(t, int64(150), paid.Int64())

	_, err = f.ledger.Claim(f.ctx, alice, tk)
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonAlreadyClaimed, domain.ReasonOf(err))

	claimed, err := f.ledger.IsClaimed(tk)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, int64(1100), f.balance(alice))
	f.assertConserved()
}

func TestClaim_PaysCurrentOwner(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 50)
	f.list(alice, tk, 60)
	require.NoError(t, f.ledger.BuyTicket(f.ctx, bob, tk))
	f.resolve(act, 0)

	_, err := f.ledger.Claim(f.ctx, alice, tk)
	require.ErrorIs(t, err, domain.ErrAuthorization)

	paid, err := f.ledger.Claim(f.ctx, bob, tk)
	require.NoError(t, err)
	assert.Equal(t, int64(150), paid.Int64())
	assert.Equal(t, int64(1000-60+150), f.balance(bob))
	assert.Equal(t, int64(1000-50+60), f.balance(alice))
	f.assertConserved()
}

func TestClaimAll(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	w1 := f.bet(alice, act, 1, 10)
	f.bet(alice, act, 0, 40)
	w2 := f.bet(alice, act, 1, 30)
	wb := f.bet(bob, act, 1, 20)

	_, err := f.ledger.ClaimAll(f.ctx, alice, act)
	assert.Equal(t, domain.ReasonNotResolved, domain.ReasonOf(err))

	f.resolve(act, 1)
	// Pool 200, winning stake 60.
	total, err := f.ledger.ClaimAll(f.ctx, alice, act)
	require.NoError(t, err)
	assert.Equal(t, int64(33+100), total.Int64())

	for _, id := range []uint64{w1, w2} {
		claimed, err := f.ledger.IsClaimed(id)
		require.NoError(t, err)
		assert.True(t, claimed)
	}
	claimed, err := f.ledger.IsClaimed(wb)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = f.ledger.ClaimAll(f.ctx, alice, act)
	assert.Equal(t, domain.ReasonNothingToClaim, domain.ReasonOf(err))

	_, err = f.ledger.ClaimAll(f.ctx, alice, 12)
	require.ErrorIs(t, err, domain.ErrNotFound)

	names := f.events.names()
	assert.Equal(t, domain.EventWinningsClaimed, names[len(names)-1])
	assert.Equal(t, domain.EventWinningsClaimed, names[len(names)-2])
	f.assertConserved()
}

func TestConservation_AcrossLifecycle(t *testing.T) {
	f := newFixture(t)

	act := f.create(100, "a", "b", "c")
	other := f.create(40)
	f.assertConserved()

	t1 := f.bet(alice, act, 0, 25)
	t2 := f.bet(bob, act, 1, 35)
	t3 := f.bet(carol, act, 0, 15)
	f.bet(bob, other, 1, 5)
	f.assertConserved()

	f.list(carol, t3, 20)
	require.NoError(t, f.ledger.BuyTicket(f.ctx, bob, t3))
	f.assertConserved()

	f.resolve(act, 0)
	_, err := f.ledger.Claim(f.ctx, alice, t1)
	require.NoError(t, err)
	f.assertConserved()
	_, err = f.ledger.Claim(f.ctx, bob, t3)
	require.NoError(t, err)
	f.assertConserved()
	_, err = f.ledger.Claim(f.ctx, bob, t2)
	require.Error(t, err)

	a, err := f.ledger.Activity(act)
	require.NoError(t, err)
	// The creator and bettors were debited exactly the pool.
	assert.Equal(t, int64(100+25+35+15), a.TotalPool.Int64())
	supply := f.bank.TotalSupply().Int64()
	sum := f.balance(admin) + f.balance(alice) + f.balance(bob) + f.balance(carol) + f.balance(escrow)
	assert.Equal(t, supply, sum, "no funds created or destroyed")
}
