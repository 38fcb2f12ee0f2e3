package ledger_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/ledger"
)

func TestCreateActivity_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		caller common.Address
		mutate func(*ledger.CreateActivityParams)
		want   error
	}{
		{
			name:   "non-admin caller",
			caller: alice,
			mutate: func(*ledger.CreateActivityParams) {},
			want:   domain.ErrAuthorization,
		},
		{
			name:   "single choice",
			caller: admin,
			mutate: func(p *ledger.CreateActivityParams) { p.Choices = []string{"only"} },
			want:   domain.ErrValidation,
		},
		{
			name:   "blank choice",
			caller: admin,
			mutate: func(p *ledger.CreateActivityParams) { p.Choices = []string{"yes", " "} },
			want:   domain.ErrValidation,
		},
		{
			name:   "deadline in the past",
			caller: admin,
			mutate: func(p *ledger.CreateActivityParams) { p.Deadline = start.Add(-time.Minute) },
			want:   domain.ErrValidation,
		},
		{
			name:   "deadline equal to now",
			caller: admin,
			mutate: func(p *ledger.CreateActivityParams) { p.Deadline = start },
			want:   domain.ErrValidation,
		},
		{
			name:   "zero pot",
			caller: admin,
			mutate: func(p *ledger.CreateActivityParams) { p.InitialPot = big.NewInt(0) },
			want:   domain.ErrInsufficientFunds,
		},
		{
			name:   "pot above balance",
			caller: admin,
			mutate: func(p *ledger.CreateActivityParams) { p.InitialPot = big.NewInt(5000) },
			want:   domain.ErrInsufficientFunds,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			p := ledger.CreateActivityParams{
				Description: "final",
				Choices:     []string{"home", "away"},
				Deadline:    start.Add(time.Hour),
				InitialPot:  big.NewInt(100),
			}
			tc.mutate(&p)

			_, err := f.ledger.CreateActivity(f.ctx, tc.caller, p)
			require.ErrorIs(t, err, tc.want)

			assert.Equal(t, uint64(0), f.ledger.NextActivityID(), "no id consumed")
			assert.Equal(t, int64(1000), f.balance(admin), "no debit")
			assert.Equal(t, int64(0), f.balance(escrow))
			assert.Zero(t, f.events.count())
		})
	}
}

func TestCreateActivity_DenseIDsAndEscrow(t *testing.T) {
	f := newFixture(t)

	first := f.create(100)
	second := f.create(50, "red", "green", "blue")
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(1), second)
	assert.Equal(t, uint64(2), f.ledger.NextActivityID())

	a, err := f.ledger.Activity(second)
	require.NoError(t, err)
	assert.Equal(t, admin, a.Creator)
	assert.Equal(t, []string{"red", "green", "blue"}, a.Choices)
	assert.Equal(t, int64(50), a.TotalPool.Int64())
	assert.Equal(t, a.Deadline, a.BettingCutoff)
	assert.False(t, a.Resolved)

	assert.Equal(t, int64(850), f.balance(admin))
	assert.Equal(t, int64(150), f.balance(escrow))
	f.assertConserved()

	_, err = f.ledger.Activity(7)
	require.ErrorIs(t, err, domain.ErrNotFound)

	page := f.ledger.Activities(1, 10)
	require.Len(t, page, 1)
	assert.Equal(t, second, page[0].ID)
}

func TestCreateActivity_CallerMutationDoesNotLeak(t *testing.T) {
	f := newFixture(t)

	pot := big.NewInt(100)
	choices := []string{"a", "b"}
	id, err := f.ledger.CreateActivity(f.ctx, admin, ledger.CreateActivityParams{
		Choices:    choices,
		Deadline:   start.Add(time.Hour),
		InitialPot: pot,
	})
	require.NoError(t, err)
	pot.SetInt64(1)
	choices[0] = "changed"

	a, err := f.ledger.Activity(id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.TotalPool.Int64())
	assert.Equal(t, "a", a.Choices[0])
}

func TestEndBettingEarly(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	f.bet(alice, act, 0, 10)

	err := f.ledger.EndBettingEarly(f.ctx, alice, act)
	require.ErrorIs(t, err, domain.ErrAuthorization)
	err = f.ledger.EndBettingEarly(f.ctx, admin, 9)
	require.ErrorIs(t, err, domain.ErrNotFound)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.ledger.EndBettingEarly(f.ctx, admin, act))

	a, err := f.ledger.Activity(act)
	require.NoError(t, err)
	assert.Equal(t, start.Add(10*time.Minute), a.BettingCutoff)
	assert.Equal(t, start.Add(time.Hour), a.Deadline, "deadline is unchanged")

	_, err = f.ledger.PlaceBet(f.ctx, bob, act, 1, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonBettingClosed, domain.ReasonOf(err))

	err = f.ledger.EndBettingEarly(f.ctx, admin, act)
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonBettingClosed, domain.ReasonOf(err))

	f.resolve(act, 0)
	err = f.ledger.EndBettingEarly(f.ctx, admin, act)
	assert.Equal(t, domain.ReasonAlreadyResolved, domain.ReasonOf(err))
}

func TestEndBettingEarly_AfterDeadline(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)

	f.clock.Advance(2 * time.Hour)
	err := f.ledger.EndBettingEarly(f.ctx, admin, act)
	require.ErrorIs(t, err, domain.ErrState)

	a, err := f.ledger.Activity(act)
	require.NoError(t, err)
	assert.Equal(t, a.Deadline, a.BettingCutoff, "cutoff never moves later")
}

func TestResolveActivity_Once(t *testing.T) {
	f := newFixture(t)
	act := f.create(100, "a", "b", "c")

	err := f.ledger.ResolveActivity(f.ctx, bob, act, 1)
	require.ErrorIs(t, err, domain.ErrAuthorization)
	err = f.ledger.ResolveActivity(f.ctx, admin, act, 3)
	require.ErrorIs(t, err, domain.ErrValidation)
	err = f.ledger.ResolveActivity(f.ctx, admin, act, -1)
	require.ErrorIs(t, err, domain.ErrValidation)
	err = f.ledger.ResolveActivity(f.ctx, admin, 42, 0)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Resolution does not wait for the deadline.
	f.resolve(act, 2)

	err = f.ledger.ResolveActivity(f.ctx, admin, act, 0)
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonAlreadyResolved, domain.ReasonOf(err))

	a, err := f.ledger.Activity(act)
	require.NoError(t, err)
	assert.True(t, a.Resolved)
	assert.Equal(t, 2, a.WinningChoice)
	assert.Equal(t, start, a.ResolvedAt)
}
