package ledger_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/domain"
)

func TestListTicket_RequiresOwnershipAndApproval(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)

	err := f.ledger.ListTicket(f.ctx, alice, tk, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrAuthorization, "escrow not approved")

	require.NoError(t, f.reg.Approve(f.ctx, alice, escrow, tk))
	err = f.ledger.ListTicket(f.ctx, bob, tk, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrAuthorization, "not the owner")

	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		err = f.ledger.ListTicket(f.ctx, alice, tk, price)
		require.ErrorIs(t, err, domain.ErrValidation)
	}
	err = f.ledger.ListTicket(f.ctx, alice, 40, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.ledger.ListTicket(f.ctx, alice, tk, big.NewInt(20)))
	lst, err := f.ledger.Listing(tk)
	require.NoError(t, err)
	assert.Equal(t, alice, lst.Seller)
	assert.True(t, lst.Active)
	assert.Equal(t, start, lst.ListedAt)

	// Relisting replaces the price.
	require.NoError(t, f.ledger.ListTicket(f.ctx, alice, tk, big.NewInt(35)))
	book := f.ledger.OrderBook(act, 0)
	require.Len(t, book, 1)
	assert.Equal(t, int64(35), book[0].Price.Int64())
}

func TestOrderBook_FilteredAndAscending(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	t1 := f.bet(alice, act, 0, 10)
	t2 := f.bet(bob, act, 1, 10)
	t3 := f.bet(carol, act, 0, 10)
	t4 := f.bet(alice, act, 0, 10)

	f.list(alice, t4, 14)
	f.list(carol, t3, 13)
	f.list(bob, t2, 12)
	f.list(alice, t1, 11)

	var ids []uint64
	var prices []int64
	for id, price := range f.ledger.GetOrderBook(act, 0) {
		ids = append(ids, id)
		prices = append(prices, price.Int64())
	}
	assert.Equal(t, []uint64{t1, t3, t4}, ids)
	assert.Equal(t, []int64{11, 13, 14}, prices)

	choiceB := f.ledger.OrderBook(act, 1)
	require.Len(t, choiceB, 1)
	assert.Equal(t, t2, choiceB[0].TicketID)

	assert.Empty(t, f.ledger.OrderBook(act, 5))
	assert.Empty(t, f.ledger.OrderBook(act+1, 0))

	// Early exit from the iterator.
	var first []uint64
	for id := range f.ledger.GetOrderBook(act, 0) {
		first = append(first, id)
		break
	}
	assert.Equal(t, []uint64{t1}, first)
}

func TestDelistTicket(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 20)

	err := f.ledger.DelistTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, domain.ErrAuthorization)

	require.NoError(t, f.ledger.DelistTicket(f.ctx, alice, tk))
	assert.Empty(t, f.ledger.OrderBook(act, 0))

	err = f.ledger.DelistTicket(f.ctx, alice, tk)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.ledger.Listing(tk)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = f.ledger.BuyTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuyTicket_MovesPaymentAndOwnership(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 25)

	err := f.ledger.BuyTicket(f.ctx, alice, tk)
	require.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, f.ledger.BuyTicket(f.ctx, bob, tk))
	assert.Equal(t, bob, f.owner(tk))
	assert.Equal(t, int64(1000-10+25), f.balance(alice))
	assert.Equal(t, int64(1000-25), f.balance(bob))
	assert.Empty(t, f.ledger.OrderBook(act, 0))

	approved, err := f.reg.GetApproved(f.ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, approved, "transfer clears the approval")

	// The new owner must approve again before relisting.
	err = f.ledger.ListTicket(f.ctx, bob, tk, big.NewInt(30))
	require.ErrorIs(t, err, domain.ErrAuthorization)
	f.list(bob, tk, 30)

	// The stake and pool are untouched by secondary trades.
	a, err := f.ledger.Activity(act)
	require.NoError(t, err)
	assert.Equal(t, int64(110), a.TotalPool.Int64())
	f.assertConserved()

	names := f.events.names()
	assert.Contains(t, names, domain.EventTicketBought)
}

func TestBuyTicket_InsufficientFundsLeavesListing(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 5000)

	err := f.ledger.BuyTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, alice, f.owner(tk))
	assert.Len(t, f.ledger.OrderBook(act, 0), 1)
	assert.Equal(t, int64(1000), f.balance(bob))
}

func TestBuyTicket_StaleListing(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 20)

	// The ticket leaves alice outside the marketplace.
	require.NoError(t, f.reg.Transfer(f.ctx, alice, carol, tk))

	err := f.ledger.BuyTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonStaleListing, domain.ReasonOf(err))
	assert.Equal(t, carol, f.owner(tk))
	assert.Equal(t, int64(1000), f.balance(bob))
	assert.Equal(t, int64(990), f.balance(alice))

	// Alice can still withdraw the dead listing.
	require.NoError(t, f.ledger.DelistTicket(f.ctx, alice, tk))
}

func TestBuyTicket_RevokedApproval(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 20)

	require.NoError(t, f.reg.Approve(f.ctx, alice, common.Address{}, tk))

	err := f.ledger.BuyTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonStaleListing, domain.ReasonOf(err))
	assert.Equal(t, alice, f.owner(tk))
	assert.Equal(t, int64(1000), f.balance(bob))
	assert.Equal(t, int64(990), f.balance(alice))

	// Approving again revives the listing.
	require.NoError(t, f.reg.Approve(f.ctx, alice, escrow, tk))
	require.NoError(t, f.ledger.BuyTicket(f.ctx, bob, tk))
	assert.Equal(t, bob, f.owner(tk))
	f.assertConserved()
}

func TestMarketplace_EscrowCannotTrade(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 50)
	f.list(alice, tk, 120)

	err := f.ledger.BuyTicket(f.ctx, escrow, tk)
	require.ErrorIs(t, err, domain.ErrAuthorization)
	assert.Equal(t, alice, f.owner(tk))
	assert.Equal(t, int64(950), f.balance(alice))
	assert.Equal(t, int64(150), f.balance(escrow))
	lst, err := f.ledger.Listing(tk)
	require.NoError(t, err)
	assert.True(t, lst.Active)

	err = f.ledger.ListTicket(f.ctx, escrow, tk, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrAuthorization)
	err = f.ledger.DelistTicket(f.ctx, escrow, tk)
	require.ErrorIs(t, err, domain.ErrAuthorization)

	f.resolve(act, 0)
	_, err = f.ledger.Claim(f.ctx, escrow, tk)
	require.ErrorIs(t, err, domain.ErrAuthorization)
	_, err = f.ledger.ClaimAll(f.ctx, escrow, act)
	require.ErrorIs(t, err, domain.ErrAuthorization)
	f.assertConserved()
}

func TestBuyTicket_AfterResolutionIsStateError(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.list(alice, tk, 20)

	before := f.events.count()
	f.resolve(act, 0)
	names := f.events.names()
	assert.Equal(t, []domain.EventName{domain.EventActivityResolved, domain.EventTicketDelisted}, names[before:])

	err := f.ledger.BuyTicket(f.ctx, bob, tk)
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonUntradeable, domain.ReasonOf(err))
	assert.Equal(t, alice, f.owner(tk))
	assert.Equal(t, int64(1000), f.balance(bob))
	assert.Empty(t, f.ledger.OrderBook(act, 0))

	err = f.ledger.ListTicket(f.ctx, alice, tk, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrState)
}

func TestListTicket_ClaimedTicketIsUntradeable(t *testing.T) {
	f := newFixture(t)
	act := f.create(100)
	tk := f.bet(alice, act, 0, 10)
	f.resolve(act, 0)
	_, err := f.ledger.Claim(f.ctx, alice, tk)
	require.NoError(t, err)

	require.NoError(t, f.reg.Approve(f.ctx, alice, escrow, tk))
	err = f.ledger.ListTicket(f.ctx, alice, tk, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonUntradeable, domain.ReasonOf(err))
}
