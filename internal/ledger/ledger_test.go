package ledger_test

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/bank"
	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/ledger"
	"github.com/alanyoungcy/easybet/internal/registry"
)

var (
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	escrow = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol  = common.HexToAddress("0x0000000000000000000000000000000000000ca1")

	start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, events []domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) names() []domain.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventName, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// hookedBank runs before ahead of every transfer.
type hookedBank struct {
	*bank.Bank
	before func(ctx context.Context, from, to common.Address, amount *big.Int) error
}

func (h *hookedBank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if h.before != nil {
		if err := h.before(ctx, from, to, amount); err != nil {
			return err
		}
	}
	return h.Bank.Transfer(ctx, from, to, amount)
}

// flakyRegistry fails ticket transfers while failTransfer is set.
type flakyRegistry struct {
	*registry.Registry
	failTransfer bool
}

func (f *flakyRegistry) Transfer(ctx context.Context, from, to common.Address, id uint64) error {
	if f.failTransfer {
		return assert.AnError
	}
	return f.Registry.Transfer(ctx, from, to, id)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *fakeClock
	bank   *bank.Bank
	reg    *registry.Registry
	events *recorder
	ledger *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil, nil)
}

func newFixtureWith(
	t *testing.T,
	wrapBank func(*bank.Bank) domain.BalanceProvider,
	wrapReg func(*registry.Registry) domain.OwnershipRegistry,
) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		clock:  &fakeClock{now: start},
		bank:   bank.New(bank.Config{Escrow: escrow, Admin: admin, Symbol: "BET"}, slog.New(slog.DiscardHandler)),
		reg:    registry.New(escrow),
		events: &recorder{},
	}
	var bp domain.BalanceProvider = f.bank
	if wrapBank != nil {
		bp = wrapBank(f.bank)
	}
	var or domain.OwnershipRegistry = f.reg
	if wrapReg != nil {
		or = wrapReg(f.reg)
	}
	l, err := ledger.New(ledger.Config{Admin: admin, Escrow: escrow}, bp, or, f.clock, f.events, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	f.ledger = l

	for _, who := range []common.Address{admin, alice, bob, carol} {
		require.NoError(t, f.bank.Mint(f.ctx, admin, who, big.NewInt(1000)))
		require.NoError(t, f.bank.Approve(f.ctx, who, escrow, big.NewInt(1_000_000)))
	}
	return f
}

func (f *fixture) balance(who common.Address) int64 {
	f.t.Helper()
	b, err := f.bank.BalanceOf(f.ctx, who)
	require.NoError(f.t, err)
	return b.Int64()
}

func (f *fixture) create(pot int64, choices ...string) uint64 {
	f.t.Helper()
	if len(choices) == 0 {
		choices = []string{"A", "B"}
	}
	id, err := f.ledger.CreateActivity(f.ctx, admin, ledger.CreateActivityParams{
		Description: "who wins",
		Choices:     choices,
		Deadline:    f.clock.Now().Add(time.Hour),
		InitialPot:  big.NewInt(pot),
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) bet(who common.Address, activityID uint64, choice int, stake int64) uint64 {
	f.t.Helper()
	id, err := f.ledger.PlaceBet(f.ctx, who, activityID, choice, big.NewInt(stake))
	require.NoError(f.t, err)
	return id
}

func (f *fixture) resolve(activityID uint64, choice int) {
	f.t.Helper()
	require.NoError(f.t, f.ledger.ResolveActivity(f.ctx, admin, activityID, choice))
}

func (f *fixture) list(who common.Address, ticketID uint64, price int64) {
	f.t.Helper()
	require.NoError(f.t, f.reg.Approve(f.ctx, who, escrow, ticketID))
	require.NoError(f.t, f.ledger.ListTicket(f.ctx, who, ticketID, big.NewInt(price)))
}

func (f *fixture) owner(ticketID uint64) common.Address {
	f.t.Helper()
	o, err := f.reg.OwnerOf(f.ctx, ticketID)
	require.NoError(f.t, err)
	return o
}

// assertConserved checks that escrow holds exactly what the ledger owes.
func (f *fixture) assertConserved() {
	f.t.Helper()
	assert.Equal(f.t, f.ledger.Liabilities().Int64(), f.balance(escrow), "escrow balance must equal outstanding liabilities")
}

func TestNew_RequiresDistinctAddresses(t *testing.T) {
	b := bank.New(bank.Config{Escrow: escrow, Admin: admin}, nil)
	r := registry.New(escrow)

	_, err := ledger.New(ledger.Config{Escrow: escrow}, b, r, nil, nil, nil)
	assert.Error(t, err)
	_, err = ledger.New(ledger.Config{Admin: admin}, b, r, nil, nil, nil)
	assert.Error(t, err)
	_, err = ledger.New(ledger.Config{Admin: admin, Escrow: admin}, b, r, nil, nil, nil)
	assert.Error(t, err)
	_, err = ledger.New(ledger.Config{Admin: admin, Escrow: escrow}, nil, r, nil, nil, nil)
	assert.Error(t, err)

	l, err := ledger.New(ledger.Config{Admin: admin, Escrow: escrow}, b, r, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, admin, l.Admin())
	assert.Equal(t, escrow, l.Escrow())
}

func TestScenario_PotWithBetsOnBothChoices(t *testing.T) {
	f := newFixture(t)

	act := f.create(100)
	ticketA := f.bet(alice, act, 0, 50)
	ticketB := f.bet(bob, act, 1, 30)
	f.resolve(act, 1)

	paid, err := f.ledger.Claim(f.ctx, bob, ticketB)
	require.NoError(t, err)
	assert.Equal(t, int64(180), paid.Int64())

	_, err = f.ledger.Claim(f.ctx, alice, ticketA)
	require.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, domain.ReasonChoiceLost, domain.ReasonOf(err))

	assert.Equal(t, int64(900), f.balance(admin))
	assert.Equal(t, int64(950), f.balance(alice))
	assert.Equal(t, int64(1150), f.balance(bob))
	assert.Equal(t, int64(0), f.balance(escrow))
	f.assertConserved()

	assert.Equal(t, []domain.EventName{
		domain.EventActivityCreated,
		domain.EventBetPlaced,
		domain.EventBetPlaced,
		domain.EventActivityResolved,
		domain.EventWinningsClaimed,
	}, f.events.names())
}

func TestEvents_SequencedAfterCommit(t *testing.T) {
	f := newFixture(t)

	act := f.create(100)
	f.bet(alice, act, 0, 10)
	_, err := f.ledger.PlaceBet(f.ctx, alice, act, 5, big.NewInt(10))
	require.Error(t, err)
	f.bet(bob, act, 1, 10)

	require.Equal(t, 3, f.events.count(), "a failed operation publishes nothing")
	for i, ev := range f.events.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, act, ev.ActivityID)
		assert.Equal(t, start, ev.At)
	}
	bet := f.events.events[1]
	assert.Equal(t, alice, bet.Actor)
	assert.Equal(t, uint64(1), bet.TicketID)
	assert.Equal(t, int64(10), bet.Amount.Int64())
}

// gatedPublisher holds its first Publish call until release is closed.
type gatedPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu   sync.Mutex
	seqs []uint64
}

func (g *gatedPublisher) Publish(_ context.Context, events []domain.Event) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ev := range events {
		g.seqs = append(g.seqs, ev.Seq)
	}
}

func TestEvents_PublishedInCommitOrder(t *testing.T) {
	f := newFixture(t)
	pub := &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	l, err := ledger.New(ledger.Config{Admin: admin, Escrow: escrow}, f.bank, f.reg, f.clock, pub, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	params := ledger.CreateActivityParams{
		Description: "ordering",
		Choices:     []string{"A", "B"},
		Deadline:    start.Add(time.Hour),
		InitialPot:  big.NewInt(10),
	}
	create := func(done chan<- error) {
		_, err := l.CreateActivity(f.ctx, admin, params)
		done <- err
	}

	first := make(chan error, 1)
	go create(first)
	<-pub.entered

	second := make(chan error, 1)
	go create(second)
	assert.Never(t, func() bool { return len(second) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"second commit waits for the first publish")

	close(pub.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, []uint64{1, 2}, pub.seqs)
}
