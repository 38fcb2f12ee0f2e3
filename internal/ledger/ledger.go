// Package ledger is the EasyBet state machine: activities, bets, resolution,
// pro-rata payouts and the embedded ticket order book.
//
// Every mutating operation runs as one transaction under a single lock. Ledger
// changes are journaled and every external call that succeeds records its
// inverse, so a failure anywhere leaves no visible partial state. Events are
// buffered and published only after commit, in sequence order.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// Config names the two privileged addresses.
type Config struct {
	// Admin is the only caller allowed to create, close and resolve
	// activities.
	Admin common.Address
	// Escrow holds every pot and stake, and is the registry's minter and the
	// operator sellers approve before listing.
	Escrow common.Address
}

// Ledger owns all activity, ticket and listing state.
type Ledger struct {
	admin    common.Address
	escrow   common.Address
	bank     domain.BalanceProvider
	registry domain.OwnershipRegistry
	clock    domain.Clock
	events   domain.EventPublisher
	logger   *slog.Logger

	// pubMu is taken before mu is released on commit and held across
	// Publish, so events reach the publisher in sequence order. A publisher
	// must not call back into the ledger.
	pubMu sync.Mutex

	mu         sync.Mutex
	activities []*domain.Activity
	stakes     [][]*big.Int // activity -> choice -> staked sum
	byActivity [][]uint64   // activity -> ticket ids in mint order
	tickets    map[uint64]*domain.Ticket
	listings   map[uint64]*domain.Listing
	listed     map[uint64]map[uint64]struct{} // activity -> listed ticket ids
	seq        uint64
}

// New creates an empty Ledger. A nil publisher discards events and a nil
// clock uses wall time.
func New(
	cfg Config,
	bank domain.BalanceProvider,
	registry domain.OwnershipRegistry,
	clock domain.Clock,
	events domain.EventPublisher,
	logger *slog.Logger,
) (*Ledger, error) {
	if cfg.Admin == (common.Address{}) {
		return nil, errors.New("ledger: admin address is required")
	}
	if cfg.Escrow == (common.Address{}) {
		return nil, errors.New("ledger: escrow address is required")
	}
	if cfg.Admin == cfg.Escrow {
		return nil, errors.New("ledger: admin and escrow must differ")
	}
	if bank == nil || registry == nil {
		return nil, errors.New("ledger: balance provider and ownership registry are required")
	}
	if clock == nil {
		clock = domain.SystemClock
	}
	if events == nil {
		events = discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		admin:    cfg.Admin,
		escrow:   cfg.Escrow,
		bank:     bank,
		registry: registry,
		clock:    clock,
		events:   events,
		logger:   logger.With(slog.String("component", "ledger")),
		tickets:  make(map[uint64]*domain.Ticket),
		listings: make(map[uint64]*domain.Listing),
		listed:   make(map[uint64]map[uint64]struct{}),
	}, nil
}

type discard struct{}

func (discard) Publish(context.Context, []domain.Event) {}

// Admin returns the admin address.
func (l *Ledger) Admin() common.Address { return l.admin }

// Escrow returns the escrow/operator address.
func (l *Ledger) Escrow() common.Address { return l.escrow }

// run executes fn as one atomic operation. A call whose ctx already carries a
// transaction of this ledger is a re-entrant call from a collaborator: it
// runs without re-locking as a child of that transaction.
func (l *Ledger) run(ctx context.Context, op string, fn func(ctx context.Context, tx *txn) error) error {
	if parent := txnFrom(ctx); parent != nil && parent.ledger == l {
		child := &txn{ledger: l, op: op, now: l.clock.Now().UTC(), parent: parent}
		cctx := context.WithValue(ctx, txnKey{}, child)
		if err := fn(cctx, child); err != nil {
			if rbErr := child.rollback(cctx, l.logger); rbErr != nil {
				return errors.Join(err, rbErr)
			}
			return err
		}
		parent.absorb(child)
		return nil
	}

	events, err := func() ([]domain.Event, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		tx := &txn{ledger: l, op: op, now: l.clock.Now().UTC()}
		tctx := context.WithValue(ctx, txnKey{}, tx)
		if err := fn(tctx, tx); err != nil {
			l.logger.WarnContext(ctx, "ledger: operation rolled back",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
			if rbErr := tx.rollback(tctx, l.logger); rbErr != nil {
				return nil, errors.Join(err, rbErr)
			}
			return nil, err
		}
		for i := range tx.events {
			l.seq++
			tx.events[i].Seq = l.seq
		}
		if len(tx.events) > 0 {
			l.pubMu.Lock()
		}
		return tx.events, nil
	}()
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "ledger: operation committed",
		slog.String("op", op),
		slog.Int("events", len(events)),
	)
	if len(events) > 0 {
		defer l.pubMu.Unlock()
		l.events.Publish(ctx, events)
	}
	return nil
}

// participant rejects the escrow account as a bettor, seller, buyer or
// claimant. Its transfers are not bound by an allowance.
func (l *Ledger) participant(caller common.Address) error {
	if caller == l.escrow {
		return domain.Unauthorized("escrow account %s cannot trade", caller.Hex())
	}
	return nil
}

// collect moves amount from an account into escrow and journals the refund.
func (l *Ledger) collect(ctx context.Context, tx *txn, from common.Address, amount *big.Int, what string) error {
	if err := l.bank.Transfer(ctx, from, l.escrow, amount); err != nil {
		switch domain.KindOf(err) {
		case domain.KindUnknown:
			return domain.Insufficient(err, "debit %s of %s from %s", what, amount, from.Hex())
		default:
			return err
		}
	}
	tx.compensate("refund "+what, func(ctx context.Context) error {
		return l.bank.Transfer(ctx, l.escrow, from, amount)
	})
	return nil
}

// pay moves amount out of escrow and journals the reclaim.
func (l *Ledger) pay(ctx context.Context, tx *txn, to common.Address, amount *big.Int, what string) error {
	if err := l.bank.Transfer(ctx, l.escrow, to, amount); err != nil {
		return fmt.Errorf("ledger: pay %s: %w", what, err)
	}
	tx.compensate("reclaim "+what, func(ctx context.Context) error {
		if r, ok := l.bank.(domain.Reclaimer); ok {
			return r.Reclaim(ctx, to, amount)
		}
		return l.bank.Transfer(ctx, to, l.escrow, amount)
	})
	return nil
}

func (l *Ledger) activity(id uint64) (*domain.Activity, error) {
	if id >= uint64(len(l.activities)) {
		return nil, domain.NotFound("activity %d", id)
	}
	return l.activities[id], nil
}

func (l *Ledger) ticket(id uint64) (*domain.Ticket, error) {
	t, ok := l.tickets[id]
	if !ok {
		return nil, domain.NotFound("ticket %d", id)
	}
	return t, nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func clone(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}
