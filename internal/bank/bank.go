// Package bank is an in-memory fungible bet token with allowances and a
// faucet. It is the balance provider the ledger escrows through when no
// external chain is attached.
package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// Config configures a Bank.
type Config struct {
	// Escrow is the ledger account. Transfers out of any other account spend
	// that account's allowance to Escrow.
	Escrow common.Address
	// Admin may mint tokens to any address.
	Admin common.Address
	// FaucetAmount is granted once per address by ClaimFaucet. Zero disables
	// the faucet.
	FaucetAmount *big.Int
	Symbol       string
}

// Bank holds balances and allowances. It is safe for concurrent use and never
// calls out while holding its lock.
type Bank struct {
	escrow common.Address
	admin  common.Address
	faucet *big.Int
	symbol string
	logger *slog.Logger

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int // owner -> spender -> amount
	dripped    map[common.Address]bool
	supply     *big.Int
}

// New creates an empty Bank.
func New(cfg Config, logger *slog.Logger) *Bank {
	faucet := new(big.Int)
	if cfg.FaucetAmount != nil {
		faucet.Set(cfg.FaucetAmount)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bank{
		escrow:     cfg.Escrow,
		admin:      cfg.Admin,
		faucet:     faucet,
		symbol:     cfg.Symbol,
		logger:     logger.With(slog.String("component", "bank")),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		dripped:    make(map[common.Address]bool),
		supply:     new(big.Int),
	}
}

// Symbol is the token ticker.
func (b *Bank) Symbol() string { return b.symbol }

// Transfer moves amount from one account to another. Moving funds out of an
// account other than escrow consumes the owner's allowance to escrow.
func (b *Bank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Invalid("transfer amount must be positive")
	}
	if to == (common.Address{}) {
		return domain.Invalid("transfer to the zero address")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balance(from)
	if bal.Cmp(amount) < 0 {
		return domain.Insufficient(nil, "%s holds %s, needs %s", from.Hex(), bal, amount)
	}
	var allowance *big.Int
	if from != b.escrow {
		allowance = b.allowance(from, b.escrow)
		if allowance.Cmp(amount) < 0 {
			return domain.Insufficient(nil, "%s allowance to escrow is %s, needs %s", from.Hex(), allowance, amount)
		}
	}
	if allowance != nil {
		allowance.Sub(allowance, amount)
	}
	bal.Sub(bal, amount)
	dst := b.balance(to)
	dst.Add(dst, amount)
	return nil
}

// Reclaim returns amount from an account to escrow regardless of allowance.
// The ledger calls it only to undo its own payouts.
func (b *Bank) Reclaim(_ context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Invalid("reclaim amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balance(from)
	if bal.Cmp(amount) < 0 {
		return domain.Insufficient(nil, "%s holds %s, cannot return %s", from.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	dst := b.balance(b.escrow)
	dst.Add(dst, amount)
	return nil
}

// BalanceOf returns the balance of addr.
func (b *Bank) BalanceOf(_ context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(addr)), nil
}

// Approve sets the amount spender may move out of owner's account.
func (b *Bank) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.Invalid("allowance must not be negative")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowance(owner, spender).Set(amount)
	return nil
}

// Allowance returns what spender may still move out of owner's account.
func (b *Bank) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.allowance(owner, spender)), nil
}

// Mint creates new tokens. Only the admin may mint.
func (b *Bank) Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if caller != b.admin {
		return domain.Unauthorized("only the admin can mint %s", b.symbol)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Invalid("mint amount must be positive")
	}
	b.mu.Lock()
	b.credit(to, amount)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "bank: minted",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// ClaimFaucet grants the faucet amount to caller, once per address.
func (b *Bank) ClaimFaucet(ctx context.Context, caller common.Address) (*big.Int, error) {
	if b.faucet.Sign() == 0 {
		return nil, domain.StateErr(domain.ReasonNone, "faucet is disabled")
	}
	b.mu.Lock()
	if b.dripped[caller] {
		b.mu.Unlock()
		return nil, domain.StateErr(domain.ReasonNone, "%s already claimed the faucet", caller.Hex())
	}
	b.dripped[caller] = true
	b.credit(caller, b.faucet)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "bank: faucet claimed",
		slog.String("to", caller.Hex()),
		slog.String("amount", b.faucet.String()),
	)
	return new(big.Int).Set(b.faucet), nil
}

// TotalSupply is the sum of everything ever minted.
func (b *Bank) TotalSupply() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.supply)
}

func (b *Bank) credit(to common.Address, amount *big.Int) {
	bal := b.balance(to)
	bal.Add(bal, amount)
	b.supply.Add(b.supply, amount)
}

func (b *Bank) balance(addr common.Address) *big.Int {
	bal, ok := b.balances[addr]
	if !ok {
		bal = new(big.Int)
		b.balances[addr] = bal
	}
	return bal
}

func (b *Bank) allowance(owner, spender common.Address) *big.Int {
	m, ok := b.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		b.allowances[owner] = m
	}
	a, ok := m[spender]
	if !ok {
		a = new(big.Int)
		m[spender] = a
	}
	return a
}

// State is the serialisable bank state.
type State struct {
	Balances   map[common.Address]*big.Int                    `json:"balances"`
	Allowances map[common.Address]map[common.Address]*big.Int `json:"allowances"`
	Dripped    []common.Address                               `json:"dripped"`
}

// Export copies the bank state.
func (b *Bank) Export() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := State{
		Balances:   make(map[common.Address]*big.Int, len(b.balances)),
		Allowances: make(map[common.Address]map[common.Address]*big.Int, len(b.allowances)),
	}
	for addr, bal := range b.balances {
		if bal.Sign() != 0 {
			s.Balances[addr] = new(big.Int).Set(bal)
		}
	}
	for owner, m := range b.allowances {
		for spender, a := range m {
			if a.Sign() == 0 {
				continue
			}
			if s.Allowances[owner] == nil {
				s.Allowances[owner] = make(map[common.Address]*big.Int)
			}
			s.Allowances[owner][spender] = new(big.Int).Set(a)
		}
	}
	for addr := range maps.Keys(b.dripped) {
		s.Dripped = append(s.Dripped, addr)
	}
	return s
}

// Import replaces the bank state. Total supply is recomputed from balances.
func (b *Bank) Import(s State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.supply.Sign() != 0 {
		return errors.New("bank: import into a non-empty bank")
	}
	for addr, bal := range s.Balances {
		if bal == nil || bal.Sign() < 0 {
			return fmt.Errorf("bank: negative balance for %s", addr.Hex())
		}
		b.balances[addr] = new(big.Int).Set(bal)
		b.supply.Add(b.supply, bal)
	}
	for owner, m := range s.Allowances {
		for spender, a := range m {
			if a != nil && a.Sign() > 0 {
				b.allowance(owner, spender).Set(a)
			}
		}
	}
	for _, addr := range s.Dripped {
		b.dripped[addr] = true
	}
	return nil
}

var (
	_ domain.BalanceProvider = (*Bank)(nil)
	_ domain.Reclaimer       = (*Bank)(nil)
)
