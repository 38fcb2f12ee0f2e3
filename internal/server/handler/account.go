package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// Bank is what the account endpoints need from the token bank.
type Bank interface {
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error
	ClaimFaucet(ctx context.Context, caller common.Address) (*big.Int, error)
	Symbol() string
}

// AccountHandler serves balances, allowances and the faucet.
type AccountHandler struct {
	bank   Bank
	escrow common.Address
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler. escrow is the default
// allowance spender.
func NewAccountHandler(bank Bank, escrow common.Address, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{bank: bank, escrow: escrow, logger: logger}
}

// Balance returns an address's balance and its allowance to escrow.
// GET /api/balances/{address}
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	bal, err := h.bank.BalanceOf(r.Context(), addr)
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	allowance, err := h.bank.Allowance(r.Context(), addr, h.escrow)
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr,
		"symbol":    h.bank.Symbol(),
		"balance":   bal,
		"allowance": allowance,
	})
}

// ClaimFaucet grants the caller the one-time faucet amount.
// POST /api/faucet/claim
func (h *AccountHandler) ClaimFaucet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	amount, err := h.bank.ClaimFaucet(r.Context(), caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim faucet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": caller, "amount": amount})
}

type mintRequest struct {
	To     string `json:"to" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,amount"`
}

// Mint lets the admin grant tokens to any address.
// POST /api/faucet/mint
func (h *AccountHandler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}
	to := common.HexToAddress(req.To)
	amount := mustAmount(req.Amount)
	if err := h.bank.Mint(r.Context(), caller, to, amount); err != nil {
		writeLedgerError(w, r, h.logger, "mint", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"to": to, "amount": amount})
}

type allowanceRequest struct {
	// Spender defaults to the ledger escrow.
	Spender string `json:"spender" validate:"omitempty,eth_addr"`
	Amount  string `json:"amount" validate:"required,amount"`
}

// SetAllowance sets how much the spender may pull from the caller.
// POST /api/allowances
func (h *AccountHandler) SetAllowance(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req allowanceRequest
	if !decode(w, r, &req) {
		return
	}
	spender := h.escrow
	if req.Spender != "" {
		spender = common.HexToAddress(req.Spender)
	}
	amount := mustAmount(req.Amount)
	if err := h.bank.Approve(r.Context(), caller, spender, amount); err != nil {
		writeLedgerError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": caller, "spender": spender, "amount": amount})
}
