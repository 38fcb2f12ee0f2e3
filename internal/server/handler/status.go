package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerInfo is the subset of the ledger the status endpoint reads.
type LedgerInfo interface {
	Admin() common.Address
	Escrow() common.Address
	Seq() uint64
	NextActivityID() uint64
}

// StatusHandler reports the running mode and ledger identity.
type StatusHandler struct {
	mode   string
	symbol string
	ledger LedgerInfo
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, symbol string, ledger LedgerInfo) *StatusHandler {
	return &StatusHandler{mode: mode, symbol: symbol, ledger: ledger}
}

// GetStatus responds with the mode, privileged addresses and event position.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             h.mode,
		"token_symbol":     h.symbol,
		"admin":            h.ledger.Admin(),
		"escrow":           h.ledger.Escrow(),
		"seq":              h.ledger.Seq(),
		"next_activity_id": h.ledger.NextActivityID(),
	})
}
