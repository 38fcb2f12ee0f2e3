package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// TicketLedger is what the ticket endpoints need from the ledger.
type TicketLedger interface {
	Ticket(id uint64) (domain.Ticket, error)
	Listing(ticketID uint64) (domain.Listing, error)
	Quote(ctx context.Context, caller common.Address, ticketID uint64) (*big.Int, error)
	Claim(ctx context.Context, caller common.Address, ticketID uint64) (*big.Int, error)
	ListTicket(ctx context.Context, caller common.Address, ticketID uint64, price *big.Int) error
	DelistTicket(ctx context.Context, caller common.Address, ticketID uint64) error
	BuyTicket(ctx context.Context, caller common.Address, ticketID uint64) error
	Escrow() common.Address
}

// TicketRegistry is the ownership side of a ticket.
type TicketRegistry interface {
	OwnerOf(ctx context.Context, id uint64) (common.Address, error)
	Approve(ctx context.Context, owner, approved common.Address, id uint64) error
	GetApproved(ctx context.Context, id uint64) (common.Address, error)
}

// TicketHandler serves ticket, claim and marketplace endpoints.
type TicketHandler struct {
	ledger   TicketLedger
	registry TicketRegistry
	logger   *slog.Logger
}

// NewTicketHandler creates a TicketHandler.
func NewTicketHandler(l TicketLedger, reg TicketRegistry, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{ledger: l, registry: reg, logger: logger}
}

type ticketView struct {
	domain.Ticket
	Owner    common.Address  `json:"owner"`
	Approved common.Address  `json:"approved,omitzero"`
	Listing  *domain.Listing `json:"listing,omitempty"`
}

// GetTicket returns a ticket with its owner, approval and listing.
// GET /api/tickets/{id}
func (h *TicketHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	t, err := h.ledger.Ticket(id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get ticket", err)
		return
	}
	owner, err := h.registry.OwnerOf(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get ticket", err)
		return
	}
	approved, err := h.registry.GetApproved(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get ticket", err)
		return
	}
	view := ticketView{Ticket: t, Owner: owner, Approved: approved}
	switch lst, err := h.ledger.Listing(id); {
	case err == nil:
		view.Listing = &lst
	case !errors.Is(err, domain.ErrNotFound):
		writeLedgerError(w, r, h.logger, "get ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Quote previews the caller's payout for a ticket.
// GET /api/tickets/{id}/quote
func (h *TicketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	share, err := h.ledger.Quote(r.Context(), caller, id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "amount": share})
}

// Claim pays out a winning ticket.
// POST /api/tickets/{id}/claim
func (h *TicketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	paid, err := h.ledger.Claim(r.Context(), caller, id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "amount": paid})
}

type approveRequest struct {
	// Operator defaults to the marketplace escrow.
	Operator string `json:"operator" validate:"omitempty,eth_addr"`
}

// Approve lets an operator move the caller's ticket. Listing requires the
// marketplace to be approved.
// POST /api/tickets/{id}/approve
func (h *TicketHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	operator := h.ledger.Escrow()
	if req.Operator != "" {
		operator = common.HexToAddress(req.Operator)
	}
	if err := h.registry.Approve(r.Context(), caller, operator, id); err != nil {
		writeLedgerError(w, r, h.logger, "approve ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "approved": operator})
}

type listRequest struct {
	Price string `json:"price" validate:"required,amount"`
}

// List offers a ticket for sale, replacing any earlier price.
// POST /api/tickets/{id}/listing
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req listRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ledger.ListTicket(r.Context(), caller, id, mustAmount(req.Price)); err != nil {
		writeLedgerError(w, r, h.logger, "list ticket", err)
		return
	}
	lst, err := h.ledger.Listing(id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list ticket", err)
		return
	}
	writeJSON(w, http.StatusCreated, lst)
}

// Delist withdraws the caller's listing.
// DELETE /api/tickets/{id}/listing
func (h *TicketHandler) Delist(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.ledger.DelistTicket(r.Context(), caller, id); err != nil {
		writeLedgerError(w, r, h.logger, "delist ticket", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Buy purchases a listed ticket at its listed price.
// POST /api/tickets/{id}/buy
func (h *TicketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.ledger.BuyTicket(r.Context(), caller, id); err != nil {
		writeLedgerError(w, r, h.logger, "buy ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "owner": caller})
}
