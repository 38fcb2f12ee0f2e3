package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/ledger"
)

// ActivityLedger is what the activity endpoints need from the ledger.
type ActivityLedger interface {
	CreateActivity(ctx context.Context, caller common.Address, p ledger.CreateActivityParams) (uint64, error)
	EndBettingEarly(ctx context.Context, caller common.Address, activityID uint64) error
	ResolveActivity(ctx context.Context, caller common.Address, activityID uint64, winningChoice int) error
	PlaceBet(ctx context.Context, caller common.Address, activityID uint64, choice int, stake *big.Int) (uint64, error)
	ClaimAll(ctx context.Context, caller common.Address, activityID uint64) (*big.Int, error)
	Activity(id uint64) (domain.Activity, error)
	Activities(offset, limit int) []domain.Activity
	ChoiceStakes(activityID uint64) ([]*big.Int, error)
	NextActivityID() uint64
	OrderBook(activityID uint64, choice int) []domain.OrderBookEntry
	TicketsOf(ctx context.Context, owner common.Address, activityID uint64) ([]domain.OwnedTicket, error)
}

// ActivityHandler serves activity, betting and order-book endpoints.
type ActivityHandler struct {
	ledger ActivityLedger
	clock  domain.Clock
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(l ActivityLedger, clock domain.Clock, logger *slog.Logger) *ActivityHandler {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &ActivityHandler{ledger: l, clock: clock, logger: logger}
}

type activityView struct {
	domain.Activity
	Stakes      []*big.Int `json:"stakes"`
	BettingOpen bool       `json:"betting_open"`
}

func (h *ActivityHandler) view(a domain.Activity) activityView {
	stakes, err := h.ledger.ChoiceStakes(a.ID)
	if err != nil {
		stakes = nil
	}
	return activityView{Activity: a, Stakes: stakes, BettingOpen: a.BettingOpen(h.clock.Now())}
}

// ListActivities pages through activities in id order.
// GET /api/activities?limit=50&offset=0
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	acts := h.ledger.Activities(offset, limit)
	out := make([]activityView, 0, len(acts))
	for _, a := range acts {
		out = append(out, h.view(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activities": out,
		"total":      h.ledger.NextActivityID(),
	})
}

// GetActivity returns one activity with its per-choice stakes.
// GET /api/activities/{id}
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.ledger.Activity(id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get activity", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(a))
}

type createActivityRequest struct {
	Description string    `json:"description" validate:"required,max=1000"`
	Choices     []string  `json:"choices" validate:"min=2,max=64,dive,required,max=200"`
	Deadline    time.Time `json:"deadline" validate:"required"`
	InitialPot  string    `json:"initial_pot" validate:"required,amount"`
}

// CreateActivity opens a new activity funded by the admin.
// POST /api/activities
func (h *ActivityHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createActivityRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.ledger.CreateActivity(r.Context(), caller, ledger.CreateActivityParams{
		Description: req.Description,
		Choices:     req.Choices,
		Deadline:    req.Deadline,
		InitialPot:  mustAmount(req.InitialPot),
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "create activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

type resolveRequest struct {
	WinningChoice *int `json:"winning_choice" validate:"required,min=0"`
}

// ResolveActivity fixes the winning choice.
// POST /api/activities/{id}/resolve
func (h *ActivityHandler) ResolveActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ledger.ResolveActivity(r.Context(), caller, id, *req.WinningChoice); err != nil {
		writeLedgerError(w, r, h.logger, "resolve activity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "winning_choice": *req.WinningChoice})
}

// EndBetting closes betting before the deadline.
// POST /api/activities/{id}/end-betting
func (h *ActivityHandler) EndBetting(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.ledger.EndBettingEarly(r.Context(), caller, id); err != nil {
		writeLedgerError(w, r, h.logger, "end betting", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "betting_closed"})
}

type betRequest struct {
	Choice *int   `json:"choice" validate:"required,min=0"`
	Stake  string `json:"stake" validate:"required,amount"`
}

// PlaceBet stakes tokens on a choice and mints a ticket.
// POST /api/activities/{id}/bets
func (h *ActivityHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req betRequest
	if !decode(w, r, &req) {
		return
	}
	ticketID, err := h.ledger.PlaceBet(r.Context(), caller, id, *req.Choice, mustAmount(req.Stake))
	if err != nil {
		writeLedgerError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"ticket_id": ticketID})
}

// ClaimAll claims every winning ticket the caller holds in the activity.
// POST /api/activities/{id}/claim
func (h *ActivityHandler) ClaimAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	paid, err := h.ledger.ClaimAll(r.Context(), caller, id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity_id": id, "amount": paid})
}

// OrderBook lists active listings for one choice, ascending by ticket id.
// GET /api/activities/{id}/orderbook?choice=N
func (h *ActivityHandler) OrderBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	choice, err := strconv.Atoi(r.URL.Query().Get("choice"))
	if err != nil || choice < 0 {
		writeError(w, http.StatusBadRequest, "choice query parameter required")
		return
	}
	if _, err := h.ledger.Activity(id); err != nil {
		writeLedgerError(w, r, h.logger, "order book", err)
		return
	}
	entries := h.ledger.OrderBook(id, choice)
	if entries == nil {
		entries = []domain.OrderBookEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activity_id": id,
		"choice":      choice,
		"entries":     entries,
	})
}

// TicketsOf lists the tickets an address holds in the activity.
// GET /api/activities/{id}/tickets?owner=0x...
func (h *ActivityHandler) TicketsOf(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	owner, ok := addressParam(w, r.URL.Query().Get("owner"), "owner")
	if !ok {
		return
	}
	tickets, err := h.ledger.TicketsOf(r.Context(), owner, id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "tickets of", err)
		return
	}
	if tickets == nil {
		tickets = []domain.OwnedTicket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity_id": id, "owner": owner, "tickets": tickets})
}
