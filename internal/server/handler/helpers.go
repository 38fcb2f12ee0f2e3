package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// amount: a non-negative decimal or 0x-hex integer of at most 256 bits.
	if err := v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, ok := parseAmount(fl.Field().String())
		return ok
	}); err != nil {
		panic(err)
	}
	return v
}

func parseAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// mustAmount parses a value that already passed the amount validator.
func mustAmount(s string) *big.Int {
	v, _ := parseAmount(s)
	return v
}

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusOf maps a ledger error kind to its HTTP status.
func statusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError reports a failed operation. Typed ledger errors are
// returned to the client; anything else is logged and hidden.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var le *domain.Error
	if !errors.As(err, &le) {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
		return
	}
	writeJSON(w, statusOf(le.Kind), errorResponse{
		Error:  le.Error(),
		Kind:   le.Kind.String(),
		Reason: string(le.Reason),
	})
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// requireCaller returns the authenticated caller or answers 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	c, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "this request must be signed by the caller")
	}
	return c, ok
}

// pathID parses a numeric path parameter or answers 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// pageParams extracts limit and offset. Defaults: limit=50 (max 500),
// offset=0.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}

func addressParam(w http.ResponseWriter, s, name string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
