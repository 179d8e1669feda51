// Package http exposes the engine over a thin JSON boundary. Handlers
// translate between wire shapes and coordinator calls; no business rules
// live here.
package http

import (
	"encoding/json"
	stderrors "errors"
	"log"
	"net/http"
	"strconv"

	"github.com/voxgames/voxbank/internal/currency"
	"github.com/voxgames/voxbank/internal/game"
	"github.com/voxgames/voxbank/internal/platform/errors"
	"github.com/voxgames/voxbank/internal/session"
)

// Handler serves the engine API.
type Handler struct {
	coordinator *session.Coordinator
	logger      *log.Logger
}

// NewHandler wires the engine routes onto a fresh mux.
func NewHandler(coordinator *session.Coordinator, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{coordinator: coordinator, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/actions", h.submitAction)
	mux.HandleFunc("GET /v1/balances", h.balance)
	mux.HandleFunc("POST /v1/transfers", h.transfer)
	mux.HandleFunc("POST /v1/grants", h.grant)
	mux.HandleFunc("POST /v1/activity", h.activity)
	mux.HandleFunc("GET /v1/leaderboard", h.leaderboard)
	mux.HandleFunc("POST /v1/admin-code", h.claimAdminCode)
	return mux
}

type actionRequest struct {
	ChatID   string `json:"chat_id"`
	Game     string `json:"game"`
	Revision uint64 `json:"revision"`

	Actor   string    `json:"actor"`
	Kind    string    `json:"kind"`
	Stake   int64     `json:"stake,omitempty"`
	Number  int       `json:"number,omitempty"`
	Variant string    `json:"variant,omitempty"`
	Card    game.Card `json:"card"`
	Color   string    `json:"color,omitempty"`
	Text    string    `json:"text,omitempty"`
}

func (h *Handler) submitAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.coordinator.Submit(req.ChatID, game.Type(req.Game), game.Action{
		Actor:   req.Actor,
		Kind:    game.ActionKind(req.Kind),
		Stake:   req.Stake,
		Number:  req.Number,
		Variant: req.Variant,
		Card:    req.Card,
		Color:   req.Color,
		Text:    req.Text,
	}, req.Revision)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	cur := currency.ID(r.URL.Query().Get("currency"))
	balance, err := h.coordinator.Balance(user, cur)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"currency": cur,
		"balance":  balance,
		"level":    currency.Level(balance),
	})
}

type transferRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Token    string `json:"token,omitempty"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.coordinator.Transfer(req.From, req.To, currency.ID(req.Currency), req.Amount, req.Token); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type grantRequest struct {
	Currency string `json:"currency"`
	Actor    string `json:"actor"`
	Target   string `json:"target"`
	Amount   int64  `json:"amount"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	balance, err := h.coordinator.AdminGrant(currency.ID(req.Currency), req.Actor, req.Target, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

type activityRequest struct {
	User   string `json:"user"`
	Length int    `json:"length"`
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !h.decode(w, r, &req) {
		return
	}
	earned, err := h.coordinator.CreditOnActivity(req.User, req.Length)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"earned": earned})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	cur := currency.ID(r.URL.Query().Get("currency"))
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, errors.New(errors.CodeInvalidAmount, "n must be a positive integer"))
			return
		}
		n = parsed
	}
	top, err := h.coordinator.TopBalances(cur, n)
	if err != nil {
		h.writeError(w, err)
		return
	}
	type row struct {
		UserID  string `json:"user_id"`
		Balance int64  `json:"balance"`
	}
	out := make([]row, 0, len(top))
	for _, entry := range top {
		out = append(out, row{UserID: entry.Key.UserID, Balance: entry.Balance})
	}
	h.writeJSON(w, http.StatusOK, out)
}

type claimRequest struct {
	Actor string `json:"actor"`
	Code  string `json:"code"`
}

func (h *Handler) claimAdminCode(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !h.decode(w, r, &req) {
		return
	}
	next, err := h.coordinator.ClaimAdminCode(req.Actor, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"code": next})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.writeError(w, errors.Wrap(errors.CodeInvalidAction, "decode request body", err))
		return false
	}
	return true
}

type errorResponse struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Printf("request failed: %v", err)
	}
	body := errorResponse{Code: string(code), Message: err.Error()}
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		body.Message = coded.Message
		body.Metadata = coded.Metadata
	}
	h.writeJSON(w, status, body)
}

func statusFor(code errors.Code) int {
	switch code {
	case errors.CodeNotFound, errors.CodeSessionNotFound:
		return http.StatusNotFound
	case errors.CodeSessionAlreadyActive, errors.CodeStaleRevision,
		errors.CodeDuplicateOperation, errors.CodeInsufficientFunds:
		return http.StatusConflict
	case errors.CodeInvalidAction, errors.CodeInvalidAmount,
		errors.CodeUnknownCurrency, errors.CodeNotYourTurn:
		return http.StatusBadRequest
	case errors.CodeTransferDisallowed, errors.CodeGrantDisallowed,
		errors.CodeInvalidCode:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Printf("encode response: %v", err)
	}
}
