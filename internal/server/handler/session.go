package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// SessionService is the session-manager surface the session handler needs.
type SessionService interface {
	OpenSession(ctx context.Context, userAddress string, deposit float64) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GetActiveSession(ctx context.Context, userAddress string) (domain.Session, error)
	PlaceBet(ctx context.Context, sessionID, marketID, userAddress string, side bool, amount float64) (domain.BetPlacement, error)
	ListBets(ctx context.Context, sessionID string) ([]domain.SessionBet, error)
	CloseSession(ctx context.Context, sessionID string) (float64, error)
	FinalizeSession(ctx context.Context, sessionID, txHash string) error
}

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

type openSessionRequest struct {
	UserAddress   string  `json:"userAddress"`
	DepositAmount float64 `json:"depositAmount"`
}

// OpenSession opens a session, or returns the user's existing active one.
// POST /api/sessions
func (h *SessionHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.OpenSession(r.Context(), req.UserAddress, req.DepositAmount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open session failed",
			slog.String("user", req.UserAddress),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, http.StatusInternalServerError, "failed to open session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// GetActiveSession returns the caller's active session.
// GET /api/sessions/active?user=0x...
func (h *SessionHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}

	sess, err := h.sessions.GetActiveSession(r.Context(), user)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no active session")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get active session failed",
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, http.StatusInternalServerError, "failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// GetSession returns a session by ID.
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	sess, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, http.StatusInternalServerError, "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListBets returns a session's bets, newest first.
// GET /api/sessions/{id}/bets
func (h *SessionHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	bets, err := h.sessions.ListBets(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bets failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, http.StatusInternalServerError, "failed to list bets")
		return
	}
	if bets == nil {
		bets = []domain.SessionBet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

type placeBetRequest struct {
	MarketID    string  `json:"marketId"`
	UserAddress string  `json:"userAddress"`
	Side        bool    `json:"side"`
	Amount      float64 `json:"amount"`
}

// PlaceBet places a bet against the session balance.
// POST /api/sessions/{id}/bets
func (h *SessionHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	placement, err := h.sessions.PlaceBet(r.Context(), id, req.MarketID, req.UserAddress, req.Side, req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: place bet rejected",
			slog.String("session_id", id),
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, http.StatusInternalServerError, "failed to place bet")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"bet_id":      placement.BetID,
		"new_balance": placement.NewBalance,
	})
}

// CloseSession marks the session as closing and returns the frozen balance.
// POST /api/sessions/{id}/close
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	balance, err := h.sessions.CloseSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, http.StatusInternalServerError, "failed to close session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    id,
		"final_balance": balance,
	})
}

type finalizeRequest struct {
	TxHash string `json:"txHash"`
}

// FinalizeSession records the payout transaction and closes the session.
// POST /api/sessions/{id}/finalize
func (h *SessionHandler) FinalizeSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.sessions.FinalizeSession(r.Context(), id, req.TxHash); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError, "failed to finalize session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"status":     string(domain.SessionStatusClosed),
	})
}
