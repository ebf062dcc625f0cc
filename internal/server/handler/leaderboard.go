package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// defaultLeaderboardSize matches the classic top-10 view.
const defaultLeaderboardSize = 10

// LeaderboardService is the store surface the leaderboard handler needs.
type LeaderboardService interface {
	Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
	Stats(ctx context.Context) (domain.LeaderboardStats, error)
}

// LeaderboardHandler serves the ranked results endpoint.
type LeaderboardHandler struct {
	scores LeaderboardService
	logger *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(scores LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		scores: scores,
		logger: logger,
	}
}

// Leaderboard returns the top entries by PnL plus aggregate stats.
// GET /api/leaderboard?limit=10
func (h *LeaderboardHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	n := defaultLeaderboardSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			n = parsed
		}
	}

	entries, err := h.scores.Top(r.Context(), n)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: leaderboard query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}

	stats, err := h.scores.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: leaderboard stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"leaderboard": entries,
		"stats":       stats,
	})
}
