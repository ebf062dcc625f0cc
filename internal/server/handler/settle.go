package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/betchannel/internal/settlement"
)

// SettlementService is the trigger surface the settle handler needs.
type SettlementService interface {
	SettleMarket(ctx context.Context, marketID string) (settlement.Result, error)
}

// SettleHandler exposes the settlement trigger over HTTP.
type SettleHandler struct {
	settler SettlementService
	logger  *slog.Logger
}

// NewSettleHandler creates a SettleHandler.
func NewSettleHandler(settler SettlementService, logger *slog.Logger) *SettleHandler {
	return &SettleHandler{
		settler: settler,
		logger:  logger,
	}
}

// SettleMarket settles all bets on a resolved market.
// POST /api/settle/{marketId}
func (h *SettleHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "marketId")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	result, err := h.settler.SettleMarket(r.Context(), marketID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: settle market failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, http.StatusInternalServerError, "settlement failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
