package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// MarketSource is the oracle surface the market handler needs.
type MarketSource interface {
	ListMarkets(ctx context.Context, limit int) ([]domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
}

// oversample asks the oracle for extra rows so filtering out resolved
// markets still leaves a full page.
const oversample = 4

// MarketHandler serves bettable market listings from the oracle.
type MarketHandler struct {
	source MarketSource
	max    int
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler capped at max markets per listing.
func NewMarketHandler(source MarketSource, max int, logger *slog.Logger) *MarketHandler {
	if max <= 0 {
		max = 15
	}
	return &MarketHandler{
		source: source,
		max:    max,
		logger: logger,
	}
}

// ListMarkets returns open (unresolved) markets by volume, capped.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.source.ListMarkets(r.Context(), h.max*oversample)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "market oracle unavailable")
		return
	}

	open := make([]domain.Market, 0, h.max)
	for _, m := range markets {
		if m.IsResolved {
			continue
		}
		open = append(open, m)
		if len(open) == h.max {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"markets": open})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.source.GetMarket(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, http.StatusBadGateway, "market oracle unavailable")
		return
	}

	writeJSON(w, http.StatusOK, market)
}
