package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/betchannel/internal/domain"
	"github.com/alanyoungcy/betchannel/internal/settlement"
)

type fakeMarketSource struct {
	markets []domain.Market
	err     error
}

func (f *fakeMarketSource) ListMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.markets) {
		return f.markets[:limit], nil
	}
	return f.markets, nil
}

func (f *fakeMarketSource) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func TestListMarketsFiltersResolved(t *testing.T) {
	src := &fakeMarketSource{}
	for i := 0; i < 40; i++ {
		src.markets = append(src.markets, domain.Market{
			ID:         string(rune('a' + i%26)),
			IsResolved: i%2 == 0,
		})
	}
	h := NewMarketHandler(src, 15, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Markets []domain.Market `json:"markets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Markets) != 15 {
		t.Fatalf("expected 15 markets, got %d", len(body.Markets))
	}
	for _, m := range body.Markets {
		if m.IsResolved {
			t.Fatalf("resolved market leaked into listing: %+v", m)
		}
	}
}

func TestListMarketsOracleDown(t *testing.T) {
	h := NewMarketHandler(&fakeMarketSource{err: errors.New("timeout")}, 15, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

type fakeSettleService struct {
	result settlement.Result
	err    error
}

func (f *fakeSettleService) SettleMarket(ctx context.Context, marketID string) (settlement.Result, error) {
	return f.result, f.err
}

func newSettleMux(svc SettlementService) *http.ServeMux {
	h := NewSettleHandler(svc, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/settle/{marketId}", h.SettleMarket)
	return mux
}

func TestSettleMarketEndpoint(t *testing.T) {
	mux := newSettleMux(&fakeSettleService{result: settlement.Result{
		MarketID:    "mkt-1",
		ResolvedYes: true,
		TxHash:      "0xdead",
		BetsSettled: 2,
	}})

	req := httptest.NewRequest(http.MethodPost, "/api/settle/mkt-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result settlement.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.BetsSettled != 2 || result.TxHash != "0xdead" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSettleMarketEndpointConflicts(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unresolved", domain.ErrMarketUnresolved, http.StatusConflict},
		{"cancelled", domain.ErrMarketCancelled, http.StatusConflict},
		{"unknown market", domain.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newSettleMux(&fakeSettleService{err: tc.err})
			req := httptest.NewRequest(http.MethodPost, "/api/settle/mkt-1", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
