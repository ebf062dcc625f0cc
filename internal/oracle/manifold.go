// Package oracle provides the market oracle adapter: read-only access to
// external market listings and terminal resolutions. It holds no state.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// ManifoldClient is the REST client for the Manifold Markets API, which
// provides market metadata and resolution outcomes.
type ManifoldClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewManifoldClient creates a new Manifold API client.
//
// baseURL is the API root, e.g. "https://api.manifold.markets/v0".
func NewManifoldClient(baseURL string) *ManifoldClient {
	return &ManifoldClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListMarkets returns up to limit markets ordered by volume.
func (m *ManifoldClient) ListMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", "volume")

	body, err := m.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("oracle/manifold: list markets: %w", err)
	}

	var apiMarkets []apiMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("oracle/manifold: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].toDomain())
	}
	return markets, nil
}

// GetMarket returns a single market by its ID.
func (m *ManifoldClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := m.doGet(ctx, "/market/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("oracle/manifold: get market %s: %w", id, err)
	}

	var am apiMarket
	if err := json.Unmarshal(body, &am); err != nil {
		return domain.Market{}, fmt.Errorf("oracle/manifold: decode market: %w", err)
	}
	return am.toDomain(), nil
}

// GetResolution returns the terminal outcome for a market. It fails with
// domain.ErrMarketUnresolved while the market is still trading. Any
// resolution other than YES or NO (MKT, CANCEL) maps to OutcomeCancel, which
// settlement treats as "no state change".
func (m *ManifoldClient) GetResolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	body, err := m.doGet(ctx, "/market/"+url.PathEscape(marketID))
	if err != nil {
		return domain.MarketResolution{}, fmt.Errorf("oracle/manifold: get market %s: %w", marketID, err)
	}

	var am apiMarket
	if err := json.Unmarshal(body, &am); err != nil {
		return domain.MarketResolution{}, fmt.Errorf("oracle/manifold: decode market: %w", err)
	}

	if !am.IsResolved {
		return domain.MarketResolution{}, fmt.Errorf("oracle/manifold: market %s: %w", marketID, domain.ErrMarketUnresolved)
	}

	res := domain.MarketResolution{
		ResolvedAt: time.UnixMilli(am.ResolutionTime).UTC(),
	}
	switch am.Resolution {
	case "YES":
		res.Outcome = domain.OutcomeYes
		res.Probability = 1
	case "NO":
		res.Outcome = domain.OutcomeNo
		res.Probability = 0
	default:
		res.Outcome = domain.OutcomeCancel
	}
	if am.ResolutionProbability != nil {
		res.Probability = *am.ResolutionProbability
	}
	return res, nil
}

// doGet sends an unauthenticated GET request to the Manifold API.
func (m *ManifoldClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

// truncate clips an error body for inclusion in messages.
func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
