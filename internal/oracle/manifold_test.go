package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ManifoldClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewManifoldClient(srv.URL)
}

func TestListMarkets(t *testing.T) {
	var gotPath, gotQuery string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[
			{"id":"m1","question":"Will it rain?","probability":0.42,"volume":1234.5,"url":"https://example.com/m1"},
			{"id":"m2","question":"Resolved one","isResolved":true,"resolution":"YES"}
		]`))
	})

	markets, err := client.ListMarkets(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if gotPath != "/markets" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "limit=10&order=volume" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}
	if markets[0].ID != "m1" || markets[0].Probability != 0.42 {
		t.Fatalf("unexpected first market %+v", markets[0])
	}
	if !markets[1].IsResolved || markets[1].Resolution != "YES" {
		t.Fatalf("unexpected second market %+v", markets[1])
	}
}

func TestGetMarketNotFound(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})

	_, err := client.GetMarket(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResolution(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    domain.MarketOutcome
		wantErr error
	}{
		{
			name:    "yes",
			payload: `{"id":"m1","isResolved":true,"resolution":"YES","resolutionTime":1700000000000}`,
			want:    domain.OutcomeYes,
		},
		{
			name:    "no",
			payload: `{"id":"m1","isResolved":true,"resolution":"NO","resolutionTime":1700000000000}`,
			want:    domain.OutcomeNo,
		},
		{
			name:    "cancel",
			payload: `{"id":"m1","isResolved":true,"resolution":"CANCEL"}`,
			want:    domain.OutcomeCancel,
		},
		{
			name:    "mkt maps to cancel",
			payload: `{"id":"m1","isResolved":true,"resolution":"MKT","resolutionProbability":0.7}`,
			want:    domain.OutcomeCancel,
		},
		{
			name:    "unresolved",
			payload: `{"id":"m1","isResolved":false}`,
			wantErr: domain.ErrMarketUnresolved,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.payload))
			})

			res, err := client.GetResolution(context.Background(), "m1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetResolution: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("expected outcome %v, got %v", tc.want, res.Outcome)
			}
		})
	}
}

func TestGetResolutionProbabilities(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"m1","isResolved":true,"resolution":"YES","resolutionTime":1700000000000}`))
	})

	res, err := client.GetResolution(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetResolution: %v", err)
	}
	if res.Probability != 1 {
		t.Fatalf("expected probability 1 for YES, got %v", res.Probability)
	}
	if res.ResolvedAt.IsZero() {
		t.Fatal("expected non-zero resolution time")
	}
}

func TestOracleServerError(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := client.ListMarkets(context.Background(), 5); err == nil {
		t.Fatal("expected error for 500 response")
	}
	if _, err := client.GetResolution(context.Background(), "m1"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
