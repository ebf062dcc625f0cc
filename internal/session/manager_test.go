package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/alanyoungcy/betchannel/internal/domain"
	"github.com/alanyoungcy/betchannel/internal/store/memory"
)

type fakeRelay struct {
	mu        sync.Mutex
	sessionID string
	openErr   error
	bets      []domain.SessionBet
	closed    []string
}

func (f *fakeRelay) OpenSession(ctx context.Context, userAddress string, deposit float64) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	return f.sessionID, nil
}

func (f *fakeRelay) CloseSession(ctx context.Context, relaySessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, relaySessionID)
	return nil
}

func (f *fakeRelay) SendBet(bet domain.SessionBet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bets = append(f.bets, bet)
}

func newTestManager(relay Relay) (*Manager, *memory.SessionStore) {
	store := memory.NewSessionStore()
	logger := slog.New(slog.DiscardHandler)
	return NewManager(store, relay, logger), store
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOpenSessionIdempotent(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	first, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := m.OpenSession(ctx, "0xabc", 0.5)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same session, got %s and %s", first.ID, second.ID)
	}
	if !almostEqual(second.CurrentBalance, 0.01) {
		t.Fatalf("second deposit must be ignored, balance %v", second.CurrentBalance)
	}
}

func TestOpenSessionValidation(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		user    string
		deposit float64
	}{
		{"empty address", "", 1},
		{"zero deposit", "0xabc", 0},
		{"negative deposit", "0xabc", -0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.OpenSession(ctx, tc.user, tc.deposit)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestOpenSessionRelayFailure(t *testing.T) {
	relay := &fakeRelay{openErr: errors.New("relay down")}
	m, _ := newTestManager(relay)

	sess, err := m.OpenSession(context.Background(), "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open should survive relay failure: %v", err)
	}
	if sess.RelaySessionID != "" {
		t.Fatalf("expected local-only session, got relay id %q", sess.RelaySessionID)
	}
}

// racingStore hides the user's active session from the first lookup, so the
// manager proceeds to CreateSession and loses the uniqueness race to the
// already-stored winner.
type racingStore struct {
	domain.SessionStore
	misses int
}

func (s *racingStore) GetActiveSession(ctx context.Context, userAddress string) (domain.Session, error) {
	if s.misses > 0 {
		s.misses--
		return domain.Session{}, domain.ErrNotFound
	}
	return s.SessionStore.GetActiveSession(ctx, userAddress)
}

func TestOpenSessionRaceClosesOrphanedRelaySession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	winner, err := store.CreateSession(ctx, domain.Session{
		ID:          "winner",
		UserAddress: "0xabc",
		Status:      domain.SessionStatusOpen,
	})
	if err != nil {
		t.Fatalf("seed winner: %v", err)
	}

	relay := &fakeRelay{sessionID: "relay-orphan"}
	m := NewManager(&racingStore{SessionStore: store, misses: 1}, relay, slog.New(slog.DiscardHandler))

	sess, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if sess.ID != winner.ID {
		t.Fatalf("expected the winning session %q, got %q", winner.ID, sess.ID)
	}
	if len(relay.closed) != 1 || relay.closed[0] != "relay-orphan" {
		t.Fatalf("expected orphaned relay session to be closed, got %v", relay.closed)
	}
}

func TestPlaceBetMirrorsToRelay(t *testing.T) {
	relay := &fakeRelay{sessionID: "relay-1"}
	m, _ := newTestManager(relay)
	ctx := context.Background()

	sess, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if sess.RelaySessionID != "relay-1" {
		t.Fatalf("expected relay session id, got %q", sess.RelaySessionID)
	}

	placement, err := m.PlaceBet(ctx, sess.ID, "mkt-1", "0xabc", true, 0.002)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !almostEqual(placement.NewBalance, 0.008) {
		t.Fatalf("expected balance 0.008, got %v", placement.NewBalance)
	}
	if len(relay.bets) != 1 || relay.bets[0].MarketID != "mkt-1" {
		t.Fatalf("expected one relayed bet for mkt-1, got %+v", relay.bets)
	}
	if relay.bets[0].ID != placement.BetID {
		t.Fatalf("relayed bet should carry assigned id %d, got %d", placement.BetID, relay.bets[0].ID)
	}
}

func TestPlaceBetValidation(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	sess, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	cases := []struct {
		name      string
		sessionID string
		marketID  string
		user      string
		amount    float64
		want      error
	}{
		{"empty market", sess.ID, "", "0xabc", 0.001, domain.ErrInvalidArgument},
		{"zero amount", sess.ID, "mkt-1", "0xabc", 0, domain.ErrInvalidArgument},
		{"negative amount", sess.ID, "mkt-1", "0xabc", -1, domain.ErrInvalidArgument},
		{"unknown session", "nope", "mkt-1", "0xabc", 0.001, domain.ErrSessionNotFound},
		{"over balance", sess.ID, "mkt-1", "0xabc", 0.5, domain.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.PlaceBet(ctx, tc.sessionID, tc.marketID, tc.user, true, tc.amount)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPlaceBetAfterClose(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	sess, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.CloseSession(ctx, sess.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := m.PlaceBet(ctx, sess.ID, "mkt-1", "0xabc", true, 0.001); !errors.Is(err, domain.ErrSessionNotOpen) {
		t.Fatalf("bet against closing session: expected ErrSessionNotOpen, got %v", err)
	}

	if err := m.FinalizeSession(ctx, sess.ID, "0xhash"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := m.PlaceBet(ctx, sess.ID, "mkt-1", "0xabc", true, 0.001); !errors.Is(err, domain.ErrSessionNotOpen) {
		t.Fatalf("bet against closed session: expected ErrSessionNotOpen, got %v", err)
	}
}

func TestConcurrentBetsDrainBalance(t *testing.T) {
	for _, n := range []int{2, 8, 50} {
		t.Run(fmt.Sprintf("bettors_%d", n), func(t *testing.T) {
			m, _ := newTestManager(nil)
			ctx := context.Background()

			// One unit per bettor so the subtraction is exact and the
			// final bet cannot fail on a float residue.
			deposit := float64(n)
			sess, err := m.OpenSession(ctx, "0xabc", deposit)
			if err != nil {
				t.Fatalf("open: %v", err)
			}

			const amount = 1.0
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = m.PlaceBet(ctx, sess.ID, "mkt-1", "0xabc", true, amount)
				}(i)
			}
			wg.Wait()

			for i, err := range errs {
				if err != nil {
					t.Fatalf("bet %d: %v", i, err)
				}
			}
			got, err := m.GetSession(ctx, sess.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if math.Abs(got.CurrentBalance) > 1e-6 {
				t.Fatalf("expected drained balance, got %v", got.CurrentBalance)
			}
			if math.Abs(got.TotalBetAmount-deposit) > 1e-6 {
				t.Fatalf("expected total bet %v, got %v", deposit, got.TotalBetAmount)
			}
		})
	}
}

func TestSettleBetsForMarketIdempotent(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	sess, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.PlaceBet(ctx, sess.ID, "mkt-1", "0xabc", true, 0.001); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}

	settled, err := m.SettleBetsForMarket(ctx, "mkt-1", true)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(settled) != 3 {
		t.Fatalf("expected 3 settled, got %d", len(settled))
	}
	for _, b := range settled {
		if b.Won == nil || !*b.Won || b.PnL == nil || !almostEqual(*b.PnL, 0.001) {
			t.Fatalf("settled bet missing outcome: %+v", b)
		}
	}

	again, err := m.SettleBetsForMarket(ctx, "mkt-1", true)
	if err != nil {
		t.Fatalf("resettle: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-running the sweep should settle nothing, got %d", len(again))
	}
}

func TestSessionLifecycle(t *testing.T) {
	relay := &fakeRelay{sessionID: "relay-1"}
	m, _ := newTestManager(relay)
	ctx := context.Background()

	sess, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Two YES bets and one NO bet on the same market.
	for _, side := range []bool{true, true, false} {
		if _, err := m.PlaceBet(ctx, sess.ID, "mkt-1", "0xabc", side, 0.001); err != nil {
			t.Fatalf("bet side=%v: %v", side, err)
		}
	}

	balance, err := m.CloseSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !almostEqual(balance, 0.007) {
		t.Fatalf("expected frozen balance 0.007, got %v", balance)
	}
	if len(relay.closed) != 1 || relay.closed[0] != "relay-1" {
		t.Fatalf("expected relay close for relay-1, got %v", relay.closed)
	}

	// Market resolves YES: the two YES stakes come back doubled.
	settled, err := m.SettleBetsForMarket(ctx, "mkt-1", true)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(settled) != 3 {
		t.Fatalf("expected 3 settled, got %d", len(settled))
	}

	got, err := m.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !almostEqual(got.CurrentBalance, 0.011) {
		t.Fatalf("expected balance 0.011, got %v", got.CurrentBalance)
	}
	if !almostEqual(got.TotalWon, 0.002) || !almostEqual(got.TotalLost, 0.001) {
		t.Fatalf("expected won 0.002 lost 0.001, got won %v lost %v", got.TotalWon, got.TotalLost)
	}

	bets, err := m.ListBets(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list bets: %v", err)
	}
	for _, b := range bets {
		if !b.Settled || b.Won == nil || b.PnL == nil {
			t.Fatalf("bet %d not fully settled: %+v", b.ID, b)
		}
		if !b.Side && !almostEqual(*b.PnL, -0.001) {
			t.Fatalf("losing bet pnl: expected -0.001, got %v", *b.PnL)
		}
		if b.Side && !almostEqual(*b.PnL, 0.001) {
			t.Fatalf("winning bet pnl: expected 0.001, got %v", *b.PnL)
		}
	}

	// Finalize is idempotent for the same hash and rejects a different one.
	if err := m.FinalizeSession(ctx, sess.ID, "0xhash"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := m.FinalizeSession(ctx, sess.ID, "0xhash"); err != nil {
		t.Fatalf("re-finalize same hash: %v", err)
	}
	if err := m.FinalizeSession(ctx, sess.ID, "0xother"); !errors.Is(err, domain.ErrSessionNotOpen) {
		t.Fatalf("re-finalize different hash: expected ErrSessionNotOpen, got %v", err)
	}

	got, err = m.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.SessionStatusClosed || got.ClosedAt == nil || got.SettlementTxHash != "0xhash" {
		t.Fatalf("expected closed session stamped with 0xhash, got %+v", got)
	}
}

func TestFinalizeValidation(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	sess, err := m.OpenSession(ctx, "0xabc", 0.01)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.FinalizeSession(ctx, sess.ID, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty hash, got %v", err)
	}
	if err := m.FinalizeSession(ctx, "nope", "0xhash"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
