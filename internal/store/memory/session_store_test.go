package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

func openSession(t *testing.T, s *SessionStore, id, user string, deposit float64) domain.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), domain.Session{
		ID:             id,
		UserAddress:    user,
		InitialDeposit: deposit,
		CurrentBalance: deposit,
		Status:         domain.SessionStatusOpen,
		OpenedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestCreateSessionRejectsSecondActive(t *testing.T) {
	s := NewSessionStore()
	openSession(t, s, "s1", "0xabc", 1)

	_, err := s.CreateSession(context.Background(), domain.Session{
		ID:          "s2",
		UserAddress: "0xabc",
		Status:      domain.SessionStatusOpen,
	})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// A different user is unaffected.
	openSession(t, s, "s3", "0xdef", 1)
}

func TestSettleBetCreditsOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	openSession(t, s, "s1", "0xabc", 10)

	placement, err := s.PlaceBet(ctx, domain.SessionBet{
		SessionID: "s1", MarketID: "m1", UserAddress: "0xabc", Side: true, Amount: 4,
	})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	applied, err := s.SettleBet(ctx, placement.BetID, true)
	if err != nil || !applied {
		t.Fatalf("first settle: applied=%v err=%v", applied, err)
	}
	applied, err = s.SettleBet(ctx, placement.BetID, true)
	if err != nil || applied {
		t.Fatalf("second settle should be a no-op: applied=%v err=%v", applied, err)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	// 10 - 4 stake + 8 payout, credited exactly once.
	if sess.CurrentBalance != 14 {
		t.Fatalf("expected balance 14, got %v", sess.CurrentBalance)
	}
	if sess.TotalWon != 4 {
		t.Fatalf("expected total won 4, got %v", sess.TotalWon)
	}
}

func TestListSettledBetsBefore(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	openSession(t, s, "s1", "0xabc", 100)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		placement, err := s.PlaceBet(ctx, domain.SessionBet{
			SessionID:   "s1",
			MarketID:    "m1",
			UserAddress: "0xabc",
			Side:        true,
			Amount:      1,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("PlaceBet %d: %v", i, err)
		}
		// Leave the last bet unsettled.
		if i < 4 {
			if _, err := s.SettleBet(ctx, placement.BetID, false); err != nil {
				t.Fatalf("SettleBet %d: %v", i, err)
			}
		}
	}

	// Cutoff excludes the two newest settled bets.
	bets, err := s.ListSettledBetsBefore(ctx, base.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListSettledBetsBefore: %v", err)
	}
	if len(bets) != 2 {
		t.Fatalf("expected 2 bets before cutoff, got %d", len(bets))
	}
	if !bets[0].CreatedAt.Before(bets[1].CreatedAt) {
		t.Fatal("expected oldest-first ordering")
	}

	// Limit truncates from the front.
	bets, err = s.ListSettledBetsBefore(ctx, base.Add(100*time.Hour), 3)
	if err != nil {
		t.Fatalf("ListSettledBetsBefore: %v", err)
	}
	if len(bets) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(bets))
	}
	for _, b := range bets {
		if !b.Settled {
			t.Fatal("unsettled bet leaked into archive listing")
		}
	}
}

func TestFinalizeSessionIdempotency(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	openSession(t, s, "s1", "0xabc", 1)

	if _, err := s.MarkClosing(ctx, "s1"); err != nil {
		t.Fatalf("MarkClosing: %v", err)
	}
	if err := s.FinalizeSession(ctx, "s1", "0xdead"); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	if err := s.FinalizeSession(ctx, "s1", "0xdead"); err != nil {
		t.Fatalf("re-finalize with same hash should succeed: %v", err)
	}
	if err := s.FinalizeSession(ctx, "s1", "0xbeef"); !errors.Is(err, domain.ErrSessionNotOpen) {
		t.Fatalf("expected ErrSessionNotOpen for conflicting hash, got %v", err)
	}
}
