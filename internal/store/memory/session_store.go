// Package memory implements the domain session ledger in process memory. It
// honors the same atomicity contract as the postgres backend by serializing
// every mutation behind one mutex, which is plenty for demos and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// SessionStore implements domain.SessionStore with in-memory state.
type SessionStore struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	bets      map[int64]*domain.SessionBet
	nextBetID int64
}

// NewSessionStore creates an empty in-memory ledger.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*domain.Session),
		bets:      make(map[int64]*domain.SessionBet),
		nextBetID: 1,
	}
}

// CreateSession inserts a new session, enforcing at most one open/closing
// session per user.
func (s *SessionStore) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.UserAddress == sess.UserAddress && existing.Active() {
			return domain.Session{}, domain.ErrAlreadyExists
		}
	}

	stored := sess
	s.sessions[sess.ID] = &stored
	return stored, nil
}

// GetSession returns a session by id.
func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return *sess, nil
}

// GetActiveSession returns the user's open or closing session.
func (s *SessionStore) GetActiveSession(ctx context.Context, userAddress string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.UserAddress == userAddress && sess.Active() {
			return *sess, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

// PlaceBet debits the balance and records the bet as one indivisible step.
func (s *SessionStore) PlaceBet(ctx context.Context, bet domain.SessionBet) (domain.BetPlacement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[bet.SessionID]
	if !ok {
		return domain.BetPlacement{}, domain.ErrSessionNotFound
	}
	if sess.Status != domain.SessionStatusOpen {
		return domain.BetPlacement{}, domain.ErrSessionNotOpen
	}
	if bet.Amount > sess.CurrentBalance {
		return domain.BetPlacement{}, domain.ErrInsufficientBalance
	}

	sess.CurrentBalance -= bet.Amount
	sess.TotalBetAmount += bet.Amount

	stored := bet
	stored.ID = s.nextBetID
	s.nextBetID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.bets[stored.ID] = &stored

	return domain.BetPlacement{BetID: stored.ID, NewBalance: sess.CurrentBalance}, nil
}

// MarkClosing freezes an open session and returns the balance snapshot.
func (s *SessionStore) MarkClosing(ctx context.Context, id string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	if sess.Status != domain.SessionStatusOpen {
		return 0, domain.ErrSessionNotOpen
	}
	sess.Status = domain.SessionStatusClosing
	return sess.CurrentBalance, nil
}

// FinalizeSession closes a session, stamping the settlement transaction.
func (s *SessionStore) FinalizeSession(ctx context.Context, id, settlementTxHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if sess.Status == domain.SessionStatusClosed {
		if sess.SettlementTxHash == settlementTxHash {
			return nil
		}
		return domain.ErrSessionNotOpen
	}

	now := time.Now().UTC()
	sess.Status = domain.SessionStatusClosed
	sess.ClosedAt = &now
	sess.SettlementTxHash = settlementTxHash
	return nil
}

// ListUnsettledBets returns unsettled bets for a market in placement order.
func (s *SessionStore) ListUnsettledBets(ctx context.Context, marketID string) ([]domain.SessionBet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bets []domain.SessionBet
	for _, b := range s.bets {
		if b.MarketID == marketID && !b.Settled {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool { return bets[i].ID < bets[j].ID })
	return bets, nil
}

// ListSessionBets returns a session's bets, newest first.
func (s *SessionStore) ListSessionBets(ctx context.Context, sessionID string) ([]domain.SessionBet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bets []domain.SessionBet
	for _, b := range s.bets {
		if b.SessionID == sessionID {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool { return bets[i].ID > bets[j].ID })
	return bets, nil
}

// SettleBet resolves a bet exactly once, crediting the owning session with
// twice the stake on a win.
func (s *SessionStore) SettleBet(ctx context.Context, betID int64, won bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet, ok := s.bets[betID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if bet.Settled {
		return false, nil
	}

	pnl := bet.Amount
	if !won {
		pnl = -bet.Amount
	}
	bet.Settled = true
	w := won
	bet.Won = &w
	bet.PnL = &pnl

	if sess, ok := s.sessions[bet.SessionID]; ok {
		if won {
			sess.CurrentBalance += bet.Amount * 2
			sess.TotalWon += bet.Amount
		} else {
			sess.TotalLost += bet.Amount
		}
	}
	return true, nil
}

// ListSettledBetsBefore returns settled bets created before the cutoff.
func (s *SessionStore) ListSettledBetsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SessionBet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bets []domain.SessionBet
	for _, b := range s.bets {
		if b.Settled && b.CreatedAt.Before(cutoff) {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool { return bets[i].CreatedAt.Before(bets[j].CreatedAt) })
	if limit > 0 && len(bets) > limit {
		bets = bets[:limit]
	}
	return bets, nil
}
