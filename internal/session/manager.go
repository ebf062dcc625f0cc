// Package session implements the session lifecycle: opening a balance
// session, placing bets against it, closing, finalizing, and settling bets
// when a market resolves. All balance math lives in the store; the manager
// enforces input rules and coordinates the best-effort relay.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// Relay mirrors session and bet activity to an external network. Every
// method is best effort: relay failures never affect local state.
type Relay interface {
	OpenSession(ctx context.Context, userAddress string, deposit float64) (string, error)
	CloseSession(ctx context.Context, relaySessionID string) error
	SendBet(bet domain.SessionBet)
}

// EventSink receives bet placements and session status changes for live
// fan-out (the WebSocket hub).
type EventSink interface {
	BetPlaced(bet domain.SessionBet)
	SessionChanged(sess domain.Session)
}

// Manager coordinates the session lifecycle against a SessionStore.
type Manager struct {
	store  domain.SessionStore
	relay  Relay
	sink   EventSink
	logger *slog.Logger
}

// NewManager creates a Manager. The relay is optional; pass nil to run
// without mirroring.
func NewManager(store domain.SessionStore, relay Relay, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		relay:  relay,
		logger: logger.With(slog.String("component", "session_manager")),
	}
}

// WithEventSink attaches a sink that is notified of each placed bet. Without
// a sink, placements are only persisted.
func (m *Manager) WithEventSink(sink EventSink) *Manager {
	m.sink = sink
	return m
}

// OpenSession opens a balance session for userAddress with the given
// deposit. If the user already has an active session it is returned
// unchanged and the deposit amount is ignored.
//
// The deposit is taken at face value; nothing verifies that funds were
// actually locked on-chain. Acceptable for a demo ledger, not for real
// custody.
func (m *Manager) OpenSession(ctx context.Context, userAddress string, deposit float64) (domain.Session, error) {
	if userAddress == "" {
		return domain.Session{}, fmt.Errorf("session: open: user address: %w", domain.ErrInvalidArgument)
	}
	if deposit <= 0 {
		return domain.Session{}, fmt.Errorf("session: open: deposit must be positive: %w", domain.ErrInvalidArgument)
	}

	existing, err := m.store.GetActiveSession(ctx, userAddress)
	if err == nil {
		m.logger.InfoContext(ctx, "reusing active session",
			slog.String("session_id", existing.ID),
			slog.String("user", userAddress),
		)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, fmt.Errorf("session: open: %w", err)
	}

	// Mirror to the relay first so the relay session ID lands in the row.
	// Failure here downgrades to a local-only session.
	var relayID string
	if m.relay != nil {
		relayID, err = m.relay.OpenSession(ctx, userAddress, deposit)
		if err != nil {
			m.logger.WarnContext(ctx, "relay session open failed, continuing local-only",
				slog.String("user", userAddress),
				slog.String("error", err.Error()),
			)
			relayID = ""
		}
	}

	sess := domain.Session{
		ID:             uuid.NewString(),
		UserAddress:    userAddress,
		RelaySessionID: relayID,
		InitialDeposit: deposit,
		CurrentBalance: deposit,
		Status:         domain.SessionStatusOpen,
		OpenedAt:       time.Now().UTC(),
	}

	created, err := m.store.CreateSession(ctx, sess)
	if err != nil {
		// Lost a race with a concurrent open for the same user; the other
		// session wins. The relay session opened above belongs to no local
		// session now, so close it rather than leak it.
		if errors.Is(err, domain.ErrAlreadyExists) {
			if m.relay != nil && relayID != "" {
				if relayErr := m.relay.CloseSession(ctx, relayID); relayErr != nil {
					m.logger.WarnContext(ctx, "orphaned relay session close failed",
						slog.String("relay_session_id", relayID),
						slog.String("error", relayErr.Error()),
					)
				}
			}
			winner, getErr := m.store.GetActiveSession(ctx, userAddress)
			if getErr != nil {
				return domain.Session{}, fmt.Errorf("session: open: %w", getErr)
			}
			return winner, nil
		}
		return domain.Session{}, fmt.Errorf("session: open: %w", err)
	}

	if m.sink != nil {
		m.sink.SessionChanged(created)
	}

	m.logger.InfoContext(ctx, "session opened",
		slog.String("session_id", created.ID),
		slog.String("user", userAddress),
		slog.Float64("deposit", deposit),
	)
	return created, nil
}

// GetSession returns a session by ID.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: get %q: %w", sessionID, err)
	}
	return sess, nil
}

// GetActiveSession returns the user's open or closing session, or
// domain.ErrNotFound when there is none.
func (m *Manager) GetActiveSession(ctx context.Context, userAddress string) (domain.Session, error) {
	if userAddress == "" {
		return domain.Session{}, fmt.Errorf("session: active: user address: %w", domain.ErrInvalidArgument)
	}
	sess, err := m.store.GetActiveSession(ctx, userAddress)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: active for %q: %w", userAddress, err)
	}
	return sess, nil
}

// PlaceBet debits the session balance and records the bet atomically, then
// mirrors the bet to the relay and the event sink.
func (m *Manager) PlaceBet(ctx context.Context, sessionID, marketID, userAddress string, side bool, amount float64) (domain.BetPlacement, error) {
	if sessionID == "" || marketID == "" || userAddress == "" {
		return domain.BetPlacement{}, fmt.Errorf("session: place bet: missing identifier: %w", domain.ErrInvalidArgument)
	}
	if amount <= 0 {
		return domain.BetPlacement{}, fmt.Errorf("session: place bet: amount must be positive: %w", domain.ErrInvalidArgument)
	}

	bet := domain.SessionBet{
		SessionID:   sessionID,
		MarketID:    marketID,
		UserAddress: userAddress,
		Side:        side,
		Amount:      amount,
		CreatedAt:   time.Now().UTC(),
	}

	placement, err := m.store.PlaceBet(ctx, bet)
	if err != nil {
		return domain.BetPlacement{}, fmt.Errorf("session: place bet: %w", err)
	}
	bet.ID = placement.BetID

	if m.relay != nil {
		m.relay.SendBet(bet)
	}
	if m.sink != nil {
		m.sink.BetPlaced(bet)
	}

	m.logger.InfoContext(ctx, "bet placed",
		slog.String("session_id", sessionID),
		slog.String("market_id", marketID),
		slog.Bool("side", side),
		slog.Float64("amount", amount),
		slog.Float64("new_balance", placement.NewBalance),
	)
	return placement, nil
}

// ListBets returns the bets of a session, newest first.
func (m *Manager) ListBets(ctx context.Context, sessionID string) ([]domain.SessionBet, error) {
	bets, err := m.store.ListSessionBets(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: list bets for %q: %w", sessionID, err)
	}
	return bets, nil
}

// CloseSession marks an open session as closing and returns the balance to
// pay out once settlement lands on-chain. Closing a session that is already
// closing or closed fails with domain.ErrSessionNotOpen.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) (float64, error) {
	balance, err := m.store.MarkClosing(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("session: close %q: %w", sessionID, err)
	}

	if m.relay != nil || m.sink != nil {
		if sess, getErr := m.store.GetSession(ctx, sessionID); getErr == nil {
			if m.relay != nil && sess.RelaySessionID != "" {
				if relayErr := m.relay.CloseSession(ctx, sess.RelaySessionID); relayErr != nil {
					m.logger.WarnContext(ctx, "relay session close failed",
						slog.String("session_id", sessionID),
						slog.String("error", relayErr.Error()),
					)
				}
			}
			if m.sink != nil {
				m.sink.SessionChanged(sess)
			}
		}
	}

	m.logger.InfoContext(ctx, "session closing",
		slog.String("session_id", sessionID),
		slog.Float64("final_balance", balance),
	)
	return balance, nil
}

// FinalizeSession records the on-chain payout transaction and moves a
// closing session to closed. Finalizing an already-closed session with the
// same hash is a no-op; a different hash fails with domain.ErrSessionNotOpen.
func (m *Manager) FinalizeSession(ctx context.Context, sessionID, txHash string) error {
	if txHash == "" {
		return fmt.Errorf("session: finalize: tx hash: %w", domain.ErrInvalidArgument)
	}
	if err := m.store.FinalizeSession(ctx, sessionID, txHash); err != nil {
		return fmt.Errorf("session: finalize %q: %w", sessionID, err)
	}
	if m.sink != nil {
		if sess, getErr := m.store.GetSession(ctx, sessionID); getErr == nil {
			m.sink.SessionChanged(sess)
		}
	}
	m.logger.InfoContext(ctx, "session finalized",
		slog.String("session_id", sessionID),
		slog.String("tx_hash", txHash),
	)
	return nil
}

// SettleBetsForMarket settles every unsettled bet on the market. A bet wins
// when its side matches resolvedYes; winners are credited twice their stake
// back to the session balance. Already-settled bets are skipped, so the
// sweep is safe to re-run after a partial failure. It returns exactly the
// bets this call settled, with Won and PnL populated.
func (m *Manager) SettleBetsForMarket(ctx context.Context, marketID string, resolvedYes bool) ([]domain.SessionBet, error) {
	bets, err := m.store.ListUnsettledBets(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("session: settle market %q: %w", marketID, err)
	}

	var settled []domain.SessionBet
	var firstErr error
	for _, bet := range bets {
		won := bet.Side == resolvedYes
		applied, err := m.store.SettleBet(ctx, bet.ID, won)
		if err != nil {
			m.logger.ErrorContext(ctx, "bet settlement failed",
				slog.Int64("bet_id", bet.ID),
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !applied {
			// Settled by an earlier sweep.
			continue
		}

		pnl := bet.Amount
		if !won {
			pnl = -bet.Amount
		}
		w := won
		bet.Settled = true
		bet.Won = &w
		bet.PnL = &pnl
		settled = append(settled, bet)
	}

	if firstErr != nil {
		return settled, fmt.Errorf("session: settle market %q: %w", marketID, firstErr)
	}

	m.logger.InfoContext(ctx, "market bets settled",
		slog.String("market_id", marketID),
		slog.Bool("resolved_yes", resolvedYes),
		slog.Int("settled", len(settled)),
	)
	return settled, nil
}
