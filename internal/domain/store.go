package domain

import (
	"context"
	"time"
)

// SessionStore is the ledger contract for sessions and their bets. Every
// balance-affecting method is a single atomic operation against the backing
// store; implementations must serialize concurrent balance mutations per
// session (row locking, a store-side procedure, or an equivalent) so that two
// callers can never observe the same pre-mutation balance. Cross-session
// operations carry no ordering guarantee.
type SessionStore interface {
	// CreateSession inserts a new session. It fails with ErrAlreadyExists if
	// the user already has an open or closing session, enforcing the
	// at-most-one-active-session-per-user invariant at the storage layer.
	CreateSession(ctx context.Context, s Session) (Session, error)

	// GetSession returns a session by id, or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (Session, error)

	// GetActiveSession returns the user's open or closing session, or
	// ErrNotFound when the user has none.
	GetActiveSession(ctx context.Context, userAddress string) (Session, error)

	// PlaceBet atomically checks the session is open, verifies the balance
	// covers amount, debits the balance, bumps total_bet_amount, and inserts
	// the bet row. On failure nothing is persisted. Errors: ErrSessionNotFound,
	// ErrSessionNotOpen, ErrInsufficientBalance.
	PlaceBet(ctx context.Context, bet SessionBet) (BetPlacement, error)

	// MarkClosing transitions an open session to closing and returns the
	// frozen balance. Errors: ErrSessionNotFound, ErrSessionNotOpen.
	MarkClosing(ctx context.Context, id string) (float64, error)

	// FinalizeSession transitions a session to closed, stamping closed_at and
	// the settlement tx hash. Re-finalizing with the same hash is a no-op;
	// a different hash on an already-closed session fails with
	// ErrSessionNotOpen.
	FinalizeSession(ctx context.Context, id, settlementTxHash string) error

	// ListUnsettledBets returns all unsettled bets referencing the market.
	ListUnsettledBets(ctx context.Context, marketID string) ([]SessionBet, error)

	// ListSessionBets returns all bets for a session, newest first.
	ListSessionBets(ctx context.Context, sessionID string) ([]SessionBet, error)

	// SettleBet atomically marks a still-unsettled bet as settled with the
	// given outcome and, on a win, credits the owning session's balance with
	// the even-money payout (twice the stake). It returns false without error
	// when the bet was already settled, so re-running a sweep is safe.
	SettleBet(ctx context.Context, betID int64, won bool) (bool, error)

	// ListSettledBetsBefore returns settled bets created before the cutoff,
	// oldest first, for archival.
	ListSettledBetsBefore(ctx context.Context, cutoff time.Time, limit int) ([]SessionBet, error)
}

// LeaderboardStore accumulates per-user win/loss records and serves ranked
// reads. It is display/audit state, never consulted by the session ledger.
type LeaderboardStore interface {
	AddBet(ctx context.Context, address string, pnl float64, won bool, volume float64) error
	Top(ctx context.Context, n int) ([]LeaderboardEntry, error)
	Stats(ctx context.Context) (LeaderboardStats, error)
}
