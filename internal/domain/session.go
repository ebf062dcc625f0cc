package domain

import "time"

// SessionStatus is the lifecycle state of an off-chain balance session.
// Transitions are linear: open -> closing -> closed. A session is never
// reopened.
type SessionStatus string

const (
	SessionStatusOpen    SessionStatus = "open"
	SessionStatusClosing SessionStatus = "closing"
	SessionStatusClosed  SessionStatus = "closed"
)

// Session is a per-user off-chain balance backed by a prior on-chain deposit.
// CurrentBalance is the authoritative balance; it starts at InitialDeposit and
// is adjusted only by bet placement and settlement. At most one session per
// user may be open or closing at a time.
type Session struct {
	ID               string        `json:"id"`
	UserAddress      string        `json:"user_address"`
	RelaySessionID   string        `json:"relay_session_id,omitempty"`
	InitialDeposit   float64       `json:"initial_deposit"`
	CurrentBalance   float64       `json:"current_balance"`
	TotalBetAmount   float64       `json:"total_bet_amount"`
	TotalWon         float64       `json:"total_won"`
	TotalLost        float64       `json:"total_lost"`
	Status           SessionStatus `json:"status"`
	OpenedAt         time.Time     `json:"opened_at"`
	ClosedAt         *time.Time    `json:"closed_at,omitempty"`
	SettlementTxHash string        `json:"settlement_tx_hash,omitempty"`
}

// Active reports whether the session still holds the per-user uniqueness slot.
func (s Session) Active() bool {
	return s.Status == SessionStatusOpen || s.Status == SessionStatusClosing
}

// SessionBet is a single off-chain stake inside a session. The stake is
// deducted from the session balance when the bet is created and the bet is
// mutated exactly once, by the settlement sweep. Bets are never deleted.
//
// UserAddress duplicates the owning session's user so the settlement sweep can
// query by market without joining through sessions.
type SessionBet struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	MarketID    string    `json:"market_id"`
	UserAddress string    `json:"user_address"`
	Side        bool      `json:"side"` // true = YES, false = NO
	Amount      float64   `json:"amount"`
	Settled     bool      `json:"settled"`
	Won         *bool     `json:"won,omitempty"`
	PnL         *float64  `json:"pnl,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BetPlacement is the result of an atomic debit-and-insert.
type BetPlacement struct {
	BetID      int64   `json:"bet_id"`
	NewBalance float64 `json:"new_balance"`
}
