package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionSelectCols = `id, user_address, relay_session_id, initial_deposit,
	current_balance, total_bet_amount, total_won, total_lost, status,
	opened_at, closed_at, settlement_tx_hash`

func scanSessionRow(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	var relayID, txHash *string
	var status string

	err := row.Scan(
		&s.ID, &s.UserAddress, &relayID, &s.InitialDeposit,
		&s.CurrentBalance, &s.TotalBetAmount, &s.TotalWon, &s.TotalLost, &status,
		&s.OpenedAt, &s.ClosedAt, &txHash,
	)
	if err != nil {
		return domain.Session{}, err
	}
	s.Status = domain.SessionStatus(status)
	if relayID != nil {
		s.RelaySessionID = *relayID
	}
	if txHash != nil {
		s.SettlementTxHash = *txHash
	}
	return s, nil
}

const betSelectCols = `id, session_id, market_id, user_address, side, amount,
	settled, won, pnl, created_at`

func scanBetRows(rows pgx.Rows) ([]domain.SessionBet, error) {
	var bets []domain.SessionBet
	for rows.Next() {
		var b domain.SessionBet
		if err := rows.Scan(
			&b.ID, &b.SessionID, &b.MarketID, &b.UserAddress, &b.Side, &b.Amount,
			&b.Settled, &b.Won, &b.PnL, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// CreateSession inserts a new session row. A partial unique index on
// (user_address) WHERE status IN ('open','closing') enforces the single
// active session invariant; a conflict surfaces as domain.ErrAlreadyExists.
func (s *SessionStore) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	const query = `
		INSERT INTO sessions (
			id, user_address, relay_session_id, initial_deposit,
			current_balance, status, opened_at, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NOW())
		RETURNING ` + sessionSelectCols

	row := s.pool.QueryRow(ctx, query,
		sess.ID, sess.UserAddress, sess.RelaySessionID, sess.InitialDeposit,
		sess.CurrentBalance, string(sess.Status), sess.OpenedAt,
	)

	created, err := scanSessionRow(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Session{}, domain.ErrAlreadyExists
		}
		return domain.Session{}, fmt.Errorf("postgres: create session: %w", err)
	}
	return created, nil
}

// GetSession retrieves a single session by its ID.
func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionSelectCols+` FROM sessions WHERE id = $1`, id)

	sess, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	return sess, nil
}

// GetActiveSession returns the user's open or closing session.
func (s *SessionStore) GetActiveSession(ctx context.Context, userAddress string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionSelectCols+` FROM sessions
		 WHERE user_address = $1 AND status IN ('open', 'closing')`, userAddress)

	sess, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("postgres: get active session for %s: %w", userAddress, err)
	}
	return sess, nil
}

// PlaceBet debits the session balance and inserts the bet row in one
// transaction. The session row is locked first, so concurrent bets against
// the same session serialize and can never double-spend the same balance.
func (s *SessionStore) PlaceBet(ctx context.Context, bet domain.SessionBet) (domain.BetPlacement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.BetPlacement{}, fmt.Errorf("postgres: begin place bet: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var balance float64
	err = tx.QueryRow(ctx,
		`SELECT status, current_balance FROM sessions WHERE id = $1 FOR UPDATE`,
		bet.SessionID,
	).Scan(&status, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BetPlacement{}, domain.ErrSessionNotFound
		}
		return domain.BetPlacement{}, fmt.Errorf("postgres: lock session %s: %w", bet.SessionID, err)
	}
	if status != string(domain.SessionStatusOpen) {
		return domain.BetPlacement{}, domain.ErrSessionNotOpen
	}
	if bet.Amount > balance {
		return domain.BetPlacement{}, domain.ErrInsufficientBalance
	}

	var newBalance float64
	err = tx.QueryRow(ctx,
		`UPDATE sessions SET
			current_balance  = current_balance - $2,
			total_bet_amount = total_bet_amount + $2,
			updated_at       = NOW()
		 WHERE id = $1
		 RETURNING current_balance`,
		bet.SessionID, bet.Amount,
	).Scan(&newBalance)
	if err != nil {
		return domain.BetPlacement{}, fmt.Errorf("postgres: debit session %s: %w", bet.SessionID, err)
	}

	var betID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO session_bets (session_id, market_id, user_address, side, amount)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		bet.SessionID, bet.MarketID, bet.UserAddress, bet.Side, bet.Amount,
	).Scan(&betID)
	if err != nil {
		return domain.BetPlacement{}, fmt.Errorf("postgres: insert bet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BetPlacement{}, fmt.Errorf("postgres: commit place bet: %w", err)
	}

	return domain.BetPlacement{BetID: betID, NewBalance: newBalance}, nil
}

// MarkClosing freezes an open session and returns the balance snapshot.
func (s *SessionStore) MarkClosing(ctx context.Context, id string) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin close session: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrSessionNotFound
		}
		return 0, fmt.Errorf("postgres: lock session %s: %w", id, err)
	}
	if status != string(domain.SessionStatusOpen) {
		return 0, domain.ErrSessionNotOpen
	}

	var balance float64
	err = tx.QueryRow(ctx,
		`UPDATE sessions SET status = 'closing', updated_at = NOW()
		 WHERE id = $1
		 RETURNING current_balance`, id,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark session %s closing: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit close session: %w", err)
	}
	return balance, nil
}

// FinalizeSession records the settlement transaction and closes the session.
// Finalizing twice with the same hash is a no-op; a different hash on a closed
// session is rejected.
func (s *SessionStore) FinalizeSession(ctx context.Context, id, settlementTxHash string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin finalize session: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var existingHash *string
	err = tx.QueryRow(ctx,
		`SELECT status, settlement_tx_hash FROM sessions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &existingHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("postgres: lock session %s: %w", id, err)
	}

	if status == string(domain.SessionStatusClosed) {
		if existingHash != nil && *existingHash == settlementTxHash {
			return tx.Commit(ctx)
		}
		return domain.ErrSessionNotOpen
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET
			status             = 'closed',
			closed_at          = NOW(),
			settlement_tx_hash = $2,
			updated_at         = NOW()
		 WHERE id = $1`,
		id, settlementTxHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize session %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit finalize session: %w", err)
	}
	return nil
}

// ListUnsettledBets returns all unsettled bets referencing a market, oldest
// first so the sweep settles in placement order.
func (s *SessionStore) ListUnsettledBets(ctx context.Context, marketID string) ([]domain.SessionBet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM session_bets
		 WHERE market_id = $1 AND NOT settled
		 ORDER BY id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled bets: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unsettled bets: %w", err)
	}
	return bets, nil
}

// ListSessionBets returns all bets for a session, newest first.
func (s *SessionStore) ListSessionBets(ctx context.Context, sessionID string) ([]domain.SessionBet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM session_bets
		 WHERE session_id = $1
		 ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list session bets: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan session bets: %w", err)
	}
	return bets, nil
}

// SettleBet marks a bet settled and credits the owning session on a win, all
// in one transaction. The guarded UPDATE (... AND NOT settled) makes re-runs
// of a sweep no-ops for already settled bets.
func (s *SessionStore) SettleBet(ctx context.Context, betID int64, won bool) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin settle bet: %w", err)
	}
	defer tx.Rollback(ctx)

	var sessionID string
	var amount float64
	err = tx.QueryRow(ctx,
		`UPDATE session_bets SET
			settled = TRUE,
			won     = $2,
			pnl     = CASE WHEN $2 THEN amount ELSE -amount END
		 WHERE id = $1 AND NOT settled
		 RETURNING session_id, amount`,
		betID, won,
	).Scan(&sessionID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either already settled or missing; tell the two apart.
			var exists bool
			if checkErr := s.pool.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM session_bets WHERE id = $1)`, betID,
			).Scan(&exists); checkErr != nil {
				return false, fmt.Errorf("postgres: check bet %d: %w", betID, checkErr)
			}
			if !exists {
				return false, domain.ErrNotFound
			}
			return false, nil
		}
		return false, fmt.Errorf("postgres: settle bet %d: %w", betID, err)
	}

	// Winners get stake plus an even-money payout back; losers forfeit the
	// stake that was already deducted at placement.
	if won {
		_, err = tx.Exec(ctx,
			`UPDATE sessions SET
				current_balance = current_balance + $2 * 2,
				total_won       = total_won + $2,
				updated_at      = NOW()
			 WHERE id = $1`,
			sessionID, amount,
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE sessions SET
				total_lost = total_lost + $2,
				updated_at = NOW()
			 WHERE id = $1`,
			sessionID, amount,
		)
	}
	if err != nil {
		return false, fmt.Errorf("postgres: credit session %s: %w", sessionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit settle bet: %w", err)
	}
	return true, nil
}

// ListSettledBetsBefore returns settled bets created before the cutoff for
// archival, oldest first.
func (s *SessionStore) ListSettledBetsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SessionBet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM session_bets
		 WHERE settled AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled bets before %s: %w", cutoff, err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled bets: %w", err)
	}
	return bets, nil
}
