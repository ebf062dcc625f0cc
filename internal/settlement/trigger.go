// Package settlement orchestrates market settlement: it asks the oracle for
// the terminal outcome, pushes the result on-chain, sweeps the session
// ledger, and credits the leaderboard. Each step is independently retryable;
// the ledger sweep skips already-settled bets, so re-running a partially
// failed settlement is safe.
package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// Resolver reports the terminal outcome of a market.
type Resolver interface {
	GetResolution(ctx context.Context, marketID string) (domain.MarketResolution, error)
}

// Settler pushes a resolved outcome to the custody contract.
type Settler interface {
	SettleMarket(ctx context.Context, marketID string, resolvedYes bool) (string, error)
}

// Sweeper settles the ledger's unsettled bets for a market and reports which
// bets it settled.
type Sweeper interface {
	SettleBetsForMarket(ctx context.Context, marketID string, resolvedYes bool) ([]domain.SessionBet, error)
}

// Scores accumulates per-user results for the leaderboard.
type Scores interface {
	AddBet(ctx context.Context, address string, pnl float64, won bool, volume float64) error
}

// Notifier pushes operator notifications for settlement events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Result summarizes one settlement run.
type Result struct {
	MarketID    string `json:"market_id"`
	ResolvedYes bool   `json:"resolved_yes"`
	TxHash      string `json:"tx_hash,omitempty"`
	BetsSettled int    `json:"bets_settled"`
}

// Trigger runs settlement for resolved markets. The chain settler, scores,
// and notifier are optional; a nil dependency skips that step.
type Trigger struct {
	oracle   Resolver
	chain    Settler
	sweeper  Sweeper
	scores   Scores
	notifier Notifier
	logger   *slog.Logger
}

// NewTrigger creates a settlement trigger.
func NewTrigger(oracle Resolver, chain Settler, sweeper Sweeper, logger *slog.Logger) *Trigger {
	return &Trigger{
		oracle:  oracle,
		chain:   chain,
		sweeper: sweeper,
		logger:  logger.With(slog.String("component", "settlement_trigger")),
	}
}

// WithScores attaches a leaderboard that is credited once per settled bet.
func (t *Trigger) WithScores(scores Scores) *Trigger {
	t.scores = scores
	return t
}

// WithNotifier attaches an operator notifier for settlement events.
func (t *Trigger) WithNotifier(n Notifier) *Trigger {
	t.notifier = n
	return t
}

// SettleMarket settles a single market.
//
// It fails fast, without touching any state, when the oracle still reports
// the market as unresolved (domain.ErrMarketUnresolved) or when the market
// was cancelled (domain.ErrMarketCancelled). For a YES/NO outcome it then
// fans out: on-chain settlement first (failure is logged and reported but
// does not block the ledger), then the ledger sweep, then one leaderboard
// credit per bet the sweep settled.
func (t *Trigger) SettleMarket(ctx context.Context, marketID string) (Result, error) {
	res, err := t.oracle.GetResolution(ctx, marketID)
	if err != nil {
		return Result{}, fmt.Errorf("settlement: market %q: %w", marketID, err)
	}
	if res.Outcome == domain.OutcomeCancel {
		t.logger.InfoContext(ctx, "market cancelled, nothing to settle",
			slog.String("market_id", marketID),
		)
		return Result{}, fmt.Errorf("settlement: market %q: %w", marketID, domain.ErrMarketCancelled)
	}
	resolvedYes := res.Outcome == domain.OutcomeYes

	result := Result{MarketID: marketID, ResolvedYes: resolvedYes}

	if t.chain != nil {
		txHash, chainErr := t.chain.SettleMarket(ctx, marketID, resolvedYes)
		if chainErr != nil {
			t.logger.ErrorContext(ctx, "on-chain settlement failed, continuing with ledger sweep",
				slog.String("market_id", marketID),
				slog.String("error", chainErr.Error()),
			)
			t.notify(ctx, "settlement_error", "On-chain settlement failed",
				fmt.Sprintf("market %s: %v", marketID, chainErr))
		} else {
			result.TxHash = txHash
		}
	}

	settled, sweepErr := t.sweeper.SettleBetsForMarket(ctx, marketID, resolvedYes)
	result.BetsSettled = len(settled)

	if t.scores != nil {
		for _, bet := range settled {
			pnl := bet.Amount
			won := bet.Won != nil && *bet.Won
			if bet.PnL != nil {
				pnl = *bet.PnL
			} else if !won {
				pnl = -bet.Amount
			}
			if err := t.scores.AddBet(ctx, bet.UserAddress, pnl, won, bet.Amount); err != nil {
				t.logger.WarnContext(ctx, "leaderboard credit failed",
					slog.Int64("bet_id", bet.ID),
					slog.String("address", bet.UserAddress),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if sweepErr != nil {
		t.notify(ctx, "settlement_error", "Ledger sweep incomplete",
			fmt.Sprintf("market %s: settled %d bets before failing: %v", marketID, len(settled), sweepErr))
		return result, fmt.Errorf("settlement: market %q: %w", marketID, sweepErr)
	}

	outcome := "NO"
	if resolvedYes {
		outcome = "YES"
	}
	t.notify(ctx, "market_settled", "Market settled",
		fmt.Sprintf("market %s resolved %s, %d bets settled, tx %s", marketID, outcome, len(settled), result.TxHash))

	t.logger.InfoContext(ctx, "market settlement complete",
		slog.String("market_id", marketID),
		slog.Bool("resolved_yes", resolvedYes),
		slog.Int("bets_settled", len(settled)),
		slog.String("tx_hash", result.TxHash),
	)
	return result, nil
}

// notify sends a best-effort operator notification.
func (t *Trigger) notify(ctx context.Context, event, title, message string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, event, title, message); err != nil {
		t.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
