package settlement

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

type fakeResolver struct {
	res domain.MarketResolution
	err error
}

func (f *fakeResolver) GetResolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	return f.res, f.err
}

type fakeSettler struct {
	txHash string
	err    error
	calls  int
}

func (f *fakeSettler) SettleMarket(ctx context.Context, marketID string, resolvedYes bool) (string, error) {
	f.calls++
	return f.txHash, f.err
}

type fakeSweeper struct {
	settled []domain.SessionBet
	err     error
	calls   int
	lastYes bool
}

func (f *fakeSweeper) SettleBetsForMarket(ctx context.Context, marketID string, resolvedYes bool) ([]domain.SessionBet, error) {
	f.calls++
	f.lastYes = resolvedYes
	return f.settled, f.err
}

type scoreCall struct {
	address string
	pnl     float64
	won     bool
	volume  float64
}

type fakeScores struct {
	calls []scoreCall
	err   error
}

func (f *fakeScores) AddBet(ctx context.Context, address string, pnl float64, won bool, volume float64) error {
	f.calls = append(f.calls, scoreCall{address, pnl, won, volume})
	return f.err
}

type notification struct {
	event string
	title string
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) Notify(ctx context.Context, event, title, message string) error {
	f.sent = append(f.sent, notification{event, title})
	return nil
}

func yesResolution() domain.MarketResolution {
	return domain.MarketResolution{
		Outcome:     domain.OutcomeYes,
		Probability: 1,
		ResolvedAt:  time.Now().UTC(),
	}
}

func settledBet(id int64, address string, side, won bool, amount float64) domain.SessionBet {
	pnl := amount
	if !won {
		pnl = -amount
	}
	return domain.SessionBet{
		ID:          id,
		SessionID:   "sess-1",
		MarketID:    "mkt-1",
		UserAddress: address,
		Side:        side,
		Amount:      amount,
		Settled:     true,
		Won:         &won,
		PnL:         &pnl,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSettleMarketFansOut(t *testing.T) {
	chain := &fakeSettler{txHash: "0xdeadbeef"}
	sweeper := &fakeSweeper{settled: []domain.SessionBet{
		settledBet(1, "0xaaa", true, true, 0.002),
		settledBet(2, "0xbbb", false, false, 0.001),
	}}
	scores := &fakeScores{}
	notifier := &fakeNotifier{}

	trig := NewTrigger(&fakeResolver{res: yesResolution()}, chain, sweeper, discard()).
		WithScores(scores).
		WithNotifier(notifier)

	result, err := trig.SettleMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !result.ResolvedYes || result.TxHash != "0xdeadbeef" || result.BetsSettled != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if chain.calls != 1 || sweeper.calls != 1 || !sweeper.lastYes {
		t.Fatalf("expected one chain call and one YES sweep, got chain=%d sweeper=%d yes=%v",
			chain.calls, sweeper.calls, sweeper.lastYes)
	}

	if len(scores.calls) != 2 {
		t.Fatalf("expected 2 leaderboard credits, got %d", len(scores.calls))
	}
	win, loss := scores.calls[0], scores.calls[1]
	if win.address != "0xaaa" || !win.won || win.pnl != 0.002 || win.volume != 0.002 {
		t.Fatalf("unexpected winning credit %+v", win)
	}
	if loss.address != "0xbbb" || loss.won || loss.pnl != -0.001 || loss.volume != 0.001 {
		t.Fatalf("unexpected losing credit %+v", loss)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].event != "market_settled" {
		t.Fatalf("expected one market_settled notification, got %+v", notifier.sent)
	}
}

func TestSettleMarketUnresolved(t *testing.T) {
	sweeper := &fakeSweeper{}
	trig := NewTrigger(&fakeResolver{err: domain.ErrMarketUnresolved}, nil, sweeper, discard())

	_, err := trig.SettleMarket(context.Background(), "mkt-1")
	if !errors.Is(err, domain.ErrMarketUnresolved) {
		t.Fatalf("expected ErrMarketUnresolved, got %v", err)
	}
	if sweeper.calls != 0 {
		t.Fatalf("unresolved market must not be swept")
	}
}

func TestSettleMarketCancelled(t *testing.T) {
	chain := &fakeSettler{}
	sweeper := &fakeSweeper{}
	res := domain.MarketResolution{Outcome: domain.OutcomeCancel}
	trig := NewTrigger(&fakeResolver{res: res}, chain, sweeper, discard())

	_, err := trig.SettleMarket(context.Background(), "mkt-1")
	if !errors.Is(err, domain.ErrMarketCancelled) {
		t.Fatalf("expected ErrMarketCancelled, got %v", err)
	}
	if chain.calls != 0 || sweeper.calls != 0 {
		t.Fatalf("cancelled market must not touch chain or ledger")
	}
}

func TestSettleMarketChainFailureDoesNotBlockSweep(t *testing.T) {
	chain := &fakeSettler{err: errors.New("rpc down")}
	sweeper := &fakeSweeper{settled: []domain.SessionBet{
		settledBet(1, "0xaaa", true, true, 0.001),
	}}
	notifier := &fakeNotifier{}

	trig := NewTrigger(&fakeResolver{res: yesResolution()}, chain, sweeper, discard()).
		WithNotifier(notifier)

	result, err := trig.SettleMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("settle should tolerate chain failure: %v", err)
	}
	if result.TxHash != "" || result.BetsSettled != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if sweeper.calls != 1 {
		t.Fatalf("ledger sweep must still run")
	}

	var events []string
	for _, n := range notifier.sent {
		events = append(events, n.event)
	}
	if len(events) != 2 || events[0] != "settlement_error" || events[1] != "market_settled" {
		t.Fatalf("expected settlement_error then market_settled, got %v", events)
	}
}

func TestSettleMarketSweepFailure(t *testing.T) {
	sweepErr := errors.New("store down")
	sweeper := &fakeSweeper{
		settled: []domain.SessionBet{settledBet(1, "0xaaa", true, true, 0.001)},
		err:     sweepErr,
	}
	scores := &fakeScores{}
	notifier := &fakeNotifier{}

	trig := NewTrigger(&fakeResolver{res: yesResolution()}, nil, sweeper, discard()).
		WithScores(scores).
		WithNotifier(notifier)

	result, err := trig.SettleMarket(context.Background(), "mkt-1")
	if !errors.Is(err, sweepErr) {
		t.Fatalf("expected sweep error, got %v", err)
	}
	// Bets settled before the failure are still credited and reported.
	if result.BetsSettled != 1 || len(scores.calls) != 1 {
		t.Fatalf("partial settlement not reported: result=%+v credits=%d", result, len(scores.calls))
	}
	if len(notifier.sent) != 1 || notifier.sent[0].event != "settlement_error" {
		t.Fatalf("expected settlement_error notification, got %+v", notifier.sent)
	}
}

func TestSettleMarketLeaderboardFailureTolerated(t *testing.T) {
	sweeper := &fakeSweeper{settled: []domain.SessionBet{
		settledBet(1, "0xaaa", true, true, 0.001),
	}}
	scores := &fakeScores{err: errors.New("redis down")}

	trig := NewTrigger(&fakeResolver{res: yesResolution()}, nil, sweeper, discard()).
		WithScores(scores)

	result, err := trig.SettleMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("leaderboard failure must not fail settlement: %v", err)
	}
	if result.BetsSettled != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}
