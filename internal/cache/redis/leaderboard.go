package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

const (
	// pnlKey is the sorted set ranking addresses by cumulative PnL.
	pnlKey = "leaderboard:pnl"
	// statsKey is the hash holding cross-user aggregate counters.
	statsKey = "leaderboard:stats"
)

// userKey is the per-address hash of win/loss counters.
func userKey(address string) string {
	return "leaderboard:user:" + address
}

// Leaderboard implements domain.LeaderboardStore on a Redis sorted set plus a
// hash per address.
type Leaderboard struct {
	rdb *redis.Client
}

// NewLeaderboard creates a Leaderboard backed by the given client.
func NewLeaderboard(c *Client) *Leaderboard {
	return &Leaderboard{rdb: c.Underlying()}
}

// AddBet folds one settled bet into a user's record and the global stats.
func (l *Leaderboard) AddBet(ctx context.Context, address string, pnl float64, won bool, volume float64) error {
	pipe := l.rdb.TxPipeline()

	pipe.ZIncrBy(ctx, pnlKey, pnl, address)
	pipe.HIncrBy(ctx, userKey(address), "bets", 1)
	if won {
		pipe.HIncrBy(ctx, userKey(address), "wins", 1)
	} else {
		pipe.HIncrBy(ctx, userKey(address), "losses", 1)
	}
	pipe.HIncrByFloat(ctx, userKey(address), "volume", volume)
	pipe.HIncrBy(ctx, statsKey, "total_bets", 1)
	pipe.HIncrByFloat(ctx, statsKey, "total_volume", volume)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: leaderboard add bet for %s: %w", address, err)
	}
	return nil
}

// Top returns the n highest-PnL entries, best first.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}

	ranked, err := l.rdb.ZRevRangeWithScores(ctx, pnlKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: leaderboard top: %w", err)
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	pipe := l.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ranked))
	for i, z := range ranked {
		cmds[i] = pipe.HGetAll(ctx, userKey(z.Member.(string)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: leaderboard fetch user stats: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(ranked))
	for i, z := range ranked {
		fields, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("redis: leaderboard user fields: %w", err)
		}
		entries = append(entries, domain.LeaderboardEntry{
			Address: z.Member.(string),
			PnL:     z.Score,
			Bets:    parseInt(fields["bets"]),
			Wins:    parseInt(fields["wins"]),
			Losses:  parseInt(fields["losses"]),
			Volume:  parseFloat(fields["volume"]),
		})
	}
	return entries, nil
}

// Stats returns the cross-user aggregate counters.
func (l *Leaderboard) Stats(ctx context.Context) (domain.LeaderboardStats, error) {
	pipe := l.rdb.Pipeline()
	usersCmd := pipe.ZCard(ctx, pnlKey)
	statsCmd := pipe.HGetAll(ctx, statsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.LeaderboardStats{}, fmt.Errorf("redis: leaderboard stats: %w", err)
	}

	fields := statsCmd.Val()
	return domain.LeaderboardStats{
		Users:       usersCmd.Val(),
		TotalBets:   parseInt(fields["total_bets"]),
		TotalVolume: parseFloat(fields["total_volume"]),
	}, nil
}
