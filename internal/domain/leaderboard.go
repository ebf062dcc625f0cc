package domain

// LeaderboardEntry is one user's cumulative win/loss record, ranked by PnL.
type LeaderboardEntry struct {
	Address string  `json:"address"`
	PnL     float64 `json:"pnl"`
	Bets    int64   `json:"bets"`
	Wins    int64   `json:"wins"`
	Losses  int64   `json:"losses"`
	Volume  float64 `json:"volume"`
}

// LeaderboardStats aggregates activity across all ranked users.
type LeaderboardStats struct {
	Users       int64   `json:"users"`
	TotalBets   int64   `json:"total_bets"`
	TotalVolume float64 `json:"total_volume"`
}
