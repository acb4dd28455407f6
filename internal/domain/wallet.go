package domain

import "time"

// Wallet is a tracked on-chain participant.
type Wallet struct {
	Address         string
	Alias           string
	Source          string // "config" or "leaderboard"
	LeaderboardPnL  float64
	LeaderboardVol  float64
	TrackingEnabled bool
	AddedAt         time.Time
	EnabledAt       *time.Time
	DisabledAt      *time.Time
}
