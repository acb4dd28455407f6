package domain

import "time"

// DustEpsilon is the share count at or below which a position counts as
// closed.
const DustEpsilon = 1e-4

// Position is the running paper inventory of one instrument.
type Position struct {
	TokenID     string
	Size        float64
	CostBasis   float64
	RealizedPnL float64
	UpdatedAt   time.Time
}

// Open reports whether the position holds more than dust.
func (p Position) Open() bool { return p.Size > DustEpsilon }

// PositionView is a position joined with the data needed to value it.
type PositionView struct {
	Position
	Question      string
	Outcome       string
	ConditionID   string
	Category      string
	Resolved      bool
	LastPrice     *float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// UncategorizedLabel groups positions whose market has no category.
const UncategorizedLabel = "Other"

// CategoryPnL aggregates positions and paper volume of one market category.
type CategoryPnL struct {
	Category      string
	RealizedPnL   float64
	UnrealizedPnL float64
	Volume        float64
}

// CostPoint is one filled paper trade in the cumulative cash-flow series.
// Buys subtract their cost from CumulativeCost and sells add it.
type CostPoint struct {
	PaperTradeID   int64
	At             time.Time
	Wallet         string
	TokenID        string
	Question       string
	Side           Side
	CostUSD        float64
	CumulativeCost float64
}
