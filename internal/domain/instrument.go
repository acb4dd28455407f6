package domain

import (
	"strings"
	"time"
)

// PlaceholderQuestion marks an instrument whose metadata could not be fetched
// at ingestion time.
const PlaceholderQuestion = "Unknown / Pending Metadata"

// Instrument is one outcome token of a market.
type Instrument struct {
	TokenID        string
	ConditionID    string
	Question       string
	Slug           string
	Category       string
	Outcome        string
	OutcomeIndex   int
	Resolved       bool
	WinningOutcome *int
	PayoutValue    *float64
	ResolvedAt     *time.Time
	Check          CheckState
	FirstSeenAt    time.Time
}

// MarketKey is the settlement dedupe key: the condition id, or the token id
// when the condition id is unknown.
func (i Instrument) MarketKey() string {
	if i.ConditionID != "" {
		return i.ConditionID
	}
	return i.TokenID
}

// CheckState is the resolution-check schedule of a market, mirrored on every
// instrument row of that market.
type CheckState struct {
	LastCheckedAt       *time.Time
	NextCheckAt         *time.Time
	ConsecutiveFailures int
}

// Due reports whether a check may run at now.
func (c CheckState) Due(now time.Time) bool {
	return c.NextCheckAt == nil || !c.NextCheckAt.After(now)
}

// DueCheck is an instrument with an open position whose market is due for a
// resolution check.
type DueCheck struct {
	TokenID     string
	ConditionID string
	Check       CheckState
}

// MarketKey mirrors Instrument.MarketKey.
func (d DueCheck) MarketKey() string {
	if d.ConditionID != "" {
		return d.ConditionID
	}
	return d.TokenID
}

// MarketStatus is the settlement view of one market for the dashboard.
type MarketStatus struct {
	ConditionID   string
	Question      string
	Category      string
	Instruments   []Instrument
	Resolved      bool
	OpenSize      float64
	RealizedPnL   float64
	LastCheckedAt *time.Time
	NextCheckAt   *time.Time
	Failures      int
}

// NeedsMetadata reports whether the metadata backfill should refetch the
// instrument: placeholder question, or a category that looks like a price or
// a list instead of a label.
func (i Instrument) NeedsMetadata() bool {
	if i.Question == "" || i.Question == PlaceholderQuestion {
		return true
	}
	if i.Category == "" {
		return false
	}
	return strings.ContainsAny(i.Category, "0123456789$,")
}
