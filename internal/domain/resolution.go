package domain

import (
	"encoding/json"
	"time"
)

// ResolutionPayload is the market state reported by the resolution source,
// either polled or pushed. Payout fields are kept raw; the settlement
// package decides which one is usable.
type ResolutionPayload struct {
	ConditionID        string
	TokenIDs           []string
	Resolved           bool
	Closed             bool
	ResolverRawPayouts json.RawMessage
	OutcomePrices      json.RawMessage
	ReceivedAt         time.Time
}

// Settled reports whether the payload carries a resolution signal.
func (p ResolutionPayload) Settled() bool { return p.Resolved || p.Closed }

// Contains reports whether tokenID is one of the payload's instruments.
func (p ResolutionPayload) Contains(tokenID string) bool {
	return p.Index(tokenID) >= 0
}

// Index returns the outcome index of tokenID, or -1.
func (p ResolutionPayload) Index(tokenID string) int {
	for i, id := range p.TokenIDs {
		if id == tokenID {
			return i
		}
	}
	return -1
}

// SettledInstrument describes one instrument settled by a resolution.
type SettledInstrument struct {
	TokenID      string  `json:"token_id"`
	OutcomeIndex int     `json:"outcome_index"`
	Payout       float64 `json:"payout"`
	ClosedSize   float64 `json:"closed_size"`
	RealizedGain float64 `json:"realized_gain"`
}
