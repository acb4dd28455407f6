// Package ledger holds the pure position state transitions: weighted-average
// cost on buys, realized PnL on sells and terminal settlement on resolution.
// Callers own deduplication and persistence.
package ledger

import (
	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// DefaultMarkPrice values an open position that has no observed price yet.
const DefaultMarkPrice = 0.5

// FillResult is the position after a fill plus any shares that could not be
// applied because the sell exceeded the held size.
type FillResult struct {
	Position domain.Position
	Closed   float64
	Dropped  float64
	Realized float64
}

// ApplyFill applies a simulated fill to pos. A sell larger than the position
// is clamped to the held size and the excess reported in Dropped.
func ApplyFill(pos domain.Position, side domain.Side, shares, avgPrice float64) FillResult {
	res := FillResult{Position: pos}
	if shares <= 0 {
		return res
	}

	switch side {
	case domain.SideBuy:
		res.Position.CostBasis += shares * avgPrice
		res.Position.Size += shares
	case domain.SideSell:
		if pos.Size <= 0 {
			res.Dropped = shares
			return res
		}
		avgEntry := pos.CostBasis / pos.Size
		closing := shares
		if closing > pos.Size {
			closing = pos.Size
			res.Dropped = shares - pos.Size
		}
		res.Closed = closing
		res.Realized = closing * (avgPrice - avgEntry)
		res.Position.RealizedPnL += res.Realized
		res.Position.Size -= closing
		res.Position.CostBasis -= closing * avgEntry
		snapDust(&res.Position)
	}
	return res
}

// SettlementResult describes the terminal transition of one position.
type SettlementResult struct {
	Position domain.Position
	Settled  bool
	Closed   float64
	Realized float64
}

// ApplySettlement pays out an open position at payout per share and zeroes
// it. Positions at or below dust are only snapped to zero.
func ApplySettlement(pos domain.Position, payout float64) SettlementResult {
	res := SettlementResult{Position: pos}
	if !pos.Open() {
		snapDust(&res.Position)
		return res
	}
	res.Settled = true
	res.Closed = pos.Size
	res.Realized = payout*pos.Size - pos.CostBasis
	res.Position.RealizedPnL += res.Realized
	res.Position.Size = 0
	res.Position.CostBasis = 0
	return res
}

// Unrealized projects the mark-to-market PnL of an unresolved position.
// lastPrice nil falls back to DefaultMarkPrice.
func Unrealized(pos domain.Position, lastPrice *float64, resolved bool) (mark, pnl float64) {
	mark = DefaultMarkPrice
	if lastPrice != nil {
		mark = *lastPrice
	}
	if resolved || !pos.Open() {
		return mark, 0
	}
	return mark, mark*pos.Size - pos.CostBasis
}

func snapDust(p *domain.Position) {
	if p.Size <= domain.DustEpsilon {
		p.Size = 0
		p.CostBasis = 0
	}
}
