// Package fillsim walks an orderbook snapshot to estimate what a taker order
// of a fixed dollar notional would have cost.
package fillsim

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// Fill is the outcome of one simulation. A no-fill has zero Shares and a
// non-empty NoFillReason.
type Fill struct {
	Side         domain.Side
	Notional     float64
	Shares       float64
	AvgPrice     float64
	Cost         float64
	BestPrice    float64
	WorstPrice   float64
	Levels       int
	Available    float64
	NoFillReason string
}

// Filled reports whether shares were obtained.
func (f Fill) Filled() bool { return f.Shares > 0 }

// Slippage is the execution shortfall versus the observed target price.
// Positive always means the paper fill was worse than the target.
func Slippage(side domain.Side, avgPrice, targetPrice float64) float64 {
	if side == domain.SideSell {
		return targetPrice - avgPrice
	}
	return avgPrice - targetPrice
}

// Simulate fills notional USD on the side of the book opposite to side:
// asks for BUY, bids for SELL, best price first. The level that crosses the
// target contributes only the fractional remainder, so a full fill costs
// exactly notional. If the book cannot absorb the notional the result is a
// no-fill; partial fills are never reported.
func Simulate(side domain.Side, notional float64, book domain.OrderbookSnapshot) (Fill, error) {
	if notional <= 0 {
		return Fill{}, fmt.Errorf("fillsim: %w: notional %v", domain.ErrInvalidInput, notional)
	}

	var levels []domain.PriceLevel
	var sideName string
	switch side {
	case domain.SideBuy:
		levels, sideName = sortedLevels(book.Asks, true), "ask"
	case domain.SideSell:
		levels, sideName = sortedLevels(book.Bids, false), "bid"
	default:
		return Fill{}, fmt.Errorf("fillsim: %w: side %q", domain.ErrInvalidInput, side)
	}

	desired := decimal.NewFromFloat(notional)
	available := decimal.Zero
	for _, l := range levels {
		available = available.Add(decimal.NewFromFloat(l.Price).Mul(decimal.NewFromFloat(l.Size)))
	}

	res := Fill{
		Side:      side,
		Notional:  notional,
		Available: available.InexactFloat64(),
	}
	if available.LessThan(desired) {
		res.NoFillReason = fmt.Sprintf("insufficient liquidity: needed $%.2f, %s side had $%.2f",
			notional, sideName, res.Available)
		return res, nil
	}

	cost, shares := decimal.Zero, decimal.Zero
	for _, l := range levels {
		p := decimal.NewFromFloat(l.Price)
		s := decimal.NewFromFloat(l.Size)
		levelNotional := p.Mul(s)

		if res.Levels == 0 {
			res.BestPrice = l.Price
		}
		res.Levels++
		res.WorstPrice = l.Price

		if cost.Add(levelNotional).GreaterThanOrEqual(desired) {
			shares = shares.Add(desired.Sub(cost).Div(p))
			cost = desired
			break
		}
		shares = shares.Add(s)
		cost = cost.Add(levelNotional)
	}

	res.Shares = shares.InexactFloat64()
	res.Cost = cost.InexactFloat64()
	res.AvgPrice = cost.Div(shares).InexactFloat64()
	return res, nil
}

// sortedLevels drops empty or non-positive levels and orders the rest best
// price first.
func sortedLevels(in []domain.PriceLevel, ascending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		if l.Price > 0 && l.Size > 0 {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	return out
}
