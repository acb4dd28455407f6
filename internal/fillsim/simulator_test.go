package fillsim

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

const eps = 1e-9

func book(bids, asks []domain.PriceLevel) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{AssetID: "tok", Bids: bids, Asks: asks}
}

func TestSimulate_BuyTakesRemainderOnCrossingLevel(t *testing.T) {
	asks := []domain.PriceLevel{{Price: 0.62, Size: 200}, {Price: 0.60, Size: 50}}
	f, err := Simulate(domain.SideBuy, 100, book(nil, asks))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !f.Filled() {
		t.Fatalf("expected fill, got no-fill %q", f.NoFillReason)
	}
	wantShares := 50 + 70/0.62
	if math.Abs(f.Shares-wantShares) > 1e-6 {
		t.Errorf("shares = %v, want %v", f.Shares, wantShares)
	}
	if math.Abs(f.Cost-100) > eps {
		t.Errorf("cost = %v, want 100", f.Cost)
	}
	if math.Abs(f.AvgPrice-0.6139) > 1e-4 {
		t.Errorf("avg price = %v, want ~0.6139", f.AvgPrice)
	}
	if f.BestPrice != 0.60 || f.WorstPrice != 0.62 || f.Levels != 2 {
		t.Errorf("best/worst/levels = %v/%v/%d", f.BestPrice, f.WorstPrice, f.Levels)
	}
}

func TestSimulate_ThinBookIsNoFill(t *testing.T) {
	// $30 + $62 of asks cannot absorb $100.
	asks := []domain.PriceLevel{{Price: 0.60, Size: 50}, {Price: 0.62, Size: 100}}
	f, err := Simulate(domain.SideBuy, 100, book(nil, asks))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if f.Filled() || f.Shares != 0 {
		t.Fatalf("expected no-fill, got %v shares", f.Shares)
	}
	if math.Abs(f.Available-92) > eps {
		t.Errorf("available = %v, want 92", f.Available)
	}
	if !strings.Contains(f.NoFillReason, "$100.00") || !strings.Contains(f.NoFillReason, "$92.00") {
		t.Errorf("reason %q should name needed and available liquidity", f.NoFillReason)
	}
}

func TestSimulate_EmptySide(t *testing.T) {
	bids := []domain.PriceLevel{{Price: 0.5, Size: 1000}}
	f, err := Simulate(domain.SideBuy, 10, book(bids, nil))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if f.Filled() || f.Available != 0 {
		t.Fatalf("expected no-fill with zero liquidity, got %+v", f)
	}
	if !strings.Contains(f.NoFillReason, "ask side had $0.00") {
		t.Errorf("reason = %q", f.NoFillReason)
	}
}

func TestSimulate_SellWalksBidsDescending(t *testing.T) {
	bids := []domain.PriceLevel{
		{Price: 0.40, Size: 100},
		{Price: 0.45, Size: 0}, // skipped
		{Price: 0.50, Size: 20},
	}
	f, err := Simulate(domain.SideSell, 20, book(bids, nil))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	// $10 at 0.50, then $10 / 0.40 = 25 shares.
	if math.Abs(f.Shares-45) > 1e-9 {
		t.Errorf("shares = %v, want 45", f.Shares)
	}
	if f.BestPrice != 0.50 || f.WorstPrice != 0.40 {
		t.Errorf("best/worst = %v/%v", f.BestPrice, f.WorstPrice)
	}
}

func TestSimulate_ExactLiquidityFills(t *testing.T) {
	asks := []domain.PriceLevel{{Price: 0.5, Size: 10}}
	f, err := Simulate(domain.SideBuy, 5, book(nil, asks))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !f.Filled() || math.Abs(f.Shares-10) > eps || math.Abs(f.AvgPrice-0.5) > eps {
		t.Fatalf("got %+v", f)
	}
}

func TestSimulate_AvgPriceWithinConsumedRange(t *testing.T) {
	asks := []domain.PriceLevel{
		{Price: 0.91, Size: 3}, {Price: 0.12, Size: 7}, {Price: 0.33, Size: 40},
		{Price: 0.57, Size: 11}, {Price: 0.12, Size: 2}, {Price: 0.99, Size: 500},
	}
	for _, notional := range []float64{0.5, 1, 1.08, 5, 13.2, 20, 100, 400} {
		f, err := Simulate(domain.SideBuy, notional, book(nil, asks))
		if err != nil {
			t.Fatalf("Simulate(%v): %v", notional, err)
		}
		if !f.Filled() {
			t.Fatalf("Simulate(%v): unexpected no-fill", notional)
		}
		if math.Abs(f.Cost-notional) > 1e-9 {
			t.Errorf("Simulate(%v): cost = %v", notional, f.Cost)
		}
		if f.AvgPrice < f.BestPrice-eps || f.AvgPrice > f.WorstPrice+eps {
			t.Errorf("Simulate(%v): avg %v outside [%v, %v]", notional, f.AvgPrice, f.BestPrice, f.WorstPrice)
		}
	}
}

func TestSimulate_RejectsBadInput(t *testing.T) {
	if _, err := Simulate(domain.SideBuy, 0, book(nil, nil)); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero notional: err = %v", err)
	}
	if _, err := Simulate(domain.Side("HOLD"), 10, book(nil, nil)); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("bad side: err = %v", err)
	}
}

func TestSlippage(t *testing.T) {
	if got := Slippage(domain.SideBuy, 0.62, 0.60); math.Abs(got-0.02) > eps {
		t.Errorf("buy slippage = %v", got)
	}
	if got := Slippage(domain.SideSell, 0.58, 0.60); math.Abs(got-0.02) > eps {
		t.Errorf("sell slippage = %v", got)
	}
}
