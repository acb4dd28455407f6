package ledger

import (
	"math"
	"math/rand"
	"testing"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

const eps = 1e-9

func TestApplyFill_BuyAccumulatesCost(t *testing.T) {
	pos := domain.Position{TokenID: "a"}
	pos = ApplyFill(pos, domain.SideBuy, 10, 0.40).Position
	pos = ApplyFill(pos, domain.SideBuy, 10, 0.60).Position
	if math.Abs(pos.Size-20) > eps || math.Abs(pos.CostBasis-10) > eps {
		t.Fatalf("got size=%v cost=%v, want 20/10", pos.Size, pos.CostBasis)
	}
}

func TestApplyFill_SellRealizesAgainstAverageEntry(t *testing.T) {
	pos := domain.Position{TokenID: "a", Size: 20, CostBasis: 10}
	res := ApplyFill(pos, domain.SideSell, 5, 0.70)
	if math.Abs(res.Realized-1) > eps {
		t.Errorf("realized = %v, want 1", res.Realized)
	}
	if math.Abs(res.Position.Size-15) > eps || math.Abs(res.Position.CostBasis-7.5) > eps {
		t.Errorf("got size=%v cost=%v", res.Position.Size, res.Position.CostBasis)
	}
	if res.Dropped != 0 {
		t.Errorf("dropped = %v", res.Dropped)
	}
}

func TestApplyFill_OversellClamps(t *testing.T) {
	pos := domain.Position{TokenID: "a", Size: 5, CostBasis: 2}
	res := ApplyFill(pos, domain.SideSell, 10, 0.6)
	if res.Closed != 5 || res.Dropped != 5 {
		t.Fatalf("closed=%v dropped=%v, want 5/5", res.Closed, res.Dropped)
	}
	if res.Position.Size != 0 || res.Position.CostBasis != 0 {
		t.Fatalf("position not flat: %+v", res.Position)
	}
	if math.Abs(res.Position.RealizedPnL-1) > eps {
		t.Errorf("realized = %v, want 5*(0.6-0.4)=1", res.Position.RealizedPnL)
	}
}

func TestApplyFill_SellWithoutInventory(t *testing.T) {
	res := ApplyFill(domain.Position{TokenID: "a"}, domain.SideSell, 3, 0.5)
	if res.Dropped != 3 || res.Position.Size != 0 || res.Position.RealizedPnL != 0 {
		t.Fatalf("got %+v", res)
	}
}

func TestApplyFill_DustSnapsToZero(t *testing.T) {
	pos := domain.Position{TokenID: "a", Size: 10.00005, CostBasis: 5.000025}
	res := ApplyFill(pos, domain.SideSell, 10, 0.5)
	if res.Position.Size != 0 || res.Position.CostBasis != 0 {
		t.Fatalf("dust left behind: %+v", res.Position)
	}
}

func TestApplyFill_SizeNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pos := domain.Position{TokenID: "a"}
	for i := 0; i < 2000; i++ {
		side := domain.SideBuy
		if rng.Intn(2) == 0 {
			side = domain.SideSell
		}
		pos = ApplyFill(pos, side, rng.Float64()*50, 0.01+rng.Float64()*0.98).Position
		if pos.Size < 0 || pos.CostBasis < -1e-9 {
			t.Fatalf("step %d: negative inventory %+v", i, pos)
		}
	}
}

func TestApplySettlement_WinningLeg(t *testing.T) {
	pos := domain.Position{TokenID: "yes", Size: 5, CostBasis: 2}
	res := ApplySettlement(pos, 1.0)
	if !res.Settled {
		t.Fatal("expected settlement")
	}
	if math.Abs(res.Position.RealizedPnL-3) > eps {
		t.Errorf("realized = %v, want 3", res.Position.RealizedPnL)
	}
	if res.Position.Size != 0 || res.Position.CostBasis != 0 {
		t.Errorf("position not flat: %+v", res.Position)
	}
}

func TestApplySettlement_LosingAndFractional(t *testing.T) {
	lose := ApplySettlement(domain.Position{Size: 4, CostBasis: 1.2, RealizedPnL: 0.5}, 0)
	if math.Abs(lose.Position.RealizedPnL-(0.5-1.2)) > eps {
		t.Errorf("losing realized = %v", lose.Position.RealizedPnL)
	}
	half := ApplySettlement(domain.Position{Size: 10, CostBasis: 4}, 0.5)
	if math.Abs(half.Realized-1) > eps {
		t.Errorf("fractional realized = %v, want 1", half.Realized)
	}
}

func TestApplySettlement_ClosedPositionIsNoop(t *testing.T) {
	pos := domain.Position{TokenID: "a", RealizedPnL: 2}
	res := ApplySettlement(pos, 1)
	if res.Settled || res.Position != pos {
		t.Fatalf("got %+v", res)
	}
}

func TestApplySettlement_EpsilonSizedPositionIsCleared(t *testing.T) {
	pos := domain.Position{TokenID: "a", Size: domain.DustEpsilon, CostBasis: domain.DustEpsilon / 2}
	res := ApplySettlement(pos, 1)
	if res.Settled {
		t.Errorf("dust settled: %+v", res)
	}
	if res.Position.Size != 0 || res.Position.CostBasis != 0 {
		t.Fatalf("dust left behind: %+v", res.Position)
	}
}

func TestUnrealized(t *testing.T) {
	pos := domain.Position{Size: 10, CostBasis: 4}
	if mark, pnl := Unrealized(pos, nil, false); mark != 0.5 || math.Abs(pnl-1) > eps {
		t.Errorf("default mark: got %v/%v", mark, pnl)
	}
	last := 0.7
	if _, pnl := Unrealized(pos, &last, false); math.Abs(pnl-3) > eps {
		t.Errorf("last price: pnl = %v", pnl)
	}
	if _, pnl := Unrealized(pos, &last, true); pnl != 0 {
		t.Errorf("resolved: pnl = %v", pnl)
	}
}
