package settlement

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

func payload(raw, prices string, tokens ...string) domain.ResolutionPayload {
	p := domain.ResolutionPayload{TokenIDs: tokens, Resolved: true}
	if raw != "" {
		p.ResolverRawPayouts = json.RawMessage(raw)
	}
	if prices != "" {
		p.OutcomePrices = json.RawMessage(prices)
	}
	return p
}

func TestExtractPayouts(t *testing.T) {
	tests := []struct {
		name      string
		p         domain.ResolutionPayload
		want      []float64
		wantField string
	}{
		{"raw payouts first", payload(`[1, 0]`, `["0.4","0.6"]`, "y", "n"), []float64{1, 0}, "resolver_raw_payouts"},
		{"string encoded list", payload(`"[\"0\", \"1\"]"`, "", "y", "n"), []float64{0, 1}, "resolver_raw_payouts"},
		{"fallback to prices", payload(``, `"[\"1\",\"0\"]"`, "y", "n"), []float64{1, 0}, "outcomePrices"},
		{"length mismatch falls through", payload(`[1]`, `[0.5, 0.5]`, "y", "n"), []float64{0.5, 0.5}, "outcomePrices"},
		{"null raw payouts", payload(`null`, `[0, 1]`, "y", "n"), []float64{0, 1}, "outcomePrices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, field, err := ExtractPayouts(tt.p)
			if err != nil {
				t.Fatalf("ExtractPayouts: %v", err)
			}
			if field != tt.wantField {
				t.Errorf("field = %s, want %s", field, tt.wantField)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("payout[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractPayoutsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		p    domain.ResolutionPayload
	}{
		{"missing", payload("", "", "y", "n")},
		{"empty list", payload(`[]`, "", "y", "n")},
		{"length mismatch", payload(`[1, 0, 0]`, `[1]`, "y", "n")},
		{"non-numeric", payload(`["yes", "no"]`, "", "y", "n")},
		{"out of range", payload(`[2, -1]`, "", "y", "n")},
		{"not a list", payload(`{"a": 1}`, "", "y", "n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ExtractPayouts(tt.p)
			if !errors.Is(err, domain.ErrPayoutsUnavailable) {
				t.Fatalf("err = %v, want ErrPayoutsUnavailable", err)
			}
		})
	}
}

func TestPolicyErrorDelay(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{15 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour, 4 * time.Hour, 4 * time.Hour, 4 * time.Hour}
	for i, w := range want {
		if got := p.ErrorDelay(i + 1); got != w {
			t.Errorf("ErrorDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := p.ErrorDelay(0); got != 15*time.Minute {
		t.Errorf("ErrorDelay(0) = %v", got)
	}
}

func TestGlobalBackoff(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var g GlobalBackoff
	if g.Cooling(now) {
		t.Fatal("zero state is cooling")
	}
	g = g.RateLimited(p, now)
	if g.Failures != 1 || !g.NextRequestAt.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("after first 429: %+v", g)
	}
	g = g.RateLimited(p, now.Add(15*time.Minute))
	if g.Failures != 2 || !g.NextRequestAt.Equal(now.Add(45*time.Minute)) {
		t.Fatalf("after second 429: %+v", g)
	}
	if !g.Cooling(now.Add(30 * time.Minute)) {
		t.Error("not cooling before NextRequestAt")
	}
	g = g.Succeeded()
	if g.Failures != 0 {
		t.Errorf("failures after success = %d", g.Failures)
	}
}
