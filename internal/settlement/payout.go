package settlement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// errNotApplicable means an extractor's field is absent from the payload.
var errNotApplicable = errors.New("field not present")

// payoutExtractor reads one candidate payout field.
type payoutExtractor struct {
	field   string
	extract func(domain.ResolutionPayload) json.RawMessage
}

// payoutExtractors are tried in order; the first valid vector wins.
var payoutExtractors = []payoutExtractor{
	{"resolver_raw_payouts", func(p domain.ResolutionPayload) json.RawMessage { return p.ResolverRawPayouts }},
	{"outcomePrices", func(p domain.ResolutionPayload) json.RawMessage { return p.OutcomePrices }},
}

// ExtractPayouts returns the payout vector of a resolution payload and the
// field it came from. Every value is in [0,1] and the vector has one entry
// per instrument. When no candidate yields a valid vector the error wraps
// domain.ErrPayoutsUnavailable.
func ExtractPayouts(p domain.ResolutionPayload) ([]float64, string, error) {
	var problems []string
	for _, ex := range payoutExtractors {
		vals, err := parsePayouts(ex.extract(p), len(p.TokenIDs))
		if err == nil {
			return vals, ex.field, nil
		}
		if !errors.Is(err, errNotApplicable) {
			problems = append(problems, ex.field+": "+err.Error())
		}
	}
	if len(problems) == 0 {
		return nil, "", fmt.Errorf("%w: no payout field", domain.ErrPayoutsUnavailable)
	}
	return nil, "", fmt.Errorf("%w: %s", domain.ErrPayoutsUnavailable, strings.Join(problems, "; "))
}

// parsePayouts accepts a JSON list, or a JSON string holding a list, of
// numbers or numeric strings.
func parsePayouts(raw json.RawMessage, want int) ([]float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errNotApplicable
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errNotApplicable
		}
		raw = []byte(s)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("not a list: %w", err)
	}
	if len(elems) == 0 {
		return nil, errNotApplicable
	}
	if len(elems) != want {
		return nil, fmt.Errorf("length %d, want %d", len(elems), want)
	}

	out := make([]float64, len(elems))
	for i, e := range elems {
		v, err := parseNumber(e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("element %d: payout %v outside [0,1]", i, v)
		}
		out[i] = v
	}
	return out, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("non-numeric value %s", raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric value %q", s)
	}
	return f, nil
}
