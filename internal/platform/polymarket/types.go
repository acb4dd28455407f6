package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether a flag is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings accepts a JSON list or a JSON-encoded list inside a string
// (Gamma sends clobTokenIds and outcomes as "[\"a\",\"b\"]"). Numeric
// elements are kept in their decimal text form.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			*f = nil
			return nil
		}
		data = []byte(s)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var elem string
		if err := json.Unmarshal(r, &elem); err == nil {
			out = append(out, elem)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return err
		}
		out = append(out, n.String())
	}
	*f = out
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID                 string          `json:"id"`
	Question           string          `json:"question"`
	ConditionID        string          `json:"conditionId"`
	Slug               string          `json:"slug"`
	Category           string          `json:"category"`
	GroupItemTitle     string          `json:"groupItemTitle"`
	Active             flexBool        `json:"active"`
	Closed             flexBool        `json:"closed"`
	Resolved           flexBool        `json:"resolved"`
	Outcomes           flexStrings     `json:"outcomes"`
	ClobTokenIDs       flexStrings     `json:"clobTokenIds"`
	OutcomePrices      json.RawMessage `json:"outcomePrices"`
	ResolverRawPayouts json.RawMessage `json:"resolver_raw_payouts"`
	Events             []APIEvent      `json:"events"`
}

// APIEvent is the parent event embedded in a Gamma market response.
type APIEvent struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Category string `json:"category"`
}

// tokenIndex returns the outcome index of tokenID, or -1.
func (m *APIMarket) tokenIndex(tokenID string) int {
	for i, id := range m.ClobTokenIDs {
		if id == tokenID {
			return i
		}
	}
	return -1
}

// category prefers the broad top-level label; groupItemTitle is often a
// strike bucket and only used as a fallback.
func (m *APIMarket) category() string {
	if c := strings.TrimSpace(m.Category); c != "" {
		return c
	}
	for _, e := range m.Events {
		if c := strings.TrimSpace(e.Category); c != "" {
			return c
		}
	}
	return strings.TrimSpace(m.GroupItemTitle)
}

// ToDomainInstrument converts the market to the instrument for tokenID. The
// second return is false when tokenID is not one of the market's tokens.
func (m *APIMarket) ToDomainInstrument(tokenID string) (domain.Instrument, bool) {
	idx := m.tokenIndex(tokenID)
	if idx < 0 {
		return domain.Instrument{}, false
	}
	inst := domain.Instrument{
		TokenID:      tokenID,
		ConditionID:  m.ConditionID,
		Question:     m.Question,
		Slug:         m.Slug,
		Category:     m.category(),
		OutcomeIndex: idx,
	}
	if idx < len(m.Outcomes) {
		inst.Outcome = m.Outcomes[idx]
	}
	return inst, true
}

// ToDomainResolution converts the market to a resolution payload.
func (m *APIMarket) ToDomainResolution(receivedAt time.Time) domain.ResolutionPayload {
	return domain.ResolutionPayload{
		ConditionID:        m.ConditionID,
		TokenIDs:           append([]string(nil), m.ClobTokenIDs...),
		Resolved:           bool(m.Resolved),
		Closed:             bool(m.Closed),
		ResolverRawPayouts: m.ResolverRawPayouts,
		OutcomePrices:      m.OutcomePrices,
		ReceivedAt:         receivedAt,
	}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// BookMessage is an orderbook as returned by GET /book and by the market
// WebSocket channel.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookToDomainSnapshot converts a BookMessage to a domain.OrderbookSnapshot.
// Levels that do not parse are dropped.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		AssetID: b.AssetID,
		Bids:    []domain.PriceLevel{},
		Asks:    []domain.PriceLevel{},
	}

	for _, lvl := range b.Bids {
		p, s, ok := parseLevel(lvl)
		if !ok {
			continue
		}
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if s > 0 && p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, s, ok := parseLevel(lvl)
		if !ok {
			continue
		}
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if s > 0 && p > 0 && (snap.BestAsk == 0 || p < snap.BestAsk) {
			snap.BestAsk = p
		}
	}

	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	snap.Timestamp = parseTimestamp(b.Timestamp)
	return snap
}

func parseLevel(lvl WSPriceLevel) (price, size float64, ok bool) {
	p, err := strconv.ParseFloat(lvl.Price, 64)
	if err != nil || p < 0 {
		return 0, 0, false
	}
	s, err := strconv.ParseFloat(lvl.Size, 64)
	if err != nil || s < 0 {
		return 0, 0, false
	}
	return p, s, true
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func parseTimestamp(v string) time.Time {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts).UTC()
		}
		return time.Unix(ts, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Now().UTC()
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APILeaderboardEntry is one row of the data API leaderboard.
type APILeaderboardEntry struct {
	ProxyWallet string  `json:"proxyWallet"`
	Address     string  `json:"address"`
	Wallet      string  `json:"wallet"`
	UserName    string  `json:"userName"`
	PnL         float64 `json:"pnl"`
	Vol         float64 `json:"vol"`
}

// address returns the first non-empty wallet field.
func (e *APILeaderboardEntry) address() string {
	for _, a := range []string{e.ProxyWallet, e.Address, e.Wallet} {
		if a != "" {
			return strings.ToLower(a)
		}
	}
	return ""
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type                 string   `json:"type"` // "subscribe" or "unsubscribe"
	Channels             []string `json:"channels,omitempty"`
	Assets               []string `json:"assets_ids,omitempty"`
	CustomFeatureEnabled bool     `json:"custom_feature_enabled,omitempty"`
}

// EventMarketResolved is the event type of a resolution push.
const EventMarketResolved = "market_resolved"

// WSResolutionEvent is a market_resolved push. Field names vary between
// snake and camel case, so both are accepted; the payload may also be nested
// under "data".
type WSResolutionEvent struct {
	EventType          string          `json:"event_type"`
	Type               string          `json:"type"`
	Data               json.RawMessage `json:"data"`
	ConditionID        string          `json:"condition_id"`
	ConditionIDCamel   string          `json:"conditionId"`
	Market             string          `json:"market"`
	ClobTokenIDs       flexStrings     `json:"clob_token_ids"`
	ClobTokenIDsCamel  flexStrings     `json:"clobTokenIds"`
	AssetsIDs          flexStrings     `json:"assets_ids"`
	Resolved           *flexBool       `json:"resolved"`
	Closed             *flexBool       `json:"closed"`
	ResolverRawPayouts json.RawMessage `json:"resolver_raw_payouts"`
	OutcomePrices      json.RawMessage `json:"outcomePrices"`
}

func (e *WSResolutionEvent) kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

// ToDomainResolution converts the push into a resolution payload. A
// market_resolved event counts as resolved unless it says otherwise.
func (e *WSResolutionEvent) ToDomainResolution(receivedAt time.Time) domain.ResolutionPayload {
	p := domain.ResolutionPayload{
		ConditionID:        firstNonEmpty(e.ConditionID, e.ConditionIDCamel, e.Market),
		Resolved:           true,
		ResolverRawPayouts: e.ResolverRawPayouts,
		OutcomePrices:      e.OutcomePrices,
		ReceivedAt:         receivedAt,
	}
	switch {
	case len(e.ClobTokenIDs) > 0:
		p.TokenIDs = []string(e.ClobTokenIDs)
	case len(e.ClobTokenIDsCamel) > 0:
		p.TokenIDs = []string(e.ClobTokenIDsCamel)
	default:
		p.TokenIDs = []string(e.AssetsIDs)
	}
	if e.Resolved != nil {
		p.Resolved = bool(*e.Resolved)
	}
	if e.Closed != nil {
		p.Closed = bool(*e.Closed)
	}
	return p
}

// ParseResolutionMessage decodes one WebSocket frame, which may hold a
// single event or a list of events, and returns the market_resolved
// payloads in it. Other event types are ignored.
func ParseResolutionMessage(raw []byte, receivedAt time.Time) ([]domain.ResolutionPayload, error) {
	raw = bytes.TrimSpace(raw)
	var frames []json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &frames); err != nil {
			return nil, err
		}
	} else {
		frames = []json.RawMessage{raw}
	}

	var out []domain.ResolutionPayload
	for _, f := range frames {
		if len(f) == 0 || f[0] != '{' {
			continue
		}
		var ev WSResolutionEvent
		if err := json.Unmarshal(f, &ev); err != nil {
			return out, err
		}
		if ev.kind() != EventMarketResolved {
			continue
		}
		if len(ev.Data) > 0 && ev.Data[0] == '{' {
			var inner WSResolutionEvent
			if err := json.Unmarshal(ev.Data, &inner); err != nil {
				return out, err
			}
			ev = inner
		}
		out = append(out, ev.ToDomainResolution(receivedAt))
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
