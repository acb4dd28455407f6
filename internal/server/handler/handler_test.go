package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/service"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeReader struct {
	trades   []domain.TargetTrade
	papers   []domain.PaperTrade
	snaps    map[int64]domain.BookSnapshot
	views    []domain.PositionView
	markets  []domain.MarketStatus
	wallets  []domain.Wallet
	latency  domain.LatencyStats
	cats     []domain.CategoryPnL
	points   []domain.CostPoint
	lastOpts domain.ListOpts
	err      error
}

func (f *fakeReader) ListTargetTrades(_ context.Context, opts domain.ListOpts) ([]domain.TargetTrade, error) {
	f.lastOpts = opts
	return f.trades, f.err
}

func (f *fakeReader) ListPaperTrades(_ context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	f.lastOpts = opts
	return f.papers, f.err
}

func (f *fakeReader) GetBookSnapshotByTrade(_ context.Context, id int64) (domain.BookSnapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return domain.BookSnapshot{}, fmt.Errorf("store: snapshot %d: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (f *fakeReader) Positions(_ context.Context, opts domain.ListOpts) ([]domain.PositionView, error) {
	f.lastOpts = opts
	return f.views, f.err
}

func (f *fakeReader) ListMarketStatus(_ context.Context, opts domain.ListOpts) ([]domain.MarketStatus, error) {
	return f.markets, f.err
}

func (f *fakeReader) LatencyStats(context.Context) (domain.LatencyStats, error) { return f.latency, f.err }

func (f *fakeReader) ListWallets(_ context.Context, enabledOnly bool) ([]domain.Wallet, error) {
	if !enabledOnly {
		return f.wallets, f.err
	}
	var out []domain.Wallet
	for _, w := range f.wallets {
		if w.TrackingEnabled {
			out = append(out, w)
		}
	}
	return out, f.err
}

func (f *fakeReader) Summary(context.Context) (service.Summary, error) {
	return service.Summary{
		TradeStats:    domain.TradeStats{TargetTrades: 4, PaperTrades: 4, Filled: 3, NoFills: 1, RealizedPnL: 2},
		UnrealizedPnL: 1.5,
		TotalPnL:      3.5,
		FillRate:      0.75,
	}, f.err
}

func (f *fakeReader) PnLByCategory(context.Context) ([]domain.CategoryPnL, error) {
	return f.cats, f.err
}

func (f *fakeReader) PnLTimeline(_ context.Context, opts domain.ListOpts) ([]domain.CostPoint, error) {
	f.lastOpts = opts
	return f.points, f.err
}

type memBooks map[string]domain.OrderbookSnapshot

func (m memBooks) SetSnapshot(_ context.Context, id string, b domain.OrderbookSnapshot) error {
	m[id] = b
	return nil
}

func (m memBooks) GetSnapshot(_ context.Context, id string) (domain.OrderbookSnapshot, error) {
	b, ok := m[id]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return b, nil
}

func serve(t *testing.T, h http.HandlerFunc, pattern, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=9000&offset=20&wallet=0xABC&since=2025-01-02T03:04:05Z", nil)
	opts, err := parseListOpts(r)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Limit != maxLimit || opts.Offset != 20 || opts.Wallet != "0xabc" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Since == nil || !opts.Since.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) || opts.Until != nil {
		t.Errorf("window = %v / %v", opts.Since, opts.Until)
	}

	opts, err = parseListOpts(httptest.NewRequest(http.MethodGet, "/x", nil))
	if err != nil || opts.Limit != defaultLimit || opts.Offset != 0 {
		t.Errorf("defaults = %+v, %v", opts, err)
	}

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "since=yesterday"} {
		if _, err := parseListOpts(httptest.NewRequest(http.MethodGet, "/x?"+q, nil)); err == nil {
			t.Errorf("%s: expected error", q)
		}
	}
}

func TestListTargetTrades(t *testing.T) {
	f := &fakeReader{trades: []domain.TargetTrade{{ID: 7, Wallet: "0xaa", TokenID: "111", Side: domain.SideBuy, Size: 10, Price: 0.6, CostUSD: 6}}}
	h := NewTradeHandler(f, discard())

	rec := serve(t, h.ListTargetTrades, "GET /api/target-trades", "/api/target-trades?token=111&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[listResponse[targetTradeDTO]](t, rec)
	if body.Count != 1 || body.Limit != 5 || body.Items[0].ID != 7 || body.Items[0].Side != "BUY" {
		t.Errorf("body = %+v", body)
	}
	if f.lastOpts.TokenID != "111" {
		t.Errorf("token filter not passed: %+v", f.lastOpts)
	}

	rec = serve(t, h.ListTargetTrades, "GET /api/target-trades", "/api/target-trades?limit=x")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestListPaperTradesEmptyIsArray(t *testing.T) {
	h := NewTradeHandler(&fakeReader{}, discard())
	rec := serve(t, h.ListPaperTrades, "GET /api/paper-trades", "/api/paper-trades")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["items"]) != "[]" {
		t.Errorf("items = %s", raw["items"])
	}
}

func TestGetSnapshot(t *testing.T) {
	ask := 0.6
	f := &fakeReader{snaps: map[int64]domain.BookSnapshot{
		3: {ID: 9, TargetTradeID: 3, TokenID: "111", Asks: []domain.PriceLevel{{Price: 0.6, Size: 50}}, BestAsk: &ask, FetchLatency: 120 * time.Millisecond},
	}}
	h := NewTradeHandler(f, discard())

	rec := serve(t, h.GetSnapshot, "GET /api/snapshots/{id}", "/api/snapshots/3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snap := decode[snapshotDTO](t, rec)
	if snap.ID != 9 || snap.FetchLatencyMs != 120 || snap.BestBid != nil || len(snap.Bids) != 0 || *snap.BestAsk != 0.6 {
		t.Errorf("snapshot = %+v", snap)
	}

	if rec := serve(t, h.GetSnapshot, "GET /api/snapshots/{id}", "/api/snapshots/4"); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}
	if rec := serve(t, h.GetSnapshot, "GET /api/snapshots/{id}", "/api/snapshots/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
}

func TestListPositionsOpenFilter(t *testing.T) {
	f := &fakeReader{views: []domain.PositionView{
		{Position: domain.Position{TokenID: "a", Size: 10, CostBasis: 6}, MarkPrice: 0.7, UnrealizedPnL: 1},
		{Position: domain.Position{TokenID: "b", RealizedPnL: -2}},
	}}
	h := NewPositionHandler(f, discard())

	body := decode[listResponse[positionDTO]](t, serve(t, h.ListPositions, "GET /api/positions", "/api/positions"))
	if body.Count != 2 {
		t.Fatalf("count = %d", body.Count)
	}
	if body.Items[0].AvgCost != 0.6 || body.Items[0].UnrealizedPnL != 1 {
		t.Errorf("position = %+v", body.Items[0])
	}

	body = decode[listResponse[positionDTO]](t, serve(t, h.ListPositions, "GET /api/positions", "/api/positions?open=true"))
	if body.Count != 1 || body.Items[0].TokenID != "a" {
		t.Errorf("open = %+v", body.Items)
	}
}

func TestListMarkets(t *testing.T) {
	payout := 1.0
	next := time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC)
	f := &fakeReader{markets: []domain.MarketStatus{{
		ConditionID: "0xc1",
		Question:    "Will it rain?",
		Resolved:    true,
		NextCheckAt: &next,
		Failures:    2,
		Instruments: []domain.Instrument{
			{TokenID: "y", OutcomeIndex: 0, Resolved: true, PayoutValue: &payout},
			{TokenID: "n", OutcomeIndex: 1},
		},
	}}}
	h := NewMarketHandler(f, discard())
	body := decode[listResponse[marketDTO]](t, serve(t, h.ListMarkets, "GET /api/markets", "/api/markets"))
	if body.Count != 1 {
		t.Fatalf("count = %d", body.Count)
	}
	m := body.Items[0]
	if !m.Resolved || m.Failures != 2 || !m.NextCheckAt.Equal(next) || len(m.Instruments) != 2 {
		t.Errorf("market = %+v", m)
	}
	if *m.Instruments[0].Payout != 1 || m.Instruments[1].Payout != nil {
		t.Errorf("payouts = %+v", m.Instruments)
	}
}

func TestSummaryAndLatency(t *testing.T) {
	f := &fakeReader{latency: domain.LatencyStats{Samples: 2, AvgTotal: 1500 * time.Millisecond, MaxTotal: 2 * time.Second}}
	h := NewSummaryHandler(f, f, discard())

	s := decode[summaryDTO](t, serve(t, h.Summary, "GET /api/summary", "/api/summary"))
	if s.TargetTrades != 4 || s.FillRate != 0.75 || s.TotalPnL != 3.5 {
		t.Errorf("summary = %+v", s)
	}

	l := decode[latencyDTO](t, serve(t, h.Latency, "GET /api/latency", "/api/latency"))
	if l.Samples != 2 || l.AvgTotalMs != 1500 || l.MaxTotalMs != 2000 {
		t.Errorf("latency = %+v", l)
	}

	f.err = errors.New("disk on fire")
	if rec := serve(t, h.Summary, "GET /api/summary", "/api/summary"); rec.Code != http.StatusInternalServerError {
		t.Errorf("error status = %d", rec.Code)
	}
}

func TestListWallets(t *testing.T) {
	f := &fakeReader{wallets: []domain.Wallet{
		{Address: "0xaa", Source: "config", TrackingEnabled: true},
		{Address: "0xbb", Source: "leaderboard"},
	}}
	h := NewSummaryHandler(f, f, discard())

	body := decode[listResponse[walletDTO]](t, serve(t, h.ListWallets, "GET /api/wallets", "/api/wallets"))
	if body.Count != 1 || body.Items[0].Address != "0xaa" {
		t.Errorf("enabled = %+v", body.Items)
	}
	body = decode[listResponse[walletDTO]](t, serve(t, h.ListWallets, "GET /api/wallets", "/api/wallets?all=true"))
	if body.Count != 2 {
		t.Errorf("all = %+v", body.Items)
	}
}

func TestPnLByCategory(t *testing.T) {
	f := &fakeReader{cats: []domain.CategoryPnL{
		{Category: "Other", RealizedPnL: -1, Volume: 4},
		{Category: "sports", RealizedPnL: 2, UnrealizedPnL: 0.5, Volume: 12},
	}}
	h := NewPnLHandler(f, discard())

	body := decode[listResponse[categoryPnLDTO]](t, serve(t, h.ByCategory, "GET /api/pnl/categories", "/api/pnl/categories"))
	if body.Count != 2 || body.Items[1].Category != "sports" || body.Items[1].UnrealizedPnL != 0.5 || body.Items[1].Volume != 12 {
		t.Errorf("categories = %+v", body.Items)
	}

	f.err = errors.New("disk on fire")
	if rec := serve(t, h.ByCategory, "GET /api/pnl/categories", "/api/pnl/categories"); rec.Code != http.StatusInternalServerError {
		t.Errorf("error status = %d", rec.Code)
	}
}

func TestPnLTimeline(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeReader{points: []domain.CostPoint{
		{PaperTradeID: 1, At: at, Wallet: "0xaa", Side: domain.SideBuy, CostUSD: 10, CumulativeCost: -10},
		{PaperTradeID: 2, At: at.Add(time.Hour), Wallet: "0xaa", Side: domain.SideSell, CostUSD: 4, CumulativeCost: -6},
	}}
	h := NewPnLHandler(f, discard())

	body := decode[listResponse[costPointDTO]](t, serve(t, h.Timeline, "GET /api/pnl/timeline", "/api/pnl/timeline?wallet=0xAA"))
	if body.Count != 2 || body.Items[1].CumulativeCost != -6 || body.Items[1].Side != "SELL" {
		t.Errorf("timeline = %+v", body.Items)
	}
	if f.lastOpts.Wallet != "0xaa" {
		t.Errorf("wallet filter = %q", f.lastOpts.Wallet)
	}

	if rec := serve(t, h.Timeline, "GET /api/pnl/timeline", "/api/pnl/timeline?until=soon"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad until = %d", rec.Code)
	}
}

func TestGetOrderbook(t *testing.T) {
	books := memBooks{"111": {Bids: []domain.PriceLevel{{Price: 0.4, Size: 5}}, BestBid: 0.4, BestAsk: 0.6, MidPrice: 0.5}}
	h := NewOrderbookHandler(books, discard())

	rec := serve(t, h.GetOrderbook, "GET /api/orderbook/{token}", "/api/orderbook/111")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	b := decode[orderbookDTO](t, rec)
	if b.TokenID != "111" || b.MidPrice != 0.5 || len(b.Asks) != 0 {
		t.Errorf("book = %+v", b)
	}
	if rec := serve(t, h.GetOrderbook, "GET /api/orderbook/{token}", "/api/orderbook/222"); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}

	disabled := NewOrderbookHandler(nil, discard())
	if rec := serve(t, disabled.GetOrderbook, "GET /api/orderbook/{token}", "/api/orderbook/111"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	ok := NewHealthHandler(map[string]Check{"store": func(context.Context) error { return nil }}, discard())
	rec := serve(t, ok.HealthCheck, "GET /api/health", "/api/health")
	body := decode[healthResponse](t, rec)
	if rec.Code != http.StatusOK || body.Status != "ok" || body.Checks["store"] != "ok" {
		t.Errorf("healthy = %d %+v", rec.Code, body)
	}

	bad := NewHealthHandler(map[string]Check{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, discard())
	rec = serve(t, bad.HealthCheck, "GET /api/health", "/api/health")
	body = decode[healthResponse](t, rec)
	if rec.Code != http.StatusServiceUnavailable || body.Status != "degraded" || body.Checks["redis"] != "connection refused" {
		t.Errorf("degraded = %d %+v", rec.Code, body)
	}
}
