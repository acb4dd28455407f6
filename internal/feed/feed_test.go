package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	alice = "0x56687bf447db6ffa42ffe2204a05edaa20f55839"
	bob   = "0x1111111111111111111111111111111111111111"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTradeEventsPerspective(t *testing.T) {
	fill := domain.RawFill{
		ID:                "0xfill",
		Timestamp:         1700000000,
		Maker:             strings.ToUpper(alice[:2]) + alice[2:],
		MakerAssetID:      "0",
		MakerAmountFilled: "60000000",
		Taker:             bob,
		TakerAssetID:      "111",
		TakerAmountFilled: "100000000",
		TransactionHash:   "0xtx",
	}

	evs := TradeEvents(fill, map[string]struct{}{alice: {}})
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	ev := evs[0]
	if ev.Wallet != alice || ev.Side != domain.SideBuy || ev.TokenID != "111" {
		t.Errorf("maker event = %+v", ev)
	}
	if ev.Size != 100 || math.Abs(ev.Price-0.6) > 1e-12 {
		t.Errorf("size/price = %v/%v", ev.Size, ev.Price)
	}
	if !ev.OnchainTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("onchain time = %v", ev.OnchainTime)
	}

	both := TradeEvents(fill, map[string]struct{}{alice: {}, bob: {}})
	if len(both) != 2 {
		t.Fatalf("events = %d, want 2", len(both))
	}
	if both[1].Wallet != bob || both[1].Side != domain.SideSell || both[1].TokenID != "111" {
		t.Errorf("taker event = %+v", both[1])
	}
	if both[0].Key() == both[1].Key() {
		t.Error("maker and taker events share a key")
	}

	merge := fill
	merge.MakerAssetID = "222"
	if got := TradeEvents(merge, map[string]struct{}{alice: {}}); len(got) != 0 {
		t.Errorf("token-for-token fill produced %d events", len(got))
	}

	zero := fill
	zero.TakerAmountFilled = "0"
	if got := TradeEvents(zero, map[string]struct{}{alice: {}}); len(got) != 0 {
		t.Errorf("zero-share fill produced %d events", len(got))
	}
}

func TestDedupTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("a") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Fatal("second sighting not a duplicate")
	}
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	if d.Len() != 0 {
		t.Errorf("Len after cleanup = %d", d.Len())
	}
	if d.IsDuplicate("a") {
		t.Error("expired key still a duplicate")
	}
	d.Forget("a")
	if d.IsDuplicate("a") {
		t.Error("forgotten key still a duplicate")
	}
}

type fakeSource struct {
	fills []domain.RawFill
	since []time.Time
	err   error
}

func (s *fakeSource) FetchWalletFills(_ context.Context, wallets []string, since time.Time, _ int) ([]domain.RawFill, error) {
	s.since = append(s.since, since)
	return s.fills, s.err
}

type fakeWallets []domain.Wallet

func (w fakeWallets) ListWallets(context.Context, bool) ([]domain.Wallet, error) { return w, nil }

type memState map[string]string

func (m memState) GetState(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m memState) SetState(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestTradeFeedPoll(t *testing.T) {
	src := &fakeSource{fills: []domain.RawFill{
		{ID: "f1", Timestamp: 100, Maker: alice, MakerAssetID: "0", MakerAmountFilled: "5000000", Taker: bob, TakerAssetID: "111", TakerAmountFilled: "10000000"},
		{ID: "f2", Timestamp: 160, Maker: bob, MakerAssetID: "111", MakerAmountFilled: "4000000", Taker: alice, TakerAssetID: "0", TakerAmountFilled: "2000000"},
	}}
	state := memState{CursorKey: "90"}

	var got []domain.TradeEvent
	handler := func(_ context.Context, ev domain.TradeEvent) error {
		got = append(got, ev)
		if ev.TokenID == "111" && ev.Side == domain.SideBuy {
			return domain.ErrUnavailable
		}
		return nil
	}

	f := NewTradeFeed(src, fakeWallets{{Address: strings.ToUpper(alice)}}, state, handler, TradeFeedConfig{}, testLogger())
	n, err := f.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 2 || len(got) != 2 {
		t.Fatalf("handled = %d, events = %d, want 2", n, len(got))
	}
	// In f2 alice is the taker giving USDC, so both fills are buys.
	if got[0].Side != domain.SideBuy || got[1].Side != domain.SideBuy {
		t.Errorf("sides = %s, %s", got[0].Side, got[1].Side)
	}
	if !src.since[0].Equal(time.Unix(90, 0)) {
		t.Errorf("first fetch since = %v, want stored cursor", src.since[0])
	}
	if state[CursorKey] != "160" {
		t.Errorf("cursor = %s, want 160", state[CursorKey])
	}

	n, err = f.Poll(context.Background())
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("redelivered fills handled %d times", n)
	}
	if !src.since[1].Equal(time.Unix(160, 0)) {
		t.Errorf("second fetch since = %v", src.since[1])
	}
}

func TestTradeFeedPollErrors(t *testing.T) {
	src := &fakeSource{err: domain.ErrRateLimited}
	f := NewTradeFeed(src, fakeWallets{{Address: alice}}, memState{}, func(context.Context, domain.TradeEvent) error { return nil },
		TradeFeedConfig{Lookback: time.Hour}, testLogger())

	if _, err := f.Poll(context.Background()); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if d := time.Since(f.Cursor()); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("cursor without state = %v ago, want ~1h", d)
	}

	empty := NewTradeFeed(src, fakeWallets{}, memState{}, nil, TradeFeedConfig{}, testLogger())
	if n, err := empty.Poll(context.Background()); n != 0 || err != nil {
		t.Errorf("no wallets: %d, %v", n, err)
	}
}

func TestResolutionFeedForwardsPushes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"market_resolved","conditionId":"0xabc","clobTokenIds":["1","2"],"resolver_raw_payouts":["1","0"]}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	got := make(chan domain.ResolutionPayload, 1)
	f := NewResolutionFeed("ws"+strings.TrimPrefix(srv.URL, "http"), func(_ context.Context, p domain.ResolutionPayload) {
		got <- p
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- f.Run(ctx) }()

	select {
	case p := <-got:
		if p.ConditionID != "0xabc" || len(p.TokenIDs) != 2 {
			t.Errorf("payload = %+v", p)
		}
	case <-ctx.Done():
		t.Fatal("no resolution forwarded")
	}

	f.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run after Close = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not return after Close")
	}
}
