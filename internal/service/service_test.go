package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/notify"
	"github.com/alanyoungcy/polyshadow/internal/platform/polymarket"
	"github.com/alanyoungcy/polyshadow/internal/store/sqlite"
	"github.com/alanyoungcy/polyshadow/internal/store/sqlstore"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "svc.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeMeta struct {
	mu    sync.Mutex
	insts map[string]domain.Instrument
	err   error
	calls int
}

func (m *fakeMeta) FetchInstrument(_ context.Context, tokenID string) (domain.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return domain.Instrument{}, m.err
	}
	inst, ok := m.insts[tokenID]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return inst, nil
}

type fakeBooks struct {
	books map[string]domain.OrderbookSnapshot
}

func (b *fakeBooks) GetOrderBook(_ context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	book, ok := b.books[tokenID]
	if !ok {
		return domain.OrderbookSnapshot{}, errors.New("HTTP 503: unavailable")
	}
	return book, nil
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = map[string][][]byte{}
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *memBus) StreamAppend(context.Context, string, []byte) error     { return nil }
func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memCache struct {
	mu    sync.Mutex
	books map[string]domain.OrderbookSnapshot
}

func (c *memCache) SetSnapshot(_ context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.books == nil {
		c.books = map[string]domain.OrderbookSnapshot{}
	}
	c.books[assetID] = snap
	return nil
}

func (c *memCache) GetSnapshot(_ context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[assetID]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return b, nil
}

type captureSender struct {
	mu     sync.Mutex
	bodies []string
}

func (c *captureSender) Send(_ context.Context, _, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, message)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

type harness struct {
	store  *sqlstore.Store
	meta   *fakeMeta
	books  *fakeBooks
	bus    *memBus
	cache  *memCache
	sender *captureSender
	trader *PaperTrader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: openStore(t),
		meta: &fakeMeta{insts: map[string]domain.Instrument{
			"yes": {ConditionID: "c1", Question: "Will it rain?", Category: "weather", Outcome: "Yes", OutcomeIndex: 0},
		}},
		books: &fakeBooks{books: map[string]domain.OrderbookSnapshot{
			"yes": {
				Asks:    []domain.PriceLevel{{Price: 0.62, Size: 200}, {Price: 0.60, Size: 50}},
				Bids:    []domain.PriceLevel{{Price: 0.55, Size: 100}, {Price: 0.50, Size: 400}},
				BestBid: 0.55,
				BestAsk: 0.60,
			},
		}},
		bus:    &memBus{},
		cache:  &memCache{},
		sender: &captureSender{},
	}
	notifier := notify.NewNotifier([]notify.Sender{h.sender}, nil, discard())
	h.trader = NewPaperTrader(h.store, h.meta, h.books, h.cache, h.bus, notifier,
		PaperTraderConfig{SizeUSD: 100, NotifyNoFills: true}, discard())
	return h
}

func trade(id string, side domain.Side, price float64) domain.TradeEvent {
	return domain.TradeEvent{
		ID:          id,
		Wallet:      "0xABCDEF0000000000000000000000000000000001",
		TokenID:     "yes",
		Side:        side,
		Size:        100,
		Price:       price,
		TxHash:      "0xTX" + id,
		BlockNumber: 42,
		OnchainTime: time.Now().Add(-2 * time.Second),
	}
}

func (h *harness) position(t *testing.T, token string) (domain.Position, error) {
	t.Helper()
	var p domain.Position
	err := h.store.InTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		p, err = tx.GetPosition(ctx, token)
		return err
	})
	return p, err
}

func near(a, b, eps float64) bool { return math.Abs(a-b) < eps }

func TestIngestBuyWalksBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.trader.Ingest(ctx, trade("f1", domain.SideBuy, 0.60))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	wantShares := 50 + 70/0.62
	if !near(out.Size, wantShares, 1e-6) || !near(out.AvgPrice, 100/wantShares, 1e-9) {
		t.Errorf("fill = %v @ %v, want %v @ %v", out.Size, out.AvgPrice, wantShares, 100/wantShares)
	}
	if out.Slippage <= 0 {
		t.Errorf("slippage = %v, want positive for a worse buy", out.Slippage)
	}

	pos, err := h.position(t, "yes")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !near(pos.Size, wantShares, 1e-6) || !near(pos.CostBasis, 100, 1e-9) {
		t.Errorf("position = %+v", pos)
	}

	trades, _ := h.store.ListTargetTrades(ctx, domain.ListOpts{})
	if len(trades) != 1 || trades[0].Wallet != "0xabcdef0000000000000000000000000000000001" || !near(trades[0].CostUSD, 60, 1e-9) {
		t.Errorf("target trades = %+v", trades)
	}
	paper, _ := h.store.ListPaperTrades(ctx, domain.ListOpts{})
	if len(paper) != 1 || paper[0].DetectionDelay < 2*time.Second || paper[0].TotalDelay < paper[0].DetectionDelay {
		t.Errorf("paper trades = %+v", paper)
	}
	snap, err := h.store.GetBookSnapshotByTrade(ctx, out.TargetTradeID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.BestAsk == nil || *snap.BestAsk != 0.60 || !near(snap.AskLiquidity, 154, 1e-9) {
		t.Errorf("snapshot = %+v", snap)
	}

	inst, _ := h.store.GetInstrument(ctx, "yes")
	if inst.Question != "Will it rain?" || inst.ConditionID != "c1" {
		t.Errorf("instrument = %+v", inst)
	}
	if len(h.bus.messages[domain.ChannelPaperFills]) != 1 {
		t.Errorf("bus messages = %d", len(h.bus.messages[domain.ChannelPaperFills]))
	}
	var published domain.FillEvent
	_ = json.Unmarshal(h.bus.messages[domain.ChannelPaperFills][0], &published)
	if published.PaperTradeID != out.PaperTradeID {
		t.Errorf("published = %+v", published)
	}
	if _, err := h.cache.GetSnapshot(ctx, "yes"); err != nil {
		t.Errorf("book not cached: %v", err)
	}
}

func TestIngestDuplicateIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.trader.Ingest(ctx, trade("f1", domain.SideBuy, 0.6)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	first, _ := h.position(t, "yes")

	_, err := h.trader.Ingest(ctx, trade("F1", domain.SideBuy, 0.6))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	if got, _ := h.position(t, "yes"); got != first {
		t.Errorf("duplicate changed the position: %+v", got)
	}
	paper, _ := h.store.ListPaperTrades(ctx, domain.ListOpts{})
	if len(paper) != 1 {
		t.Errorf("paper trades = %d", len(paper))
	}
}

func TestIngestNoFill(t *testing.T) {
	h := newHarness(t)
	h.books.books["yes"] = domain.OrderbookSnapshot{
		Asks: []domain.PriceLevel{{Price: 0.60, Size: 50}, {Price: 0.62, Size: 100}},
	}

	out, err := h.trader.Ingest(context.Background(), trade("f1", domain.SideBuy, 0.6))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Size != 0 || !strings.Contains(out.NoFillReason, "insufficient liquidity") {
		t.Errorf("fill = %+v", out)
	}
	if _, err := h.position(t, "yes"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("no-fill created a position: %v", err)
	}
	if len(h.sender.bodies) != 1 {
		t.Errorf("notifications = %d, want 1", len(h.sender.bodies))
	}
}

func TestIngestWithoutBookRecordsNothing(t *testing.T) {
	h := newHarness(t)
	ev := trade("f1", domain.SideBuy, 0.6)
	ev.TokenID = "missing"

	_, err := h.trader.Ingest(context.Background(), ev)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	trades, _ := h.store.ListTargetTrades(context.Background(), domain.ListOpts{})
	if len(trades) != 0 {
		t.Errorf("recorded %d trades", len(trades))
	}
}

func TestIngestRejectsInvalidEvent(t *testing.T) {
	h := newHarness(t)
	ev := trade("f1", domain.SideBuy, 0)
	if _, err := h.trader.Ingest(context.Background(), ev); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestIngestSellClampsToHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.trader.Ingest(ctx, trade("b1", domain.SideBuy, 0.6)); err != nil {
		t.Fatal(err)
	}
	bought, _ := h.position(t, "yes")

	// $100 into bids of 0.55 and 0.50 is ~190 shares, more than held.
	out, err := h.trader.Ingest(ctx, trade("s1", domain.SideSell, 0.56))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if out.Size <= bought.Size {
		t.Fatalf("sell fill %v does not exceed held %v", out.Size, bought.Size)
	}
	pos, _ := h.position(t, "yes")
	if pos.Size != 0 || pos.CostBasis != 0 {
		t.Errorf("position after oversell = %+v", pos)
	}
	// 190 shares fill at an average of 100/190; only the held shares close.
	wantRealized := bought.Size*(100.0/190.0) - 100
	if !near(pos.RealizedPnL, wantRealized, 1e-6) {
		t.Errorf("realized = %v, want %v", pos.RealizedPnL, wantRealized)
	}
}

func TestIngestOnResolvedInstrument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	err := h.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.UpsertInstrument(ctx, domain.Instrument{TokenID: "yes", ConditionID: "c1", Question: "Will it rain?", Outcome: "Yes"}); err != nil {
			return err
		}
		return tx.MarkResolved(ctx, "yes", 0, 1, time.Now())
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := h.trader.Ingest(ctx, trade("late", domain.SideBuy, 0.6))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Size == 0 {
		t.Fatal("late fill not simulated")
	}
	if _, err := h.position(t, "yes"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("late fill moved the position: %v", err)
	}
}

func TestPlaceholderMetadataIsBackfilled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.meta.err = errors.New("gamma down")

	if _, err := h.trader.Ingest(ctx, trade("f1", domain.SideBuy, 0.6)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	inst, _ := h.store.GetInstrument(ctx, "yes")
	if inst.Question != domain.PlaceholderQuestion {
		t.Fatalf("question = %q", inst.Question)
	}

	h.meta.err = nil
	b := NewMetadataBackfiller(h.store, h.meta, BackfillConfig{}, discard())
	report, err := b.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Candidates != 1 || report.Updated != 1 {
		t.Errorf("report = %+v", report)
	}
	inst, _ = h.store.GetInstrument(ctx, "yes")
	if inst.Question != "Will it rain?" || inst.Category != "weather" {
		t.Errorf("instrument after backfill = %+v", inst)
	}

	report, _ = b.RunOnce(ctx)
	if report.Candidates != 0 {
		t.Errorf("second pass candidates = %d", report.Candidates)
	}
}

func TestBackfillStopsOnRateLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	err := h.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, tok := range []string{"a", "b", "c"} {
			if err := tx.UpsertInstrument(ctx, domain.Instrument{TokenID: tok}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	h.meta.err = domain.ErrRateLimited

	report, err := NewMetadataBackfiller(h.store, h.meta, BackfillConfig{}, discard()).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Candidates != 3 || report.Failed != 1 || h.meta.calls != 1 {
		t.Errorf("report = %+v, calls = %d", report, h.meta.calls)
	}
}

type fakeLeaderboard struct {
	wallets map[string][]domain.Wallet
}

func (f *fakeLeaderboard) Leaderboard(_ context.Context, q polymarket.LeaderboardQuery) ([]domain.Wallet, error) {
	w, ok := f.wallets[q.Category]
	if !ok {
		return nil, domain.ErrRateLimited
	}
	return w, nil
}

func TestWalletSeed(t *testing.T) {
	st := openStore(t)
	lb := &fakeLeaderboard{wallets: map[string][]domain.Wallet{
		"crypto": {
			{Address: "0x00000000000000000000000000000000000000aa", Source: "leaderboard:crypto", LeaderboardPnL: 900},
			{Address: "not-an-address", Source: "leaderboard:crypto"},
		},
	}}
	svc := NewWalletService(st, lb, WalletConfig{
		Addresses: []string{
			"whale=0x00000000000000000000000000000000000000BB",
			"garbage",
		},
		Leaderboard:           true,
		LeaderboardCategories: []string{"crypto", "sports"},
	}, discard())

	report, err := svc.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if report.Config != 1 || report.Leaderboard != 1 || report.Skipped != 2 {
		t.Errorf("report = %+v", report)
	}

	wallets, err := st.ListWallets(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(wallets) != 2 {
		t.Fatalf("tracked wallets = %+v", wallets)
	}
	if wallets[0].Address != "0x00000000000000000000000000000000000000aa" || wallets[0].Source != "leaderboard:crypto" {
		t.Errorf("first wallet = %+v", wallets[0])
	}
	if wallets[1].Alias != "whale" || wallets[1].Address != "0x00000000000000000000000000000000000000bb" {
		t.Errorf("config wallet = %+v", wallets[1])
	}

	// Seeding again is stable.
	if _, err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if again, _ := st.ListWallets(context.Background(), true); len(again) != 2 {
		t.Errorf("wallets after reseed = %d", len(again))
	}
}

func TestReportValuesPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.trader.Ingest(ctx, trade("f1", domain.SideBuy, 0.6)); err != nil {
		t.Fatal(err)
	}
	err := h.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.UpsertInstrument(ctx, domain.Instrument{TokenID: "quiet", Question: "q", Outcome: "No"}); err != nil {
			return err
		}
		return tx.SavePosition(ctx, domain.Position{TokenID: "quiet", Size: 10, CostBasis: 3, UpdatedAt: time.Now()})
	})
	if err != nil {
		t.Fatal(err)
	}

	r := NewReportService(h.store)
	views, err := r.Positions(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	byToken := map[string]domain.PositionView{}
	for _, v := range views {
		byToken[v.TokenID] = v
	}
	if q := byToken["quiet"]; q.MarkPrice != 0.5 || !near(q.UnrealizedPnL, 2, 1e-9) {
		t.Errorf("default-marked position = %+v", q)
	}
	yes := byToken["yes"]
	if yes.LastPrice == nil || !near(yes.UnrealizedPnL, 0, 1e-6) {
		t.Errorf("position marked at its own fill = %+v", yes)
	}

	s, err := r.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TargetTrades != 1 || s.FillRate != 1 || s.OpenPositions != 2 || !near(s.UnrealizedPnL, 2, 1e-6) {
		t.Errorf("summary = %+v", s)
	}
}

func TestReportPnLBreakdowns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.trader.Ingest(ctx, trade("f1", domain.SideBuy, 0.6)); err != nil {
		t.Fatal(err)
	}
	err := h.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.UpsertInstrument(ctx, domain.Instrument{TokenID: "quiet", Question: "q", Outcome: "No"}); err != nil {
			return err
		}
		return tx.SavePosition(ctx, domain.Position{TokenID: "quiet", Size: 10, CostBasis: 3, RealizedPnL: 1.5, UpdatedAt: time.Now()})
	})
	if err != nil {
		t.Fatal(err)
	}

	r := NewReportService(h.store)
	cats, err := r.PnLByCategory(ctx)
	if err != nil {
		t.Fatalf("PnLByCategory: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("categories = %+v", cats)
	}
	other, weather := cats[0], cats[1]
	if other.Category != domain.UncategorizedLabel || other.RealizedPnL != 1.5 || !near(other.UnrealizedPnL, 2, 1e-9) || other.Volume != 0 {
		t.Errorf("uncategorized = %+v", other)
	}
	if weather.Category != "weather" || !near(weather.Volume, 100, 1e-6) || !near(weather.UnrealizedPnL, 0, 1e-6) {
		t.Errorf("weather = %+v", weather)
	}

	points, err := r.PnLTimeline(ctx, domain.ListOpts{Wallet: "0xabcdef0000000000000000000000000000000001"})
	if err != nil {
		t.Fatalf("PnLTimeline: %v", err)
	}
	if len(points) != 1 || !near(points[0].CumulativeCost, -100, 1e-6) || points[0].Question != "Will it rain?" {
		t.Errorf("timeline = %+v", points)
	}
	if points, _ := r.PnLTimeline(ctx, domain.ListOpts{Wallet: "0xother"}); len(points) != 0 {
		t.Errorf("other wallet timeline = %+v", points)
	}
}

func TestSettlementSinkPublishes(t *testing.T) {
	bus := &memBus{}
	sender := &captureSender{}
	sink := NewSettlementSink(bus, notify.NewNotifier([]notify.Sender{sender}, nil, discard()), discard())

	sink.Settled(context.Background(), domain.SettlementEvent{ID: "e1", ConditionID: "c1", Source: "push"})
	if len(bus.messages[domain.ChannelSettlements]) != 1 || len(sender.bodies) != 1 {
		t.Errorf("bus = %d, notifications = %d", len(bus.messages[domain.ChannelSettlements]), len(sender.bodies))
	}
}

func TestRecordStart(t *testing.T) {
	h := newHarness(t)
	if err := h.trader.RecordStart(context.Background(), h.store); err != nil {
		t.Fatal(err)
	}
	size, err := h.store.GetState(context.Background(), StatePaperSizeUSD)
	if err != nil || size != "100" {
		t.Errorf("size = %q, %v", size, err)
	}
}
