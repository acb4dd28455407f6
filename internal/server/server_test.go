package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/server/handler"
	"github.com/alanyoungcy/polyshadow/internal/service"
	"github.com/alanyoungcy/polyshadow/internal/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err = st.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.UpsertInstrument(ctx, domain.Instrument{
			TokenID: "111", ConditionID: "0xc1", Question: "Will it rain?", Category: "weather", Outcome: "Yes", FirstSeenAt: at,
		}); err != nil {
			return err
		}
		id, err := tx.InsertTargetTrade(ctx, domain.TargetTrade{
			EventKey: "fill-1:0xaa", Wallet: "0xaa", TokenID: "111", Side: domain.SideBuy,
			Size: 10, Price: 0.6, CostUSD: 6, TxHash: "0xtx", OnchainAt: at, DetectedAt: at.Add(2 * time.Second),
		})
		if err != nil {
			return err
		}
		book := domain.OrderbookSnapshot{AssetID: "111", Asks: []domain.PriceLevel{{Price: 0.6, Size: 500}}, BestAsk: 0.6}
		snap := domain.NewBookSnapshot(book, 80*time.Millisecond, at.Add(2*time.Second))
		snap.TargetTradeID = id
		snapID, err := tx.InsertBookSnapshot(ctx, snap)
		if err != nil {
			return err
		}
		if _, err := tx.InsertPaperTrade(ctx, domain.PaperTrade{
			TargetTradeID: id, SnapshotID: snapID, TokenID: "111", Side: domain.SideBuy,
			Size: 10 / 0.6, AvgPrice: 0.6, CostUSD: 10, TotalDelay: 2 * time.Second, CreatedAt: at.Add(2 * time.Second),
		}); err != nil {
			return err
		}
		return tx.SavePosition(ctx, domain.Position{TokenID: "111", Size: 10 / 0.6, CostBasis: 10, UpdatedAt: at})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	reports := service.NewReportService(st)
	h := Handlers{
		Health:    handler.NewHealthHandler(map[string]handler.Check{"store": st.Ping}, logger),
		Summary:   handler.NewSummaryHandler(reports, st, logger),
		Trades:    handler.NewTradeHandler(st, logger),
		Positions: handler.NewPositionHandler(reports, logger),
		Markets:   handler.NewMarketHandler(st, logger),
		Orderbook: handler.NewOrderbookHandler(nil, logger),
		PnL:       handler.NewPnLHandler(reports, logger),
	}
	srv := httptest.NewServer(Routes(Config{APIKey: "k"}, h, nil, nil, logger))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, authed bool) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if authed {
		req.Header.Set("X-API-Key", "k")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	if resp, body := get(t, srv, "/api/health", false); resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv, "/api/summary", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated summary = %d", resp.StatusCode)
	}

	resp, body := get(t, srv, "/api/summary", true)
	if resp.StatusCode != http.StatusOK || body["target_trades"].(float64) != 1 || body["filled"].(float64) != 1 {
		t.Errorf("summary = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}

	resp, body = get(t, srv, "/api/target-trades?wallet=0xAA", true)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Errorf("target trades = %d %v", resp.StatusCode, body)
	}
	id := body["items"].([]any)[0].(map[string]any)["id"].(float64)

	resp, body = get(t, srv, "/api/snapshots/"+jsonInt(id), true)
	if resp.StatusCode != http.StatusOK || body["ask_liquidity"].(float64) != 300 {
		t.Errorf("snapshot = %d %v", resp.StatusCode, body)
	}

	resp, body = get(t, srv, "/api/positions", true)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Errorf("positions = %d %v", resp.StatusCode, body)
	}

	resp, body = get(t, srv, "/api/markets", true)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Errorf("markets = %d %v", resp.StatusCode, body)
	}

	if resp, _ := get(t, srv, "/api/paper-trades", true); resp.StatusCode != http.StatusOK {
		t.Errorf("paper trades = %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv, "/api/latency", true); resp.StatusCode != http.StatusOK {
		t.Errorf("latency = %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv, "/api/wallets", true); resp.StatusCode != http.StatusOK {
		t.Errorf("wallets = %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv, "/api/orderbook/111", true); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("orderbook without cache = %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv, "/ws", true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("ws without hub = %d", resp.StatusCode)
	}
}

func TestPnLRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv, "/api/pnl/categories", true)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("categories = %d %v", resp.StatusCode, body)
	}
	cat := body["items"].([]any)[0].(map[string]any)
	if cat["category"] != "weather" || cat["volume"].(float64) != 10 {
		t.Errorf("category = %v", cat)
	}

	resp, body = get(t, srv, "/api/pnl/timeline?wallet=0xAA", true)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("timeline = %d %v", resp.StatusCode, body)
	}
	pt := body["items"].([]any)[0].(map[string]any)
	if pt["cumulative_cost"].(float64) != -10 || pt["question"] != "Will it rain?" {
		t.Errorf("point = %v", pt)
	}

	if _, body = get(t, srv, "/api/pnl/timeline?wallet=0xbb", true); body["count"].(float64) != 0 {
		t.Errorf("other wallet timeline = %v", body)
	}
	if resp, _ := get(t, srv, "/api/pnl/timeline?since=yesterday", true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since = %d", resp.StatusCode)
	}
}

func jsonInt(f float64) string {
	b, _ := json.Marshal(int64(f))
	return string(b)
}
