package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

type captureSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	bodies []string
	err    error
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, message)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFilter(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{EventSettlement}, discard())

	if err := n.Notify(context.Background(), EventNoFill, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), EventSettlement, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 1 {
		t.Errorf("sent %d messages, want 1", len(s.titles))
	}
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &captureSender{name: "bad", err: boom}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventSettlement, "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if len(good.titles) != 1 {
		t.Error("failure of one sender stopped the others")
	}
}

func TestNilNotifier(t *testing.T) {
	var n *Notifier
	if n.Enabled() {
		t.Fatal("nil notifier enabled")
	}
	if err := n.Settlement(context.Background(), domain.SettlementEvent{}); err != nil {
		t.Fatal(err)
	}
}

func TestNoFillSkipsFilledTrades(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, nil, discard())
	_ = n.NoFill(context.Background(), domain.FillEvent{Size: 10})
	_ = n.NoFill(context.Background(), domain.FillEvent{NoFillReason: "insufficient liquidity", Side: domain.SideBuy, TokenID: "123"})
	if len(s.titles) != 1 || !strings.Contains(s.bodies[0], "insufficient liquidity") {
		t.Errorf("messages = %v", s.bodies)
	}
}

func TestFormatSettlement(t *testing.T) {
	title, body := FormatSettlement(domain.SettlementEvent{
		ConditionID: "0xabcdef0123456789abcdef",
		Source:      "poll",
		Instruments: []domain.SettledInstrument{
			{TokenID: "111", OutcomeIndex: 0, Payout: 1, ClosedSize: 5, RealizedGain: 3},
			{TokenID: "222", OutcomeIndex: 1, Payout: 0},
		},
	})
	if !strings.HasPrefix(title, "Market resolved 0xabcdef") {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"111 #0 payout 1.00 closed 5.00 sh pnl +3.00", "222 #1 payout 0.00\n", "realized +3.00 USD (poll)"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "*Title*\nbody" {
		t.Errorf("payload = %v", got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 400") {
		t.Fatalf("err = %v", err)
	}
}
