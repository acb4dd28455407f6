package redis

import (
	"testing"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

func TestBookEncoding(t *testing.T) {
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	in := domain.OrderbookSnapshot{
		Bids:      []domain.PriceLevel{{Price: 0.48, Size: 10}},
		Asks:      []domain.PriceLevel{{Price: 0.52, Size: 7}, {Price: 0.55, Size: 100}},
		BestBid:   0.48,
		BestAsk:   0.52,
		Timestamp: ts,
	}
	fields, err := encodeBook(in)
	if err != nil {
		t.Fatal(err)
	}
	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		vals[k] = v.(string)
	}

	out, err := decodeBook(vals)
	if err != nil {
		t.Fatalf("decodeBook: %v", err)
	}
	if len(out.Bids) != 1 || len(out.Asks) != 2 || out.Asks[1] != in.Asks[1] {
		t.Errorf("levels = %+v / %+v", out.Bids, out.Asks)
	}
	if out.MidPrice != 0.5 || !out.Timestamp.Equal(ts) {
		t.Errorf("mid = %v, ts = %v", out.MidPrice, out.Timestamp)
	}
}

func TestBookEncodingEmptySide(t *testing.T) {
	fields, err := encodeBook(domain.OrderbookSnapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if fields["bids"] != "[]" || fields["asks"] != "[]" {
		t.Errorf("empty sides encoded as %v / %v", fields["bids"], fields["asks"])
	}
}

func TestDecodeBookRejectsGarbage(t *testing.T) {
	if _, err := decodeBook(map[string]string{"bids": "{", "asks": "[]"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWaitInterval(t *testing.T) {
	tests := []struct {
		retry, want time.Duration
	}{
		{0, minWaitInterval},
		{250 * time.Millisecond, 250 * time.Millisecond},
		{time.Minute, maxWaitInterval},
	}
	for _, tt := range tests {
		if got := waitInterval(tt.retry); got != tt.want {
			t.Errorf("waitInterval(%v) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestJoinKey(t *testing.T) {
	if got := joinKey("polyshadow:", "book", "123"); got != "polyshadow:book:123" {
		t.Errorf("joinKey = %q", got)
	}
	if got := joinKey("", "paper_fills"); got != "paper_fills" {
		t.Errorf("joinKey = %q", got)
	}
}
