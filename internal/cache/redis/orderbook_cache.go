package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// DefaultBookTTL bounds how long a cached book is served.
const DefaultBookTTL = 24 * time.Hour

// OrderbookCache keeps the last fetched book per instrument in one hash:
//
//	book:{assetID}  bids, asks (JSON levels), bid, ask, ts (unix ms)
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. ttl <= 0 uses DefaultBookTTL.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	if ttl <= 0 {
		ttl = DefaultBookTTL
	}
	return &OrderbookCache{c: c, ttl: ttl}
}

// SetSnapshot replaces the cached book of assetID.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	fields, err := encodeBook(snap)
	if err != nil {
		return fmt.Errorf("redis: set orderbook %s: %w", assetID, err)
	}
	key := oc.c.key("book", assetID)

	pipe := oc.c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, oc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook %s: %w", assetID, err)
	}
	return nil
}

// GetSnapshot returns the cached book or domain.ErrNotFound.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	vals, err := oc.c.rdb.HGetAll(ctx, oc.c.key("book", assetID)).Result()
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	snap, err := decodeBook(vals)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: decode orderbook %s: %w", assetID, err)
	}
	snap.AssetID = assetID
	return snap, nil
}

func encodeBook(snap domain.OrderbookSnapshot) (map[string]any, error) {
	bids, err := json.Marshal(nonNil(snap.Bids))
	if err != nil {
		return nil, err
	}
	asks, err := json.Marshal(nonNil(snap.Asks))
	if err != nil {
		return nil, err
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"bids": string(bids),
		"asks": string(asks),
		"bid":  strconv.FormatFloat(snap.BestBid, 'f', -1, 64),
		"ask":  strconv.FormatFloat(snap.BestAsk, 'f', -1, 64),
		"ts":   strconv.FormatInt(ts.UnixMilli(), 10),
	}, nil
}

func decodeBook(vals map[string]string) (domain.OrderbookSnapshot, error) {
	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal([]byte(vals["bids"]), &snap.Bids); err != nil {
		return snap, fmt.Errorf("bids: %w", err)
	}
	if err := json.Unmarshal([]byte(vals["asks"]), &snap.Asks); err != nil {
		return snap, fmt.Errorf("asks: %w", err)
	}
	snap.BestBid, _ = strconv.ParseFloat(vals["bid"], 64)
	snap.BestAsk, _ = strconv.ParseFloat(vals["ask"], 64)
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}
	if ms, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		snap.Timestamp = time.UnixMilli(ms).UTC()
	}
	return snap, nil
}

func nonNil(l []domain.PriceLevel) []domain.PriceLevel {
	if l == nil {
		return []domain.PriceLevel{}
	}
	return l
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
