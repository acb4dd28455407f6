package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is a full snapshot of bids and asks for an instrument.
// Levels are kept in the order the venue returned them.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// Liquidity returns the total notional (price*size) resting on one side.
func Liquidity(levels []PriceLevel) float64 {
	var total float64
	for _, l := range levels {
		if l.Price > 0 && l.Size > 0 {
			total += l.Price * l.Size
		}
	}
	return total
}

// BookSnapshot is the persisted orderbook captured for one target trade.
type BookSnapshot struct {
	ID            int64
	TargetTradeID int64
	TokenID       string
	Bids          []PriceLevel
	Asks          []PriceLevel
	BestBid       *float64
	BestAsk       *float64
	BidLiquidity  float64
	AskLiquidity  float64
	FetchLatency  time.Duration
	CapturedAt    time.Time
}

// NewBookSnapshot builds the persisted form of a fetched book.
func NewBookSnapshot(book OrderbookSnapshot, latency time.Duration, at time.Time) BookSnapshot {
	s := BookSnapshot{
		TokenID:      book.AssetID,
		Bids:         book.Bids,
		Asks:         book.Asks,
		BidLiquidity: Liquidity(book.Bids),
		AskLiquidity: Liquidity(book.Asks),
		FetchLatency: latency,
		CapturedAt:   at,
	}
	if book.BestBid > 0 {
		v := book.BestBid
		s.BestBid = &v
	}
	if book.BestAsk > 0 {
		v := book.BestAsk
		s.BestAsk = &v
	}
	return s
}
