package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a trade from the trader's perspective.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalises a side string.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side %q", ErrInvalidInput, s)
	}
}

// TradeEvent is one observed fill emitted by the trade feed.
type TradeEvent struct {
	ID          string // feed-level id, used for dedupe
	Wallet      string
	TokenID     string
	Side        Side
	Size        float64
	Price       float64
	TxHash      string
	BlockNumber uint64
	OnchainTime time.Time
}

// Key identifies the same on-chain fill across duplicate deliveries.
func (e TradeEvent) Key() string {
	if e.ID != "" {
		return strings.ToLower(e.ID)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%.6f",
		strings.ToLower(e.TxHash), strings.ToLower(e.Wallet), e.TokenID, e.Side, e.Size)
}

// Validate rejects events that cannot be copied.
func (e TradeEvent) Validate() error {
	switch {
	case e.Wallet == "":
		return fmt.Errorf("%w: empty wallet", ErrInvalidInput)
	case e.TokenID == "":
		return fmt.Errorf("%w: empty token id", ErrInvalidInput)
	case e.Side != SideBuy && e.Side != SideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidInput, e.Side)
	case e.Size <= 0:
		return fmt.Errorf("%w: size %v", ErrInvalidInput, e.Size)
	case e.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrInvalidInput, e.Price)
	}
	return nil
}

// TargetTrade is the recorded form of an observed trade. Immutable once stored.
type TargetTrade struct {
	ID          int64
	EventKey    string
	Wallet      string
	TokenID     string
	Side        Side
	Size        float64
	Price       float64
	CostUSD     float64
	TxHash      string
	BlockNumber uint64
	OnchainAt   time.Time
	DetectedAt  time.Time
}

// PaperTrade is the simulated copy of a target trade. Size is zero and
// NoFillReason is set when the book could not absorb the notional.
type PaperTrade struct {
	ID             int64
	TargetTradeID  int64
	SnapshotID     int64
	TokenID        string
	Side           Side
	Size           float64
	AvgPrice       float64
	CostUSD        float64
	Slippage       float64
	DetectionDelay time.Duration
	ExecutionDelay time.Duration
	TotalDelay     time.Duration
	NoFillReason   string
	CreatedAt      time.Time
}

// Filled reports whether the simulation produced shares.
func (p PaperTrade) Filled() bool { return p.Size > 0 && p.NoFillReason == "" }

// RawFill represents a raw on-chain order-filled event from Goldsky. Amounts
// are 6-decimal fixed point strings as returned by the subgraph.
type RawFill struct {
	ID                string
	Timestamp         int64
	Maker             string
	MakerAssetID      string
	MakerAmountFilled string
	Taker             string
	TakerAssetID      string
	TakerAmountFilled string
	TransactionHash   string
}
