package domain

import "time"

// Signal bus channels.
const (
	ChannelPaperFills  = "paper_fills"
	ChannelSettlements = "settlements"
)

// FillEvent is published after a paper trade is committed.
type FillEvent struct {
	ID            string    `json:"id"`
	TargetTradeID int64     `json:"target_trade_id"`
	PaperTradeID  int64     `json:"paper_trade_id"`
	Wallet        string    `json:"wallet"`
	TokenID       string    `json:"token_id"`
	Question      string    `json:"question,omitempty"`
	Side          Side      `json:"side"`
	TargetPrice   float64   `json:"target_price"`
	Size          float64   `json:"size"`
	AvgPrice      float64   `json:"avg_price"`
	Slippage      float64   `json:"slippage"`
	NoFillReason  string    `json:"no_fill_reason,omitempty"`
	At            time.Time `json:"at"`
}

// SettlementEvent is published after a resolution is applied.
type SettlementEvent struct {
	ID          string              `json:"id"`
	ConditionID string              `json:"condition_id"`
	Source      string              `json:"source"`
	Instruments []SettledInstrument `json:"instruments"`
	At          time.Time           `json:"at"`
}
