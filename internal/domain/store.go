package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit   int
	Offset  int
	Since   *time.Time
	Until   *time.Time
	TokenID string
	Wallet  string
}

// Tx is the set of mutations available inside one store transaction. Every
// position change happens through a Tx together with the event causing it.
type Tx interface {
	// UpsertInstrument writes metadata only; resolution and check columns
	// are left untouched on conflict.
	UpsertInstrument(ctx context.Context, inst Instrument) error
	GetInstrument(ctx context.Context, tokenID string) (Instrument, error)
	TokenIDsByCondition(ctx context.Context, conditionID string) ([]string, error)
	MaxCheckFailures(ctx context.Context, tokenIDs []string) (int, error)
	UpdateCheckState(ctx context.Context, tokenIDs []string, st CheckState) error
	MarkResolved(ctx context.Context, tokenID string, outcomeIndex int, payout float64, at time.Time) error

	InsertTargetTrade(ctx context.Context, t TargetTrade) (int64, error)
	InsertBookSnapshot(ctx context.Context, s BookSnapshot) (int64, error)
	InsertPaperTrade(ctx context.Context, p PaperTrade) (int64, error)

	GetPosition(ctx context.Context, tokenID string) (Position, error)
	SavePosition(ctx context.Context, p Position) error

	UpsertWallet(ctx context.Context, w Wallet) error
	SetWalletTracking(ctx context.Context, address string, enabled bool, at time.Time) error
	SetState(ctx context.Context, key, value string) error
}

// TxRunner runs fn inside one atomic transaction. Serialization conflicts are
// retried; any error returned by fn rolls the transaction back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ScheduleReader lists markets for the settlement poll cycle.
type ScheduleReader interface {
	ListDueChecks(ctx context.Context, now time.Time) ([]DueCheck, error)
	CountCoolingChecks(ctx context.Context, now time.Time) (int, error)
}

// InstrumentReader reads instrument metadata outside a transaction.
type InstrumentReader interface {
	GetInstrument(ctx context.Context, tokenID string) (Instrument, error)
	ListIncompleteInstruments(ctx context.Context, limit int) ([]Instrument, error)
}

// TradeStats aggregates the trade history for the summary view.
type TradeStats struct {
	TargetTrades   int64
	PaperTrades    int64
	Filled         int64
	NoFills        int64
	AvgSlippage    float64
	RealizedPnL    float64
	OpenPositions  int64
	TrackedWallets int64
}

// LatencyStats aggregates paper trade delays.
type LatencyStats struct {
	Samples      int64
	AvgDetection time.Duration
	AvgExecution time.Duration
	AvgTotal     time.Duration
	MinTotal     time.Duration
	MaxTotal     time.Duration
}

// ReportReader is the read-only view used by the dashboard and archiver.
type ReportReader interface {
	ListTargetTrades(ctx context.Context, opts ListOpts) ([]TargetTrade, error)
	ListPaperTrades(ctx context.Context, opts ListOpts) ([]PaperTrade, error)
	ListBookSnapshots(ctx context.Context, opts ListOpts) ([]BookSnapshot, error)
	GetBookSnapshotByTrade(ctx context.Context, targetTradeID int64) (BookSnapshot, error)
	ListPositions(ctx context.Context, opts ListOpts) ([]PositionView, error)
	ListMarketStatus(ctx context.Context, opts ListOpts) ([]MarketStatus, error)
	ListWallets(ctx context.Context, enabledOnly bool) ([]Wallet, error)
	TradeStats(ctx context.Context) (TradeStats, error)
	LatencyStats(ctx context.Context) (LatencyStats, error)
	CategoryVolume(ctx context.Context) (map[string]float64, error)
	ListCostSeries(ctx context.Context, opts ListOpts) ([]CostPoint, error)
}

// StateStore keeps small key/value run state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Store is the full persistence contract implemented by the sql drivers.
type Store interface {
	TxRunner
	ScheduleReader
	InstrumentReader
	ReportReader
	StateStore
	Ping(ctx context.Context) error
	Close() error
}
