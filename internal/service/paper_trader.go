package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/fillsim"
	"github.com/alanyoungcy/polyshadow/internal/ledger"
	"github.com/alanyoungcy/polyshadow/internal/notify"
)

// Run state keys.
const (
	StateLastStart    = "last_start"
	StatePaperSizeUSD = "paper_size_usd"
)

// MetadataSource resolves instrument metadata by token id.
type MetadataSource interface {
	FetchInstrument(ctx context.Context, tokenID string) (domain.Instrument, error)
}

// BookSource fetches the current order book of an instrument.
type BookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// TradeStore is what the ingestion path needs from persistence.
type TradeStore interface {
	domain.TxRunner
	GetInstrument(ctx context.Context, tokenID string) (domain.Instrument, error)
}

// PaperTraderConfig tunes ingestion.
type PaperTraderConfig struct {
	SizeUSD         float64
	MetadataTimeout time.Duration
	BookTimeout     time.Duration
	NotifyNoFills   bool
}

// PaperTrader copies observed trades: it snapshots the book, simulates a
// fixed-notional fill and applies it to the paper position.
type PaperTrader struct {
	store    TradeStore
	meta     MetadataSource
	books    BookSource
	cache    domain.OrderbookCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	cfg      PaperTraderConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewPaperTrader creates a PaperTrader. cache, bus and notifier may be nil.
func NewPaperTrader(
	store TradeStore,
	meta MetadataSource,
	books BookSource,
	cache domain.OrderbookCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	cfg PaperTraderConfig,
	logger *slog.Logger,
) *PaperTrader {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 10 * time.Second
	}
	if cfg.BookTimeout <= 0 {
		cfg.BookTimeout = 10 * time.Second
	}
	return &PaperTrader{
		store:    store,
		meta:     meta,
		books:    books,
		cache:    cache,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "paper_trader")),
		now:      time.Now,
	}
}

// RecordStart writes the process start time and trade size to run state.
func (p *PaperTrader) RecordStart(ctx context.Context, state domain.StateStore) error {
	if err := state.SetState(ctx, StateLastStart, p.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("paper_trader: record start: %w", err)
	}
	size := strconv.FormatFloat(p.cfg.SizeUSD, 'f', -1, 64)
	if err := state.SetState(ctx, StatePaperSizeUSD, size); err != nil {
		return fmt.Errorf("paper_trader: record size: %w", err)
	}
	return nil
}

// HandleTrade ingests one trade event. It matches feed.TradeHandler.
func (p *PaperTrader) HandleTrade(ctx context.Context, ev domain.TradeEvent) error {
	_, err := p.Ingest(ctx, ev)
	return err
}

// Ingest records ev with its book snapshot and simulated paper trade in one
// transaction and returns the published fill event. A repeated event returns
// an error wrapping domain.ErrAlreadyExists and changes nothing. A missing
// order book returns domain.ErrUnavailable and records nothing.
func (p *PaperTrader) Ingest(ctx context.Context, ev domain.TradeEvent) (domain.FillEvent, error) {
	detectedAt := p.now().UTC()
	if err := ev.Validate(); err != nil {
		return domain.FillEvent{}, fmt.Errorf("paper_trader: %w", err)
	}
	ev.Wallet = strings.ToLower(ev.Wallet)
	log := p.logger.With(
		slog.String("token_id", ev.TokenID),
		slog.String("wallet", ev.Wallet),
		slog.String("side", string(ev.Side)),
	)

	inst := p.instrument(ctx, ev.TokenID, detectedAt, log)

	bookCtx, cancel := context.WithTimeout(ctx, p.cfg.BookTimeout)
	fetchStart := p.now()
	book, err := p.books.GetOrderBook(bookCtx, ev.TokenID)
	latency := p.now().Sub(fetchStart)
	cancel()
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("paper_trader: order book %s: %w: %w", ev.TokenID, domain.ErrUnavailable, err)
	}
	if book.AssetID == "" {
		book.AssetID = ev.TokenID
	}

	fill, err := fillsim.Simulate(ev.Side, p.cfg.SizeUSD, book)
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("paper_trader: simulate: %w", err)
	}
	filledAt := p.now().UTC()

	paper := domain.PaperTrade{
		TokenID:        ev.TokenID,
		Side:           ev.Side,
		DetectionDelay: delay(ev.OnchainTime, detectedAt),
		ExecutionDelay: filledAt.Sub(detectedAt),
		TotalDelay:     delay(ev.OnchainTime, filledAt),
		NoFillReason:   fill.NoFillReason,
		CreatedAt:      filledAt,
	}
	if fill.Filled() {
		paper.Size = fill.Shares
		paper.AvgPrice = fill.AvgPrice
		paper.CostUSD = fill.Cost
		paper.Slippage = fillsim.Slippage(ev.Side, fill.AvgPrice, ev.Price)
	}

	var targetID int64
	err = p.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.UpsertInstrument(ctx, inst); err != nil {
			return err
		}
		var err error
		targetID, err = tx.InsertTargetTrade(ctx, domain.TargetTrade{
			EventKey:    ev.Key(),
			Wallet:      ev.Wallet,
			TokenID:     ev.TokenID,
			Side:        ev.Side,
			Size:        ev.Size,
			Price:       ev.Price,
			CostUSD:     ev.Size * ev.Price,
			TxHash:      strings.ToLower(ev.TxHash),
			BlockNumber: ev.BlockNumber,
			OnchainAt:   ev.OnchainTime,
			DetectedAt:  detectedAt,
		})
		if err != nil {
			return err
		}

		snap := domain.NewBookSnapshot(book, latency, detectedAt)
		snap.TargetTradeID = targetID
		snap.TokenID = ev.TokenID
		snapID, err := tx.InsertBookSnapshot(ctx, snap)
		if err != nil {
			return err
		}

		paper.TargetTradeID = targetID
		paper.SnapshotID = snapID
		if paper.ID, err = tx.InsertPaperTrade(ctx, paper); err != nil {
			return err
		}
		if !fill.Filled() {
			return nil
		}
		return applyPaperFill(ctx, tx, paper, log)
	})
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("paper_trader: ingest %s: %w", ev.Key(), err)
	}

	out := domain.FillEvent{
		ID:            uuid.NewString(),
		TargetTradeID: targetID,
		PaperTradeID:  paper.ID,
		Wallet:        ev.Wallet,
		TokenID:       ev.TokenID,
		Question:      inst.Question,
		Side:          ev.Side,
		TargetPrice:   ev.Price,
		Size:          paper.Size,
		AvgPrice:      paper.AvgPrice,
		Slippage:      paper.Slippage,
		NoFillReason:  paper.NoFillReason,
		At:            filledAt,
	}
	if fill.Filled() {
		log.InfoContext(ctx, "paper trade filled",
			slog.Float64("shares", fill.Shares),
			slog.Float64("avg_price", fill.AvgPrice),
			slog.Float64("slippage", paper.Slippage),
			slog.Int("levels", fill.Levels),
			slog.Duration("total_delay", paper.TotalDelay),
		)
	} else {
		log.InfoContext(ctx, "paper trade not filled", slog.String("reason", fill.NoFillReason))
	}

	p.afterCommit(ctx, book, out, log)
	return out, nil
}

// instrument returns stored metadata when complete, otherwise fetches it.
// A failed fetch yields a placeholder picked up later by the backfill.
func (p *PaperTrader) instrument(ctx context.Context, tokenID string, seen time.Time, log *slog.Logger) domain.Instrument {
	if known, err := p.store.GetInstrument(ctx, tokenID); err == nil && !known.NeedsMetadata() {
		return known
	}

	metaCtx, cancel := context.WithTimeout(ctx, p.cfg.MetadataTimeout)
	defer cancel()
	inst, err := p.meta.FetchInstrument(metaCtx, tokenID)
	if err != nil {
		log.WarnContext(ctx, "metadata unavailable, using placeholder", slog.String("error", err.Error()))
		return domain.Instrument{TokenID: tokenID, Question: domain.PlaceholderQuestion, FirstSeenAt: seen}
	}
	inst.TokenID = tokenID
	if inst.FirstSeenAt.IsZero() {
		inst.FirstSeenAt = seen
	}
	return inst
}

// applyPaperFill moves the position inside tx. A fill on a resolved
// instrument stays recorded but no longer changes the position.
func applyPaperFill(ctx context.Context, tx domain.Tx, paper domain.PaperTrade, log *slog.Logger) error {
	inst, err := tx.GetInstrument(ctx, paper.TokenID)
	if err != nil {
		return err
	}
	if inst.Resolved {
		log.WarnContext(ctx, "fill on resolved instrument recorded without position change")
		return nil
	}

	pos, err := tx.GetPosition(ctx, paper.TokenID)
	if errors.Is(err, domain.ErrNotFound) {
		pos = domain.Position{TokenID: paper.TokenID}
	} else if err != nil {
		return err
	}

	res := ledger.ApplyFill(pos, paper.Side, paper.Size, paper.AvgPrice)
	if res.Dropped > 0 {
		log.WarnContext(ctx, "sell exceeds held size, clamped",
			slog.Float64("held", pos.Size),
			slog.Float64("dropped", res.Dropped),
		)
	}
	res.Position.UpdatedAt = paper.CreatedAt
	return tx.SavePosition(ctx, res.Position)
}

func (p *PaperTrader) afterCommit(ctx context.Context, book domain.OrderbookSnapshot, ev domain.FillEvent, log *slog.Logger) {
	if p.cache != nil {
		if err := p.cache.SetSnapshot(ctx, ev.TokenID, book); err != nil {
			log.WarnContext(ctx, "caching order book failed", slog.String("error", err.Error()))
		}
	}
	if err := broadcast(ctx, p.bus, domain.ChannelPaperFills, ev); err != nil {
		log.WarnContext(ctx, "publishing fill failed", slog.String("error", err.Error()))
	}
	if p.cfg.NotifyNoFills && ev.NoFillReason != "" {
		if err := p.notifier.NoFill(ctx, ev); err != nil {
			log.WarnContext(ctx, "no-fill notification failed", slog.String("error", err.Error()))
		}
	}
}

func delay(from, to time.Time) time.Duration {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}
