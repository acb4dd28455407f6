package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/platform/goldsky"
)

// CursorKey is the run state key holding the last processed fill timestamp
// (unix seconds).
const CursorKey = "goldsky_cursor"

// FillSource fetches raw fills for a set of wallets.
type FillSource interface {
	FetchWalletFills(ctx context.Context, wallets []string, since time.Time, first int) ([]domain.RawFill, error)
}

// WalletLister returns the wallets to follow.
type WalletLister interface {
	ListWallets(ctx context.Context, enabledOnly bool) ([]domain.Wallet, error)
}

// TradeHandler ingests one trade event. It is called from a single goroutine.
type TradeHandler func(ctx context.Context, ev domain.TradeEvent) error

// TradeFeedConfig tunes the polling loop.
type TradeFeedConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Lookback     time.Duration // start point when no cursor is stored
	DedupTTL     time.Duration
}

// TradeFeed polls the fill source for tracked wallets and hands each new
// trade event to the handler in on-chain order.
type TradeFeed struct {
	source  FillSource
	wallets WalletLister
	state   domain.StateStore
	handler TradeHandler
	cfg     TradeFeedConfig
	dedup   *Dedup
	logger  *slog.Logger

	cursor time.Time
}

// NewTradeFeed creates a TradeFeed.
func NewTradeFeed(source FillSource, wallets WalletLister, state domain.StateStore, handler TradeHandler, cfg TradeFeedConfig, logger *slog.Logger) *TradeFeed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	return &TradeFeed{
		source:  source,
		wallets: wallets,
		state:   state,
		handler: handler,
		cfg:     cfg,
		dedup:   NewDedup(cfg.DedupTTL),
		logger:  logger.With(slog.String("component", "trade_feed")),
	}
}

// Run loads the cursor and polls until ctx is cancelled.
func (f *TradeFeed) Run(ctx context.Context) error {
	if err := f.loadCursor(ctx); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "trade feed started",
		slog.Time("cursor", f.cursor),
		slog.Duration("interval", f.cfg.PollInterval),
	)
	defer f.logger.Info("trade feed stopped")

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := f.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.WarnContext(ctx, "trade feed poll failed", slog.String("error", err.Error()))
		}
		f.dedup.Cleanup()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one fetch-and-dispatch pass and returns the number of events
// handed to the handler.
func (f *TradeFeed) Poll(ctx context.Context) (int, error) {
	if f.cursor.IsZero() {
		if err := f.loadCursor(ctx); err != nil {
			return 0, err
		}
	}

	wallets, err := f.wallets.ListWallets(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("feed: list wallets: %w", err)
	}
	if len(wallets) == 0 {
		return 0, nil
	}
	tracked := make(map[string]struct{}, len(wallets))
	addrs := make([]string, 0, len(wallets))
	for _, w := range wallets {
		addr := goldsky.NormalizeAddress(w.Address)
		tracked[addr] = struct{}{}
		addrs = append(addrs, addr)
	}

	fills, err := f.source.FetchWalletFills(ctx, addrs, f.cursor, f.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("feed: fetch fills: %w", err)
	}

	handled := 0
	latest := f.cursor
	for _, fill := range fills {
		for _, ev := range TradeEvents(fill, tracked) {
			if f.dedup.IsDuplicate(ev.Key()) {
				continue
			}
			handled++
			f.dispatch(ctx, ev)
			if ctx.Err() != nil {
				return handled, ctx.Err()
			}
		}
		if ts := time.Unix(fill.Timestamp, 0).UTC(); ts.After(latest) {
			latest = ts
		}
	}

	if latest.After(f.cursor) {
		f.cursor = latest
		if err := f.state.SetState(ctx, CursorKey, strconv.FormatInt(latest.Unix(), 10)); err != nil {
			return handled, fmt.Errorf("feed: save cursor: %w", err)
		}
	}
	return handled, nil
}

func (f *TradeFeed) dispatch(ctx context.Context, ev domain.TradeEvent) {
	err := f.handler(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyExists):
		f.logger.InfoContext(ctx, "duplicate trade event ignored", slog.String("key", ev.Key()))
	case errors.Is(err, domain.ErrInvalidInput):
		f.logger.WarnContext(ctx, "invalid trade event dropped",
			slog.String("key", ev.Key()),
			slog.String("error", err.Error()),
		)
	default:
		f.logger.WarnContext(ctx, "trade event not recorded",
			slog.String("key", ev.Key()),
			slog.String("wallet", ev.Wallet),
			slog.String("token_id", ev.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

func (f *TradeFeed) loadCursor(ctx context.Context) error {
	raw, err := f.state.GetState(ctx, CursorKey)
	switch {
	case err == nil:
		sec, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return fmt.Errorf("feed: parse cursor %q: %w", raw, perr)
		}
		f.cursor = time.Unix(sec, 0).UTC()
	case errors.Is(err, domain.ErrNotFound):
		f.cursor = time.Now().Add(-f.cfg.Lookback).UTC().Truncate(time.Second)
	default:
		return fmt.Errorf("feed: load cursor: %w", err)
	}
	return nil
}

// Cursor returns the current fill cursor.
func (f *TradeFeed) Cursor() time.Time { return f.cursor }
