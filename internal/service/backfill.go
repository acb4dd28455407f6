package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// BackfillStore is what the metadata backfill reads and writes.
type BackfillStore interface {
	domain.TxRunner
	ListIncompleteInstruments(ctx context.Context, limit int) ([]domain.Instrument, error)
}

// BackfillConfig tunes the metadata backfill.
type BackfillConfig struct {
	Interval  time.Duration
	Throttle  time.Duration
	BatchSize int
	Timeout   time.Duration
}

// BackfillReport summarises one pass.
type BackfillReport struct {
	Candidates int
	Updated    int
	Failed     int
}

// MetadataBackfiller refetches metadata for instruments ingested with a
// placeholder question or a malformed category.
type MetadataBackfiller struct {
	store  BackfillStore
	meta   MetadataSource
	cfg    BackfillConfig
	logger *slog.Logger
}

// NewMetadataBackfiller creates a MetadataBackfiller.
func NewMetadataBackfiller(store BackfillStore, meta MetadataSource, cfg BackfillConfig, logger *slog.Logger) *MetadataBackfiller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MetadataBackfiller{
		store:  store,
		meta:   meta,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "backfill")),
	}
}

// Run backfills every interval until ctx is cancelled.
func (b *MetadataBackfiller) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := b.RunOnce(ctx); err != nil && ctx.Err() == nil {
			b.logger.ErrorContext(ctx, "backfill pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce refetches one batch of incomplete instruments. A rate-limit
// response ends the pass early.
func (b *MetadataBackfiller) RunOnce(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport

	insts, err := b.store.ListIncompleteInstruments(ctx, b.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("backfill: list: %w", err)
	}
	report.Candidates = len(insts)

	for i, inst := range insts {
		if i > 0 && b.cfg.Throttle > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(b.cfg.Throttle):
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		fresh, err := b.meta.FetchInstrument(fetchCtx, inst.TokenID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			b.logger.WarnContext(ctx, "metadata fetch failed",
				slog.String("token_id", inst.TokenID),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, domain.ErrRateLimited) {
				break
			}
			continue
		}

		fresh.TokenID = inst.TokenID
		fresh.FirstSeenAt = inst.FirstSeenAt
		err =b.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.UpsertInstrument(ctx, fresh)
		})
		if err != nil {
			return report, fmt.Errorf("backfill: update %s: %w", inst.TokenID, err)
		}
		report.Updated++
	}

	if report.Candidates > 0 {
		b.logger.InfoContext(ctx, "backfill pass done",
			slog.Int("candidates", report.Candidates),
			slog.Int("updated", report.Updated),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}
