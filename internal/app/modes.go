package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/polyshadow/internal/blob/s3"
	"github.com/alanyoungcy/polyshadow/internal/config"
	"github.com/alanyoungcy/polyshadow/internal/feed"
	"github.com/alanyoungcy/polyshadow/internal/server"
	"github.com/alanyoungcy/polyshadow/internal/server/handler"
	"github.com/alanyoungcy/polyshadow/internal/server/ws"
	"github.com/alanyoungcy/polyshadow/internal/service"
	"github.com/alanyoungcy/polyshadow/internal/settlement"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 5 * time.Second

// PaperMode seeds the wallet set and runs trade ingestion, settlement, the
// metadata backfill and, when enabled, the dashboard.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Float64("size_usd", a.cfg.Paper.SizeUSD),
	)

	if err := a.seedWallets(ctx, deps); err != nil {
		return err
	}

	trader := service.NewPaperTrader(
		deps.Store,
		deps.Gamma,
		deps.Clob,
		deps.BookCache,
		deps.SignalBus,
		deps.Notifier,
		service.PaperTraderConfig{
			SizeUSD:         a.cfg.Paper.SizeUSD,
			MetadataTimeout: a.cfg.Paper.MetadataTimeout.Duration,
			BookTimeout:     a.cfg.Paper.BookTimeout.Duration,
			NotifyNoFills:   a.cfg.Paper.NotifyNoFills,
		},
		a.logger,
	)
	if err := trader.RecordStart(ctx, deps.Store); err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}

	tradeFeed := feed.NewTradeFeed(
		deps.Goldsky,
		deps.Store,
		deps.Store,
		trader.HandleTrade,
		feed.TradeFeedConfig{
			PollInterval: a.cfg.Goldsky.PollInterval.Duration,
			BatchSize:    a.cfg.Goldsky.BatchSize,
			Lookback:     a.cfg.Goldsky.Lookback.Duration,
			DedupTTL:     a.cfg.Goldsky.DedupTTL.Duration,
		},
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tradeFeed.Run(ctx)
	})

	a.startSettlement(ctx, g, deps)

	backfiller := a.newBackfiller(deps)
	g.Go(func() error {
		return backfiller.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// SettleMode runs only the settlement poll loop and the push listener.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSettlement(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the dashboard over an existing store.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// BackfillMode runs one metadata backfill pass and returns.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backfill mode")

	report, err := a.newBackfiller(deps).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("backfill mode: %w", err)
	}
	a.logger.InfoContext(ctx, "backfill finished",
		slog.Int("candidates", report.Candidates),
		slog.Int("updated", report.Updated),
		slog.Int("failed", report.Failed),
	)
	return nil
}

// ArchiveMode exports one UTC day of records to S3 and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	day := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.DaysAgo)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.String("day", day.Format(time.DateOnly)),
		slog.String("bucket", deps.Blob.Bucket()),
	)

	archiver := s3blob.NewArchiver(deps.Blob, deps.Blob, deps.Store, a.cfg.S3.Overwrite, a.logger)
	res, err := archiver.ArchiveDay(ctx, day)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive finished",
		slog.Int64("target_trades", res.TargetTrades),
		slog.Int64("paper_trades", res.PaperTrades),
		slog.Int64("snapshots", res.Snapshots),
		slog.Int64("positions", res.Positions),
	)
	return nil
}

// seedWallets enables the configured and leaderboard wallets.
func (a *App) seedWallets(ctx context.Context, deps *Dependencies) error {
	var leaderboard service.LeaderboardSource
	if a.cfg.Paper.Leaderboard {
		leaderboard = deps.Data
	}
	wallets := service.NewWalletService(deps.Store, leaderboard, service.WalletConfig{
		Addresses:             a.cfg.Paper.Wallets,
		Leaderboard:           a.cfg.Paper.Leaderboard,
		LeaderboardCategories: a.cfg.Paper.LeaderboardCategories,
		LeaderboardPeriod:     a.cfg.Paper.LeaderboardPeriod,
		LeaderboardOrderBy:    a.cfg.Paper.LeaderboardOrderBy,
		LeaderboardLimit:      a.cfg.Paper.LeaderboardLimit,
	}, a.logger)

	report, err := wallets.Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed wallets: %w", err)
	}
	a.logger.InfoContext(ctx, "wallets seeded",
		slog.Int("config", report.Config),
		slog.Int("leaderboard", report.Leaderboard),
		slog.Int("skipped", report.Skipped),
	)
	return nil
}

// startSettlement adds the poll loop and, when enabled, the push listener to g.
func (a *App) startSettlement(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sink := service.NewSettlementSink(deps.SignalBus, deps.Notifier, a.logger)
	scheduler := settlement.NewScheduler(
		deps.Store,
		deps.Gamma,
		settlement.Policy{
			ErrorLadder:     config.Durations(a.cfg.Settlement.ErrorLadder),
			SuccessCooldown: a.cfg.Settlement.SuccessCooldown.Duration,
			FetchTimeout:    a.cfg.Settlement.FetchTimeout.Duration,
		},
		sink,
		a.logger,
	)

	g.Go(func() error {
		return scheduler.Run(ctx, a.cfg.Settlement.PollInterval.Duration)
	})

	if a.cfg.Settlement.PushEnabled && a.cfg.Polymarket.WsHost != "" {
		push := feed.NewResolutionFeed(a.cfg.Polymarket.WsHost, scheduler.HandlePush, a.logger)
		g.Go(func() error {
			return push.Run(ctx)
		})
	}
}

func (a *App) newBackfiller(deps *Dependencies) *service.MetadataBackfiller {
	return service.NewMetadataBackfiller(deps.Store, deps.Gamma, service.BackfillConfig{
		Interval:  a.cfg.Backfill.Interval.Duration,
		Throttle:  a.cfg.Backfill.Throttle.Duration,
		BatchSize: a.cfg.Backfill.BatchSize,
		Timeout:   a.cfg.Backfill.Timeout.Duration,
	}, a.logger)
}

// startHTTPServer adds the dashboard server, its shutdown watcher and, when
// a signal bus is configured, the websocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	checks := map[string]handler.Check{"store": deps.Store.Ping}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}

	reports := service.NewReportService(deps.Store)
	h := server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Summary:   handler.NewSummaryHandler(reports, deps.Store, a.logger),
		Trades:    handler.NewTradeHandler(deps.Store, a.logger),
		Positions: handler.NewPositionHandler(reports, a.logger),
		Markets:   handler.NewMarketHandler(deps.Store, a.logger),
		Orderbook: handler.NewOrderbookHandler(deps.BookCache, a.logger),
		PnL:       handler.NewPnLHandler(reports, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}
