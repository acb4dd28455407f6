package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/polyshadow/internal/blob/s3"
	"github.com/alanyoungcy/polyshadow/internal/cache/redis"
	"github.com/alanyoungcy/polyshadow/internal/config"
	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/notify"
	"github.com/alanyoungcy/polyshadow/internal/platform/goldsky"
	"github.com/alanyoungcy/polyshadow/internal/platform/polymarket"
	"github.com/alanyoungcy/polyshadow/internal/store/postgres"
	"github.com/alanyoungcy/polyshadow/internal/store/sqlite"
	"github.com/alanyoungcy/polyshadow/internal/store/sqlstore"
)

// outboundLimitKey is the shared rate limiter key for Polymarket REST calls.
const outboundLimitKey = "polymarket:rest"

// Dependencies bundles everything the modes need. Optional parts are nil
// when not configured; the interface fields stay untyped nil so callers can
// compare them against nil.
type Dependencies struct {
	Store *sqlstore.Store

	Gamma   *polymarket.GammaClient
	Clob    *polymarket.ClobClient
	Data    *polymarket.DataClient
	Goldsky *goldsky.Client

	// Redis
	Redis       *redis.Client
	BookCache   domain.OrderbookCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob is set only in archive mode.
	Blob *s3blob.Client

	Notifier *notify.Notifier
}

// needsGoldsky reports whether mode ingests trades.
func needsGoldsky(mode string) bool {
	return mode == config.ModePaper
}

// needsS3 reports whether mode exports to object storage.
func needsS3(mode string) bool {
	return mode == config.ModeArchive
}

// Wire builds the dependencies for cfg.Mode and returns them with a cleanup
// function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Store ---
	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	closers = append(closers, func() { _ = store.Close() })
	deps.Store = store

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.BookCache = redis.NewOrderbookCache(rc, cfg.Redis.BookTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(rc)
		// With no outbound limit configured the limiter still backs the
		// API middleware, which passes its own limit to Allow.
		deps.RateLimiter = redis.NewRateLimiter(rc, max(cfg.Polymarket.RequestsPerSecond, 1), time.Second)
	}

	// --- Polymarket REST ---
	opts := []polymarket.Option{polymarket.WithTimeout(cfg.Polymarket.RequestTimeout.Duration)}
	if deps.RateLimiter != nil && cfg.Polymarket.RequestsPerSecond > 0 {
		opts = append(opts, polymarket.WithRateLimiter(deps.RateLimiter, outboundLimitKey))
	}
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, opts...)
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, opts...)
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost, opts...)

	// --- Goldsky (only for ingestion) ---
	if needsGoldsky(mode) {
		deps.Goldsky = goldsky.NewClient(cfg.Goldsky.URL, cfg.Goldsky.APIKey, cfg.Goldsky.Timeout.Duration)
	}

	// --- S3 (only for archive exports) ---
	if needsS3(mode) {
		bc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = bc
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgres.ClientConfig{
			DSN:      cfg.PostgresDSN,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Database: cfg.Database,
			User:     cfg.User,
			Password: cfg.Password,
			SSLMode:  cfg.SSLMode,
			MaxConns: cfg.PoolMaxConns,
			MinConns: cfg.PoolMinConns,
		}, cfg.RunMigrations, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return st, nil
	case config.DriverSQLite, "":
		st, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
