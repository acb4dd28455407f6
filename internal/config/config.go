// Package config defines the polyshadow configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Run modes.
const (
	ModePaper    = "paper"
	ModeSettle   = "settle"
	ModeServer   = "server"
	ModeBackfill = "backfill"
	ModeArchive  = "archive"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration. Fields are decoded from TOML and then
// overridden by POLYSHADOW_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	Log        LogConfig        `toml:"log"`
	Store      StoreConfig      `toml:"store"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Goldsky    GoldskyConfig    `toml:"goldsky"`
	Paper      PaperConfig      `toml:"paper"`
	Settlement SettlementConfig `toml:"settlement"`
	Backfill   BackfillConfig   `toml:"backfill"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or text
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	Driver        string `toml:"driver"`
	SQLitePath    string `toml:"sqlite_path"`
	PostgresDSN   string `toml:"postgres_dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// PolymarketConfig holds the public API hosts.
type PolymarketConfig struct {
	GammaHost         string   `toml:"gamma_host"`
	ClobHost          string   `toml:"clob_host"`
	DataHost          string   `toml:"data_host"`
	WsHost            string   `toml:"ws_host"`
	RequestTimeout    duration `toml:"request_timeout"`
	RequestsPerSecond int      `toml:"requests_per_second"`
}

// GoldskyConfig configures the on-chain fill poller.
type GoldskyConfig struct {
	URL          string   `toml:"url"`
	APIKey       string   `toml:"api_key"`
	PollInterval duration `toml:"poll_interval"`
	BatchSize    int      `toml:"batch_size"`
	Lookback     duration `toml:"lookback"`
	DedupTTL     duration `toml:"dedup_ttl"`
	Timeout      duration `toml:"timeout"`
}

// PaperConfig configures copy trading and wallet selection.
type PaperConfig struct {
	SizeUSD               float64  `toml:"size_usd"`
	Wallets               []string `toml:"wallets"`
	Leaderboard           bool     `toml:"leaderboard"`
	LeaderboardCategories []string `toml:"leaderboard_categories"`
	LeaderboardPeriod     string   `toml:"leaderboard_period"`
	LeaderboardOrderBy    string   `toml:"leaderboard_order_by"`
	LeaderboardLimit      int      `toml:"leaderboard_limit"`
	MetadataTimeout       duration `toml:"metadata_timeout"`
	BookTimeout           duration `toml:"book_timeout"`
	NotifyNoFills         bool     `toml:"notify_no_fills"`
}

// SettlementConfig configures the resolution check schedule.
type SettlementConfig struct {
	PollInterval    duration   `toml:"poll_interval"`
	SuccessCooldown duration   `toml:"success_cooldown"`
	ErrorLadder     []duration `toml:"error_ladder"`
	FetchTimeout    duration   `toml:"fetch_timeout"`
	PushEnabled     bool       `toml:"push_enabled"`
}

// BackfillConfig configures the metadata backfill.
type BackfillConfig struct {
	Interval  duration `toml:"interval"`
	Throttle  duration `toml:"throttle"`
	BatchSize int      `toml:"batch_size"`
	Timeout   duration `toml:"timeout"`
}

// RedisConfig configures the optional cache, bus and shared rate limiter.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	BookTTL    duration `toml:"book_ttl"`
}

// S3Config configures the archive export target.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// DaysAgo picks the exported UTC day; 1 is yesterday.
	DaysAgo   int  `toml:"days_ago"`
	Overwrite bool `toml:"overwrite"`
}

// ServerConfig configures the dashboard API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML can hold strings like "15m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Durations unwraps a duration list.
func Durations(ds []duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.Duration
	}
	return out
}

// Defaults returns a Config populated with working defaults.
func Defaults() Config {
	return Config{
		Mode: ModePaper,
		Log:  LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Driver:        DriverSQLite,
			SQLitePath:    "data/polyshadow.db",
			Port:          5432,
			SSLMode:       "require",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Polymarket: PolymarketConfig{
			GammaHost:         "https://gamma-api.polymarket.com",
			ClobHost:          "https://clob.polymarket.com",
			DataHost:          "https://data-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RequestTimeout:    duration{10 * time.Second},
			RequestsPerSecond: 5,
		},
		Goldsky: GoldskyConfig{
			URL:          "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/orderbook-subgraph/0.0.1/gn",
			PollInterval: duration{15 * time.Second},
			BatchSize:    500,
			Lookback:     duration{10 * time.Minute},
			DedupTTL:     duration{time.Hour},
			Timeout:      duration{20 * time.Second},
		},
		Paper: PaperConfig{
			SizeUSD:               100,
			Leaderboard:           false,
			LeaderboardCategories: []string{"OVERALL"},
			LeaderboardPeriod:     "MONTH",
			LeaderboardOrderBy:    "PNL",
			LeaderboardLimit:      20,
			MetadataTimeout:       duration{10 * time.Second},
			BookTimeout:           duration{10 * time.Second},
		},
		Settlement: SettlementConfig{
			PollInterval:    duration{5 * time.Minute},
			SuccessCooldown: duration{4 * time.Hour},
			ErrorLadder: []duration{
				{15 * time.Minute}, {30 * time.Minute}, {time.Hour}, {2 * time.Hour}, {4 * time.Hour},
			},
			FetchTimeout: duration{15 * time.Second},
			PushEnabled:  true,
		},
		Backfill: BackfillConfig{
			Interval:  duration{10 * time.Minute},
			Throttle:  duration{500 * time.Millisecond},
			BatchSize: 200,
			Timeout:   duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "polyshadow:",
			BookTTL:    duration{24 * time.Hour},
		},
		S3: S3Config{
			Region:  "us-east-1",
			UseSSL:  true,
			DaysAgo: 1,
		},
		Server: ServerConfig{
			Enabled:     true,
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement"},
		},
	}
}

var validModes = map[string]bool{
	ModePaper:    true,
	ModeSettle:   true,
	ModeServer:   true,
	ModeBackfill: true,
	ModeArchive:  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks for invalid or missing values and returns every problem
// found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: paper, settle, server, backfill, archive)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		add("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		add("log: format must be json or text, got %q", c.Log.Format)
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			add("store: sqlite_path must not be empty")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			if c.Store.Host == "" || c.Store.Database == "" {
				add("store: postgres_dsn or host and database must be set")
			}
			if c.Store.Port <= 0 || c.Store.Port > 65535 {
				add("store: port must be 1-65535, got %d", c.Store.Port)
			}
		}
		if c.Store.PoolMaxConns < 1 {
			add("store: pool_max_conns must be >= 1")
		}
		if c.Store.PoolMinConns < 0 || c.Store.PoolMinConns > c.Store.PoolMaxConns {
			add("store: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("store: unknown driver %q (valid: sqlite, postgres)", c.Store.Driver)
	}

	if c.Polymarket.GammaHost == "" || c.Polymarket.ClobHost == "" {
		add("polymarket: gamma_host and clob_host must not be empty")
	}
	if c.Polymarket.RequestsPerSecond < 0 {
		add("polymarket: requests_per_second must be >= 0")
	}

	if mode == ModePaper {
		if c.Goldsky.URL == "" {
			add("goldsky: url is required for mode paper")
		}
		if c.Goldsky.PollInterval.Duration <= 0 {
			add("goldsky: poll_interval must be > 0")
		}
		if c.Goldsky.BatchSize < 1 {
			add("goldsky: batch_size must be >= 1")
		}
		if c.Paper.SizeUSD <= 0 {
			add("paper: size_usd must be > 0")
		}
		if len(c.Paper.Wallets) == 0 && !c.Paper.Leaderboard {
			add("paper: set wallets or enable leaderboard")
		}
	}
	for _, w := range c.Paper.Wallets {
		addr := w
		if _, a, ok := strings.Cut(w, "="); ok {
			addr = a
		}
		if !common.IsHexAddress(strings.TrimSpace(addr)) {
			add("paper: invalid wallet %q", w)
		}
	}

	if mode == ModePaper || mode == ModeSettle {
		if c.Settlement.PollInterval.Duration <= 0 {
			add("settlement: poll_interval must be > 0")
		}
		if c.Settlement.SuccessCooldown.Duration <= 0 {
			add("settlement: success_cooldown must be > 0")
		}
		for i, d := range c.Settlement.ErrorLadder {
			if d.Duration <= 0 {
				add("settlement: error_ladder[%d] must be > 0", i)
			}
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty when enabled")
	}

	if mode == ModeArchive {
		if c.S3.Bucket == "" {
			add("s3: bucket is required for mode archive")
		}
		if c.S3.DaysAgo < 0 {
			add("s3: days_ago must be >= 0")
		}
	}

	if c.Server.Enabled || mode == ModeServer {
		if c.Server.Addr == "" {
			add("server: addr must not be empty")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
