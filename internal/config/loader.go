package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POLYSHADOW_"

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies POLYSHADOW_* overrides. A missing file is not an error when
// path is empty. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose POLYSHADOW_* variable is set and
// parses.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "MODE")

	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.Format, "LOG_FORMAT")

	setStr(&cfg.Store.Driver, "STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "STORE_SQLITE_PATH")
	setStr(&cfg.Store.PostgresDSN, "STORE_POSTGRES_DSN")
	setStr(&cfg.Store.Host, "STORE_HOST")
	setInt(&cfg.Store.Port, "STORE_PORT")
	setStr(&cfg.Store.Database, "STORE_DATABASE")
	setStr(&cfg.Store.User, "STORE_USER")
	setStr(&cfg.Store.Password, "STORE_PASSWORD")
	setStr(&cfg.Store.SSLMode, "STORE_SSL_MODE")
	setInt(&cfg.Store.PoolMaxConns, "STORE_POOL_MAX_CONNS")
	setInt(&cfg.Store.PoolMinConns, "STORE_POOL_MIN_CONNS")
	setBool(&cfg.Store.RunMigrations, "STORE_RUN_MIGRATIONS")

	setStr(&cfg.Polymarket.GammaHost, "POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYMARKET_WS_HOST")
	setDuration(&cfg.Polymarket.RequestTimeout, "POLYMARKET_REQUEST_TIMEOUT")
	setInt(&cfg.Polymarket.RequestsPerSecond, "POLYMARKET_REQUESTS_PER_SECOND")

	setStr(&cfg.Goldsky.URL, "GOLDSKY_URL")
	setStr(&cfg.Goldsky.APIKey, "GOLDSKY_API_KEY")
	setDuration(&cfg.Goldsky.PollInterval, "GOLDSKY_POLL_INTERVAL")
	setInt(&cfg.Goldsky.BatchSize, "GOLDSKY_BATCH_SIZE")
	setDuration(&cfg.Goldsky.Lookback, "GOLDSKY_LOOKBACK")

	setFloat(&cfg.Paper.SizeUSD, "PAPER_SIZE_USD")
	setList(&cfg.Paper.Wallets, "PAPER_WALLETS")
	setBool(&cfg.Paper.Leaderboard, "PAPER_LEADERBOARD")
	setList(&cfg.Paper.LeaderboardCategories, "PAPER_LEADERBOARD_CATEGORIES")
	setInt(&cfg.Paper.LeaderboardLimit, "PAPER_LEADERBOARD_LIMIT")
	setBool(&cfg.Paper.NotifyNoFills, "PAPER_NOTIFY_NO_FILLS")

	setDuration(&cfg.Settlement.PollInterval, "SETTLEMENT_POLL_INTERVAL")
	setDuration(&cfg.Settlement.SuccessCooldown, "SETTLEMENT_SUCCESS_COOLDOWN")
	setDuration(&cfg.Settlement.FetchTimeout, "SETTLEMENT_FETCH_TIMEOUT")
	setBool(&cfg.Settlement.PushEnabled, "SETTLEMENT_PUSH_ENABLED")

	setDuration(&cfg.Backfill.Interval, "BACKFILL_INTERVAL")
	setInt(&cfg.Backfill.BatchSize, "BACKFILL_BATCH_SIZE")

	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.DaysAgo, "S3_DAYS_AGO")

	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "SERVER_ADDR")
	setList(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setList(&cfg.Notify.Events, "NOTIFY_EVENTS")
}

func lookup(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setList(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
