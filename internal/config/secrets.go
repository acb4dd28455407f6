package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// Redacted returns a copy of c with secrets masked, safe to log.
func (c *Config) Redacted() Config {
	out := *c

	out.Store.PostgresDSN = redactDSN(c.Store.PostgresDSN)
	redact(&out.Store.Password)
	redact(&out.Goldsky.APIKey)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Paper.Wallets = slices.Clone(c.Paper.Wallets)
	out.Paper.LeaderboardCategories = slices.Clone(c.Paper.LeaderboardCategories)
	out.Settlement.ErrorLadder = slices.Clone(c.Settlement.ErrorLadder)
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(c.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN masks the password of a URL-form DSN and the whole value
// otherwise.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
