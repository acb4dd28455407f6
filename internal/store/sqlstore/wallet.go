package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// UpsertWallet adds a wallet or refreshes its leaderboard data. The tracking
// flag of an existing wallet is left alone.
func (t *txStore) UpsertWallet(ctx context.Context, w domain.Wallet) error {
	added := w.AddedAt
	if added.IsZero() {
		added = time.Now()
	}
	source := w.Source
	if source == "" {
		source = "config"
	}
	_, err := t.q.exec(ctx, `
		INSERT INTO wallets (
			address, alias, source, leaderboard_pnl, leaderboard_volume,
			tracking_enabled, added_at, enabled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			alias = COALESCE(NULLIF(excluded.alias, ''), wallets.alias),
			leaderboard_pnl = excluded.leaderboard_pnl,
			leaderboard_volume = excluded.leaderboard_volume`,
		strings.ToLower(w.Address), w.Alias, source, w.LeaderboardPnL, w.LeaderboardVol,
		w.TrackingEnabled, ms(added), nullMs(w.EnabledAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert wallet %s: %w", w.Address, err)
	}
	return nil
}

func (t *txStore) SetWalletTracking(ctx context.Context, address string, enabled bool, at time.Time) error {
	query := `UPDATE wallets SET tracking_enabled = ?, enabled_at = ? WHERE address = ?`
	if !enabled {
		query = `UPDATE wallets SET tracking_enabled = ?, disabled_at = ? WHERE address = ?`
	}
	res, err := t.q.exec(ctx, query, enabled, ms(at), strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("sqlstore: set wallet tracking %s: %w", address, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlstore: set wallet tracking %s: %w", address, domain.ErrNotFound)
	}
	return nil
}

// ListWallets returns wallets ordered by leaderboard pnl.
func (s *Store) ListWallets(ctx context.Context, enabledOnly bool) ([]domain.Wallet, error) {
	query := `
		SELECT address, alias, source, leaderboard_pnl, leaderboard_volume,
			tracking_enabled, added_at, enabled_at, disabled_at
		FROM wallets`
	if enabledOnly {
		query += ` WHERE tracking_enabled`
	}
	query += ` ORDER BY leaderboard_pnl DESC, address`

	rows, err := s.q().query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list wallets: %w", err)
	}
	defer rows.Close()

	var out []domain.Wallet
	for rows.Next() {
		var (
			w                 domain.Wallet
			added             int64
			enabled, disabled sql.NullInt64
		)
		if err := rows.Scan(&w.Address, &w.Alias, &w.Source, &w.LeaderboardPnL, &w.LeaderboardVol,
			&w.TrackingEnabled, &added, &enabled, &disabled); err != nil {
			return nil, fmt.Errorf("sqlstore: scan wallet: %w", err)
		}
		w.AddedAt = fromMs(added)
		w.EnabledAt = fromNullMs(enabled)
		w.DisabledAt = fromNullMs(disabled)
		out = append(out, w)
	}
	return out, rows.Err()
}
