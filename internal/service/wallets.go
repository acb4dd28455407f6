package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/platform/polymarket"
)

// LeaderboardSource lists top wallets of a leaderboard category.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, q polymarket.LeaderboardQuery) ([]domain.Wallet, error)
}

// WalletConfig selects the wallets to follow.
type WalletConfig struct {
	// Addresses are followed unconditionally. "alias=0x..." sets an alias.
	Addresses []string

	Leaderboard           bool
	LeaderboardCategories []string
	LeaderboardPeriod     string
	LeaderboardOrderBy    string
	LeaderboardLimit      int
}

// SeedReport counts the wallets enabled by one seeding run.
type SeedReport struct {
	Config      int
	Leaderboard int
	Skipped     int
}

// WalletService maintains the tracked wallet set.
type WalletService struct {
	store       domain.TxRunner
	leaderboard LeaderboardSource
	cfg         WalletConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewWalletService creates a WalletService. leaderboard may be nil when
// leaderboard seeding is off.
func NewWalletService(store domain.TxRunner, leaderboard LeaderboardSource, cfg WalletConfig, logger *slog.Logger) *WalletService {
	if cfg.LeaderboardPeriod == "" {
		cfg.LeaderboardPeriod = "MONTH"
	}
	if cfg.LeaderboardOrderBy == "" {
		cfg.LeaderboardOrderBy = "PNL"
	}
	if len(cfg.LeaderboardCategories) == 0 {
		cfg.LeaderboardCategories = []string{"overall"}
	}
	return &WalletService{
		store:       store,
		leaderboard: leaderboard,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "wallets")),
		now:         time.Now,
	}
}

// Seed enables the configured wallets and, when configured, the current
// leaderboard wallets. A failing leaderboard category is logged and skipped.
func (s *WalletService) Seed(ctx context.Context) (SeedReport, error) {
	var report SeedReport
	now := s.now().UTC()

	var wallets []domain.Wallet
	for _, entry := range s.cfg.Addresses {
		w, ok := parseWalletEntry(entry)
		if !ok {
			report.Skipped++
			s.logger.WarnContext(ctx, "ignoring invalid wallet address", slog.String("entry", entry))
			continue
		}
		w.AddedAt = now
		wallets = append(wallets, w)
		report.Config++
	}

	if s.cfg.Leaderboard && s.leaderboard != nil {
		for _, cat := range s.cfg.LeaderboardCategories {
			top, err := s.leaderboard.Leaderboard(ctx, polymarket.LeaderboardQuery{
				Category:   cat,
				TimePeriod: s.cfg.LeaderboardPeriod,
				OrderBy:    s.cfg.LeaderboardOrderBy,
				Limit:      s.cfg.LeaderboardLimit,
			})
			if err != nil {
				s.logger.WarnContext(ctx, "leaderboard fetch failed",
					slog.String("category", cat),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, w := range top {
				if !common.IsHexAddress(w.Address) {
					report.Skipped++
					continue
				}
				w.Address = strings.ToLower(w.Address)
				wallets = append(wallets, w)
				report.Leaderboard++
			}
		}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, w := range wallets {
			w.TrackingEnabled = true
			w.EnabledAt = &now
			if err := tx.UpsertWallet(ctx, w); err != nil {
				return err
			}
			if err := tx.SetWalletTracking(ctx, w.Address, true, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SeedReport{}, fmt.Errorf("wallets: seed: %w", err)
	}

	s.logger.InfoContext(ctx, "tracked wallets seeded",
		slog.Int("config", report.Config),
		slog.Int("leaderboard", report.Leaderboard),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

// parseWalletEntry accepts "0x..." or "alias=0x...".
func parseWalletEntry(entry string) (domain.Wallet, bool) {
	alias, addr, found := strings.Cut(strings.TrimSpace(entry), "=")
	if !found {
		addr, alias = alias, ""
	}
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return domain.Wallet{}, false
	}
	return domain.Wallet{
		Address: strings.ToLower(common.HexToAddress(addr).Hex()),
		Alias:   strings.TrimSpace(alias),
		Source:  "config",
	}, true
}
