package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// DataClient is the REST client for the Polymarket data API.
type DataClient struct {
	rest restClient
}

// NewDataClient creates a data API client.
//
// baseURL is the data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string, opts ...Option) *DataClient {
	return &DataClient{rest: newRestClient(baseURL, opts...)}
}

// LeaderboardQuery selects one leaderboard page.
type LeaderboardQuery struct {
	Category   string // e.g. "crypto", "overall"
	TimePeriod string // DAY, WEEK, MONTH, ALL
	OrderBy    string // PNL or VOL
	Limit      int
}

// Leaderboard returns the top wallets of one leaderboard category with
// source "leaderboard:<category>". Entries without an address are skipped.
func (d *DataClient) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]domain.Wallet, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	params := url.Values{}
	params.Set("category", strings.ToLower(q.Category))
	params.Set("timePeriod", strings.ToUpper(q.TimePeriod))
	params.Set("orderBy", strings.ToUpper(q.OrderBy))
	params.Set("limit", strconv.Itoa(q.Limit))

	body, err := d.rest.doGet(ctx, "/v1/leaderboard?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: leaderboard %s: %w", q.Category, err)
	}

	var entries []APILeaderboardEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode leaderboard: %w", err)
	}

	now := time.Now().UTC()
	wallets := make([]domain.Wallet, 0, len(entries))
	for i := range entries {
		addr := entries[i].address()
		if addr == "" {
			continue
		}
		wallets = append(wallets, domain.Wallet{
			Address:        addr,
			Alias:          entries[i].UserName,
			Source:         "leaderboard:" + strings.ToLower(q.Category),
			LeaderboardPnL: entries[i].PnL,
			LeaderboardVol: entries[i].Vol,
			AddedAt:        now,
		})
	}
	return wallets, nil
}
