package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Client is a GraphQL client for the Goldsky subgraph indexer, used to
// query on-chain order fill events from the Polymarket CTF Exchange contract.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Goldsky GraphQL client.
//
// graphqlURL is the Goldsky subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/orderbook-subgraph/prod/gn".
func NewClient(graphqlURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// apiFill is one orderFilledEvent as returned by the subgraph.
type apiFill struct {
	ID                string `json:"id"`
	TransactionHash   string `json:"transactionHash"`
	Timestamp         string `json:"timestamp"`
	Maker             string `json:"maker"`
	MakerAssetID      string `json:"makerAssetId"`
	MakerAmountFilled string `json:"makerAmountFilled"`
	Taker             string `json:"taker"`
	TakerAssetID      string `json:"takerAssetId"`
	TakerAmountFilled string `json:"takerAmountFilled"`
}

func (f apiFill) toDomain() domain.RawFill {
	ts, _ := strconv.ParseInt(f.Timestamp, 10, 64)
	return domain.RawFill{
		ID:                f.ID,
		Timestamp:         ts,
		Maker:             NormalizeAddress(f.Maker),
		MakerAssetID:      f.MakerAssetID,
		MakerAmountFilled: f.MakerAmountFilled,
		Taker:             NormalizeAddress(f.Taker),
		TakerAssetID:      f.TakerAssetID,
		TakerAmountFilled: f.TakerAmountFilled,
		TransactionHash:   strings.ToLower(f.TransactionHash),
	}
}

const walletFillsQuery = `
	query WalletFills($wallets: [String!]!, $since: BigInt!, $first: Int!) {
		asMaker: orderFilledEvents(
			first: $first
			orderBy: timestamp
			orderDirection: asc
			where: { maker_in: $wallets, timestamp_gte: $since }
		) { ...fill }
		asTaker: orderFilledEvents(
			first: $first
			orderBy: timestamp
			orderDirection: asc
			where: { taker_in: $wallets, timestamp_gte: $since }
		) { ...fill }
	}
	fragment fill on OrderFilledEvent {
		id
		transactionHash
		timestamp
		maker
		makerAssetId
		makerAmountFilled
		taker
		takerAssetId
		takerAmountFilled
	}
`

// FetchWalletFills returns fills at or after since where any of wallets is
// the maker or the taker, merged, deduplicated by fill id and ordered by
// timestamp. Each side is limited to first rows.
func (c *Client) FetchWalletFills(ctx context.Context, wallets []string, since time.Time, first int) ([]domain.RawFill, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	addrs := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if !common.IsHexAddress(w) {
			return nil, fmt.Errorf("goldsky: %w: wallet %q", domain.ErrInvalidInput, w)
		}
		addrs = append(addrs, NormalizeAddress(w))
	}

	variables := map[string]any{
		"wallets": addrs,
		"since":   strconv.FormatInt(since.Unix(), 10),
		"first":   first,
	}

	respData, err := c.doQuery(ctx, walletFillsQuery, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch wallet fills: %w", err)
	}

	var result struct {
		AsMaker []apiFill `json:"asMaker"`
		AsTaker []apiFill `json:"asTaker"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode wallet fills: %w", err)
	}

	seen := make(map[string]struct{}, len(result.AsMaker)+len(result.AsTaker))
	fills := make([]domain.RawFill, 0, len(result.AsMaker)+len(result.AsTaker))
	for _, batch := range [][]apiFill{result.AsMaker, result.AsTaker} {
		for _, f := range batch {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
			fills = append(fills, f.toDomain())
		}
	}
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].Timestamp < fills[j].Timestamp })

	return fills, nil
}

// FetchLatestBlock returns the latest block number indexed by the Goldsky
// subgraph. The feed logs it to expose indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// NormalizeAddress returns the lowercase hex form of a wallet address, the
// form the subgraph indexes. Non-address input is only lowercased.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return strings.ToLower(addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex())
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query against the Goldsky endpoint and returns
// the raw "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
