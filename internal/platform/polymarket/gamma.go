package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market metadata and resolution state.
type GammaClient struct {
	rest restClient
	now  func() time.Time
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts ...Option) *GammaClient {
	return &GammaClient{
		rest: newRestClient(baseURL, opts...),
		now:  time.Now,
	}
}

// FetchInstrument returns the metadata of the instrument with the given
// token id. It returns domain.ErrNotFound when no market lists the token.
func (g *GammaClient) FetchInstrument(ctx context.Context, tokenID string) (domain.Instrument, error) {
	m, err := g.marketForToken(ctx, tokenID)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("polymarket/gamma: fetch instrument %s: %w", tokenID, err)
	}
	inst, _ := m.ToDomainInstrument(tokenID)
	inst.FirstSeenAt = g.now().UTC()
	return inst, nil
}

// FetchResolution returns the resolution state of the market containing
// tokenID. Payout fields are passed through raw.
func (g *GammaClient) FetchResolution(ctx context.Context, tokenID string) (domain.ResolutionPayload, error) {
	m, err := g.marketForToken(ctx, tokenID)
	if err != nil {
		return domain.ResolutionPayload{}, fmt.Errorf("polymarket/gamma: fetch resolution %s: %w", tokenID, err)
	}
	return m.ToDomainResolution(g.now().UTC()), nil
}

// marketForToken queries markets by clob token id and returns the one whose
// token list contains tokenID.
func (g *GammaClient) marketForToken(ctx context.Context, tokenID string) (*APIMarket, error) {
	params := url.Values{}
	params.Set("clob_token_ids", tokenID)

	body, err := g.rest.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}

	for i := range markets {
		if markets[i].tokenIndex(tokenID) >= 0 {
			return &markets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: token=%s", domain.ErrNotFound, tokenID)
}
