package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// defaultTimeout bounds every REST call when the caller does not set one.
const defaultTimeout = 10 * time.Second

// Option configures a REST client.
type Option func(*restClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *restClient) {
		if d > 0 {
			r.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *restClient) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithRateLimiter makes every request wait on limiter under key first.
func WithRateLimiter(limiter domain.RateLimiter, key string) Option {
	return func(r *restClient) {
		r.limiter = limiter
		r.limitKey = key
	}
}

// restClient holds what the Gamma, CLOB and data clients share: a base URL,
// a bounded HTTP client and an optional outbound rate limiter.
type restClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
	limitKey   string
}

func newRestClient(baseURL string, opts ...Option) restClient {
	r := restClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// doGet sends an unauthenticated GET request and returns the body of a 2xx
// response.
func (r *restClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, r.limitKey); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
