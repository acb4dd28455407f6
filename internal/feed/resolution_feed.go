package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/platform/polymarket"
)

// ResolutionHandler is called for each pushed resolution.
type ResolutionHandler func(ctx context.Context, p domain.ResolutionPayload)

// ResolutionFeed keeps a connection to the Polymarket market channel open
// and forwards market_resolved pushes to the handler. It reconnects with
// backoff on disconnect.
type ResolutionFeed struct {
	wsURL     string
	onResolve ResolutionHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewResolutionFeed creates a push feed for the given WebSocket URL.
func NewResolutionFeed(wsURL string, onResolve ResolutionHandler, logger *slog.Logger) *ResolutionFeed {
	return &ResolutionFeed{
		wsURL:     wsURL,
		onResolve: onResolve,
		logger:    logger.With(slog.String("component", "resolution_feed")),
		done:      make(chan struct{}),
		baseDelay: 2 * time.Second,
		maxDelay:  time.Minute,
	}
}

// Run connects and listens until ctx is cancelled or Close is called.
func (f *ResolutionFeed) Run(ctx context.Context) error {
	delay := f.baseDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.baseDelay
		}
		if err != nil {
			f.logger.WarnContext(ctx, "polymarket ws disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}
}

// runConnection holds one connection until it drops. connected reports
// whether the handshake succeeded.
func (f *ResolutionFeed) runConnection(ctx context.Context) (connected bool, err error) {
	client := polymarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnResolution(func(p domain.ResolutionPayload) {
		f.logger.InfoContext(ctx, "resolution pushed",
			slog.String("condition_id", p.ConditionID),
			slog.Int("instruments", len(p.TokenIDs)),
		)
		if f.onResolve != nil {
			f.onResolve(ctx, p)
		}
	})

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = client.Connect(dialCtx)
	cancel()
	if err != nil {
		return false, err
	}
	f.logger.InfoContext(ctx, "subscribed to market channel")

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-f.done:
		return true, nil
	case <-client.Done():
		return true, client.Err()
	}
}

// Close stops the feed.
func (f *ResolutionFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
