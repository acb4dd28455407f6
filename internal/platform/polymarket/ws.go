package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ResolutionHandler is called for every market_resolved push.
type ResolutionHandler func(domain.ResolutionPayload)

// WSClient is a WebSocket client for the Polymarket market channel. It
// subscribes with the custom feature flag so resolution events are
// delivered, and dispatches them to registered handlers. One client serves
// one connection; reconnecting is the caller's job.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
	err     error

	handlers  []ResolutionHandler
	handlerMu sync.RWMutex

	// done is closed when the connection is gone, by Close or by a read error.
	done     chan struct{}
	doneOnce sync.Once
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
//
// wsURL is the market channel endpoint, e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect dials the endpoint, subscribes to the market channel and starts
// the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cmd := WSCommand{
		Type:                 "subscribe",
		Channels:             []string{"market"},
		CustomFeatureEnabled: true,
	}
	if err := w.sendCommand(cmd); err != nil {
		conn.Close()
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// OnResolution registers a handler for market_resolved events.
func (w *WSClient) OnResolution(handler ResolutionHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Done is closed once the connection has ended.
func (w *WSClient) Done() <-chan struct{} { return w.done }

// Err returns the error that ended the connection, if any.
func (w *WSClient) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	w.finish(nil)

	if conn != nil {
		w.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		w.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (w *WSClient) finish(err error) {
	w.doneOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	})
}

// sendCommand sends a JSON command to the WebSocket.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the connection fails and dispatches
// resolution events. It runs in its own goroutine.
func (w *WSClient) readLoop() {
	conn := w.conn
	defer conn.Close()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			w.finish(fmt.Errorf("polymarket/ws: read: %w: %v", domain.ErrWSDisconnect, err))
			return
		}
		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and hands every resolution in it to the
// registered handlers. Unparseable frames are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	payloads, err := ParseResolutionMessage(raw, time.Now().UTC())
	if err != nil && len(payloads) == 0 {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, p := range payloads {
		for _, h := range handlers {
			h(p)
		}
	}
}
