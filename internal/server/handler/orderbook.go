package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// OrderbookHandler serves the last book fetched for an instrument.
type OrderbookHandler struct {
	cache  domain.OrderbookCache
	logger *slog.Logger
}

// NewOrderbookHandler creates an OrderbookHandler. A nil cache answers 503.
func NewOrderbookHandler(cache domain.OrderbookCache, logger *slog.Logger) *OrderbookHandler {
	return &OrderbookHandler{cache: cache, logger: logger}
}

// GetOrderbook returns the cached book.
// GET /api/orderbook/{token}
func (h *OrderbookHandler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token id")
		return
	}
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "orderbook cache disabled")
		return
	}
	book, err := h.cache.GetSnapshot(r.Context(), token)
	if err != nil {
		writeFailure(w, r, h.logger, "get orderbook", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderbook(token, book))
}
