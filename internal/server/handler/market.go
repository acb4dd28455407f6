package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// MarketReader lists the settlement state of traded markets.
type MarketReader interface {
	ListMarketStatus(ctx context.Context, opts domain.ListOpts) ([]domain.MarketStatus, error)
}

// MarketHandler serves the settlement status of each market.
type MarketHandler struct {
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListMarkets returns resolution state, payouts and check schedule per
// market.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := h.markets.ListMarketStatus(r.Context(), opts)
	if err != nil {
		writeFailure(w, r, h.logger, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(convert(markets, toMarket), opts))
}
