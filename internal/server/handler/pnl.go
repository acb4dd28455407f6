package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// PnLService derives the PnL analytics views.
type PnLService interface {
	PnLByCategory(ctx context.Context) ([]domain.CategoryPnL, error)
	PnLTimeline(ctx context.Context, opts domain.ListOpts) ([]domain.CostPoint, error)
}

// PnLHandler serves PnL breakdowns.
type PnLHandler struct {
	pnl    PnLService
	logger *slog.Logger
}

// NewPnLHandler creates a PnLHandler.
func NewPnLHandler(pnl PnLService, logger *slog.Logger) *PnLHandler {
	return &PnLHandler{pnl: pnl, logger: logger}
}

// ByCategory returns realized, unrealized and volume totals per category.
// GET /api/pnl/categories
func (h *PnLHandler) ByCategory(w http.ResponseWriter, r *http.Request) {
	cats, err := h.pnl.PnLByCategory(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, "pnl by category", err)
		return
	}
	dtos := convert(cats, toCategoryPnL)
	writeJSON(w, http.StatusOK, listResponse[categoryPnLDTO]{Items: dtos, Count: len(dtos)})
}

// Timeline returns the cumulative paper cash flow, oldest first.
// GET /api/pnl/timeline?wallet=0x..&since=..&until=..
func (h *PnLHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := h.pnl.PnLTimeline(r.Context(), opts)
	if err != nil {
		writeFailure(w, r, h.logger, "pnl timeline", err)
		return
	}
	dtos := convert(points, toCostPoint)
	writeJSON(w, http.StatusOK, listResponse[costPointDTO]{Items: dtos, Count: len(dtos)})
}
