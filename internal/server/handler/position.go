package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// PositionService values paper positions.
type PositionService interface {
	Positions(ctx context.Context, opts domain.ListOpts) ([]domain.PositionView, error)
}

// PositionHandler serves paper positions.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

// ListPositions returns positions with their unrealized projection. Closed
// positions are included unless open=true.
// GET /api/positions?open=true
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	views, err := h.positions.Positions(r.Context(), opts)
	if err != nil {
		writeFailure(w, r, h.logger, "list positions", err)
		return
	}
	if r.URL.Query().Get("open") == "true" {
		open := views[:0]
		for _, v := range views {
			if v.Open() {
				open = append(open, v)
			}
		}
		views = open
	}
	writeJSON(w, http.StatusOK, newList(convert(views, toPosition), opts))
}
