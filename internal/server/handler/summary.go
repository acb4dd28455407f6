package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/service"
)

// SummaryService builds the headline figures.
type SummaryService interface {
	Summary(ctx context.Context) (service.Summary, error)
}

// StatsReader reads aggregate statistics and tracked wallets.
type StatsReader interface {
	LatencyStats(ctx context.Context) (domain.LatencyStats, error)
	ListWallets(ctx context.Context, enabledOnly bool) ([]domain.Wallet, error)
}

// SummaryHandler serves the aggregate dashboard views.
type SummaryHandler struct {
	summary SummaryService
	stats   StatsReader
	logger  *slog.Logger
}

// NewSummaryHandler creates a SummaryHandler.
func NewSummaryHandler(summary SummaryService, stats StatsReader, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{summary: summary, stats: stats, logger: logger}
}

// Summary returns trade counts, fill rate and PnL.
// GET /api/summary
func (h *SummaryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.summary.Summary(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(s))
}

// Latency returns detection and execution delay statistics.
// GET /api/latency
func (h *SummaryHandler) Latency(w http.ResponseWriter, r *http.Request) {
	l, err := h.stats.LatencyStats(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, "latency", err)
		return
	}
	writeJSON(w, http.StatusOK, toLatency(l))
}

// ListWallets returns the known wallets; all=true includes disabled ones.
// GET /api/wallets
func (h *SummaryHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.stats.ListWallets(r.Context(), r.URL.Query().Get("all") != "true")
	if err != nil {
		writeFailure(w, r, h.logger, "list wallets", err)
		return
	}
	dtos := convert(wallets, toWallet)
	writeJSON(w, http.StatusOK, listResponse[walletDTO]{Items: dtos, Count: len(dtos)})
}
