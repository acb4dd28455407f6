package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// TradeReader is the read side of the trade history.
type TradeReader interface {
	ListTargetTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TargetTrade, error)
	ListPaperTrades(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error)
	GetBookSnapshotByTrade(ctx context.Context, targetTradeID int64) (domain.BookSnapshot, error)
}

// TradeHandler serves observed trades, paper trades and their snapshots.
type TradeHandler struct {
	trades TradeReader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// ListTargetTrades returns observed trades, newest first.
// GET /api/target-trades?wallet=&token=&since=&until=&limit=&offset=
func (h *TradeHandler) ListTargetTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.trades.ListTargetTrades(r.Context(), opts)
	if err != nil {
		writeFailure(w, r, h.logger, "list target trades", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(convert(trades, toTargetTrade), opts))
}

// ListPaperTrades returns simulated fills, newest first.
// GET /api/paper-trades
func (h *TradeHandler) ListPaperTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.trades.ListPaperTrades(r.Context(), opts)
	if err != nil {
		writeFailure(w, r, h.logger, "list paper trades", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(convert(trades, toPaperTrade), opts))
}

// GetSnapshot returns the order book captured for a target trade.
// GET /api/snapshots/{id}
func (h *TradeHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid target trade id")
		return
	}
	snap, err := h.trades.GetBookSnapshotByTrade(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, "get snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshot(snap))
}
