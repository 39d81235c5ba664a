package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// TradeHandler serves journaled trade results.
type TradeHandler struct {
	journal domain.TradeJournal
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(journal domain.TradeJournal, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{journal: journal, logger: handlerLogger(logger, "trades")}
}

// ListTrades returns recent results newest first.
// GET /api/trades?limit=&offset=&strategy=&since=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	res, err := h.journal.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list trades", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if res == nil {
		res = []domain.TradeResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": res, "count": len(res)})
}
