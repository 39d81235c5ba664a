package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  domain.AuditLog
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: handlerLogger(logger, "audit")}
}

// ListAudit returns audit entries newest first.
// GET /api/audit?limit=&offset=&event=&since=
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	opts.Strategy = r.URL.Query().Get("event")

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("list audit", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
