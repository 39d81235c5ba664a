package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// CommandHandler lets an operator broadcast HALT_ALL and RESUME_ALL.
type CommandHandler struct {
	bus    domain.Bus
	alerts domain.AlertSink
	audit  domain.AuditLog
	logger *slog.Logger
}

// NewCommandHandler creates a CommandHandler. alerts and audit may be nil.
func NewCommandHandler(b domain.Bus, alerts domain.AlertSink, audit domain.AuditLog, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{bus: b, alerts: alerts, audit: audit, logger: handlerLogger(logger, "commands")}
}

type commandRequest struct {
	Reason   string `json:"reason"`
	IssuedBy string `json:"issued_by"`
}

// Halt publishes HALT_ALL.
// POST /api/halt
func (h *CommandHandler) Halt(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, domain.CommandHaltAll, "halt")
}

// Resume publishes RESUME_ALL.
// POST /api/resume
func (h *CommandHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, domain.CommandResumeAll, "resume")
}

func (h *CommandHandler) publish(w http.ResponseWriter, r *http.Request, command, event string) {
	var body commandRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.IssuedBy == "" {
		body.IssuedBy = "api"
	}
	if body.Reason == "" {
		body.Reason = "operator request"
	}
	cmd := domain.Command{
		Command:  command,
		Reason:   body.Reason,
		IssuedBy: body.IssuedBy,
		IssuedAt: time.Now().UTC(),
	}

	id, err := bus.PublishJSON(r.Context(), h.bus, bus.TopicCommands, cmd)
	if err != nil {
		h.logger.Error("publish command", slog.String("command", command), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to publish command")
		return
	}
	h.logger.Warn("command published",
		slog.String("command", command),
		slog.String("reason", cmd.Reason),
		slog.String("issued_by", cmd.IssuedBy),
	)

	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "command."+event, map[string]any{
			"command":    command,
			"reason":     cmd.Reason,
			"issued_by":  cmd.IssuedBy,
			"message_id": id,
		}); err != nil {
			h.logger.Warn("command audit failed", slog.String("error", err.Error()))
		}
	}

	if h.alerts != nil {
		alert := domain.Alert{
			Event:   event,
			Title:   fmt.Sprintf("%s issued by %s", command, cmd.IssuedBy),
			Message: cmd.Reason,
		}
		if err := h.alerts.Notify(r.Context(), alert); err != nil {
			h.logger.Warn("command notification failed", slog.String("error", err.Error()))
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"command":    command,
		"message_id": id,
		"issued_at":  cmd.IssuedAt.Format(time.RFC3339),
	})
}
