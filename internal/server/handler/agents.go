package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// AgentsHandler serves the dashboard view of every running agent.
type AgentsHandler struct {
	providers []domain.SnapshotProvider
	logger    *slog.Logger
}

// NewAgentsHandler creates an AgentsHandler over providers.
func NewAgentsHandler(providers []domain.SnapshotProvider, logger *slog.Logger) *AgentsHandler {
	return &AgentsHandler{providers: providers, logger: handlerLogger(logger, "agents")}
}

// ListAgents returns every agent snapshot sorted by name.
// GET /api/agents
func (h *AgentsHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	snaps := make([]domain.AgentSnapshot, 0, len(h.providers))
	halted := 0
	for _, p := range h.providers {
		s := p.Snapshot()
		if s.Halted {
			halted++
		}
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": snaps,
		"count":  len(snaps),
		"halted": halted,
	})
}

// GetAgent returns one agent snapshot.
// GET /api/agents/{name}
func (h *AgentsHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, p := range h.providers {
		if s := p.Snapshot(); s.Name == name {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "agent not found: "+name)
}
