package domain

import "time"

// AgentSnapshot is a read-only view of one agent's runtime state. Details is
// agent-specific and contains only JSON-safe copies.
type AgentSnapshot struct {
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	Running       bool           `json:"running"`
	Halted        bool           `json:"halted"`
	Processed     int64          `json:"processed"`
	Failed        int64          `json:"failed"`
	LastMessageAt time.Time      `json:"last_message_at,omitzero"`
	Details       map[string]any `json:"details,omitempty"`
}

// SnapshotProvider is implemented by every agent the dashboard aggregates.
type SnapshotProvider interface {
	Snapshot() AgentSnapshot
}
