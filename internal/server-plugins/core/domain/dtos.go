package domain

import "time"

// ServerInfo summarises how this server is wired.
type ServerInfo struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Transport     string    `json:"transport"`
	HTTPEnabled   bool      `json:"http_enabled"`
	ReplayBackend string    `json:"replay_backend"`
	CardCache     bool      `json:"card_cache"`
	CostOverrides []string  `json:"cost_overrides"`
	StartedAt     time.Time `json:"started_at"`
}

// LogsView is a sanitised tail of the server log buffer.
type LogsView struct {
	Lines    []string `json:"lines"`
	Filter   string   `json:"filter,omitempty"`
	Capacity int      `json:"capacity"`
}

// HashResult is the fingerprint of a payload.
type HashResult struct {
	Hash     string `json:"hash"`
	TypeHint string `json:"type_hint"`
}
