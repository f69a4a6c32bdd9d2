package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (one JSON document per agent)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AgentRecord is the durable subset of an agent's scheduling state.
//
// The task queue and the in-flight task are intentionally not persisted:
// a restart loses queued and in-flight work. Keep this schema-stable.
type AgentRecord struct {
	GoodNightTime       *time.Time     `json:"goodNightTime,omitempty"`
	LastUserActivity    *time.Time     `json:"lastUserActivity,omitempty"`
	LastMorningGreeting *time.Time     `json:"lastMorningGreeting,omitempty"`
	ProcessedTonight    map[string]int `json:"processedTonight,omitempty"`
	Timezone            string         `json:"timezone,omitempty"`
	SavedAt             time.Time      `json:"savedAt"`
}
