package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Night controls the off-hours scheduling engine.
	Night NightConfig `json:"night"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NightConfig is the scheduling configuration. It is resolved and validated
// once at startup and is immutable for the process lifetime; only logging
// settings participate in hot reload.
//
// All durations are Go duration strings (e.g. "30m", "1h15m").
type NightConfig struct {
	// Timezone is the default IANA zone for window math (per-agent override
	// is possible at runtime). Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	// WindowStart / WindowEnd are HH:MM clock times for the fallback window.
	// start > end wraps midnight (e.g. "22:30" .. "05:00").
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`

	// GoodNightBuffer delays window opening after a good-night trigger.
	GoodNightBuffer string `json:"good_night_buffer,omitempty"`

	// ActivityThreshold is how long after the last user interaction the
	// operator still counts as active.
	ActivityThreshold string `json:"activity_threshold,omitempty"`

	// TickInterval is advisory to the tick service.
	TickInterval string `json:"tick_interval,omitempty"`

	MaxCyclesPerNight int `json:"max_cycles_per_night,omitempty"`
	RetryMax          int `json:"retry_max,omitempty"`

	// Trigger phrase lists; matched case-insensitively as substrings.
	GoodNightPhrases []string `json:"good_night_phrases,omitempty"`
	MorningPhrases   []string `json:"morning_phrases,omitempty"`

	// Tasks holds per-task-type policy, keyed by task type.
	Tasks map[string]TaskTypeConfig `json:"tasks,omitempty"`
}

// TaskTypeConfig is per-task-type policy.
//
// Enabled is a pointer so an omitted entry defaults to enabled.
type TaskTypeConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Priority is the default priority for tasks of this type that are
	// queued without an explicit priority. Higher runs first.
	Priority int `json:"priority,omitempty"`

	// MaxPerNight caps executions of this type within one window.
	// 0 means uncapped.
	MaxPerNight int `json:"max_per_night,omitempty"`
}

// NotifierConfig controls the operator notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	MorningReport bool   `json:"morning_report"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// StorageConfig controls the agent-state persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./nightshift_state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// decodeStrict decodes JSON bytes and rejects unknown fields so stale or
// misspelled keys are caught at startup instead of silently ignored.
func decodeStrict(b []byte, out *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
