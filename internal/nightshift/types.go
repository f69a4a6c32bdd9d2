package nightshift

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultAgentID is used whenever a caller passes an empty agent id.
const DefaultAgentID = "main"

// Config controls the scheduling engine. The app layer resolves it from the
// config file; it is immutable once the service is constructed.
type Config struct {
	// Timezone is the default IANA zone for window math. Agents may override
	// it at runtime via SetTimezone.
	Timezone string

	// WindowStart / WindowEnd are HH:MM clock times for the fallback window.
	// start > end wraps midnight.
	WindowStart string
	WindowEnd   string

	// GoodNightBuffer delays window opening after a good-night trigger.
	GoodNightBuffer time.Duration

	// ActivityThreshold is how long after the last interaction the operator
	// still counts as active.
	ActivityThreshold time.Duration

	// MaxCyclesPerNight caps task executions within one open window.
	MaxCyclesPerNight int

	// RetryMax is the attempt limit; a task reaching it is dropped.
	RetryMax int

	GoodNightPhrases []string
	MorningPhrases   []string

	// Tasks holds per-task-type policy, keyed by type.
	Tasks map[string]TypePolicy
}

// TypePolicy is per-task-type policy.
type TypePolicy struct {
	// Enabled nil means enabled.
	Enabled *bool

	// Priority is the default for tasks queued without one. Higher runs first.
	Priority int

	// MaxPerNight caps executions of this type in one window. 0 = uncapped.
	MaxPerNight int
}

func (c Config) withDefaults() Config {
	if c.WindowStart == "" {
		c.WindowStart = "22:30"
	}
	if c.WindowEnd == "" {
		c.WindowEnd = "05:00"
	}
	if c.GoodNightBuffer <= 0 {
		c.GoodNightBuffer = 30 * time.Minute
	}
	if c.ActivityThreshold <= 0 {
		c.ActivityThreshold = 10 * time.Minute
	}
	if c.MaxCyclesPerNight <= 0 {
		c.MaxCyclesPerNight = 10
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	return c
}

// Task is a unit of queued work. Payload is opaque to the scheduler and is
// passed through to the runner unchanged.
type Task struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Priority int            `json:"priority"`
	Attempts int            `json:"attempts"`
	Queued   time.Time      `json:"queued"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Runner executes one task. A non-nil error counts as a failed attempt.
//
// Runners performing heavy work must poll pause at their own checkpoints and
// return early (nil or error, their choice) when it is raised. The scheduler
// never preempts a runner; a runner that ignores the token and never returns
// stalls all future cycles for its agent.
type Runner func(ctx context.Context, task Task, pause *PauseToken) error

// PauseToken is the advisory interruption signal handed to a runner.
// It is raised when the operator becomes active while the task is in flight
// and is safe for concurrent use.
type PauseToken struct {
	flag atomic.Bool
	at   atomic.Int64 // unix nano, valid once flag is set
}

// Raise marks the token. The scheduler raises it on operator activity;
// runners should only ever read it.
func (p *PauseToken) Raise(now time.Time) {
	p.at.Store(now.UnixNano())
	p.flag.Store(true)
}

// Paused reports whether the operator has returned and the runner should yield.
func (p *PauseToken) Paused() bool {
	if p == nil {
		return false
	}
	return p.flag.Load()
}

// PausedAt returns when the pause was raised.
func (p *PauseToken) PausedAt() (time.Time, bool) {
	if p == nil || !p.flag.Load() {
		return time.Time{}, false
	}
	return time.Unix(0, p.at.Load()), true
}

// ContentBlock is one segment of a structured message body.
// Only blocks of type "text" participate in trigger matching.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent wraps a plain-text message body as a single block.
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: text}}
}

// AgentSnapshot is a point-in-time view of one agent for diagnostics and the
// operator query surface. Queue payloads are intentionally excluded.
type AgentSnapshot struct {
	AgentID  string `json:"agent_id"`
	Timezone string `json:"timezone"`

	InWindow   bool `json:"in_window"`
	UserActive bool `json:"user_active"`
	Processing bool `json:"processing"`

	CurrentTask       *Task      `json:"current_task,omitempty"`
	CurrentTaskPaused bool       `json:"current_task_paused,omitempty"`
	PausedAt          *time.Time `json:"paused_at,omitempty"`

	QueueLen         int            `json:"queue_len"`
	CyclesThisNight  int            `json:"cycles_this_night"`
	ProcessedTonight map[string]int `json:"processed_tonight,omitempty"`

	GoodNightTime       *time.Time `json:"good_night_time,omitempty"`
	LastMorningGreeting *time.Time `json:"last_morning_greeting,omitempty"`
	LastUserActivity    *time.Time `json:"last_user_activity,omitempty"`
}

// TaskEvent is published on the event bus for task lifecycle events.
type TaskEvent struct {
	AgentID  string        `json:"agent_id"`
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// WindowEvent is published when an agent's window opens or closes.
type WindowEvent struct {
	AgentID   string         `json:"agent_id"`
	Open      bool           `json:"open"`
	Cycles    int            `json:"cycles"`
	Processed map[string]int `json:"processed,omitempty"`
}
