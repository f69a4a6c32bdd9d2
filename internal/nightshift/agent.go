package nightshift

import (
	"sync"
	"time"

	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/storage"
)

// agentState is the per-agent aggregate. All fields are guarded by mu except
// the pause token, which is deliberately shared with the in-flight runner.
//
// Invariant: running == true implies current != nil and that task is absent
// from the queue. cyclesThisNight resets when a new window opens, whether a
// good-night trigger or the clock started it.
type agentState struct {
	mu sync.Mutex

	// loadOnce gates the first storage read so no caller can observe or
	// persist default state before the restored record is applied.
	loadOnce sync.Once

	id       string
	timezone string // empty means the service default

	goodNightTime       time.Time
	lastMorningGreeting time.Time
	lastUserActivity    time.Time

	processedTonight map[string]int
	cyclesThisNight  int

	queue   taskQueue
	running bool
	current *Task
	pause   *PauseToken

	// windowOpen tracks the last observed window verdict so transitions can
	// be published exactly once.
	windowOpen bool
}

func newAgentState(id string) *agentState {
	return &agentState{
		id:               id,
		processedTonight: map[string]int{},
	}
}

// applyRecord merges a persisted record into a freshly created state.
// Callers hold mu.
func (a *agentState) applyRecordLocked(rec *storage.AgentRecord) {
	if rec == nil {
		return
	}
	if rec.GoodNightTime != nil {
		a.goodNightTime = *rec.GoodNightTime
	}
	if rec.LastUserActivity != nil {
		a.lastUserActivity = *rec.LastUserActivity
	}
	if rec.LastMorningGreeting != nil {
		a.lastMorningGreeting = *rec.LastMorningGreeting
	}
	if len(rec.ProcessedTonight) > 0 {
		a.processedTonight = make(map[string]int, len(rec.ProcessedTonight))
		for k, v := range rec.ProcessedTonight {
			a.processedTonight[k] = v
		}
	}
	if rec.Timezone != "" {
		a.timezone = rec.Timezone
	}
}

// recordLocked builds the durable subset. The queue and in-flight task stay
// out on purpose: restarts lose queued work. Callers hold mu.
func (a *agentState) recordLocked(now time.Time) storage.AgentRecord {
	rec := storage.AgentRecord{
		Timezone: a.timezone,
		SavedAt:  now,
	}
	if !a.goodNightTime.IsZero() {
		t := a.goodNightTime
		rec.GoodNightTime = &t
	}
	if !a.lastUserActivity.IsZero() {
		t := a.lastUserActivity
		rec.LastUserActivity = &t
	}
	if !a.lastMorningGreeting.IsZero() {
		t := a.lastMorningGreeting
		rec.LastMorningGreeting = &t
	}
	if len(a.processedTonight) > 0 {
		rec.ProcessedTonight = make(map[string]int, len(a.processedTonight))
		for k, v := range a.processedTonight {
			rec.ProcessedTonight[k] = v
		}
	}
	return rec
}

// resetNightLocked starts a fresh window accounting period.
func (a *agentState) resetNightLocked() {
	a.processedTonight = map[string]int{}
	a.cyclesThisNight = 0
}
