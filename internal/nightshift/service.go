package nightshift

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/eventbus"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/storage"
	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

// Service is the scheduling engine. One instance owns all agent state; it is
// constructed once at process start and passed by reference to collaborators
// (transport gateway, tick service, runners). Safe for concurrent use.
type Service struct {
	cfg Config
	win clockWindow
	log logx.Logger
	bus eventbus.Bus

	store storage.Store

	runners registry

	mu     sync.Mutex
	agents map[string]*agentState
	locs   map[string]*time.Location

	// nowFn is swapped in tests for deterministic clock math.
	nowFn func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	win, err := parseClockWindow(cfg.WindowStart, cfg.WindowEnd)
	if err != nil {
		log.Warn("invalid window clock times, using defaults",
			logx.String("start", cfg.WindowStart), logx.String("end", cfg.WindowEnd), logx.Err(err))
		win, _ = parseClockWindow("22:30", "05:00")
	}
	return &Service{
		cfg:    cfg,
		win:    win,
		log:    log,
		bus:    bus,
		store:  store,
		agents: map[string]*agentState{},
		locs:   map[string]*time.Location{},
		nowFn:  time.Now,
	}
}

func (s *Service) now() time.Time { return s.nowFn() }

// RegisterRunner installs the runner for a task type. Callable at any time,
// including before the first tick; the last registration for a type wins.
func (s *Service) RegisterRunner(taskType string, fn Runner) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" || fn == nil {
		return
	}
	s.runners.register(taskType, fn)
	s.log.Debug("task runner registered", logx.String("type", taskType))
}

// QueueTask enqueues a task for the agent and returns its id, generating one
// when absent. A task whose type is disabled by config is rejected.
func (s *Service) QueueTask(agentID string, t Task) (string, error) {
	t.Type = strings.TrimSpace(t.Type)
	if t.Type == "" {
		return "", ErrNoTaskType
	}
	pol, hasPol := s.cfg.Tasks[t.Type]
	if hasPol && pol.Enabled != nil && !*pol.Enabled {
		return "", fmt.Errorf("%w: %s", ErrTypeDisabled, t.Type)
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	if t.Queued.IsZero() {
		t.Queued = s.now()
	}
	if t.Priority == 0 && hasPol {
		t.Priority = pol.Priority
	}

	st := s.agent(agentID)
	st.mu.Lock()
	cp := t
	st.queue.enqueue(&cp)
	qlen := st.queue.len()
	st.mu.Unlock()

	s.log.Debug("task queued",
		logx.String("agent", st.id), logx.String("type", t.Type),
		logx.String("id", t.ID), logx.Int("priority", t.Priority), logx.Int("queue_len", qlen))
	s.publish(eventbus.EventTaskQueued, TaskEvent{AgentID: st.id, ID: t.ID, Type: t.Type})
	return t.ID, nil
}

// OnTick runs one scheduling cycle for the agent. Gates are applied in order
// and the first failing one ends the tick with no task started.
func (s *Service) OnTick(ctx context.Context, agentID string) {
	st := s.agent(agentID)
	now := s.now()

	st.mu.Lock()
	loc := s.location(st.timezone)
	open := inWindow(st.goodNightTime, st.lastMorningGreeting, s.cfg.GoodNightBuffer, s.win, loc, now)
	transition := s.noteWindowLocked(st, open)
	if !open {
		st.mu.Unlock()
		s.publishTransition(st.id, transition)
		return
	}
	if userActive(st.lastUserActivity, s.cfg.ActivityThreshold, now) {
		st.mu.Unlock()
		s.publishTransition(st.id, transition)
		s.log.Debug("tick: user active, holding", logx.String("agent", st.id))
		return
	}
	if st.running {
		// Single-flight per agent.
		st.mu.Unlock()
		s.publishTransition(st.id, transition)
		s.log.Debug("tick: task already in flight", logx.String("agent", st.id))
		return
	}
	if st.cyclesThisNight >= s.cfg.MaxCyclesPerNight {
		st.mu.Unlock()
		s.publishTransition(st.id, transition)
		s.log.Debug("tick: nightly cycle cap reached",
			logx.String("agent", st.id), logx.Int("cycles", s.cfg.MaxCyclesPerNight))
		return
	}
	task := st.queue.dequeueNext(s.cfg.RetryMax)
	if task == nil {
		st.mu.Unlock()
		s.publishTransition(st.id, transition)
		return
	}

	if pol, ok := s.cfg.Tasks[task.Type]; ok && pol.MaxPerNight > 0 && st.processedTonight[task.Type] >= pol.MaxPerNight {
		// The task was already consumed by dequeue; it is dropped for this
		// tick, not failed. No further task is attempted this tick.
		st.mu.Unlock()
		s.publishTransition(st.id, transition)
		s.log.Debug("tick: per-type nightly cap reached, dropping task",
			logx.String("agent", st.id), logx.String("type", task.Type), logx.Int("cap", pol.MaxPerNight))
		s.publish(eventbus.EventTaskDropped, TaskEvent{AgentID: st.id, ID: task.ID, Type: task.Type, Reason: "nightly_cap"})
		return
	}

	runner, ok := s.runners.lookup(task.Type)
	if !ok {
		st.mu.Unlock()
		s.publishTransition(st.id, transition)
		s.log.Warn("tick: no runner registered for task type, dropping task",
			logx.String("agent", st.id), logx.String("type", task.Type), logx.String("id", task.ID))
		s.publish(eventbus.EventTaskDropped, TaskEvent{AgentID: st.id, ID: task.ID, Type: task.Type, Reason: "no_runner"})
		return
	}

	pause := &PauseToken{}
	st.running = true
	st.current = task
	st.pause = pause
	st.mu.Unlock()
	s.publishTransition(st.id, transition)

	started := s.now()
	err := s.invoke(ctx, runner, *task, pause)
	took := s.now().Sub(started)

	st.mu.Lock()
	if err == nil {
		st.processedTonight[task.Type]++
		s.log.Info("task done",
			logx.String("agent", st.id), logx.String("type", task.Type),
			logx.String("id", task.ID), logx.Duration("took", took))
	} else {
		task.Attempts++
		if task.Attempts < s.cfg.RetryMax {
			st.queue.requeueTail(task)
			s.log.Warn("task failed, re-queued",
				logx.String("agent", st.id), logx.String("type", task.Type),
				logx.String("id", task.ID), logx.Int("attempts", task.Attempts), logx.Err(err))
		} else {
			s.log.Warn("task failed, attempts exhausted, dropping",
				logx.String("agent", st.id), logx.String("type", task.Type),
				logx.String("id", task.ID), logx.Int("attempts", task.Attempts), logx.Err(err))
		}
	}
	st.running = false
	st.current = nil
	st.pause = nil
	st.cyclesThisNight++
	rec := st.recordLocked(s.now())
	st.mu.Unlock()

	if err == nil {
		s.publish(eventbus.EventTaskDone, TaskEvent{AgentID: st.id, ID: task.ID, Type: task.Type, Duration: took})
	} else {
		s.publish(eventbus.EventTaskFailed, TaskEvent{AgentID: st.id, ID: task.ID, Type: task.Type, Attempts: task.Attempts, Duration: took, Error: err.Error()})
	}
	s.persist(ctx, st.id, rec)
}

// invoke runs the runner with panic containment: a panicking runner counts
// as a failed attempt, never as a crashed scheduler.
func (s *Service) invoke(ctx context.Context, fn Runner, t Task, pause *PauseToken) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panic: %v", r)
			s.log.Error("task runner panicked", logx.String("type", t.Type), logx.String("id", t.ID), logx.Any("panic", r))
		}
	}()
	return fn(ctx, t, pause)
}

// OnMessage handles one inbound user interaction: it refreshes the activity
// timestamp, raises the pause token of any in-flight task, and scans the
// flattened text for good-night / morning trigger phrases.
func (s *Service) OnMessage(ctx context.Context, agentID string, blocks []ContentBlock) {
	st := s.agent(agentID)
	now := s.now()
	text := flattenContent(blocks)

	var pausedTask *Task
	st.mu.Lock()
	st.lastUserActivity = now
	if st.running && st.pause != nil && !st.pause.Paused() {
		st.pause.Raise(now)
		cp := *st.current
		pausedTask = &cp
	}
	switch {
	case matchesAny(text, s.cfg.GoodNightPhrases):
		st.goodNightTime = now
		st.lastMorningGreeting = time.Time{}
		st.resetNightLocked()
		s.log.Info("good-night trigger detected",
			logx.String("agent", st.id), logx.Time("window_opens", now.Add(s.cfg.GoodNightBuffer)))
	case matchesAny(text, s.cfg.MorningPhrases):
		st.lastMorningGreeting = now
		st.goodNightTime = time.Time{}
		s.log.Info("morning trigger detected", logx.String("agent", st.id))
	}
	rec := st.recordLocked(now)
	st.mu.Unlock()

	if pausedTask != nil {
		s.log.Info("user active, pausing in-flight task",
			logx.String("agent", st.id), logx.String("type", pausedTask.Type), logx.String("id", pausedTask.ID))
		s.publish(eventbus.EventTaskPaused, TaskEvent{AgentID: st.id, ID: pausedTask.ID, Type: pausedTask.Type})
	}
	s.persist(ctx, st.id, rec)
}

// OnActivity records a non-message interaction signal (e.g. a command).
// Like OnMessage it pauses in-flight work, but performs no trigger scan.
func (s *Service) OnActivity(ctx context.Context, agentID string) {
	s.OnMessage(ctx, agentID, nil)
}

// InOfficeHours reports whether the agent's window is currently open.
func (s *Service) InOfficeHours(agentID string) bool {
	st := s.agent(agentID)
	now := s.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	loc := s.location(st.timezone)
	return inWindow(st.goodNightTime, st.lastMorningGreeting, s.cfg.GoodNightBuffer, s.win, loc, now)
}

// UserActive reports whether the operator interacted within the threshold.
func (s *Service) UserActive(agentID string) bool {
	st := s.agent(agentID)
	now := s.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	return userActive(st.lastUserActivity, s.cfg.ActivityThreshold, now)
}

// SetTimezone overrides the agent's window timezone.
func (s *Service) SetTimezone(ctx context.Context, agentID, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
	}
	st := s.agent(agentID)
	st.mu.Lock()
	st.timezone = tz
	rec := st.recordLocked(s.now())
	st.mu.Unlock()

	s.log.Info("agent timezone set", logx.String("agent", st.id), logx.String("tz", tz))
	s.persist(ctx, st.id, rec)
	return nil
}

// Snapshot returns a point-in-time view of the agent, excluding queue
// payloads beyond a count.
func (s *Service) Snapshot(agentID string) AgentSnapshot {
	st := s.agent(agentID)
	now := s.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	loc := s.location(st.timezone)
	snap := AgentSnapshot{
		AgentID:         st.id,
		Timezone:        st.timezone,
		InWindow:        inWindow(st.goodNightTime, st.lastMorningGreeting, s.cfg.GoodNightBuffer, s.win, loc, now),
		UserActive:      userActive(st.lastUserActivity, s.cfg.ActivityThreshold, now),
		Processing:      st.running,
		QueueLen:        st.queue.len(),
		CyclesThisNight: st.cyclesThisNight,
	}
	if st.timezone == "" {
		snap.Timezone = s.cfg.Timezone
	}
	if st.current != nil {
		cp := *st.current
		cp.Payload = nil
		snap.CurrentTask = &cp
		if at, ok := st.pause.PausedAt(); ok {
			snap.CurrentTaskPaused = true
			snap.PausedAt = &at
		}
	}
	if len(st.processedTonight) > 0 {
		snap.ProcessedTonight = make(map[string]int, len(st.processedTonight))
		for k, v := range st.processedTonight {
			snap.ProcessedTonight[k] = v
		}
	}
	if !st.goodNightTime.IsZero() {
		t := st.goodNightTime
		snap.GoodNightTime = &t
	}
	if !st.lastMorningGreeting.IsZero() {
		t := st.lastMorningGreeting
		snap.LastMorningGreeting = &t
	}
	if !st.lastUserActivity.IsZero() {
		t := st.lastUserActivity
		snap.LastUserActivity = &t
	}
	return snap
}

// AgentIDs lists agents known to the service.
func (s *Service) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// ---- internals ----

// agent returns the state for an id, creating it lazily. An empty id maps to
// the default agent. Creation loads the persisted record best-effort: a
// missing or unreadable record falls back to defaults with a warning.
func (s *Service) agent(agentID string) *agentState {
	id := strings.TrimSpace(agentID)
	if id == "" {
		id = DefaultAgentID
	}

	s.mu.Lock()
	st, ok := s.agents[id]
	if !ok {
		st = newAgentState(id)
		s.agents[id] = st
	}
	s.mu.Unlock()

	// Every caller funnels through the once, so a concurrent first
	// reference blocks until the restore has been applied rather than
	// seeing (and possibly persisting) default state.
	st.loadOnce.Do(func() {
		if s.store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		rec, err := s.store.LoadAgent(ctx, id)
		cancel()
		if err != nil {
			s.log.Warn("agent state load failed, using defaults", logx.String("agent", id), logx.Err(err))
			return
		}
		if rec == nil {
			return
		}
		st.mu.Lock()
		st.applyRecordLocked(rec)
		st.mu.Unlock()
		s.log.Debug("agent state loaded", logx.String("agent", id))
	})
	return st
}

// location resolves the effective timezone, falling back to the configured
// default, then to the host zone.
func (s *Service) location(agentTZ string) *time.Location {
	tz := strings.TrimSpace(agentTZ)
	if tz == "" {
		tz = strings.TrimSpace(s.cfg.Timezone)
	}
	if tz == "" {
		return time.Local
	}

	s.mu.Lock()
	loc, ok := s.locs[tz]
	s.mu.Unlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		loc = time.Local
	}
	s.mu.Lock()
	s.locs[tz] = loc
	s.mu.Unlock()
	return loc
}

// windowTransition describes an observed open/close flip, so events fire
// exactly once per transition.
type windowTransition struct {
	fired     bool
	open      bool
	cycles    int
	processed map[string]int
}

// noteWindowLocked records the window verdict and, on a closed-to-open flip,
// starts a fresh accounting period so clock-only nights also reset their
// counters. Callers hold st.mu.
func (s *Service) noteWindowLocked(st *agentState, open bool) windowTransition {
	if open == st.windowOpen {
		return windowTransition{}
	}
	st.windowOpen = open

	tr := windowTransition{fired: true, open: open, cycles: st.cyclesThisNight}
	if len(st.processedTonight) > 0 {
		tr.processed = make(map[string]int, len(st.processedTonight))
		for k, v := range st.processedTonight {
			tr.processed[k] = v
		}
	}
	if open {
		st.resetNightLocked()
		tr.cycles = 0
		tr.processed = nil
	}
	return tr
}

func (s *Service) publishTransition(agentID string, tr windowTransition) {
	if !tr.fired {
		return
	}
	typ := eventbus.EventWindowClose
	if tr.open {
		typ = eventbus.EventWindowOpen
		s.log.Info("window opened", logx.String("agent", agentID))
	} else {
		s.log.Info("window closed", logx.String("agent", agentID), logx.Int("cycles", tr.cycles))
	}
	s.publish(typ, WindowEvent{AgentID: agentID, Open: tr.open, Cycles: tr.cycles, Processed: tr.processed})
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// persist saves the durable record best-effort; failures are logged, never
// surfaced to the caller.
func (s *Service) persist(ctx context.Context, agentID string, rec storage.AgentRecord) {
	if s.store == nil {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.SaveAgent(sctx, agentID, rec); err != nil {
		s.log.Warn("agent state save failed", logx.String("agent", agentID), logx.Err(err))
	}
}
