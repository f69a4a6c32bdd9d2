package nightshift

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/eventbus"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/storage"
	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

type recordBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordBus) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	ch := make(chan eventbus.Event, buffer)
	return ch, func() {}
}

func (b *recordBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

func (b *recordBus) count(typ string) int {
	n := 0
	for _, t := range b.types() {
		if t == typ {
			n++
		}
	}
	return n
}

func (b *recordBus) last(typ string) (eventbus.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Type == typ {
			return b.events[i], true
		}
	}
	return eventbus.Event{}, false
}

type fakeStore struct {
	mu    sync.Mutex
	recs  map[string]storage.AgentRecord
	saves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[string]storage.AgentRecord{}}
}

func (s *fakeStore) LoadAgent(ctx context.Context, agentID string) (*storage.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[agentID]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (s *fakeStore) SaveAgent(ctx context.Context, agentID string, rec storage.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[agentID] = rec
	s.saves++
	return nil
}

func (s *fakeStore) Close() error { return nil }

// nightCfg is a baseline config whose clock window is open at the test's
// default instant (23:00 UTC).
func nightCfg() Config {
	return Config{
		Timezone:          "UTC",
		WindowStart:       "22:30",
		WindowEnd:         "05:00",
		GoodNightBuffer:   30 * time.Minute,
		ActivityThreshold: 10 * time.Minute,
		MaxCyclesPerNight: 10,
		RetryMax:          3,
		GoodNightPhrases:  []string{"good night"},
		MorningPhrases:    []string{"good morning"},
	}
}

func newTestService(cfg Config, store storage.Store) (*Service, *recordBus, *time.Time) {
	bus := &recordBus{}
	svc := New(cfg, logx.Nop(), bus, store)
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	clock := &now
	svc.nowFn = func() time.Time { return *clock }
	return svc, bus, clock
}

func TestQueueTaskValidation(t *testing.T) {
	t.Parallel()

	cfg := nightCfg()
	off := false
	cfg.Tasks = map[string]TypePolicy{
		"memory":  {Priority: 7},
		"dreams":  {Enabled: &off},
		"compact": {},
	}
	svc, bus, _ := newTestService(cfg, nil)

	if _, err := svc.QueueTask("main", Task{Type: "  "}); !errors.Is(err, ErrNoTaskType) {
		t.Fatalf("blank type: err = %v, want ErrNoTaskType", err)
	}
	if _, err := svc.QueueTask("main", Task{Type: "dreams"}); !errors.Is(err, ErrTypeDisabled) {
		t.Fatalf("disabled type: err = %v, want ErrTypeDisabled", err)
	}

	id, err := svc.QueueTask("main", Task{Type: "memory"})
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	if id == "" {
		t.Fatal("generated id is empty")
	}
	if keep, err := svc.QueueTask("main", Task{ID: "keep-me", Type: "compact"}); err != nil || keep != "keep-me" {
		t.Fatalf("explicit id: got (%q, %v)", keep, err)
	}
	if got := bus.count(eventbus.EventTaskQueued); got != 2 {
		t.Fatalf("queued events = %d, want 2", got)
	}
	if got := svc.Snapshot("main").QueueLen; got != 2 {
		t.Fatalf("queue len = %d, want 2", got)
	}
}

func TestQueueTaskDefaultPriority(t *testing.T) {
	t.Parallel()

	cfg := nightCfg()
	cfg.Tasks = map[string]TypePolicy{"memory": {Priority: 9}}
	svc, _, _ := newTestService(cfg, nil)

	var order []string
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		order = append(order, task.ID)
		return nil
	})
	svc.RegisterRunner("compact", func(ctx context.Context, task Task, pause *PauseToken) error {
		order = append(order, task.ID)
		return nil
	})

	// The explicit priority 5 was queued first but the policy default 9
	// outranks it.
	if _, err := svc.QueueTask("main", Task{ID: "explicit", Type: "compact", Priority: 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.QueueTask("main", Task{ID: "policy", Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")
	svc.OnTick(context.Background(), "main")

	if len(order) != 2 || order[0] != "policy" || order[1] != "explicit" {
		t.Fatalf("run order = %v, want [policy explicit]", order)
	}
}

func TestOnTickRunsAndAccounts(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc, bus, _ := newTestService(nightCfg(), store)

	ran := 0
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		ran++
		return nil
	})
	if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")

	if ran != 1 {
		t.Fatalf("runner ran %d times, want 1", ran)
	}
	snap := svc.Snapshot("main")
	if snap.Processing {
		t.Error("still marked processing after tick")
	}
	if snap.CyclesThisNight != 1 {
		t.Errorf("cycles = %d, want 1", snap.CyclesThisNight)
	}
	if snap.ProcessedTonight["memory"] != 1 {
		t.Errorf("processedTonight = %v, want memory:1", snap.ProcessedTonight)
	}
	if bus.count(eventbus.EventTaskDone) != 1 {
		t.Errorf("done events = %d, want 1", bus.count(eventbus.EventTaskDone))
	}

	store.mu.Lock()
	rec, ok := store.recs["main"]
	saves := store.saves
	store.mu.Unlock()
	if !ok || saves == 0 {
		t.Fatal("record was not persisted")
	}
	if rec.ProcessedTonight["memory"] != 1 {
		t.Errorf("persisted processedTonight = %v", rec.ProcessedTonight)
	}
}

func TestOnTickGates(t *testing.T) {
	t.Parallel()

	t.Run("window_closed", func(t *testing.T) {
		svc, _, clock := newTestService(nightCfg(), nil)
		*clock = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		ran := false
		svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
			ran = true
			return nil
		})
		if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
			t.Fatal(err)
		}
		svc.OnTick(context.Background(), "main")
		if ran {
			t.Fatal("runner ran outside the window")
		}
		if got := svc.Snapshot("main").QueueLen; got != 1 {
			t.Fatalf("queue len = %d, task must stay queued", got)
		}
	})

	t.Run("user_active", func(t *testing.T) {
		svc, _, clock := newTestService(nightCfg(), nil)
		ran := false
		svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
			ran = true
			return nil
		})
		if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
			t.Fatal(err)
		}
		svc.OnActivity(context.Background(), "main")
		svc.OnTick(context.Background(), "main")
		if ran {
			t.Fatal("runner ran while user active")
		}

		// Threshold elapsed.
		*clock = clock.Add(11 * time.Minute)
		svc.OnTick(context.Background(), "main")
		if !ran {
			t.Fatal("runner did not run after activity aged out")
		}
	})

	t.Run("single_flight", func(t *testing.T) {
		svc, _, _ := newTestService(nightCfg(), nil)
		ran := 0
		svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
			ran++
			// A tick arriving while a task is in flight must not start
			// a second one.
			svc.OnTick(ctx, "main")
			return nil
		})
		for i := 0; i < 2; i++ {
			if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
				t.Fatal(err)
			}
		}
		svc.OnTick(context.Background(), "main")
		if ran != 1 {
			t.Fatalf("runner ran %d times in one tick, want 1", ran)
		}
	})

	t.Run("cycle_cap", func(t *testing.T) {
		cfg := nightCfg()
		cfg.MaxCyclesPerNight = 1
		svc, _, _ := newTestService(cfg, nil)
		ran := 0
		svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
			ran++
			return nil
		})
		for i := 0; i < 2; i++ {
			if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
				t.Fatal(err)
			}
		}
		svc.OnTick(context.Background(), "main")
		svc.OnTick(context.Background(), "main")
		if ran != 1 {
			t.Fatalf("runner ran %d times, want 1 (cycle cap)", ran)
		}
		if got := svc.Snapshot("main").QueueLen; got != 1 {
			t.Fatalf("queue len = %d, second task must stay queued", got)
		}
	})
}

func TestOnTickRetryUntilExhausted(t *testing.T) {
	t.Parallel()

	svc, bus, _ := newTestService(nightCfg(), nil)
	ran := 0
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		ran++
		return errors.New("boom")
	})
	if _, err := svc.QueueTask("main", Task{ID: "t1", Type: "memory"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		svc.OnTick(context.Background(), "main")
	}
	if ran != 3 {
		t.Fatalf("runner ran %d times, want 3 (retry max)", ran)
	}
	if got := bus.count(eventbus.EventTaskFailed); got != 3 {
		t.Fatalf("failed events = %d, want 3", got)
	}
	if got := svc.Snapshot("main").QueueLen; got != 0 {
		t.Fatalf("queue len = %d, exhausted task must be gone", got)
	}
	ev, ok := bus.last(eventbus.EventTaskFailed)
	if !ok {
		t.Fatal("no failed event")
	}
	te, ok := ev.Data.(TaskEvent)
	if !ok {
		t.Fatalf("failed event data = %T", ev.Data)
	}
	if te.Attempts != 3 || te.ID != "t1" || te.Error == "" {
		t.Fatalf("failed event = %+v", te)
	}
}

func TestOnTickPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	svc, bus, _ := newTestService(nightCfg(), nil)
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		panic("kaboom")
	})
	if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")

	if got := bus.count(eventbus.EventTaskFailed); got != 1 {
		t.Fatalf("failed events = %d, want 1", got)
	}
	if got := svc.Snapshot("main").QueueLen; got != 1 {
		t.Fatalf("queue len = %d, want 1 (re-queued for retry)", got)
	}
}

func TestOnTickPerTypeNightlyCap(t *testing.T) {
	t.Parallel()

	cfg := nightCfg()
	cfg.Tasks = map[string]TypePolicy{"memory": {MaxPerNight: 1}}
	svc, bus, _ := newTestService(cfg, nil)
	ran := 0
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		ran++
		return nil
	})
	for i := 0; i < 2; i++ {
		if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
			t.Fatal(err)
		}
	}
	svc.OnTick(context.Background(), "main")
	svc.OnTick(context.Background(), "main")

	if ran != 1 {
		t.Fatalf("runner ran %d times, want 1", ran)
	}
	ev, ok := bus.last(eventbus.EventTaskDropped)
	if !ok {
		t.Fatal("no dropped event for capped task")
	}
	if te := ev.Data.(TaskEvent); te.Reason != "nightly_cap" {
		t.Fatalf("drop reason = %q, want nightly_cap", te.Reason)
	}
	snap := svc.Snapshot("main")
	if snap.QueueLen != 0 {
		t.Fatalf("queue len = %d, capped task must be consumed", snap.QueueLen)
	}
	// The cap drop burns no execution cycle.
	if snap.CyclesThisNight != 1 {
		t.Fatalf("cycles = %d, want 1", snap.CyclesThisNight)
	}
}

func TestOnTickMissingRunnerDrops(t *testing.T) {
	t.Parallel()

	svc, bus, _ := newTestService(nightCfg(), nil)
	if _, err := svc.QueueTask("main", Task{Type: "orphan"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")

	ev, ok := bus.last(eventbus.EventTaskDropped)
	if !ok {
		t.Fatal("no dropped event")
	}
	if te := ev.Data.(TaskEvent); te.Reason != "no_runner" {
		t.Fatalf("drop reason = %q, want no_runner", te.Reason)
	}
	snap := svc.Snapshot("main")
	if snap.QueueLen != 0 {
		t.Fatalf("queue len = %d, orphan task must be consumed", snap.QueueLen)
	}
	if snap.CyclesThisNight != 0 {
		t.Fatalf("cycles = %d, want 0", snap.CyclesThisNight)
	}
}

func TestOnMessagePausesInFlightTask(t *testing.T) {
	t.Parallel()

	svc, bus, _ := newTestService(nightCfg(), nil)
	var sawPause bool
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		// Simulate the operator typing while the task runs.
		svc.OnMessage(ctx, "main", TextContent("hey are you there"))
		sawPause = pause.Paused()
		return nil
	})
	if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")

	if !sawPause {
		t.Fatal("pause token was not raised by the mid-run message")
	}
	if got := bus.count(eventbus.EventTaskPaused); got != 1 {
		t.Fatalf("paused events = %d, want 1", got)
	}
	if svc.Snapshot("main").CurrentTaskPaused {
		t.Fatal("pause flag leaked past task completion")
	}
}

func TestOnMessageTriggers(t *testing.T) {
	t.Parallel()

	svc, _, clock := newTestService(nightCfg(), nil)
	ctx := context.Background()

	// Afternoon: no window.
	*clock = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	if svc.InOfficeHours("main") {
		t.Fatal("window open at 15:00 with no trigger")
	}

	// Good night at 22:25, before the clock window. The clock path opens at
	// 22:30 regardless of the 30m buffer.
	*clock = time.Date(2026, 3, 10, 22, 25, 0, 0, time.UTC)
	svc.OnMessage(ctx, "main", TextContent("ok good night"))
	if svc.InOfficeHours("main") {
		t.Fatal("window open immediately at trigger time")
	}
	*clock = time.Date(2026, 3, 10, 22, 31, 0, 0, time.UTC)
	if !svc.InOfficeHours("main") {
		t.Fatal("clock window should open at 22:31")
	}
	if !svc.UserActive("main") {
		t.Fatal("the trigger message itself counts as activity")
	}

	// Morning greeting inside the window closes it, clock notwithstanding.
	*clock = time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)
	svc.OnMessage(ctx, "main", TextContent("good morning!"))
	*clock = time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC)
	snap := svc.Snapshot("main")
	if snap.GoodNightTime != nil {
		t.Fatal("morning greeting must clear the good-night anchor")
	}
	if snap.LastMorningGreeting == nil {
		t.Fatal("morning greeting not recorded")
	}
	// The anchor is gone, so only the clock path remains and 03:30 is
	// inside the clock range.
	if !svc.InOfficeHours("main") {
		t.Fatal("clock window still applies once the anchor is cleared")
	}
}

func TestGoodNightTriggerResetsNightCounters(t *testing.T) {
	t.Parallel()

	svc, _, clock := newTestService(nightCfg(), nil)
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error { return nil })
	if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")
	if svc.Snapshot("main").CyclesThisNight != 1 {
		t.Fatal("setup tick did not run")
	}

	// Next evening's trigger starts a fresh accounting period.
	*clock = time.Date(2026, 3, 11, 22, 0, 0, 0, time.UTC)
	svc.OnMessage(context.Background(), "main", TextContent("good night"))
	snap := svc.Snapshot("main")
	if snap.CyclesThisNight != 0 {
		t.Fatalf("cycles = %d after trigger, want 0", snap.CyclesThisNight)
	}
	if len(snap.ProcessedTonight) != 0 {
		t.Fatalf("processedTonight = %v after trigger, want empty", snap.ProcessedTonight)
	}
}

func TestWindowTransitionEvents(t *testing.T) {
	t.Parallel()

	svc, bus, clock := newTestService(nightCfg(), nil)
	ctx := context.Background()

	*clock = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.OnTick(ctx, "main")
	if got := bus.count(eventbus.EventWindowOpen); got != 0 {
		t.Fatalf("open events = %d before any window, want 0", got)
	}

	*clock = time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	svc.OnTick(ctx, "main")
	svc.OnTick(ctx, "main")
	if got := bus.count(eventbus.EventWindowOpen); got != 1 {
		t.Fatalf("open events = %d, want exactly 1", got)
	}

	*clock = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	svc.OnTick(ctx, "main")
	if got := bus.count(eventbus.EventWindowClose); got != 1 {
		t.Fatalf("close events = %d, want 1", got)
	}
	ev, _ := bus.last(eventbus.EventWindowClose)
	if we, ok := ev.Data.(WindowEvent); !ok || we.Open {
		t.Fatalf("close event data = %+v", ev.Data)
	}
}

func TestSetTimezone(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc, _, _ := newTestService(nightCfg(), store)

	if err := svc.SetTimezone(context.Background(), "main", "Not/AZone"); err == nil {
		t.Fatal("bogus timezone accepted")
	}
	if err := svc.SetTimezone(context.Background(), "main", "Europe/Berlin"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if got := svc.Snapshot("main").Timezone; got != "Europe/Berlin" {
		t.Fatalf("timezone = %q", got)
	}

	store.mu.Lock()
	rec := store.recs["main"]
	store.mu.Unlock()
	if rec.Timezone != "Europe/Berlin" {
		t.Fatalf("persisted timezone = %q", rec.Timezone)
	}
}

func TestAgentStateRestoredFromStore(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	gn := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	store.recs["main"] = storage.AgentRecord{
		GoodNightTime:    &gn,
		ProcessedTonight: map[string]int{"memory": 2},
		Timezone:         "UTC",
		SavedAt:          gn,
	}

	svc, _, _ := newTestService(nightCfg(), store)
	snap := svc.Snapshot("main")
	if snap.GoodNightTime == nil || !snap.GoodNightTime.Equal(gn) {
		t.Fatalf("goodNightTime = %v, want %v", snap.GoodNightTime, gn)
	}
	if snap.ProcessedTonight["memory"] != 2 {
		t.Fatalf("processedTonight = %v", snap.ProcessedTonight)
	}
}

// brokenStore fails every operation, modeling a corrupt or unreachable
// state directory.
type brokenStore struct {
	mu    sync.Mutex
	loads int
	saves int
}

func (s *brokenStore) LoadAgent(ctx context.Context, agentID string) (*storage.AgentRecord, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return nil, errors.New("record corrupt")
}

func (s *brokenStore) SaveAgent(ctx context.Context, agentID string, rec storage.AgentRecord) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return errors.New("disk full")
}

func (s *brokenStore) Close() error { return nil }

func TestBrokenStoreFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	store := &brokenStore{}
	svc, bus, _ := newTestService(nightCfg(), store)

	// The load failure surfaces as defaults, never as an error or panic.
	snap := svc.Snapshot("main")
	if snap.GoodNightTime != nil || snap.CyclesThisNight != 0 || snap.QueueLen != 0 {
		t.Fatalf("snapshot after failed load = %+v, want defaults", snap)
	}

	// The engine stays fully operational and save failures are swallowed.
	ran := 0
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		ran++
		return nil
	})
	if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")

	if ran != 1 {
		t.Fatalf("runner ran %d times, want 1", ran)
	}
	if got := bus.count(eventbus.EventTaskDone); got != 1 {
		t.Fatalf("done events = %d, want 1", got)
	}
	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	if saves == 0 {
		t.Fatal("save was never attempted")
	}
}

// slowLoadStore delays the first load so concurrent first references race it.
type slowLoadStore struct {
	rec   storage.AgentRecord
	mu    sync.Mutex
	loads int
}

func (s *slowLoadStore) LoadAgent(ctx context.Context, agentID string) (*storage.AgentRecord, error) {
	time.Sleep(30 * time.Millisecond)
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	cp := s.rec
	return &cp, nil
}

func (s *slowLoadStore) SaveAgent(ctx context.Context, agentID string, rec storage.AgentRecord) error {
	return nil
}

func (s *slowLoadStore) Close() error { return nil }

func TestConcurrentFirstReferenceSeesRestoredState(t *testing.T) {
	t.Parallel()

	gn := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	store := &slowLoadStore{rec: storage.AgentRecord{
		GoodNightTime: &gn,
		Timezone:      "UTC",
		SavedAt:       gn,
	}}
	svc, _, _ := newTestService(nightCfg(), store)

	const callers = 4
	snaps := make([]AgentSnapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			snaps[i] = svc.Snapshot("main")
		}()
	}
	wg.Wait()

	for i, snap := range snaps {
		if snap.GoodNightTime == nil || !snap.GoodNightTime.Equal(gn) {
			t.Errorf("caller %d observed pre-restore state: goodNightTime = %v", i, snap.GoodNightTime)
		}
	}
	store.mu.Lock()
	loads := store.loads
	store.mu.Unlock()
	if loads != 1 {
		t.Errorf("loads = %d, want exactly 1", loads)
	}
}

func TestEmptyAgentIDMapsToDefault(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(nightCfg(), nil)
	if got := svc.Snapshot("").AgentID; got != DefaultAgentID {
		t.Fatalf("agent id = %q, want %q", got, DefaultAgentID)
	}
	if _, err := svc.QueueTask("  ", Task{Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	if got := svc.Snapshot(DefaultAgentID).QueueLen; got != 1 {
		t.Fatalf("default agent queue len = %d, want 1", got)
	}

	ids := svc.AgentIDs()
	if len(ids) != 1 || ids[0] != DefaultAgentID {
		t.Fatalf("AgentIDs = %v", ids)
	}
}

func TestRegisterRunnerLastWins(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(nightCfg(), nil)
	var got string
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		got = "first"
		return nil
	})
	svc.RegisterRunner("memory", func(ctx context.Context, task Task, pause *PauseToken) error {
		got = "second"
		return nil
	})
	if _, err := svc.QueueTask("main", Task{Type: "memory"}); err != nil {
		t.Fatal(err)
	}
	svc.OnTick(context.Background(), "main")
	if got != "second" {
		t.Fatalf("ran %q, want the later registration", got)
	}
}
