// Package notifier turns scheduler events into operator-facing messages:
// a morning report when the window closes and alerts for failing or
// orphaned tasks. Sends are queued, rate limited and deduplicated so a
// flapping task cannot flood the chat.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/eventbus"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/nightshift"
	rtsup "github.com/VectorBarks/openclaw-plugin-nightshift/internal/runtime/supervisor"
	kit "github.com/VectorBarks/openclaw-plugin-nightshift/internal/transport"
	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
)

type Config struct {
	Enabled bool

	// Chat receives all notifications.
	Chat kit.ChatTarget

	QueueSize  int
	RatePerSec int

	// MorningReport enables the window-close summary.
	MorningReport bool

	// DedupWindow suppresses repeats of the same alert key. 0 disables.
	DedupWindow time.Duration
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	limiter *rate.Limiter
	queue   chan string
	sup     *rtsup.Supervisor
	unsub   func()

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		dedup:   map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}

	s.queue = make(chan string, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)

	ch, unsub := s.bus.Subscribe(128)
	s.unsub = unsub

	q := s.queue
	s.sup.GoRestart("events", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return c.Err()
			case e, ok := <-ch:
				if !ok {
					return errors.New("event channel closed")
				}
				if text, ok := s.render(e); ok {
					s.offer(q, text)
				}
			}
		}
	})
	s.sup.GoRestart("sender", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return c.Err()
			case text := <-q:
				if err := s.limiter.Wait(c); err != nil {
					return err
				}
				sctx, cancel := context.WithTimeout(c, 10*time.Second)
				err := s.adapter.SendText(sctx, s.cfg.Chat, text, nil)
				cancel()
				if err != nil {
					s.log.Warn("notification send failed", logx.Err(err))
				}
			}
		}
	})

	s.log.Info("notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	unsub := s.unsub
	s.sup = nil
	s.unsub = nil
	s.queue = nil
	s.mu.Unlock()

	if sup == nil {
		return
	}
	if unsub != nil {
		unsub()
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("notifier stopped")
}

// Notify pushes a free-form operator message through the pipeline.
func (s *Service) Notify(text string) error {
	s.mu.Lock()
	q := s.queue
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}
	if q == nil {
		return ErrDisabled
	}
	if !s.offer(q, text) {
		return ErrQueueFull
	}
	return nil
}

func (s *Service) offer(q chan string, text string) bool {
	select {
	case q <- text:
		return true
	default:
		s.log.Warn("notifier queue full, dropping message")
		return false
	}
}

// render maps a scheduler event to an outbound message. The bool is false
// for events that produce no message, whether by kind, config, or dedup.
func (s *Service) render(e eventbus.Event) (string, bool) {
	switch e.Type {
	case eventbus.EventWindowClose:
		if !s.cfg.MorningReport {
			return "", false
		}
		we, ok := e.Data.(nightshift.WindowEvent)
		if !ok {
			return "", false
		}
		return formatReport(we), true

	case eventbus.EventTaskFailed:
		te, ok := e.Data.(nightshift.TaskEvent)
		if !ok {
			return "", false
		}
		if !s.allow("failed:" + te.AgentID + ":" + te.Type) {
			return "", false
		}
		return fmt.Sprintf("⚠️ Night task %s failed (attempt %d): %s", te.Type, te.Attempts, te.Error), true

	case eventbus.EventTaskDropped:
		te, ok := e.Data.(nightshift.TaskEvent)
		if !ok || te.Reason != "no_runner" {
			return "", false
		}
		if !s.allow("no_runner:" + te.Type) {
			return "", false
		}
		return fmt.Sprintf("⚠️ Night task %s dropped: no runner registered", te.Type), true
	}
	return "", false
}

// allow reports whether an alert key is outside its suppression window and
// marks it seen.
func (s *Service) allow(key string) bool {
	if s.cfg.DedupWindow <= 0 {
		return true
	}
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	// Opportunistic sweep keeps the map from growing unbounded.
	for k, until := range s.dedup {
		if now.After(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	return true
}

func formatReport(we nightshift.WindowEvent) string {
	var b strings.Builder
	b.WriteString("🌅 Good morning! Night window closed")
	if we.AgentID != "" && we.AgentID != nightshift.DefaultAgentID {
		fmt.Fprintf(&b, " for %s", we.AgentID)
	}
	fmt.Fprintf(&b, ".\nCycles run: %d", we.Cycles)
	if len(we.Processed) == 0 {
		b.WriteString("\nNo tasks processed.")
		return b.String()
	}
	types := make([]string, 0, len(we.Processed))
	for t := range we.Processed {
		types = append(types, t)
	}
	sort.Strings(types)
	b.WriteString("\nProcessed:")
	for _, t := range types {
		fmt.Fprintf(&b, "\n  • %s ×%d", t, we.Processed[t])
	}
	return b.String()
}
