// Package ticker drives the scheduling engine: it fires the per-agent tick
// at a fixed interval through a cron runner pinned to the configured
// timezone. Tick overlap is harmless, the engine is single-flight per agent.
package ticker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

// Core is the slice of the scheduling engine the ticker needs.
type Core interface {
	OnTick(ctx context.Context, agentID string)
	AgentIDs() []string
}

type Config struct {
	// Interval between scheduling ticks.
	Interval time.Duration

	// Timezone is the IANA zone for the cron runner.
	Timezone string
}

type Service struct {
	cfg  Config
	log  logx.Logger
	core Core

	mu     sync.Mutex
	c      *cron.Cron
	stopCh chan struct{}
}

func New(cfg Config, log logx.Logger, core Core) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Service{cfg: cfg, log: log, core: core}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}
	s.stopCh = make(chan struct{})

	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(loc))

	spec := fmt.Sprintf("@every %s", s.cfg.Interval.String())
	if _, err := s.c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		s.stopCh = nil
		s.c = nil
		return fmt.Errorf("register tick job: %w", err)
	}

	s.c.Start()
	s.log.Info("ticker started",
		logx.Duration("interval", s.cfg.Interval), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil

	if s.c != nil {
		done := s.c.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
		}
		s.c = nil
	}
	s.log.Info("ticker stopped")
}

// tick runs one scheduling pass over every known agent. A process that has
// seen no agent yet still ticks the default one, so persisted state keeps
// being evaluated after a restart.
func (s *Service) tick(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	ids := s.core.AgentIDs()
	if len(ids) == 0 {
		ids = []string{""}
	}
	for _, id := range ids {
		// The service context is passed through undeadlined: a runner is
		// never cut off by the tick interval. Interruption is the pause
		// token's job, and the engine's single-flight gate keeps an
		// overlapping tick from starting a second task.
		s.core.OnTick(ctx, id)
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
