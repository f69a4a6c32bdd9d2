// Package gateway bridges the messaging transport to the scheduling engine.
// Every owner message counts as operator activity; a small owner-only
// command surface exposes status, manual queueing and timezone control.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/nightshift"
	rtsup "github.com/VectorBarks/openclaw-plugin-nightshift/internal/runtime/supervisor"
	kit "github.com/VectorBarks/openclaw-plugin-nightshift/internal/transport"
	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

// Core is the slice of the scheduling engine the gateway drives.
type Core interface {
	OnMessage(ctx context.Context, agentID string, blocks []nightshift.ContentBlock)
	OnActivity(ctx context.Context, agentID string)
	QueueTask(agentID string, t nightshift.Task) (string, error)
	SetTimezone(ctx context.Context, agentID, tz string) error
	Snapshot(agentID string) nightshift.AgentSnapshot
}

type Config struct {
	// OwnerIDs are the only accounts whose messages are processed. An empty
	// list accepts everyone, useful for single-user test setups only.
	OwnerIDs []int64

	// AgentID binds this chat to one agent. Empty means the default agent.
	AgentID string
}

func (c Config) isOwner(id int64) bool {
	if len(c.OwnerIDs) == 0 {
		return true
	}
	for _, o := range c.OwnerIDs {
		if o == id {
			return true
		}
	}
	return false
}

type Service struct {
	cfg     Config
	log     logx.Logger
	core    Core
	adapter kit.Adapter

	sup     *rtsup.Supervisor
	updates chan kit.Update
}

func New(cfg Config, adapter kit.Adapter, core Core, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, core: core, adapter: adapter}
}

func (s *Service) Start(ctx context.Context) error {
	if s.sup != nil {
		return nil
	}
	s.updates = make(chan kit.Update, 128)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "gateway"))),
		rtsup.WithCancelOnError(false),
	)

	upd := s.updates
	s.sup.GoRestart("updates", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return c.Err()
			case u, ok := <-upd:
				if !ok {
					return nil
				}
				s.handleUpdate(c, u)
			}
		}
	})

	if err := s.adapter.Start(ctx, s.updates); err != nil {
		s.sup.Cancel()
		s.sup = nil
		return fmt.Errorf("start transport: %w", err)
	}
	s.log.Info("gateway started", logx.Int("owners", len(s.cfg.OwnerIDs)))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	_ = s.adapter.Stop(ctx)
	s.sup.Cancel()
	_ = s.sup.Wait(ctx)
	s.sup = nil
	s.log.Info("gateway stopped")
}

func (s *Service) handleUpdate(ctx context.Context, u kit.Update) {
	if u.Kind != kit.UpdateMessage || u.Message == nil {
		return
	}
	m := u.Message
	if !s.cfg.isOwner(m.FromID) {
		s.log.Debug("ignoring non-owner message", logx.Int64("from", m.FromID))
		return
	}

	text := strings.TrimSpace(m.Text)
	if strings.HasPrefix(text, "/") {
		// Commands count as operator activity but skip trigger scanning,
		// "/status" must not read as a bedtime phrase.
		s.core.OnActivity(ctx, s.cfg.AgentID)
		s.reply(ctx, m, s.dispatch(ctx, text))
		return
	}

	s.core.OnMessage(ctx, s.cfg.AgentID, nightshift.TextContent(text))
}

// dispatch executes one slash command and returns the reply text.
func (s *Service) dispatch(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "status":
		return formatStatus(s.core.Snapshot(s.cfg.AgentID))

	case "queue":
		if len(args) == 0 {
			return "Usage: /queue <type> [priority]"
		}
		t := nightshift.Task{Type: args[0]}
		if len(args) > 1 {
			p, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Sprintf("Bad priority %q, expected an integer.", args[1])
			}
			t.Priority = p
		}
		id, err := s.core.QueueTask(s.cfg.AgentID, t)
		if err != nil {
			return fmt.Sprintf("Queue failed: %v", err)
		}
		return fmt.Sprintf("Queued %s (%s).", t.Type, id)

	case "tz":
		if len(args) == 0 {
			return "Usage: /tz <IANA zone>, e.g. /tz Europe/Berlin"
		}
		if err := s.core.SetTimezone(ctx, s.cfg.AgentID, args[0]); err != nil {
			return fmt.Sprintf("Timezone not set: %v", err)
		}
		return fmt.Sprintf("Timezone set to %s.", args[0])

	case "help", "start":
		return "Commands:\n/status — scheduler state\n/queue <type> [priority] — queue a night task\n/tz <zone> — set window timezone"
	}
	return fmt.Sprintf("Unknown command /%s. Try /help.", cmd)
}

func (s *Service) reply(ctx context.Context, m *kit.Message, text string) {
	if text == "" {
		return
	}
	if err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, nil); err != nil {
		s.log.Warn("reply send failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func formatStatus(snap nightshift.AgentSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", snap.AgentID)
	if snap.Timezone != "" {
		fmt.Fprintf(&b, "Timezone: %s\n", snap.Timezone)
	}
	fmt.Fprintf(&b, "Window: %s\n", openClosed(snap.InWindow))
	fmt.Fprintf(&b, "Operator: %s\n", activeIdle(snap.UserActive))
	fmt.Fprintf(&b, "Queue: %d pending\n", snap.QueueLen)
	fmt.Fprintf(&b, "Cycles tonight: %d", snap.CyclesThisNight)
	if snap.CurrentTask != nil {
		fmt.Fprintf(&b, "\nRunning: %s (%s)", snap.CurrentTask.Type, snap.CurrentTask.ID)
		if snap.CurrentTaskPaused {
			b.WriteString(" [paused]")
		}
	}
	if len(snap.ProcessedTonight) > 0 {
		types := make([]string, 0, len(snap.ProcessedTonight))
		for t := range snap.ProcessedTonight {
			types = append(types, t)
		}
		sort.Strings(types)
		b.WriteString("\nProcessed tonight:")
		for _, t := range types {
			fmt.Fprintf(&b, " %s×%d", t, snap.ProcessedTonight[t])
		}
	}
	return b.String()
}

func openClosed(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

func activeIdle(active bool) string {
	if active {
		return "active"
	}
	return "idle"
}
