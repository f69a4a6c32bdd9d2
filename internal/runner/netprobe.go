// Package runner ships builtin task runners. NetProbe is the reference
// cooperative runner: a full bandwidth measurement split into phases with a
// pause check between each, so an operator waking up mid-probe never has to
// compete with a saturated uplink for long.
package runner

import (
	"context"
	"fmt"
	"sort"

	st "github.com/showwin/speedtest-go/speedtest"

	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/nightshift"
	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

// TypeNetProbe is the task type NetProbe registers under.
const TypeNetProbe = "netprobe"

type NetProbeConfig struct {
	// ServerCount is how many nearest servers to consider.
	ServerCount int

	// MaxConnections bounds parallel speedtest connections.
	MaxConnections int

	// SavingMode trades accuracy for a smaller memory footprint.
	SavingMode bool
}

type NetProbe struct {
	cfg NetProbeConfig
	log logx.Logger
}

func NewNetProbe(cfg NetProbeConfig, log logx.Logger) *NetProbe {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NetProbe{cfg: cfg, log: log}
}

// Runner returns the task runner function to register.
func (p *NetProbe) Runner() nightshift.Runner { return p.run }

func (p *NetProbe) run(ctx context.Context, task nightshift.Task, pause *nightshift.PauseToken) error {
	abort := func(phase string) bool {
		if !pause.Paused() {
			return false
		}
		p.log.Info("netprobe yielding to operator", logx.String("id", task.ID), logx.String("phase", phase))
		return true
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if abort("start") {
		return nil
	}

	client := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     p.cfg.SavingMode,
		MaxConnections: p.cfg.MaxConnections,
	}))
	client.SetNThread(p.cfg.MaxConnections)
	defer func() {
		client.Snapshots().Clean()
		client.Reset()
	}()

	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return fmt.Errorf("no servers available")
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	if len(servers) > p.cfg.ServerCount {
		servers = servers[:p.cfg.ServerCount]
	}

	if abort("ping") {
		return nil
	}
	var best *st.Server
	for _, s := range servers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.PingTestContext(ctx, nil); err != nil {
			continue
		}
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	if best == nil {
		return fmt.Errorf("all latency tests failed")
	}
	p.log.Debug("netprobe server selected",
		logx.String("server", best.Name), logx.Duration("latency", best.Latency))

	if abort("download") {
		return nil
	}
	if err := best.DownloadTestContext(ctx); err != nil {
		return fmt.Errorf("download test: %w", err)
	}

	if abort("upload") {
		// Download finished; a partial result is still worth logging.
		p.log.Info("netprobe partial result",
			logx.String("id", task.ID), logx.Any("download_mbps", best.DLSpeed.Mbps()))
		return nil
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return fmt.Errorf("upload test: %w", err)
	}

	p.log.Info("netprobe result",
		logx.String("id", task.ID),
		logx.String("server", best.Name),
		logx.Duration("latency", best.Latency),
		logx.Any("download_mbps", best.DLSpeed.Mbps()),
		logx.Any("upload_mbps", best.ULSpeed.Mbps()))
	return nil
}
