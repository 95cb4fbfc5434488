package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/runtime"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

const defaultHeartbeatInterval = 15 * time.Second

// Heartbeat samples the process and the publish pipeline on a fixed interval.
type Heartbeat struct {
	log      *slog.Logger
	interval time.Duration
	sessions func() int
	channel  *runtime.Channel
	observer contract.INodeObserver
}

func NewHeartbeat(log *slog.Logger, interval time.Duration, sessions func() int,
	channel *runtime.Channel, observer contract.INodeObserver) *Heartbeat {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Heartbeat{log: log, interval: interval, sessions: sessions, channel: channel, observer: observer}
}

func (h *Heartbeat) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := h.Sample(p)
			h.observer.ObserveNode(stats)
			h.log.Debug("Heartbeat",
				"sessions", stats.Sessions,
				"in_flight", stats.InFlight,
				"rss_bytes", stats.RSSBytes,
				"cpu_percent", stats.CPUPercent)
		}
	}
}

// Sample reads one snapshot. A failing process probe leaves its fields at zero.
func (h *Heartbeat) Sample(p *process.Process) domain.NodeStats {
	stats := domain.NodeStats{
		PID:           p.Pid,
		InFlight:      h.channel.InFlight(),
		QueueCapacity: h.channel.Capacity(),
		SampledAt:     time.Now().UTC(),
	}
	if h.sessions != nil {
		stats.Sessions = h.sessions()
	}
	if mem, err := p.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	} else {
		h.log.Warn("Failed to read memory stats", "error", err)
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	} else {
		h.log.Warn("Failed to read cpu stats", "error", err)
	}
	return stats
}
