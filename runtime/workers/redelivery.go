package workers

import (
	"chat-relay/contract"
	"chat-relay/runtime"
	"context"
	"log/slog"
	"time"
)

var _ contract.Worker = (*Redelivery)(nil)

// Redelivery re-queues outbox entries nobody is handling: overflow from a full queue,
// failed broadcasts and anything left over by a previous process.
// It sweeps once at start then every interval.
type Redelivery struct {
	log      *slog.Logger
	channel  *runtime.Channel
	outbox   contract.IOutbox
	interval time.Duration
}

func NewRedelivery(log *slog.Logger, channel *runtime.Channel, outbox contract.IOutbox, interval time.Duration) *Redelivery {
	return &Redelivery{log: log, channel: channel, outbox: outbox, interval: interval}
}

func (r *Redelivery) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil {
			r.log.Warn("Redelivery sweep failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			r.log.Debug("Context done, stopping redelivery")
			return nil
		}
	}
}

// Sweep queues pending entries until the queue is full and returns how many were queued.
func (r *Redelivery) Sweep(ctx context.Context) (int, error) {
	limit := r.channel.Capacity() + r.channel.InFlight()
	entries, err := r.outbox.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, entry := range entries {
		switch r.channel.Offer(entry) {
		case runtime.Queued:
			queued++
		case runtime.QueueFull, runtime.Closed:
			r.logSweep(queued, len(entries))
			return queued, nil
		}
	}
	r.logSweep(queued, len(entries))
	return queued, nil
}

func (r *Redelivery) logSweep(queued, pending int) {
	if queued > 0 {
		r.log.Info("Outbox entries redelivered", "queued", queued, "pending", pending)
	}
}
