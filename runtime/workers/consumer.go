package workers

import (
	"chat-relay/contract"
	"chat-relay/runtime"
	"context"
	"log/slog"
)

var _ contract.Worker = (*Consumer)(nil)

// Consumer drains the publish channel into the broadcast engine.
// An entry is acked once broadcast, so a crash in between replays it.
type Consumer struct {
	log         *slog.Logger
	channel     *runtime.Channel
	broadcaster contract.IBroadcaster
	outbox      contract.IOutbox
}

func NewConsumer(log *slog.Logger, channel *runtime.Channel, broadcaster contract.IBroadcaster, outbox contract.IOutbox) *Consumer {
	return &Consumer{log: log, channel: channel, broadcaster: broadcaster, outbox: outbox}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-c.channel.Events():
			c.Handle(ctx, entry)
		case <-ctx.Done():
			c.log.Debug("Context done, stopping consumer")
			return nil
		}
	}
}

// Handle broadcasts one entry and acks it. A failed broadcast leaves it in the outbox.
func (c *Consumer) Handle(ctx context.Context, entry contract.OutboxEntry) {
	defer c.channel.Release(entry.Seq)

	result, err := c.broadcaster.Broadcast(ctx, entry.Event.Payloads)
	if err != nil {
		c.log.Warn("Broadcast failed, entry kept for redelivery", "seq", entry.Seq, "event_id", entry.Event.ID, "error", err)
		return
	}
	if err := c.outbox.Ack(ctx, entry.Seq); err != nil {
		c.log.Warn("Ack failed, event may be broadcast again", "seq", entry.Seq, "error", err)
		return
	}
	c.log.Debug("Event broadcast",
		"event_id", entry.Event.ID,
		"connections", result.ConnectionsConsidered,
		"sent", result.Delivered,
		"stale_removed", result.StaleRemoved)
}
