package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"
)

var _ contract.IPublisher = (*Channel)(nil)

type OfferResult int

const (
	Queued OfferResult = iota
	AlreadyInFlight
	QueueFull
	Closed
)

// Channel is the publish side of the fan-out pipeline.
// Events are made durable in the outbox first, then handed to consumers through a bounded queue.
// An entry stays "in flight" from the moment it is queued until a consumer releases it,
// which keeps the redelivery sweep from queueing it twice.
type Channel struct {
	log    *slog.Logger
	outbox contract.IOutbox
	queue  chan contract.OutboxEntry

	mu       sync.Mutex
	inFlight map[uint64]struct{}
	closed   bool
}

func NewChannel(log *slog.Logger, outbox contract.IOutbox, bufferSize int) *Channel {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Channel{
		log:      log,
		outbox:   outbox,
		queue:    make(chan contract.OutboxEntry, bufferSize),
		inFlight: make(map[uint64]struct{}),
	}
}

// Publish returns once the event is durable. A full queue is not an error:
// the entry waits in the outbox for the next redelivery sweep.
func (c *Channel) Publish(ctx context.Context, evt domain.PublishedEvent) error {
	seq, err := c.outbox.Append(ctx, evt)
	if err != nil {
		return err
	}
	switch c.Offer(contract.OutboxEntry{Seq: seq, Event: evt}) {
	case QueueFull:
		c.log.Warn("Publish queue full, event deferred to redelivery", "event_id", evt.ID, "seq", seq)
	case Closed:
		return errors.ErrQueueClosed
	}
	return nil
}

// Offer queues entry without blocking unless it is already in flight.
func (c *Channel) Offer(entry contract.OutboxEntry) OfferResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Closed
	}
	if _, ok := c.inFlight[entry.Seq]; ok {
		return AlreadyInFlight
	}
	select {
	case c.queue <- entry:
		c.inFlight[entry.Seq] = struct{}{}
		return Queued
	default:
		return QueueFull
	}
}

// Events is the consumer side of the queue.
func (c *Channel) Events() <-chan contract.OutboxEntry {
	return c.queue
}

// Release marks seq as no longer handled by anyone.
func (c *Channel) Release(seq uint64) {
	c.mu.Lock()
	delete(c.inFlight, seq)
	c.mu.Unlock()
}

// InFlight is the number of queued or currently broadcasting entries.
func (c *Channel) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Capacity is the queue buffer size.
func (c *Channel) Capacity() int {
	return cap(c.queue)
}

// Close stops accepting entries. Entries still in the outbox are replayed on next start.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
