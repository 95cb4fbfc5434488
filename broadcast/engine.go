// Package broadcast fans one published event out to every live connection.
package broadcast

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var _ contract.IBroadcaster = (*Engine)(nil)

const (
	defaultDeliveryTimeout  = 5 * time.Second
	defaultBroadcastTimeout = 30 * time.Second
)

type Options struct {
	// DeliveryTimeout bounds one (connection, payload) attempt.
	DeliveryTimeout time.Duration
	// BroadcastTimeout bounds the whole invocation. Attempts not started by then are abandoned.
	BroadcastTimeout time.Duration
	// Concurrency caps connections served at once. Zero means one goroutine per connection.
	Concurrency int
}

type Engine struct {
	log       *slog.Logger
	registry  contract.IConnectionRegistry
	transport contract.ITransport
	recorder  contract.IRecorder
	opts      Options
}

func NewEngine(log *slog.Logger, registry contract.IConnectionRegistry, transport contract.ITransport,
	recorder contract.IRecorder, opts Options) *Engine {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if opts.BroadcastTimeout <= 0 {
		opts.BroadcastTimeout = defaultBroadcastTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{log: log, registry: registry, transport: transport, recorder: recorder, opts: opts}
}

// Broadcast delivers every payload, in order, to each connection of a registry snapshot.
// A terminal failure stops delivery to that connection only; the connections found gone
// are removed from the registry once, after every attempt has resolved.
func (e *Engine) Broadcast(ctx context.Context, payloads [][]byte) (domain.BroadcastResult, error) {
	start := time.Now()
	result := domain.BroadcastResult{MessagesInEvent: len(payloads)}
	if len(payloads) == 0 {
		return result, nil
	}

	fanoutCtx, cancel := context.WithTimeout(ctx, e.opts.BroadcastTimeout)
	defer cancel()

	connections, err := e.registry.ListAll(fanoutCtx)
	if err != nil {
		return result, errors.Transient("list connections", err)
	}
	result.ConnectionsConsidered = len(connections)
	e.recorder.SetConnections(len(connections))
	if len(connections) == 0 {
		e.recorder.ObserveBroadcast(result, time.Since(start))
		return result, nil
	}

	var (
		attempts  atomic.Int64
		delivered atomic.Int64
		mu        sync.Mutex
		stale     = make(map[string]struct{})
	)
	g := new(errgroup.Group)
	if e.opts.Concurrency > 0 {
		g.SetLimit(e.opts.Concurrency)
	}
	for _, conn := range connections {
		if fanoutCtx.Err() != nil {
			break
		}
		handle := conn.Handle
		g.Go(func() error {
			for _, payload := range payloads {
				if fanoutCtx.Err() != nil {
					return nil
				}
				attempts.Add(1)
				outcome := e.deliver(fanoutCtx, handle, payload)
				e.recorder.ObserveDelivery(outcome)
				switch outcome {
				case domain.Delivered:
					delivered.Add(1)
				case domain.Terminal:
					mu.Lock()
					stale[handle] = struct{}{}
					mu.Unlock()
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Attempts = int(attempts.Load())
	result.Delivered = int(delivered.Load())
	if fanoutCtx.Err() != nil {
		result.Partial = true
		e.log.Warn("Broadcast deadline reached, remaining attempts abandoned",
			"connections", result.ConnectionsConsidered, "attempts", result.Attempts)
	}

	result.StaleRemoved = e.removeStale(ctx, lo.Keys(stale))
	e.recorder.ObserveBroadcast(result, time.Since(start))
	e.log.Debug("Broadcast done",
		"connections", result.ConnectionsConsidered,
		"attempts", result.Attempts,
		"sent", result.Delivered,
		"stale_removed", result.StaleRemoved,
		"took", time.Since(start))
	return result, nil
}

func (e *Engine) deliver(ctx context.Context, handle string, payload []byte) domain.DeliveryOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.DeliveryTimeout)
	defer cancel()

	err := e.transport.PostToConnection(attemptCtx, handle, payload)
	switch {
	case err == nil:
		return domain.Delivered
	case errors.IsTerminal(err):
		e.log.Debug("Connection gone, marking stale", "handle", handle)
		return domain.Terminal
	default:
		e.log.Warn("Delivery failed", "handle", handle, "error", err)
		return domain.Transient
	}
}

// removeStale deletes the handles in sorted order and counts those that still existed.
// It runs detached from the broadcast deadline so cleanup survives a partial fan-out.
func (e *Engine) removeStale(ctx context.Context, handles []string) int {
	if len(handles) == 0 {
		return 0
	}
	sort.Strings(handles)
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.DeliveryTimeout)
	defer cancel()

	removed := 0
	for _, handle := range handles {
		existed, err := e.registry.DeleteByHandle(cleanupCtx, handle)
		if err != nil {
			e.log.Error("Failed to remove stale connection", "handle", handle, "error", err)
			continue
		}
		if existed {
			removed++
		}
	}
	e.log.Info("Stale connections removed", "count", removed, "candidates", len(handles))
	return removed
}

type nopRecorder struct{}

func (nopRecorder) ObserveBroadcast(domain.BroadcastResult, time.Duration) {}
func (nopRecorder) ObserveDelivery(domain.DeliveryOutcome)                 {}
func (nopRecorder) SetConnections(int)                                     {}
