package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/mocks"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestConsumer_Handle_Broadcasts_Then_Acks(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	outbox := mocks.NewMockIOutbox(ctrl)
	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	channel := runtime.NewChannel(log, outbox, 4)
	consumer := NewConsumer(log, channel, broadcaster, outbox)

	entry := contract.OutboxEntry{Seq: 3, Event: domain.PublishedEvent{ID: "e", Payloads: [][]byte{[]byte("hi")}}}
	req.Equal(runtime.Queued, channel.Offer(entry))

	gomock.InOrder(
		broadcaster.EXPECT().Broadcast(gomock.Any(), [][]byte{[]byte("hi")}).Return(domain.BroadcastResult{Delivered: 1}, nil),
		outbox.EXPECT().Ack(gomock.Any(), uint64(3)).Return(nil),
	)

	consumer.Handle(context.Background(), <-channel.Events())
	req.Equal(0, channel.InFlight())
}

func TestConsumer_Handle_Failed_Broadcast_Is_Not_Acked(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	outbox := mocks.NewMockIOutbox(ctrl)
	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	channel := runtime.NewChannel(log, outbox, 4)
	consumer := NewConsumer(log, channel, broadcaster, outbox)

	broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).Return(domain.BroadcastResult{}, fmt.Errorf("registry down"))
	outbox.EXPECT().Ack(gomock.Any(), gomock.Any()).Times(0)

	consumer.Handle(context.Background(), contract.OutboxEntry{Seq: 1})
	req.Equal(0, channel.InFlight())
}

func TestConsumer_Run_Stops_On_Context(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	consumer := NewConsumer(log, runtime.NewChannel(log, nil, 1), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req.NoError(consumer.Run(ctx))
}

func TestRedelivery_Sweep_Skips_In_Flight_And_Stops_When_Full(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	outbox := mocks.NewMockIOutbox(ctrl)
	channel := runtime.NewChannel(log, outbox, 2)
	sweeper := NewRedelivery(log, channel, outbox, time.Hour)

	// Given seq 1 is already being handled
	req.Equal(runtime.Queued, channel.Offer(contract.OutboxEntry{Seq: 1}))
	outbox.EXPECT().Pending(gomock.Any(), 3).Return([]contract.OutboxEntry{{Seq: 1}, {Seq: 2}, {Seq: 3}}, nil)

	// When sweeping
	queued, err := sweeper.Sweep(context.Background())

	// Then only seq 2 fits: 1 is in flight and the queue is then full
	req.NoError(err)
	req.Equal(1, queued)
	req.Equal(2, channel.InFlight())
}

func TestPipeline_Replays_Unacked_Events_After_Restart(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	dir := t.TempDir()

	// Given an event published by a process that stopped before consuming it
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	req.NoError(err)
	outbox, err := repositories.NewOutboxRepository(db, log)
	req.NoError(err)
	req.NoError(runtime.NewChannel(log, outbox, 4).Publish(ctx, domain.PublishedEvent{ID: "e1", Payloads: [][]byte{[]byte("hello")}}))
	req.NoError(outbox.Close())
	req.NoError(db.Close())

	// When a new process starts its sweeper and consumer
	db, err = badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	req.NoError(err)
	defer func() { _ = db.Close() }()
	outbox, err = repositories.NewOutboxRepository(db, log)
	req.NoError(err)
	defer func() { _ = outbox.Close() }()

	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	done := make(chan struct{})
	broadcaster.EXPECT().Broadcast(gomock.Any(), [][]byte{[]byte("hello")}).
		DoAndReturn(func(context.Context, [][]byte) (domain.BroadcastResult, error) {
			close(done)
			return domain.BroadcastResult{Delivered: 1}, nil
		})

	channel := runtime.NewChannel(log, outbox, 4)
	runCtx, cancel := context.WithCancel(ctx)
	sup := NewSupervisor(log, 0).Add(
		NewRedelivery(log, channel, outbox, time.Hour),
		NewConsumer(log, channel, broadcaster, outbox),
	)
	stopped := make(chan struct{})
	go func() {
		sup.Run(runCtx)
		close(stopped)
	}()

	// Then the event is broadcast and eventually acked
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("replayed event was never broadcast")
	}
	req.Eventually(func() bool {
		pending, err := outbox.Pending(ctx, 10)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-stopped
}
