package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestChannel_Publish_Appends_Then_Queues(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	outbox := mocks.NewMockIOutbox(ctrl)
	channel := NewChannel(log, outbox, 2)

	evt := domain.PublishedEvent{ID: "e1", Payloads: [][]byte{[]byte("hello")}}
	outbox.EXPECT().Append(gomock.Any(), evt).Return(uint64(7), nil)

	req.NoError(channel.Publish(context.Background(), evt))

	entry := <-channel.Events()
	req.Equal(contract.OutboxEntry{Seq: 7, Event: evt}, entry)
	req.Equal(1, channel.InFlight())
	channel.Release(7)
	req.Equal(0, channel.InFlight())
}

func TestChannel_Publish_Full_Queue_Is_Not_An_Error(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	outbox := mocks.NewMockIOutbox(ctrl)
	channel := NewChannel(log, outbox, 1)

	gomock.InOrder(
		outbox.EXPECT().Append(gomock.Any(), gomock.Any()).Return(uint64(1), nil),
		outbox.EXPECT().Append(gomock.Any(), gomock.Any()).Return(uint64(2), nil),
	)

	req.NoError(channel.Publish(context.Background(), domain.PublishedEvent{ID: "e1"}))
	req.NoError(channel.Publish(context.Background(), domain.PublishedEvent{ID: "e2"}))

	// Only the first made it into the queue; the second waits in the outbox
	req.Equal(1, channel.InFlight())
	req.Equal(uint64(1), (<-channel.Events()).Seq)
}

func TestChannel_Publish_Outbox_Failure_Is_Returned(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	outbox := mocks.NewMockIOutbox(ctrl)
	channel := NewChannel(log, outbox, 1)

	outbox.EXPECT().Append(gomock.Any(), gomock.Any()).Return(uint64(0), errors.Transient("outbox append", fmt.Errorf("disk full")))

	err := channel.Publish(context.Background(), domain.PublishedEvent{ID: "e1"})
	req.ErrorIs(err, errors.ErrTransient)
	req.Equal(0, channel.InFlight())
}

func TestChannel_Offer(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	channel := NewChannel(log, nil, 1)

	req.Equal(Queued, channel.Offer(contract.OutboxEntry{Seq: 1}))
	req.Equal(AlreadyInFlight, channel.Offer(contract.OutboxEntry{Seq: 1}))
	req.Equal(QueueFull, channel.Offer(contract.OutboxEntry{Seq: 2}))

	channel.Close()
	req.Equal(Closed, channel.Offer(contract.OutboxEntry{Seq: 3}))
}

func TestChannel_Publish_After_Close(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	outbox := mocks.NewMockIOutbox(ctrl)
	channel := NewChannel(log, outbox, 1)
	channel.Close()

	outbox.EXPECT().Append(gomock.Any(), gomock.Any()).Return(uint64(1), nil)

	req.ErrorIs(channel.Publish(context.Background(), domain.PublishedEvent{ID: "e1"}), errors.ErrQueueClosed)
}
