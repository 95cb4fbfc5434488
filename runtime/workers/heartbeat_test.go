package workers

import (
	"chat-relay/domain"
	"chat-relay/mocks"
	"chat-relay/runtime"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type observerFunc func(domain.NodeStats)

func (f observerFunc) ObserveNode(stats domain.NodeStats) { f(stats) }

func TestHeartbeat_Reports_Samples_Until_Cancelled(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	channel := runtime.NewChannel(log, mocks.NewMockIOutbox(ctrl), 8)

	samples := make(chan domain.NodeStats, 16)
	hb := NewHeartbeat(log, 10*time.Millisecond, func() int { return 3 }, channel,
		observerFunc(func(s domain.NodeStats) {
			select {
			case samples <- s:
			default:
			}
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx) }()

	// Then a sample describes this process
	select {
	case s := <-samples:
		req.Equal(int32(os.Getpid()), s.PID)
		req.Equal(3, s.Sessions)
		req.Equal(8, s.QueueCapacity)
		req.Zero(s.InFlight)
	case <-time.After(2 * time.Second):
		req.FailNow("no heartbeat")
	}

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.FailNow("heartbeat did not stop")
	}
}
