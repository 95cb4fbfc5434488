package observability

import (
	"chat-relay/domain"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Records_Broadcasts(t *testing.T) {
	req := require.New(t)
	m := NewMetrics()

	m.SetConnections(3)
	m.ObserveDelivery(domain.Delivered)
	m.ObserveDelivery(domain.Delivered)
	m.ObserveDelivery(domain.Terminal)
	m.ObserveBroadcast(domain.BroadcastResult{ConnectionsConsidered: 3, StaleRemoved: 1}, 20*time.Millisecond)
	m.ObserveBroadcast(domain.BroadcastResult{Partial: true}, time.Second)

	req.Equal(float64(3), testutil.ToFloat64(m.connections))
	req.Equal(float64(2), testutil.ToFloat64(m.deliveries.WithLabelValues("delivered")))
	req.Equal(float64(1), testutil.ToFloat64(m.deliveries.WithLabelValues("terminal")))
	req.Equal(float64(1), testutil.ToFloat64(m.staleRemoved))
	req.Equal(float64(1), testutil.ToFloat64(m.broadcasts.WithLabelValues("true")))
	req.Equal(float64(1), testutil.ToFloat64(m.broadcasts.WithLabelValues("false")))
}

func TestMetrics_Handler_Exposes_Namespace(t *testing.T) {
	req := require.New(t)
	m := NewMetrics()
	m.SetConnections(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	req.NoError(err)
	req.Contains(string(body), "chat_relay_registry_connections 1")
}

func TestMetrics_ObserveNode(t *testing.T) {
	req := require.New(t)
	m := NewMetrics()

	m.ObserveNode(domain.NodeStats{Sessions: 4, InFlight: 2, CPUPercent: 12.5})

	req.Equal(float64(4), testutil.ToFloat64(m.sessions))
	req.Equal(float64(2), testutil.ToFloat64(m.inFlight))
	req.Equal(12.5, testutil.ToFloat64(m.cpuPercent))
}
