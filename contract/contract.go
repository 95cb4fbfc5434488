//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IConnectionRegistry tracks which connections are currently reachable.
// Each handle's entry is mutated atomically on its own; there is no cross-handle transaction.
type IConnectionRegistry interface {
	Insert(ctx context.Context, handle, userID string, info domain.ConnectInfo) error
	DeleteByHandle(ctx context.Context, handle string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	ListAll(ctx context.Context) ([]domain.Connection, error)
	Touch(ctx context.Context, handle string) error
}

// IMessageStore is the append-only record of chat messages.
type IMessageStore interface {
	// Insert fails with errors.ErrMessageAlreadyExists when the id is taken.
	Insert(ctx context.Context, message domain.ChatMessage) error
	List(ctx context.Context) ([]domain.ChatMessage, error)
}

// IPublisher is the producer side of the publish channel.
type IPublisher interface {
	Publish(ctx context.Context, evt domain.PublishedEvent) error
}

// ITransport delivers one payload to one connection.
// A permanently unreachable target is reported with errors.ErrGone.
type ITransport interface {
	PostToConnection(ctx context.Context, handle string, data []byte) error
}

type IBroadcaster interface {
	Broadcast(ctx context.Context, payloads [][]byte) (domain.BroadcastResult, error)
}

type ICredentialVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// OutboxEntry is one durably queued event, keyed by its sequence number.
type OutboxEntry struct {
	Seq   uint64
	Event domain.PublishedEvent
}

// IOutbox persists published events until the broadcast engine has consumed them.
type IOutbox interface {
	Append(ctx context.Context, evt domain.PublishedEvent) (uint64, error)
	Ack(ctx context.Context, seq uint64) error
	Pending(ctx context.Context, limit int) ([]OutboxEntry, error)
}

// IRecorder receives broadcast measurements.
type IRecorder interface {
	ObserveBroadcast(result domain.BroadcastResult, took time.Duration)
	ObserveDelivery(outcome domain.DeliveryOutcome)
	SetConnections(n int)
}

// ISessionCloser closes the live sockets held by this process.
type ISessionCloser interface {
	Close(handle string) bool
	CloseUser(userID string) int
}

// IContentFilter rewrites message content before it is stored.
type IContentFilter interface {
	Mask(content string) (string, bool)
}

// INodeObserver receives periodic samples of the process health.
type INodeObserver interface {
	ObserveNode(stats domain.NodeStats)
}
