package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ contract.IOutbox = (*OutboxRepository)(nil)

const (
	outboxPrefix      = "outbox:"
	outboxSequenceKey = "seq:outbox"
	sequenceBandwidth = 100
)

// OutboxRepository keeps published events in Badger until a consumer acks them.
// Keys are outbox:{seq} with seq zero-padded, so iteration order is publish order.
type OutboxRepository struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

func NewOutboxRepository(db *badger.DB, log *slog.Logger) (*OutboxRepository, error) {
	seq, err := db.GetSequence([]byte(outboxSequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("outbox sequence: %w", err)
	}
	return &OutboxRepository{db: db, seq: seq, log: log}, nil
}

// Close returns unused sequence leases to Badger.
func (o *OutboxRepository) Close() error {
	return o.seq.Release()
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", outboxPrefix, seq))
}

// Append durably queues evt and returns its sequence number.
func (o *OutboxRepository) Append(ctx context.Context, evt domain.PublishedEvent) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	seq, err := o.seq.Next()
	if err != nil {
		return 0, errors.Transient("outbox sequence", err)
	}
	data, err := marshalRecord(fromEvent(evt))
	if err != nil {
		return 0, err
	}
	if err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(outboxKey(seq), data)
	}); err != nil {
		return 0, errors.Transient("outbox append", err)
	}
	return seq, nil
}

// Ack drops a consumed entry. Acking an unknown sequence is a no-op.
func (o *OutboxRepository) Ack(ctx context.Context, seq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(outboxKey(seq))
	}); err != nil {
		return errors.Transient("outbox ack", err)
	}
	return nil
}

// Pending returns up to limit unacked entries, oldest first.
func (o *OutboxRepository) Pending(ctx context.Context, limit int) ([]contract.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(outboxPrefix)
	var entries []contract.OutboxEntry
	_, _, err := scanPage(o.db, prefix, nil, limit, func(key, value []byte) error {
		seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
		if err != nil {
			o.log.Warn("Skipping outbox entry with malformed key", "key", string(key))
			return nil
		}
		record, err := unmarshalRecord(value)
		if err != nil {
			o.log.Warn("Skipping unreadable outbox entry", "seq", seq, "error", err)
			return nil
		}
		evt, err := toEvent(record)
		if err != nil {
			o.log.Warn("Skipping outbox entry with corrupt payload", "seq", seq, "error", err)
			return nil
		}
		entries = append(entries, contract.OutboxEntry{Seq: seq, Event: evt})
		return nil
	})
	if err != nil {
		return nil, errors.Transient("outbox pending", err)
	}
	return entries, nil
}

func fromEvent(evt domain.PublishedEvent) map[string]any {
	payloads := make([]any, 0, len(evt.Payloads))
	for _, p := range evt.Payloads {
		payloads = append(payloads, base64.StdEncoding.EncodeToString(p))
	}
	return map[string]any{
		"id":          evt.ID,
		"publishedAt": formatTime(evt.PublishedAt),
		"payloads":    payloads,
	}
}

func toEvent(s *structpb.Struct) (domain.PublishedEvent, error) {
	evt := domain.PublishedEvent{
		ID:          stringField(s, "id"),
		PublishedAt: timeField(s, "publishedAt"),
	}
	for _, v := range s.GetFields()["payloads"].GetListValue().GetValues() {
		p, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return domain.PublishedEvent{}, err
		}
		evt.Payloads = append(evt.Payloads, p)
	}
	return evt, nil
}
