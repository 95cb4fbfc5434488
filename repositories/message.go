package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ contract.IMessageStore = (*MessageRepository)(nil)

const messagePrefix = "msg:"

type MessageRepository struct {
	db       *badger.DB
	log      *slog.Logger
	pageSize int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, pageSize int) *MessageRepository {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &MessageRepository{db: db, log: log, pageSize: pageSize}
}

func messageKey(id string) []byte {
	return []byte(messagePrefix + id)
}

// Insert stores the message only if its id was never used.
// Two concurrent inserts of the same id conflict inside Badger; the retry then sees the winner.
func (r *MessageRepository) Insert(ctx context.Context, message domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := marshalRecord(fromMessage(message))
	if err != nil {
		return err
	}
	err = update(r.db, func(txn *badger.Txn) error {
		_, err := txn.Get(messageKey(message.MessageID))
		if err == nil {
			return errors.ErrMessageAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(messageKey(message.MessageID), data)
	})
	if errors.Is(err, errors.ErrMessageAlreadyExists) {
		return fmt.Errorf("message %s: %w", message.MessageID, err)
	}
	if err != nil {
		return errors.Transient("store message", err)
	}
	return nil
}

// List returns every stored message ordered by createdAt, oldest first.
func (r *MessageRepository) List(ctx context.Context) ([]domain.ChatMessage, error) {
	prefix := []byte(messagePrefix)
	var (
		messages []domain.ChatMessage
		after    []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last, n, err := scanPage(r.db, prefix, after, r.pageSize, func(key, value []byte) error {
			record, err := unmarshalRecord(value)
			if err != nil {
				r.log.Warn("Skipping unreadable message record", "key", string(key), "error", err)
				return nil
			}
			messages = append(messages, toMessage(record))
			return nil
		})
		if err != nil {
			return nil, errors.Transient("list messages", err)
		}
		if n < r.pageSize {
			break
		}
		after = last
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt < messages[j].CreatedAt
	})
	return messages, nil
}

func fromMessage(m domain.ChatMessage) map[string]any {
	fields := map[string]any{
		"messageId": m.MessageID,
		"senderId":  m.SenderID,
		"content":   m.Content,
		"createdAt": m.CreatedAt,
	}
	if m.ThreadID != "" {
		fields["threadId"] = m.ThreadID
	}
	if m.ReplyToMessageID != "" {
		fields["replyToMessageId"] = m.ReplyToMessageID
	}
	if m.Metadata != nil {
		fields["metadata"] = m.Metadata
	}
	return fields
}

func toMessage(s *structpb.Struct) domain.ChatMessage {
	m := domain.ChatMessage{
		MessageID:        stringField(s, "messageId"),
		SenderID:         stringField(s, "senderId"),
		Content:          stringField(s, "content"),
		CreatedAt:        stringField(s, "createdAt"),
		ThreadID:         stringField(s, "threadId"),
		ReplyToMessageID: stringField(s, "replyToMessageId"),
	}
	if md := s.GetFields()["metadata"].GetStructValue(); md != nil {
		m.Metadata = md.AsMap()
	}
	return m
}
