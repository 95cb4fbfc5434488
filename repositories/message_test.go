package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_Insert_Then_List_Sorted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repo := NewMessageRepository(openTestDB(t), log, 2)

	// Given messages inserted out of chronological order, across several pages
	req.NoError(repo.Insert(ctx, domain.ChatMessage{MessageID: "m-a", SenderID: "alice", Content: "third", CreatedAt: "2024-01-01T00:00:03Z"}))
	req.NoError(repo.Insert(ctx, domain.ChatMessage{MessageID: "m-b", SenderID: "bob", Content: "first", CreatedAt: "2024-01-01T00:00:01Z"}))
	req.NoError(repo.Insert(ctx, domain.ChatMessage{
		MessageID:        "m-c",
		SenderID:         "alice",
		Content:          "second",
		CreatedAt:        "2024-01-01T00:00:02Z",
		ThreadID:         "t-1",
		ReplyToMessageID: "m-b",
		Metadata:         map[string]any{"client": "web", "retries": float64(2)},
	}))

	// When
	messages, err := repo.List(ctx)

	// Then they come back oldest first with optional fields intact
	req.NoError(err)
	req.Len(messages, 3)
	req.Equal("first", messages[0].Content)
	req.Equal("second", messages[1].Content)
	req.Equal("third", messages[2].Content)
	req.Equal("t-1", messages[1].ThreadID)
	req.Equal("m-b", messages[1].ReplyToMessageID)
	req.Equal(map[string]any{"client": "web", "retries": float64(2)}, messages[1].Metadata)
	req.Nil(messages[0].Metadata)
}

func TestMessageRepository_Insert_Duplicate_Id_Conflicts(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repo := NewMessageRepository(openTestDB(t), log, 10)

	req.NoError(repo.Insert(ctx, domain.ChatMessage{MessageID: "m-1", SenderID: "alice", Content: "hello", CreatedAt: "2024-01-01T00:00:00Z"}))

	err := repo.Insert(ctx, domain.ChatMessage{MessageID: "m-1", SenderID: "alice", Content: "overwrite?", CreatedAt: "2024-01-01T00:00:09Z"})
	req.ErrorIs(err, errors.ErrMessageAlreadyExists)

	messages, err := repo.List(ctx)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("hello", messages[0].Content)
}

func TestMessageRepository_Concurrent_Duplicate_Inserts_Keep_One(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	repo := NewMessageRepository(openTestDB(t), log, 10)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.Insert(ctx, domain.ChatMessage{MessageID: "same", SenderID: "alice", Content: fmt.Sprint(i), CreatedAt: "2024-01-01T00:00:00Z"})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, errors.ErrMessageAlreadyExists):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	req.Equal(int32(1), succeeded.Load())
	req.Equal(int32(7), conflicts.Load())
	messages, err := repo.List(ctx)
	req.NoError(err)
	req.Len(messages, 1)
}

func TestMessageRepository_List_Empty(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repo := NewMessageRepository(openTestDB(t), log, 10)

	messages, err := repo.List(context.Background())
	req.NoError(err)
	req.Empty(messages)
}
