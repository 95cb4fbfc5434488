package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type IChatService interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
	Connect(ctx context.Context, handle, token string, info domain.ConnectInfo) (domain.Identity, error)
	Register(ctx context.Context, handle string, identity domain.Identity, info domain.ConnectInfo) error
	Disconnect(ctx context.Context, handle string) error
	Touch(ctx context.Context, handle string) error
	SendMessage(ctx context.Context, identity domain.Identity, req domain.SendMessageRequest) (domain.ChatMessage, error)
	History(ctx context.Context) ([]domain.ChatMessage, error)
	ForceRemoveUser(ctx context.Context, userID string) (int, error)
	DeleteConnection(ctx context.Context, handle string) (bool, error)
}

var _ IChatService = (*ChatService)(nil)

type ChatService struct {
	log              *slog.Logger
	verifier         contract.ICredentialVerifier
	registry         contract.IConnectionRegistry
	store            contract.IMessageStore
	publisher        contract.IPublisher
	sessions         contract.ISessionCloser
	filter           contract.IContentFilter
	validate         *validator.Validate
	maxContentLength int
	now              func() time.Time
}

func NewChatService(log *slog.Logger, verifier contract.ICredentialVerifier, registry contract.IConnectionRegistry,
	store contract.IMessageStore, publisher contract.IPublisher, maxContentLength int) *ChatService {
	return &ChatService{
		log:              log,
		verifier:         verifier,
		registry:         registry,
		store:            store,
		publisher:        publisher,
		validate:         validator.New(),
		maxContentLength: maxContentLength,
		now:              time.Now,
	}
}

// WithSessions lets administrative removals also close the sockets held by this process.
func (s *ChatService) WithSessions(sessions contract.ISessionCloser) *ChatService {
	s.sessions = sessions
	return s
}

// WithFilter masks content after validation, so the length limit applies to what the sender wrote.
func (s *ChatService) WithFilter(filter contract.IContentFilter) *ChatService {
	s.filter = filter
	return s
}

// WithClock replaces the time source, for tests.
func (s *ChatService) WithClock(now func() time.Time) *ChatService {
	s.now = now
	return s
}

func (s *ChatService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.log.Warn("Authentication failed", "error", err)
		return domain.Identity{}, err
	}
	return identity, nil
}

// Connect admits a new transport connection. A rejected credential leaves no registry entry.
func (s *ChatService) Connect(ctx context.Context, handle, token string, info domain.ConnectInfo) (domain.Identity, error) {
	identity, err := s.Authenticate(ctx, token)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := s.Register(ctx, handle, identity, info); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

// Register stores the registry entry of an already authenticated connection.
func (s *ChatService) Register(ctx context.Context, handle string, identity domain.Identity, info domain.ConnectInfo) error {
	if err := s.registry.Insert(ctx, handle, identity.UserID, info); err != nil {
		return errors.Transient("register connection", err)
	}
	s.log.Info("Client connected", "handle", handle, "user_id", identity.UserID)
	return nil
}

// Disconnect is idempotent: a handle already removed by stale cleanup is not an error.
func (s *ChatService) Disconnect(ctx context.Context, handle string) error {
	existed, err := s.registry.DeleteByHandle(ctx, handle)
	if err != nil {
		return errors.Transient("unregister connection", err)
	}
	s.log.Info("Client disconnected", "handle", handle, "existed", existed)
	return nil
}

func (s *ChatService) Touch(ctx context.Context, handle string) error {
	return s.registry.Touch(ctx, handle)
}

type messageRules struct {
	SenderID string `validate:"required"`
	Content  string `validate:"required"`
}

// SendMessage validates, stores, then publishes. Nothing is published unless the store accepted the message.
func (s *ChatService) SendMessage(ctx context.Context, identity domain.Identity, req domain.SendMessageRequest) (domain.ChatMessage, error) {
	if err := s.validateMessage(identity, req); err != nil {
		return domain.ChatMessage{}, err
	}

	msg := domain.ChatMessage{
		MessageID:        strings.TrimSpace(req.MessageID),
		SenderID:         identity.UserID,
		Content:          strings.TrimSpace(req.Content),
		CreatedAt:        strings.TrimSpace(req.CreatedAt),
		ThreadID:         strings.TrimSpace(req.ThreadID),
		ReplyToMessageID: strings.TrimSpace(req.ReplyToMessageID),
		Metadata:         req.Metadata,
	}
	if s.filter != nil {
		var masked bool
		if msg.Content, masked = s.filter.Mask(msg.Content); masked {
			s.log.Info("Message content masked", "message_id", msg.MessageID, "sender_id", msg.SenderID)
		}
	}
	if msg.MessageID == "" {
		msg.MessageID = newMessageID()
	}
	if msg.CreatedAt != "" {
		if _, err := time.Parse(time.RFC3339Nano, msg.CreatedAt); err != nil {
			s.log.Debug("Ignoring unparseable createdAt", "message_id", msg.MessageID, "created_at", msg.CreatedAt)
			msg.CreatedAt = ""
		}
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = s.now().UTC().Format(time.RFC3339Nano)
	}

	if err := s.store.Insert(ctx, msg); err != nil {
		if errors.Is(err, errors.ErrMessageAlreadyExists) {
			s.log.Info("Duplicate message", "message_id", msg.MessageID)
		}
		return msg, err
	}

	evt, err := domain.NewMessageEvent(uuid.NewString(), msg, s.now().UTC())
	if err != nil {
		return msg, fmt.Errorf("encode message event: %w", err)
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		return msg, errors.Transient("publish message", err)
	}
	s.log.Debug("Message sent", "message_id", msg.MessageID, "sender_id", msg.SenderID)
	return msg, nil
}

// validateMessage collects every violation instead of stopping at the first one.
func (s *ChatService) validateMessage(identity domain.Identity, req domain.SendMessageRequest) error {
	var details []string
	rules := messageRules{SenderID: strings.TrimSpace(req.SenderID), Content: strings.TrimSpace(req.Content)}
	if err := s.validate.Struct(rules); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				switch fe.Field() {
				case "SenderID":
					details = append(details, "senderId is required and must be a non-empty string")
				case "Content":
					details = append(details, "content is required and must be a non-empty string")
				}
			}
		}
	}
	if rules.SenderID != "" && rules.SenderID != identity.UserID {
		details = append(details, "senderId must match the authenticated user")
	}
	if s.maxContentLength > 0 {
		if err := s.validate.Var(req.Content, fmt.Sprintf("max=%d", s.maxContentLength)); err != nil {
			details = append(details, fmt.Sprintf("content must be %d characters or fewer", s.maxContentLength))
		}
	}
	if len(details) > 0 {
		return errors.NewValidationError(details...)
	}
	return nil
}

func (s *ChatService) History(ctx context.Context) ([]domain.ChatMessage, error) {
	return s.store.List(ctx)
}

// ForceRemoveUser drops every registry entry of userID and closes its local sockets.
func (s *ChatService) ForceRemoveUser(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errors.NewValidationError("userId is required")
	}
	deleted, err := s.registry.DeleteAllForUser(ctx, userID)
	if err != nil {
		return deleted, errors.Transient("remove user connections", err)
	}
	if s.sessions != nil {
		closed := s.sessions.CloseUser(userID)
		s.log.Info("User sockets closed", "user_id", userID, "closed", closed)
	}
	return deleted, nil
}

// DeleteConnection removes one handle and reports whether it existed.
func (s *ChatService) DeleteConnection(ctx context.Context, handle string) (bool, error) {
	if strings.TrimSpace(handle) == "" {
		return false, errors.NewValidationError("connectionId is required")
	}
	existed, err := s.registry.DeleteByHandle(ctx, handle)
	if err != nil {
		return false, errors.Transient("delete connection", err)
	}
	if s.sessions != nil {
		s.sessions.Close(handle)
	}
	return existed, nil
}

// newMessageID is a random UUID in its 32-character hex form.
func newMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
