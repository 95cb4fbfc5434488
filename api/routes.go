package api

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/services"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

type Options struct {
	AdminAPIKey string
	RateLimit   int
	WebSocket   http.Handler
	Metrics     http.Handler
	Inspect     http.Handler
}

type Handler struct {
	log  *slog.Logger
	chat services.IChatService
}

// NewRouter wires every route. OPTIONS is answered before routing so unknown paths preflight too.
func NewRouter(log *slog.Logger, chat services.IChatService, opts Options) http.Handler {
	h := &Handler{log: log, chat: chat}
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, log, errors.ErrNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, log, errors.ErrMethodNotAllowed)
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket).Methods(http.MethodGet)
	}

	limited := RateLimit(log, opts.RateLimit)
	r.Handle("/messages", limited(http.HandlerFunc(h.sendMessage))).Methods(http.MethodPost)
	r.Handle("/messages", limited(http.HandlerFunc(h.listMessages))).Methods(http.MethodGet)

	admin := RequireAPIKey(log, opts.AdminAPIKey)
	r.Handle("/connections/{connectionId}", admin(http.HandlerFunc(h.deleteConnection))).Methods(http.MethodDelete)
	r.Handle("/users/{userId}/connections", admin(http.HandlerFunc(h.removeUser))).Methods(http.MethodDelete)
	if opts.Inspect != nil {
		r.Handle("/inspect", admin(opts.Inspect)).Methods(http.MethodGet)
	}

	return Preflight(Recover(log)(AccessLog(log)(r)))
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, "ok", nil)
}

func (h *Handler) authenticate(r *http.Request, body []byte) (domain.Identity, error) {
	token := auth.ExtractToken(r, body)
	if token == "" {
		return domain.Identity{}, problem(errors.ErrUnauthorized, "Authentication token required", nil)
	}
	identity, err := h.chat.Authenticate(r.Context(), token)
	if err != nil {
		return domain.Identity{}, problem(err, "Authentication failed", nil)
	}
	return identity, nil
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	payload, err := ReadPayload(w, r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	identity, err := h.authenticate(r, payload.Raw)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	msg, err := h.chat.SendMessage(r.Context(), identity, payload.SendMessageRequest())
	if errors.Is(err, errors.ErrMessageAlreadyExists) {
		err = problem(err, "Message already exists", map[string]any{"messageId": msg.MessageID})
	}
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "Message sent successfully", map[string]any{"message": msg})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticate(r, nil); err != nil {
		WriteError(w, h.log, err)
		return
	}
	messages, err := h.chat.History(r.Context())
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	WriteSuccess(w, http.StatusOK, "Success", map[string]any{"messages": messages, "count": len(messages)})
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["connectionId"]
	existed, err := h.chat.DeleteConnection(r.Context(), id)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "Connection deleted", map[string]any{"connectionId": id, "deleted": existed})
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["userId"]
	deleted, err := h.chat.ForceRemoveUser(r.Context(), id)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	message := "User connections deleted"
	if deleted == 0 {
		message = "No connections found for user"
	}
	WriteSuccess(w, http.StatusOK, message, map[string]any{"userId": id, "deletedCount": deleted})
}
