package api

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "a_long_enough_shared_secret_for_tests"
	testIssuer = "https://cognito-idp.eu-west-1.amazonaws.com/pool"
	adminKey   = "admin-key"
)

type apiFixture struct {
	router   http.Handler
	channel  *runtime.Channel
	registry *repositories.ConnectionRepository
}

func newAPIFixture(t *testing.T, rateLimit int) apiFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	outbox, err := repositories.NewOutboxRepository(db, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = outbox.Close() })

	registry := repositories.NewConnectionRepository(db, log, time.Hour, 100)
	store := repositories.NewMessageRepository(db, log, 100)
	channel := runtime.NewChannel(log, outbox, 16)
	verifier := auth.NewVerifier(auth.NewHMACKeys(testSecret), testIssuer)
	chat := services.NewChatService(log, verifier, registry, store, channel, 5000)

	return apiFixture{
		router:   NewRouter(log, chat, Options{AdminAPIKey: adminKey, RateLimit: rateLimit}),
		channel:  channel,
		registry: registry,
	}
}

func tokenFor(t *testing.T, user string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, auth.Claims{
		TokenUse:        "id",
		CognitoUsername: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return token
}

func (f apiFixture) do(method, path, token, body string, header ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func TestRouter_SendMessage_Stores_And_Publishes(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t, 0)

	// When bob posts a message
	rec := f.do("POST", "/messages", tokenFor(t, "bob"), `{"senderId":"bob","content":"hello"}`)

	// Then it is returned under "message"
	req.Equal(http.StatusOK, rec.Code)
	body := decode(t, rec)
	req.Equal(true, body["ok"])
	item, ok := body["message"].(map[string]any)
	req.True(ok)
	req.Equal("hello", item["content"])
	req.Len(item["messageId"], 32)

	// And one event carrying it is queued for broadcast
	select {
	case entry := <-f.channel.Events():
		req.Len(entry.Event.Payloads, 1)
		var evt struct {
			Message domain.ChatMessage `json:"message"`
		}
		req.NoError(json.Unmarshal(entry.Event.Payloads[0], &evt))
		req.Equal(item["messageId"], evt.Message.MessageID)
	case <-time.After(time.Second):
		req.FailNow("no event published")
	}

	// And the history lists it
	rec = f.do("GET", "/messages", tokenFor(t, "alice"), "")
	req.Equal(http.StatusOK, rec.Code)
	body = decode(t, rec)
	req.Equal(float64(1), body["count"])
}

func TestRouter_SendMessage_Token_In_Envelope_Body(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t, 0)
	inner, err := json.Marshal(map[string]string{"senderId": "bob", "content": "hi", "token": tokenFor(t, "bob")})
	req.NoError(err)
	envelope, err := json.Marshal(map[string]string{"body": string(inner)})
	req.NoError(err)

	rec := f.do("POST", "/messages", "", string(envelope))

	req.Equal(http.StatusOK, rec.Code)
}

func TestRouter_SendMessage_Failures(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		body    string
		status  int
		message string
	}{
		{name: "missing token", body: `{"senderId":"bob","content":"hi"}`, status: 401, message: "Authentication token required"},
		{name: "bad token", token: "garbage", body: `{"senderId":"bob","content":"hi"}`, status: 401, message: "Authentication failed"},
		{name: "malformed body", token: "bob", body: `{"content":`, status: 400, message: "Request body must be valid JSON"},
		{name: "sender mismatch", token: "bob", body: `{"senderId":"alice","content":"hi"}`, status: 400, message: "Validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newAPIFixture(t, 0)
			token := tt.token
			if token == "bob" {
				token = tokenFor(t, "bob")
			}

			rec := f.do("POST", "/messages", token, tt.body)

			req.Equal(tt.status, rec.Code)
			body := decode(t, rec)
			req.Equal(false, body["ok"])
			req.Equal(tt.message, body["error"])
			req.Empty(f.channel.Events())
		})
	}
}

func TestRouter_SendMessage_Duplicate_Is_Conflict(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t, 0)
	token := tokenFor(t, "bob")
	payload := `{"senderId":"bob","content":"hi","messageId":"m-1"}`

	req.Equal(http.StatusOK, f.do("POST", "/messages", token, payload).Code)
	rec := f.do("POST", "/messages", token, payload)

	req.Equal(http.StatusConflict, rec.Code)
	body := decode(t, rec)
	req.Equal("CONFLICT", body["errorCode"])
	req.Equal(map[string]any{"messageId": "m-1"}, body["details"])
	req.Len(f.channel.Events(), 1)
}

func TestRouter_Options_Is_Preflight_On_Any_Path(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t, 0)

	for _, path := range []string{"/messages", "/nowhere"} {
		rec := f.do("OPTIONS", path, "", "")
		req.Equal(http.StatusNoContent, rec.Code)
		req.Empty(rec.Body.Bytes())
		req.Equal("*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouter_Unknown_Route_And_Method(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t, 0)

	req.Equal(http.StatusNotFound, f.do("GET", "/nowhere", "", "").Code)
	rec := f.do("PUT", "/messages", "", "")
	req.Equal(http.StatusMethodNotAllowed, rec.Code)
	req.Equal("METHOD_NOT_ALLOWED", decode(t, rec)["errorCode"])
}

func TestRouter_Admin_Routes(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t, 0)
	ctx := context.Background()
	req.NoError(f.registry.Insert(ctx, "c1", "alice", domain.ConnectInfo{}))
	req.NoError(f.registry.Insert(ctx, "c2", "alice", domain.ConnectInfo{}))
	req.NoError(f.registry.Insert(ctx, "c3", "bob", domain.ConnectInfo{}))

	// Without the key
	req.Equal(http.StatusForbidden, f.do("DELETE", "/connections/c3", "", "").Code)
	req.Equal(http.StatusForbidden, f.do("DELETE", "/connections/c3", "", "", "X-Api-Key", "wrong").Code)

	// With the key
	rec := f.do("DELETE", "/connections/c3", "", "", "X-Api-Key", adminKey)
	req.Equal(http.StatusOK, rec.Code)
	req.Equal(true, decode(t, rec)["deleted"])

	rec = f.do("DELETE", "/users/alice/connections", "", "", "X-Api-Key", adminKey)
	req.Equal(http.StatusOK, rec.Code)
	body := decode(t, rec)
	req.Equal(float64(2), body["deletedCount"])
	req.Equal("User connections deleted", body["message"])

	all, err := f.registry.ListAll(ctx)
	req.NoError(err)
	req.Empty(all)
}

func TestRouter_Rate_Limit(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t, 1)
	token := tokenFor(t, "bob")

	req.Equal(http.StatusOK, f.do("GET", "/messages", token, "").Code)
	rec := f.do("GET", "/messages", token, "")

	req.Equal(http.StatusTooManyRequests, rec.Code)
	req.Equal("TOO_MANY_REQUESTS", decode(t, rec)["errorCode"])
	// health is never limited
	req.Equal(http.StatusOK, f.do("GET", "/healthz", "", "").Code)
}
