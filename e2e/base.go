package e2e

import (
	"bytes"
	"chat-relay/auth"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"nhooyr.io/websocket"
)

// BaseRelaySuite talks to a relay started outside the test binary.
type BaseRelaySuite struct {
	suite.Suite
	Config Config
	client *http.Client
}

// SetupSuite loads the environment configuration and skips when no relay is configured.
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" || s.Config.AuthSecret == "" {
		s.T().Skip("E2E_RELAY_ADDR and E2E_AUTH_SECRET are required")
	}
	s.client = &http.Client{Timeout: 10 * time.Second}
}

func (s *BaseRelaySuite) header(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// Token signs an id token for user with the relay's shared secret.
func (s *BaseRelaySuite) Token(user string) string {
	token, err := auth.GenerateToken(s.Config.AuthSecret, auth.Claims{
		TokenUse:        "id",
		CognitoUsername: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Config.AuthIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
	})
	s.Require().NoError(err)
	return token
}

// Call performs one HTTP request and decodes the JSON envelope.
func (s *BaseRelaySuite) Call(name, method, path, token string, body any) (int, map[string]any) {
	t := s.T()
	s.header(t, name)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(s.Config.RelayAddr, "/")+path, reader)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	t.Logf("HTTP %s %s [%d] in %v", method, path, resp.StatusCode, time.Since(start))
	if s.Config.DebugJSON {
		t.Logf("RESPONSE:\n%s", raw)
	}

	var envelope map[string]any
	if len(raw) > 0 {
		s.Require().NoError(json.Unmarshal(raw, &envelope))
	}
	return resp.StatusCode, envelope
}

// WithSocket opens a WebSocket as user for the duration of fn.
func (s *BaseRelaySuite) WithSocket(name, user string, fn func(ctx context.Context, conn *websocket.Conn)) {
	s.header(s.T(), name)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(strings.TrimRight(s.Config.RelayAddr, "/"), "http") + "/ws?token=" + s.Token(user)
	conn, _, err := websocket.Dial(ctx, url, nil)
	s.Require().NoError(err, "Failed to open socket for "+user)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	fn(ctx, conn)
}

// WithHealth provides a gRPC health client within a contextual test step.
func (s *BaseRelaySuite) WithHealth(name string, fn func(ctx context.Context, client healthpb.HealthClient)) {
	if s.Config.GRPCAddr == "" {
		s.T().Skip("E2E_GRPC_ADDR not set")
	}
	s.header(s.T(), name)
	conn, err := grpc.NewClient(s.Config.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.GRPCAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, healthpb.NewHealthClient(conn))
}
