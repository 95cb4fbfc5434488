// Package gateway holds the live WebSocket sessions of this process and delivers payloads to them.
package gateway

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

var (
	_ contract.ITransport     = (*Gateway)(nil)
	_ contract.ISessionCloser = (*Gateway)(nil)
)

// Sessions is the connection lifecycle the gateway reports to.
// Register is only called once the socket can receive payloads.
type Sessions interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
	Register(ctx context.Context, handle string, identity domain.Identity, info domain.ConnectInfo) error
	Disconnect(ctx context.Context, handle string) error
	Touch(ctx context.Context, handle string) error
}

// RejectFunc writes the HTTP response of a refused upgrade.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

type Options struct {
	PingInterval       time.Duration
	PingTimeout        time.Duration
	InsecureSkipOrigin bool
	OriginPatterns     []string
	Reject             RejectFunc
}

type session struct {
	handle string
	userID string
	conn   *websocket.Conn
	closed atomic.Bool
}

type Gateway struct {
	log      *slog.Logger
	sessions Sessions
	opts     Options

	mu      sync.RWMutex
	clients map[string]*session
}

func NewGateway(log *slog.Logger, sessions Sessions, opts Options) *Gateway {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.Reject == nil {
		opts.Reject = func(w http.ResponseWriter, _ *http.Request, err error) {
			status, _ := errors.Classify(err)
			http.Error(w, http.StatusText(status), status)
		}
	}
	return &Gateway{log: log, sessions: sessions, opts: opts, clients: make(map[string]*session)}
}

// ServeHTTP authenticates, upgrades and then blocks for the lifetime of the socket.
// A refused credential is answered before the upgrade and leaves no registry entry.
// The session is deliverable before its registry entry exists, so a broadcast never sees it as gone.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle := uuid.NewString()
	info := domain.ConnectInfo{UserAgent: r.UserAgent(), SourceIP: sourceIP(r)}

	identity, err := g.sessions.Authenticate(ctx, auth.ExtractToken(r, nil))
	if err != nil {
		g.opts.Reject(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: g.opts.InsecureSkipOrigin,
		OriginPatterns:     g.opts.OriginPatterns,
	})
	if err != nil {
		// Accept already answered the request.
		g.log.Warn("WebSocket upgrade failed", "handle", handle, "error", err)
		return
	}

	s := &session{handle: handle, userID: identity.UserID, conn: conn}
	g.add(s)
	if err := g.sessions.Register(ctx, handle, identity, info); err != nil {
		g.remove(handle)
		g.log.Warn("Connection registration failed", "handle", handle, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	defer func() {
		g.remove(handle)
		g.disconnect(ctx, handle)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.keepAlive(sessionCtx, s)

	// Reading is required for control frames; any client frame counts as activity.
	for {
		if _, _, err := conn.Read(sessionCtx); err != nil {
			s.closed.Store(true)
			g.log.Debug("Socket closed", "handle", handle, "status", websocket.CloseStatus(err))
			return
		}
		g.touch(sessionCtx, handle)
	}
}

func (g *Gateway) keepAlive(ctx context.Context, s *session) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.opts.PingTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				g.log.Debug("Ping failed", "handle", s.handle, "error", err)
				continue
			}
			g.touch(ctx, s.handle)
		}
	}
}

func (g *Gateway) touch(ctx context.Context, handle string) {
	if err := g.sessions.Touch(ctx, handle); err != nil {
		g.log.Debug("Touch failed", "handle", handle, "error", err)
	}
}

func (g *Gateway) disconnect(ctx context.Context, handle string) {
	if err := g.sessions.Disconnect(context.WithoutCancel(ctx), handle); err != nil {
		g.log.Warn("Disconnect failed", "handle", handle, "error", err)
	}
}

// PostToConnection writes one text frame. An unknown or closed socket is gone for good.
func (g *Gateway) PostToConnection(ctx context.Context, handle string, data []byte) error {
	s := g.get(handle)
	if s == nil || s.closed.Load() {
		return errors.ErrGone
	}
	err := s.conn.Write(ctx, websocket.MessageText, data)
	switch {
	case err == nil:
		return nil
	case websocket.CloseStatus(err) != -1, errors.Is(err, net.ErrClosed):
		s.closed.Store(true)
		return errors.ErrGone
	default:
		return err
	}
}

// Close ends the socket of handle if this process holds it.
func (g *Gateway) Close(handle string) bool {
	s := g.get(handle)
	if s == nil {
		return false
	}
	s.closed.Store(true)
	_ = s.conn.Close(websocket.StatusPolicyViolation, "connection removed")
	return true
}

// CloseUser ends every socket of userID held by this process.
func (g *Gateway) CloseUser(userID string) int {
	g.mu.RLock()
	var targets []string
	for handle, s := range g.clients {
		if s.userID == userID {
			targets = append(targets, handle)
		}
	}
	g.mu.RUnlock()

	closed := 0
	for _, handle := range targets {
		if g.Close(handle) {
			closed++
		}
	}
	return closed
}

// Count is the number of sockets currently held.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Gateway) add(s *session) {
	g.mu.Lock()
	g.clients[s.handle] = s
	g.mu.Unlock()
}

func (g *Gateway) remove(handle string) {
	g.mu.Lock()
	delete(g.clients, handle)
	g.mu.Unlock()
}

func (g *Gateway) get(handle string) *session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clients[handle]
}

func sourceIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
