// Package realtime serves the operator websocket: account-scoped event fan
// out plus the send, typing and heartbeat client messages.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/socialdesk/internal/config"
	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/message"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
)

// Application close codes.
const (
	CloseUnauthenticated  = 4001
	CloseHeartbeatTimeout = 4002
	CloseSetupFailed      = 4003
)

const (
	Path           = "/ws"
	maxFrameBytes  = 64 << 10
	writeTimeout   = 10 * time.Second
	sendTimeout    = 60 * time.Second
	defaultBuffer  = 64
	closeWriteWait = time.Second
)

// TokenParser validates an operator token and returns its account id.
type TokenParser func(token string) (string, error)

// Conversations checks conversation ownership.
type Conversations interface {
	OwnedConversation(ctx context.Context, accountID, conversationID string) (identity.Conversation, error)
}

// MessageSender appends and dispatches operator messages.
type MessageSender interface {
	AppendOutbound(ctx context.Context, conv identity.Conversation, role message.Role, text, originConnID string) (message.Message, error)
}

// Options tunes liveness and buffering.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendBuffer        int
	AllowedOrigins    []string
}

// OptionsFromConfig maps the realtime section onto Options.
func OptionsFromConfig(cfg config.RealtimeConfig) Options {
	return Options{
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		HeartbeatTimeout:  time.Duration(cfg.HeartbeatTimeoutSeconds) * time.Second,
		SendBuffer:        cfg.SendBuffer,
		AllowedOrigins:    cfg.AllowedOrigins,
	}
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= o.HeartbeatInterval {
		o.HeartbeatTimeout = o.HeartbeatInterval + 10*time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultBuffer
	}
	return o
}

// Gateway upgrades operator connections and tracks them until close.
type Gateway struct {
	broker   pubsub.Broker
	parse    TokenParser
	convs    Conversations
	sender   MessageSender
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewGateway creates a realtime gateway.
func NewGateway(log *slog.Logger, broker pubsub.Broker, parse TokenParser, convs Conversations, sender MessageSender, opts Options) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	g := &Gateway{
		broker:   broker,
		parse:    parse,
		convs:    convs,
		sender:   sender,
		opts:     opts,
		logger:   log.With(slog.String("component", "realtime")),
		now:      time.Now,
		sessions: map[string]*session{},
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

// originChecker allows any origin for "*", the listed origins otherwise, and
// falls back to the same-origin rule when nothing is configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// Register mounts the websocket route.
func (g *Gateway) Register(e *echo.Echo) {
	e.GET(Path, g.Handle)
}

// Handle upgrades the request. Authentication happens after the upgrade so a
// bad token can be reported with a close code.
func (g *Gateway) Handle(c echo.Context) error {
	token := tokenFromRequest(c.Request())
	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	accountID, err := g.parse(token)
	if err != nil {
		g.reject(conn, CloseUnauthenticated, "unauthenticated")
		return nil
	}
	events, unsubscribe, err := g.broker.Subscribe(accountID)
	if err != nil {
		g.logger.Error("realtime subscribe failed", slog.String("account_id", accountID), slog.Any("error", err))
		g.reject(conn, CloseSetupFailed, "setup failed")
		return nil
	}

	s := newSession(g, conn, accountID)
	g.track(s)
	defer g.untrack(s)
	defer unsubscribe()

	g.logger.Info("operator connected",
		slog.String("account_id", accountID),
		slog.String("connection_id", s.id))
	s.run(events)
	g.logger.Info("operator disconnected",
		slog.String("account_id", accountID),
		slog.String("connection_id", s.id))
	return nil
}

func (g *Gateway) reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteWait))
	_ = conn.Close()
}

func (g *Gateway) track(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.id] = s
	g.wg.Add(1)
}

func (g *Gateway) untrack(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[s.id]; ok {
		delete(g.sessions, s.id)
		g.wg.Done()
	}
}

// Connections returns the number of open sessions.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown closes every session and waits for them to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for _, s := range g.sessions {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func newConnectionID() string {
	return uuid.NewString()
}
