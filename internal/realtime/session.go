package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/message"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
)

// Frame is the wire shape of every websocket message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame types sent or accepted in addition to the pubsub event types.
const (
	FrameHandshake = "handshake"
	FrameHeartbeat = "heartbeat"
	FrameSend      = "send"
	FrameTyping    = "typing"
	FrameError     = "error"
)

type handshakePayload struct {
	Status            string    `json:"status"`
	AccountID         string    `json:"account_id"`
	ConnectionID      string    `json:"connection_id"`
	HeartbeatInterval int       `json:"heartbeat_interval"`
	Timestamp         time.Time `json:"timestamp"`
}

type heartbeatPayload struct {
	Status         string `json:"status"`
	NextExpectedIn int    `json:"next_expected_in"`
}

type sendPayload struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
	ConnectionID   string `json:"connection_id,omitempty"`
}

type errorPayload struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

type closeRequest struct {
	code   int
	reason string
}

type session struct {
	id        string
	accountID string
	gateway   *Gateway
	conn      *websocket.Conn
	logger    *slog.Logger

	send      chan []byte
	sendQueue chan sendPayload
	closeReq  chan closeRequest
	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	lastBeat  atomic.Int64
	inflight  sync.WaitGroup
}

func newSession(g *Gateway, conn *websocket.Conn, accountID string) *session {
	s := &session{
		id:        newConnectionID(),
		accountID: accountID,
		gateway:   g,
		conn:      conn,
		send:      make(chan []byte, g.opts.SendBuffer),
		sendQueue: make(chan sendPayload, g.opts.SendBuffer),
		closeReq:  make(chan closeRequest, 1),
		done:      make(chan struct{}),
	}
	s.logger = g.logger.With(slog.String("connection_id", s.id), slog.String("account_id", accountID))
	s.lastBeat.Store(g.now().UnixNano())
	return s
}

// run blocks until the connection ends. Only writeLoop writes to conn.
func (s *session) run(events <-chan pubsub.Envelope) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()
	go s.forwardLoop(events)
	go s.watchHeartbeat()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.sendLoop()
	}()

	s.enqueue(FrameHandshake, handshakePayload{
		Status:            "authenticated",
		AccountID:         s.accountID,
		ConnectionID:      s.id,
		HeartbeatInterval: int(s.gateway.opts.HeartbeatInterval / time.Second),
		Timestamp:         s.gateway.now().UTC(),
	})

	s.readLoop()
	// readLoop is the only producer of sendQueue.
	close(s.sendQueue)
	s.terminate()
	<-writerDone
	s.inflight.Wait()
}

func (s *session) terminate() {
	s.doneOnce.Do(func() { close(s.done) })
}

// close asks the writer to send a close frame and drop the connection.
func (s *session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeReq <- closeRequest{code: code, reason: reason}
	})
}

func (s *session) writeLoop() {
	defer s.conn.Close()
	for {
		select {
		case req := <-s.closeReq:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(req.code, req.reason),
				time.Now().Add(closeWriteWait))
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("websocket write failed", slog.Any("error", err))
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("invalid frame", "")
			continue
		}
		s.handle(frame)
	}
}

func (s *session) handle(frame Frame) {
	switch frame.Type {
	case FrameHeartbeat:
		s.lastBeat.Store(s.gateway.now().UnixNano())
		s.enqueue(FrameHeartbeat, heartbeatPayload{
			Status:         "ok",
			NextExpectedIn: int(s.gateway.opts.HeartbeatInterval / time.Second),
		})
	case FrameHandshake:
		s.enqueue(FrameHandshake, handshakePayload{
			Status:            "confirmed",
			AccountID:         s.accountID,
			ConnectionID:      s.id,
			HeartbeatInterval: int(s.gateway.opts.HeartbeatInterval / time.Second),
			Timestamp:         s.gateway.now().UTC(),
		})
	case FrameSend:
		var p sendPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || strings.TrimSpace(p.ConversationID) == "" {
			s.sendError("conversation_id and text are required", "")
			return
		}
		select {
		case s.sendQueue <- p:
		default:
			s.sendError("too many pending sends", "")
		}
	case FrameTyping:
		var p typingPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || strings.TrimSpace(p.ConversationID) == "" {
			s.sendError("conversation_id is required", "")
			return
		}
		p.ConnectionID = s.id
		s.publish(pubsub.TypeTyping, p)
	default:
		s.sendError("unknown message type: "+frame.Type, "")
	}
}

// sendLoop appends queued sends one at a time, so a connection's messages are
// stored and broadcast in the order it sent them. It drains the queue after
// the connection ends, so a persisted message is still dispatched when the
// operator disconnects mid-send.
func (s *session) sendLoop() {
	for p := range s.sendQueue {
		s.sendMessage(p)
	}
}

func (s *session) sendMessage(p sendPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	conv, err := s.gateway.convs.OwnedConversation(ctx, s.accountID, p.ConversationID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.sendError("conversation not found", "")
			return
		}
		s.logger.Error("load conversation failed", slog.Any("error", err))
		s.sendError("internal error", "")
		return
	}
	msg, err := s.gateway.sender.AppendOutbound(ctx, conv, message.RoleOperator, p.Text, s.id)
	switch {
	case err == nil:
	case errors.Is(err, message.ErrNotDelivered):
		s.sendError("message saved but not delivered", msg.ID)
	case errors.Is(err, message.ErrInvalidContent), errors.Is(err, message.ErrEmptyMessage):
		s.sendError(err.Error(), "")
	default:
		s.logger.Error("operator send failed", slog.Any("error", err))
		s.sendError("internal error", "")
	}
}

func (s *session) publish(eventType pubsub.EventType, payload any) {
	env, err := pubsub.NewEnvelope(eventType, s.accountID, s.id, payload)
	if err != nil {
		s.logger.Error("build envelope failed", slog.Any("error", err))
		return
	}
	if err := s.gateway.broker.Publish(context.Background(), s.accountID, env); err != nil {
		s.logger.Warn("publish failed", slog.String("type", string(eventType)), slog.Any("error", err))
	}
}

func (s *session) forwardLoop(events <-chan pubsub.Envelope) {
	for {
		select {
		case <-s.done:
			return
		case env, ok := <-events:
			if !ok {
				s.close(CloseSetupFailed, "subscription closed")
				return
			}
			if suppressed(env, s.id) {
				continue
			}
			s.enqueueRaw(Frame{Type: string(env.Type), Payload: env.Payload})
		}
	}
}

// suppressed reports whether env is an echo of the connection's own action.
func suppressed(env pubsub.Envelope, connID string) bool {
	if env.Origin == "" || env.Origin != connID {
		return false
	}
	return env.Type == pubsub.TypeNewMessage || env.Type == pubsub.TypeTyping
}

func (s *session) watchHeartbeat() {
	timeout := s.gateway.opts.HeartbeatTimeout
	ticker := time.NewTicker(checkInterval(timeout))
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastBeat.Load())
			if s.gateway.now().Sub(last) > timeout {
				s.logger.Info("heartbeat timeout")
				s.close(CloseHeartbeatTimeout, "heartbeat timeout")
				return
			}
		}
	}
}

func checkInterval(timeout time.Duration) time.Duration {
	d := timeout / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func (s *session) sendError(msg, messageID string) {
	s.enqueue(FrameError, errorPayload{Message: msg, MessageID: messageID})
}

func (s *session) enqueue(frameType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal frame failed", slog.String("type", frameType), slog.Any("error", err))
		return
	}
	s.enqueueRaw(Frame{Type: frameType, Payload: raw})
}

// enqueueRaw never blocks. A connection whose buffer is full is closed.
func (s *session) enqueueRaw(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case <-s.done:
	case s.send <- data:
	default:
		s.logger.Warn("slow consumer dropped")
		s.close(websocket.CloseTryAgainLater, "slow consumer")
	}
}
