package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"
	"lenslink/internal/infrastructure/monitoring"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message kinds carried on the signaling websocket.
const (
	MsgJoin         = "join"
	MsgOffer        = "offer"
	MsgAnswer       = "answer"
	MsgICECandidate = "ice-candidate"

	MsgJoined             = "joined"
	MsgReplaced           = "replaced"
	MsgStreamerConnected  = "streamer-connected"
	MsgStreamerDisconnect = "streamer-disconnected"
	MsgViewerDisconnected = "viewer-disconnected"

	MsgFrame            = "frame"
	MsgDetectionResults = "detection-results"
	MsgDetectionStatus  = "detection-status"
)

// SignalMessage is the transport envelope. Payload is opaque to the relay;
// offer/answer/ICE contents are never inspected or validated here.
type SignalMessage struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"session_id,omitempty"`
	Role      domain.Role      `json:"role,omitempty"`
	Status    string           `json:"status,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// WebSocketServer relays signaling messages between the two role-bound
// connections of a session. Routing is role- and session-scoped forwarding
// only: offer and ICE from the streamer go to the viewer, answer and ICE from
// the viewer go to the streamer, and anything without a live target is
// silently dropped.
type WebSocketServer struct {
	registry  ports.SessionRegistry
	metrics   *monitoring.Collector
	detection *DetectionBridge

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(registry ports.SessionRegistry, metrics *monitoring.Collector, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		registry:     registry,
		metrics:      metrics,
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetDetection installs the frame dispatch bridge. Without it, frame messages
// are dropped like any other unroutable message.
func (s *WebSocketServer) SetDetection(bridge *DetectionBridge) {
	s.detection = bridge
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets pong timeout for WebSocket connections
func (s *WebSocketServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

// binding tracks the single role a connection holds. Guarded by mu: the join
// handler runs on the message loop while cleanup runs after it exits.
type binding struct {
	mu        sync.Mutex
	sessionID domain.SessionID
	role      domain.Role
	bound     bool
}

func (b *binding) set(id domain.SessionID, role domain.Role) {
	b.mu.Lock()
	b.sessionID = id
	b.role = role
	b.bound = true
	b.mu.Unlock()
}

func (b *binding) get() (domain.SessionID, domain.Role, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID, b.role, b.bound
}

func (s *WebSocketServer) HandleSignaling(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := newWSConn(raw, s.writeTimeout)
	defer conn.Close()

	bind := &binding{}

	s.logger.Infow("signaling connection opened", "remote_addr", r.RemoteAddr)

	// Set read/write deadlines
	raw.SetReadDeadline(time.Now().Add(s.readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	// Reader goroutine; the select loop below serializes handling, which
	// preserves the sender's emission order toward any one target.
	go func() {
		for {
			var msg SignalMessage
			if err := raw.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			raw.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(r.Context(), conn, bind, msg); err != nil {
				s.logger.Infow("error handling signaling message",
					"type", msg.Type,
					"session_id", msg.SessionID,
					"error", err,
				)
				s.sendError(conn, err.Error())
			}

		case <-pingTicker.C:
			if err := conn.ping(); err != nil {
				s.logger.Infow("error sending ping", "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading signaling message", "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	if id, role, ok := bind.get(); ok {
		if err := s.registry.UnbindRole(context.Background(), id, conn); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			s.logger.Infow("error unbinding role on disconnect", "session_id", id, "error", err)
		}
		s.logger.Infow("signaling connection closed", "session_id", id, "role", role)
	} else {
		s.logger.Infow("signaling connection closed before join")
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, conn *wsConn, bind *binding, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	switch msg.Type {
	case MsgJoin:
		return s.handleJoin(ctx, conn, bind, msg)
	case MsgOffer:
		s.route(msg, conn, bind, domain.RoleStreamer, domain.RoleViewer)
		return nil
	case MsgAnswer:
		s.route(msg, conn, bind, domain.RoleViewer, domain.RoleStreamer)
		return nil
	case MsgICECandidate:
		_, role, ok := bind.get()
		if !ok {
			s.drop(msg, "sender not joined")
			return nil
		}
		s.route(msg, conn, bind, role, otherRole(role))
		return nil
	case MsgFrame:
		s.handleFrame(msg, conn, bind)
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleJoin(ctx context.Context, conn *wsConn, bind *binding, msg SignalMessage) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid role: %s", msg.Role)
	}
	if _, _, ok := bind.get(); ok {
		return fmt.Errorf("connection already joined a session")
	}

	replaced, err := s.registry.BindRole(ctx, msg.SessionID, conn, msg.Role)
	if err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}
	// ConnReplaced has already notified; retire the old transport here.
	if replaced != nil {
		replaced.Close()
	}

	bind.set(msg.SessionID, msg.Role)

	session, err := s.registry.Get(ctx, msg.SessionID)
	if err != nil {
		return err
	}

	s.logger.Infow("peer joined session",
		"session_id", msg.SessionID,
		"role", msg.Role,
		"superseded", replaced != nil,
	)

	return conn.Send(SignalMessage{
		Type:      MsgJoined,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Status:    string(session.Status),
	})
}

// handleFrame feeds a viewer snapshot into the detection pipeline. Only the
// session's current viewer may submit frames; everything else is dropped.
func (s *WebSocketServer) handleFrame(msg SignalMessage, conn *wsConn, bind *binding) {
	if s.detection == nil {
		s.drop(msg, "detection not configured")
		return
	}

	boundID, boundRole, ok := bind.get()
	if !ok || boundID != msg.SessionID || boundRole != domain.RoleViewer {
		s.drop(msg, "sender is not the session viewer")
		return
	}
	if s.registry.RoleConn(msg.SessionID, domain.RoleViewer) != ports.Conn(conn) {
		s.drop(msg, "sender superseded")
		return
	}

	var payload FramePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Image == "" {
		s.drop(msg, "malformed frame payload")
		return
	}

	// Preprocessing and the bounded result wait run off the message loop so a
	// slow engine never stalls signaling.
	go s.detection.HandleFrame(context.Background(), msg.SessionID, conn, payload)
}

// route forwards msg to the session's target role connection. Both a sender
// whose claimed role does not hold the binding and a missing target are
// best-effort drops: no error surfaces to the sender.
func (s *WebSocketServer) route(msg SignalMessage, conn *wsConn, bind *binding, senderRole, targetRole domain.Role) {
	boundID, boundRole, ok := bind.get()
	if !ok || boundID != msg.SessionID || boundRole != senderRole {
		s.drop(msg, "sender role not bound")
		return
	}

	// A superseded connection may still have its read loop running; only the
	// registry's current handle may route.
	if s.registry.RoleConn(msg.SessionID, senderRole) != ports.Conn(conn) {
		s.drop(msg, "sender superseded")
		return
	}

	target := s.registry.RoleConn(msg.SessionID, targetRole)
	if target == nil {
		s.drop(msg, "no target bound")
		return
	}

	out := SignalMessage{Type: msg.Type, SessionID: msg.SessionID, Payload: msg.Payload}
	if err := target.Send(out); err != nil {
		s.drop(msg, "target write failed")
		return
	}

	if s.metrics != nil {
		s.metrics.MessageRouted(msg.Type)
	}
	s.logger.Debugw("routed signaling message",
		"type", msg.Type,
		"session_id", msg.SessionID,
		"payload_bytes", len(msg.Payload),
	)
}

func (s *WebSocketServer) drop(msg SignalMessage, reason string) {
	if s.metrics != nil {
		s.metrics.MessageDropped(msg.Type)
	}
	s.logger.Debugw("dropped signaling message",
		"type", msg.Type,
		"session_id", msg.SessionID,
		"reason", reason,
	)
}

func (s *WebSocketServer) sendError(conn *wsConn, message string) {
	conn.Send(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

func otherRole(role domain.Role) domain.Role {
	if role == domain.RoleViewer {
		return domain.RoleStreamer
	}
	return domain.RoleViewer
}

// SessionEvents implementation: the registry reports lifecycle transitions
// and the relay turns them into wire notifications.

func (s *WebSocketServer) StreamerConnected(id domain.SessionID, viewer ports.Conn) {
	s.notify(viewer, MsgStreamerConnected, id)
}

func (s *WebSocketServer) StreamerDisconnected(id domain.SessionID, viewer ports.Conn) {
	s.notify(viewer, MsgStreamerDisconnect, id)
}

func (s *WebSocketServer) ViewerDisconnected(id domain.SessionID, streamer ports.Conn) {
	s.notify(streamer, MsgViewerDisconnected, id)
}

func (s *WebSocketServer) ConnReplaced(id domain.SessionID, role domain.Role, old ports.Conn) {
	s.notify(old, MsgReplaced, id)
}

func (s *WebSocketServer) notify(conn ports.Conn, kind string, id domain.SessionID) {
	if conn == nil {
		return
	}
	if err := conn.Send(SignalMessage{Type: kind, SessionID: id}); err != nil {
		s.logger.Debugw("lifecycle notification failed", "type", kind, "session_id", id, "error", err)
	}
}
