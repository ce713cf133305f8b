// Package signaling implements the room-based relay: peers connect over one
// websocket each, join rooms with a role, and exchange negotiation messages,
// frame payloads, and detection results through the server.
package signaling

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerlens/peerlens/internal/config"
	"github.com/peerlens/peerlens/internal/detect"
	"github.com/peerlens/peerlens/internal/history"
	"github.com/peerlens/peerlens/internal/httpserver"
	"github.com/peerlens/peerlens/internal/metrics"
	"github.com/peerlens/peerlens/internal/origin"
	"github.com/peerlens/peerlens/internal/session"
)

// Server routes signaling, frame, and detection traffic between room peers.
//
// Delivery is at-most-once and fire-and-forget. Messages from one peer reach
// any given recipient in send order; there is no cross-peer ordering.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	registry *session.Registry
	engine   *detect.Engine
	history  *history.Store
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewServer wires the relay. engine may be nil when server-side inference is
// disabled; store may be nil when detection history is not configured.
func NewServer(cfg config.Config, registry *session.Registry, engine *detect.Engine, store *history.Store, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      log.With(slog.String("component", "signaling")),
		registry: registry,
		engine:   engine,
		history:  store,
		metrics:  m,
		clients:  make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// RegisterRoutes attaches the websocket endpoint and room introspection.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /rooms", s.handleRooms)
}

// checkOrigin applies the configured allowlist. Requests without an Origin
// header (non-browser clients) are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	normalized, host, ok := origin.NormalizeHeader(header)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := newClient(s, conn)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.log.Info("peer connected", slog.String("peer", c.id), slog.String("remote_addr", r.RemoteAddr))

	go c.writePump()
	c.readPump()
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"rooms": stats,
		"count": len(stats),
	})
}

// dispatch handles one validated client event. It runs on the client's read
// pump, so events from one peer are processed strictly in order.
func (s *Server) dispatch(c *client, env envelope) {
	switch env.Type {
	case eventJoinRoom:
		s.handleJoin(c, env)
	case eventSenderReady:
		s.handleSenderReady(c, env)
	case eventOffer, eventAnswer, eventICECandidate:
		s.handleSignal(c, env)
	case eventFrameData:
		s.handleFrameData(c, env)
	case eventFrameMeta:
		s.handleFrameMeta(c, env)
	case eventDetection:
		s.handleDetection(c, env)
	}
}

func (s *Server) handleJoin(c *client, env envelope) {
	role, err := session.ParseRole(env.Role)
	if err != nil {
		c.sendError("BAD_MESSAGE", err.Error())
		return
	}
	if err := s.registry.Join(c.id, env.Room, role); err != nil {
		c.sendError("BAD_MESSAGE", err.Error())
		return
	}

	s.log.Info("peer joined room",
		slog.String("peer", c.id),
		slog.String("room", env.Room),
		slog.String("role", string(role)))

	ack, err := json.Marshal(roomJoinedPayload{PeerID: c.id, Room: env.Room, Role: string(role)})
	if err == nil {
		c.sendEvent(envelope{Type: eventRoomJoined, Room: env.Room, Payload: ack})
	}

	joined, err := json.Marshal(userEventPayload{PeerID: c.id, Role: string(role)})
	if err == nil {
		s.broadcast(env.Room, c.id, envelope{Type: eventUserJoined, Room: env.Room, From: c.id, Payload: joined})
	}
}

func (s *Server) handleSenderReady(c *client, env envelope) {
	if !s.registry.IsMember(env.Room, c.id) {
		c.sendError("NOT_IN_ROOM", "join the room before signaling")
		return
	}

	payload, err := json.Marshal(senderReadyPayload{SenderID: c.id})
	if err != nil {
		return
	}
	s.broadcast(env.Room, c.id, envelope{Type: eventSenderReady, Room: env.Room, From: c.id, Payload: payload})
	s.metrics.Inc(metrics.SignalsRelayed)
}

// handleSignal routes offer, answer, and ice-candidate events: to one
// explicit target peer when addressed, otherwise to every other room member.
func (s *Server) handleSignal(c *client, env envelope) {
	if !s.registry.IsMember(env.Room, c.id) {
		c.sendError("NOT_IN_ROOM", "join the room before signaling")
		return
	}

	out := envelope{Type: env.Type, Room: env.Room, From: c.id, Payload: env.Payload}
	if env.To != "" {
		if !s.sendToPeer(env.Room, env.To, out) {
			s.metrics.Inc(metrics.SignalsDroppedNoPeer)
			s.log.Debug("dropping targeted signal, no such peer in room",
				slog.String("type", string(env.Type)),
				slog.String("room", env.Room),
				slog.String("to", env.To))
			return
		}
	} else {
		s.broadcast(env.Room, c.id, out)
	}
	s.metrics.Inc(metrics.SignalsRelayed)
}

func (s *Server) handleFrameData(c *client, env envelope) {
	if !s.registry.IsMember(env.Room, c.id) {
		c.sendError("NOT_IN_ROOM", "join the room before sending frames")
		return
	}

	var frame framePayload
	if err := json.Unmarshal(env.Payload, &frame); err != nil {
		c.sendError("BAD_MESSAGE", "malformed frame payload")
		return
	}

	// Oversized frames are dropped without an error reply; the sender only
	// observes silence.
	if len(frame.FrameData) > s.cfg.MaxFrameBytes {
		s.metrics.Inc(metrics.FramesDroppedOversize)
		s.log.Warn("dropping oversized frame",
			slog.String("peer", c.id),
			slog.String("room", env.Room),
			slog.Int("bytes", len(frame.FrameData)),
			slog.Int("limit", s.cfg.MaxFrameBytes))
		return
	}

	inference := s.cfg.ServerInference && s.engine != nil
	if !inference && frame.FrameID == "" {
		frame.FrameID = fmt.Sprintf("auto_%d", time.Now().UnixMilli())
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.broadcast(env.Room, c.id, envelope{Type: eventFrameData, Room: env.Room, From: c.id, Payload: payload})
	s.metrics.Inc(metrics.FramesForwarded)

	if inference {
		go s.analyzeFrame(c, env.Room, frame)
	}
}

// analyzeFrame runs server-side inference off the relay path and broadcasts
// the result as a detection event. A stalled inference only delays its own
// result; it never blocks relaying.
func (s *Server) analyzeFrame(c *client, room string, frame framePayload) {
	model := frame.ModelType
	if model == "" {
		model = s.engine.DefaultModel()
	}

	detections, err := s.engine.Detect(frame.FrameData, model, 0, 0)
	if err != nil {
		s.log.Warn("frame inference failed",
			slog.String("peer", c.id),
			slog.String("room", room),
			slog.String("model", model),
			slog.Any("error", err))
		c.sendError("DETECTION_FAILED", "frame analysis failed")
		return
	}
	if detections == nil {
		detections = []detect.Detection{}
	}

	if s.history != nil {
		if err := s.history.Record(room, model, detections); err != nil {
			s.log.Warn("recording detections", slog.Any("error", err))
		}
	}

	payload, err := json.Marshal(map[string]any{
		"detections": detections,
		"frameId":    frame.FrameID,
		"model":      model,
		"timestamp":  time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	s.broadcastAll(room, envelope{Type: eventDetection, Room: room, From: c.id, Payload: payload})
	s.metrics.Inc(metrics.DetectionsBroadcast)
}

func (s *Server) handleFrameMeta(c *client, env envelope) {
	if !s.registry.IsMember(env.Room, c.id) {
		c.sendError("NOT_IN_ROOM", "join the room before sending frames")
		return
	}
	s.broadcast(env.Room, c.id, envelope{Type: eventFrameMeta, Room: env.Room, From: c.id, Payload: env.Payload})
	s.metrics.Inc(metrics.FramesForwarded)
}

// handleDetection forwards an externally-supplied detection payload to every
// room member verbatim. The payload is deliberately not schema-validated;
// workers feeding results through this path own their format.
func (s *Server) handleDetection(c *client, env envelope) {
	if !s.registry.IsMember(env.Room, c.id) {
		c.sendError("NOT_IN_ROOM", "join the room before publishing detections")
		return
	}
	s.broadcastAll(env.Room, envelope{Type: eventDetection, Room: env.Room, From: c.id, Payload: env.Payload})
	s.metrics.Inc(metrics.DetectionsBroadcast)
}

// disconnect tears a client down: registry removal, user-left notifications
// to every affected room, and send queue shutdown.
func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	s.mu.Unlock()

	affected := s.registry.Leave(c.id)
	if len(affected) > 0 {
		payload, err := json.Marshal(userEventPayload{PeerID: c.id})
		if err == nil {
			for _, room := range affected {
				s.broadcast(room, c.id, envelope{Type: eventUserLeft, Room: room, From: c.id, Payload: payload})
			}
		}
	}

	close(c.done)
	c.conn.Close()
	s.log.Info("peer disconnected", slog.String("peer", c.id), slog.Any("rooms", affected))
}

func (s *Server) lookupClient(id string) *client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[id]
}

// sendToPeer delivers to one peer, requiring room membership.
func (s *Server) sendToPeer(room, peerID string, env envelope) bool {
	if !s.registry.IsMember(room, peerID) {
		return false
	}
	target := s.lookupClient(peerID)
	if target == nil {
		return false
	}
	target.sendEvent(env)
	return true
}

// broadcast delivers to every room member except the excluded peer.
func (s *Server) broadcast(room, except string, env envelope) {
	for _, id := range s.registry.Members(room) {
		if id == except {
			continue
		}
		if target := s.lookupClient(id); target != nil {
			target.sendEvent(env)
		}
	}
}

// broadcastAll delivers to every room member, the originator included.
func (s *Server) broadcastAll(room string, env envelope) {
	s.broadcast(room, "", env)
}
