package signaling

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerlens/peerlens/internal/metrics"
	"github.com/peerlens/peerlens/internal/ratelimit"
)

const (
	// writeWait bounds a single websocket write, including pings.
	writeWait = 10 * time.Second

	// sendQueueLen is the per-client outbound buffer. Delivery is
	// fire-and-forget: when the buffer is full the message is dropped, not
	// queued unboundedly.
	sendQueueLen = 64
)

// client is one connected peer. The read pump is the only goroutine that
// dispatches this peer's events, which preserves per-sender ordering; the
// write pump is the only goroutine that writes to the connection.
type client struct {
	id   string
	conn *websocket.Conn
	srv  *Server
	log  *slog.Logger

	send    chan []byte
	done    chan struct{}
	limiter *ratelimit.TokenBucket
}

func newPeerID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}

func newClient(srv *Server, conn *websocket.Conn) *client {
	id := newPeerID()
	return &client{
		id:   id,
		conn: conn,
		srv:  srv,
		log:  srv.log.With(slog.String("peer", id)),
		send: make(chan []byte, sendQueueLen),
		done: make(chan struct{}),
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{},
			int64(srv.cfg.MaxSignalingMessagesPerSecond),
			int64(srv.cfg.MaxSignalingMessagesPerSecond)),
	}
}

// enqueue offers an encoded message to the client's send queue. It never
// blocks; a full queue means the peer is too slow and the message is dropped.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warn("send queue full, dropping message")
	}
}

func (c *client) sendEvent(env envelope) {
	env.V = protocolVersion
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error("encode event", slog.Any("error", err))
		return
	}
	c.enqueue(data)
}

func (c *client) sendError(code, message string) {
	payload, err := json.Marshal(errorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.sendEvent(envelope{Type: eventError, Payload: payload})
}

// readPump reads and dispatches client events until the connection drops.
func (c *client) readPump() {
	defer c.srv.disconnect(c)

	c.conn.SetReadLimit(c.srv.cfg.MaxSignalingMessageBytes)
	idleTimeout := c.srv.cfg.SignalingWSIdleTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read error", slog.Any("error", err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := parseEnvelope(data)
		if err != nil {
			c.sendError("BAD_MESSAGE", err.Error())
			continue
		}
		c.srv.dispatch(c, env)
	}
}

// writePump drains the send queue and keeps the connection alive with
// periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.SignalingWSPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
