package gateway

import (
	"crypto/ecdsa"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/user"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// keepAliveInterval is how often the hub pings every session. A session that has not proven liveness by the
	// next tick is terminated.
	keepAliveInterval = 30 * time.Second

	// CloseModerationEnforced is sent when a session is terminated by a kick or ban.
	CloseModerationEnforced = 4003
)

// Client represents a single WebSocket session. Each client runs two goroutines (readPump and writePump) and talks to
// the Hub through its send channel and dispatch callbacks.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	log        zerolog.Logger

	// alive is set on every inbound frame and pong, and cleared by the keep-alive sweep.
	alive atomic.Bool

	// sendMu guards the send channel against a write racing its close: broadcasts iterate a snapshot that may
	// contain sessions unregistering concurrently.
	sendMu     sync.Mutex
	sendClosed bool

	// Session state, written during the auth exchange and read by the Hub during dispatch.
	mu          sync.RWMutex
	authed      bool
	userID      uuid.UUID
	challenge   string
	pubKey      *ecdsa.PublicKey
	identity    string
	pendingUser *user.User
	isNewUser   bool
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger zerolog.Logger) *Client {
	c := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 256),
		remoteAddr: remoteAddr,
		log:        logger,
	}
	c.alive.Store(true)
	return c
}

// UserID returns the authenticated user id, or uuid.Nil before authentication.
func (c *Client) UserID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IsAuthenticated reports whether the session completed the challenge exchange.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

// RemoteAddr returns the session's remote address as captured at upgrade time.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// readPump reads frames from the connection and dispatches them in receive order. It runs in its own goroutine and
// is responsible for hub cleanup when the read loop exits.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxFrameBytes())
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		c.alive.Store(true)

		env, err := decodeEnvelope(data)
		if err != nil {
			c.log.Debug().Msg("undecodable frame")
			c.sendError("invalid message")
			continue
		}
		c.hub.dispatch(c, env)
	}
}

// writePump writes messages from the send channel to the connection. It exits when the send channel is closed.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug().Err(err).Msg("websocket write error")
			return
		}
	}
}

// sendEvent serializes an envelope to this session. Failures to marshal are logged and dropped; the session stays up.
func (c *Client) sendEvent(event string, payload any) {
	msg, err := encodeEvent(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	c.enqueue(msg)
}

// sendError reports a handler failure to the caller without tearing the session down.
func (c *Client) sendError(message string) {
	c.sendEvent(EventError, errorPayload{Message: message})
}

// enqueue hands a message to the write pump. Writes after the session unregistered are dropped. If the buffer is
// full the message is dropped and the connection closed, so one stalled client cannot stall the hub.
func (c *Client) enqueue(msg []byte) {
	c.sendMu.Lock()
	if c.sendClosed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.send <- msg:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		c.log.Warn().Msg("client send buffer full, closing connection")
		c.hub.unregister(c)
		_ = c.conn.Close()
	}
}

// closeSend shuts the send channel exactly once, stopping the write pump. Late enqueues see the closed flag instead
// of the closed channel.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// ping sends a control ping used by the keep-alive sweep.
func (c *Client) ping() {
	_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// closeWithCode sends a close frame with the given code and reason, then closes the underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

type errorPayload struct {
	Message string `json:"message"`
}
