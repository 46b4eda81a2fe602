package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"corpchat/internal/presence"
	"corpchat/pkg/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// RateLimits caps inbound events per connection.
type RateLimits struct {
	EventsPerSecond float64
	EventBurst      int
	TypingPerSecond float64
	TypingBurst     int
}

var DefaultRateLimits = RateLimits{
	EventsPerSecond: 20,
	EventBurst:      40,
	TypingPerSecond: 2,
	TypingBurst:     4,
}

// ClientRateLimiter tracks rate limits per client
type ClientRateLimiter struct {
	events *rate.Limiter
	typing *rate.Limiter
}

func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	return &ClientRateLimiter{
		events: rate.NewLimiter(rate.Limit(limits.EventsPerSecond), limits.EventBurst),
		typing: rate.NewLimiter(rate.Limit(limits.TypingPerSecond), limits.TypingBurst),
	}
}

func (rl *ClientRateLimiter) Allow(t events.Type) bool {
	switch t {
	case events.TypeTyping:
		return rl.typing.Allow()
	case events.TypeStopTyping:
		// stops are never limited
		return true
	}
	return rl.events.Allow()
}

// Client represents a single WebSocket connection
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	userID       string
	clientID     string
	rateLimiter  *ClientRateLimiter
	connectedAt  time.Time
	lastActivity atomic.Int64
	logger       *WebSocketLogger
}

var _ presence.Conn = (*Client)(nil)

func NewClient(hub *Hub, conn *websocket.Conn, userID string, clientID string, logger *WebSocketLogger) *Client {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, hub.sendBuffer),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		userID:      userID,
		clientID:    clientID,
		rateLimiter: NewClientRateLimiter(hub.limits),
		connectedAt: now,
		logger:      logger,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Client) ID() string     { return c.clientID }
func (c *Client) UserID() string { return c.userID }

// Send queues data for the write pump without blocking. It reports false once the buffer
// is full or the client is closed.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.clientID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	ev, err := events.Decode(message)
	if err != nil {
		c.logger.Warn("undecodable frame", c.userID, c.clientID, zap.Error(err))
		c.hub.metrics.EventReceived("unknown", "rejected")
		c.hub.emitter.ToConn(c, events.ActionError{Op: "decode", Error: "VALIDATION_ERROR", Details: err.Error()})
		return
	}

	if !c.rateLimiter.Allow(ev.Type()) {
		c.logger.Warn("rate limit exceeded", c.userID, c.clientID, zap.String("msg_type", string(ev.Type())))
		c.hub.metrics.EventReceived(string(ev.Type()), "rate_limited")
		if ev.Type() != events.TypeTyping {
			c.hub.emitter.ToConn(c, events.ActionError{Op: string(ev.Type()), Error: "RATE_LIMITED", Details: "too many events"})
		}
		return
	}

	outcome := c.hub.dispatcher.Dispatch(c.ctx, c, ev)
	c.hub.metrics.EventReceived(string(ev.Type()), outcome)
}

// writePump writes one frame per queued event and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", c.userID, c.clientID, zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			if time.Since(time.Unix(0, c.lastActivity.Load())) > pongWait*2 {
				c.logger.Info("client idle timeout", c.userID, c.clientID)
				return
			}

		case <-c.done:
			return
		}
	}
}
