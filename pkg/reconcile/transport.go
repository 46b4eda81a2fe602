package reconcile

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"corpchat/pkg/events"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// The server pings every 54s.
	readWait = 75 * time.Second
)

// Conn is one live connection to the server.
type Conn interface {
	Send(ev events.Event) error
	// Recv blocks for the next event. Frames that do not decode are skipped.
	Recv() (events.Event, error)
	Close() error
}

// Transport opens connections. A Session dials again after every drop.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketTransport dials the server's /ws endpoint with a session token.
type WebSocketTransport struct {
	URL    string
	Token  func(ctx context.Context) (string, error)
	Dialer *websocket.Dialer
}

func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	token, err := t.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", t.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}

	c := &wsConn{ws: ws}
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(readWait))
		c.mu.Lock()
		defer c.mu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return c, nil
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Send(ev events.Event) error {
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Recv() (events.Event, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		ev, err := events.Decode(data)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

