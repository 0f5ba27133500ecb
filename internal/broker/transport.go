package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single established session with the venue.
type Conn interface {
	// Send writes one request. Callers must serialize writes.
	Send(req *Request) error
	// Receive blocks until the next venue event or a connection error.
	Receive() (*VenueEvent, error)
	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Dialer establishes venue sessions. The production implementation speaks
// JSON over a websocket; tests inject an in-memory fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials the venue over a websocket connection.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// NewWebSocketDialer creates a WebSocketDialer with a sane handshake timeout.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: 10 * time.Second}
}

// Dial opens a websocket session to the venue URL.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing venue %s: %w", url, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request %d: %w", req.ID, err)
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Receive() (*VenueEvent, error) {
	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ev VenueEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decoding venue event: %w", err)
	}
	return &ev, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
