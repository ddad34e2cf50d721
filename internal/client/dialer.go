package client

import (
	"context"
	"errors"

	"github.com/coder/websocket"
)

// ErrClosed is returned by Conn.Read when the peer closed the connection
// normally. Any other read error counts as an abnormal closure and triggers
// the reconnect path.
var ErrClosed = errors.New("connection closed")

// Conn is one established connection to the server.
type Conn interface {
	// Read returns the next frame. binary distinguishes screenshot frames
	// from status text frames.
	Read(ctx context.Context) (binary bool, data []byte, err error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes connections. Swappable for tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials real WebSocket connections.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// Screenshot frames are full desktop captures.
	conn.SetReadLimit(32 << 20)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (bool, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return false, nil, ErrClosed
		}
		return false, nil, err
	}
	return typ == websocket.MessageBinary, data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
