package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Conn is one physical connection to the trading gateway. The connection
// manager owns it exclusively: one reader goroutine calls ReadMessage, writes
// are serialized by the implementation.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a connection to the gateway. Tests inject channel-backed
// fakes here.
type Dialer func(ctx context.Context, url string) (Conn, error)

// wsConn wraps a gorilla websocket connection with write serialization.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialWebSocket is the production Dialer.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &wsConn{conn: conn}, nil
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
