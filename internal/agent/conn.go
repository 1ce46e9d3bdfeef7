package agent

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is a single duplex channel to the agent service. ReadMessage blocks
// until a frame arrives; an error from either side means the connection is
// no longer usable.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DialFunc establishes a Conn. Pools take it as a parameter so tests can
// substitute an in-memory transport.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// DialWebsocket is the production DialFunc.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

// wsConn wraps a gorilla connection. Gorilla allows one concurrent writer,
// so writes are serialized through a mutex; reads stay on the pool's single
// read loop.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
