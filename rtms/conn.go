package rtms

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const closeWriteTimeout = time.Second

// conn serializes writes on a gorilla connection; reads belong to one loop goroutine.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closing   chan struct{}
}

func dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*conn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: handshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &conn{ws: ws, closing: make(chan struct{})}, nil
}

func (c *conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// setReadDeadline bounds the wait for the next frame; zero clears it.
func (c *conn) setReadDeadline(d time.Duration) {
	if d <= 0 {
		_ = c.ws.SetReadDeadline(time.Time{})
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(d))
}

// close sends a normal closure and releases the socket. Safe to call repeatedly.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(closeWriteTimeout))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

// closedLocally reports whether close was called on this side.
func (c *conn) closedLocally() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}
