package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("realtime: channel closed")

// WebsocketChannel adapts a fiber websocket connection to Channel. Writes are
// serialised because the underlying connection allows one writer at a time.
type WebsocketChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
	closeOnce    sync.Once
}

// NewWebsocketChannel wraps conn.
func NewWebsocketChannel(conn *websocket.Conn, writeTimeout time.Duration) *WebsocketChannel {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebsocketChannel{conn: conn, writeTimeout: writeTimeout}
}

// Send writes message as one text frame.
func (c *WebsocketChannel) Send(message []byte) error {
	return c.write(websocket.TextMessage, message)
}

// SendPong answers an application level ping.
func (c *WebsocketChannel) SendPong() error {
	return c.write(websocket.TextMessage, []byte(`{"event":"pong"}`))
}

func (c *WebsocketChannel) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

// Close closes the connection once.
func (c *WebsocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}
