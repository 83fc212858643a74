// Package signal is the gorilla websocket transport of core.Connection.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/vocs/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

var ErrClosed = errors.New("connection closed")

// Dialer opens signaling sockets.
type Dialer struct {
	WriteTimeout time.Duration
	Header       http.Header

	ws *websocket.Dialer
}

func NewDialer(handshakeTimeout time.Duration) *Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &Dialer{
		WriteTimeout: DefaultWriteTimeout,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (core.Socket, error) {
	conn, resp, err := d.ws.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("websocket handshake with %s: %s: %w", url, resp.Status, err)
		}
		return nil, err
	}
	log.Debug().Str("module", "adapters.signal").Str("url", url).Msg("websocket open")
	return &WsSignalConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

// WsSignalConn is one open signaling socket.
type WsSignalConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *WsSignalConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
