package signal

import (
	"time"

	"github.com/dkeye/vocs/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ReadMessage blocks for the next data frame. It must not be called
// concurrently.
func (c *WsSignalConn) ReadMessage() (core.Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.isClosed() {
			return nil, ErrClosed
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Error().Err(err).Str("module", "adapters.signal").Msg("read error")
		}
		return nil, err
	}
	return data, nil
}

// WriteMessage sends one text frame. Callers serialize writes.
func (c *WsSignalConn) WriteMessage(f core.Frame) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, f)
}
