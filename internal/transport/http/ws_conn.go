package http

import (
	"context"

	"github.com/coder/websocket"

	"github.com/quasarchat/quasar-server/internal/core"
)

// wsConn adapts a coder/websocket connection to core.Conn. Writes are safe
// for concurrent use; the library serializes them.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, payload)
}

func (c *wsConn) Close(code core.StatusCode, reason string) error {
	return c.ws.Close(websocket.StatusCode(code), reason)
}
