package socket

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// writePump drains the send queue onto the wire. It exits on the done
// signal; the close frame, when any, has already been written by
// safeCloseSocket.
func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.send:
			if err := c.conn.WriteText(raw); err != nil {
				return
			}
		}
	}
}

// readPump consumes frames until the peer goes away or violates the
// protocol, routing each text payload.
func (h *Hub) readPump(client *Client) {
	for {
		payload, err := client.conn.ReadText()
		if err != nil {
			var protoErr *wire.ProtocolError
			switch {
			case errors.Is(err, wire.ErrPeerClosed):
				client.conn.CloseWithReason(wire.CloseNormal, "")
			case errors.As(err, &protoErr):
				h.safeCloseSocket(client, protoErr.Code, protoErr.Reason)
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
			default:
				logging.Warn(context.Background(), "socket read failed",
					zap.String("session_id", string(client.sessionId)), zap.Error(err))
			}
			return
		}
		h.routeInbound(client, payload)
	}
}
