// Package wire implements the minimal RFC 6455 server codec used by the
// socket orchestrator: upgrade handshake, frame parse/write, and the JSON
// message envelopes carried in text frames.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// Opcodes handled by the codec.
const (
	OpText  = 0x1
	OpClose = 0x8
	OpPing  = 0x9
	OpPong  = 0xA
)

// Close status codes. 4400-series codes are application-defined.
const (
	CloseNormal         = 1000
	CloseBadRequest     = 4400
	CloseUnauthorized   = 4401
	CloseForbidden      = 4403
	CloseSessionExpired = 4408
	CloseInternalError  = 1011
)

// DefaultMaxMessageBytes bounds a single inbound frame payload.
const DefaultMaxMessageBytes = 16 * 1024

const (
	maxControlPayload = 125
	maxCloseReason    = 123
)

// ProtocolError is a wire-level violation. The connection is closed with the
// carried status code and reason.
type ProtocolError struct {
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket protocol error %d: %s", e.Code, e.Reason)
}

// ErrPeerClosed is returned by ReadText when the client sent a close frame.
var ErrPeerClosed = errors.New("websocket peer closed")

// Conn is a server-side WebSocket connection over a hijacked TCP stream.
// Reads must come from a single goroutine; writes are serialized internally
// so fanout and control responses can share the connection.
type Conn struct {
	raw             net.Conn
	br              *bufio.Reader
	maxMessageBytes int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(raw net.Conn, br *bufio.Reader, maxMessageBytes int) *Conn {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	return &Conn{raw: raw, br: br, maxMessageBytes: maxMessageBytes}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// readFrame parses a single frame. Only FIN=1, masked client frames with the
// 7/16/64-bit length forms are accepted.
func (c *Conn) readFrame() (opcode byte, payload []byte, err error) {
	var hdr [2]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return 0, nil, err
	}

	fin := hdr[0]&0x80 != 0
	opcode = hdr[0] & 0x0F
	if !fin || opcode == 0x0 {
		return 0, nil, &ProtocolError{CloseBadRequest, types.ReasonFragmentedFramesNotSupported}
	}

	masked := hdr[1]&0x80 != 0
	if !masked {
		return 0, nil, &ProtocolError{CloseBadRequest, types.ReasonClientFrameNotMasked}
	}

	length := uint64(hdr[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(c.br, ext[:]); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(c.br, ext[:]); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if length > uint64(c.maxMessageBytes) {
		return 0, nil, &ProtocolError{CloseBadRequest, types.ReasonMessageTooLarge}
	}

	var maskKey [4]byte
	if _, err := io.ReadFull(c.br, maskKey[:]); err != nil {
		return 0, nil, err
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return 0, nil, err
	}
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}
	return opcode, payload, nil
}

// ReadText returns the next text payload, transparently answering pings and
// ignoring pongs. Close frames yield ErrPeerClosed; protocol violations
// yield *ProtocolError.
func (c *Conn) ReadText() ([]byte, error) {
	for {
		opcode, payload, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		switch opcode {
		case OpText:
			return payload, nil
		case OpClose:
			return nil, ErrPeerClosed
		case OpPing:
			if len(payload) > maxControlPayload {
				payload = payload[:maxControlPayload]
			}
			if err := c.writeFrame(OpPong, payload); err != nil {
				return nil, err
			}
		case OpPong:
			// Unsolicited pongs are ignored.
		default:
			return nil, &ProtocolError{CloseBadRequest, types.ReasonUnsupportedOpcode}
		}
	}
}

// writeFrame writes a single unmasked FIN=1 frame.
func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	hdr := make([]byte, 0, 10)
	hdr = append(hdr, 0x80|opcode)
	switch n := len(payload); {
	case n < 126:
		hdr = append(hdr, byte(n))
	case n < 1<<16:
		hdr = append(hdr, 126, byte(n>>8), byte(n))
	default:
		hdr = append(hdr, 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		hdr = append(hdr, ext[:]...)
	}

	if _, err := c.raw.Write(hdr); err != nil {
		return err
	}
	_, err := c.raw.Write(payload)
	return err
}

// WriteText writes a text frame.
func (c *Conn) WriteText(payload []byte) error {
	return c.writeFrame(OpText, payload)
}

// CloseWithReason writes a close frame carrying a 2-byte big-endian status
// code and a UTF-8 reason truncated to 123 bytes, then closes the stream.
// Safe to call more than once; the close frame is always the last frame.
func (c *Conn) CloseWithReason(code int, reason string) error {
	c.closeOnce.Do(func() {
		body := make([]byte, 2, 2+maxCloseReason)
		binary.BigEndian.PutUint16(body, uint16(code))
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		body = append(body, reason...)
		_ = c.writeFrame(OpClose, body)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// Close tears down the underlying stream without a close frame. Used when
// the peer already closed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}
