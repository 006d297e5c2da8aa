package wire

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// websocketGUID is the fixed key-accept suffix from RFC 6455 §4.2.2.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// HandshakeError carries the HTTP status to answer a failed upgrade with.
type HandshakeError struct {
	Status  int
	Message string
}

func (e *HandshakeError) Error() string { return e.Message }

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// validateUpgrade checks the request headers without touching the socket.
func validateUpgrade(r *http.Request) (key string, err *HandshakeError) {
	if r.Method != http.MethodGet {
		return "", &HandshakeError{http.StatusMethodNotAllowed, "websocket upgrade requires GET"}
	}
	if !headerContainsToken(r.Header.Get("Upgrade"), "websocket") {
		return "", &HandshakeError{http.StatusBadRequest, "missing Upgrade: websocket header"}
	}
	if !headerContainsToken(r.Header.Get("Connection"), "upgrade") {
		return "", &HandshakeError{http.StatusBadRequest, "missing Connection: upgrade header"}
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return "", &HandshakeError{http.StatusUpgradeRequired, "unsupported websocket version"}
	}

	key = r.Header.Get("Sec-WebSocket-Key")
	decoded, decodeErr := base64.StdEncoding.DecodeString(key)
	if decodeErr != nil || len(decoded) != 16 {
		return "", &HandshakeError{http.StatusBadRequest, "invalid Sec-WebSocket-Key"}
	}
	return key, nil
}

// Upgrade validates the handshake, hijacks the HTTP connection and completes
// the 101 response. On validation failure the caller is expected to answer
// with the returned HandshakeError status; nothing has been written yet.
func Upgrade(w http.ResponseWriter, r *http.Request, maxMessageBytes int) (*Conn, error) {
	key, hsErr := validateUpgrade(r)
	if hsErr != nil {
		return nil, hsErr
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, &HandshakeError{http.StatusInternalServerError, "response writer does not support hijacking"}
	}
	raw, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, fmt.Errorf("hijack failed: %w", err)
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	if _, err := raw.Write([]byte(response)); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("handshake write failed: %w", err)
	}

	var br *bufio.Reader
	if rw != nil && rw.Reader != nil {
		br = rw.Reader
	} else {
		br = bufio.NewReader(raw)
	}
	return newConn(raw, br, maxMessageBytes), nil
}
