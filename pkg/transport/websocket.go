package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream adapts a WebSocket connection to the Stream interface, so
// the same framed byte protocol can travel through HTTP infrastructure.
// Each Write leaves the host as one binary message; Read drains binary
// messages as a contiguous byte stream.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

// NewWebSocketStream wraps an established WebSocket connection into a
// Stream.
func NewWebSocketStream(conn *websocket.Conn) Stream {
	return &wsStream{conn: conn}
}

func (ws *wsStream) Read(p []byte) (int, error) {
	for {
		if ws.reader == nil {
			mt, r, err := ws.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, fmt.Errorf("expected a binary message, got type %d", mt)
			}
			ws.reader = r
		}

		n, err := ws.reader.Read(p)
		if err == io.EOF {
			// This message is drained; continue with the next one.
			ws.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}

		return n, err
	}
}

func (ws *wsStream) Write(p []byte) (int, error) {
	if err := ws.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (ws *wsStream) Close() error {
	return ws.conn.Close()
}

func (ws *wsStream) SetReadDeadline(t time.Time) error {
	return ws.conn.SetReadDeadline(t)
}

func (ws *wsStream) SetWriteDeadline(t time.Time) error {
	return ws.conn.SetWriteDeadline(t)
}

// DialWebSocket opens a WebSocket connection to a ws:// or wss:// URL
// and wraps it into a Connection. A non-positive timeout selects
// DefaultTimeout.
func DialWebSocket(url string, timeout time.Duration) (*Connection, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %v", url, err)
	}

	return New(NewWebSocketStream(conn), timeout), nil
}
