package peer

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/opencxl/cxlsock/pkg/transport"
)

// WebSocketHandler is a http.Handler accepting transaction connections
// over WebSockets, serving the same packets the TCP Server does. The
// heavy lifting is outsourced to the underlying http.Server.
type WebSocketHandler struct {
	backing Backing

	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocketHandler serving from the given
// Backing.
func NewWebSocketHandler(backing Backing) *WebSocketHandler {
	return &WebSocketHandler{
		backing:  backing,
		upgrader: websocket.Upgrader{},
	}
}

// ServeHTTP upgrades a HTTP connection to a WebSocket connection
// carrying transaction packets as binary messages.
func (handler *WebSocketHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := handler.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.WithField("peer", handler).WithError(err).Warn("Upgrading connection errored")
		return
	}

	defer conn.Close()

	if err := serveStream(transport.NewWebSocketStream(conn), handler.backing, nil, 0); err != nil {
		log.WithFields(log.Fields{
			"peer":  handler,
			"conn":  conn.RemoteAddr(),
			"error": err,
		}).Info("WebSocket peer connection was closed")
	}
}
