/**
 * @description
 * This file contains the websocket subscription endpoint. Each connecting
 * viewer is upgraded, assigned a connection id, registered with the hub, and
 * handed its id via a `connected` handshake so it can correlate invoices it
 * creates to its own session. The read loop only drains control frames; all
 * application traffic flows server-to-client through the hub.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries.
 * - github.com/google/uuid: Connection id assignment.
 * - github.com/gorilla/websocket: The subscriber transport.
 * - internal/domain, internal/ws: Event names and the session registry.
 */

package api

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zapin/pin-service/internal/domain"
	"github.com/zapin/pin-service/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The map is served to anonymous browsers from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SubscribeHandler upgrades the request and keeps the session registered for
// the lifetime of the underlying connection.
func SubscribeHandler(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("level=warn component=api msg=\"websocket upgrade failed\" err=%v", err)
			return
		}

		connectionID := uuid.NewString()
		session := ws.NewSession(connectionID, conn)

		hub.Register(connectionID, session)
		defer func() {
			hub.Unregister(connectionID)
			session.Close()
		}()

		if err := session.Send(domain.EventConnected, domain.ConnectedPayload{ConnectionID: connectionID}); err != nil {
			log.Printf("level=warn component=api msg=\"connected handshake failed\" connection_id=%s err=%v", connectionID, err)
			return
		}

		// Drain reads until the peer goes away; the error ends the session.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
