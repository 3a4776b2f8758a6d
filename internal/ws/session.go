/**
 * @description
 * This file wraps a gorilla websocket connection in the Sender interface the
 * Hub fans out through. Events travel as JSON text frames with a small
 * envelope so the frontend can switch on the event name. gorilla connections
 * permit only one concurrent writer, so writes are serialized with a mutex.
 *
 * @dependencies
 * - encoding/json, sync, time: Standard Go libraries.
 * - github.com/gorilla/websocket: The subscriber transport.
 */

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Envelope is the wire shape of every event delivered to a subscriber.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Session is one live subscriber connection.
type Session struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewSession wraps an upgraded websocket connection.
func NewSession(id string, conn *websocket.Conn) *Session {
	return &Session{ID: id, conn: conn}
}

// Send marshals the event envelope and writes it as a single text frame.
func (s *Session) Send(event string, data interface{}) error {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
