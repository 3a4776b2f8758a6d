/**
 * @description
 * This file implements the subscriber session registry and fanout dispatcher.
 * The Hub owns the mapping from connection id to live session and delivers
 * events either targeted (to the payer's session after settlement) or as a
 * broadcast (to every viewer). It is held by the composition root rather than
 * living as package-level state, so tests can own their own instance.
 *
 * Delivery is best-effort: a missing target or a failing recipient is logged
 * and skipped, never surfaced to the settlement pipeline.
 *
 * @dependencies
 * - log, sync: Standard Go libraries.
 * - internal/domain: For event names and payload types.
 */

package ws

import (
	"log"
	"sync"

	"github.com/zapin/pin-service/internal/domain"
)

// Sender delivers a single tagged event over one subscriber's transport.
type Sender interface {
	Send(event string, data interface{}) error
}

// Hub tracks currently-connected subscriber sessions keyed by connection id.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]Sender
}

// NewHub creates an empty session registry.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]Sender)}
}

// Register adds a session under the given connection id, replacing any
// existing session with the same id, then broadcasts the new session count.
// The count is captured under the lock but delivered outside it, so under
// concurrent register/unregister churn clients may observe counts out of
// order; the next churn event corrects the display.
func (h *Hub) Register(connectionID string, sender Sender) {
	h.mu.Lock()
	h.sessions[connectionID] = sender
	count := len(h.sessions)
	h.mu.Unlock()

	log.Printf("level=info component=ws_hub msg=\"session connected\" connection_id=%s total=%d", connectionID, count)
	h.Broadcast(domain.EventUsersConnected, count)
}

// Unregister removes a session; it is a no-op for unknown ids. The updated
// session count is broadcast to the remaining sessions, with the same
// ordering caveat as Register.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	_, existed := h.sessions[connectionID]
	delete(h.sessions, connectionID)
	count := len(h.sessions)
	h.mu.Unlock()

	if !existed {
		return
	}
	log.Printf("level=info component=ws_hub msg=\"session disconnected\" connection_id=%s total=%d", connectionID, count)
	h.Broadcast(domain.EventUsersConnected, count)
}

// Count returns the number of active sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SendTo delivers an event to the session registered under connectionID. A
// missing session is a logged no-op: a subscriber that disconnected between
// invoice creation and settlement simply misses the direct notification.
func (h *Hub) SendTo(connectionID, event string, data interface{}) {
	h.mu.RLock()
	sender, ok := h.sessions[connectionID]
	h.mu.RUnlock()

	if !ok {
		log.Printf("level=info component=ws_hub msg=\"target session not connected; dropping event\" connection_id=%s event=%s", connectionID, event)
		return
	}
	if err := sender.Send(event, data); err != nil {
		log.Printf("level=warn component=ws_hub msg=\"targeted send failed\" connection_id=%s event=%s err=%v", connectionID, event, err)
	}
}

// Broadcast delivers an event to every currently registered session. The
// session set is snapshotted first, so registry mutations during delivery
// never tear the iteration, and one failing recipient never blocks the rest.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.mu.RLock()
	snapshot := make(map[string]Sender, len(h.sessions))
	for id, sender := range h.sessions {
		snapshot[id] = sender
	}
	h.mu.RUnlock()

	for id, sender := range snapshot {
		if err := sender.Send(event, data); err != nil {
			log.Printf("level=warn component=ws_hub msg=\"broadcast send failed; skipping recipient\" connection_id=%s event=%s err=%v", id, event, err)
		}
	}
}
