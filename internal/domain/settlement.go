/**
 * @description
 * This file defines the typed shapes that cross the settlement and fanout
 * boundaries: the notice pushed by the Lightning node when a payment settles,
 * and the socket event payloads delivered to connected viewers. Keeping these
 * as explicit tagged structs means malformed input fails at the decode
 * boundary instead of surfacing as missing fields deep in the pipeline.
 */

package domain

// SettlementNotice is the decoded form of a payment notification pushed by the
// Lightning node. It is constructed per notification and discarded after
// processing.
type SettlementNotice struct {
	PaymentHash string `json:"paymentHash"`
	ExternalID  string `json:"externalId"`
}

// Socket event names delivered to subscriber sessions.
const (
	// EventConnected is sent once to a session right after it registers,
	// carrying the connection id the client must echo back as websocket_id
	// when creating an invoice.
	EventConnected = "connected"

	// EventPaid is the targeted notification to the payer's session after a
	// settlement, carrying the post-settlement invoice.
	EventPaid = "paid"

	// EventNewMessage is broadcast to every session after a settlement so all
	// viewers can place the new pin on the map.
	EventNewMessage = "new-message"

	// EventUsersConnected is broadcast whenever a session connects or
	// disconnects, carrying the current session count.
	EventUsersConnected = "users-connected"
)

// ConnectedPayload is the payload of the EventConnected handshake.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}
