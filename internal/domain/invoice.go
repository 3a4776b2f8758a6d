/**
 * @description
 * This file defines the core domain model for the pin-service: the Invoice. An
 * invoice ties a user's map pin (message + coordinates) to the Lightning payment
 * request that funds it. It starts out pending and becomes paid exactly once,
 * when the settlement pipeline correlates an incoming payment to it.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For invoice identifiers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invoice statuses. Transitions are monotonic: pending -> paid, never back.
const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
)

// Invoice is the application's record of a pending or paid pin request.
type Invoice struct {
	ID            uuid.UUID `json:"id"`
	WebsocketID   string    `json:"websocket_id"`
	Message       string    `json:"message"`
	LatLong       string    `json:"lat_long"`
	Amount        int64     `json:"amount"`
	Invoice       string    `json:"invoice"`
	InvoiceBolt11 string    `json:"invoice_bolt11"`
	Status        string    `json:"status"`
	DeactivateAt  int64     `json:"deactivate_at"`
	NostrLink     *string   `json:"nostr_link,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// InvoiceCounts summarizes how many pins are currently live versus expired.
type InvoiceCounts struct {
	TotalActive  int64 `json:"totalActive"`
	TotalExpired int64 `json:"totalExpired"`
}

// NewInvoiceRequest is the payload accepted by the pin creation endpoint.
type NewInvoiceRequest struct {
	Message     string `json:"message"`
	Amount      int64  `json:"amount"`
	WebsocketID string `json:"websocket_id"`
	LatLong     string `json:"lat_long"`
}

// PinLifetime converts a pin's funding amount into its time on the map:
// one minute of visibility per satoshi.
func PinLifetime(amountSat int64) time.Duration {
	return time.Duration(amountSat) * time.Minute
}

// DeactivateAtFrom computes the unix-seconds deactivation timestamp for a pin
// funded with amountSat, anchored at now. Truncated to whole seconds.
func DeactivateAtFrom(now time.Time, amountSat int64) int64 {
	return now.Add(PinLifetime(amountSat)).Unix()
}
