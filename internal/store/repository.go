/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the pin-service. Defining an interface
 * decouples the settlement pipeline and the HTTP layer from the PostgreSQL
 * implementation, which keeps both testable with in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For invoice identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zapin/pin-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// CreateInvoice persists a freshly created pending invoice.
	CreateInvoice(ctx context.Context, invoice *domain.Invoice) error

	// FindInvoiceByBolt11 looks an invoice up by its bolt11 serialization, the
	// correlation key returned by the node's payment lookup.
	FindInvoiceByBolt11(ctx context.Context, bolt11 string) (*domain.Invoice, error)

	// UpdateInvoiceStatus transitions the invoice keyed by bolt11 to the given
	// status with a recomputed deactivation timestamp, returning the updated
	// row. The update affects at most one row and is idempotent when
	// re-applied to an already-paid invoice.
	UpdateInvoiceStatus(ctx context.Context, deactivateAt int64, bolt11, status string) (*domain.Invoice, error)

	// UpdateNostrLink records the published note id on the invoice. Set at
	// most once, after a successful note publication.
	UpdateNostrLink(ctx context.Context, invoiceID uuid.UUID, noteID string) error

	// ListActiveInvoices returns paid pins whose deactivation time is still in
	// the future, most recent first.
	ListActiveInvoices(ctx context.Context, limit, offset int) ([]domain.Invoice, error)

	// ListDeactivatedInvoices returns paid pins that have already expired.
	ListDeactivatedInvoices(ctx context.Context, limit, offset int) ([]domain.Invoice, error)

	// CountInvoices returns active/expired totals for paid pins.
	CountInvoices(ctx context.Context) (*domain.InvoiceCounts, error)

	// DeleteStalePendingInvoices removes pending invoices created before the
	// cutoff that were never paid, returning how many rows were removed.
	DeleteStalePendingInvoices(ctx context.Context, cutoff time.Time) (int64, error)
}
