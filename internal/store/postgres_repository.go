/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed for the invoices table: creation of pending
 * invoices, the settlement-time status transition, nostr link attachment, and
 * the list/count queries that back the public pin endpoints.
 *
 * The status update is a single-row UPDATE keyed by the bolt11 serialization,
 * which is the sole mutation point of the settlement pipeline; re-applying it
 * to an already-paid row only refreshes deactivate_at and is therefore safe
 * under duplicate settlement notices.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zapin/pin-service/internal/domain"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const invoiceColumns = `id, websocket_id, message, lat_long, amount, invoice, invoice_bolt11, status, deactivate_at, nostr_link, created_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.WebsocketID,
		&inv.Message,
		&inv.LatLong,
		&inv.Amount,
		&inv.Invoice,
		&inv.InvoiceBolt11,
		&inv.Status,
		&inv.DeactivateAt,
		&inv.NostrLink,
		&inv.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// CreateInvoice inserts a new pending invoice row.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		INSERT INTO invoices (id, websocket_id, message, lat_long, amount, invoice, invoice_bolt11, status, deactivate_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		invoice.ID,
		invoice.WebsocketID,
		invoice.Message,
		invoice.LatLong,
		invoice.Amount,
		invoice.Invoice,
		invoice.InvoiceBolt11,
		invoice.Status,
		invoice.DeactivateAt,
		invoice.CreatedAt,
	)
	return err
}

// FindInvoiceByBolt11 retrieves an invoice by its bolt11 serialization.
func (r *PostgresRepository) FindInvoiceByBolt11(ctx context.Context, bolt11 string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_bolt11 = $1`
	return scanInvoice(r.db.QueryRow(ctx, query, bolt11))
}

// UpdateInvoiceStatus applies the settlement transition and returns the
// post-update row, which is the canonical state consumed by the fanout.
func (r *PostgresRepository) UpdateInvoiceStatus(ctx context.Context, deactivateAt int64, bolt11, status string) (*domain.Invoice, error) {
	query := `
		UPDATE invoices
		SET status = $1, deactivate_at = $2
		WHERE invoice_bolt11 = $3
		RETURNING ` + invoiceColumns
	return scanInvoice(r.db.QueryRow(ctx, query, status, deactivateAt, bolt11))
}

// UpdateNostrLink records the published note id for an invoice.
func (r *PostgresRepository) UpdateNostrLink(ctx context.Context, invoiceID uuid.UUID, noteID string) error {
	commandTag, err := r.db.Exec(ctx, `UPDATE invoices SET nostr_link = $1 WHERE id = $2`, noteID, invoiceID)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// ListActiveInvoices returns paid pins that are still live.
func (r *PostgresRepository) ListActiveInvoices(ctx context.Context, limit, offset int) ([]domain.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = $1 AND deactivate_at > $2
		ORDER BY deactivate_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.listInvoices(ctx, query, domain.InvoiceStatusPaid, time.Now().Unix(), limit, offset)
}

// ListDeactivatedInvoices returns paid pins whose time on the map has elapsed.
func (r *PostgresRepository) ListDeactivatedInvoices(ctx context.Context, limit, offset int) ([]domain.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = $1 AND deactivate_at <= $2
		ORDER BY deactivate_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.listInvoices(ctx, query, domain.InvoiceStatusPaid, time.Now().Unix(), limit, offset)
}

func (r *PostgresRepository) listInvoices(ctx context.Context, query string, args ...interface{}) ([]domain.Invoice, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []domain.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// CountInvoices returns how many paid pins are active versus expired.
func (r *PostgresRepository) CountInvoices(ctx context.Context) (*domain.InvoiceCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE deactivate_at > $2),
			COUNT(*) FILTER (WHERE deactivate_at <= $2)
		FROM invoices
		WHERE status = $1
	`
	var counts domain.InvoiceCounts
	err := r.db.QueryRow(ctx, query, domain.InvoiceStatusPaid, time.Now().Unix()).Scan(&counts.TotalActive, &counts.TotalExpired)
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

// DeleteStalePendingInvoices prunes pending invoices that were never paid.
func (r *PostgresRepository) DeleteStalePendingInvoices(ctx context.Context, cutoff time.Time) (int64, error) {
	commandTag, err := r.db.Exec(ctx,
		`DELETE FROM invoices WHERE status = $1 AND created_at < $2`,
		domain.InvoiceStatusPending, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return commandTag.RowsAffected(), nil
}
