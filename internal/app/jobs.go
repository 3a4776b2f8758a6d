/**
 * @description
 * Scheduled job implementations for the pin-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/zapin/pin-service/internal/domain"
)

// JobsRepository defines the database operations needed by the jobs.
type JobsRepository interface {
	CountInvoices(ctx context.Context) (*domain.InvoiceCounts, error)
	DeleteStalePendingInvoices(ctx context.Context, cutoff time.Time) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo            JobsRepository
	logger          *slog.Logger
	stalePendingTTL time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo JobsRepository, logger *slog.Logger, stalePendingTTL time.Duration) *Jobs {
	return &Jobs{
		repo:            repo,
		logger:          logger,
		stalePendingTTL: stalePendingTTL,
	}
}

// SweepPins logs active/expired pin totals and prunes pending invoices that
// were created long enough ago that their payment window has certainly
// passed. Paid pins are never touched: expiry is a property of deactivate_at,
// evaluated at query time.
func (j *Jobs) SweepPins() {
	j.logger.Info("starting pin sweep job")
	ctx := context.Background()

	counts, err := j.repo.CountInvoices(ctx)
	if err != nil {
		j.logger.Error("failed to count pins", "error", err)
	} else {
		j.logger.Info("pin totals", "active", counts.TotalActive, "expired", counts.TotalExpired)
	}

	cutoff := time.Now().Add(-j.stalePendingTTL)
	removed, err := j.repo.DeleteStalePendingInvoices(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune stale pending invoices", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("pruned stale pending invoices", "count", removed)
	}

	j.logger.Info("pin sweep job finished")
}
