/**
 * @description
 * This file contains the request/response business logic for the pin-service:
 * creating a pending invoice against the Lightning node, and the list/count
 * queries behind the public pin endpoints. The asynchronous settlement side
 * lives in settlement.go.
 *
 * Key features:
 * - Validates pin creation input and computes the initial deactivation time.
 * - Asks the node for a bolt11 invoice correlated to the caller's websocket id.
 * - Persists the pending invoice with the node's full response as an opaque artifact.
 * - Publishes a best-effort pin.created event to RabbitMQ.
 * - Optionally rate-limits creation per client via the Redis limiter.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For invoice identifiers.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/phoenixclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zapin/pin-service/internal/domain"
	"github.com/zapin/pin-service/internal/store"
	"github.com/zapin/pin-service/pkg/phoenixclient"
	"github.com/zapin/pin-service/pkg/rabbitmq"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

var (
	ErrMissingParameters = errors.New("missing parameters")
	ErrInvalidAmount     = errors.New("amount must be a positive number of satoshis")
	ErrRateLimited       = errors.New("too many invoice requests")
)

// LightningNode is the node client surface the service depends on.
type LightningNode interface {
	CreateInvoice(ctx context.Context, req phoenixclient.CreateInvoiceRequest) (*phoenixclient.CreateInvoiceResponse, error)
	GetIncomingPayment(ctx context.Context, paymentHash string) (*phoenixclient.IncomingPayment, error)
}

// RateLimiter is the distributed limiter surface used for invoice creation.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for pins.
type Service struct {
	repo          store.Repository
	node          LightningNode
	eventProducer rabbitmq.Publisher
	eventExchange string

	rateLimiter       RateLimiter
	invoiceRatePerMin int

	now func() time.Time
}

// NewService creates a new pin service instance.
func NewService(repo store.Repository, node LightningNode, producer rabbitmq.Publisher, eventExchange string) *Service {
	return &Service{
		repo:          repo,
		node:          node,
		eventProducer: producer,
		eventExchange: eventExchange,
		now:           time.Now,
	}
}

// SetRateLimiter enables per-client invoice creation rate limiting.
func (s *Service) SetRateLimiter(limiter RateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.invoiceRatePerMin = perMinute
}

// CreatePinInvoice validates the request, asks the node for an invoice, and
// persists the pending pin. Returns the node's invoice data for the client to
// present as a payment request.
func (s *Service) CreatePinInvoice(ctx context.Context, req domain.NewInvoiceRequest) (*phoenixclient.CreateInvoiceResponse, error) {
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.WebsocketID) == "" {
		return nil, ErrMissingParameters
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if s.rateLimiter != nil && s.invoiceRatePerMin > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "new_invoice", req.WebsocketID, s.invoiceRatePerMin, time.Minute)
		if err != nil {
			// Fail open: a limiter outage must not take pin creation down.
			log.Printf("level=warn component=pin_service msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > s.invoiceRatePerMin {
			log.Printf("level=info component=pin_service msg=\"invoice creation rate limited\" websocket_id=%s retry_after_s=%d", req.WebsocketID, retryAfter)
			return nil, ErrRateLimited
		}
	}

	deactivateAt := domain.DeactivateAtFrom(s.now(), req.Amount)

	invoiceData, err := s.node.CreateInvoice(ctx, phoenixclient.CreateInvoiceRequest{
		Description: "new-invoice",
		AmountSat:   req.Amount,
		ExternalID:  req.WebsocketID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice on node: %w", err)
	}

	// The full node response is retained as an opaque artifact alongside the
	// bolt11 serialization used for settlement correlation.
	artifact, err := json.Marshal(invoiceData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice artifact: %w", err)
	}

	invoice := &domain.Invoice{
		ID:            uuid.New(),
		WebsocketID:   req.WebsocketID,
		Message:       req.Message,
		LatLong:       req.LatLong,
		Amount:        req.Amount,
		Invoice:       string(artifact),
		InvoiceBolt11: invoiceData.Serialized,
		Status:        domain.InvoiceStatusPending,
		DeactivateAt:  deactivateAt,
		CreatedAt:     s.now(),
	}

	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to persist invoice: %w", err)
	}

	if s.eventProducer != nil {
		event := rabbitmq.PinEvent{
			InvoiceID:    invoice.ID,
			EventType:    "created",
			AmountSat:    invoice.Amount,
			DeactivateAt: invoice.DeactivateAt,
			Timestamp:    s.now(),
		}
		if err := s.eventProducer.PublishPinEvent(ctx, s.eventExchange, rabbitmq.RoutingKeyPinCreated, event); err != nil {
			log.Printf("level=warn component=pin_service msg=\"pin.created event publish failed\" invoice_id=%s err=%v", invoice.ID, err)
		}
	}

	return invoiceData, nil
}

// ListActivePins returns the paginated set of live pins.
func (s *Service) ListActivePins(ctx context.Context, page, limit int) ([]domain.Invoice, error) {
	limit, offset := normalizePagination(page, limit)
	return s.repo.ListActiveInvoices(ctx, limit, offset)
}

// ListDeactivatedPins returns the paginated set of expired pins.
func (s *Service) ListDeactivatedPins(ctx context.Context, page, limit int) ([]domain.Invoice, error) {
	limit, offset := normalizePagination(page, limit)
	return s.repo.ListDeactivatedInvoices(ctx, limit, offset)
}

// CountPins returns active/expired totals.
func (s *Service) CountPins(ctx context.Context) (*domain.InvoiceCounts, error) {
	return s.repo.CountInvoices(ctx)
}

func normalizePagination(page, limit int) (normalizedLimit, offset int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return limit, (page - 1) * limit
}
