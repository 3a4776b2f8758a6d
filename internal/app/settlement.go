/**
 * @description
 * This file contains the settlement confirmation pipeline: the decoder for raw
 * node notifications and the consumer that correlates each notice to a pending
 * invoice, transitions it to paid, kicks off the background note publication,
 * and fans the result out to connected viewers.
 *
 * Processing is reactive to the node's push feed; there is no caller to
 * surface errors to. Every failure is terminal for the single notice it arose
 * from, reported via logging, and never ends the feed loop. Duplicate notices
 * are benign: the status update is idempotent on already-paid invoices.
 *
 * @dependencies
 * - context, encoding/base64, encoding/json, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For the best-effort lifecycle event publish.
 */

package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zapin/pin-service/internal/domain"
	"github.com/zapin/pin-service/internal/store"
	"github.com/zapin/pin-service/pkg/rabbitmq"
)

const (
	noticeHandleTimeout = 15 * time.Second
	notePublishTimeout  = 30 * time.Second
)

// NotePublisher is the note publication surface the consumer depends on.
type NotePublisher interface {
	PublishNote(ctx context.Context, content string) (string, error)
}

// Fanout is the subscriber delivery surface the consumer depends on.
type Fanout interface {
	SendTo(connectionID, event string, data interface{})
	Broadcast(event string, data interface{})
}

// SettlementConsumer correlates settlement notices to invoices and delivers
// the results to subscribers.
type SettlementConsumer struct {
	repo          store.Repository
	node          LightningNode
	notes         NotePublisher
	hub           Fanout
	eventProducer rabbitmq.Publisher
	eventExchange string
	pinBaseURL    string
	njumpBaseURL  string

	now func() time.Time
}

// NewSettlementConsumer wires the consumer. notes and producer may be nil, in
// which case note publication and lifecycle events are skipped.
func NewSettlementConsumer(
	repo store.Repository,
	node LightningNode,
	notes NotePublisher,
	hub Fanout,
	producer rabbitmq.Publisher,
	eventExchange string,
	pinBaseURL string,
	njumpBaseURL string,
) *SettlementConsumer {
	return &SettlementConsumer{
		repo:          repo,
		node:          node,
		notes:         notes,
		hub:           hub,
		eventProducer: producer,
		eventExchange: eventExchange,
		pinBaseURL:    pinBaseURL,
		njumpBaseURL:  njumpBaseURL,
		now:           time.Now,
	}
}

// HandleRaw is the entry point wired to the node's push feed. It decodes the
// raw frame and processes the notice; malformed frames are logged and
// discarded so one bad notice never blocks the ones behind it.
func (c *SettlementConsumer) HandleRaw(raw []byte) {
	notice, err := decodeNotice(raw)
	if err != nil {
		log.Printf("level=warn component=settlement msg=\"discarding malformed notice\" err=%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), noticeHandleTimeout)
	defer cancel()

	if err := c.Handle(ctx, notice); err != nil {
		log.Printf("level=error component=settlement msg=\"notice processing failed\" payment_hash=%s err=%v", notice.PaymentHash, err)
	}
}

// decodeNotice parses a raw transport payload (base64-encoded JSON) into a
// typed settlement notice.
func decodeNotice(raw []byte) (domain.SettlementNotice, error) {
	var notice domain.SettlementNotice

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
	n, err := base64.StdEncoding.Decode(decoded, raw)
	if err != nil {
		return notice, fmt.Errorf("invalid base64 payload: %w", err)
	}

	if err := json.Unmarshal(decoded[:n], &notice); err != nil {
		return notice, fmt.Errorf("invalid json payload: %w", err)
	}
	if notice.PaymentHash == "" {
		return notice, errors.New("notice missing paymentHash")
	}
	return notice, nil
}

// Handle runs the correlation algorithm for one settlement notice. All
// outcomes are side effects on the ledger and the fanout dispatcher.
func (c *SettlementConsumer) Handle(ctx context.Context, notice domain.SettlementNotice) error {
	// The node may notify for payments unrelated to this application, or
	// notify twice; unknown hashes and unknown invoices are benign misses.
	payment, err := c.node.GetIncomingPayment(ctx, notice.PaymentHash)
	if err != nil {
		return fmt.Errorf("payment lookup: %w", err)
	}
	if payment == nil {
		log.Printf("level=info component=settlement msg=\"incoming payment not found; dropping notice\" payment_hash=%s", notice.PaymentHash)
		return nil
	}

	invoice, err := c.repo.FindInvoiceByBolt11(ctx, payment.Invoice)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			log.Printf("level=info component=settlement msg=\"invoice not found; dropping notice\" payment_hash=%s", notice.PaymentHash)
			return nil
		}
		return fmt.Errorf("invoice lookup: %w", err)
	}

	// deactivate_at = now + amount * 60 seconds, replacing the value set at
	// creation. Whole seconds, truncated.
	deactivateAt := domain.DeactivateAtFrom(c.now(), invoice.Amount)

	updated, err := c.repo.UpdateInvoiceStatus(ctx, deactivateAt, payment.Invoice, domain.InvoiceStatusPaid)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			log.Printf("level=info component=settlement msg=\"invoice vanished during update; dropping notice\" payment_hash=%s", notice.PaymentHash)
			return nil
		}
		return fmt.Errorf("status update: %w", err)
	}

	// Note publication is supplementary and must never delay or fail the
	// fanout; it runs on its own timeline and only touches the logger and the
	// ledger's nostr_link column. A link that lands after the fanout is
	// visible on the next list call, not re-pushed.
	go c.publishNote(*updated)

	c.hub.SendTo(notice.ExternalID, domain.EventPaid, updated)
	c.hub.Broadcast(domain.EventNewMessage, updated)

	if c.eventProducer != nil {
		event := rabbitmq.PinEvent{
			InvoiceID:    updated.ID,
			EventType:    "settled",
			AmountSat:    updated.Amount,
			DeactivateAt: updated.DeactivateAt,
			Timestamp:    c.now(),
		}
		if err := c.eventProducer.PublishPinEvent(ctx, c.eventExchange, rabbitmq.RoutingKeyPinSettled, event); err != nil {
			log.Printf("level=warn component=settlement msg=\"pin.settled event publish failed\" invoice_id=%s err=%v", updated.ID, err)
		}
	}

	return nil
}

func (c *SettlementConsumer) publishNote(invoice domain.Invoice) {
	if c.notes == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notePublishTimeout)
	defer cancel()

	content := fmt.Sprintf("%s\n%s/?pin=%s", invoice.Message, c.pinBaseURL, invoice.ID)
	noteID, err := c.notes.PublishNote(ctx, content)
	if err != nil {
		// Permanently accepted degraded state: the pin stays paid with no
		// public link and no retry is scheduled.
		log.Printf("level=warn component=settlement msg=\"note publication failed\" invoice_id=%s err=%v", invoice.ID, err)
		return
	}

	if err := c.repo.UpdateNostrLink(ctx, invoice.ID, noteID); err != nil {
		log.Printf("level=warn component=settlement msg=\"nostr link update failed\" invoice_id=%s note_id=%s err=%v", invoice.ID, noteID, err)
		return
	}
	log.Printf("level=info component=settlement msg=\"note published\" invoice_id=%s link=%s/%s", invoice.ID, c.njumpBaseURL, noteID)
}
