package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zapin/pin-service/internal/domain"
	"github.com/zapin/pin-service/internal/store"
	"github.com/zapin/pin-service/pkg/phoenixclient"
)

type settlementRepoStub struct {
	store.Repository

	mu       sync.Mutex
	invoices map[string]*domain.Invoice

	updateCalled        bool
	updatedDeactivateAt int64
	updatedStatus       string

	nostrLinkCalled bool
	nostrNoteID     string
	nostrDone       chan struct{}
}

func newSettlementRepo(invoices ...*domain.Invoice) *settlementRepoStub {
	repo := &settlementRepoStub{invoices: make(map[string]*domain.Invoice)}
	for _, inv := range invoices {
		repo.invoices[inv.InvoiceBolt11] = inv
	}
	return repo
}

func (s *settlementRepoStub) stored(bolt11 string) domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.invoices[bolt11]
}

func (s *settlementRepoStub) FindInvoiceByBolt11(ctx context.Context, bolt11 string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.invoices[bolt11]
	if !ok {
		return nil, store.ErrInvoiceNotFound
	}
	inv := *invoice
	return &inv, nil
}

func (s *settlementRepoStub) UpdateInvoiceStatus(ctx context.Context, deactivateAt int64, bolt11, status string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.invoices[bolt11]
	if !ok {
		return nil, store.ErrInvoiceNotFound
	}
	s.updateCalled = true
	s.updatedDeactivateAt = deactivateAt
	s.updatedStatus = status
	invoice.Status = status
	invoice.DeactivateAt = deactivateAt
	inv := *invoice
	return &inv, nil
}

func (s *settlementRepoStub) UpdateNostrLink(ctx context.Context, invoiceID uuid.UUID, noteID string) error {
	s.mu.Lock()
	s.nostrLinkCalled = true
	s.nostrNoteID = noteID
	s.mu.Unlock()
	if s.nostrDone != nil {
		close(s.nostrDone)
	}
	return nil
}

type nodeStub struct {
	payments map[string]*phoenixclient.IncomingPayment
}

func (n *nodeStub) CreateInvoice(ctx context.Context, req phoenixclient.CreateInvoiceRequest) (*phoenixclient.CreateInvoiceResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (n *nodeStub) GetIncomingPayment(ctx context.Context, paymentHash string) (*phoenixclient.IncomingPayment, error) {
	return n.payments[paymentHash], nil
}

type sentEvent struct {
	ConnectionID string
	Event        string
	Data         interface{}
}

type fanoutRecorder struct {
	mu         sync.Mutex
	targeted   []sentEvent
	broadcasts []sentEvent
}

func (f *fanoutRecorder) SendTo(connectionID, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targeted = append(f.targeted, sentEvent{ConnectionID: connectionID, Event: event, Data: data})
}

func (f *fanoutRecorder) Broadcast(event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, sentEvent{Event: event, Data: data})
}

type noteStub struct {
	noteID string
	err    error

	mu       sync.Mutex
	contents []string
	done     chan struct{}
}

func (n *noteStub) PublishNote(ctx context.Context, content string) (string, error) {
	n.mu.Lock()
	n.contents = append(n.contents, content)
	n.mu.Unlock()
	if n.done != nil {
		close(n.done)
	}
	return n.noteID, n.err
}

func encodeNotice(paymentHash, externalID string) []byte {
	payload := fmt.Sprintf(`{"paymentHash":%q,"externalId":%q}`, paymentHash, externalID)
	return []byte(base64.StdEncoding.EncodeToString([]byte(payload)))
}

func pendingInvoice(amount int64, websocketID string) *domain.Invoice {
	return &domain.Invoice{
		ID:            uuid.New(),
		WebsocketID:   websocketID,
		Message:       "hello from the map",
		LatLong:       "48.8584,2.2945",
		Amount:        amount,
		Invoice:       `{"serialized":"lnbc1..."}`,
		InvoiceBolt11: "lnbc1...",
		Status:        domain.InvoiceStatusPending,
		DeactivateAt:  100,
		CreatedAt:     time.Unix(0, 0),
	}
}

func newTestConsumer(repo *settlementRepoStub, node *nodeStub, notes NotePublisher, hub Fanout, at time.Time) *SettlementConsumer {
	consumer := NewSettlementConsumer(repo, node, notes, hub, nil, "zapin.events", "https://zapin.me", "https://njump.me")
	consumer.now = func() time.Time { return at }
	return consumer
}

func TestDecodeNotice(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		wantErr bool
		want    domain.SettlementNotice
	}{
		{
			name: "valid notice",
			raw:  encodeNotice("abc123", "conn-1"),
			want: domain.SettlementNotice{PaymentHash: "abc123", ExternalID: "conn-1"},
		},
		{
			name:    "not base64",
			raw:     []byte("%%%not-base64%%%"),
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     []byte(base64.StdEncoding.EncodeToString([]byte("not json"))),
			wantErr: true,
		},
		{
			name:    "missing payment hash",
			raw:     []byte(base64.StdEncoding.EncodeToString([]byte(`{"externalId":"conn-1"}`))),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeNotice(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected decode error, got notice %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestHandle_SettlesInvoiceAndFansOut(t *testing.T) {
	settledAt := time.Unix(1_700_000_000, 0)
	repo := newSettlementRepo(pendingInvoice(10, "conn-1"))
	repo.nostrDone = make(chan struct{})
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{
		"hash-1": {PaymentHash: "hash-1", Invoice: "lnbc1...", ExternalID: "conn-1", IsPaid: true},
	}}
	hub := &fanoutRecorder{}
	notes := &noteStub{noteID: "note-xyz"}

	consumer := newTestConsumer(repo, node, notes, hub, settledAt)

	err := consumer.Handle(context.Background(), domain.SettlementNotice{PaymentHash: "hash-1", ExternalID: "conn-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.updatedStatus != domain.InvoiceStatusPaid {
		t.Fatalf("expected status paid, got %q", repo.updatedStatus)
	}
	if want := settledAt.Unix() + 600; repo.updatedDeactivateAt != want {
		t.Fatalf("expected deactivate_at %d (now + 600s), got %d", want, repo.updatedDeactivateAt)
	}

	if len(hub.targeted) != 1 {
		t.Fatalf("expected exactly one targeted event, got %d", len(hub.targeted))
	}
	if hub.targeted[0].ConnectionID != "conn-1" || hub.targeted[0].Event != domain.EventPaid {
		t.Fatalf("unexpected targeted event: %+v", hub.targeted[0])
	}
	paidInvoice, ok := hub.targeted[0].Data.(*domain.Invoice)
	if !ok {
		t.Fatalf("expected targeted payload to be an invoice, got %T", hub.targeted[0].Data)
	}
	if paidInvoice.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected targeted payload to carry post-update state, got status %q", paidInvoice.Status)
	}

	if len(hub.broadcasts) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(hub.broadcasts))
	}
	if hub.broadcasts[0].Event != domain.EventNewMessage {
		t.Fatalf("expected new-message broadcast, got %q", hub.broadcasts[0].Event)
	}

	// Note publication runs in the background and must land on the ledger.
	select {
	case <-repo.nostrDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nostr link update")
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.nostrNoteID != "note-xyz" {
		t.Fatalf("expected note id note-xyz, got %q", repo.nostrNoteID)
	}
}

func TestHandle_SettlementLeavesOtherInvoicesUntouched(t *testing.T) {
	settledAt := time.Unix(1_700_000_000, 0)
	target := pendingInvoice(10, "conn-1")
	other := pendingInvoice(7, "conn-2")
	other.InvoiceBolt11 = "lnbc-other"
	other.Invoice = `{"serialized":"lnbc-other"}`
	repo := newSettlementRepo(target, other)
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{
		"hash-1": {PaymentHash: "hash-1", Invoice: "lnbc1...", ExternalID: "conn-1"},
	}}
	hub := &fanoutRecorder{}

	consumer := newTestConsumer(repo, node, nil, hub, settledAt)

	if err := consumer.Handle(context.Background(), domain.SettlementNotice{PaymentHash: "hash-1", ExternalID: "conn-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := repo.stored("lnbc1..."); got.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected the correlated invoice to be paid, got %q", got.Status)
	}

	untouched := repo.stored("lnbc-other")
	if untouched.Status != domain.InvoiceStatusPending {
		t.Fatalf("expected the other invoice to stay pending, got %q", untouched.Status)
	}
	if untouched.DeactivateAt != 100 {
		t.Fatalf("expected the other invoice's deactivate_at unchanged, got %d", untouched.DeactivateAt)
	}

	for _, got := range hub.targeted {
		if got.ConnectionID != "conn-1" {
			t.Fatalf("expected targeted events only for conn-1, got one for %q", got.ConnectionID)
		}
	}
}

func TestHandle_UnknownPaymentHashIsNoOp(t *testing.T) {
	repo := newSettlementRepo(pendingInvoice(10, "conn-1"))
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{}}
	hub := &fanoutRecorder{}

	consumer := newTestConsumer(repo, node, nil, hub, time.Unix(1_700_000_000, 0))

	err := consumer.Handle(context.Background(), domain.SettlementNotice{PaymentHash: "unknown", ExternalID: "conn-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.updateCalled {
		t.Fatal("expected zero ledger writes for an unknown payment hash")
	}
	if len(hub.targeted) != 0 || len(hub.broadcasts) != 0 {
		t.Fatal("expected zero fanout sends for an unknown payment hash")
	}
}

func TestHandle_UnknownInvoiceIsNoOp(t *testing.T) {
	repo := newSettlementRepo(pendingInvoice(10, "conn-1"))
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{
		"hash-1": {PaymentHash: "hash-1", Invoice: "lnbc-foreign", ExternalID: "someone-else"},
	}}
	hub := &fanoutRecorder{}

	consumer := newTestConsumer(repo, node, nil, hub, time.Unix(1_700_000_000, 0))

	err := consumer.Handle(context.Background(), domain.SettlementNotice{PaymentHash: "hash-1", ExternalID: "someone-else"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.updateCalled {
		t.Fatal("expected no ledger write when no invoice matches the payment")
	}
	if got := repo.stored("lnbc1..."); got.Status != domain.InvoiceStatusPending {
		t.Fatalf("expected the unrelated invoice to stay pending, got %q", got.Status)
	}
	if len(hub.targeted) != 0 || len(hub.broadcasts) != 0 {
		t.Fatal("expected no fanout when no invoice matches the payment")
	}
}

func TestHandle_DuplicateNoticeIsIdempotent(t *testing.T) {
	settledAt := time.Unix(1_700_000_000, 0)
	repo := newSettlementRepo(pendingInvoice(10, "conn-1"))
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{
		"hash-1": {PaymentHash: "hash-1", Invoice: "lnbc1...", ExternalID: "conn-1"},
	}}
	hub := &fanoutRecorder{}

	consumer := newTestConsumer(repo, node, nil, hub, settledAt)
	notice := domain.SettlementNotice{PaymentHash: "hash-1", ExternalID: "conn-1"}

	if err := consumer.Handle(context.Background(), notice); err != nil {
		t.Fatalf("first notice: unexpected error: %v", err)
	}

	// The duplicate arrives a little later; the transition re-applies without
	// corrupting state and the status never regresses.
	later := settledAt.Add(30 * time.Second)
	consumer.now = func() time.Time { return later }

	if err := consumer.Handle(context.Background(), notice); err != nil {
		t.Fatalf("duplicate notice: unexpected error: %v", err)
	}

	if got := repo.stored("lnbc1..."); got.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected invoice to stay paid, got %q", got.Status)
	}
	if want := later.Unix() + 600; repo.updatedDeactivateAt != want {
		t.Fatalf("expected deactivate_at recomputed from the later notice (%d), got %d", want, repo.updatedDeactivateAt)
	}
}

func TestHandle_DeactivationArithmetic(t *testing.T) {
	settledAt := time.Unix(1_700_000_000, 500_000_000) // fractional seconds truncate
	repo := newSettlementRepo(pendingInvoice(5, "conn-1"))
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{
		"hash-1": {PaymentHash: "hash-1", Invoice: "lnbc1...", ExternalID: "conn-1"},
	}}

	consumer := newTestConsumer(repo, node, nil, &fanoutRecorder{}, settledAt)

	if err := consumer.Handle(context.Background(), domain.SettlementNotice{PaymentHash: "hash-1", ExternalID: "conn-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := int64(1_700_000_000 + 300); repo.updatedDeactivateAt != want {
		t.Fatalf("expected deactivate_at %d for 5 sats, got %d", want, repo.updatedDeactivateAt)
	}
}

func TestHandle_NotePublishFailureDoesNotBlockFanout(t *testing.T) {
	repo := newSettlementRepo(pendingInvoice(10, "conn-1"))
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{
		"hash-1": {PaymentHash: "hash-1", Invoice: "lnbc1...", ExternalID: "conn-1"},
	}}
	hub := &fanoutRecorder{}
	notes := &noteStub{err: fmt.Errorf("all relays refused"), done: make(chan struct{})}

	consumer := newTestConsumer(repo, node, notes, hub, time.Unix(1_700_000_000, 0))

	if err := consumer.Handle(context.Background(), domain.SettlementNotice{PaymentHash: "hash-1", ExternalID: "conn-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(hub.targeted) != 1 || len(hub.broadcasts) != 1 {
		t.Fatalf("expected fanout despite note failure, got %d targeted / %d broadcast", len(hub.targeted), len(hub.broadcasts))
	}

	select {
	case <-notes.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for note publication attempt")
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.nostrLinkCalled {
		t.Fatal("expected no nostr link update after a failed publication")
	}
}

func TestHandleRaw_MalformedNoticeDoesNotTouchLedger(t *testing.T) {
	repo := newSettlementRepo(pendingInvoice(10, "conn-1"))
	node := &nodeStub{payments: map[string]*phoenixclient.IncomingPayment{}}
	hub := &fanoutRecorder{}

	consumer := newTestConsumer(repo, node, nil, hub, time.Unix(1_700_000_000, 0))

	consumer.HandleRaw([]byte("definitely not base64 json"))

	if repo.updateCalled {
		t.Fatal("expected no ledger write for a malformed notice")
	}
	if len(hub.targeted) != 0 || len(hub.broadcasts) != 0 {
		t.Fatal("expected no fanout for a malformed notice")
	}
}
