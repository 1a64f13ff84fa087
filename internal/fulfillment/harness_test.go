package fulfillment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"toko/internal/events"
	"toko/internal/fulfillment"
	"toko/internal/logging"
	"toko/internal/metrics"
	"toko/internal/outbox"
	"toko/internal/repo"
	"toko/internal/repo/repotest"
)

type recordedEvent struct {
	TenantID string
	Event    string
	Data     json.RawMessage
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Broadcast(_ context.Context, tenantID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{TenantID: tenantID, Event: event, Data: data})
	return nil
}

func (r *eventRecorder) named(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type failingSink struct {
	mu       sync.Mutex
	attempts int
}

func (f *failingSink) Broadcast(context.Context, string, string, any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	return errors.New("broker unavailable")
}

func (f *failingSink) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type sentText struct {
	TenantID string
	Phone    string
	Text     string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentText
	fail bool
}

func (s *fakeSender) SendText(_ context.Context, tenantID, phone, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("channel disconnected")
	}
	s.sent = append(s.sent, sentText{TenantID: tenantID, Phone: phone, Text: text})
	return nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeInvalidator struct {
	mu    sync.Mutex
	slugs []string
}

func (f *fakeInvalidator) InvalidateTenant(_ context.Context, slug string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slugs = append(f.slugs, slug)
	return 1, nil
}

type harness struct {
	repo       *repo.SQLiteRepository
	relay      *outbox.Relay
	events     *eventRecorder
	sender     *fakeSender
	cache      *fakeInvalidator
	orders     *fulfillment.OrderService
	payments   *fulfillment.PaymentService
	deliveries *fulfillment.DeliveryService
	notifier   *fulfillment.NotificationService
	biz        repo.Business
	customer   repo.Customer
	courier    repo.DeliveryPerson
}

const ratingBaseURL = "https://shop.example.com"

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithMirror(t, nil, outbox.Config{})
}

// newHarnessWithMirror also relays every broadcast to mirror, using cfg for the relay.
func newHarnessWithMirror(t *testing.T, mirror events.Broadcaster, cfg outbox.Config) *harness {
	t.Helper()
	r := repotest.NewSQLite(t)
	m := metrics.NewNop()
	logger := logging.Discard()

	h := &harness{
		repo:   r,
		relay:  outbox.NewRelay(r, cfg, m, logger),
		events: &eventRecorder{},
		sender: &fakeSender{},
		cache:  &fakeInvalidator{},
	}
	deps := fulfillment.Deps{Repo: r, Metrics: m, Logger: logger}
	h.orders = fulfillment.NewOrderService(deps)
	h.payments = fulfillment.NewPaymentService(deps)
	h.deliveries = fulfillment.NewDeliveryService(deps)
	h.notifier = fulfillment.NewNotificationService(deps, h.sender, ratingBaseURL+"/")
	fulfillment.RegisterHandlers(h.relay, h.events, mirror, h.notifier, h.cache)

	h.biz = repotest.Business(t, r, "acme")
	h.customer = repotest.Customer(t, r, h.biz.ID, "Budi", "+628111111111")
	h.courier = repotest.DeliveryPerson(t, r, h.biz.ID, "Rudi")
	return h
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	_, err := h.relay.Drain(context.Background())
	require.NoError(t, err)
}

// placeOrder creates a one-line order for the default customer.
func (h *harness) placeOrder(t *testing.T, priceCents int64, qty int) *repo.Order {
	t.Helper()
	p := repotest.Product(t, h.repo, h.biz.ID, "Kopi", priceCents)
	addr := "Jl. Sudirman 5"
	order, err := h.orders.Create(context.Background(), h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID:        h.customer.ID,
		Items:             []fulfillment.ItemInput{{ProductID: p.ID, Quantity: qty}},
		PaymentMethod:     "transfer",
		DeliveryAddress:   &addr,
		ShippingCostCents: 1500,
	})
	require.NoError(t, err)
	return order
}

// deliver assigns the order to courier and confirms it with the stored code.
func (h *harness) deliver(t *testing.T, orderID string, courier repo.DeliveryPerson) *repo.DeliveryOrder {
	t.Helper()
	ctx := context.Background()
	_, err := h.deliveries.Assign(ctx, h.biz.ID, orderID, courier.ID, nil)
	require.NoError(t, err)
	stored, err := h.repo.GetDeliveryOrderByOrderID(ctx, orderID)
	require.NoError(t, err)
	d, err := h.deliveries.ConfirmOTP(ctx, h.biz.ID, orderID, stored.OTPCode, courier.ID)
	require.NoError(t, err)
	return d
}

func (h *harness) botMessages(t *testing.T, customerID string) []repo.Message {
	t.Helper()
	history, err := h.notifier.History(context.Background(), h.biz.ID, customerID, 100)
	require.NoError(t, err)
	var out []repo.Message
	for _, m := range history.Messages {
		if m.Role == repo.RoleBot {
			out = append(out, m)
		}
	}
	return out
}
