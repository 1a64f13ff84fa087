package fulfillment_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toko/internal/apperr"
	"toko/internal/events"
	"toko/internal/fulfillment"
	"toko/internal/outbox"
	"toko/internal/repo"
	"toko/internal/repo/repotest"
)

func strPtr(s string) *string { return &s }

func TestCreatePaymentChargesOrderTotal(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t, 1250, 2)

	p, err := h.payments.Create(context.Background(), h.biz.ID, fulfillment.CreatePaymentInput{
		OrderID:     order.ID,
		Method:      "transfer",
		Reference:   strPtr("TRX-1"),
		AmountCents: 1,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2500, p.AmountCents)
	assert.Equal(t, repo.PaymentPending, p.Status)

	h.drain(t)
	assert.Len(t, h.events.named(events.NewPayment), 1)
}

func TestCreatePaymentForeignOrder(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t, 1000, 1)
	other := repotest.Business(t, h.repo, "other")

	_, err := h.payments.Create(context.Background(), other.ID, fulfillment.CreatePaymentInput{OrderID: order.ID, Method: "cash"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestVerifyPaymentConfirmsOrderAndEmitsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	p, err := h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: order.ID, Method: "transfer"})
	require.NoError(t, err)
	h.drain(t)

	verified, err := h.payments.Verify(ctx, h.biz.ID, p.ID, "admin-1", fulfillment.VerifyInput{Status: repo.PaymentVerified, Notes: strPtr("matched bank statement")})
	require.NoError(t, err)
	assert.Equal(t, repo.PaymentVerified, verified.Status)
	require.NotNil(t, verified.VerifiedBy)
	assert.Equal(t, "admin-1", *verified.VerifiedBy)
	assert.NotNil(t, verified.VerifiedAt)
	require.NotNil(t, verified.Notes)
	assert.Equal(t, "matched bank statement", *verified.Notes)

	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderConfirmed, got.Status)

	h.drain(t)
	assert.Len(t, h.events.named(events.PaymentVerified), 1)
	changed := h.events.named(events.OrderStatusChanged)
	require.Len(t, changed, 1)
	var payload struct {
		Status repo.OrderStatus `json:"status"`
		Order  repo.Order       `json:"order"`
	}
	require.NoError(t, json.Unmarshal(changed[0].Data, &payload))
	assert.Equal(t, repo.OrderConfirmed, payload.Status)
	assert.Equal(t, order.ID, payload.Order.ID)
}

func TestVerifyDecidedPaymentIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	p, err := h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: order.ID, Method: "transfer"})
	require.NoError(t, err)
	_, err = h.payments.Verify(ctx, h.biz.ID, p.ID, "admin-1", fulfillment.VerifyInput{Status: repo.PaymentVerified})
	require.NoError(t, err)
	h.drain(t)
	before := h.events.total()

	_, err = h.payments.Verify(ctx, h.biz.ID, p.ID, "admin-2", fulfillment.VerifyInput{Status: repo.PaymentVerified})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	_, err = h.payments.Reject(ctx, h.biz.ID, p.ID, "admin-2", nil)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	h.drain(t)
	assert.Equal(t, before, h.events.total())
	stored, err := h.payments.Get(ctx, h.biz.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", *stored.VerifiedBy)
}

func TestRejectPaymentLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	p, err := h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: order.ID, Method: "transfer"})
	require.NoError(t, err)

	rejected, err := h.payments.Verify(ctx, h.biz.ID, p.ID, "admin-1", fulfillment.VerifyInput{Status: repo.PaymentRejected, Notes: strPtr("blurry proof")})
	require.NoError(t, err)
	assert.Equal(t, repo.PaymentRejected, rejected.Status)
	assert.Equal(t, "blurry proof", *rejected.Notes)

	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderPending, got.Status)

	h.drain(t)
	verifiedEvents := h.events.named(events.PaymentVerified)
	require.Len(t, verifiedEvents, 1)
	assert.Contains(t, string(verifiedEvents[0].Data), `"REJECTED"`)
	assert.Empty(t, h.events.named(events.OrderStatusChanged))
}

func TestVerifyRejectsUnknownStatusAndForeignTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	p, err := h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: order.ID, Method: "transfer"})
	require.NoError(t, err)

	_, err = h.payments.Verify(ctx, h.biz.ID, p.ID, "admin-1", fulfillment.VerifyInput{Status: repo.PaymentPending})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	other := repotest.Business(t, h.repo, "other")
	_, err = h.payments.Verify(ctx, other.ID, p.ID, "admin-1", fulfillment.VerifyInput{Status: repo.PaymentVerified})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListPaymentsFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.placeOrder(t, 1000, 1)
	second := h.placeOrder(t, 2000, 1)
	p1, err := h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: first.ID, Method: "transfer"})
	require.NoError(t, err)
	_, err = h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: second.ID, Method: "cash"})
	require.NoError(t, err)
	_, err = h.payments.Verify(ctx, h.biz.ID, p1.ID, "admin", fulfillment.VerifyInput{Status: repo.PaymentVerified})
	require.NoError(t, err)

	pending, err := h.payments.List(ctx, h.biz.ID, repo.PaymentFilter{Status: repo.PaymentPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].OrderID)

	byOrder, err := h.payments.List(ctx, h.biz.ID, repo.PaymentFilter{OrderID: first.ID})
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	assert.Equal(t, p1.ID, byOrder[0].ID)

	_, err = h.payments.List(ctx, h.biz.ID, repo.PaymentFilter{Status: "LOST"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestFailingMirrorDoesNotReplayDashboardEvents(t *testing.T) {
	mirror := &failingSink{}
	h := newHarnessWithMirror(t, mirror, outbox.Config{BaseBackoff: time.Nanosecond, MaxBackoff: time.Nanosecond, MaxAttempts: 4})
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	p, err := h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: order.ID, Method: "transfer"})
	require.NoError(t, err)
	_, err = h.payments.Verify(ctx, h.biz.ID, p.ID, "admin-1", fulfillment.VerifyInput{Status: repo.PaymentVerified})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		h.drain(t)
	}

	assert.Len(t, h.events.named(events.PaymentVerified), 1)
	assert.Len(t, h.events.named(events.OrderStatusChanged), 1)
	assert.Len(t, h.events.named(events.NewPayment), 1)
	// new_order, new_payment, payment_verified and order_status_changed, four tries each before parking.
	assert.Equal(t, 16, mirror.calls())
}
