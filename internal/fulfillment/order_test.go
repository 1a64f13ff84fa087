package fulfillment_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toko/internal/apperr"
	"toko/internal/events"
	"toko/internal/fulfillment"
	"toko/internal/repo"
	"toko/internal/repo/repotest"
)

func TestCreateOrderSnapshotsPricesAndTotals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	shirt := repotest.Product(t, h.repo, h.biz.ID, "Shirt", 1000)
	shoes := repotest.Product(t, h.repo, h.biz.ID, "Shoes", 2500)

	order, err := h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID: h.customer.ID,
		Items: []fulfillment.ItemInput{
			{ProductID: shirt.ID, Quantity: 3, Variant: repo.Document(`{"size":"L"}`)},
			{ProductID: shoes.ID, Quantity: 2},
		},
		PaymentMethod: "transfer",
		ExchangeRate:  decimal.NewNullDecimal(decimal.RequireFromString("15850.25")),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 8000, order.TotalCents)
	assert.Equal(t, repo.OrderPending, order.Status)
	require.Len(t, order.Items, 2)

	_, err = h.repo.DB().Exec(`UPDATE products SET price_cents = 9999 WHERE id = ?`, shirt.ID)
	require.NoError(t, err)

	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 8000, got.TotalCents)
	assert.True(t, got.ExchangeRate.Decimal.Equal(decimal.RequireFromString("15850.25")))
	require.NotNil(t, got.Customer)
	assert.Equal(t, h.customer.ID, got.Customer.ID)
	for _, it := range got.Items {
		if it.ProductID == shirt.ID {
			assert.EqualValues(t, 1000, it.UnitPriceCents)
			assert.JSONEq(t, `{"size":"L"}`, string(it.Variant))
		}
	}

	h.drain(t)
	created := h.events.named(events.NewOrder)
	require.Len(t, created, 1)
	assert.Equal(t, h.biz.ID, created[0].TenantID)
	var payload repo.Order
	require.NoError(t, json.Unmarshal(created[0].Data, &payload))
	assert.Equal(t, order.ID, payload.ID)
	assert.Equal(t, []string{"acme"}, h.cache.slugs)
}

func TestCreateOrderRejectsUnavailableProducts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := repotest.Business(t, h.repo, "other")
	foreign := repotest.Product(t, h.repo, other.ID, "Foreign", 500)
	deleted := repotest.Product(t, h.repo, h.biz.ID, "Gone", 500)
	repotest.DeleteProduct(t, h.repo, deleted.ID)
	ok := repotest.Product(t, h.repo, h.biz.ID, "Ok", 500)

	for name, id := range map[string]string{"foreign": foreign.ID, "deleted": deleted.ID, "missing": "nope"} {
		t.Run(name, func(t *testing.T) {
			_, err := h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{
				CustomerID: h.customer.ID,
				Items:      []fulfillment.ItemInput{{ProductID: ok.ID, Quantity: 1}, {ProductID: id, Quantity: 1}},
			})
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}

	orders, err := h.orders.List(ctx, h.biz.ID, repo.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	h.drain(t)
	assert.Zero(t, h.events.total())
}

func TestCreateOrderRepeatedProductCountsEachLine(t *testing.T) {
	h := newHarness(t)
	p := repotest.Product(t, h.repo, h.biz.ID, "Tea", 700)

	order, err := h.orders.Create(context.Background(), h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID: h.customer.ID,
		Items:      []fulfillment.ItemInput{{ProductID: p.ID, Quantity: 1}, {ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2100, order.TotalCents)
}

func TestCreateOrderRejectsOverflowingTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	kopi := repotest.Product(t, h.repo, h.biz.ID, "Kopi", 1000)
	teh := repotest.Product(t, h.repo, h.biz.ID, "Teh", math.MaxInt64/2)

	_, err := h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID: h.customer.ID,
		Items:      []fulfillment.ItemInput{{ProductID: kopi.ID, Quantity: math.MaxInt64 / 100}},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), err)

	_, err = h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID: h.customer.ID,
		Items: []fulfillment.ItemInput{
			{ProductID: teh.ID, Quantity: 1},
			{ProductID: teh.ID, Quantity: 1},
			{ProductID: kopi.ID, Quantity: 1},
		},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), err)

	orders, err := h.orders.List(ctx, h.biz.ID, repo.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{CustomerID: h.customer.ID})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	p := repotest.Product(t, h.repo, h.biz.ID, "Tea", 700)
	_, err = h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID: h.customer.ID,
		Items:      []fulfillment.ItemInput{{ProductID: p.ID, Quantity: 0}},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID: "missing",
		Items:      []fulfillment.ItemInput{{ProductID: p.ID, Quantity: 1}},
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestOrdersAreTenantScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	other := repotest.Business(t, h.repo, "other")

	_, err := h.orders.Get(ctx, other.ID, order.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.orders.UpdateStatus(ctx, other.ID, order.ID, repo.OrderPreparing)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.True(t, apperr.Is(h.orders.Delete(ctx, other.ID, order.ID), apperr.KindNotFound))
}

func TestUpdateStatusNotifiesCustomer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	h.drain(t)

	_, err := h.orders.UpdateStatus(ctx, h.biz.ID, order.ID, "SHIPPING")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	updated, err := h.orders.UpdateStatus(ctx, h.biz.ID, order.ID, repo.OrderPreparing)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderPreparing, updated.Status)

	h.drain(t)
	require.Len(t, h.sender.texts(), 1)
	assert.Contains(t, h.sender.texts()[0], "is being prepared")
	assert.Len(t, h.events.named(events.OrderStatusChanged), 1)
}

func TestDeleteOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)

	require.NoError(t, h.orders.Delete(ctx, h.biz.ID, order.ID))
	_, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	paid := h.placeOrder(t, 1000, 1)
	_, err = h.payments.Create(ctx, h.biz.ID, fulfillment.CreatePaymentInput{OrderID: paid.ID, Method: "transfer"})
	require.NoError(t, err)
	assert.True(t, apperr.Is(h.orders.Delete(ctx, h.biz.ID, paid.ID), apperr.KindConflict))
}
