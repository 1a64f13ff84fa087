package fulfillment_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toko/internal/events"
	"toko/internal/fulfillment"
	"toko/internal/repo"
	"toko/internal/repo/repotest"
)

func TestNotificationSkipsNonNotifiableStatus(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t, 1000, 1)
	h.drain(t)
	before := h.events.total()

	require.NoError(t, h.notifier.OnOrderStatusChanged(context.Background(), order.ID, repo.OrderPending))
	h.drain(t)

	assert.Empty(t, h.sender.texts())
	assert.Empty(t, h.botMessages(t, h.customer.ID))
	assert.Equal(t, before, h.events.total())
}

func TestNotificationSkipsCustomerWithoutPhone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	silent := repotest.Customer(t, h.repo, h.biz.ID, "Walk-in", "")
	p := repotest.Product(t, h.repo, h.biz.ID, "Tea", 700)
	order, err := h.orders.Create(ctx, h.biz.ID, fulfillment.CreateOrderInput{
		CustomerID: silent.ID,
		Items:      []fulfillment.ItemInput{{ProductID: p.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	h.drain(t)

	require.NoError(t, h.notifier.OnOrderStatusChanged(ctx, order.ID, repo.OrderConfirmed))
	h.drain(t)
	assert.Empty(t, h.sender.texts())
	assert.Empty(t, h.botMessages(t, silent.ID))
	assert.Empty(t, h.events.named(events.OrderStatusChanged))
}

func TestNotificationPersistsMessageWhenSendFails(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t, 1000, 1)
	h.sender.fail = true

	require.NoError(t, h.notifier.OnOrderStatusChanged(context.Background(), order.ID, repo.OrderCancelled))
	h.drain(t)

	msgs := h.botMessages(t, h.customer.ID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "has been cancelled")
	assert.Len(t, h.events.named(events.OrderStatusChanged), 1)
}

func TestNotificationReusesLatestConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)

	require.NoError(t, h.notifier.OnOrderStatusChanged(ctx, order.ID, repo.OrderConfirmed))
	require.NoError(t, h.notifier.OnOrderStatusChanged(ctx, order.ID, repo.OrderPreparing))

	msgs := h.botMessages(t, h.customer.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].ConversationID, msgs[1].ConversationID)
	texts := h.sender.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "#"+strings.ToUpper(order.ID[:8]))
}

func TestInboundMessageCreatesCustomerAndConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := fulfillment.InboundMessage{TenantID: h.biz.ID, Phone: "+628222222222", DisplayName: "Sari", Text: "is my order ready?"}
	require.NoError(t, h.notifier.OnInboundMessage(ctx, in))
	in.Text = "hello?"
	require.NoError(t, h.notifier.OnInboundMessage(ctx, in))

	customer, err := h.repo.UpsertCustomerByPhone(ctx, repo.CustomerProfile{BusinessID: h.biz.ID, Phone: in.Phone, Name: "Sari"})
	require.NoError(t, err)
	conv, err := h.repo.FindLatestConversation(ctx, h.biz.ID, customer.ID, repo.ChannelWhatsApp)
	require.NoError(t, err)
	msgs, err := h.repo.ListRecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, repo.RoleCustomer, m.Role)
	}

	h.drain(t)
	assert.Len(t, h.events.named(events.NewMessage), 2)
	assert.Len(t, h.events.named(events.ConversationUpdate), 2)
	assert.Empty(t, h.sender.texts())
}
