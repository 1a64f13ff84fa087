package fulfillment_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toko/internal/apperr"
	"toko/internal/fulfillment"
	"toko/internal/repo"
	"toko/internal/repo/repotest"
)

var sixDigits = regexp.MustCompile(`^\d{6}$`)

func TestAssignShipsOrderAndReservesCourier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 2)

	d, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, strPtr("fragile"))
	require.NoError(t, err)
	assert.Equal(t, repo.DeliveryAssigned, d.Status)
	assert.EqualValues(t, 1500, d.FeeCents)
	assert.Equal(t, *h.biz.StoreAddress, *d.PickupAddress)
	assert.Equal(t, "Jl. Sudirman 5", *d.DeliveryAddress)

	stored, err := h.repo.GetDeliveryOrderByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Regexp(t, sixDigits, stored.OTPCode)

	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderShipped, got.Status)

	courier, err := h.repo.GetDeliveryPerson(ctx, h.biz.ID, h.courier.ID)
	require.NoError(t, err)
	assert.False(t, courier.IsAvailable)

	h.drain(t)
	texts := h.sender.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "has been shipped")
	assert.Contains(t, texts[0], stored.OTPCode)

	_, err = h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
}

func TestAssignRequiresTenantOrderAndCourier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	other := repotest.Business(t, h.repo, "other")
	foreignCourier := repotest.DeliveryPerson(t, h.repo, other.ID, "Joko")

	_, err := h.deliveries.Assign(ctx, h.biz.ID, "missing", h.courier.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.deliveries.Assign(ctx, h.biz.ID, order.ID, foreignCourier.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.deliveries.Assign(ctx, other.ID, order.ID, foreignCourier.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestConfirmOTPGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	_, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	require.NoError(t, err)
	stored, err := h.repo.GetDeliveryOrderByOrderID(ctx, order.ID)
	require.NoError(t, err)
	other := repotest.DeliveryPerson(t, h.repo, h.biz.ID, "Joko")

	_, err = h.deliveries.ConfirmOTP(ctx, h.biz.ID, "missing", stored.OTPCode, "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.deliveries.ConfirmOTP(ctx, h.biz.ID, order.ID, stored.OTPCode, other.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	wrong := "000000"
	if stored.OTPCode == wrong {
		wrong = "111111"
	}
	_, err = h.deliveries.ConfirmOTP(ctx, h.biz.ID, order.ID, wrong, h.courier.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	unchanged, err := h.deliveries.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.DeliveryAssigned, unchanged.Status)
	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderShipped, got.Status)
}

func TestConfirmOTPCompletesDeliveryOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	_, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	require.NoError(t, err)
	stored, err := h.repo.GetDeliveryOrderByOrderID(ctx, order.ID)
	require.NoError(t, err)
	h.drain(t)

	done, err := h.deliveries.ConfirmOTP(ctx, h.biz.ID, order.ID, stored.OTPCode, h.courier.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.DeliveryDelivered, done.Status)
	assert.NotNil(t, done.DeliveredAt)

	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderDelivered, got.Status)

	courier, err := h.repo.GetDeliveryPerson(ctx, h.biz.ID, h.courier.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, courier.CompletedOrders)
	assert.Equal(t, 1, courier.TotalDeliveries)
	assert.True(t, courier.IsAvailable)

	_, err = h.deliveries.ConfirmOTP(ctx, h.biz.ID, order.ID, stored.OTPCode, h.courier.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	courier, err = h.repo.GetDeliveryPerson(ctx, h.biz.ID, h.courier.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, courier.CompletedOrders)

	h.drain(t)
	texts := h.sender.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], ratingBaseURL+"/rate/"+done.ID)
}

func TestPickUpThenFail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	_, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	require.NoError(t, err)

	picked, err := h.deliveries.PickUp(ctx, h.biz.ID, order.ID, h.courier.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.DeliveryPickedUp, picked.Status)
	assert.NotNil(t, picked.PickedUpAt)

	_, err = h.deliveries.PickUp(ctx, h.biz.ID, order.ID, h.courier.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = h.deliveries.Fail(ctx, h.biz.ID, order.ID, h.courier.ID, "  ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	failed, err := h.deliveries.Fail(ctx, h.biz.ID, order.ID, h.courier.ID, "customer unreachable")
	require.NoError(t, err)
	assert.Equal(t, repo.DeliveryFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "customer unreachable", *failed.FailureReason)
	assert.NotNil(t, failed.FailedAt)

	courier, err := h.repo.GetDeliveryPerson(ctx, h.biz.ID, h.courier.ID)
	require.NoError(t, err)
	assert.True(t, courier.IsAvailable)
	assert.Zero(t, courier.CompletedOrders)

	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderShipped, got.Status)

	stored, err := h.repo.GetDeliveryOrderByOrderID(ctx, order.ID)
	require.NoError(t, err)
	_, err = h.deliveries.ConfirmOTP(ctx, h.biz.ID, order.ID, stored.OTPCode, h.courier.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestFailedDeliveryCanBeReassigned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	first, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	require.NoError(t, err)
	_, err = h.deliveries.Fail(ctx, h.biz.ID, order.ID, h.courier.ID, "motorbike broke down")
	require.NoError(t, err)

	backup := repotest.DeliveryPerson(t, h.repo, h.biz.ID, "Joko")
	second, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, backup.ID, strPtr("second attempt"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, backup.ID, second.DeliveryPersonID)
	assert.Equal(t, repo.DeliveryAssigned, second.Status)
	assert.Nil(t, second.FailedAt)
	assert.Nil(t, second.FailureReason)
	assert.Regexp(t, sixDigits, second.OTPCode)

	_, err = h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	stored, err := h.repo.GetDeliveryOrderByOrderID(ctx, order.ID)
	require.NoError(t, err)
	_, err = h.deliveries.ConfirmOTP(ctx, h.biz.ID, order.ID, stored.OTPCode, h.courier.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	done, err := h.deliveries.ConfirmOTP(ctx, h.biz.ID, order.ID, stored.OTPCode, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.DeliveryDelivered, done.Status)

	got, err := h.orders.Get(ctx, h.biz.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.OrderDelivered, got.Status)

	courier, err := h.repo.GetDeliveryPerson(ctx, h.biz.ID, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, courier.CompletedOrders)
	assert.True(t, courier.IsAvailable)
}

func TestRateRequiresCompletedDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	_, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	require.NoError(t, err)

	_, err = h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: 5})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = h.deliveries.Fail(ctx, h.biz.ID, order.ID, h.courier.ID, "address not found")
	require.NoError(t, err)
	_, err = h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: 1})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	courier, err := h.repo.GetDeliveryPerson(ctx, h.biz.ID, h.courier.ID)
	require.NoError(t, err)
	assert.Zero(t, courier.RatingCount)
}

func TestRateAveragesIncrementally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, r := range []int{5, 3, 4} {
		order := h.placeOrder(t, 1000, 1)
		h.deliver(t, order.ID, h.courier)
		rating, err := h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: r})
		require.NoError(t, err)
		assert.Equal(t, h.customer.ID, rating.CustomerID)
	}

	courier, err := h.repo.GetDeliveryPerson(ctx, h.biz.ID, h.courier.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, courier.RatingCount)
	assert.EqualValues(t, 12, courier.RatingSum)
	assert.Equal(t, 4.0, courier.AverageRating)
}

func TestRateTwiceKeepsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)
	d := h.deliver(t, order.ID, h.courier)

	_, err := h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: 5, Comment: strPtr("fast")})
	require.NoError(t, err)
	_, err = h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: 1})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	stored, err := h.repo.GetDeliveryRating(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Rating)

	courier, err := h.repo.GetDeliveryPerson(ctx, h.biz.ID, h.courier.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, courier.RatingCount)
	assert.Equal(t, 5.0, courier.AverageRating)
}

func TestRateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, 1000, 1)

	for _, r := range []int{0, 6, -1} {
		_, err := h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: r})
		assert.True(t, apperr.Is(err, apperr.KindValidation), "rating %d", r)
	}

	_, err := h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: 4})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	h.deliver(t, order.ID, h.courier)
	_, err = h.deliveries.Rate(ctx, fulfillment.RateInput{OrderID: order.ID, Rating: 4, DeliveryPersonID: "someone-else"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListPersons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repotest.DeliveryPerson(t, h.repo, h.biz.ID, "Joko")
	order := h.placeOrder(t, 1000, 1)
	_, err := h.deliveries.Assign(ctx, h.biz.ID, order.ID, h.courier.ID, nil)
	require.NoError(t, err)

	all, err := h.deliveries.ListPersons(ctx, h.biz.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	free, err := h.deliveries.ListPersons(ctx, h.biz.ID, true)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "Joko", free[0].Name)
}
