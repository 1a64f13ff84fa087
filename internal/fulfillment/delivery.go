package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"toko/internal/apperr"
	"toko/internal/outbox"
	"toko/internal/repo"
)

// RateInput is a customer's rating of a completed delivery.
type RateInput struct {
	OrderID          string  `json:"orderId"`
	DeliveryPersonID string  `json:"deliveryPersonId,omitempty"`
	Rating           int     `json:"rating"`
	Comment          *string `json:"comment,omitempty"`
}

// DeliveryService assigns couriers and drives deliveries to completion.
type DeliveryService struct {
	deps   Deps
	logger *slog.Logger
	newOTP func() (string, error)
}

// NewDeliveryService wires a delivery dispatch service.
func NewDeliveryService(d Deps) *DeliveryService {
	d = d.withDefaults()
	return &DeliveryService{deps: d, logger: d.Logger.With("component", "delivery"), newOTP: newOTP}
}

// Assign creates the delivery order of an order, ships the order and reserves the courier.
// A FAILED delivery is reassigned with a new courier and code; any other existing delivery is a Conflict.
func (s *DeliveryService) Assign(ctx context.Context, tenantID, orderID, deliveryPersonID string, notes *string) (*repo.DeliveryOrder, error) {
	if err := requireID(deliveryPersonID, "deliveryPersonId"); err != nil {
		return nil, err
	}
	otp, err := s.newOTP()
	if err != nil {
		return nil, apperr.Internal("assign delivery", err)
	}

	var created *repo.DeliveryOrder
	err = s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		order, err := q.GetOrder(ctx, tenantID, orderID)
		if err != nil {
			return lookupErr(err, "order")
		}
		courier, err := q.GetDeliveryPerson(ctx, tenantID, deliveryPersonID)
		if err != nil {
			return lookupErr(err, "delivery person")
		}
		existing, err := q.GetDeliveryOrderByOrderID(ctx, order.ID)
		switch {
		case err == nil && existing.Status != repo.DeliveryFailed:
			return apperr.Conflict("order already has a delivery")
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return err
		}
		biz, err := q.GetBusiness(ctx, tenantID)
		if err != nil {
			return lookupErr(err, "business")
		}

		next := repo.DeliveryOrder{
			BusinessID:        tenantID,
			OrderID:           order.ID,
			DeliveryPersonID:  courier.ID,
			Status:            repo.DeliveryAssigned,
			PickupAddress:     biz.StoreAddress,
			PickupLatitude:    biz.StoreLatitude,
			PickupLongitude:   biz.StoreLongitude,
			DeliveryAddress:   order.DeliveryAddress,
			DeliveryLatitude:  order.DeliveryLatitude,
			DeliveryLongitude: order.DeliveryLongitude,
			FeeCents:          order.ShippingCostCents,
			OTPCode:           otp,
			Notes:             notes,
		}
		var delivery *repo.DeliveryOrder
		if existing != nil {
			// A failed delivery is reopened in place; the order keeps one delivery row.
			next.ID = existing.ID
			delivery, err = q.ReassignDeliveryOrder(ctx, next)
			if errors.Is(err, repo.ErrStaleState) {
				return apperr.Conflict("order already has a delivery")
			}
		} else {
			delivery, err = q.InsertDeliveryOrder(ctx, next)
		}
		if errors.Is(err, repo.ErrDuplicate) {
			return apperr.Conflict("order already has a delivery")
		}
		if err != nil {
			return err
		}
		if err := q.UpdateOrderStatus(ctx, order.ID, repo.OrderShipped); err != nil {
			return err
		}
		if err := q.SetDeliveryPersonAvailable(ctx, courier.ID, false); err != nil {
			return err
		}
		if err := outbox.NotifyStatus(ctx, q, order.ID, repo.OrderShipped); err != nil {
			return err
		}
		created = delivery
		return nil
	})
	if err != nil {
		return nil, txErr(err, "assign delivery")
	}

	s.deps.kick()
	s.deps.Metrics.OrderStatusChanges.WithLabelValues(string(repo.OrderShipped)).Inc()
	s.logger.Info("delivery assigned", "tenant", tenantID, "order_id", orderID, "delivery_id", created.ID, "delivery_person_id", deliveryPersonID)
	return created, nil
}

// PickUp records that the courier collected the parcel.
func (s *DeliveryService) PickUp(ctx context.Context, tenantID, orderID, deliveryPersonID string) (*repo.DeliveryOrder, error) {
	var updated *repo.DeliveryOrder
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		current, err := s.loadOwned(ctx, q, tenantID, orderID, deliveryPersonID)
		if err != nil {
			return err
		}
		if current.Status != repo.DeliveryAssigned {
			return apperr.Conflict(fmt.Sprintf("delivery is %s, not %s", current.Status, repo.DeliveryAssigned))
		}
		updated, err = transition(ctx, q, repo.DeliveryTransition{
			ID:   current.ID,
			From: []repo.DeliveryStatus{repo.DeliveryAssigned},
			To:   repo.DeliveryPickedUp,
			At:   s.deps.Now(),
		})
		return err
	})
	if err != nil {
		return nil, txErr(err, "pick up delivery")
	}
	s.logger.Info("delivery picked up", "tenant", tenantID, "order_id", orderID, "delivery_id", updated.ID)
	return updated, nil
}

// Fail closes an open delivery with a reason and frees the courier. The order keeps its status.
func (s *DeliveryService) Fail(ctx context.Context, tenantID, orderID, deliveryPersonID, reason string) (*repo.DeliveryOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}

	var updated *repo.DeliveryOrder
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		current, err := s.loadOwned(ctx, q, tenantID, orderID, deliveryPersonID)
		if err != nil {
			return err
		}
		if current.Status == repo.DeliveryDelivered || current.Status == repo.DeliveryFailed {
			return apperr.Conflict(fmt.Sprintf("delivery already %s", current.Status))
		}
		updated, err = transition(ctx, q, repo.DeliveryTransition{
			ID:     current.ID,
			From:   []repo.DeliveryStatus{repo.DeliveryAssigned, repo.DeliveryPickedUp},
			To:     repo.DeliveryFailed,
			At:     s.deps.Now(),
			Reason: &reason,
		})
		if err != nil {
			return err
		}
		return q.SetDeliveryPersonAvailable(ctx, current.DeliveryPersonID, true)
	})
	if err != nil {
		return nil, txErr(err, "fail delivery")
	}
	s.logger.Warn("delivery failed", "tenant", tenantID, "order_id", orderID, "delivery_id", updated.ID, "reason", reason)
	return updated, nil
}

// ConfirmOTP completes a delivery when the customer's one-time code matches.
// An empty deliveryPersonID skips the courier check.
func (s *DeliveryService) ConfirmOTP(ctx context.Context, tenantID, orderID, code, deliveryPersonID string) (*repo.DeliveryOrder, error) {
	var updated *repo.DeliveryOrder
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		current, err := s.loadOwned(ctx, q, tenantID, orderID, deliveryPersonID)
		if err != nil {
			return err
		}
		switch current.Status {
		case repo.DeliveryDelivered:
			return apperr.Conflict("delivery already completed")
		case repo.DeliveryFailed:
			return apperr.Conflict("delivery has failed")
		}
		if !otpMatches(current.OTPCode, strings.TrimSpace(code)) {
			return apperr.Validation("invalid OTP")
		}

		updated, err = transition(ctx, q, repo.DeliveryTransition{
			ID:   current.ID,
			From: []repo.DeliveryStatus{repo.DeliveryAssigned, repo.DeliveryPickedUp},
			To:   repo.DeliveryDelivered,
			At:   s.deps.Now(),
		})
		if err != nil {
			return err
		}
		if err := q.UpdateOrderStatus(ctx, current.OrderID, repo.OrderDelivered); err != nil {
			return err
		}
		if err := q.RecordCompletedDelivery(ctx, current.DeliveryPersonID); err != nil {
			return err
		}
		return outbox.NotifyStatus(ctx, q, current.OrderID, repo.OrderDelivered)
	})
	if err != nil {
		return nil, txErr(err, "confirm delivery")
	}

	s.deps.kick()
	s.deps.Metrics.DeliveriesCompleted.Inc()
	s.deps.Metrics.OrderStatusChanges.WithLabelValues(string(repo.OrderDelivered)).Inc()
	s.logger.Info("delivery confirmed", "tenant", tenantID, "order_id", orderID, "delivery_id", updated.ID)
	return updated, nil
}

// Rate stores the single rating of a delivery and folds it into the courier average.
func (s *DeliveryService) Rate(ctx context.Context, in RateInput) (*repo.DeliveryRating, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, apperr.Validation("rating must be between 1 and 5")
	}
	if err := requireID(in.OrderID, "orderId"); err != nil {
		return nil, err
	}

	var created *repo.DeliveryRating
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		delivery, err := q.GetDeliveryOrderByOrderID(ctx, in.OrderID)
		if err != nil {
			return lookupErr(err, "delivery order")
		}
		if in.DeliveryPersonID != "" && in.DeliveryPersonID != delivery.DeliveryPersonID {
			return apperr.Validation("deliveryPersonId does not match the delivery")
		}
		if delivery.Status != repo.DeliveryDelivered {
			return apperr.Conflict(fmt.Sprintf("delivery is %s and cannot be rated yet", delivery.Status))
		}
		if _, err := q.GetDeliveryRating(ctx, delivery.ID); err == nil {
			return apperr.Conflict("delivery already rated")
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		order, err := q.GetOrderByID(ctx, delivery.OrderID)
		if err != nil {
			return lookupErr(err, "order")
		}

		rating, err := q.InsertDeliveryRating(ctx, repo.DeliveryRating{
			DeliveryOrderID:  delivery.ID,
			DeliveryPersonID: delivery.DeliveryPersonID,
			CustomerID:       order.CustomerID,
			Rating:           in.Rating,
			Comment:          in.Comment,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			return apperr.Conflict("delivery already rated")
		}
		if err != nil {
			return err
		}
		if _, err := q.ApplyDeliveryRating(ctx, delivery.DeliveryPersonID, in.Rating); err != nil {
			return err
		}
		created = rating
		return nil
	})
	if err != nil {
		return nil, txErr(err, "rate delivery")
	}

	s.deps.Metrics.RatingsSubmitted.Inc()
	s.logger.Info("delivery rated", "delivery_id", created.DeliveryOrderID, "delivery_person_id", created.DeliveryPersonID, "rating", created.Rating)
	return created, nil
}

// Get returns the delivery order of an order.
func (s *DeliveryService) Get(ctx context.Context, tenantID, orderID string) (*repo.DeliveryOrder, error) {
	d, err := s.deps.Repo.GetDeliveryOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupErr(err, "delivery order")
	}
	if d.BusinessID != tenantID {
		return nil, apperr.NotFound("delivery order")
	}
	return d, nil
}

// ListPersons returns the tenant's couriers.
func (s *DeliveryService) ListPersons(ctx context.Context, tenantID string, availableOnly bool) ([]repo.DeliveryPerson, error) {
	persons, err := s.deps.Repo.ListDeliveryPersons(ctx, tenantID, availableOnly)
	if err != nil {
		return nil, apperr.Internal("list delivery persons", err)
	}
	return persons, nil
}

// loadOwned fetches the tenant's delivery order and checks the acting courier when one is given.
func (s *DeliveryService) loadOwned(ctx context.Context, q repo.Queries, tenantID, orderID, deliveryPersonID string) (*repo.DeliveryOrder, error) {
	d, err := q.GetDeliveryOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupErr(err, "delivery order")
	}
	if d.BusinessID != tenantID {
		return nil, apperr.NotFound("delivery order")
	}
	if deliveryPersonID != "" && d.DeliveryPersonID != deliveryPersonID {
		return nil, apperr.Forbidden("delivery is assigned to another courier")
	}
	return d, nil
}

func transition(ctx context.Context, q repo.Queries, tr repo.DeliveryTransition) (*repo.DeliveryOrder, error) {
	d, err := q.TransitionDeliveryOrder(ctx, tr)
	if errors.Is(err, repo.ErrStaleState) {
		return nil, apperr.Conflict(fmt.Sprintf("delivery can no longer move to %s", tr.To))
	}
	return d, err
}
