package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"toko/internal/apperr"
	"toko/internal/events"
	"toko/internal/outbox"
	"toko/internal/repo"
)

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID string        `json:"productId"`
	Quantity  int           `json:"quantity"`
	Variant   repo.Document `json:"variant,omitempty"`
}

// CreateOrderInput is the checkout request.
type CreateOrderInput struct {
	CustomerID        string              `json:"customerId"`
	Items             []ItemInput         `json:"items"`
	PaymentMethod     string              `json:"paymentMethod"`
	ExchangeRate      decimal.NullDecimal `json:"exchangeRate"`
	DeliveryAddress   *string             `json:"deliveryAddress,omitempty"`
	DeliveryLatitude  *float64            `json:"deliveryLatitude,omitempty"`
	DeliveryLongitude *float64            `json:"deliveryLongitude,omitempty"`
	ShippingCostCents int64               `json:"shippingCostCents"`
	Notes             *string             `json:"notes,omitempty"`
}

func (in CreateOrderInput) validate() error {
	if err := requireID(in.CustomerID, "customerId"); err != nil {
		return err
	}
	if len(in.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	for i, it := range in.Items {
		if it.ProductID == "" {
			return apperr.Validation("items[%d].productId is required", i)
		}
		if it.Quantity <= 0 {
			return apperr.Validation("items[%d].quantity must be positive", i)
		}
	}
	if in.ShippingCostCents < 0 {
		return apperr.Validation("shippingCostCents must not be negative")
	}
	if in.ExchangeRate.Valid && !in.ExchangeRate.Decimal.IsPositive() {
		return apperr.Validation("exchangeRate must be positive")
	}
	return nil
}

// orderTotal sums unit price times quantity, refusing totals that do not fit in int64.
func orderTotal(items []ItemInput, prices map[string]int64) (int64, error) {
	var total int64
	for i, it := range items {
		unit, qty := prices[it.ProductID], int64(it.Quantity)
		if unit > 0 && qty > math.MaxInt64/unit {
			return 0, apperr.Validation("items[%d]: quantity %d is too large", i, it.Quantity)
		}
		line := unit * qty
		if total > math.MaxInt64-line {
			return 0, apperr.Validation("order total is too large")
		}
		total += line
	}
	return total, nil
}

// OrderService creates orders and moves them through their statuses.
type OrderService struct {
	deps   Deps
	logger *slog.Logger
}

// NewOrderService wires an order service.
func NewOrderService(d Deps) *OrderService {
	d = d.withDefaults()
	return &OrderService{deps: d, logger: d.Logger.With("component", "orders")}
}

// Create snapshots product prices, stores the order with its items and records a new_order event.
func (s *OrderService) Create(ctx context.Context, tenantID string, in CreateOrderInput) (*repo.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var created *repo.Order
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		biz, err := q.GetBusiness(ctx, tenantID)
		if err != nil {
			return lookupErr(err, "business")
		}
		customer, err := q.GetCustomer(ctx, tenantID, in.CustomerID)
		if err != nil {
			return lookupErr(err, "customer")
		}

		prices, err := resolvePrices(ctx, q, tenantID, in.Items)
		if err != nil {
			return err
		}

		total, err := orderTotal(in.Items, prices)
		if err != nil {
			return err
		}

		order, err := q.InsertOrder(ctx, repo.Order{
			BusinessID:        tenantID,
			CustomerID:        customer.ID,
			Status:            repo.OrderPending,
			TotalCents:        total,
			ExchangeRate:      in.ExchangeRate,
			PaymentMethod:     in.PaymentMethod,
			DeliveryAddress:   in.DeliveryAddress,
			DeliveryLatitude:  in.DeliveryLatitude,
			DeliveryLongitude: in.DeliveryLongitude,
			ShippingCostCents: in.ShippingCostCents,
			Notes:             in.Notes,
		})
		if err != nil {
			return err
		}
		for _, it := range in.Items {
			item, err := q.InsertOrderItem(ctx, repo.OrderItem{
				OrderID:        order.ID,
				ProductID:      it.ProductID,
				Quantity:       it.Quantity,
				UnitPriceCents: prices[it.ProductID],
				Variant:        it.Variant,
			})
			if err != nil {
				return err
			}
			order.Items = append(order.Items, *item)
		}
		order.Customer = customer

		if err := outbox.Broadcast(ctx, q, tenantID, events.NewOrder, order); err != nil {
			return err
		}
		if err := outbox.InvalidateCatalog(ctx, q, biz.Slug); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, txErr(err, "create order")
	}

	s.deps.kick()
	s.deps.Metrics.OrdersCreated.Inc()
	s.logger.Info("order created", "tenant", tenantID, "order_id", created.ID, "total_cents", created.TotalCents, "items", len(created.Items))
	return created, nil
}

// resolvePrices returns the current price of every distinct requested product.
// Any product that is missing, deleted or owned by another tenant fails the whole order.
func resolvePrices(ctx context.Context, q repo.Queries, tenantID string, items []ItemInput) (map[string]int64, error) {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}

	products, err := q.ListProductsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	if len(products) != len(ids) {
		return nil, apperr.Validation("one or more products are unavailable")
	}

	prices := make(map[string]int64, len(products))
	for _, p := range products {
		prices[p.ID] = p.PriceCents
	}
	return prices, nil
}

// UpdateStatus overwrites the order status and records a customer notification.
func (s *OrderService) UpdateStatus(ctx context.Context, tenantID, orderID string, status repo.OrderStatus) (*repo.Order, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown order status %q", status)
	}

	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		if _, err := q.GetOrder(ctx, tenantID, orderID); err != nil {
			return lookupErr(err, "order")
		}
		if err := q.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		return outbox.NotifyStatus(ctx, q, orderID, status)
	})
	if err != nil {
		return nil, txErr(err, "update order status")
	}

	s.deps.kick()
	s.deps.Metrics.OrderStatusChanges.WithLabelValues(string(status)).Inc()
	s.logger.Info("order status updated", "tenant", tenantID, "order_id", orderID, "status", status)
	return s.Get(ctx, tenantID, orderID)
}

// Delete removes an order and its items.
func (s *OrderService) Delete(ctx context.Context, tenantID, orderID string) error {
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		if _, err := q.GetOrder(ctx, tenantID, orderID); err != nil {
			return lookupErr(err, "order")
		}
		biz, err := q.GetBusiness(ctx, tenantID)
		if err != nil {
			return lookupErr(err, "business")
		}
		if err := q.DeleteOrder(ctx, tenantID, orderID); err != nil {
			if errors.Is(err, repo.ErrReferenced) {
				return apperr.Conflict("order has payments or a delivery and cannot be deleted")
			}
			return err
		}
		return outbox.InvalidateCatalog(ctx, q, biz.Slug)
	})
	if err != nil {
		return txErr(err, "delete order")
	}

	s.deps.kick()
	s.logger.Info("order deleted", "tenant", tenantID, "order_id", orderID)
	return nil
}

// Get returns an order with its items and customer.
func (s *OrderService) Get(ctx context.Context, tenantID, orderID string) (*repo.Order, error) {
	order, err := s.deps.Repo.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, lookupErr(err, "order")
	}
	if err := loadRelations(ctx, s.deps.Repo, order); err != nil {
		return nil, apperr.Internal("load order relations", err)
	}
	return order, nil
}

// List returns the newest orders of the tenant.
func (s *OrderService) List(ctx context.Context, tenantID string, filter repo.OrderFilter) ([]repo.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("unknown order status %q", filter.Status)
	}
	orders, err := s.deps.Repo.ListOrders(ctx, tenantID, filter)
	if err != nil {
		return nil, apperr.Internal("list orders", err)
	}
	return orders, nil
}

func loadRelations(ctx context.Context, q repo.Queries, order *repo.Order) error {
	items, err := q.ListOrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Items = items
	customer, err := q.GetCustomer(ctx, order.BusinessID, order.CustomerID)
	if err != nil {
		return err
	}
	order.Customer = customer
	return nil
}
