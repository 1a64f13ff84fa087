package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repo: not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("repo: duplicate")
	// ErrReferenced is returned when a delete is blocked by a foreign key.
	ErrReferenced = errors.New("repo: referenced")
	// ErrStaleState is returned when a conditional update matched no row in the expected state.
	ErrStaleState = errors.New("repo: stale state")
)

// Repository defines the interface for data persistence.
type Repository interface {
	Queries

	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// WithTx runs fn inside one transaction. fn must only use the Queries it receives.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

// Queries is the set of statements usable both on the pool and inside a transaction.
type Queries interface {
	// Businesses & customers
	GetBusiness(ctx context.Context, id string) (*Business, error)
	GetCustomer(ctx context.Context, businessID, id string) (*Customer, error)
	UpsertCustomerByPhone(ctx context.Context, profile CustomerProfile) (*Customer, error)
	ListProductsByIDs(ctx context.Context, businessID string, ids []string) ([]Product, error)

	// Orders
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	InsertOrderItem(ctx context.Context, item OrderItem) (*OrderItem, error)
	GetOrder(ctx context.Context, businessID, id string) (*Order, error)
	GetOrderByID(ctx context.Context, id string) (*Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
	ListOrders(ctx context.Context, businessID string, filter OrderFilter) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) error
	DeleteOrder(ctx context.Context, businessID, id string) error

	// Payments
	InsertPayment(ctx context.Context, payment Payment) (*Payment, error)
	GetPayment(ctx context.Context, businessID, id string) (*Payment, error)
	DecidePayment(ctx context.Context, decision PaymentDecision) (*Payment, error)
	ListPayments(ctx context.Context, businessID string, filter PaymentFilter) ([]Payment, error)

	// Couriers
	GetDeliveryPerson(ctx context.Context, businessID, id string) (*DeliveryPerson, error)
	ListDeliveryPersons(ctx context.Context, businessID string, availableOnly bool) ([]DeliveryPerson, error)
	SetDeliveryPersonAvailable(ctx context.Context, id string, available bool) error
	RecordCompletedDelivery(ctx context.Context, id string) error
	ApplyDeliveryRating(ctx context.Context, id string, rating int) (*DeliveryPerson, error)

	// Delivery orders & ratings
	InsertDeliveryOrder(ctx context.Context, delivery DeliveryOrder) (*DeliveryOrder, error)
	GetDeliveryOrderByOrderID(ctx context.Context, orderID string) (*DeliveryOrder, error)
	TransitionDeliveryOrder(ctx context.Context, tr DeliveryTransition) (*DeliveryOrder, error)
	ReassignDeliveryOrder(ctx context.Context, delivery DeliveryOrder) (*DeliveryOrder, error)
	InsertDeliveryRating(ctx context.Context, rating DeliveryRating) (*DeliveryRating, error)
	GetDeliveryRating(ctx context.Context, deliveryOrderID string) (*DeliveryRating, error)

	// Conversations
	FindLatestConversation(ctx context.Context, businessID, customerID, channel string) (*Conversation, error)
	InsertConversation(ctx context.Context, conv Conversation) (*Conversation, error)
	InsertMessage(ctx context.Context, msg Message) (*Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Outbox
	InsertOutboxEvent(ctx context.Context, ev OutboxEvent) error
	ClaimOutboxEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxEvent, error)
	CompleteOutboxEvent(ctx context.Context, id int64, at time.Time) error
	RetryOutboxEvent(ctx context.Context, id int64, next time.Time, lastErr string) error
	ParkOutboxEvent(ctx context.Context, id int64, at time.Time, lastErr string) error

	// Chat channel sessions
	UpsertChannelSession(ctx context.Context, session ChannelSession) error
	ListChannelSessions(ctx context.Context) ([]ChannelSession, error)
}
