package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderPreparing OrderStatus = "PREPARING"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderPreparing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// PaymentStatus is the verification state of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentVerified PaymentStatus = "VERIFIED"
	PaymentRejected PaymentStatus = "REJECTED"
)

// DeliveryStatus is the state of a courier assignment.
type DeliveryStatus string

const (
	DeliveryAssigned  DeliveryStatus = "ASSIGNED"
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleCustomer MessageRole = "CUSTOMER"
	RoleBot      MessageRole = "BOT"
	RoleAgent    MessageRole = "AGENT"
)

// ChannelWhatsApp is the conversation channel of the external chat integration.
const ChannelWhatsApp = "whatsapp"

// Business is the read-only view of a tenant and its store location.
type Business struct {
	ID             string
	Slug           string
	Name           string
	StoreAddress   *string
	StoreLatitude  *float64
	StoreLongitude *float64
	CreatedAt      time.Time
}

// Customer represents a buyer of one business.
type Customer struct {
	ID          string    `json:"id"`
	BusinessID  string    `json:"businessId"`
	Name        string    `json:"name"`
	Phone       *string   `json:"phone,omitempty"`
	Preferences Document  `json:"preferences,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CustomerProfile carries data used to upsert a customer from the chat channel.
type CustomerProfile struct {
	BusinessID string
	Phone      string
	Name       string
}

// Product is the read-only catalog entry referenced by order items.
type Product struct {
	ID         string
	BusinessID string
	Name       string
	PriceCents int64
}

// Order represents a row in orders table.
type Order struct {
	ID                string              `json:"id"`
	BusinessID        string              `json:"businessId"`
	CustomerID        string              `json:"customerId"`
	Status            OrderStatus         `json:"status"`
	TotalCents        int64               `json:"totalCents"`
	ExchangeRate      decimal.NullDecimal `json:"exchangeRate"`
	PaymentMethod     string              `json:"paymentMethod"`
	DeliveryAddress   *string             `json:"deliveryAddress,omitempty"`
	DeliveryLatitude  *float64            `json:"deliveryLatitude,omitempty"`
	DeliveryLongitude *float64            `json:"deliveryLongitude,omitempty"`
	ShippingCostCents int64               `json:"shippingCostCents"`
	Notes             *string             `json:"notes,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`

	Items    []OrderItem `json:"items,omitempty"`
	Customer *Customer   `json:"customer,omitempty"`
}

// OrderItem is one line of an order with the price captured at checkout.
type OrderItem struct {
	ID             string   `json:"id"`
	OrderID        string   `json:"orderId"`
	ProductID      string   `json:"productId"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unitPriceCents"`
	Variant        Document `json:"variant,omitempty"`
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	Status     OrderStatus
	CustomerID string
	Limit      int
	Offset     int
}

// Payment represents a payment attempt against an order.
type Payment struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"orderId"`
	Method      string        `json:"method"`
	Reference   *string       `json:"reference,omitempty"`
	ProofURL    *string       `json:"proofUrl,omitempty"`
	AmountCents int64         `json:"amountCents"`
	Status      PaymentStatus `json:"status"`
	VerifiedBy  *string       `json:"verifiedBy,omitempty"`
	VerifiedAt  *time.Time    `json:"verifiedAt,omitempty"`
	Notes       *string       `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// PaymentFilter narrows ListPayments.
type PaymentFilter struct {
	Status  PaymentStatus
	OrderID string
}

// PaymentDecision moves a payment out of From. Zero affected rows yields ErrStaleState.
type PaymentDecision struct {
	ID         string
	From       PaymentStatus
	To         PaymentStatus
	VerifiedBy string
	VerifiedAt time.Time
	Notes      *string
}

// DeliveryPerson is a courier with aggregate delivery counters.
type DeliveryPerson struct {
	ID              string    `json:"id"`
	BusinessID      string    `json:"businessId"`
	Name            string    `json:"name"`
	Phone           *string   `json:"phone,omitempty"`
	IsAvailable     bool      `json:"isAvailable"`
	CompletedOrders int       `json:"completedOrders"`
	TotalDeliveries int       `json:"totalDeliveries"`
	RatingCount     int       `json:"ratingCount"`
	RatingSum       int64     `json:"ratingSum"`
	AverageRating   float64   `json:"averageRating"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DeliveryOrder is the courier assignment of exactly one order.
type DeliveryOrder struct {
	ID                string         `json:"id"`
	BusinessID        string         `json:"businessId"`
	OrderID           string         `json:"orderId"`
	DeliveryPersonID  string         `json:"deliveryPersonId"`
	Status            DeliveryStatus `json:"status"`
	PickupAddress     *string        `json:"pickupAddress,omitempty"`
	PickupLatitude    *float64       `json:"pickupLatitude,omitempty"`
	PickupLongitude   *float64       `json:"pickupLongitude,omitempty"`
	DeliveryAddress   *string        `json:"deliveryAddress,omitempty"`
	DeliveryLatitude  *float64       `json:"deliveryLatitude,omitempty"`
	DeliveryLongitude *float64       `json:"deliveryLongitude,omitempty"`
	FeeCents          int64          `json:"feeCents"`
	OTPCode           string         `json:"-"`
	Notes             *string        `json:"notes,omitempty"`
	PickedUpAt        *time.Time     `json:"pickedUpAt,omitempty"`
	DeliveredAt       *time.Time     `json:"deliveredAt,omitempty"`
	FailedAt          *time.Time     `json:"failedAt,omitempty"`
	FailureReason     *string        `json:"failureReason,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// DeliveryTransition moves a delivery order from one of From to To, stamping the matching timestamp.
type DeliveryTransition struct {
	ID     string
	From   []DeliveryStatus
	To     DeliveryStatus
	At     time.Time
	Reason *string
}

// DeliveryRating is the single customer rating of a delivery order.
type DeliveryRating struct {
	ID               string    `json:"id"`
	DeliveryOrderID  string    `json:"deliveryOrderId"`
	DeliveryPersonID string    `json:"deliveryPersonId"`
	CustomerID       string    `json:"customerId"`
	Rating           int       `json:"rating"`
	Comment          *string   `json:"comment,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Conversation groups messages exchanged with one customer on one channel.
type Conversation struct {
	ID            string     `json:"id"`
	BusinessID    string     `json:"businessId"`
	CustomerID    string     `json:"customerId"`
	Channel       string     `json:"channel"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Message is one entry of a conversation log.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// OutboxEvent is a side effect recorded in the same transaction as the write that caused it.
type OutboxEvent struct {
	ID          int64
	Kind        string
	Payload     []byte
	Attempts    int
	AvailableAt time.Time
	ProcessedAt *time.Time
	LastError   *string
	CreatedAt   time.Time
}

// ChannelSession is the persisted chat connection state of one tenant.
type ChannelSession struct {
	BusinessID string
	DeviceJID  string
	Status     string
	UpdatedAt  time.Time
}
