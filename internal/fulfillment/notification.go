package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"toko/internal/apperr"
	"toko/internal/events"
	"toko/internal/outbox"
	"toko/internal/repo"
)

// Sender delivers a text message to a customer over the chat channel of a tenant.
type Sender interface {
	SendText(ctx context.Context, tenantID, phone, text string) error
}

// InboundMessage is a text received from a customer on the chat channel.
type InboundMessage struct {
	TenantID    string
	Phone       string
	DisplayName string
	Text        string
}

// NotificationService keeps customers informed about their orders over chat.
type NotificationService struct {
	deps          Deps
	sender        Sender
	ratingBaseURL string
	logger        *slog.Logger
}

// NewNotificationService wires a notification service. A nil sender persists messages without sending them.
func NewNotificationService(d Deps, sender Sender, ratingBaseURL string) *NotificationService {
	d = d.withDefaults()
	return &NotificationService{
		deps:          d,
		sender:        sender,
		ratingBaseURL: strings.TrimRight(ratingBaseURL, "/"),
		logger:        d.Logger.With("component", "notifications"),
	}
}

// SetSender swaps the outbound channel once it is available.
func (s *NotificationService) SetSender(sender Sender) {
	s.sender = sender
}

func notifiable(status repo.OrderStatus) bool {
	switch status {
	case repo.OrderConfirmed, repo.OrderPreparing, repo.OrderShipped, repo.OrderDelivered, repo.OrderCancelled:
		return true
	}
	return false
}

// OnOrderStatusChanged messages the customer about a new order status.
// The message is stored before sending; a send failure is logged and never returned.
func (s *NotificationService) OnOrderStatusChanged(ctx context.Context, orderID string, status repo.OrderStatus) error {
	if !notifiable(status) {
		return nil
	}

	order, err := s.deps.Repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return lookupErr(err, "order")
	}
	if err := loadRelations(ctx, s.deps.Repo, order); err != nil {
		return apperr.Internal("load order relations", err)
	}
	customer := order.Customer
	if customer.Phone == nil || strings.TrimSpace(*customer.Phone) == "" {
		s.deps.Metrics.Notifications.WithLabelValues("no_phone").Inc()
		s.logger.Debug("customer has no phone, skipping notification", "order_id", orderID)
		return nil
	}

	text, err := s.render(ctx, order, status)
	if err != nil {
		return apperr.Internal("render notification", err)
	}

	err = s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		conv, err := conversationFor(ctx, q, order.BusinessID, customer.ID)
		if err != nil {
			return err
		}
		if _, err := q.InsertMessage(ctx, repo.Message{ConversationID: conv.ID, Role: repo.RoleBot, Content: text}); err != nil {
			return err
		}
		change := statusChange{Order: order, Customer: customer, Status: status}
		return outbox.Broadcast(ctx, q, order.BusinessID, events.OrderStatusChanged, change)
	})
	if err != nil {
		return txErr(err, "store notification")
	}
	s.deps.kick()

	s.deliver(ctx, order.BusinessID, *customer.Phone, text, "order_id", orderID, "status", status)
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, tenantID, phone, text string, attrs ...any) {
	if s.sender == nil {
		s.deps.Metrics.Notifications.WithLabelValues("no_channel").Inc()
		return
	}
	if err := s.sender.SendText(ctx, tenantID, phone, text); err != nil {
		s.deps.Metrics.Notifications.WithLabelValues("failed").Inc()
		s.logger.Warn("notification send failed", append(attrs, "tenant", tenantID, "error", err)...)
		return
	}
	s.deps.Metrics.Notifications.WithLabelValues("sent").Inc()
}

func (s *NotificationService) render(ctx context.Context, order *repo.Order, status repo.OrderStatus) (string, error) {
	ref := shortRef(order.ID)
	switch status {
	case repo.OrderConfirmed:
		return fmt.Sprintf("Your order #%s has been confirmed. We will start preparing it shortly.", ref), nil
	case repo.OrderPreparing:
		return fmt.Sprintf("Your order #%s is being prepared.", ref), nil
	case repo.OrderCancelled:
		return fmt.Sprintf("Your order #%s has been cancelled. Reply to this message if you have any questions.", ref), nil
	}

	msg := fmt.Sprintf("Your order #%s has been shipped.", ref)
	if status == repo.OrderDelivered {
		msg = fmt.Sprintf("Your order #%s has been delivered. Thank you for shopping with us!", ref)
	}
	delivery, err := s.deps.Repo.GetDeliveryOrderByOrderID(ctx, order.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return msg, nil
	}
	if err != nil {
		return "", err
	}
	if status == repo.OrderShipped {
		return msg + fmt.Sprintf(" Share this code with the courier on arrival: %s", delivery.OTPCode), nil
	}
	return msg + fmt.Sprintf(" Rate your delivery: %s/rate/%s", s.ratingBaseURL, delivery.ID), nil
}

func shortRef(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

// OnInboundMessage records a customer's chat message and pushes it to the tenant dashboard.
func (s *NotificationService) OnInboundMessage(ctx context.Context, in InboundMessage) error {
	if err := requireID(in.TenantID, "tenantId"); err != nil {
		return err
	}
	if err := requireID(in.Phone, "phone"); err != nil {
		return err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil
	}

	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		customer, err := q.UpsertCustomerByPhone(ctx, repo.CustomerProfile{
			BusinessID: in.TenantID,
			Phone:      in.Phone,
			Name:       in.DisplayName,
		})
		if err != nil {
			return err
		}
		conv, err := conversationFor(ctx, q, in.TenantID, customer.ID)
		if err != nil {
			return err
		}
		msg, err := q.InsertMessage(ctx, repo.Message{ConversationID: conv.ID, Role: repo.RoleCustomer, Content: in.Text})
		if err != nil {
			return err
		}
		conv.LastMessageAt = &msg.CreatedAt

		if err := outbox.Broadcast(ctx, q, in.TenantID, events.NewMessage, map[string]any{
			"conversationId": conv.ID,
			"customer":       customer,
			"message":        msg,
		}); err != nil {
			return err
		}
		return outbox.Broadcast(ctx, q, in.TenantID, events.ConversationUpdate, conv)
	})
	if err != nil {
		return txErr(err, "store inbound message")
	}
	s.deps.kick()
	return nil
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ConversationHistory is the chat thread of a customer, oldest message first.
// Conversation is nil when the customer never chatted.
type ConversationHistory struct {
	Customer     *repo.Customer     `json:"customer"`
	Conversation *repo.Conversation `json:"conversation"`
	Messages     []repo.Message     `json:"messages"`
}

// History returns the latest chat conversation with a customer and its newest limit messages.
func (s *NotificationService) History(ctx context.Context, tenantID, customerID string, limit int) (*ConversationHistory, error) {
	if err := requireID(customerID, "customerId"); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	customer, err := s.deps.Repo.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, lookupErr(err, "customer")
	}
	out := &ConversationHistory{Customer: customer, Messages: []repo.Message{}}

	conv, err := s.deps.Repo.FindLatestConversation(ctx, tenantID, customerID, repo.ChannelWhatsApp)
	if errors.Is(err, repo.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, txErr(err, "load conversation")
	}
	out.Conversation = conv

	msgs, err := s.deps.Repo.ListRecentMessages(ctx, conv.ID, limit)
	if err != nil {
		return nil, txErr(err, "load conversation")
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		out.Messages = append(out.Messages, msgs[i])
	}
	return out, nil
}

// conversationFor returns the newest chat conversation with the customer, opening one when none exists.
func conversationFor(ctx context.Context, q repo.Queries, tenantID, customerID string) (*repo.Conversation, error) {
	conv, err := q.FindLatestConversation(ctx, tenantID, customerID, repo.ChannelWhatsApp)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return q.InsertConversation(ctx, repo.Conversation{BusinessID: tenantID, CustomerID: customerID, Channel: repo.ChannelWhatsApp})
}
