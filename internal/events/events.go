// Package events pushes tenant-scoped domain events to dashboards and downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event names pushed to tenant rooms.
const (
	NewOrder           = "new_order"
	NewPayment         = "new_payment"
	PaymentVerified    = "payment_verified"
	OrderStatusChanged = "order_status_changed"
	NewMessage         = "new_message"
	ConversationUpdate = "conversation_updated"
)

// Broadcaster delivers an event to everyone listening on a tenant.
type Broadcaster interface {
	Broadcast(ctx context.Context, tenantID, event string, payload any) error
}

// Envelope is the wire form of an event.
type Envelope struct {
	Event    string          `json:"event"`
	TenantID string          `json:"tenantId"`
	Data     json.RawMessage `json:"data"`
	SentAt   time.Time       `json:"sentAt"`
}

func encode(tenantID, event string, payload any, now time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, TenantID: tenantID, Data: data, SentAt: now.UTC()})
}
