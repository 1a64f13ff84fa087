// Package outbox records side effects inside the writing transaction and relays them after commit.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"toko/internal/repo"
)

// Event kinds understood by the relay.
const (
	KindBroadcast       = "broadcast"
	KindMirror          = "broadcast_mirror"
	KindNotifyStatus    = "notify_status"
	KindCacheInvalidate = "cache_invalidate"
)

// BroadcastPayload is a dashboard event waiting to be pushed.
type BroadcastPayload struct {
	TenantID string          `json:"tenantId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// NotifyStatusPayload asks the notification service to message the customer.
type NotifyStatusPayload struct {
	OrderID string           `json:"orderId"`
	Status  repo.OrderStatus `json:"status"`
}

// CacheInvalidatePayload names the tenant whose catalog cache must go.
type CacheInvalidatePayload struct {
	Slug string `json:"slug"`
}

// Broadcast records a tenant event. data is marshalled now so it reflects the committed state.
// The dashboard push and the downstream mirror get one row each so a failing
// sink is retried alone and never replays the event on the other.
func Broadcast(ctx context.Context, q repo.Queries, tenantID, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	payload := BroadcastPayload{TenantID: tenantID, Event: event, Data: raw}
	if err := enqueue(ctx, q, KindBroadcast, payload); err != nil {
		return err
	}
	return enqueue(ctx, q, KindMirror, payload)
}

// NotifyStatus records a customer notification for an order status.
func NotifyStatus(ctx context.Context, q repo.Queries, orderID string, status repo.OrderStatus) error {
	return enqueue(ctx, q, KindNotifyStatus, NotifyStatusPayload{OrderID: orderID, Status: status})
}

// InvalidateCatalog records a catalog cache purge for a tenant slug.
func InvalidateCatalog(ctx context.Context, q repo.Queries, slug string) error {
	return enqueue(ctx, q, KindCacheInvalidate, CacheInvalidatePayload{Slug: slug})
}

func enqueue(ctx context.Context, q repo.Queries, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	if err := q.InsertOutboxEvent(ctx, repo.OutboxEvent{Kind: kind, Payload: raw}); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}
