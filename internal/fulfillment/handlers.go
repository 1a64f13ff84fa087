package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"

	"toko/internal/events"
	"toko/internal/outbox"
)

// Registrar accepts outbox handlers. *outbox.Relay satisfies it.
type Registrar interface {
	Handle(kind string, h outbox.Handler)
}

// CatalogInvalidator purges a tenant's cached catalog.
type CatalogInvalidator interface {
	InvalidateTenant(ctx context.Context, slug string) (int, error)
}

// RegisterHandlers binds every outbox kind to its side effect. A nil mirror or
// invalidator acknowledges its rows without acting.
func RegisterHandlers(r Registrar, dashboard, mirror events.Broadcaster, notifier *NotificationService, invalidator CatalogInvalidator) {
	r.Handle(outbox.KindBroadcast, broadcastHandler(dashboard))
	r.Handle(outbox.KindMirror, broadcastHandler(mirror))

	r.Handle(outbox.KindNotifyStatus, func(ctx context.Context, raw json.RawMessage) error {
		var p outbox.NotifyStatusPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode notify_status: %w", err)
		}
		return notifier.OnOrderStatusChanged(ctx, p.OrderID, p.Status)
	})

	r.Handle(outbox.KindCacheInvalidate, func(ctx context.Context, raw json.RawMessage) error {
		var p outbox.CacheInvalidatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode cache_invalidate: %w", err)
		}
		if invalidator == nil {
			return nil
		}
		_, err := invalidator.InvalidateTenant(ctx, p.Slug)
		return err
	})
}

func broadcastHandler(b events.Broadcaster) outbox.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		if b == nil {
			return nil
		}
		var p outbox.BroadcastPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode broadcast: %w", err)
		}
		return b.Broadcast(ctx, p.TenantID, p.Event, p.Data)
	}
}
