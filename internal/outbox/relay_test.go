package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toko/internal/logging"
	"toko/internal/metrics"
	"toko/internal/repo"
	"toko/internal/repo/repotest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRelay(t *testing.T, cfg Config) (*Relay, *repo.SQLiteRepository, *clock) {
	t.Helper()
	r := repotest.NewSQLite(t)
	c := &clock{t: time.Now().Add(time.Second)}
	relay := NewRelay(r, cfg, metrics.NewNop(), logging.Discard())
	relay.now = c.now
	return relay, r, c
}

func TestDrainDispatchesByKindOnce(t *testing.T) {
	relay, r, _ := newRelay(t, Config{})
	ctx := context.Background()

	var (
		broadcasts []BroadcastPayload
		mirrored   []BroadcastPayload
		slugs      []string
	)
	relay.Handle(KindBroadcast, func(_ context.Context, payload json.RawMessage) error {
		var p BroadcastPayload
		require.NoError(t, json.Unmarshal(payload, &p))
		broadcasts = append(broadcasts, p)
		return nil
	})
	relay.Handle(KindMirror, func(_ context.Context, payload json.RawMessage) error {
		var p BroadcastPayload
		require.NoError(t, json.Unmarshal(payload, &p))
		mirrored = append(mirrored, p)
		return nil
	})
	relay.Handle(KindCacheInvalidate, func(_ context.Context, payload json.RawMessage) error {
		var p CacheInvalidatePayload
		require.NoError(t, json.Unmarshal(payload, &p))
		slugs = append(slugs, p.Slug)
		return nil
	})

	require.NoError(t, r.WithTx(ctx, func(q repo.Queries) error {
		if err := Broadcast(ctx, q, "t-1", "new_order", map[string]string{"id": "o-1"}); err != nil {
			return err
		}
		return InvalidateCatalog(ctx, q, "acme")
	}))

	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, broadcasts, mirrored)
	assert.Equal(t, "t-1", broadcasts[0].TenantID)
	assert.Equal(t, "new_order", broadcasts[0].Event)
	assert.JSONEq(t, `{"id":"o-1"}`, string(broadcasts[0].Data))
	assert.Equal(t, []string{"acme"}, slugs)

	n, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, broadcasts, 1)
}

func TestRolledBackTransactionLeavesNothingToRelay(t *testing.T) {
	relay, r, _ := newRelay(t, Config{})
	ctx := context.Background()
	calls := 0
	relay.Handle(KindNotifyStatus, func(context.Context, json.RawMessage) error {
		calls++
		return nil
	})

	err := r.WithTx(ctx, func(q repo.Queries) error {
		if err := NotifyStatus(ctx, q, "o-1", repo.OrderShipped); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestFailedHandlerIsRetriedAfterBackoff(t *testing.T) {
	relay, r, clk := newRelay(t, Config{BaseBackoff: time.Second, MaxBackoff: time.Minute})
	ctx := context.Background()

	attempts := 0
	relay.Handle(KindNotifyStatus, func(context.Context, json.RawMessage) error {
		attempts++
		if attempts == 1 {
			return errors.New("chat channel offline")
		}
		return nil
	})
	require.NoError(t, NotifyStatus(ctx, r, "o-1", repo.OrderConfirmed))

	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, attempts)

	n, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, attempts, "event must wait for its backoff")

	clk.advance(2 * time.Second)
	n, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, attempts)
}

func TestEventIsParkedAfterMaxAttempts(t *testing.T) {
	relay, r, clk := newRelay(t, Config{MaxAttempts: 2, BaseBackoff: time.Second})
	ctx := context.Background()

	attempts := 0
	relay.Handle(KindCacheInvalidate, func(context.Context, json.RawMessage) error {
		attempts++
		return errors.New("redis down")
	})
	require.NoError(t, InvalidateCatalog(ctx, r, "acme"))

	for i := 0; i < 5; i++ {
		_, err := relay.Drain(ctx)
		require.NoError(t, err)
		clk.advance(time.Hour)
	}
	assert.Equal(t, 2, attempts)
}

func TestUnknownKindIsParked(t *testing.T) {
	relay, r, clk := newRelay(t, Config{})
	ctx := context.Background()
	require.NoError(t, r.InsertOutboxEvent(ctx, repo.OutboxEvent{Kind: "mystery", Payload: []byte(`{}`)}))

	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.advance(time.Hour)
	events, err := r.ClaimOutboxEvents(ctx, clk.now(), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBackoffIsCapped(t *testing.T) {
	relay := NewRelay(nil, Config{BaseBackoff: time.Second, MaxBackoff: 5 * time.Minute}, metrics.NewNop(), logging.Discard())

	assert.Equal(t, time.Second, relay.backoff(0))
	assert.Equal(t, 4*time.Second, relay.backoff(2))
	assert.Equal(t, 5*time.Minute, relay.backoff(9))
	assert.Equal(t, 5*time.Minute, relay.backoff(50))
}

func TestRunDrainsWhenKicked(t *testing.T) {
	r := repotest.NewSQLite(t)
	relay := NewRelay(r, Config{Interval: time.Hour}, metrics.NewNop(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	var handled atomic.Int32
	count := func(context.Context, json.RawMessage) error {
		handled.Add(1)
		return nil
	}
	relay.Handle(KindBroadcast, count)
	relay.Handle(KindMirror, count)
	require.NoError(t, Broadcast(ctx, r, "t-1", "new_payment", nil))

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		relay.Kick()
		return handled.Load() == 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
