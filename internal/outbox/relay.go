package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"toko/internal/metrics"
	"toko/internal/repo"
)

// Handler executes one recorded side effect.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Store is the slice of the repository the relay needs.
type Store interface {
	ClaimOutboxEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]repo.OutboxEvent, error)
	CompleteOutboxEvent(ctx context.Context, id int64, at time.Time) error
	RetryOutboxEvent(ctx context.Context, id int64, next time.Time, lastErr string) error
	ParkOutboxEvent(ctx context.Context, id int64, at time.Time, lastErr string) error
}

// Config tunes the relay.
type Config struct {
	Interval       time.Duration
	BatchSize      int
	Lease          time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	return c
}

// Relay drains due outbox events through registered handlers.
type Relay struct {
	store    Store
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	handlers map[string]Handler

	drainMu sync.Mutex
	jobMu   sync.Mutex
	job     gocron.Job
}

// NewRelay builds a relay with no handlers.
func NewRelay(store Store, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Relay {
	return &Relay{
		store:    store,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		logger:   logger.With("component", "outbox"),
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler of kind. Call before Run.
func (r *Relay) Handle(kind string, h Handler) {
	r.handlers[kind] = h
}

// Drain processes due events until none remain and returns how many succeeded.
// Events enqueued by handlers during the drain are picked up by the same call.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		batch, err := r.store.ClaimOutboxEvents(ctx, r.now(), r.cfg.Lease, r.cfg.BatchSize)
		if err != nil {
			return done, fmt.Errorf("claim outbox events: %w", err)
		}
		if len(batch) == 0 {
			return done, nil
		}
		for _, ev := range batch {
			if r.process(ctx, ev) {
				done++
			}
		}
	}
}

func (r *Relay) process(ctx context.Context, ev repo.OutboxEvent) bool {
	logger := r.logger.With("event_id", ev.ID, "kind", ev.Kind, "attempt", ev.Attempts+1)

	h, ok := r.handlers[ev.Kind]
	if !ok {
		r.park(ctx, ev, errors.New("no handler registered"), logger)
		return false
	}

	hctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	err := h(hctx, json.RawMessage(ev.Payload))
	cancel()

	if err == nil {
		if cerr := r.store.CompleteOutboxEvent(ctx, ev.ID, r.now()); cerr != nil {
			logger.Error("failed marking outbox event done", "error", cerr)
			return false
		}
		r.metrics.OutboxProcessed.WithLabelValues(ev.Kind, "done").Inc()
		return true
	}

	if ev.Attempts+1 >= r.cfg.MaxAttempts {
		r.park(ctx, ev, err, logger)
		return false
	}

	next := r.now().Add(r.backoff(ev.Attempts))
	if rerr := r.store.RetryOutboxEvent(ctx, ev.ID, next, err.Error()); rerr != nil {
		logger.Error("failed rescheduling outbox event", "error", rerr)
		return false
	}
	r.metrics.OutboxProcessed.WithLabelValues(ev.Kind, "retry").Inc()
	logger.Warn("outbox handler failed, retrying", "error", err, "next_attempt", next)
	return false
}

func (r *Relay) park(ctx context.Context, ev repo.OutboxEvent, cause error, logger *slog.Logger) {
	if err := r.store.ParkOutboxEvent(ctx, ev.ID, r.now(), cause.Error()); err != nil {
		logger.Error("failed parking outbox event", "error", err)
		return
	}
	r.metrics.OutboxProcessed.WithLabelValues(ev.Kind, "parked").Inc()
	r.metrics.Errors.WithLabelValues("outbox").Inc()
	logger.Error("outbox event parked", "error", cause)
}

// backoff doubles from BaseBackoff per previous attempt, capped at MaxBackoff.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}

// Run drains on a fixed interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	job, err := scheduler.NewJob(
		gocron.DurationJob(r.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := r.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("outbox drain failed", "error", err)
			}
		}),
		gocron.WithName("outbox-relay"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule outbox relay: %w", err)
	}

	r.jobMu.Lock()
	r.job = job
	r.jobMu.Unlock()

	r.logger.Info("outbox relay started", "interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)
	scheduler.Start()

	<-ctx.Done()

	r.jobMu.Lock()
	r.job = nil
	r.jobMu.Unlock()
	return scheduler.Shutdown()
}

// Kick asks a running relay to drain now instead of waiting for the next tick.
func (r *Relay) Kick() {
	r.jobMu.Lock()
	job := r.job
	r.jobMu.Unlock()
	if job == nil {
		return
	}
	if err := job.RunNow(); err != nil {
		r.logger.Debug("outbox kick skipped", "error", err)
	}
}
