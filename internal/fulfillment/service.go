// Package fulfillment implements the order, payment, delivery and notification workflows.
package fulfillment

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"toko/internal/apperr"
	"toko/internal/metrics"
	"toko/internal/repo"
)

// Kicker nudges the outbox relay after a commit.
type Kicker interface {
	Kick()
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Repo    repo.Repository
	Kicker  Kicker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) kick() {
	if d.Kicker != nil {
		d.Kicker.Kick()
	}
}

// lookupErr translates a repository lookup failure.
func lookupErr(err error, entity string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound(entity)
	}
	return apperr.Internal("load "+entity, err)
}

// txErr keeps structured errors raised inside a transaction and wraps the rest.
func txErr(err error, op string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Internal(op, err)
}

func requireID(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.Validation("%s is required", field)
	}
	return nil
}

// appendNote adds note to a newline separated log without replacing earlier entries.
func appendNote(existing, note *string) *string {
	if note == nil || strings.TrimSpace(*note) == "" {
		return existing
	}
	trimmed := strings.TrimSpace(*note)
	if existing == nil || *existing == "" {
		return &trimmed
	}
	joined := *existing + "\n" + trimmed
	return &joined
}

// statusChange is the payload of order_status_changed.
type statusChange struct {
	Order    *repo.Order      `json:"order"`
	Customer *repo.Customer   `json:"customer,omitempty"`
	Status   repo.OrderStatus `json:"status"`
}
