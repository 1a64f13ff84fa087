// Package wa connects each tenant to the WhatsApp chat channel through its own linked device.
package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.mau.fi/whatsmeow/types"

	"toko/internal/fulfillment"
	"toko/internal/metrics"
	"toko/internal/repo"
)

var (
	// ErrNoSession is returned when a tenant has no chat session.
	ErrNoSession = errors.New("wa: tenant has no session")
	// ErrAlreadyPaired is returned when pairing a tenant that already has a linked device.
	ErrAlreadyPaired = errors.New("wa: tenant already paired")
)

// SessionStore persists session status per tenant.
type SessionStore interface {
	UpsertChannelSession(ctx context.Context, session repo.ChannelSession) error
	ListChannelSessions(ctx context.Context) ([]repo.ChannelSession, error)
}

// InboundHandler receives customer messages.
type InboundHandler interface {
	OnInboundMessage(ctx context.Context, msg fulfillment.InboundMessage) error
}

// Registry owns one Session per tenant.
type Registry struct {
	devices DeviceStore
	store   SessionStore
	inbound InboundHandler
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry wires a registry. Call Start to restore persisted sessions.
func NewRegistry(devices DeviceStore, store SessionStore, inbound InboundHandler, m *metrics.Metrics, logger *slog.Logger) *Registry {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Registry{
		devices:  devices,
		store:    store,
		inbound:  inbound,
		metrics:  m,
		logger:   logger.With("component", "wa"),
		sessions: make(map[string]*Session),
	}
}

// Start restores every paired session and connects it. A tenant that fails to restore is logged and skipped.
func (r *Registry) Start(ctx context.Context) error {
	persisted, err := r.store.ListChannelSessions(ctx)
	if err != nil {
		return fmt.Errorf("list channel sessions: %w", err)
	}

	restored := 0
	for _, ps := range persisted {
		if ps.DeviceJID == "" || ps.Status == StatusLoggedOut {
			continue
		}
		dev, err := r.devices.Restore(ctx, ps.DeviceJID)
		if err != nil {
			r.logger.Warn("failed restoring device", "tenant", ps.BusinessID, "error", err)
			continue
		}
		s := r.attach(ps.BusinessID, dev)
		if err := dev.Connect(); err != nil {
			r.logger.Warn("failed connecting device", "tenant", ps.BusinessID, "error", err)
			s.setStatus(StatusDisconnected)
			continue
		}
		restored++
	}
	r.logger.Info("whatsapp sessions restored", "count", restored)
	return nil
}

// Stop disconnects every session.
func (r *Registry) Stop() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Pair links a new device for the tenant and streams the QR pairing events.
func (r *Registry) Pair(ctx context.Context, tenantID string) (<-chan PairEvent, error) {
	r.mu.Lock()
	existing := r.sessions[tenantID]
	r.mu.Unlock()
	if existing != nil {
		if existing.device.ID() != "" && existing.Status() != StatusLoggedOut {
			return nil, ErrAlreadyPaired
		}
		r.detach(tenantID, existing)
	}

	dev, err := r.devices.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("new device: %w", err)
	}
	codes, err := dev.PairingCodes(ctx)
	if err != nil {
		return nil, err
	}
	s := r.attach(tenantID, dev)
	if err := dev.Connect(); err != nil {
		r.detach(tenantID, s)
		return nil, err
	}
	s.setStatus(StatusPairing)
	r.logger.Info("pairing started", "tenant", tenantID)
	return codes, nil
}

// SendText makes one delivery attempt of text to phone through the tenant's device.
func (r *Registry) SendText(ctx context.Context, tenantID, phone, text string) error {
	r.mu.Lock()
	s := r.sessions[tenantID]
	r.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	to, err := PhoneJID(phone)
	if err != nil {
		return err
	}
	return s.send(ctx, to, text)
}

// Status returns the tenant's session status, or an empty string without a session.
func (r *Registry) Status(tenantID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[tenantID]; s != nil {
		return s.Status()
	}
	return ""
}

func (r *Registry) attach(tenantID string, dev Device) *Session {
	s := newSession(tenantID, dev, r)
	r.mu.Lock()
	r.sessions[tenantID] = s
	r.mu.Unlock()
	return s
}

func (r *Registry) detach(tenantID string, s *Session) {
	r.mu.Lock()
	if r.sessions[tenantID] == s {
		delete(r.sessions, tenantID)
	}
	r.mu.Unlock()
	s.close()
}

func (r *Registry) persist(tenantID, jid, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.store.UpsertChannelSession(ctx, repo.ChannelSession{BusinessID: tenantID, DeviceJID: jid, Status: status})
	if err != nil {
		r.metrics.Errors.WithLabelValues("wa").Inc()
		r.logger.Error("failed persisting session status", "tenant", tenantID, "status", status, "error", err)
	}
}

// PhoneJID converts a phone number in international form into a user JID.
func PhoneJID(phone string) (types.JID, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if len(digits) < 6 {
		return types.JID{}, fmt.Errorf("wa: invalid phone %q", phone)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
