package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"toko/internal/fulfillment"
)

// Session status values persisted in channel_sessions.
const (
	StatusPairing      = "pairing"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusLoggedOut    = "logged_out"
)

// ErrSessionClosed is returned when a send reaches a stopped session.
var ErrSessionClosed = errors.New("wa: session closed")

const inboundTimeout = 30 * time.Second

type sendRequest struct {
	ctx   context.Context
	to    types.JID
	text  string
	reply chan error
}

// Session owns the device of one tenant. Sends are serialised through its mailbox.
type Session struct {
	tenantID string
	device   Device
	registry *Registry
	logger   *slog.Logger

	mailbox chan sendRequest
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	status string
}

func newSession(tenantID string, device Device, r *Registry) *Session {
	s := &Session{
		tenantID: tenantID,
		device:   device,
		registry: r,
		logger:   r.logger.With("tenant", tenantID),
		mailbox:  make(chan sendRequest),
		done:     make(chan struct{}),
		status:   StatusDisconnected,
	}
	device.SetEventHandler(s.handleEvent)
	go s.loop()
	return s
}

func (s *Session) loop() {
	for {
		select {
		case req := <-s.mailbox:
			req.reply <- s.deliver(req)
		case <-s.done:
			return
		}
	}
}

func (s *Session) deliver(req sendRequest) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	if !s.device.IsConnected() {
		return fmt.Errorf("wa: tenant %s is not connected", s.tenantID)
	}
	if err := s.device.SendText(req.ctx, req.to, req.text); err != nil {
		return err
	}
	s.registry.metrics.WAOutgoingMessages.WithLabelValues("text").Inc()
	return nil
}

// send makes one delivery attempt and waits for its outcome.
func (s *Session) send(ctx context.Context, to types.JID, text string) error {
	req := sendRequest{ctx: ctx, to: to, text: text, reply: make(chan error, 1)}
	select {
	case s.mailbox <- req:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the last known connection status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.registry.persist(s.tenantID, s.device.ID(), status)
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.device.Disconnect()
	})
}

func (s *Session) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleMessage(v)
	case *events.PairSuccess:
		s.logger.Info("device paired", "jid", v.ID.String())
		s.setStatus(StatusConnected)
	case *events.Connected:
		s.logger.Info("device connected")
		s.setStatus(StatusConnected)
	case *events.Disconnected:
		s.logger.Warn("device disconnected")
		s.setStatus(StatusDisconnected)
	case *events.LoggedOut:
		s.logger.Warn("device logged out", "reason", v.Reason)
		s.setStatus(StatusLoggedOut)
	}
}

func (s *Session) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text, kind := messageText(evt.Message)
	s.registry.metrics.WAIncomingMessages.WithLabelValues(kind).Inc()
	if text == "" {
		s.logger.Debug("ignoring message without text", "type", kind)
		return
	}
	sender := evt.Info.Sender
	if sender.Server != types.DefaultUserServer {
		s.logger.Debug("ignoring message from non-phone sender", "server", sender.Server)
		return
	}

	in := fulfillment.InboundMessage{
		TenantID:    s.tenantID,
		Phone:       "+" + sender.User,
		DisplayName: evt.Info.PushName,
		Text:        text,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		defer cancel()
		if err := s.registry.inbound.OnInboundMessage(ctx, in); err != nil {
			s.registry.metrics.Errors.WithLabelValues("wa").Inc()
			s.logger.Error("failed storing inbound message", "error", err)
		}
	}()
}
