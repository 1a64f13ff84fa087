package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"toko/internal/apperr"
	"toko/internal/events"
	"toko/internal/outbox"
	"toko/internal/repo"
)

// CreatePaymentInput registers a payment attempt. AmountCents is ignored; the order total is charged.
type CreatePaymentInput struct {
	OrderID     string  `json:"orderId"`
	Method      string  `json:"method"`
	Reference   *string `json:"reference,omitempty"`
	ProofURL    *string `json:"proofUrl,omitempty"`
	AmountCents int64   `json:"amountCents,omitempty"`
}

// VerifyInput is the verifier's decision.
type VerifyInput struct {
	Status repo.PaymentStatus `json:"status"`
	Notes  *string            `json:"notes,omitempty"`
}

// PaymentService registers payments and records verification decisions.
type PaymentService struct {
	deps   Deps
	logger *slog.Logger
}

// NewPaymentService wires a payment service.
func NewPaymentService(d Deps) *PaymentService {
	d = d.withDefaults()
	return &PaymentService{deps: d, logger: d.Logger.With("component", "payments")}
}

// Create stores a PENDING payment charging exactly the order total.
func (s *PaymentService) Create(ctx context.Context, tenantID string, in CreatePaymentInput) (*repo.Payment, error) {
	if err := requireID(in.OrderID, "orderId"); err != nil {
		return nil, err
	}
	if err := requireID(in.Method, "method"); err != nil {
		return nil, err
	}

	var created *repo.Payment
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		order, err := q.GetOrder(ctx, tenantID, in.OrderID)
		if err != nil {
			return lookupErr(err, "order")
		}
		if in.AmountCents != 0 && in.AmountCents != order.TotalCents {
			s.logger.Warn("ignoring client supplied payment amount", "order_id", order.ID, "supplied", in.AmountCents, "total", order.TotalCents)
		}
		payment, err := q.InsertPayment(ctx, repo.Payment{
			OrderID:     order.ID,
			Method:      in.Method,
			Reference:   in.Reference,
			ProofURL:    in.ProofURL,
			AmountCents: order.TotalCents,
			Status:      repo.PaymentPending,
		})
		if err != nil {
			return err
		}
		if err := outbox.Broadcast(ctx, q, tenantID, events.NewPayment, payment); err != nil {
			return err
		}
		created = payment
		return nil
	})
	if err != nil {
		return nil, txErr(err, "create payment")
	}

	s.deps.kick()
	s.logger.Info("payment registered", "tenant", tenantID, "payment_id", created.ID, "order_id", created.OrderID, "amount_cents", created.AmountCents)
	return created, nil
}

// Verify records a decision on a PENDING payment. VERIFIED also confirms the order.
func (s *PaymentService) Verify(ctx context.Context, tenantID, paymentID, verifiedBy string, in VerifyInput) (*repo.Payment, error) {
	switch in.Status {
	case repo.PaymentVerified:
	case repo.PaymentRejected:
		return s.Reject(ctx, tenantID, paymentID, verifiedBy, in.Notes)
	default:
		return nil, apperr.Validation("status must be VERIFIED or REJECTED")
	}
	return s.decide(ctx, tenantID, paymentID, verifiedBy, repo.PaymentVerified, in.Notes)
}

// Reject records a REJECTED decision on a PENDING payment. The order is left untouched.
func (s *PaymentService) Reject(ctx context.Context, tenantID, paymentID, verifiedBy string, notes *string) (*repo.Payment, error) {
	return s.decide(ctx, tenantID, paymentID, verifiedBy, repo.PaymentRejected, notes)
}

func (s *PaymentService) decide(ctx context.Context, tenantID, paymentID, verifiedBy string, to repo.PaymentStatus, notes *string) (*repo.Payment, error) {
	if err := requireID(verifiedBy, "verifiedBy"); err != nil {
		return nil, err
	}

	var decided *repo.Payment
	err := s.deps.Repo.WithTx(ctx, func(q repo.Queries) error {
		current, err := q.GetPayment(ctx, tenantID, paymentID)
		if err != nil {
			return lookupErr(err, "payment")
		}
		if current.Status != repo.PaymentPending {
			return apperr.Conflict(fmt.Sprintf("payment already %s", current.Status))
		}

		payment, err := q.DecidePayment(ctx, repo.PaymentDecision{
			ID:         current.ID,
			From:       repo.PaymentPending,
			To:         to,
			VerifiedBy: verifiedBy,
			VerifiedAt: s.deps.Now(),
			Notes:      appendNote(current.Notes, notes),
		})
		if errors.Is(err, repo.ErrStaleState) {
			return apperr.Conflict("payment was decided concurrently")
		}
		if err != nil {
			return err
		}
		if err := outbox.Broadcast(ctx, q, tenantID, events.PaymentVerified, payment); err != nil {
			return err
		}

		if to == repo.PaymentVerified {
			if err := q.UpdateOrderStatus(ctx, payment.OrderID, repo.OrderConfirmed); err != nil {
				return err
			}
			order, err := q.GetOrder(ctx, tenantID, payment.OrderID)
			if err != nil {
				return err
			}
			if err := loadRelations(ctx, q, order); err != nil {
				return err
			}
			change := statusChange{Order: order, Customer: order.Customer, Status: repo.OrderConfirmed}
			if err := outbox.Broadcast(ctx, q, tenantID, events.OrderStatusChanged, change); err != nil {
				return err
			}
		}
		decided = payment
		return nil
	})
	if err != nil {
		return nil, txErr(err, "decide payment")
	}

	s.deps.kick()
	s.deps.Metrics.PaymentDecisions.WithLabelValues(string(to)).Inc()
	if to == repo.PaymentVerified {
		s.deps.Metrics.OrderStatusChanges.WithLabelValues(string(repo.OrderConfirmed)).Inc()
	}
	s.logger.Info("payment decided", "tenant", tenantID, "payment_id", paymentID, "status", to, "verified_by", verifiedBy)
	return decided, nil
}

// Get returns a payment of the tenant.
func (s *PaymentService) Get(ctx context.Context, tenantID, paymentID string) (*repo.Payment, error) {
	p, err := s.deps.Repo.GetPayment(ctx, tenantID, paymentID)
	if err != nil {
		return nil, lookupErr(err, "payment")
	}
	return p, nil
}

// List returns payments of the tenant matching filter.
func (s *PaymentService) List(ctx context.Context, tenantID string, filter repo.PaymentFilter) ([]repo.Payment, error) {
	switch filter.Status {
	case "", repo.PaymentPending, repo.PaymentVerified, repo.PaymentRejected:
	default:
		return nil, apperr.Validation("unknown payment status %q", filter.Status)
	}
	payments, err := s.deps.Repo.ListPayments(ctx, tenantID, filter)
	if err != nil {
		return nil, apperr.Internal("list payments", err)
	}
	return payments, nil
}
