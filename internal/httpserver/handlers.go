package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"toko/internal/apperr"
	"toko/internal/auth"
	"toko/internal/fulfillment"
	"toko/internal/repo"
	"toko/internal/wa"
)

const pairTimeout = 3 * time.Minute

type statusRequest struct {
	Status repo.OrderStatus `json:"status" binding:"required"`
}

type rejectRequest struct {
	Notes *string `json:"notes"`
}

type assignRequest struct {
	DeliveryPersonID string  `json:"deliveryPersonId" binding:"required"`
	Notes            *string `json:"notes"`
}

type otpRequest struct {
	Code             string `json:"code" binding:"required"`
	DeliveryPersonID string `json:"deliveryPersonId"`
}

type courierRequest struct {
	DeliveryPersonID string `json:"deliveryPersonId"`
	Reason           string `json:"reason"`
}

func (s *Server) createOrder(c *gin.Context) {
	var in fulfillment.CreateOrderInput
	if !bindJSON(c, &in) {
		return
	}
	order, err := s.deps.Orders.Create(c.Request.Context(), auth.ActorFrom(c).BusinessID, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) listOrders(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	orders, err := s.deps.Orders.List(c.Request.Context(), auth.ActorFrom(c).BusinessID, repo.OrderFilter{
		Status:     repo.OrderStatus(c.Query("status")),
		CustomerID: c.Query("customerId"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.deps.Orders.Get(c.Request.Context(), auth.ActorFrom(c).BusinessID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var in statusRequest
	if !bindJSON(c, &in) {
		return
	}
	order, err := s.deps.Orders.UpdateStatus(c.Request.Context(), auth.ActorFrom(c).BusinessID, c.Param("id"), in.Status)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) deleteOrder(c *gin.Context) {
	if err := s.deps.Orders.Delete(c.Request.Context(), auth.ActorFrom(c).BusinessID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) customerMessages(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	history, err := s.deps.Chats.History(c.Request.Context(), auth.ActorFrom(c).BusinessID, c.Param("customerId"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) createPayment(c *gin.Context) {
	var in fulfillment.CreatePaymentInput
	if !bindJSON(c, &in) {
		return
	}
	payment, err := s.deps.Payments.Create(c.Request.Context(), auth.ActorFrom(c).BusinessID, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (s *Server) listPayments(c *gin.Context) {
	payments, err := s.deps.Payments.List(c.Request.Context(), auth.ActorFrom(c).BusinessID, repo.PaymentFilter{
		Status:  repo.PaymentStatus(c.Query("status")),
		OrderID: c.Query("orderId"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (s *Server) verifyPayment(c *gin.Context) {
	var in fulfillment.VerifyInput
	if !bindJSON(c, &in) {
		return
	}
	actor := auth.ActorFrom(c)
	payment, err := s.deps.Payments.Verify(c.Request.Context(), actor.BusinessID, c.Param("id"), verifier(actor), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) rejectPayment(c *gin.Context) {
	var in rejectRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &in) {
		return
	}
	actor := auth.ActorFrom(c)
	payment, err := s.deps.Payments.Reject(c.Request.Context(), actor.BusinessID, c.Param("id"), verifier(actor), in.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// verifier names the user recorded on a payment decision.
func verifier(a auth.Actor) string {
	if a.UserID != "" {
		return a.UserID
	}
	return a.Role
}

func (s *Server) assignDelivery(c *gin.Context) {
	var in assignRequest
	if !bindJSON(c, &in) {
		return
	}
	d, err := s.deps.Deliveries.Assign(c.Request.Context(), auth.ActorFrom(c).BusinessID, c.Param("orderId"), in.DeliveryPersonID, in.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// actingCourier returns the courier a request acts for. Courier tokens always act as themselves.
func actingCourier(a auth.Actor, requested string) string {
	if a.IsCourier() {
		return a.DeliveryPersonID
	}
	return requested
}

func (s *Server) confirmOTP(c *gin.Context) {
	var in otpRequest
	if !bindJSON(c, &in) {
		return
	}
	actor := auth.ActorFrom(c)
	d, err := s.deps.Deliveries.ConfirmOTP(c.Request.Context(), actor.BusinessID, c.Param("orderId"), in.Code, actingCourier(actor, in.DeliveryPersonID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) pickUpDelivery(c *gin.Context) {
	var in courierRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &in) {
		return
	}
	actor := auth.ActorFrom(c)
	d, err := s.deps.Deliveries.PickUp(c.Request.Context(), actor.BusinessID, c.Param("orderId"), actingCourier(actor, in.DeliveryPersonID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) failDelivery(c *gin.Context) {
	var in courierRequest
	if !bindJSON(c, &in) {
		return
	}
	actor := auth.ActorFrom(c)
	d, err := s.deps.Deliveries.Fail(c.Request.Context(), actor.BusinessID, c.Param("orderId"), actingCourier(actor, in.DeliveryPersonID), in.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) getDelivery(c *gin.Context) {
	actor := auth.ActorFrom(c)
	d, err := s.deps.Deliveries.Get(c.Request.Context(), actor.BusinessID, c.Param("orderId"))
	if err != nil {
		fail(c, err)
		return
	}
	if actor.IsCourier() && d.DeliveryPersonID != actor.DeliveryPersonID {
		fail(c, apperr.Forbidden("delivery is assigned to another courier"))
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) listDeliveryPersons(c *gin.Context) {
	persons, err := s.deps.Deliveries.ListPersons(c.Request.Context(), auth.ActorFrom(c).BusinessID, c.Query("available") == "true")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveryPersons": persons})
}

func (s *Server) rateDelivery(c *gin.Context) {
	var in fulfillment.RateInput
	if !bindJSON(c, &in) {
		return
	}
	rating, err := s.deps.Deliveries.Rate(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}

func (s *Server) serveWS(c *gin.Context) {
	if s.deps.Hub == nil {
		fail(c, apperr.Internal("websocket hub unavailable", nil))
		return
	}
	if err := s.deps.Hub.ServeWS(c.Writer, c.Request, auth.ActorFrom(c).BusinessID); err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
	}
}

func (s *Server) pairChannel(c *gin.Context) {
	if s.deps.Channel == nil {
		fail(c, apperr.Internal("chat channel unavailable", nil))
		return
	}
	tenantID := auth.ActorFrom(c).BusinessID
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), pairTimeout)
	codes, err := s.deps.Channel.Pair(ctx, tenantID)
	if err != nil {
		cancel()
		if errors.Is(err, wa.ErrAlreadyPaired) {
			fail(c, apperr.Conflict("chat channel already paired"))
			return
		}
		fail(c, apperr.Internal("start pairing", err))
		return
	}
	select {
	case first, ok := <-codes:
		if !ok {
			cancel()
			fail(c, apperr.Conflict("pairing ended before a code was issued"))
			return
		}
		go func() {
			defer cancel()
			for ev := range codes {
				s.logger.Info("pairing event", "tenant", tenantID, "event", ev.Event)
			}
		}()
		c.JSON(http.StatusOK, first)
	case <-c.Request.Context().Done():
		cancel()
	}
}

func (s *Server) channelStatus(c *gin.Context) {
	status := ""
	if s.deps.Channel != nil {
		status = s.deps.Channel.Status(auth.ActorFrom(c).BusinessID)
	}
	if status == "" {
		status = "unpaired"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
