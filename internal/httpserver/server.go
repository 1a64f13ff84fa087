// Package httpserver exposes the fulfillment services over HTTP.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"toko/internal/auth"
	"toko/internal/events"
	"toko/internal/fulfillment"
	"toko/internal/metrics"
	"toko/internal/wa"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChannelPairer links tenants to the chat channel.
type ChannelPairer interface {
	Pair(ctx context.Context, tenantID string) (<-chan wa.PairEvent, error)
	Status(tenantID string) string
}

// Dependencies are the services the routes call into.
type Dependencies struct {
	Orders     *fulfillment.OrderService
	Payments   *fulfillment.PaymentService
	Deliveries *fulfillment.DeliveryService
	Chats      *fulfillment.NotificationService
	Hub        *events.Hub
	Channel    ChannelPairer
	Verifier   *auth.Verifier
	Health     Pinger
	Gatherer   prometheus.Gatherer
}

// Server wraps an http.Server with the API routes.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates a server listening on addr. Routes are mounted under basePath when one is set.
func New(addr string, logger *slog.Logger, m *metrics.Metrics, deps Dependencies, basePath string) *Server {
	if m == nil {
		m = metrics.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:   gin.New(),
		logger:   logger.With("component", "http"),
		metrics:  m,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	s.router.Use(gin.Recovery(), s.requestMetrics(), s.accessLog(), s.renderErrors())
	s.routes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(s.basePath, s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.basePath != "" {
		s.logger.Info("http server configured with base path", "base_path", s.basePath)
	}
	return s
}

// Handler returns the root handler including the base path.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	r.POST("/catalog/delivery/ratings", s.rateDelivery)

	authed := r.Group("/", auth.Middleware(s.deps.Verifier))
	authed.GET("/ws", s.serveWS)

	staff := authed.Group("/", auth.RequireRole(auth.RoleAdmin, auth.RoleStaff))
	staff.POST("/orders", s.createOrder)
	staff.GET("/orders", s.listOrders)
	staff.GET("/orders/:id", s.getOrder)
	staff.PATCH("/orders/:id/status", s.updateOrderStatus)
	staff.DELETE("/orders/:id", s.deleteOrder)

	staff.GET("/customers/:customerId/messages", s.customerMessages)

	staff.POST("/payments", s.createPayment)
	staff.GET("/payments", s.listPayments)
	staff.PATCH("/payments/:id/verify", s.verifyPayment)
	staff.PATCH("/payments/:id/reject", s.rejectPayment)

	staff.POST("/delivery/orders/:orderId/assign", s.assignDelivery)
	authed.POST("/delivery/orders/:orderId/confirm-otp", s.confirmOTP)
	authed.POST("/delivery/orders/:orderId/pickup", s.pickUpDelivery)
	authed.POST("/delivery/orders/:orderId/fail", s.failDelivery)
	authed.GET("/delivery/orders/:orderId", s.getDelivery)
	authed.GET("/delivery/persons", s.listDeliveryPersons)

	admin := authed.Group("/channel", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/pair", s.pairChannel)
	admin.GET("/status", s.channelStatus)
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
