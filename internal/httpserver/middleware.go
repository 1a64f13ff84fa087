package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"toko/internal/apperr"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
}

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// renderErrors writes the last error recorded by a handler as the JSON error body.
func (s *Server) renderErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		kind := apperr.KindOf(err)
		message := err.Error()

		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		if kind == apperr.KindInternal {
			s.metrics.Errors.WithLabelValues("http").Inc()
			s.logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
			message = http.StatusText(http.StatusInternalServerError)
		}
		c.JSON(apperr.StatusOf(kind), errorBody{Error: errorDetail{Code: kind, Message: message}})
	}
}

// fail records err for renderErrors and stops the chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, apperr.Validation("%s must be a non-negative integer", name))
		return 0, false
	}
	return n, true
}
