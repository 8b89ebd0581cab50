package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
)

const requestIDHeader = "X-Request-ID"

// requestID attaches a request id to the context and response, reusing
// the client's id when it sends one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"))
	}
}

// authenticate verifies a bearer token against the configured token
// list. Authentication itself lives with the external session provider;
// this only checks that a principal was established. An empty token
// list disables the check (local single-user mode).
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.config.AuthTokens) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !s.tokenAllowed(token) {
			writeError(c, hukmerrors.New(hukmerrors.ErrCodeUnauthorized,
				"missing or invalid bearer token", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) tokenAllowed(token string) bool {
	for _, t := range s.config.AuthTokens {
		if t != "" && t == token {
			return true
		}
	}
	return false
}

// writeError maps a structured error onto the HTTP contract: validation
// failures are 400 with the offending field named, unavailable backends
// are 503, everything else is 500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := hukmerrors.GetCode(err)

	switch {
	case hukmerrors.IsValidation(err):
		status = http.StatusBadRequest
	case code == hukmerrors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case code == hukmerrors.ErrCodeIndexUnavailable || code == hukmerrors.ErrCodeSearchFailed:
		status = http.StatusServiceUnavailable
	}

	body := gin.H{
		"code":    code,
		"message": err.Error(),
	}
	if code == "" {
		body["code"] = hukmerrors.ErrCodeInternal
	}
	if field := hukmerrors.GetField(err); field != "" {
		body["field"] = field
	}
	c.JSON(status, gin.H{"error": body})
}
