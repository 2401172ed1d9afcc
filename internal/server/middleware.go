package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// MaxBodyBytes rejects request bodies above the configured payload limit.
// Declared lengths are refused up front; chunked bodies fail on read.
func (s *Server) MaxBodyBytes() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := s.maxPayloadBytes()
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			AbortWithError(c, &http.MaxBytesError{Limit: limit})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
