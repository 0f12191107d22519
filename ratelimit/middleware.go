package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shahidsiddiqui786/photoselect/helper"
)

// KeyFunc derives the limiter key from a request.
type KeyFunc func(*gin.Context) string

func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. A nil limiter lets every request through.
func Middleware(l *Limiter, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}

	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}

		res := l.Check(c.Request.Context(), key(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			secs := int(math.Ceil(res.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, helper.ErrorResponse{
				Error:        "too many requests",
				RetryAfterMs: res.RetryAfter.Milliseconds(),
			})
			return
		}

		c.Next()
	}
}
