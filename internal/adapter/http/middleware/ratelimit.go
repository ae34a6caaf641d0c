package middleware

import (
	"fmt"
	"strconv"
	"time"

	redisStore "vendor-payouts/internal/adapter/storage/redis"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the rate limits per endpoint group.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"payouts_create":  {Limit: 30, Window: time.Minute},
		"schedule_update": {Limit: 10, Window: time.Minute},
		"account_verify":  {Limit: 10, Window: time.Minute},
		"webhooks":        {Limit: 600, Window: time.Minute},
		"read":            {Limit: 120, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Counting failures let the request through.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", extractIdentifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys vendors by vendor id, admins by subject, webhook
// senders by processor, and anything else by client IP.
func extractIdentifier(c *gin.Context) string {
	if id, ok := IdentityFrom(c); ok {
		if id.IsAdmin() {
			return "admin:" + id.Subject
		}
		return "vendor:" + id.VendorID.String()
	}
	if p := c.Param("processor"); p != "" {
		return "processor:" + p
	}
	return "ip:" + c.ClientIP()
}
