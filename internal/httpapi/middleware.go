package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chatdock/internal/metrics"
	"chatdock/internal/ratelimit"
	"chatdock/internal/storage"
)

const identityKey = "identity"

// Auth builds the caller identity from the two forwarded headers. This is a
// placeholder trust boundary: the frontend proxy is expected to have
// authenticated the user, no verification happens here.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		email := c.GetHeader("X-User-Email")
		if userID == "" || email == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Authentication required. Missing X-User-Id or X-User-Email header.",
			})
			return
		}
		c.Set(identityKey, storage.Identity{UserID: userID, Email: email})
		c.Next()
	}
}

func currentIdentity(c *gin.Context) storage.Identity {
	v, _ := c.Get(identityKey)
	ident, _ := v.(storage.Identity)
	return ident
}

// CORS allows the configured frontend origins.
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-User-Id, X-User-Email")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimit rejects requests over the per-user hourly budget. Runs after Auth
// so the identity is always present. A redis failure fails open: throttling
// is protection, not a correctness guarantee.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := currentIdentity(c)
		allowed, _, resetAt, err := limiter.Allow(c.Request.Context(), ident.UserID, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			m.RateLimited.Inc()
			c.Header("Retry-After", resetAt.UTC().Format(http.TimeFormat))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func countRequests(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.RequestsTotal.Inc()
		c.Next()
	}
}
