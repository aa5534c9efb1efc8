package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/service"
)

// RateLimitMiddleware consumes one token from the calling account's limiter.
// Must run after AuthMiddleware.
func RateLimitMiddleware(am *service.AccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountVal, exists := c.Get(ContextAccountKey)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		account := accountVal.(*model.Account)

		if !am.Allow(account.ID) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
