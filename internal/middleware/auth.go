package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openstable/cdpcore/internal/config"
	"github.com/openstable/cdpcore/internal/service"
)

const (
	HeaderAPIKey      = "X-API-Key"
	ContextAccountKey = "account"
)

// AuthMiddleware resolves the caller's account from its API key and stores
// it in the request context. With require_api_key disabled, keyless requests
// run under the default account.
func AuthMiddleware(cfg *config.Config, am *service.AccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			if cfg != nil && !cfg.Auth.RequireAPIKey {
				if account, ok := am.Default(); ok {
					c.Set(ContextAccountKey, account)
					c.Next()
					return
				}
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			c.Abort()
			return
		}

		account, ok := am.Lookup(apiKey)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		c.Set(ContextAccountKey, account)
		c.Next()
	}
}
