package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderGovernanceKeys carries one or more comma-separated governance
	// capability keys. The service-side policy decides how many must match.
	HeaderGovernanceKeys = "X-Governance-Keys"
	HeaderOperatorKey    = "X-Operator-Key"

	ContextCallersKey = "callers"
)

// GovernanceMiddleware extracts the caller's capability keys for the
// governance surface. Authorization itself happens in the service layer so
// the n-of-m policy sees the full caller set.
func GovernanceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderGovernanceKeys)
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing governance keys"})
			c.Abort()
			return
		}
		c.Set(ContextCallersKey, splitKeys(raw))
		c.Next()
	}
}

// OperatorMiddleware extracts the operator key for the force-settle surface.
func OperatorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderOperatorKey)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing operator key"})
			c.Abort()
			return
		}
		c.Set(ContextCallersKey, []string{key})
		c.Next()
	}
}

// Callers returns the capability keys set by GovernanceMiddleware or
// OperatorMiddleware.
func Callers(c *gin.Context) []string {
	v, ok := c.Get(ContextCallersKey)
	if !ok {
		return nil
	}
	callers, _ := v.([]string)
	return callers
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
