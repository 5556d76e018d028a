package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type tenantKey struct{}

const tenantContextKey = "tenant_id"

// CredentialVerifier resolves a bearer credential to the tenant it is scoped
// to. Implemented by the tenant service.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, token string) (string, error)
}

// TenantAuth authenticates the request's bearer credential and stores the
// resolved tenant id on both the gin context and the request context. Every
// entity route sits behind this middleware; cross-tenant ids are therefore
// indistinguishable from unknown ids further down.
func TenantAuth(verifier CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "missing bearer credential"},
			})
			return
		}

		tenantID, err := verifier.VerifyCredential(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "invalid bearer credential"},
			})
			return
		}

		c.Set(tenantContextKey, tenantID)
		ctx := context.WithValue(c.Request.Context(), tenantKey{}, tenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantID returns the authenticated tenant for the request.
func TenantID(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}

// TenantFromContext returns the tenant id stored by TenantAuth.
func TenantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
