package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionMiddleware copies the caller identity headers into the request
// context. Authn itself happens upstream (API gateway); this service only
// consumes the resolved identity.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientId := c.Request.Header.Get("clientId")
		userId := c.Request.Header.Get("userId")
		correlationId := c.Request.Header.Get("correlationId")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}

		ctx := c.Request.Context()
		if clientId != "" {
			ctx = utils.SetClientIdInContext(ctx, clientId)
		}
		if userId != "" {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

		c.Writer.Header().Set("X-Correlation-Id", correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireClient aborts requests that reached a tenant-scoped route without
// a resolved clientId.
func RequireClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientId, ok := utils.GetClientIdFromContext(c.Request.Context())
		if !ok || clientId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "client id is required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
