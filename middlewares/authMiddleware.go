package middlewares

import (
	"net/http"
	"strings"

	"github.com/facturasoft/factura_backend/models"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware parses the bearer token when present and loads the claims
// into the request context. Requests without a token pass through; protected
// routes enforce presence via RequireAuth.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			// websocket clients cannot set headers from the browser
			auth = c.Query("token")
		} else if strings.HasPrefix(auth, "Bearer ") {
			auth = strings.TrimPrefix(auth, "Bearer ")
		}

		if auth == "" {
			c.Next()
			return
		}

		validated, err := utils.JwtValidate(auth)
		if err != nil || !validated.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claims, ok := validated.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = utils.SetTokenInContext(ctx, auth)
		ctx = utils.SetCompanyIdInContext(ctx, claims.CompanyId)
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		ctx = utils.SetUserRoleInContext(ctx, claims.Role)
		// platform admins carry the Admin role with no company binding
		if claims.CompanyId == "" && claims.Role == string(models.UserRoleAdmin) {
			ctx = utils.SetIsAdminInContext(ctx, true)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireAuth rejects requests whose context has no authenticated company.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := utils.GetCompanyIdFromContext(c.Request.Context())
		if !ok || companyId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole gates a route to the given roles.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetUserRoleFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		for _, allowed := range roles {
			if models.UserRole(role) == allowed {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		c.Abort()
	}
}

// RequireActiveSubscription blocks document writes for lapsed tenants.
// Reads stay available so an expired tenant can still export its data.
func RequireActiveSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		subscription, err := models.GetSubscription(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "no active subscription"})
			c.Abort()
			return
		}
		if !subscription.Usable() {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "subscription expired"})
			c.Abort()
			return
		}
		c.Next()
	}
}
