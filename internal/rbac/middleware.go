package rbac

import (
	"net/http"

	"telecom-billing/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireCompany enforces tenancy for portal routes: the caller must be a
// company role with a company_id in context. Handlers scope every read by it.
func RequireCompany() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		if !ok || id.CompanyID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "company_id required"})
			return
		}
		if IsStaff(id.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "portal is for company users"})
			return
		}
		c.Next()
	}
}

// Require allows the request when the caller's role holds every listed
// permission.
func Require(perms ...Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		for _, p := range perms {
			if !Can(role, p) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
		c.Next()
	}
}
