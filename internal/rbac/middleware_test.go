package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"telecom-billing/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, companyID, role string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "u", companyID, role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })

	r := gin.New()
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequire_SuperAdminHoldsEverything(t *testing.T) {
	if code := serve(t, "", RoleSuperAdmin, Require(PermGenerateInvoices, PermViewOwnReports)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequire_CompanyUserDeniedOnAdminRoutes(t *testing.T) {
	if code := serve(t, "c1", RoleCompanyUser, Require(PermManageAssignments)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequire_MissingIdentity(t *testing.T) {
	if code := serve(t, "", "", Require(PermViewOwnInvoices)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequire_AllPermissionsNeeded(t *testing.T) {
	if code := serve(t, "c1", RoleCompanyUser, Require(PermViewOwnInvoices, PermViewOwnReports)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "c1", RoleCompanyOwner, Require(PermViewOwnInvoices, PermViewOwnReports)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireCompany(t *testing.T) {
	if code := serve(t, "", RoleCompanyOwner, RequireCompany()); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := serve(t, "c1", RoleAdmin, RequireCompany()); code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on the portal, got %d", code)
	}
	if code := serve(t, "c1", RoleCompanyOwner, RequireCompany()); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestCan(t *testing.T) {
	cases := []struct {
		role string
		perm Permission
		want bool
	}{
		{RoleAdmin, PermGenerateInvoices, true},
		{RoleAdmin, PermEditFeedback, false},
		{RoleCompanyOwner, PermViewOwnReports, true},
		{RoleCompanyUser, PermViewOwnReports, false},
		{RoleCompanyUser, PermEditFeedback, true},
		{"unknown", PermViewOwnInvoices, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.perm); got != tc.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
	if !IsStaff(RoleAdmin) || !IsStaff(RoleSuperAdmin) || IsStaff(RoleCompanyOwner) {
		t.Fatalf("unexpected staff classification")
	}
}
