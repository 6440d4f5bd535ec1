package auth

import "github.com/golang-jwt/jwt/v5"

// Identity is the caller of a billing API request.
// CompanyID is empty for platform staff; company-scoped routes enforce it in rbac.
type Identity struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id,omitempty"`
	Role      string `json:"role"`
}

// Claims are the access-token claims accepted by the billing API. Tokens are
// minted by the platform's identity service with the shared HS256 secret.
type Claims struct {
	jwt.RegisteredClaims
	Identity
}
