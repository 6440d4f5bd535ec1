package auth

import (
	"context"
	"errors"
)

type ctxKey struct{}

var ErrNoIdentity = errors.New("auth: no identity in context")

func WithIdentity(ctx context.Context, userID, companyID, role string) context.Context {
	return ContextWith(ctx, Identity{UserID: userID, CompanyID: companyID, Role: role})
}

func ContextWith(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := FromContext(ctx); ok && id.UserID != "" {
		return id.UserID, nil
	}
	return "", ErrNoIdentity
}

// CompanyID returns the caller's tenant. Staff identities have none.
func CompanyID(ctx context.Context) (string, error) {
	if id, ok := FromContext(ctx); ok && id.CompanyID != "" {
		return id.CompanyID, nil
	}
	return "", errors.New("auth: company_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if id, ok := FromContext(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", ErrNoIdentity
}
