// Package auth provides JWT-based authentication for optiflow-engine.
// It validates tokens issued by the identity provider using JWKS endpoints
// and turns their claims into the tenant context used for data access.
package auth

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims represents the JWT claims issued to Optiflow users.
// The subject is the user id; org and team carry the caller's current
// organization and team, either of which may be absent.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string   `json:"org,omitempty"`
	TeamID         string   `json:"team,omitempty"`
	Email          string   `json:"email,omitempty"`
	Roles          []string `json:"roles,omitempty"`
}

// HasRole reports whether the token grants role.
func (c *Claims) HasRole(role string) bool {
	return role != "" && slices.Contains(c.Roles, role)
}

// HasIdentity reports whether the token names a user, organization or team.
func (c *Claims) HasIdentity() bool {
	return c.Subject != "" || c.OrganizationID != "" || c.TeamID != ""
}

// TenantContext derives the tenant context for a request made with these
// claims. Holders of adminRole bypass tenant filtering.
func (c *Claims) TenantContext(adminRole string) tenant.Context {
	return tenant.Context{
		UserID:         c.Subject,
		OrganizationID: c.OrganizationID,
		TeamID:         c.TeamID,
		IsAdmin:        c.HasRole(adminRole),
	}
}

// TenantContextFromClaims is TenantContext for possibly-nil claims.
// Nil claims yield an empty context, which carries no identity.
func TenantContextFromClaims(claims *Claims, adminRole string) tenant.Context {
	if claims == nil {
		return tenant.Context{}
	}
	return claims.TenantContext(adminRole)
}

// WithClaims stores claims and the raw token in ctx.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}
