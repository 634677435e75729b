// Package tenant implements row-level tenant isolation for data-access operations.
// An Interceptor built from a caller's Context rewrites each Operation before it
// reaches the store: predicates are narrowed to the caller's tenant scope, create
// payloads receive default ownership values, and singular mutations are executed
// as filtered bulk mutations so ownership is enforced atomically by the store.
package tenant

import "context"

type contextKey string

const tenantContextKey contextKey = "tenantContext"

// Context is the caller's identity and scope for a single logical operation.
// Empty strings mean the dimension is absent.
type Context struct {
	UserID         string
	OrganizationID string
	TeamID         string
	IncludePublic  bool
	IsAdmin        bool
}

// HasIdentity reports whether at least one scope dimension is set.
func (c Context) HasIdentity() bool {
	return c.UserID != "" || c.OrganizationID != "" || c.TeamID != ""
}

// WithContext stores the tenant context in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

// FromContext retrieves the tenant context from ctx.
// Returns the zero Context and false if none is present.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(tenantContextKey).(Context)
	return tc, ok
}
