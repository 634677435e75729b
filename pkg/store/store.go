// Package store executes tenant.Operations against a backing store and
// composes interceptors, such as the tenant middleware, around it.
package store

import (
	"context"

	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// Executor runs a single Operation as one store-level call.
// Implementations must evaluate the predicate of bulk mutations atomically.
type Executor interface {
	Execute(ctx context.Context, op tenant.Operation) (tenant.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, op tenant.Operation) (tenant.Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, op tenant.Operation) (tenant.Result, error) {
	return f(ctx, op)
}
