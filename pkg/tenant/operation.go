package tenant

import (
	"context"
	"maps"
)

// Action is the kind of data-access request.
type Action string

const (
	ActionReadOne    Action = "read-one"
	ActionReadUnique Action = "read-unique"
	ActionReadMany   Action = "read-many"
	ActionCount      Action = "count"
	ActionAggregate  Action = "aggregate"
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionUpdateMany Action = "update-many"
	ActionDelete     Action = "delete"
	ActionDeleteMany Action = "delete-many"
	ActionRaw        Action = "raw"
)

// IsRead reports whether the action only reads records.
func (a Action) IsRead() bool {
	switch a {
	case ActionReadOne, ActionReadUnique, ActionReadMany, ActionCount, ActionAggregate:
		return true
	}
	return false
}

// Record is a single stored row keyed by field name.
type Record map[string]any

// Operation is one data-access request. Operations are treated as values:
// the With* methods return modified copies and never touch the receiver's maps.
type Operation struct {
	Kind   EntityKind
	Action Action
	Where  Where
	Data   map[string]any
	Select []string
	Take   int
	Skip   int

	// SQL and Args are only used by ActionRaw.
	SQL  string
	Args []any
}

// WithAction returns a copy of op with the given action.
func (op Operation) WithAction(a Action) Operation {
	op.Action = a
	return op
}

// WithWhere returns a copy of op with the given predicate.
func (op Operation) WithWhere(w Where) Operation {
	op.Where = w
	return op
}

// WithData returns a copy of op with a copy of data as its payload.
func (op Operation) WithData(data map[string]any) Operation {
	op.Data = maps.Clone(data)
	return op
}

// Result is what the store returns for an Operation.
type Result struct {
	// Record is set for single-record actions; nil means no record.
	Record Record
	// Records is set for read-many and raw queries.
	Records []Record
	// Count is the matched count for count, and the affected row count for bulk mutations.
	Count     int64
	Aggregate map[string]any
}

// Next executes an Operation against the next stage.
type Next func(ctx context.Context, op Operation) (Result, error)

// Interceptor wraps a single stage around a Next.
type Interceptor func(ctx context.Context, op Operation, next Next) (Result, error)

// Chain composes interceptors around final. The first interceptor is the outermost.
func Chain(final Next, interceptors ...Interceptor) Next {
	next := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		inner := next
		next = func(ctx context.Context, op Operation) (Result, error) {
			return ic(ctx, op, inner)
		}
	}
	return next
}
