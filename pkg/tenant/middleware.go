package tenant

import (
	"context"
	"fmt"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
)

// NewTenantMiddleware returns an Interceptor that enforces tenant isolation for tc.
func NewTenantMiddleware(tc Context) Interceptor {
	return func(ctx context.Context, op Operation, next Next) (Result, error) {
		return Apply(ctx, tc, op, next)
	}
}

// Apply enforces tenant isolation for a single operation and forwards it to next.
//
// Raw operations and admin callers pass through untouched, as do kinds without
// a schema. Reads and bulk mutations get the tenant filter ANDed onto their
// predicate, creates get missing ownership fields filled from tc, and singular
// updates and deletes run as filtered bulk mutations whose zero-row outcome is
// reported as apperrors.ErrNotFoundOrForbidden.
func Apply(ctx context.Context, tc Context, op Operation, next Next) (Result, error) {
	if op.Action == ActionRaw || tc.IsAdmin {
		return next(ctx, op)
	}

	schema, ok := op.Kind.Schema()
	if !ok {
		return next(ctx, op)
	}

	switch op.Action {
	case ActionReadOne, ActionReadUnique, ActionReadMany, ActionCount, ActionAggregate:
		return applyRead(ctx, tc, op, next)
	case ActionCreate:
		return next(ctx, withOwnershipDefaults(schema, tc, op))
	case ActionUpdate, ActionDelete:
		return applySingleMutation(ctx, tc, op, next)
	case ActionUpdateMany, ActionDeleteMany:
		filter := BuildFilter(op.Kind, tc)
		if filter == nil {
			return next(ctx, op)
		}
		return next(ctx, op.WithWhere(And(op.Where, filter)))
	}

	return next(ctx, op)
}

func applyRead(ctx context.Context, tc Context, op Operation, next Next) (Result, error) {
	filter := BuildFilter(op.Kind, tc)
	if filter == nil {
		return next(ctx, op)
	}

	// Unique lookups cannot carry compound predicates, so they become a
	// filtered first-match lookup. A record of another tenant is then
	// indistinguishable from a missing one.
	if op.Action == ActionReadUnique {
		op = op.WithAction(ActionReadOne)
	}
	return next(ctx, op.WithWhere(And(op.Where, filter)))
}

// withOwnershipDefaults fills ownership fields the payload leaves unset.
// Only the first user-scoped field receives the caller's user id.
func withOwnershipDefaults(schema Schema, tc Context, op Operation) Operation {
	data := op.Data
	cloned := false
	set := func(field, value string) {
		if value == "" || hasValue(data, field) {
			return
		}
		if !cloned {
			data = cloneData(data)
			cloned = true
		}
		data[field] = value
	}

	for _, name := range schema.FieldsWithScope(ScopeOrganization) {
		set(name, tc.OrganizationID)
	}
	if users := schema.FieldsWithScope(ScopeUser); len(users) > 0 {
		set(users[0], tc.UserID)
	}
	for _, name := range schema.FieldsWithScope(ScopeTeam) {
		set(name, tc.TeamID)
	}

	if !cloned {
		return op
	}
	op.Data = data
	return op
}

func applySingleMutation(ctx context.Context, tc Context, op Operation, next Next) (Result, error) {
	filter := BuildFilter(op.Kind, tc)
	if filter == nil {
		return next(ctx, op)
	}

	id, _ := op.Where.ID()
	bulk := ActionUpdateMany
	if op.Action == ActionDelete {
		bulk = ActionDeleteMany
	}

	result, err := next(ctx, op.WithAction(bulk).WithWhere(And(Where{"id": id}, filter)))
	if err != nil {
		return Result{}, err
	}

	if result.Count == 0 {
		return Result{}, fmt.Errorf("no %s record with id %v in scope: %w",
			op.Kind, id, apperrors.ErrNotFoundOrForbidden)
	}

	if op.Action == ActionDelete {
		return Result{Count: 1}, nil
	}

	// Ownership was proven by the filtered update, so the re-read is by id alone.
	lookup := Operation{
		Kind:   op.Kind,
		Action: ActionReadUnique,
		Where:  Where{"id": id},
		Select: op.Select,
	}
	updated, err := next(ctx, lookup)
	if err != nil {
		return Result{}, err
	}
	if updated.Record == nil {
		return Result{}, fmt.Errorf("%s record %v missing after update: %w",
			op.Kind, id, apperrors.ErrInconsistentState)
	}
	return Result{Record: updated.Record}, nil
}

// hasValue mirrors a truthiness check on the payload: absent, nil and empty
// string values count as unset.
func hasValue(data map[string]any, field string) bool {
	v, ok := data[field]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	return out
}
