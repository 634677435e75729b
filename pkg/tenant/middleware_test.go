package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
)

// recorder is a Next that records forwarded operations and replays canned results.
type recorder struct {
	ops     []Operation
	results []Result
	errs    []error
}

func (r *recorder) next(_ context.Context, op Operation) (Result, error) {
	i := len(r.ops)
	r.ops = append(r.ops, op)
	var res Result
	var err error
	if i < len(r.results) {
		res = r.results[i]
	}
	if i < len(r.errs) {
		err = r.errs[i]
	}
	return res, err
}

func TestApply_ReadManyScopedToUserAndOrganization(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: Workflow, Action: ActionReadMany, Where: Where{"name": "Foo"}}

	_, err := Apply(context.Background(), Context{UserID: "u1", OrganizationID: "o1"}, op, rec.next)
	require.NoError(t, err)
	require.Len(t, rec.ops, 1)

	want := Where{"AND": []Where{
		{"name": "Foo"},
		{"OR": []Where{
			{"createdById": "u1"},
			{"organizationId": "o1"},
		}},
	}}
	assert.Equal(t, ActionReadMany, rec.ops[0].Action)
	assert.Equal(t, want, rec.ops[0].Where)
	// The caller's operation is left alone.
	assert.Equal(t, Where{"name": "Foo"}, op.Where)
}

func TestApply_AdminBypass(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: Workflow, Action: ActionDelete, Where: Where{"id": "w1"}}

	_, err := Apply(context.Background(), Context{IsAdmin: true, UserID: "u1"}, op, rec.next)
	require.NoError(t, err)
	require.Len(t, rec.ops, 1)
	assert.Equal(t, op, rec.ops[0])
}

func TestApply_RawBypass(t *testing.T) {
	rec := &recorder{results: []Result{{Count: 3}}}
	op := Operation{Action: ActionRaw, SQL: "DELETE FROM workflows"}

	res, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, op, rec.ops[0])
}

func TestApply_UnknownKindPassesThrough(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: EntityKind("User"), Action: ActionReadMany, Where: Where{"email": "a@b.c"}}

	_, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, op, rec.ops[0])
}

func TestApply_ReadWithoutIdentityPassesThrough(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: AIPrompt, Action: ActionCount}

	_, err := Apply(context.Background(), Context{IncludePublic: true}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, op, rec.ops[0])
}

func TestApply_ReadUniqueDowngrade(t *testing.T) {
	rec := &recorder{results: []Result{{Record: Record{"id": "p1"}}}}
	op := Operation{Kind: AIPrompt, Action: ActionReadUnique, Where: Where{"id": "p1"}}

	res, err := Apply(context.Background(), Context{OrganizationID: "org-1"}, op, rec.next)
	require.NoError(t, err)

	want := Where{"AND": []Where{
		{"id": "p1"},
		{"OR": []Where{{"organizationId": "org-1"}}},
	}}
	assert.Equal(t, ActionReadOne, rec.ops[0].Action)
	assert.Equal(t, want, rec.ops[0].Where)
	assert.Equal(t, Record{"id": "p1"}, res.Record)
}

func TestApply_ReadWithoutPredicate(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: Comment, Action: ActionAggregate}

	_, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
	require.NoError(t, err)

	want := Where{"AND": []Where{
		{},
		{"OR": []Where{{"userId": "u1"}}},
	}}
	assert.Equal(t, want, rec.ops[0].Where)
}

func TestApply_CreateFillsOwnership(t *testing.T) {
	rec := &recorder{}
	data := map[string]any{"name": "flow"}
	op := Operation{Kind: Workflow, Action: ActionCreate, Data: data}

	_, err := Apply(context.Background(), Context{UserID: "u1", OrganizationID: "o1", TeamID: "t1"}, op, rec.next)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"name":           "flow",
		"organizationId": "o1",
		"createdById":    "u1",
		"teamId":         "t1",
	}, rec.ops[0].Data)
	assert.Equal(t, map[string]any{"name": "flow"}, data, "caller payload must not be mutated")
}

func TestApply_CreateNeverOverwrites(t *testing.T) {
	rec := &recorder{}
	op := Operation{
		Kind:   AIPrompt,
		Action: ActionCreate,
		Data:   map[string]any{"organizationId": "explicit"},
	}

	_, err := Apply(context.Background(), Context{UserID: "u1", OrganizationID: "ctx-org"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, "explicit", rec.ops[0].Data["organizationId"])
	assert.Equal(t, "u1", rec.ops[0].Data["userId"])
}

func TestApply_CreateReferenceFieldNotDefaulted(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: KnowledgeDocument, Action: ActionCreate, Data: map[string]any{"knowledgeBaseId": "kb1"}}

	_, err := Apply(context.Background(), Context{UserID: "u1", OrganizationID: "o1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"knowledgeBaseId": "kb1", "createdById": "u1"}, rec.ops[0].Data)
}

func TestApply_CreateKnowledgeBaseOwnerNotDefaulted(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: KnowledgeBase, Action: ActionCreate, Data: map[string]any{"name": "x"}}

	_, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x"}, rec.ops[0].Data)

	_, err = Apply(context.Background(), Context{UserID: "u1", OrganizationID: "o1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "organizationId": "o1"}, rec.ops[1].Data)
}

func TestApply_KnowledgeBaseReadWithUserOnlyPassesThrough(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: KnowledgeBase, Action: ActionReadMany, Where: Where{"name": "x"}}

	_, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, op, rec.ops[0])
}

func TestApply_CreateWithoutIdentityKeepsPayload(t *testing.T) {
	rec := &recorder{}
	op := Operation{Kind: Comment, Action: ActionCreate, Data: map[string]any{"body": "hi"}}

	_, err := Apply(context.Background(), Context{}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, op, rec.ops[0])
}

func TestApply_UpdateReturnsReloadedRecord(t *testing.T) {
	updated := Record{"id": "abc", "teamId": "t1", "name": "renamed"}
	rec := &recorder{results: []Result{{Count: 1}, {Record: updated}}}
	op := Operation{
		Kind:   Workflow,
		Action: ActionUpdate,
		Where:  Where{"id": "abc"},
		Data:   map[string]any{"name": "renamed"},
		Select: []string{"id", "name"},
	}

	res, err := Apply(context.Background(), Context{TeamID: "t1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, updated, res.Record)

	require.Len(t, rec.ops, 2)
	assert.Equal(t, ActionUpdateMany, rec.ops[0].Action)
	assert.Equal(t, Where{"AND": []Where{
		{"id": "abc"},
		{"OR": []Where{{"teamId": "t1"}}},
	}}, rec.ops[0].Where)
	assert.Equal(t, map[string]any{"name": "renamed"}, rec.ops[0].Data)

	assert.Equal(t, ActionReadUnique, rec.ops[1].Action)
	assert.Equal(t, Where{"id": "abc"}, rec.ops[1].Where)
	assert.Equal(t, []string{"id", "name"}, rec.ops[1].Select)
}

func TestApply_UpdateVanishedRecordIsInconsistent(t *testing.T) {
	rec := &recorder{results: []Result{{Count: 1}, {}}}
	op := Operation{Kind: Workflow, Action: ActionUpdate, Where: Where{"id": "abc"}, Data: map[string]any{"name": "x"}}

	_, err := Apply(context.Background(), Context{TeamID: "t1"}, op, rec.next)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInconsistentState)
	assert.NotErrorIs(t, err, apperrors.ErrNotFoundOrForbidden)
}

func TestApply_ZeroAffectedIsNotFoundOrForbidden(t *testing.T) {
	for _, action := range []Action{ActionUpdate, ActionDelete} {
		t.Run(string(action), func(t *testing.T) {
			rec := &recorder{results: []Result{{Count: 0}}}
			op := Operation{Kind: ApiKey, Action: action, Where: Where{"id": "k1"}}

			_, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
			assert.ErrorIs(t, err, apperrors.ErrNotFoundOrForbidden)
			assert.Len(t, rec.ops, 1, "next must not be called again")
		})
	}
}

func TestApply_DeleteNormalizesCount(t *testing.T) {
	rec := &recorder{results: []Result{{Count: 4}}}
	op := Operation{Kind: VoiceInteraction, Action: ActionDelete, Where: Where{"id": "v1", "ignored": true}}

	res, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, Result{Count: 1}, res)

	assert.Equal(t, ActionDeleteMany, rec.ops[0].Action)
	assert.Equal(t, Where{"AND": []Where{
		{"id": "v1"},
		{"OR": []Where{{"userId": "u1"}}},
	}}, rec.ops[0].Where)
}

func TestApply_BulkMutationsKeepNativeResult(t *testing.T) {
	for _, action := range []Action{ActionUpdateMany, ActionDeleteMany} {
		t.Run(string(action), func(t *testing.T) {
			rec := &recorder{results: []Result{{Count: 0}}}
			op := Operation{Kind: Comment, Action: action, Where: Where{"flagged": true}}

			res, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
			require.NoError(t, err)
			assert.Equal(t, int64(0), res.Count)
			assert.Equal(t, action, rec.ops[0].Action)
			assert.Equal(t, Where{"AND": []Where{
				{"flagged": true},
				{"OR": []Where{{"userId": "u1"}}},
			}}, rec.ops[0].Where)
		})
	}
}

func TestApply_MutationWithoutFilterPassesThrough(t *testing.T) {
	rec := &recorder{results: []Result{{Record: Record{"id": "k1"}}}}
	op := Operation{Kind: ApiKey, Action: ActionUpdate, Where: Where{"id": "k1"}}

	// ApiKey has no organization field, so no filter can be built.
	res, err := Apply(context.Background(), Context{OrganizationID: "o1"}, op, rec.next)
	require.NoError(t, err)
	assert.Equal(t, op, rec.ops[0])
	assert.Equal(t, Record{"id": "k1"}, res.Record)
}

func TestApply_StoreErrorsPropagate(t *testing.T) {
	storeErr := errors.New("connection reset")
	rec := &recorder{errs: []error{storeErr}}
	op := Operation{Kind: Workflow, Action: ActionUpdate, Where: Where{"id": "w1"}}

	_, err := Apply(context.Background(), Context{UserID: "u1"}, op, rec.next)
	assert.Same(t, storeErr, err)
	assert.Len(t, rec.ops, 1)
}

func TestChain_Order(t *testing.T) {
	var trace []string
	mark := func(name string) Interceptor {
		return func(ctx context.Context, op Operation, next Next) (Result, error) {
			trace = append(trace, name)
			return next(ctx, op)
		}
	}
	final := func(context.Context, Operation) (Result, error) {
		trace = append(trace, "store")
		return Result{}, nil
	}

	_, err := Chain(final, mark("outer"), mark("inner"))(context.Background(), Operation{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "store"}, trace)
}

func TestNewTenantMiddleware(t *testing.T) {
	rec := &recorder{}
	next := Chain(rec.next, NewTenantMiddleware(Context{UserID: "u1"}))

	_, err := next(context.Background(), Operation{Kind: VoiceAnalytics, Action: ActionReadMany})
	require.NoError(t, err)
	assert.Equal(t, Where{"AND": []Where{
		{},
		{"OR": []Where{{"userId": "u1"}}},
	}}, rec.ops[0].Where)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	tc := Context{UserID: "u1", TeamID: "t1"}
	got, ok := FromContext(WithContext(context.Background(), tc))
	assert.True(t, ok)
	assert.Equal(t, tc, got)
}
