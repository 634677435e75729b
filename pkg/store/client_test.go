package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

func newSeededClient(t *testing.T) *Client {
	t.Helper()
	m := NewMemoryExecutor()
	seedMemory(t, m, tenant.Workflow,
		map[string]any{"id": "w1", "createdById": "u1", "organizationId": "o1", "name": "mine"},
		map[string]any{"id": "w2", "createdById": "u2", "organizationId": "o1", "name": "colleague"},
		map[string]any{"id": "w3", "createdById": "u3", "organizationId": "o2", "name": "other org"},
		map[string]any{"id": "w4", "createdById": "u3", "organizationId": "o2", "isPublic": true, "name": "shared"},
	)
	seedMemory(t, m, tenant.KnowledgeBase,
		map[string]any{"id": "kb1", "ownerId": "u1"},
		map[string]any{"id": "kb2", "ownerId": "u3", "organizationId": "o2"},
	)
	seedMemory(t, m, tenant.KnowledgeDocument,
		map[string]any{"id": "d1", "createdById": "u9", "knowledgeBaseId": "kb1"},
		map[string]any{"id": "d2", "createdById": "u9", "knowledgeBaseId": "kb2"},
		map[string]any{"id": "d3", "createdById": "u1", "knowledgeBaseId": "kb2"},
	)
	return NewClient(m)
}

func TestClient_ForTenantReads(t *testing.T) {
	c := newSeededClient(t)
	ctx := context.Background()
	u1 := c.ForTenant(tenant.Context{UserID: "u1", OrganizationID: "o1"})

	records, err := u1.FindMany(ctx, tenant.Workflow, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"w1", "w2"}, ids(records))

	withPublic := c.ForTenant(tenant.Context{UserID: "u1", OrganizationID: "o1", IncludePublic: true})
	records, err = withPublic.FindMany(ctx, tenant.Workflow, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"w1", "w2", "w4"}, ids(records))

	n, err := u1.Count(ctx, tenant.Workflow, tenant.Where{"name": "other org"})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Another tenant's record is indistinguishable from a missing one.
	rec, err := u1.FindUnique(ctx, tenant.Workflow, "w3")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = u1.FindUnique(ctx, tenant.Workflow, "w2", "id", "name")
	require.NoError(t, err)
	assert.Equal(t, tenant.Record{"id": "w2", "name": "colleague"}, rec)
}

func TestClient_NestedOwnership(t *testing.T) {
	c := newSeededClient(t)
	u1 := c.ForTenant(tenant.Context{UserID: "u1"})

	records, err := u1.FindMany(context.Background(), tenant.KnowledgeDocument, nil, 0, 0)
	require.NoError(t, err)
	// d1 through the owned knowledge base, d3 as its creator.
	assert.Equal(t, []any{"d1", "d3"}, ids(records))

	o2 := c.ForTenant(tenant.Context{OrganizationID: "o2"})
	records, err = o2.FindMany(context.Background(), tenant.KnowledgeDocument, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"d2", "d3"}, ids(records))
}

func TestClient_CreateDefaults(t *testing.T) {
	c := newSeededClient(t)
	u1 := c.ForTenant(tenant.Context{UserID: "u1", OrganizationID: "o1", TeamID: "t1"})

	rec, err := u1.Create(context.Background(), tenant.Workflow, map[string]any{"name": "new"})
	require.NoError(t, err)
	assert.Equal(t, "u1", rec["createdById"])
	assert.Equal(t, "o1", rec["organizationId"])
	assert.Equal(t, "t1", rec["teamId"])

	rec, err = u1.Create(context.Background(), tenant.Workflow, map[string]any{"name": "x", "organizationId": "o9"})
	require.NoError(t, err)
	assert.Equal(t, "o9", rec["organizationId"])
}

func TestClient_UpdateInScope(t *testing.T) {
	c := newSeededClient(t)
	u1 := c.ForTenant(tenant.Context{UserID: "u1", OrganizationID: "o1"})

	rec, err := u1.Update(context.Background(), tenant.Workflow, "w2", map[string]any{"name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec["name"])
	assert.Equal(t, "w2", rec["id"])
}

func TestClient_CrossTenantMutationsDenied(t *testing.T) {
	c := newSeededClient(t)
	ctx := context.Background()
	u1 := c.ForTenant(tenant.Context{UserID: "u1", OrganizationID: "o1"})

	_, err := u1.Update(ctx, tenant.Workflow, "w3", map[string]any{"name": "hijacked"})
	assert.True(t, errors.Is(err, apperrors.ErrNotFoundOrForbidden))

	err = u1.Delete(ctx, tenant.Workflow, "w3")
	assert.True(t, errors.Is(err, apperrors.ErrNotFoundOrForbidden))

	err = u1.Delete(ctx, tenant.Workflow, "does-not-exist")
	assert.True(t, errors.Is(err, apperrors.ErrNotFoundOrForbidden))

	rec, err := c.FindUnique(ctx, tenant.Workflow, "w3")
	require.NoError(t, err)
	assert.Equal(t, "other org", rec["name"])
}

func TestClient_BulkMutationsScoped(t *testing.T) {
	c := newSeededClient(t)
	ctx := context.Background()
	u3 := c.ForTenant(tenant.Context{UserID: "u3"})

	n, err := u3.UpdateMany(ctx, tenant.Workflow, nil, map[string]any{"archived": true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = u3.DeleteMany(ctx, tenant.Workflow, tenant.Where{"archived": true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Count(ctx, tenant.Workflow, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestClient_DeleteInScope(t *testing.T) {
	c := newSeededClient(t)
	ctx := context.Background()

	require.NoError(t, c.ForTenant(tenant.Context{UserID: "u1"}).Delete(ctx, tenant.Workflow, "w1"))

	rec, err := c.FindUnique(ctx, tenant.Workflow, "w1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestClient_Aggregate(t *testing.T) {
	c := newSeededClient(t)

	agg, err := c.ForTenant(tenant.Context{OrganizationID: "o2"}).Aggregate(context.Background(), tenant.Workflow, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg["_count"])
}

func TestClient_RawBypassesTenantFilter(t *testing.T) {
	var got tenant.Operation
	exec := ExecutorFunc(func(_ context.Context, op tenant.Operation) (tenant.Result, error) {
		got = op
		return tenant.Result{Count: 3}, nil
	})

	c := NewClient(exec).ForTenant(tenant.Context{UserID: "u1"})
	res, err := c.Raw(context.Background(), "UPDATE workflows SET team_id = $1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, tenant.ActionRaw, got.Action)
	assert.Nil(t, got.Where)
	assert.Equal(t, []any{"t1"}, got.Args)
}

func TestClient_InterceptorOrder(t *testing.T) {
	var order []string
	mark := func(name string) tenant.Interceptor {
		return func(ctx context.Context, op tenant.Operation, next tenant.Next) (tenant.Result, error) {
			order = append(order, name)
			return next(ctx, op)
		}
	}

	base := NewClient(NewMemoryExecutor(), mark("outer"))
	derived := base.With(mark("inner"))

	_, err := derived.Count(context.Background(), tenant.Comment, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)

	order = nil
	_, err = base.Count(context.Background(), tenant.Comment, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer"}, order, "With must not modify the base client")
}
