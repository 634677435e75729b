package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

func mustLayout(t *testing.T, kind tenant.EntityKind) *layout {
	t.Helper()
	l, ok := layoutFor(kind)
	require.True(t, ok, "no layout for %s", kind)
	return l
}

func TestTableName(t *testing.T) {
	tests := []struct {
		kind tenant.EntityKind
		want string
	}{
		{tenant.Workflow, "workflows"},
		{tenant.AIPrompt, "ai_prompts"},
		{tenant.KnowledgeBase, "knowledge_bases"},
		{tenant.KnowledgeDocument, "knowledge_documents"},
		{tenant.ApiKey, "api_keys"},
		{tenant.VoiceInteraction, "voice_interactions"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, TableName(tt.kind))
		})
	}
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "organization_id", ColumnName("organizationId"))
	assert.Equal(t, "created_by_id", ColumnName("createdById"))
	assert.Equal(t, "is_public", ColumnName("isPublic"))
	assert.Equal(t, "id", ColumnName("id"))
}

func TestBuildSelect_ColumnEquality(t *testing.T) {
	l := mustLayout(t, tenant.Workflow)

	stmt, err := buildSelect(l, tenant.Operation{Where: tenant.Where{"organizationId": "o1"}}, false)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT t.id, t.organization_id, t.created_by_id, t.team_id, t.is_public, t.created_at, t.updated_at, t.attributes "+
			"FROM workflows t WHERE t.organization_id = $1 ORDER BY t.created_at, t.id",
		stmt.sql)
	assert.Equal(t, []any{"o1"}, stmt.args)
}

func TestBuildSelect_Pagination(t *testing.T) {
	l := mustLayout(t, tenant.ApiKey)

	stmt, err := buildSelect(l, tenant.Operation{Take: 10, Skip: 20}, false)
	require.NoError(t, err)
	assert.Contains(t, stmt.sql, "WHERE TRUE ORDER BY")
	assert.Contains(t, stmt.sql, " LIMIT $1 OFFSET $2")
	assert.Equal(t, []any{10, 20}, stmt.args)

	stmt, err = buildSelect(l, tenant.Operation{Take: 10}, true)
	require.NoError(t, err)
	assert.Contains(t, stmt.sql, " LIMIT 1")
	assert.Empty(t, stmt.args)
}

func TestWhere_Compounds(t *testing.T) {
	l := mustLayout(t, tenant.Workflow)
	b := &sqlBuilder{}

	cond, err := b.where(l, rowAlias, tenant.And(
		tenant.Where{"teamId": nil},
		tenant.Or(tenant.Where{"createdById": "u1"}, tenant.Where{"isPublic": true}),
		tenant.Where{tenant.KeyNot: tenant.Where{"organizationId": "o2"}},
	))
	require.NoError(t, err)

	assert.Equal(t,
		"(t.team_id IS NULL AND (t.created_by_id = $1 OR t.is_public = $2) AND NOT (t.organization_id = $3))",
		cond)
	assert.Equal(t, []any{"u1", true, "o2"}, b.args)
}

func TestWhere_EmptyBranches(t *testing.T) {
	l := mustLayout(t, tenant.Workflow)

	cond, err := (&sqlBuilder{}).where(l, rowAlias, tenant.Or())
	require.NoError(t, err)
	assert.Equal(t, "FALSE", cond)

	cond, err = (&sqlBuilder{}).where(l, rowAlias, tenant.Where{})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", cond)

	cond, err = (&sqlBuilder{}).where(l, rowAlias, tenant.And(nil))
	require.NoError(t, err)
	assert.Equal(t, "(TRUE)", cond)
}

func TestWhere_Attribute(t *testing.T) {
	l := mustLayout(t, tenant.Workflow)
	b := &sqlBuilder{}

	cond, err := b.where(l, rowAlias, tenant.Where{"name": "Onboarding"})
	require.NoError(t, err)
	assert.Equal(t, "t.attributes->$1::text = $2::jsonb", cond)
	assert.Equal(t, []any{"name", `"Onboarding"`}, b.args)
}

func TestWhere_Relation(t *testing.T) {
	l := mustLayout(t, tenant.KnowledgeDocument)
	b := &sqlBuilder{}

	cond, err := b.where(l, rowAlias, tenant.Where{"knowledgeBase": tenant.Where{"ownerId": "u1"}})
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM knowledge_bases p1 WHERE p1.id = t.knowledge_base_id AND p1.owner_id = $1)",
		cond)
	assert.Equal(t, []any{"u1"}, b.args)
}

func TestWhere_DecodedJSON(t *testing.T) {
	l := mustLayout(t, tenant.AIPrompt)
	b := &sqlBuilder{}

	cond, err := b.where(l, rowAlias, tenant.Where{
		"OR": []any{
			map[string]any{"userId": "u1"},
			map[string]any{"organizationId": "o1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "(t.user_id = $1 OR t.organization_id = $2)", cond)
}

func TestWhere_Errors(t *testing.T) {
	l := mustLayout(t, tenant.KnowledgeDocument)

	tests := []struct {
		name  string
		where tenant.Where
	}{
		{"invalid field name", tenant.Where{"title; DROP TABLE x": "a"}},
		{"relation with scalar", tenant.Where{"knowledgeBase": "kb1"}},
		{"OR with scalar branch", tenant.Where{"OR": []any{"x"}}},
		{"NOT with scalar", tenant.Where{"NOT": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&sqlBuilder{}).where(l, rowAlias, tt.where)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidArg))
		})
	}
}

func TestBuildInsert(t *testing.T) {
	l := mustLayout(t, tenant.AIPrompt)

	stmt, err := buildInsert(l, map[string]any{"id": "p1", "userId": "u1", "prompt": "hello"})
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO ai_prompts AS t (id, user_id, attributes) VALUES ($1, $2, $3::jsonb) "+
			"RETURNING t.id, t.user_id, t.organization_id, t.is_public, t.created_at, t.updated_at, t.attributes",
		stmt.sql)
	assert.Equal(t, []any{"p1", "u1", `{"prompt":"hello"}`}, stmt.args)
}

func TestBuildUpdate(t *testing.T) {
	l := mustLayout(t, tenant.Workflow)
	op := tenant.Operation{Where: tenant.Where{"id": "w1"}, Data: map[string]any{"name": "n", "teamId": "t1"}}

	bulk, err := buildUpdate(l, op, false)
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE workflows AS t SET team_id = $1, attributes = t.attributes || $2::jsonb, updated_at = now() WHERE t.id = $3",
		bulk.sql)
	assert.Equal(t, []any{"t1", `{"name":"n"}`, "w1"}, bulk.args)

	single, err := buildUpdate(l, op, true)
	require.NoError(t, err)
	assert.Contains(t, single.sql,
		"WHERE t.id = (SELECT s.id FROM workflows s WHERE s.id = $3 ORDER BY s.created_at, s.id LIMIT 1) RETURNING t.id,")
}

func TestBuildDelete(t *testing.T) {
	l := mustLayout(t, tenant.Comment)
	op := tenant.Operation{Where: tenant.Where{"userId": "u1"}}

	bulk, err := buildDelete(l, op, false)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM comments AS t WHERE t.user_id = $1", bulk.sql)

	single, err := buildDelete(l, op, true)
	require.NoError(t, err)
	assert.Equal(t,
		"DELETE FROM comments AS t WHERE t.id = (SELECT s.id FROM comments s WHERE s.user_id = $1 "+
			"ORDER BY s.created_at, s.id LIMIT 1) RETURNING t.id, t.user_id, t.created_at, t.updated_at, t.attributes",
		single.sql)
}

func TestToRecord(t *testing.T) {
	l := mustLayout(t, tenant.AIPrompt)

	rec := l.toRecord(map[string]any{
		"id":              "p1",
		"user_id":         "u1",
		"organization_id": nil,
		"is_public":       false,
		"attributes":      map[string]any{"prompt": "hi", "userId": "spoofed"},
	})

	assert.Equal(t, tenant.Record{
		"id":             "p1",
		"userId":         "u1",
		"organizationId": nil,
		"isPublic":       false,
		"prompt":         "hi",
	}, rec)
}
