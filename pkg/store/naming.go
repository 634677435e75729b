package store

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Columns every entity table carries besides its ownership fields.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"

	attributesColumn = "attributes"
)

// TableName returns the table backing kind, e.g. KnowledgeDocument -> knowledge_documents.
func TableName(kind tenant.EntityKind) string {
	return inflection.Plural(snakeCase(string(kind)))
}

// ColumnName returns the column for a camelCase field name, e.g. organizationId -> organization_id.
func ColumnName(field string) string {
	return snakeCase(field)
}

func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// layout describes how the fields of one kind map onto its table.
type layout struct {
	kind    tenant.EntityKind
	schema  tenant.Schema
	table   string
	columns map[string]string // field -> column for real columns
	fields  []string          // real-column fields in select order
}

func layoutFor(kind tenant.EntityKind) (*layout, bool) {
	schema, ok := kind.Schema()
	if !ok {
		return nil, false
	}

	l := &layout{
		kind:    kind,
		schema:  schema,
		table:   TableName(kind),
		columns: make(map[string]string),
	}
	add := func(field string) {
		if _, exists := l.columns[field]; exists {
			return
		}
		l.columns[field] = ColumnName(field)
		l.fields = append(l.fields, field)
	}

	add(FieldID)
	for _, f := range schema.Fields {
		add(f.Name)
	}
	if schema.PublicField != "" {
		add(schema.PublicField)
	}
	add(FieldCreatedAt)
	add(FieldUpdatedAt)
	return l, true
}

// selectList returns the qualified column list for alias.
func (l *layout) selectList(alias string) string {
	cols := make([]string, 0, len(l.fields)+1)
	for _, f := range l.fields {
		cols = append(cols, alias+"."+l.columns[f])
	}
	cols = append(cols, alias+"."+attributesColumn)
	return strings.Join(cols, ", ")
}

// splitData separates a payload into real-column values and JSONB attributes.
func (l *layout) splitData(data map[string]any) (map[string]any, map[string]any) {
	cols := make(map[string]any)
	attrs := make(map[string]any)
	for k, v := range data {
		if _, ok := l.columns[k]; ok {
			cols[k] = v
			continue
		}
		attrs[k] = v
	}
	return cols, attrs
}

// toRecord converts a scanned row keyed by column name into a Record keyed by field name.
func (l *layout) toRecord(row map[string]any) tenant.Record {
	rec := make(tenant.Record, len(row))
	if attrs, ok := row[attributesColumn].(map[string]any); ok {
		for k, v := range attrs {
			rec[k] = v
		}
	}
	for _, f := range l.fields {
		if v, ok := row[l.columns[f]]; ok {
			rec[f] = v
		}
	}
	return rec
}

// project keeps only the selected fields. An empty selection keeps everything.
func project(rec tenant.Record, fields []string) tenant.Record {
	if rec == nil || len(fields) == 0 {
		return rec
	}
	out := make(tenant.Record, len(fields))
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
