package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// statement is a compiled SQL statement with its positional arguments.
type statement struct {
	sql  string
	args []any
}

// sqlBuilder accumulates positional arguments while compiling one statement.
type sqlBuilder struct {
	args    []any
	aliases int
}

func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) bindJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode attribute value: %w", err)
	}
	return b.bind(string(raw)) + "::jsonb", nil
}

func (b *sqlBuilder) nextAlias() string {
	b.aliases++
	return "p" + strconv.Itoa(b.aliases)
}

// where compiles a predicate over table alias into a boolean SQL expression.
func (b *sqlBuilder) where(l *layout, alias string, w tenant.Where) (string, error) {
	if len(w) == 0 {
		return "TRUE", nil
	}

	parts := make([]string, 0, len(w))
	for _, key := range sortedKeys(w) {
		value := w[key]
		var (
			part string
			err  error
		)
		switch key {
		case tenant.KeyAnd, tenant.KeyOr:
			part, err = b.compound(l, alias, key, value)
		case tenant.KeyNot:
			inner, ok := asWhere(value)
			if !ok {
				return "", fmt.Errorf("NOT must be an object, got %T: %w", value, apperrors.ErrInvalidArg)
			}
			part, err = b.where(l, alias, inner)
			part = "NOT (" + part + ")"
		default:
			part, err = b.field(l, alias, key, value)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) compound(l *layout, alias, key string, value any) (string, error) {
	branches, err := asWhereList(key, value)
	if err != nil {
		return "", err
	}
	if len(branches) == 0 {
		if key == tenant.KeyOr {
			return "FALSE", nil
		}
		return "TRUE", nil
	}

	joiner := " AND "
	if key == tenant.KeyOr {
		joiner = " OR "
	}
	parts := make([]string, 0, len(branches))
	for _, branch := range branches {
		part, err := b.where(l, alias, branch)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func (b *sqlBuilder) field(l *layout, alias, name string, value any) (string, error) {
	if err := validateField(name); err != nil {
		return "", err
	}

	if parent := l.schema.Parent; parent != nil && name == parent.Relation {
		return b.relation(l, alias, parent, value)
	}

	if col, ok := l.columns[name]; ok {
		if value == nil {
			return alias + "." + col + " IS NULL", nil
		}
		return alias + "." + col + " = " + b.bind(value), nil
	}

	path := alias + "." + attributesColumn + "->" + b.bind(name) + "::text"
	if value == nil {
		return "(" + path + " IS NULL OR " + path + " = 'null'::jsonb)", nil
	}
	placeholder, err := b.bindJSON(value)
	if err != nil {
		return "", err
	}
	return path + " = " + placeholder, nil
}

func (b *sqlBuilder) relation(l *layout, alias string, parent *tenant.Indirection, value any) (string, error) {
	inner, ok := asWhere(value)
	if !ok {
		return "", fmt.Errorf("relation %s filter must be an object, got %T: %w", parent.Relation, value, apperrors.ErrInvalidArg)
	}
	pl, ok := layoutFor(parent.Kind)
	if !ok {
		return "", fmt.Errorf("relation %s: %w", parent.Relation, apperrors.ErrUnknownEntity)
	}

	pa := b.nextAlias()
	cond, err := b.where(pl, pa, inner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s.%s = %s.%s AND %s)",
		pl.table, pa, pa, pl.columns[FieldID], alias, ColumnName(parent.ForeignKey), cond), nil
}

// assignments compiles the SET list of an UPDATE for alias.
func (b *sqlBuilder) assignments(l *layout, alias string, data map[string]any) (string, error) {
	cols, attrs := l.splitData(data)

	sets := make([]string, 0, len(cols)+2)
	for _, f := range sortedKeys(cols) {
		if f == FieldCreatedAt || f == FieldUpdatedAt {
			continue
		}
		sets = append(sets, l.columns[f]+" = "+b.bind(cols[f]))
	}
	if len(attrs) > 0 {
		for k := range attrs {
			if err := validateField(k); err != nil {
				return "", err
			}
		}
		placeholder, err := b.bindJSON(attrs)
		if err != nil {
			return "", err
		}
		sets = append(sets, attributesColumn+" = "+alias+"."+attributesColumn+" || "+placeholder)
	}
	sets = append(sets, l.columns[FieldUpdatedAt]+" = now()")
	return strings.Join(sets, ", "), nil
}

const rowAlias = "t"

func buildSelect(l *layout, op tenant.Operation, limitOne bool) (statement, error) {
	b := &sqlBuilder{}
	cond, err := b.where(l, rowAlias, op.Where)
	if err != nil {
		return statement{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s %s WHERE %s ORDER BY %s.%s, %s.%s",
		l.selectList(rowAlias), l.table, rowAlias, cond,
		rowAlias, l.columns[FieldCreatedAt], rowAlias, l.columns[FieldID])
	switch {
	case limitOne:
		sb.WriteString(" LIMIT 1")
	case op.Take > 0:
		sb.WriteString(" LIMIT " + b.bind(op.Take))
	}
	if op.Skip > 0 {
		sb.WriteString(" OFFSET " + b.bind(op.Skip))
	}
	return statement{sql: sb.String(), args: b.args}, nil
}

func buildCount(l *layout, op tenant.Operation) (statement, error) {
	b := &sqlBuilder{}
	cond, err := b.where(l, rowAlias, op.Where)
	if err != nil {
		return statement{}, err
	}
	return statement{
		sql:  fmt.Sprintf("SELECT count(*) FROM %s %s WHERE %s", l.table, rowAlias, cond),
		args: b.args,
	}, nil
}

func buildAggregate(l *layout, op tenant.Operation) (statement, error) {
	b := &sqlBuilder{}
	cond, err := b.where(l, rowAlias, op.Where)
	if err != nil {
		return statement{}, err
	}
	created := rowAlias + "." + l.columns[FieldCreatedAt]
	return statement{
		sql: fmt.Sprintf("SELECT count(*), min(%s), max(%s) FROM %s %s WHERE %s",
			created, created, l.table, rowAlias, cond),
		args: b.args,
	}, nil
}

func buildInsert(l *layout, data map[string]any) (statement, error) {
	b := &sqlBuilder{}
	cols, attrs := l.splitData(data)
	for k := range attrs {
		if err := validateField(k); err != nil {
			return statement{}, err
		}
	}

	names := make([]string, 0, len(cols)+1)
	values := make([]string, 0, len(cols)+1)
	for _, f := range sortedKeys(cols) {
		names = append(names, l.columns[f])
		values = append(values, b.bind(cols[f]))
	}
	placeholder, err := b.bindJSON(attrs)
	if err != nil {
		return statement{}, err
	}
	names = append(names, attributesColumn)
	values = append(values, placeholder)

	return statement{
		sql: fmt.Sprintf("INSERT INTO %s AS %s (%s) VALUES (%s) RETURNING %s",
			l.table, rowAlias, strings.Join(names, ", "), strings.Join(values, ", "), l.selectList(rowAlias)),
		args: b.args,
	}, nil
}

func buildUpdate(l *layout, op tenant.Operation, returning bool) (statement, error) {
	b := &sqlBuilder{}
	sets, err := b.assignments(l, rowAlias, op.Data)
	if err != nil {
		return statement{}, err
	}

	if !returning {
		cond, err := b.where(l, rowAlias, op.Where)
		if err != nil {
			return statement{}, err
		}
		return statement{
			sql:  fmt.Sprintf("UPDATE %s AS %s SET %s WHERE %s", l.table, rowAlias, sets, cond),
			args: b.args,
		}, nil
	}

	// A singular update touches at most the first matching row.
	first, err := b.firstMatch(l, op.Where)
	if err != nil {
		return statement{}, err
	}
	return statement{
		sql: fmt.Sprintf("UPDATE %s AS %s SET %s WHERE %s.%s = (%s) RETURNING %s",
			l.table, rowAlias, sets, rowAlias, l.columns[FieldID], first, l.selectList(rowAlias)),
		args: b.args,
	}, nil
}

func buildDelete(l *layout, op tenant.Operation, returning bool) (statement, error) {
	b := &sqlBuilder{}

	if !returning {
		cond, err := b.where(l, rowAlias, op.Where)
		if err != nil {
			return statement{}, err
		}
		return statement{
			sql:  fmt.Sprintf("DELETE FROM %s AS %s WHERE %s", l.table, rowAlias, cond),
			args: b.args,
		}, nil
	}

	first, err := b.firstMatch(l, op.Where)
	if err != nil {
		return statement{}, err
	}
	return statement{
		sql: fmt.Sprintf("DELETE FROM %s AS %s WHERE %s.%s = (%s) RETURNING %s",
			l.table, rowAlias, rowAlias, l.columns[FieldID], first, l.selectList(rowAlias)),
		args: b.args,
	}, nil
}

// firstMatch compiles a subquery selecting the id of the first row matching w.
func (b *sqlBuilder) firstMatch(l *layout, w tenant.Where) (string, error) {
	const alias = "s"
	cond, err := b.where(l, alias, w)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s.%s FROM %s %s WHERE %s ORDER BY %s.%s, %s.%s LIMIT 1",
		alias, l.columns[FieldID], l.table, alias, cond,
		alias, l.columns[FieldCreatedAt], alias, l.columns[FieldID]), nil
}
