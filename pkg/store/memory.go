package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// MemoryExecutor is an in-memory Executor with the same predicate semantics
// as PostgresExecutor. Records are kept in insertion order per kind.
// Safe for concurrent use; every operation runs under a single lock.
type MemoryExecutor struct {
	mu     sync.RWMutex
	tables map[tenant.EntityKind][]tenant.Record
	now    func() time.Time
}

// NewMemoryExecutor creates an empty in-memory store.
func NewMemoryExecutor() *MemoryExecutor {
	return &MemoryExecutor{
		tables: make(map[tenant.EntityKind][]tenant.Record),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs op against the in-memory tables.
func (m *MemoryExecutor) Execute(ctx context.Context, op tenant.Operation) (tenant.Result, error) {
	if err := ctx.Err(); err != nil {
		return tenant.Result{}, err
	}
	if op.Action == tenant.ActionRaw {
		return tenant.Result{}, fmt.Errorf("raw queries are not supported by the memory store: %w", apperrors.ErrInvalidArg)
	}
	if _, ok := op.Kind.Schema(); !ok {
		return tenant.Result{}, fmt.Errorf("%q: %w", op.Kind, apperrors.ErrUnknownEntity)
	}

	if op.Action.IsRead() {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.read(op)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch op.Action {
	case tenant.ActionCreate:
		return m.create(op)
	case tenant.ActionUpdate, tenant.ActionUpdateMany:
		return m.update(op)
	case tenant.ActionDelete, tenant.ActionDeleteMany:
		return m.delete(op)
	}
	return tenant.Result{}, fmt.Errorf("unsupported action %q: %w", op.Action, apperrors.ErrInvalidArg)
}

func (m *MemoryExecutor) read(op tenant.Operation) (tenant.Result, error) {
	matched, err := m.matching(op.Kind, op.Where)
	if err != nil {
		return tenant.Result{}, err
	}

	switch op.Action {
	case tenant.ActionReadOne, tenant.ActionReadUnique:
		if len(matched) == 0 {
			return tenant.Result{}, nil
		}
		return tenant.Result{Record: project(copyRecord(matched[0]), op.Select)}, nil
	case tenant.ActionCount:
		return tenant.Result{Count: int64(len(matched))}, nil
	case tenant.ActionAggregate:
		return tenant.Result{Aggregate: aggregate(matched)}, nil
	}

	if op.Skip > 0 {
		if op.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[op.Skip:]
		}
	}
	if op.Take > 0 && op.Take < len(matched) {
		matched = matched[:op.Take]
	}
	records := make([]tenant.Record, 0, len(matched))
	for _, rec := range matched {
		records = append(records, project(copyRecord(rec), op.Select))
	}
	return tenant.Result{Records: records}, nil
}

func (m *MemoryExecutor) create(op tenant.Operation) (tenant.Result, error) {
	rec := make(tenant.Record, len(op.Data)+3)
	for k, v := range op.Data {
		if err := validateField(k); err != nil {
			return tenant.Result{}, err
		}
		rec[k] = normalize(v)
	}
	if !hasID(rec) {
		rec[FieldID] = uuid.NewString()
	}
	for _, existing := range m.tables[op.Kind] {
		if reflect.DeepEqual(existing[FieldID], rec[FieldID]) {
			return tenant.Result{}, fmt.Errorf("%s %v already exists: %w", op.Kind, rec[FieldID], apperrors.ErrConflict)
		}
	}
	now := m.now()
	if _, ok := rec[FieldCreatedAt]; !ok {
		rec[FieldCreatedAt] = now
	}
	rec[FieldUpdatedAt] = now

	m.tables[op.Kind] = append(m.tables[op.Kind], rec)
	return tenant.Result{Record: copyRecord(rec)}, nil
}

func (m *MemoryExecutor) update(op tenant.Operation) (tenant.Result, error) {
	matched, err := m.matching(op.Kind, op.Where)
	if err != nil {
		return tenant.Result{}, err
	}
	for k := range op.Data {
		if err := validateField(k); err != nil {
			return tenant.Result{}, err
		}
	}

	if op.Action == tenant.ActionUpdate {
		if len(matched) == 0 {
			return tenant.Result{}, fmt.Errorf("%s: %w", op.Kind, apperrors.ErrNotFound)
		}
		matched = matched[:1]
	}

	now := m.now()
	for _, rec := range matched {
		for k, v := range op.Data {
			if k == FieldCreatedAt || k == FieldUpdatedAt {
				continue
			}
			rec[k] = normalize(v)
		}
		rec[FieldUpdatedAt] = now
	}

	if op.Action == tenant.ActionUpdate {
		return tenant.Result{Record: project(copyRecord(matched[0]), op.Select)}, nil
	}
	return tenant.Result{Count: int64(len(matched))}, nil
}

func (m *MemoryExecutor) delete(op tenant.Operation) (tenant.Result, error) {
	matched, err := m.matching(op.Kind, op.Where)
	if err != nil {
		return tenant.Result{}, err
	}
	if op.Action == tenant.ActionDelete {
		if len(matched) == 0 {
			return tenant.Result{}, fmt.Errorf("%s: %w", op.Kind, apperrors.ErrNotFound)
		}
		matched = matched[:1]
	}

	var removed int64
	rows := m.tables[op.Kind]
	kept := make([]tenant.Record, 0, len(rows))
	for _, rec := range rows {
		if containsRecord(matched, rec) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.tables[op.Kind] = kept

	if op.Action == tenant.ActionDelete {
		return tenant.Result{Record: copyRecord(matched[0])}, nil
	}
	return tenant.Result{Count: removed}, nil
}

// truth is a three-valued predicate outcome. Comparisons against a column
// holding no value are unknown, as in SQL, so NOT does not turn them into matches.
type truth uint8

const (
	truthFalse truth = iota
	truthUnknown
	truthTrue
)

func truthOf(b bool) truth {
	if b {
		return truthTrue
	}
	return truthFalse
}

func (t truth) not() truth {
	switch t {
	case truthTrue:
		return truthFalse
	case truthFalse:
		return truthTrue
	}
	return truthUnknown
}

// matching returns the stored records of kind matching w, in insertion order.
// The returned records are the stored maps themselves; callers copy before exposing them.
func (m *MemoryExecutor) matching(kind tenant.EntityKind, w tenant.Where) ([]tenant.Record, error) {
	var out []tenant.Record
	for _, rec := range m.tables[kind] {
		t, err := m.matches(kind, rec, w, 0)
		if err != nil {
			return nil, err
		}
		if t == truthTrue {
			out = append(out, rec)
		}
	}
	return out, nil
}

// matches evaluates w against rec. Top-level keys are conjunctive.
func (m *MemoryExecutor) matches(kind tenant.EntityKind, rec tenant.Record, w tenant.Where, depth int) (truth, error) {
	if depth > 32 {
		return truthFalse, fmt.Errorf("predicate nested too deeply: %w", apperrors.ErrInvalidArg)
	}
	result := truthTrue
	for _, key := range sortedKeys(w) {
		value := w[key]
		var (
			t   truth
			err error
		)
		switch key {
		case tenant.KeyAnd, tenant.KeyOr:
			t, err = m.matchesCompound(kind, rec, key, value, depth)
		case tenant.KeyNot:
			inner, isWhere := asWhere(value)
			if !isWhere {
				return truthFalse, fmt.Errorf("NOT must be an object, got %T: %w", value, apperrors.ErrInvalidArg)
			}
			t, err = m.matches(kind, rec, inner, depth+1)
			t = t.not()
		default:
			t, err = m.matchesField(kind, rec, key, value, depth)
		}
		if err != nil {
			return truthFalse, err
		}
		result = min(result, t)
	}
	return result, nil
}

func (m *MemoryExecutor) matchesCompound(kind tenant.EntityKind, rec tenant.Record, key string, value any, depth int) (truth, error) {
	branches, err := asWhereList(key, value)
	if err != nil {
		return truthFalse, err
	}

	// AND is the weakest branch, OR the strongest.
	result := truthTrue
	if key == tenant.KeyOr {
		result = truthFalse
	}
	for _, b := range branches {
		t, err := m.matches(kind, rec, b, depth+1)
		if err != nil {
			return truthFalse, err
		}
		if key == tenant.KeyAnd {
			result = min(result, t)
		} else {
			result = max(result, t)
		}
	}
	return result, nil
}

func (m *MemoryExecutor) matchesField(kind tenant.EntityKind, rec tenant.Record, name string, value any, depth int) (truth, error) {
	if err := validateField(name); err != nil {
		return truthFalse, err
	}

	l, _ := layoutFor(kind)
	if parent := l.schema.Parent; parent != nil && name == parent.Relation {
		inner, ok := asWhere(value)
		if !ok {
			return truthFalse, fmt.Errorf("relation %s filter must be an object, got %T: %w", name, value, apperrors.ErrInvalidArg)
		}
		fk, ok := rec[parent.ForeignKey]
		if !ok || fk == nil {
			return truthFalse, nil
		}
		// EXISTS is never unknown.
		for _, p := range m.tables[parent.Kind] {
			if valuesEqual(p[FieldID], fk) {
				t, err := m.matches(parent.Kind, p, inner, depth+1)
				return truthOf(t == truthTrue), err
			}
		}
		return truthFalse, nil
	}

	actual, present := rec[name]
	if value == nil {
		return truthOf(!present || actual == nil), nil
	}

	if _, isColumn := l.columns[name]; isColumn {
		if !present && name == l.schema.PublicField {
			// Unset public flags read as false, matching the column default.
			actual = false
		} else if actual == nil {
			return truthUnknown, nil
		}
	} else if !present {
		// A missing attribute key extracts as SQL NULL; a stored JSON null does not.
		return truthUnknown, nil
	}
	return truthOf(valuesEqual(actual, value)), nil
}

// valuesEqual compares values the way a JSON round trip would see them.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize maps values onto their JSON-decoded representation so that
// int 1 and float64 1 compare equal. Times are kept as-is.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, time.Time:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func aggregate(records []tenant.Record) map[string]any {
	out := map[string]any{"_count": int64(len(records))}
	var minT, maxT time.Time
	for _, rec := range records {
		t, ok := rec[FieldCreatedAt].(time.Time)
		if !ok {
			continue
		}
		if minT.IsZero() || t.Before(minT) {
			minT = t
		}
		if t.After(maxT) {
			maxT = t
		}
	}
	if !minT.IsZero() {
		out["_min"] = map[string]any{FieldCreatedAt: minT}
		out["_max"] = map[string]any{FieldCreatedAt: maxT}
	}
	return out
}

func hasID(rec tenant.Record) bool {
	id, ok := rec[FieldID]
	if !ok || id == nil {
		return false
	}
	s, isString := id.(string)
	return !isString || s != ""
}

func copyRecord(rec tenant.Record) tenant.Record {
	if rec == nil {
		return nil
	}
	out := make(tenant.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func containsRecord(list []tenant.Record, rec tenant.Record) bool {
	for _, r := range list {
		if reflect.ValueOf(r).Pointer() == reflect.ValueOf(rec).Pointer() {
			return true
		}
	}
	return false
}

var _ Executor = (*MemoryExecutor)(nil)
