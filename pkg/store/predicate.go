package store

import (
	"fmt"
	"sort"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// asWhere accepts both tenant.Where and decoded JSON objects.
func asWhere(v any) (tenant.Where, bool) {
	switch w := v.(type) {
	case tenant.Where:
		return w, true
	case map[string]any:
		return tenant.Where(w), true
	}
	return nil, false
}

func asWhereList(key string, v any) ([]tenant.Where, error) {
	switch list := v.(type) {
	case []tenant.Where:
		return list, nil
	case []map[string]any:
		out := make([]tenant.Where, len(list))
		for i, m := range list {
			out[i] = tenant.Where(m)
		}
		return out, nil
	case []any:
		out := make([]tenant.Where, 0, len(list))
		for _, item := range list {
			w, ok := asWhere(item)
			if !ok {
				return nil, fmt.Errorf("%s branch must be an object, got %T: %w", key, item, apperrors.ErrInvalidArg)
			}
			out = append(out, w)
		}
		return out, nil
	}
	// A single object is accepted as a one-branch list.
	if w, ok := asWhere(v); ok {
		return []tenant.Where{w}, nil
	}
	return nil, fmt.Errorf("%s must be a list of objects, got %T: %w", key, v, apperrors.ErrInvalidArg)
}

// sortedKeys gives predicates a deterministic evaluation and SQL order.
func sortedKeys(w tenant.Where) []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateField(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid field name %q: %w", name, apperrors.ErrInvalidArg)
	}
	return nil
}
