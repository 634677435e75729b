package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// InjectionCheckResult contains the result of an injection check on a predicate value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Path        string // Dotted field path of the value, e.g. "knowledgeBase.ownerId"
	Value       any    // The value that was checked
}

// CheckValueForInjection uses libinjection to detect SQL injection patterns in a value.
// Only strings are checked; other types cannot carry injection payloads.
// Returns nil if no injection is detected.
func CheckValueForInjection(path string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Path:        path,
		Value:       value,
	}
}

// CheckWhere walks a predicate and returns a result for every string value
// that looks like an injection attempt. Values are always bound as query
// parameters; the results exist for security auditing.
func CheckWhere(w tenant.Where) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	walkWhere("", w, func(path string, value any) {
		if r := CheckValueForInjection(path, value); r != nil {
			results = append(results, r)
		}
	})
	return results
}

func walkWhere(prefix string, w map[string]any, visit func(path string, value any)) {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		// Compound keys do not contribute to the path.
		if key == tenant.KeyAnd || key == tenant.KeyOr || key == tenant.KeyNot {
			path = prefix
		}
		walkValue(path, w[key], visit)
	}
}

func walkValue(path string, value any, visit func(path string, value any)) {
	switch v := value.(type) {
	case tenant.Where:
		walkWhere(path, v, visit)
	case map[string]any:
		walkWhere(path, v, visit)
	case []tenant.Where:
		for _, item := range v {
			walkWhere(path, item, visit)
		}
	case []any:
		for _, item := range v {
			walkValue(path, item, visit)
		}
	default:
		visit(path, v)
	}
}
