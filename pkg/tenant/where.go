package tenant

// Where is a predicate expression over records.
//
//	{"AND": []Where{...}}       every branch matches
//	{"OR": []Where{...}}        at least one branch matches
//	{"NOT": Where{...}}         the branch does not match
//	{"field": value}            equality (nil means IS NULL)
//	{"relation": Where{...}}    the related parent record matches
//
// Multiple keys in one Where are combined with AND.
type Where map[string]any

const (
	KeyAnd = "AND"
	KeyOr  = "OR"
	KeyNot = "NOT"
)

// And returns {"AND": branches}. A nil branch is kept as an empty predicate.
func And(branches ...Where) Where {
	out := make([]Where, len(branches))
	for i, b := range branches {
		if b == nil {
			b = Where{}
		}
		out[i] = b
	}
	return Where{KeyAnd: out}
}

// Or returns {"OR": branches}.
func Or(branches ...Where) Where {
	return Where{KeyOr: branches}
}

// ID returns the value of the top-level "id" key, if any.
func (w Where) ID() (any, bool) {
	if w == nil {
		return nil, false
	}
	id, ok := w["id"]
	return id, ok
}
