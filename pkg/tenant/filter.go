package tenant

// BuildFilter returns the tenant predicate for kind under tc, or nil when
// no filter applies: the kind is not governed, tc carries no identity, or
// none of the kind's fields match a dimension of tc.
//
// Branches are ordered user fields, organization fields, team fields, the
// public flag, then a single nested branch for the owning parent relation.
// Within the nested branch the parent's owner fields rank with its user fields.
func BuildFilter(kind EntityKind, tc Context) Where {
	if !tc.HasIdentity() {
		return nil
	}
	schema, ok := kind.Schema()
	if !ok {
		return nil
	}

	branches := ownershipBranches(schema, tc, 0)
	if len(branches) == 0 {
		return nil
	}
	return Or(branches...)
}

// maxIndirection bounds parent resolution so a cyclic schema cannot recurse forever.
const maxIndirection = 8

func ownershipBranches(schema Schema, tc Context, depth int) []Where {
	var branches []Where

	if tc.UserID != "" {
		for _, name := range schema.FieldsWithScope(ScopeUser) {
			branches = append(branches, Where{name: tc.UserID})
		}
		// Owner fields only count when reached through a child's relation.
		if depth > 0 {
			for _, name := range schema.FieldsWithScope(ScopeOwner) {
				branches = append(branches, Where{name: tc.UserID})
			}
		}
	}
	if tc.OrganizationID != "" {
		for _, name := range schema.FieldsWithScope(ScopeOrganization) {
			branches = append(branches, Where{name: tc.OrganizationID})
		}
	}
	if tc.TeamID != "" {
		for _, name := range schema.FieldsWithScope(ScopeTeam) {
			branches = append(branches, Where{name: tc.TeamID})
		}
	}
	if tc.IncludePublic && schema.PublicField != "" {
		branches = append(branches, Where{schema.PublicField: true})
	}

	if schema.Parent != nil && depth < maxIndirection {
		parent, ok := schema.Parent.Kind.Schema()
		if ok {
			inner := ownershipBranches(parent, tc, depth+1)
			nested := make([]Where, 0, len(inner))
			for _, b := range inner {
				nested = append(nested, Where{schema.Parent.Relation: b})
			}
			if len(nested) > 0 {
				branches = append(branches, Or(nested...))
			}
		}
	}

	return branches
}
