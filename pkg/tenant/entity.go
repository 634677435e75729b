package tenant

import "fmt"

// EntityKind identifies a record type subject to tenant isolation.
type EntityKind string

const (
	Workflow          EntityKind = "Workflow"
	AIPrompt          EntityKind = "AIPrompt"
	AITrainingData    EntityKind = "AITrainingData"
	KnowledgeBase     EntityKind = "KnowledgeBase"
	KnowledgeDocument EntityKind = "KnowledgeDocument"
	ApiKey            EntityKind = "ApiKey"
	Comment           EntityKind = "Comment"
	VoiceAnalytics    EntityKind = "VoiceAnalytics"
	VoiceInteraction  EntityKind = "VoiceInteraction"
)

// Kinds returns every governed entity kind.
func Kinds() []EntityKind {
	return []EntityKind{
		Workflow,
		AIPrompt,
		AITrainingData,
		KnowledgeBase,
		KnowledgeDocument,
		ApiKey,
		Comment,
		VoiceAnalytics,
		VoiceInteraction,
	}
}

// ParseEntityKind converts an exact kind name to an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if _, ok := k.Schema(); !ok {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Scope is the tenant dimension an ownership field ties a record to.
type Scope int

const (
	ScopeUser Scope = iota + 1
	ScopeOrganization
	ScopeTeam
	// ScopeReference marks a foreign key to an owning parent record.
	// It takes no part in direct filtering or create defaults.
	ScopeReference
	// ScopeOwner marks a user field consulted only when the record is
	// reached as the parent of another kind. Direct reads of the record
	// neither filter on it nor default it on create.
	ScopeOwner
)

// Field is a single ownership field of an entity.
type Field struct {
	Name  string
	Scope Scope
}

// Indirection declares that records are also owned through a related parent.
type Indirection struct {
	// Relation is the name used for nested filters, e.g. {"knowledgeBase": {...}}.
	Relation string
	// ForeignKey is the field holding the parent's id.
	ForeignKey string
	// Kind is the parent's entity kind; its schema decides how the parent is filtered.
	Kind EntityKind
}

// Schema is the tenant metadata of an entity kind.
type Schema struct {
	Fields      []Field
	PublicField string
	Parent      *Indirection
}

// FieldsWithScope returns the names of the fields declared with the given scope, in declared order.
func (s Schema) FieldsWithScope(scope Scope) []string {
	var names []string
	for _, f := range s.Fields {
		if f.Scope == scope {
			names = append(names, f.Name)
		}
	}
	return names
}

// Schema returns the tenant metadata for k.
// Returns false for kinds that are not tenant-governed.
func (k EntityKind) Schema() (Schema, bool) {
	switch k {
	case Workflow:
		return Schema{
			Fields: []Field{
				{Name: "organizationId", Scope: ScopeOrganization},
				{Name: "createdById", Scope: ScopeUser},
				{Name: "teamId", Scope: ScopeTeam},
			},
			PublicField: "isPublic",
		}, true
	case AIPrompt:
		return Schema{
			Fields: []Field{
				{Name: "userId", Scope: ScopeUser},
				{Name: "organizationId", Scope: ScopeOrganization},
			},
			PublicField: "isPublic",
		}, true
	case AITrainingData:
		return Schema{
			Fields: []Field{
				{Name: "userId", Scope: ScopeUser},
				{Name: "organizationId", Scope: ScopeOrganization},
			},
		}, true
	case KnowledgeBase:
		return Schema{
			Fields: []Field{
				{Name: "ownerId", Scope: ScopeOwner},
				{Name: "teamId", Scope: ScopeTeam},
				{Name: "organizationId", Scope: ScopeOrganization},
			},
			PublicField: "isPublic",
		}, true
	case KnowledgeDocument:
		return Schema{
			Fields: []Field{
				{Name: "createdById", Scope: ScopeUser},
				{Name: "knowledgeBaseId", Scope: ScopeReference},
			},
			Parent: &Indirection{
				Relation:   "knowledgeBase",
				ForeignKey: "knowledgeBaseId",
				Kind:       KnowledgeBase,
			},
		}, true
	case ApiKey, Comment, VoiceAnalytics, VoiceInteraction:
		return Schema{
			Fields: []Field{
				{Name: "userId", Scope: ScopeUser},
			},
		}, true
	}
	return Schema{}, false
}
