package catalog

// ObjectKind distinguishes the three remote query shapes the Linear API
// exposes for catalog objects.
type ObjectKind string

const (
	// ObjectKindCollection is a paginated top-level connection (issues, teams).
	ObjectKindCollection ObjectKind = "collection"
	// ObjectKindSingle is a single record addressed by id (issue, team).
	ObjectKindSingle ObjectKind = "single"
	// ObjectKindNestedCollection is a paginated connection under a parent
	// record (project_issues, cycle_issues).
	ObjectKindNestedCollection ObjectKind = "nested_collection"
)

// ObjectSpec describes how one remote object is queried: the top-level GraphQL
// field, the nested connection field if any, and the table option that must
// carry the parent/record id.
type ObjectSpec struct {
	Name           string
	Kind           ObjectKind
	Root           string
	NestedField    string
	RequiredOption string
}

var objectSpecs = map[string]ObjectSpec{
	"issues":               {Name: "issues", Kind: ObjectKindCollection, Root: "issues"},
	"issue":                {Name: "issue", Kind: ObjectKindSingle, Root: "issue", RequiredOption: "id"},
	"teams":                {Name: "teams", Kind: ObjectKindCollection, Root: "teams"},
	"team":                 {Name: "team", Kind: ObjectKindSingle, Root: "team", RequiredOption: "id"},
	"projects":             {Name: "projects", Kind: ObjectKindCollection, Root: "projects"},
	"project":              {Name: "project", Kind: ObjectKindSingle, Root: "project", RequiredOption: "id"},
	"project_issues":       {Name: "project_issues", Kind: ObjectKindNestedCollection, Root: "project", NestedField: "issues", RequiredOption: "project_id"},
	"users":                {Name: "users", Kind: ObjectKindCollection, Root: "users"},
	"user":                 {Name: "user", Kind: ObjectKindSingle, Root: "user", RequiredOption: "id"},
	"user_assigned_issues": {Name: "user_assigned_issues", Kind: ObjectKindNestedCollection, Root: "user", NestedField: "assignedIssues", RequiredOption: "user_id"},
	"cycles":               {Name: "cycles", Kind: ObjectKindCollection, Root: "cycles"},
	"cycle_issues":         {Name: "cycle_issues", Kind: ObjectKindNestedCollection, Root: "cycle", NestedField: "issues", RequiredOption: "cycle_id"},
	"workflow_states":      {Name: "workflow_states", Kind: ObjectKindCollection, Root: "workflowStates"},
	"issue_labels":         {Name: "issue_labels", Kind: ObjectKindCollection, Root: "issueLabels"},
}

// LookupObject returns the spec for a known remote object. Unknown objects are
// legal at table-creation time (they may exist on the remote side) and are
// treated as plain collections whose root is the camelCase object name.
func LookupObject(name string) (ObjectSpec, bool) {
	spec, ok := objectSpecs[name]
	return spec, ok
}

// SpecForObject resolves name to an ObjectSpec, synthesizing a collection spec
// for objects the registry does not know.
func SpecForObject(name string) ObjectSpec {
	if spec, ok := objectSpecs[name]; ok {
		return spec
	}
	return ObjectSpec{Name: name, Kind: ObjectKindCollection, Root: SnakeToCamel(name)}
}

// SnakeToCamel converts a snake_case column or object name to the camelCase
// form used by the remote schema.
func SnakeToCamel(s string) string {
	out := make([]byte, 0, len(s))
	upper := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c = c - 'a' + 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}
