package translate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/encima/linear-fdw/internal/catalog"
)

type Operator string

const (
	OpEq      Operator = "="
	OpNotEq   Operator = "<>"
	OpGt      Operator = ">"
	OpGte     Operator = ">="
	OpLt      Operator = "<"
	OpLte     Operator = "<="
	OpLike    Operator = "~~"
	OpILike   Operator = "~~*"
	OpIsNull  Operator = "IS NULL"
	OpNotNull Operator = "IS NOT NULL"
)

type Predicate struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// ScanRequest is the relational request a host engine pushes down: a column
// subset, a predicate list, and an optional row limit (0 means unlimited).
type ScanRequest struct {
	Columns    []string
	Predicates []Predicate
	Limit      int64
}

// SchemaMismatchError reports a requested column the catalog does not declare.
// It fails the scan before any remote call is made.
type SchemaMismatchError struct {
	Table  string
	Column string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("table %q has no column %q", e.Table, e.Column)
}

// QuerySpec renders remote GraphQL queries for one scan. Paginated specs are
// re-rendered per page with a fresh cursor; single-record specs fetch once.
type QuerySpec struct {
	Object       string
	Paginated    bool
	ResponsePath []string

	root      string
	rootArg   string
	nested    string
	selection string
	filter    string
}

// Result of translation: the renderable query spec, the predicates pushed to
// the remote call, and the residual predicates the host engine must still
// apply after fetch. Residuals are never dropped silently.
type Result struct {
	Spec     QuerySpec
	Pushed   []Predicate
	Residual []Predicate
}

// Translate maps a ScanRequest onto the remote query shape for the table's
// object. Every requested column must exist in the table's declaration.
func Translate(table catalog.ForeignTable, req ScanRequest) (Result, error) {
	if len(req.Columns) == 0 {
		return Result{}, fmt.Errorf("table %q: at least one column must be requested", table.Name)
	}

	selections := make([]string, 0, len(req.Columns))
	for _, name := range req.Columns {
		col, ok := table.Column(name)
		if !ok {
			return Result{}, &SchemaMismatchError{Table: table.Name, Column: name}
		}
		selections = append(selections, renderSelection(col))
	}

	pushed := make([]Predicate, 0, len(req.Predicates))
	residual := make([]Predicate, 0, len(req.Predicates))
	filters := make([]string, 0, len(req.Predicates))
	for _, pred := range req.Predicates {
		col, ok := table.Column(pred.Column)
		if !ok {
			return Result{}, &SchemaMismatchError{Table: table.Name, Column: pred.Column}
		}
		if rendered, ok := renderFilter(col, pred); ok {
			pushed = append(pushed, pred)
			filters = append(filters, rendered)
			continue
		}
		residual = append(residual, pred)
	}

	spec := catalog.SpecForObject(table.Object)
	querySpec := QuerySpec{
		Object:    table.Object,
		root:      spec.Root,
		nested:    spec.NestedField,
		selection: strings.Join(selections, " "),
	}
	if len(filters) > 0 {
		querySpec.filter = "filter: { " + strings.Join(filters, ", ") + " }"
	}
	if spec.RequiredOption != "" {
		querySpec.rootArg = table.Options[spec.RequiredOption]
		if querySpec.rootArg == "" {
			return Result{}, fmt.Errorf("table %q: option %q is required for object %q", table.Name, spec.RequiredOption, table.Object)
		}
	}

	switch spec.Kind {
	case catalog.ObjectKindSingle:
		querySpec.Paginated = false
		querySpec.ResponsePath = []string{spec.Root}
	case catalog.ObjectKindNestedCollection:
		querySpec.Paginated = true
		querySpec.ResponsePath = []string{spec.Root, spec.NestedField}
	default:
		querySpec.Paginated = true
		querySpec.ResponsePath = []string{spec.Root}
	}

	return Result{Spec: querySpec, Pushed: pushed, Residual: residual}, nil
}

// Render produces the query document for one page. pageSize and cursor are
// ignored for single-record specs.
func (s QuerySpec) Render(pageSize int, cursor string) string {
	if !s.Paginated {
		return fmt.Sprintf("{ %s(id: %s) { %s } }", s.root, quote(s.rootArg), s.selection)
	}

	args := []string{fmt.Sprintf("first: %d", pageSize)}
	if cursor != "" {
		args = append(args, "after: "+quote(cursor))
	}
	if s.filter != "" {
		args = append(args, s.filter)
	}
	connection := fmt.Sprintf(
		"%s(%s) { nodes { %s } pageInfo { hasNextPage endCursor } }",
		connectionField(s), strings.Join(args, ", "), s.selection,
	)
	if s.nested != "" {
		return fmt.Sprintf("{ %s(id: %s) { %s } }", s.root, quote(s.rootArg), connection)
	}
	return "{ " + connection + " }"
}

func connectionField(s QuerySpec) string {
	if s.nested != "" {
		return s.nested
	}
	return s.root
}

// renderSelection turns a column's remote field path into a GraphQL selection:
// "team.id" becomes "team { id }", a plain column becomes its camelCase name.
func renderSelection(col catalog.ColumnDefinition) string {
	path := col.FieldPath
	if path == "" {
		return catalog.SnakeToCamel(col.Name)
	}
	parts := strings.Split(path, ".")
	selection := parts[len(parts)-1]
	for i := len(parts) - 2; i >= 0; i-- {
		selection = parts[i] + " { " + selection + " }"
	}
	return selection
}

// renderFilter maps one predicate to a remote filter argument. Only equality
// and contains-style operators on pushdown-eligible columns are sent remotely;
// everything else stays residual for the host engine.
func renderFilter(col catalog.ColumnDefinition, pred Predicate) (string, bool) {
	if !col.Pushdown || col.FieldPath != "" {
		return "", false
	}

	var remoteOp string
	value := pred.Value
	switch pred.Operator {
	case OpEq:
		remoteOp = "eq"
	case OpLike, OpILike:
		text, ok := value.(string)
		if !ok {
			return "", false
		}
		// Only a %text% pattern is equivalent to a remote contains filter.
		// Anchored and exact patterns stay residual so the host engine keeps
		// the anchor.
		if len(text) < 2 || !strings.HasPrefix(text, "%") || !strings.HasSuffix(text, "%") {
			return "", false
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(text, "%"), "%")
		if strings.ContainsAny(trimmed, "%_") {
			return "", false
		}
		value = trimmed
		remoteOp = "contains"
		if pred.Operator == OpILike {
			remoteOp = "containsIgnoreCase"
		}
	default:
		return "", false
	}

	literal, ok := renderLiteral(value)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s: { %s: %s }", catalog.SnakeToCamel(col.Name), remoteOp, literal), true
}

func renderLiteral(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return quote(v), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

func quote(s string) string {
	return strconv.Quote(s)
}
