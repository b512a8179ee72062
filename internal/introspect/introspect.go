package introspect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/encima/linear-fdw/internal/catalog"
)

// Client is the remote call surface the importer needs; satisfied by
// *graphql.Client.
type Client interface {
	Execute(ctx context.Context, query string) (json.RawMessage, error)
}

// rootFieldsQuery lists the fields of the remote query root. It is the only
// introspection the importer relies on; servers that disable introspection
// simply skip validation.
const rootFieldsQuery = `{ __schema { queryType { fields { name } } } }`

// Importer produces foreign table definitions for one server. The builtin
// Linear catalog is the seed; live introspection validates it best-effort.
type Importer struct {
	client Client
	logger *slog.Logger
}

func NewImporter(client Client, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Importer{client: client, logger: logger}
}

// Result carries the importable table set plus any validation warnings.
// Warnings never remove a table: a declaration the remote does not confirm may
// still scan correctly, and failing the import would strand the operator.
type Result struct {
	Tables   []catalog.ForeignTable
	Warnings []string
}

// Import assembles the table definitions for serverName. When the remote
// supports introspection, tables whose query root field is missing remotely
// are flagged with a warning.
func (i *Importer) Import(ctx context.Context, serverName string) (Result, error) {
	tables := catalog.BuiltinTables(serverName)

	fields, err := i.rootFields(ctx)
	if err != nil {
		i.logger.WarnContext(ctx, "schema introspection unavailable, importing builtin catalog unvalidated",
			slog.String("server", serverName),
			slog.String("error", err.Error()),
		)
		return Result{Tables: tables}, nil
	}

	var warnings []string
	for _, table := range tables {
		spec := catalog.SpecForObject(table.Object)
		if !fields[spec.Root] {
			warning := fmt.Sprintf("table %q: remote schema has no query field %q", table.Name, spec.Root)
			warnings = append(warnings, warning)
			i.logger.WarnContext(ctx, "declared table not confirmed by remote schema",
				slog.String("server", serverName),
				slog.String("table", table.Name),
				slog.String("field", spec.Root),
			)
		}
	}
	sort.Strings(warnings)
	return Result{Tables: tables, Warnings: warnings}, nil
}

func (i *Importer) rootFields(ctx context.Context) (map[string]bool, error) {
	data, err := i.client.Execute(ctx, rootFieldsQuery)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Schema struct {
			QueryType struct {
				Fields []struct {
					Name string `json:"name"`
				} `json:"fields"`
			} `json:"queryType"`
		} `json:"__schema"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode introspection document: %w", err)
	}
	if len(doc.Schema.QueryType.Fields) == 0 {
		return nil, fmt.Errorf("introspection document has no query fields")
	}

	fields := make(map[string]bool, len(doc.Schema.QueryType.Fields))
	for _, field := range doc.Schema.QueryType.Fields {
		fields[field.Name] = true
	}
	return fields, nil
}
