package rowmap

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/encima/linear-fdw/internal/catalog"
)

// Row holds one mapped record, values ordered to match the requested columns.
// A nil entry is SQL null.
type Row []any

// CoercionError is row-scoped: the offending row is skipped and counted, the
// scan continues.
type CoercionError struct {
	Column string
	Reason string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
}

// Mapper converts remote JSON records into typed rows for a fixed column
// projection.
type Mapper struct {
	columns []catalog.ColumnDefinition
}

// New builds a mapper for the requested column subset. Columns must already be
// validated against the table declaration.
func New(table catalog.ForeignTable, requested []string) (*Mapper, error) {
	columns := make([]catalog.ColumnDefinition, 0, len(requested))
	for _, name := range requested {
		col, ok := table.Column(name)
		if !ok {
			return nil, fmt.Errorf("table %q has no column %q", table.Name, name)
		}
		columns = append(columns, col)
	}
	return &Mapper{columns: columns}, nil
}

// MapRecord maps one remote record. A missing or unmappable value yields null
// for nullable columns and a CoercionError for non-null ones.
func (m *Mapper) MapRecord(record map[string]any) (Row, error) {
	row := make(Row, len(m.columns))
	for i, col := range m.columns {
		raw, found := extract(record, fieldPath(col))
		if !found || raw == nil {
			if !col.Nullable {
				return nil, &CoercionError{Column: col.Name, Reason: "missing value for non-null column"}
			}
			row[i] = nil
			continue
		}

		value, err := coerce(raw, col.Type)
		if err != nil {
			if !col.Nullable {
				return nil, &CoercionError{Column: col.Name, Reason: err.Error()}
			}
			row[i] = nil
			continue
		}
		row[i] = value
	}
	return row, nil
}

func fieldPath(col catalog.ColumnDefinition) []string {
	if col.FieldPath != "" {
		return strings.Split(col.FieldPath, ".")
	}
	return []string{catalog.SnakeToCamel(col.Name)}
}

func extract(record map[string]any, path []string) (any, bool) {
	var current any = record
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func coerce(raw any, columnType catalog.ColumnType) (any, error) {
	switch columnType {
	case catalog.ColumnTypeText:
		text, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return text, nil
	case catalog.ColumnTypeFloat:
		number, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return number, nil
	case catalog.ColumnTypeBoolean:
		flag, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
		return flag, nil
	case catalog.ColumnTypeTimestamptz:
		text, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string, got %T", raw)
		}
		ts, err := parseTimestamp(text)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case catalog.ColumnTypeJSONB:
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode json value: %w", err)
		}
		return json.RawMessage(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", columnType)
	}
}

// parseTimestamp accepts RFC 3339 and the bare date form the remote uses for
// fields like due_date.
func parseTimestamp(text string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, text); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", text); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", text)
}
