package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// ErrAlreadyExists is returned when creating a server or table whose name is
// already registered.
var ErrAlreadyExists = errors.New("catalog: already exists")

type ColumnType string

const (
	ColumnTypeText        ColumnType = "text"
	ColumnTypeFloat       ColumnType = "float"
	ColumnTypeBoolean     ColumnType = "boolean"
	ColumnTypeTimestamptz ColumnType = "timestamptz"
	ColumnTypeJSONB       ColumnType = "jsonb"
)

func (t ColumnType) Valid() bool {
	switch t {
	case ColumnTypeText, ColumnTypeFloat, ColumnTypeBoolean, ColumnTypeTimestamptz, ColumnTypeJSONB:
		return true
	default:
		return false
	}
}

// ColumnDefinition describes one exposed column of a foreign table. FieldPath
// is a dotted path into the remote record ("team.id"); when empty the remote
// field is the camelCase form of Name. Pushdown marks the column eligible for
// remote predicate pushdown.
type ColumnDefinition struct {
	Name      string     `json:"name"`
	Type      ColumnType `json:"type"`
	Nullable  bool       `json:"nullable"`
	FieldPath string     `json:"field_path,omitempty"`
	Pushdown  bool       `json:"pushdown,omitempty"`
}

// ForeignServer holds the connection identity for one remote endpoint. APIKey
// is the server-scoped credential; it must never appear in logs or errors.
type ForeignServer struct {
	Name           string
	APIURL         string
	APIKey         string
	AllowAnonymous bool
	PackageName    string
	PackageVersion string
	PackageURL     string
	CreatedAt      time.Time
}

// ForeignTable maps a named table onto one remote object. Options carry
// object-specific parameters such as the id of a single-record query.
type ForeignTable struct {
	ServerName string
	Name       string
	Object     string
	Options    map[string]string
	Columns    []ColumnDefinition
	CreatedAt  time.Time
}

// Column returns the definition for name, if declared.
func (t ForeignTable) Column(name string) (ColumnDefinition, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnDefinition{}, false
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateServer(ctx context.Context, server ForeignServer) (ForeignServer, error)
	GetServer(ctx context.Context, name string) (ForeignServer, error)
	ListServers(ctx context.Context) ([]ForeignServer, error)
	DeleteServer(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, table ForeignTable) (ForeignTable, error)
	GetTable(ctx context.Context, serverName, tableName string) (ForeignTable, error)
	ListTables(ctx context.Context, serverName string) ([]ForeignTable, error)
	DeleteTable(ctx context.Context, serverName, tableName string) (bool, error)
	// ImportTables registers the given set atomically: either every table is
	// created or none are.
	ImportTables(ctx context.Context, serverName string, tables []ForeignTable) error
}
