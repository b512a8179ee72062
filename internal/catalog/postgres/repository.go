package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/encima/linear-fdw/internal/catalog"
)

// Repository persists the foreign server and table catalog in Postgres. Column
// definitions and table options are stored as jsonb documents alongside each
// table row.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateServer(ctx context.Context, server catalog.ForeignServer) (catalog.ForeignServer, error) {
	query := `
INSERT INTO foreign_server (server_name, api_url, api_key, allow_anonymous, package_name, package_version, package_url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`

	if err := r.db.QueryRowContext(ctx, query,
		server.Name,
		server.APIURL,
		server.APIKey,
		server.AllowAnonymous,
		server.PackageName,
		server.PackageVersion,
		server.PackageURL,
	).Scan(&server.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return catalog.ForeignServer{}, catalog.ErrAlreadyExists
		}
		return catalog.ForeignServer{}, fmt.Errorf("create server: %w", err)
	}
	return server, nil
}

func (r *Repository) GetServer(ctx context.Context, name string) (catalog.ForeignServer, error) {
	query := `
SELECT server_name, api_url, api_key, allow_anonymous, package_name, package_version, package_url, created_at
FROM foreign_server
WHERE server_name = $1`

	var server catalog.ForeignServer
	if err := r.db.QueryRowContext(ctx, query, name).Scan(
		&server.Name,
		&server.APIURL,
		&server.APIKey,
		&server.AllowAnonymous,
		&server.PackageName,
		&server.PackageVersion,
		&server.PackageURL,
		&server.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ForeignServer{}, catalog.ErrNotFound
		}
		return catalog.ForeignServer{}, fmt.Errorf("get server: %w", err)
	}
	return server, nil
}

func (r *Repository) ListServers(ctx context.Context) ([]catalog.ForeignServer, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT server_name, api_url, api_key, allow_anonymous, package_name, package_version, package_url, created_at
FROM foreign_server
ORDER BY server_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	servers := make([]catalog.ForeignServer, 0)
	for rows.Next() {
		var server catalog.ForeignServer
		if err := rows.Scan(
			&server.Name,
			&server.APIURL,
			&server.APIKey,
			&server.AllowAnonymous,
			&server.PackageName,
			&server.PackageVersion,
			&server.PackageURL,
			&server.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan server row: %w", err)
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server rows: %w", err)
	}
	return servers, nil
}

func (r *Repository) DeleteServer(ctx context.Context, name string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM foreign_server
WHERE server_name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete server: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete server rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) CreateTable(ctx context.Context, table catalog.ForeignTable) (catalog.ForeignTable, error) {
	options, columns, err := encodeTable(table)
	if err != nil {
		return catalog.ForeignTable{}, err
	}

	query := `
INSERT INTO foreign_table (server_name, table_name, object_name, options_json, columns_json)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb)
RETURNING created_at`

	if err := r.db.QueryRowContext(ctx, query, table.ServerName, table.Name, table.Object, options, columns).Scan(&table.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return catalog.ForeignTable{}, catalog.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return catalog.ForeignTable{}, catalog.ErrNotFound
		}
		return catalog.ForeignTable{}, fmt.Errorf("create table: %w", err)
	}
	return table, nil
}

func (r *Repository) GetTable(ctx context.Context, serverName, tableName string) (catalog.ForeignTable, error) {
	query := `
SELECT server_name, table_name, object_name, options_json, columns_json, created_at
FROM foreign_table
WHERE server_name = $1 AND table_name = $2`

	table, err := scanTable(r.db.QueryRowContext(ctx, query, serverName, tableName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ForeignTable{}, catalog.ErrNotFound
		}
		return catalog.ForeignTable{}, fmt.Errorf("get table: %w", err)
	}
	return table, nil
}

func (r *Repository) ListTables(ctx context.Context, serverName string) ([]catalog.ForeignTable, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT server_name, table_name, object_name, options_json, columns_json, created_at
FROM foreign_table
WHERE server_name = $1
ORDER BY table_name ASC`, serverName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.ForeignTable, 0)
	for rows.Next() {
		var raw rawTable
		if err := rows.Scan(&raw.serverName, &raw.tableName, &raw.objectName, &raw.options, &raw.columns, &raw.createdAt); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		table, err := raw.decode()
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

func (r *Repository) DeleteTable(ctx context.Context, serverName, tableName string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM foreign_table
WHERE server_name = $1 AND table_name = $2`, serverName, tableName)
	if err != nil {
		return false, fmt.Errorf("delete table: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete table rows affected: %w", err)
	}
	return rows > 0, nil
}

// ImportTables registers the set in one transaction. Re-importing an existing
// table refreshes its definition; a failure on any table rolls back the whole
// import.
func (r *Repository) ImportTables(ctx context.Context, serverName string, tables []catalog.ForeignTable) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
INSERT INTO foreign_table (server_name, table_name, object_name, options_json, columns_json)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb)
ON CONFLICT (server_name, table_name)
DO UPDATE SET
    object_name = EXCLUDED.object_name,
    options_json = EXCLUDED.options_json,
    columns_json = EXCLUDED.columns_json`

	for _, table := range tables {
		options, columns, err := encodeTable(table)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, serverName, table.Name, table.Object, options, columns); err != nil {
			if isForeignKeyViolation(err) {
				return catalog.ErrNotFound
			}
			return fmt.Errorf("import table %q: %w", table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	return nil
}

type ExportRunRecord struct {
	ServerName  string
	TableName   string
	ObjectPath  string
	RecordCount int64
	SizeBytes   int64
	RowsSkipped int64
}

// RecordExportRun appends one row to the export history.
func (r *Repository) RecordExportRun(ctx context.Context, in ExportRunRecord) error {
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO export_run (server_name, table_name, object_path, record_count, size_bytes, rows_skipped)
VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ServerName, in.TableName, in.ObjectPath, in.RecordCount, in.SizeBytes, in.RowsSkipped); err != nil {
		return fmt.Errorf("record export_run: %w", err)
	}
	return nil
}

type rawTable struct {
	serverName string
	tableName  string
	objectName string
	options    []byte
	columns    []byte
	createdAt  sql.NullTime
}

func (raw rawTable) decode() (catalog.ForeignTable, error) {
	table := catalog.ForeignTable{
		ServerName: raw.serverName,
		Name:       raw.tableName,
		Object:     raw.objectName,
	}
	if raw.createdAt.Valid {
		table.CreatedAt = raw.createdAt.Time
	}
	if err := json.Unmarshal(raw.options, &table.Options); err != nil {
		return catalog.ForeignTable{}, fmt.Errorf("decode table %q options: %w", raw.tableName, err)
	}
	if err := json.Unmarshal(raw.columns, &table.Columns); err != nil {
		return catalog.ForeignTable{}, fmt.Errorf("decode table %q columns: %w", raw.tableName, err)
	}
	return table, nil
}

func scanTable(row *sql.Row) (catalog.ForeignTable, error) {
	var raw rawTable
	if err := row.Scan(&raw.serverName, &raw.tableName, &raw.objectName, &raw.options, &raw.columns, &raw.createdAt); err != nil {
		return catalog.ForeignTable{}, err
	}
	return raw.decode()
}

func encodeTable(table catalog.ForeignTable) (options, columns string, err error) {
	opts := table.Options
	if opts == nil {
		opts = map[string]string{}
	}
	rawOptions, err := json.Marshal(opts)
	if err != nil {
		return "", "", fmt.Errorf("encode table %q options: %w", table.Name, err)
	}
	cols := table.Columns
	if cols == nil {
		cols = []catalog.ColumnDefinition{}
	}
	rawColumns, err := json.Marshal(cols)
	if err != nil {
		return "", "", fmt.Errorf("encode table %q columns: %w", table.Name, err)
	}
	return string(rawOptions), string(rawColumns), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
