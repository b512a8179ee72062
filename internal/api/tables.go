package api

import (
	"net/http"
	"time"

	"github.com/encima/linear-fdw/internal/auth"
	"github.com/encima/linear-fdw/internal/catalog"
)

type createTableRequest struct {
	Name    string                     `json:"name"`
	Options map[string]string          `json:"options"`
	Columns []catalog.ColumnDefinition `json:"columns"`
}

type tableResponse struct {
	ServerName string                     `json:"server_name"`
	Name       string                     `json:"name"`
	Object     string                     `json:"object"`
	Options    map[string]string          `json:"options,omitempty"`
	Columns    []catalog.ColumnDefinition `json:"columns"`
	CreatedAt  time.Time                  `json:"created_at"`
}

func toTableResponse(table catalog.ForeignTable) tableResponse {
	return tableResponse{
		ServerName: table.ServerName,
		Name:       table.Name,
		Object:     table.Object,
		Options:    table.Options,
		Columns:    table.Columns,
		CreatedAt:  table.CreatedAt,
	}
}

func handleCreateTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleAdmin) {
		return
	}
	serverName := r.PathValue("server")

	var req createTableRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	table, err := catalog.ResolveTableOptions(serverName, req.Name, req.Options, req.Columns)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	created, err := deps.Catalog.CreateTable(r.Context(), table)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTableResponse(created))
}

func handleGetTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleReader, auth.RoleAdmin) {
		return
	}

	table, err := deps.Catalog.GetTable(r.Context(), r.PathValue("server"), r.PathValue("table"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(table))
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleReader, auth.RoleAdmin) {
		return
	}
	serverName := r.PathValue("server")

	if _, err := deps.Catalog.GetServer(r.Context(), serverName); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	tables, err := deps.Catalog.ListTables(r.Context(), serverName)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	responses := make([]tableResponse, 0, len(tables))
	for _, table := range tables {
		responses = append(responses, toTableResponse(table))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": responses})
}

func handleDeleteTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleAdmin) {
		return
	}

	deleted, err := deps.Catalog.DeleteTable(r.Context(), r.PathValue("server"), r.PathValue("table"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "table not found", false, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportSchema discovers the remote schema and registers the resulting
// tables atomically. Warnings about unverifiable objects are returned to the
// caller, not treated as failures.
func handleImportSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleAdmin) {
		return
	}
	serverName := r.PathValue("server")

	server, err := deps.Catalog.GetServer(r.Context(), serverName)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	result, err := deps.Bridge.Import(r.Context(), server)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	if err := deps.Catalog.ImportTables(r.Context(), serverName, result.Tables); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	names := make([]string, 0, len(result.Tables))
	for _, table := range result.Tables {
		names = append(names, table.Name)
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server":   serverName,
		"tables":   names,
		"warnings": warnings,
	})
}
