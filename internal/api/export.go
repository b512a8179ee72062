package api

import (
	"net/http"

	"github.com/encima/linear-fdw/internal/auth"
)

type exportResponse struct {
	ObjectPath  string `json:"object_path"`
	RecordCount int64  `json:"record_count"`
	SizeBytes   int64  `json:"size_bytes"`
	RowsSkipped int64  `json:"rows_skipped"`
}

// handleExport snapshots one table into the object store. Run history is
// recorded best effort; a recorder failure does not undo a finished export.
func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleReader, auth.RoleAdmin) {
		return
	}
	serverName := r.PathValue("server")
	tableName := r.PathValue("table")

	server, err := deps.Catalog.GetServer(r.Context(), serverName)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	table, err := deps.Catalog.GetTable(r.Context(), serverName, tableName)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	result, err := deps.Bridge.Export(r.Context(), server, table)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	if deps.ExportRecorder != nil {
		if err := deps.ExportRecorder.Record(r.Context(), serverName, tableName, result); err != nil && deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "export run not recorded",
				"server", serverName,
				"table", tableName,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, exportResponse{
		ObjectPath:  result.ObjectPath,
		RecordCount: result.RecordCount,
		SizeBytes:   result.SizeBytes,
		RowsSkipped: result.RowsSkipped,
	})
}
