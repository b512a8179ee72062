package api

import (
	"net/http"

	"github.com/encima/linear-fdw/internal/auth"
	"github.com/encima/linear-fdw/internal/rowmap"
	"github.com/encima/linear-fdw/internal/translate"
)

type scanRequest struct {
	Columns    []string              `json:"columns"`
	Predicates []translate.Predicate `json:"predicates"`
	Limit      int64                 `json:"limit"`
	PageSize   int                   `json:"page_size"`
}

type scanStats struct {
	Pages       int   `json:"pages"`
	RowsEmitted int64 `json:"rows_emitted"`
	RowsSkipped int64 `json:"rows_skipped"`
}

type scanResponse struct {
	Columns  []string              `json:"columns"`
	Rows     []rowmap.Row          `json:"rows"`
	Residual []translate.Predicate `json:"residual"`
	Stats    scanStats             `json:"stats"`
}

// handleScan runs one synchronous table scan and returns the full result set.
// Residual predicates come back unapplied; the caller is the host engine and
// filters them itself.
func handleScan(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleReader, auth.RoleAdmin) {
		return
	}
	serverName := r.PathValue("server")
	tableName := r.PathValue("table")

	var req scanRequest
	if !decodeRequest(w, r, &req) {
		return
	}

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

	it, err := deps.Bridge.Scan(r.Context(), server, table, translate.ScanRequest{
		Columns:    req.Columns,
		Predicates: req.Predicates,
		Limit:      req.Limit,
	}, req.PageSize)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	rows := make([]rowmap.Row, 0)
	for it.Next(r.Context()) {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	residual := it.Residual()
	if residual == nil {
		residual = []translate.Predicate{}
	}
	stats := it.Stats()
	writeJSON(w, http.StatusOK, scanResponse{
		Columns:  it.Columns(),
		Rows:     rows,
		Residual: residual,
		Stats: scanStats{
			Pages:       stats.Pages,
			RowsEmitted: stats.RowsEmitted,
			RowsSkipped: stats.RowsSkipped,
		},
	})
}
