package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/encima/linear-fdw/internal/catalog"
	"github.com/encima/linear-fdw/internal/rowmap"
	"github.com/encima/linear-fdw/internal/scan"
	"github.com/encima/linear-fdw/internal/storage"
	"github.com/encima/linear-fdw/internal/translate"
)

// Exporter materializes one full table scan as a parquet object. Exports carry
// no predicates: a snapshot is the whole remote collection at export time.
type Exporter struct {
	executor *scan.Executor
	store    storage.ObjectStore
	logger   *slog.Logger
	now      func() time.Time
}

type Options struct {
	Logger *slog.Logger
	// Now overrides the export timestamp source; tests use it to pin object
	// paths.
	Now func() time.Time
}

func NewExporter(executor *scan.Executor, store storage.ObjectStore, opts Options) *Exporter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Exporter{executor: executor, store: store, logger: logger, now: now}
}

type Result struct {
	ObjectPath  string
	RecordCount int64
	SizeBytes   int64
	RowsSkipped int64
}

// Export scans the whole table and uploads the result. The scan is drained
// before the upload starts, so a failed scan never leaves a partial object
// behind.
func (e *Exporter) Export(ctx context.Context, table catalog.ForeignTable) (Result, error) {
	columns := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, col.Name)
	}
	if len(columns) == 0 {
		return Result{}, fmt.Errorf("table %q declares no columns", table.Name)
	}

	it, err := e.executor.Scan(ctx, table, translate.ScanRequest{Columns: columns})
	if err != nil {
		return Result{}, err
	}

	var rows []rowmap.Row
	for it.Next(ctx) {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		return Result{}, err
	}

	data, err := encodeParquet(table.Columns, rows)
	if err != nil {
		return Result{}, err
	}

	key, err := storage.BuildExportPath(table.ServerName, table.Name, e.now())
	if err != nil {
		return Result{}, err
	}
	info, err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return Result{}, err
	}

	stats := it.Stats()
	e.logger.InfoContext(ctx, "table exported",
		slog.String("table", table.Name),
		slog.String("object", info.Key),
		slog.Int64("records", stats.RowsEmitted),
		slog.Int64("skipped", stats.RowsSkipped),
		slog.Int64("size_bytes", int64(len(data))),
	)

	return Result{
		ObjectPath:  info.Key,
		RecordCount: stats.RowsEmitted,
		SizeBytes:   int64(len(data)),
		RowsSkipped: stats.RowsSkipped,
	}, nil
}
