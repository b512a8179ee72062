package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/encima/linear-fdw/internal/catalog"
	"github.com/encima/linear-fdw/internal/observability"
	"github.com/encima/linear-fdw/internal/rowmap"
	"github.com/encima/linear-fdw/internal/translate"
)

// Client is the remote call surface the executor needs; satisfied by
// *graphql.Client.
type Client interface {
	Execute(ctx context.Context, query string) (json.RawMessage, error)
}

type Options struct {
	PageSize int
	Logger   *slog.Logger
}

// Executor runs foreign table scans against one remote client. It holds no
// per-scan state and is safe for concurrent scans.
type Executor struct {
	client   Client
	pageSize int
	logger   *slog.Logger
}

func NewExecutor(client Client, opts Options) *Executor {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{client: client, pageSize: pageSize, logger: logger}
}

// Stats summarizes one finished or failed scan.
type Stats struct {
	Pages       int
	RowsEmitted int64
	RowsSkipped int64
}

// Scan validates the request and returns a lazy iterator over the result
// rows. Validation failures (unknown columns, missing object parameters)
// surface here, before any remote call. The iterator is consumed once and is
// not restartable.
func (e *Executor) Scan(ctx context.Context, table catalog.ForeignTable, req translate.ScanRequest) (*Iterator, error) {
	translated, err := translate.Translate(table, req)
	if err != nil {
		return nil, err
	}
	mapper, err := rowmap.New(table, req.Columns)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Iterator{
		executor: e,
		table:    table,
		spec:     translated.Spec,
		residual: translated.Residual,
		mapper:   mapper,
		columns:  append([]string(nil), req.Columns...),
		limit:    req.Limit,
	}, nil
}

type iteratorState int

const (
	stateReady iteratorState = iota
	stateEmitting
	stateDone
	stateFailed
)

// Iterator yields mapped rows one page at a time. Rows emitted before a fatal
// remote failure remain valid; after the failure Next returns false and Err
// reports the cause. Cancellation is checked at each fetch boundary, so an
// abandoned scan issues no further remote calls.
type Iterator struct {
	executor *Executor
	table    catalog.ForeignTable
	spec     translate.QuerySpec
	residual []translate.Predicate
	mapper   *rowmap.Mapper
	columns  []string
	limit    int64

	state   iteratorState
	buffer  []rowmap.Row
	bufIdx  int
	cursor  string
	lastErr error

	pages   int
	emitted int64
	skipped int64
	current rowmap.Row
}

// Columns returns the projected column names, in emission order.
func (it *Iterator) Columns() []string { return it.columns }

// Residual returns the predicates that were not pushed down and must be
// applied by the caller.
func (it *Iterator) Residual() []translate.Predicate { return it.residual }

// Stats is valid once Next has returned false.
func (it *Iterator) Stats() Stats {
	return Stats{Pages: it.pages, RowsEmitted: it.emitted, RowsSkipped: it.skipped}
}

func (it *Iterator) Err() error { return it.lastErr }

// Row returns the row produced by the last successful Next call.
func (it *Iterator) Row() rowmap.Row { return it.current }

// Next advances the iterator, fetching further remote pages as needed.
func (it *Iterator) Next(ctx context.Context) bool {
	for {
		switch it.state {
		case stateDone, stateFailed:
			return false
		case stateReady, stateEmitting:
		}

		if it.limit > 0 && it.emitted >= it.limit {
			it.finish()
			return false
		}

		if it.bufIdx < len(it.buffer) {
			it.current = it.buffer[it.bufIdx]
			it.bufIdx++
			it.emitted++
			return true
		}

		// Page exhausted. Stop unless a continuation cursor remains.
		if it.state == stateEmitting && (!it.spec.Paginated || it.cursor == "") {
			it.finish()
			return false
		}

		if err := ctx.Err(); err != nil {
			it.fail(err)
			return false
		}
		if err := it.fetchPage(ctx); err != nil {
			it.fail(err)
			return false
		}
	}
}

func (it *Iterator) fetchPage(ctx context.Context) error {
	pageSize := it.executor.pageSize
	if it.limit > 0 {
		if remaining := it.limit - it.emitted; remaining < int64(pageSize) {
			pageSize = int(remaining)
		}
	}

	query := it.spec.Render(pageSize, it.cursor)
	data, err := it.executor.client.Execute(ctx, query)
	if err != nil {
		return err
	}
	it.pages++

	records, nextCursor, err := decodePage(data, it.spec)
	if err != nil {
		return err
	}

	rows := make([]rowmap.Row, 0, len(records))
	for _, record := range records {
		row, err := it.mapper.MapRecord(record)
		if err != nil {
			var coercion *rowmap.CoercionError
			if errors.As(err, &coercion) {
				it.skipped++
				it.executor.logger.WarnContext(ctx, "row skipped",
					slog.String("table", it.table.Name),
					slog.String("object", it.table.Object),
					slog.String("column", coercion.Column),
					slog.String("reason", coercion.Reason),
				)
				continue
			}
			return err
		}
		rows = append(rows, row)
	}

	it.buffer = rows
	it.bufIdx = 0
	it.cursor = nextCursor
	it.state = stateEmitting
	return nil
}

func (it *Iterator) finish() {
	it.state = stateDone
	observability.ObserveScan("done", it.pages, it.emitted, it.skipped)
}

func (it *Iterator) fail(err error) {
	it.state = stateFailed
	it.lastErr = fmt.Errorf("scan %s (object %s): %w", it.table.Name, it.table.Object, err)
	observability.ObserveScan("failed", it.pages, it.emitted, it.skipped)
}

// decodePage walks the response path and extracts the page's records plus the
// continuation cursor (empty on the last page).
func decodePage(data json.RawMessage, spec translate.QuerySpec) ([]map[string]any, string, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("decode response document: %w", err)
	}

	var current any = doc
	for _, key := range spec.ResponsePath {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("unexpected response shape at %q", key)
		}
		current = object[key]
	}
	if current == nil {
		return nil, "", nil
	}

	if !spec.Paginated {
		record, ok := current.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("expected a single record for object %q", spec.Object)
		}
		return []map[string]any{record}, "", nil
	}

	connection, ok := current.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("expected a connection for object %q", spec.Object)
	}
	rawNodes, _ := connection["nodes"].([]any)
	records := make([]map[string]any, 0, len(rawNodes))
	for _, rawNode := range rawNodes {
		record, ok := rawNode.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("expected object nodes for %q", spec.Object)
		}
		records = append(records, record)
	}

	cursor := ""
	if pageInfo, ok := connection["pageInfo"].(map[string]any); ok {
		hasNext, _ := pageInfo["hasNextPage"].(bool)
		if hasNext {
			cursor, _ = pageInfo["endCursor"].(string)
		}
	}
	return records, cursor, nil
}
