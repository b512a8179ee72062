package bridge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/encima/linear-fdw/internal/catalog"
	"github.com/encima/linear-fdw/internal/config"
	"github.com/encima/linear-fdw/internal/export"
	"github.com/encima/linear-fdw/internal/graphql"
	"github.com/encima/linear-fdw/internal/introspect"
	"github.com/encima/linear-fdw/internal/scan"
	"github.com/encima/linear-fdw/internal/storage"
	"github.com/encima/linear-fdw/internal/translate"
)

// Bridge assembles the per-server remote plumbing: one authenticated client
// per foreign server, scans, schema imports, and snapshot exports. It holds
// process-wide remote settings; server records supply URL and credential.
type Bridge struct {
	remote     config.RemoteConfig
	store      storage.ObjectStore
	logger     *slog.Logger
	httpClient *http.Client
}

type Options struct {
	// HTTPClient overrides the transport for remote calls; tests point it at
	// an httptest server.
	HTTPClient *http.Client
}

func New(remote config.RemoteConfig, store storage.ObjectStore, logger *slog.Logger, opts Options) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{remote: remote, store: store, logger: logger, httpClient: opts.HTTPClient}
}

func (b *Bridge) clientFor(server catalog.ForeignServer) (*graphql.Client, error) {
	apiURL := server.APIURL
	if apiURL == "" {
		apiURL = b.remote.DefaultAPIURL
	}
	return graphql.NewClient(graphql.Config{
		APIURL:      apiURL,
		APIKey:      server.APIKey,
		Timeout:     b.remote.RequestTimeout,
		MaxAttempts: b.remote.MaxAttempts,
		HTTPClient:  b.httpClient,
		Logger:      b.logger,
	})
}

// Scan starts a table scan. pageSize <= 0 uses the configured default; values
// above the configured maximum are clamped.
func (b *Bridge) Scan(ctx context.Context, server catalog.ForeignServer, table catalog.ForeignTable, req translate.ScanRequest, pageSize int) (*scan.Iterator, error) {
	client, err := b.clientFor(server)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = b.remote.PageSize
	}
	if b.remote.MaxPageSize > 0 && pageSize > b.remote.MaxPageSize {
		pageSize = b.remote.MaxPageSize
	}
	executor := scan.NewExecutor(client, scan.Options{PageSize: pageSize, Logger: b.logger})
	return executor.Scan(ctx, table, req)
}

// Import produces the importable table set for the server.
func (b *Bridge) Import(ctx context.Context, server catalog.ForeignServer) (introspect.Result, error) {
	client, err := b.clientFor(server)
	if err != nil {
		return introspect.Result{}, err
	}
	return introspect.NewImporter(client, b.logger).Import(ctx, server.Name)
}

// Export snapshots the whole table into the object store.
func (b *Bridge) Export(ctx context.Context, server catalog.ForeignServer, table catalog.ForeignTable) (export.Result, error) {
	client, err := b.clientFor(server)
	if err != nil {
		return export.Result{}, err
	}
	executor := scan.NewExecutor(client, scan.Options{PageSize: b.remote.PageSize, Logger: b.logger})
	exporter := export.NewExporter(executor, b.store, export.Options{Logger: b.logger})
	return exporter.Export(ctx, table)
}
