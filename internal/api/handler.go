package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/encima/linear-fdw/internal/catalog"
	"github.com/encima/linear-fdw/internal/config"
	"github.com/encima/linear-fdw/internal/export"
	"github.com/encima/linear-fdw/internal/graphql"
	"github.com/encima/linear-fdw/internal/introspect"
	"github.com/encima/linear-fdw/internal/observability"
	"github.com/encima/linear-fdw/internal/scan"
	"github.com/encima/linear-fdw/internal/translate"
)

type ReadinessCheck func(ctx context.Context) error

// BridgeRunner is the remote side of the API: scans, schema imports, and
// exports against one foreign server.
type BridgeRunner interface {
	Scan(ctx context.Context, server catalog.ForeignServer, table catalog.ForeignTable, req translate.ScanRequest, pageSize int) (*scan.Iterator, error)
	Import(ctx context.Context, server catalog.ForeignServer) (introspect.Result, error)
	Export(ctx context.Context, server catalog.ForeignServer, table catalog.ForeignTable) (export.Result, error)
}

// ExportRecorder persists export run history; nil disables recording.
type ExportRecorder interface {
	Record(ctx context.Context, serverName, tableName string, result export.Result) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Catalog           catalog.Repository
	Bridge            BridgeRunner
	ExportRecorder    ExportRecorder
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/servers", func(w http.ResponseWriter, r *http.Request) {
		handleListServers(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers", func(w http.ResponseWriter, r *http.Request) {
		handleCreateServer(cfg, deps, w, r)
	})
	protected.HandleFunc("GET /v1/servers/{server}", func(w http.ResponseWriter, r *http.Request) {
		handleGetServer(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/servers/{server}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteServer(deps, w, r)
	})
	protected.HandleFunc("GET /v1/servers/{server}/tables", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers/{server}/tables", func(w http.ResponseWriter, r *http.Request) {
		handleCreateTable(deps, w, r)
	})
	protected.HandleFunc("GET /v1/servers/{server}/tables/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleGetTable(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/servers/{server}/tables/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteTable(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers/{server}/import", func(w http.ResponseWriter, r *http.Request) {
		handleImportSchema(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers/{server}/tables/{table}/scan", func(w http.ResponseWriter, r *http.Request) {
		handleScan(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers/{server}/tables/{table}/export", func(w http.ResponseWriter, r *http.Request) {
		handleExport(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/servers", protectedHandler)
	mux.Handle("POST /v1/servers", protectedHandler)
	mux.Handle("GET /v1/servers/{server}", protectedHandler)
	mux.Handle("DELETE /v1/servers/{server}", protectedHandler)
	mux.Handle("GET /v1/servers/{server}/tables", protectedHandler)
	mux.Handle("POST /v1/servers/{server}/tables", protectedHandler)
	mux.Handle("GET /v1/servers/{server}/tables/{table}", protectedHandler)
	mux.Handle("DELETE /v1/servers/{server}/tables/{table}", protectedHandler)
	mux.Handle("POST /v1/servers/{server}/import", protectedHandler)
	mux.Handle("POST /v1/servers/{server}/tables/{table}/scan", protectedHandler)
	mux.Handle("POST /v1/servers/{server}/tables/{table}/export", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCatalogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.DSN == "" {
			return errors.New("catalog dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeDomainError maps typed domain failures onto the error envelope.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var configErr *catalog.ConfigurationError
	var mismatchErr *translate.SchemaMismatchError
	var remoteErr *graphql.RemoteError

	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "NOT_FOUND", "resource not found", false, nil)
	case errors.Is(err, catalog.ErrAlreadyExists):
		writeError(ctx, w, http.StatusConflict, "ALREADY_EXISTS", "resource already exists", false, nil)
	case errors.As(err, &configErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_OPTIONS", configErr.Error(), false, nil)
	case errors.As(err, &mismatchErr):
		writeError(ctx, w, http.StatusBadRequest, "SCHEMA_MISMATCH", mismatchErr.Error(), false, nil)
	case errors.As(err, &remoteErr):
		writeRemoteError(ctx, w, remoteErr)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, map[string]any{"details": err.Error()})
	}
}

func writeRemoteError(ctx context.Context, w http.ResponseWriter, remoteErr *graphql.RemoteError) {
	extra := map[string]any{"kind": string(remoteErr.Kind)}
	switch remoteErr.Kind {
	case graphql.ErrorUnauthorized:
		writeError(ctx, w, http.StatusBadGateway, "REMOTE_UNAUTHORIZED", "remote rejected the server credential", false, extra)
	case graphql.ErrorRateLimited:
		writeError(ctx, w, http.StatusServiceUnavailable, "REMOTE_RATE_LIMITED", "remote rate limit exceeded", true, extra)
	case graphql.ErrorTransient:
		writeError(ctx, w, http.StatusBadGateway, "REMOTE_UNAVAILABLE", "remote request failed", true, extra)
	default:
		writeError(ctx, w, http.StatusBadGateway, "REMOTE_MALFORMED", "remote returned an unusable response", false, extra)
	}
}
