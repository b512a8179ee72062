package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/encima/linear-fdw/internal/auth"
	"github.com/encima/linear-fdw/internal/catalog"
	"github.com/encima/linear-fdw/internal/config"
	"github.com/encima/linear-fdw/internal/export"
	"github.com/encima/linear-fdw/internal/graphql"
	"github.com/encima/linear-fdw/internal/introspect"
	"github.com/encima/linear-fdw/internal/scan"
	"github.com/encima/linear-fdw/internal/translate"
)

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func testConfig(t *testing.T, extra map[string]string) config.Config {
	t.Helper()
	values := map[string]string{"LINEARFDW_PROFILE": "test"}
	for key, value := range extra {
		values[key] = value
	}
	cfg, err := config.Load("linear-fdw", mapLookup(values))
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

type fakeRepo struct {
	servers map[string]catalog.ForeignServer
	tables  map[string]catalog.ForeignTable

	importedServer string
	imported       []catalog.ForeignTable
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		servers: make(map[string]catalog.ForeignServer),
		tables:  make(map[string]catalog.ForeignTable),
	}
}

func tableKey(serverName, tableName string) string {
	return serverName + "/" + tableName
}

func (r *fakeRepo) HealthCheck(context.Context) error { return nil }

func (r *fakeRepo) CreateServer(_ context.Context, server catalog.ForeignServer) (catalog.ForeignServer, error) {
	if _, exists := r.servers[server.Name]; exists {
		return catalog.ForeignServer{}, catalog.ErrAlreadyExists
	}
	r.servers[server.Name] = server
	return server, nil
}

func (r *fakeRepo) GetServer(_ context.Context, name string) (catalog.ForeignServer, error) {
	server, ok := r.servers[name]
	if !ok {
		return catalog.ForeignServer{}, catalog.ErrNotFound
	}
	return server, nil
}

func (r *fakeRepo) ListServers(context.Context) ([]catalog.ForeignServer, error) {
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	servers := make([]catalog.ForeignServer, 0, len(names))
	for _, name := range names {
		servers = append(servers, r.servers[name])
	}
	return servers, nil
}

func (r *fakeRepo) DeleteServer(_ context.Context, name string) (bool, error) {
	if _, ok := r.servers[name]; !ok {
		return false, nil
	}
	delete(r.servers, name)
	return true, nil
}

func (r *fakeRepo) CreateTable(_ context.Context, table catalog.ForeignTable) (catalog.ForeignTable, error) {
	if _, ok := r.servers[table.ServerName]; !ok {
		return catalog.ForeignTable{}, catalog.ErrNotFound
	}
	key := tableKey(table.ServerName, table.Name)
	if _, exists := r.tables[key]; exists {
		return catalog.ForeignTable{}, catalog.ErrAlreadyExists
	}
	r.tables[key] = table
	return table, nil
}

func (r *fakeRepo) GetTable(_ context.Context, serverName, tableName string) (catalog.ForeignTable, error) {
	table, ok := r.tables[tableKey(serverName, tableName)]
	if !ok {
		return catalog.ForeignTable{}, catalog.ErrNotFound
	}
	return table, nil
}

func (r *fakeRepo) ListTables(_ context.Context, serverName string) ([]catalog.ForeignTable, error) {
	tables := make([]catalog.ForeignTable, 0)
	for _, table := range r.tables {
		if table.ServerName == serverName {
			tables = append(tables, table)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

func (r *fakeRepo) DeleteTable(_ context.Context, serverName, tableName string) (bool, error) {
	key := tableKey(serverName, tableName)
	if _, ok := r.tables[key]; !ok {
		return false, nil
	}
	delete(r.tables, key)
	return true, nil
}

func (r *fakeRepo) ImportTables(_ context.Context, serverName string, tables []catalog.ForeignTable) error {
	if _, ok := r.servers[serverName]; !ok {
		return catalog.ErrNotFound
	}
	r.importedServer = serverName
	r.imported = tables
	for _, table := range tables {
		r.tables[tableKey(serverName, table.Name)] = table
	}
	return nil
}

type scriptedRemote struct {
	responses []json.RawMessage
	errs      []error
	calls     int
}

func (c *scriptedRemote) Execute(context.Context, string) (json.RawMessage, error) {
	defer func() { c.calls++ }()
	if c.calls < len(c.errs) && c.errs[c.calls] != nil {
		return nil, c.errs[c.calls]
	}
	if c.calls >= len(c.responses) {
		return nil, fmt.Errorf("unexpected call %d", c.calls+1)
	}
	return c.responses[c.calls], nil
}

// fakeBridge drives the real scan pipeline against scripted remote responses.
type fakeBridge struct {
	remote       *scriptedRemote
	importResult introspect.Result
	importErr    error
	exportResult export.Result
	exportErr    error
}

func (b *fakeBridge) Scan(ctx context.Context, _ catalog.ForeignServer, table catalog.ForeignTable, req translate.ScanRequest, pageSize int) (*scan.Iterator, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	executor := scan.NewExecutor(b.remote, scan.Options{PageSize: pageSize})
	return executor.Scan(ctx, table, req)
}

func (b *fakeBridge) Import(context.Context, catalog.ForeignServer) (introspect.Result, error) {
	return b.importResult, b.importErr
}

func (b *fakeBridge) Export(context.Context, catalog.ForeignServer, catalog.ForeignTable) (export.Result, error) {
	return b.exportResult, b.exportErr
}

type fakeRecorder struct {
	serverName string
	tableName  string
	result     export.Result
	calls      int
}

func (r *fakeRecorder) Record(_ context.Context, serverName, tableName string, result export.Result) error {
	r.calls++
	r.serverName = serverName
	r.tableName = tableName
	r.result = result
	return nil
}

func issuesTable() catalog.ForeignTable {
	return catalog.ForeignTable{
		ServerName: "linear",
		Name:       "issues",
		Object:     "issues",
		Columns: []catalog.ColumnDefinition{
			{Name: "id", Type: catalog.ColumnTypeText, Nullable: false, Pushdown: true},
			{Name: "title", Type: catalog.ColumnTypeText, Nullable: true, Pushdown: true},
		},
	}
}

func issuesPage(hasNext bool, cursor string, ids ...string) json.RawMessage {
	nodes := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, map[string]any{"id": id, "title": "title-" + id})
	}
	doc := map[string]any{
		"issues": map[string]any{
			"nodes":    nodes,
			"pageInfo": map[string]any{"hasNextPage": hasNext, "endCursor": cursor},
		},
	}
	encoded, _ := json.Marshal(doc)
	return encoded
}

func newTestHandler(t *testing.T, cfg config.Config, repo *fakeRepo, bridge *fakeBridge, recorder ExportRecorder) http.Handler {
	t.Helper()
	deps := Dependencies{
		Catalog:        repo,
		Bridge:         bridge,
		ExportRecorder: recorder,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			t.Fatalf("validator setup: %v", err)
		}
		deps.AuthMiddleware = auth.Middleware(nil, validator)
	}
	return NewHandler(cfg, deps)
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t, testConfig(t, nil), newFakeRepo(), &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodGet, "/v1/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyReportsFailingCheck(t *testing.T) {
	cfg := testConfig(t, nil)
	handler := NewHandler(cfg, Dependencies{
		Catalog: newFakeRepo(),
		Bridge:  &fakeBridge{},
		Readiness: func(context.Context) error {
			return fmt.Errorf("catalog unreachable")
		},
	})

	rr := doJSON(t, handler, http.MethodGet, "/v1/ready", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "NOT_READY" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateServerResponseOmitsCredential(t *testing.T) {
	repo := newFakeRepo()
	handler := newTestHandler(t, testConfig(t, nil), repo, &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers", map[string]any{
		"name": "linear",
		"options": map[string]string{
			"api_url": "https://api.linear.app/graphql",
			"api_key": "lin_api_secret_value",
		},
	}, nil)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "lin_api_secret_value") {
		t.Fatal("response must not echo the credential")
	}
	body := decodeBody(t, rr)
	if body["has_api_key"] != true {
		t.Fatalf("body = %v", body)
	}
	if repo.servers["linear"].APIKey != "lin_api_secret_value" {
		t.Fatal("credential should be persisted in the catalog")
	}
}

func TestCreateServerRejectsMissingCredential(t *testing.T) {
	handler := newTestHandler(t, testConfig(t, nil), newFakeRepo(), &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers", map[string]any{
		"name":    "linear",
		"options": map[string]string{"api_url": "https://api.linear.app/graphql"},
	}, nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "INVALID_OPTIONS" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateServerDuplicateConflicts(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	handler := newTestHandler(t, testConfig(t, nil), repo, &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers", map[string]any{
		"name":    "linear",
		"options": map[string]string{"api_key": "k"},
	}, nil)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestGetServerNotFound(t *testing.T) {
	handler := newTestHandler(t, testConfig(t, nil), newFakeRepo(), &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodGet, "/v1/servers/missing", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "NOT_FOUND" {
		t.Fatalf("body = %v", body)
	}
}

func TestDeleteServer(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	handler := newTestHandler(t, testConfig(t, nil), repo, &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodDelete, "/v1/servers/linear", nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodDelete, "/v1/servers/linear", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestCreateTableValidatesObjectOptions(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	handler := newTestHandler(t, testConfig(t, nil), repo, &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/linear/tables", map[string]any{
		"name":    "one_issue",
		"options": map[string]string{"object": "issue"},
		"columns": []map[string]any{{"name": "id", "type": "text"}},
	}, nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["error_code"] != "INVALID_OPTIONS" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateAndGetTable(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	handler := newTestHandler(t, testConfig(t, nil), repo, &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/linear/tables", map[string]any{
		"name":    "issues",
		"options": map[string]string{"object": "issues"},
		"columns": []map[string]any{
			{"name": "id", "type": "text", "pushdown": true},
			{"name": "title", "type": "text", "nullable": true},
		},
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodGet, "/v1/servers/linear/tables/issues", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["object"] != "issues" || body["server_name"] != "linear" {
		t.Fatalf("body = %v", body)
	}
}

func TestImportSchemaRegistersTables(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	bridge := &fakeBridge{
		importResult: introspect.Result{
			Tables:   catalog.BuiltinTables("linear"),
			Warnings: []string{`table "workflow_states": remote schema has no query field "workflowStates"`},
		},
	}
	handler := newTestHandler(t, testConfig(t, nil), repo, bridge, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/linear/import", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if repo.importedServer != "linear" || len(repo.imported) == 0 {
		t.Fatalf("import not persisted: server %q, %d tables", repo.importedServer, len(repo.imported))
	}
	body := decodeBody(t, rr)
	warnings, ok := body["warnings"].([]any)
	if !ok || len(warnings) != 1 {
		t.Fatalf("warnings = %v", body["warnings"])
	}
}

func TestImportSchemaUnknownServer(t *testing.T) {
	handler := newTestHandler(t, testConfig(t, nil), newFakeRepo(), &fakeBridge{}, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/missing/import", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestScanEndpointReturnsRows(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	repo.tables[tableKey("linear", "issues")] = issuesTable()
	bridge := &fakeBridge{remote: &scriptedRemote{responses: []json.RawMessage{
		issuesPage(true, "cur-1", "a", "b"),
		issuesPage(false, "", "c"),
	}}}
	handler := newTestHandler(t, testConfig(t, nil), repo, bridge, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/linear/tables/issues/scan", map[string]any{
		"columns": []string{"id", "title"},
		"predicates": []map[string]any{
			{"column": "title", "operator": ">", "value": "m"},
		},
	}, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	rows, ok := body["rows"].([]any)
	if !ok || len(rows) != 3 {
		t.Fatalf("rows = %v", body["rows"])
	}
	first, ok := rows[0].([]any)
	if !ok || first[0] != "a" {
		t.Fatalf("first row = %v", rows[0])
	}
	residual, ok := body["residual"].([]any)
	if !ok || len(residual) != 1 {
		t.Fatalf("residual = %v", body["residual"])
	}
	stats, ok := body["stats"].(map[string]any)
	if !ok || stats["pages"] != float64(2) || stats["rows_emitted"] != float64(3) {
		t.Fatalf("stats = %v", body["stats"])
	}
}

func TestScanUnknownColumnRejected(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	repo.tables[tableKey("linear", "issues")] = issuesTable()
	bridge := &fakeBridge{remote: &scriptedRemote{}}
	handler := newTestHandler(t, testConfig(t, nil), repo, bridge, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/linear/tables/issues/scan", map[string]any{
		"columns": []string{"id", "no_such_column"},
	}, nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["error_code"] != "SCHEMA_MISMATCH" {
		t.Fatalf("body = %v", body)
	}
	if bridge.remote.calls != 0 {
		t.Fatalf("remote calls = %d", bridge.remote.calls)
	}
}

func TestScanRemoteUnauthorizedMapsToBadGateway(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	repo.tables[tableKey("linear", "issues")] = issuesTable()
	bridge := &fakeBridge{remote: &scriptedRemote{
		errs: []error{&graphql.RemoteError{Kind: graphql.ErrorUnauthorized, Status: 401, Message: "credential rejected by remote"}},
	}}
	handler := newTestHandler(t, testConfig(t, nil), repo, bridge, nil)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/linear/tables/issues/scan", map[string]any{
		"columns": []string{"id"},
	}, nil)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["error_code"] != "REMOTE_UNAUTHORIZED" {
		t.Fatalf("body = %v", body)
	}
}

func TestExportEndpointRecordsRun(t *testing.T) {
	repo := newFakeRepo()
	repo.servers["linear"] = catalog.ForeignServer{Name: "linear"}
	repo.tables[tableKey("linear", "issues")] = issuesTable()
	recorder := &fakeRecorder{}
	bridge := &fakeBridge{exportResult: export.Result{
		ObjectPath:  "linear/issues/date=2026-02-19/issues-20260219T090500Z.parquet",
		RecordCount: 42,
		SizeBytes:   2048,
	}}
	handler := newTestHandler(t, testConfig(t, nil), repo, bridge, recorder)

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers/linear/tables/issues/export", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["record_count"] != float64(42) || body["object_path"] == "" {
		t.Fatalf("body = %v", body)
	}
	if recorder.calls != 1 || recorder.tableName != "issues" || recorder.result.RecordCount != 42 {
		t.Fatalf("recorder = %+v", recorder)
	}
}

func TestAuthRequiredProtectsCatalogRoutes(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"LINEARFDW_AUTH_REQUIRED":    "true",
		"LINEARFDW_AUTH_STATIC_KEYS": "admin-key:ops:admin,reader-key:analyst:reader",
	})
	repo := newFakeRepo()
	handler := newTestHandler(t, cfg, repo, &fakeBridge{}, nil)

	if rr := doJSON(t, handler, http.MethodGet, "/v1/health", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}

	if rr := doJSON(t, handler, http.MethodGet, "/v1/servers", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d", rr.Code)
	}

	rr := doJSON(t, handler, http.MethodGet, "/v1/servers", nil, map[string]string{"X-API-Key": "reader-key"})
	if rr.Code != http.StatusOK {
		t.Fatalf("reader list status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestReaderRoleCannotCreateServers(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"LINEARFDW_AUTH_REQUIRED":    "true",
		"LINEARFDW_AUTH_STATIC_KEYS": "admin-key:ops:admin,reader-key:analyst:reader",
	})
	handler := newTestHandler(t, cfg, newFakeRepo(), &fakeBridge{}, nil)

	payload := map[string]any{
		"name":    "linear",
		"options": map[string]string{"api_key": "k"},
	}

	rr := doJSON(t, handler, http.MethodPost, "/v1/servers", payload, map[string]string{"X-API-Key": "reader-key"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("reader create status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/v1/servers", payload, map[string]string{"X-API-Key": "admin-key"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := testConfig(t, map[string]string{"LINEARFDW_AUTH_REQUIRED": "true"})
	handler := NewHandler(cfg, Dependencies{Catalog: newFakeRepo(), Bridge: &fakeBridge{}})

	rr := doJSON(t, handler, http.MethodGet, "/v1/servers", nil, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "AUTH_MIDDLEWARE_MISSING" {
		t.Fatalf("body = %v", body)
	}
}
