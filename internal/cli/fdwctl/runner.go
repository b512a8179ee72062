package fdwctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// Run executes one fdwctl command against the bridge API and returns the
// process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("fdwctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "bridge API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	columns := fs.String("columns", "", "comma-separated column list for scan")
	limit := fs.Int64("limit", 0, "row limit for scan (0 means unlimited)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "servers":
		method, path = http.MethodGet, "/v1/servers"
	case "tables":
		if fs.NArg() != 2 {
			_, _ = fmt.Fprintln(stderr, "usage: fdwctl tables <server>")
			return 2
		}
		method, path = http.MethodGet, "/v1/servers/"+url.PathEscape(fs.Arg(1))+"/tables"
	case "import":
		if fs.NArg() != 2 {
			_, _ = fmt.Fprintln(stderr, "usage: fdwctl import <server>")
			return 2
		}
		method, path = http.MethodPost, "/v1/servers/"+url.PathEscape(fs.Arg(1))+"/import"
	case "scan":
		if fs.NArg() != 3 || strings.TrimSpace(*columns) == "" {
			_, _ = fmt.Fprintln(stderr, "usage: fdwctl -columns <a,b,c> [-limit n] scan <server> <table>")
			return 2
		}
		method = http.MethodPost
		path = "/v1/servers/" + url.PathEscape(fs.Arg(1)) + "/tables/" + url.PathEscape(fs.Arg(2)) + "/scan"
		payload := map[string]any{"columns": splitColumns(*columns)}
		if *limit > 0 {
			payload["limit"] = *limit
		}
		body, _ = json.Marshal(payload)
	case "export":
		if fs.NArg() != 3 {
			_, _ = fmt.Fprintln(stderr, "usage: fdwctl export <server> <table>")
			return 2
		}
		method = http.MethodPost
		path = "/v1/servers/" + url.PathEscape(fs.Arg(1)) + "/tables/" + url.PathEscape(fs.Arg(2)) + "/export"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: fdwctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                    GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                     GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  servers                   GET /v1/servers")
	_, _ = fmt.Fprintln(w, "  tables <server>           GET /v1/servers/{server}/tables")
	_, _ = fmt.Fprintln(w, "  import <server>           POST /v1/servers/{server}/import")
	_, _ = fmt.Fprintln(w, "  scan <server> <table>     POST /v1/servers/{server}/tables/{table}/scan")
	_, _ = fmt.Fprintln(w, "  export <server> <table>   POST /v1/servers/{server}/tables/{table}/export")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
