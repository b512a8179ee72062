package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/encima/linear-fdw/internal/observability"
)

const maxErrorBodyBytes = 512

type Config struct {
	APIURL      string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client issues GraphQL POST requests against one remote endpoint. It is safe
// for concurrent use by independent scans.
type Client struct {
	apiURL      string
	apiKey      string
	timeout     time.Duration
	maxAttempts int
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("api url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		apiURL:      strings.TrimSpace(cfg.APIURL),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		timeout:     timeout,
		maxAttempts: maxAttempts,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Execute posts the query and returns the raw "data" document. Transient and
// rate-limited failures are retried with exponential backoff up to the
// configured attempt cap; unauthorized and malformed responses fail
// immediately.
func (c *Client) Execute(ctx context.Context, query string) (json.RawMessage, error) {
	start := time.Now()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	var lastErr *RemoteError
	attempts := 0
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attempts = attempt
		data, remoteErr := c.executeOnce(ctx, query)
		if remoteErr == nil {
			observability.ObserveRemoteCall("ok", attempt-1, time.Since(start))
			return data, nil
		}
		lastErr = remoteErr
		if !remoteErr.Retryable() || attempt == c.maxAttempts {
			break
		}

		wait := policy.NextBackOff()
		if remoteErr.RetryAfter > 0 {
			wait = remoteErr.RetryAfter
		}
		c.logger.WarnContext(ctx, "remote call failed, retrying",
			slog.String("kind", string(remoteErr.Kind)),
			slog.Int("attempt", attempt),
			slog.String("backoff", wait.String()),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			observability.ObserveRemoteCall("canceled", attempt-1, time.Since(start))
			return nil, ctx.Err()
		}
	}

	observability.ObserveRemoteCall(string(lastErr.Kind), attempts-1, time.Since(start))
	return nil, lastErr
}

func (c *Client) executeOnce(ctx context.Context, query string) (json.RawMessage, *RemoteError) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, &RemoteError{Kind: ErrorMalformedResponse, Message: "marshal query payload", Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, &RemoteError{Kind: ErrorTransient, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &RemoteError{Kind: ErrorTransient, Message: "request canceled", Err: err}
		}
		return nil, &RemoteError{Kind: ErrorTransient, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Kind: ErrorTransient, Status: resp.StatusCode, Message: "read response body", Err: err}
	}

	if remoteErr := classifyStatus(resp, respBody); remoteErr != nil {
		return nil, remoteErr
	}

	var parsed struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &RemoteError{Kind: ErrorMalformedResponse, Status: resp.StatusCode, Message: "response is not valid JSON", Err: err}
	}
	if len(parsed.Errors) > 0 {
		messages := make([]string, 0, len(parsed.Errors))
		for _, item := range parsed.Errors {
			messages = append(messages, item.Message)
		}
		return nil, &RemoteError{
			Kind:    ErrorMalformedResponse,
			Status:  resp.StatusCode,
			Message: "graphql errors: " + strings.Join(messages, "; "),
		}
	}
	if len(parsed.Data) == 0 {
		return nil, &RemoteError{Kind: ErrorMalformedResponse, Status: resp.StatusCode, Message: "response has no data document"}
	}
	return parsed.Data, nil
}

func classifyStatus(resp *http.Response, body []byte) *RemoteError {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &RemoteError{Kind: ErrorUnauthorized, Status: resp.StatusCode, Message: "credential rejected by remote"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RemoteError{
			Kind:       ErrorRateLimited,
			Status:     resp.StatusCode,
			Message:    "rate limited by remote",
			RetryAfter: retryAfterHint(resp),
		}
	case resp.StatusCode >= 500:
		return &RemoteError{Kind: ErrorTransient, Status: resp.StatusCode, Message: truncate(body)}
	default:
		return &RemoteError{Kind: ErrorMalformedResponse, Status: resp.StatusCode, Message: truncate(body)}
	}
}

func retryAfterHint(resp *http.Response) time.Duration {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncate(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyBytes {
		text = text[:maxErrorBodyBytes] + "..."
	}
	if text == "" {
		return "no response body"
	}
	return text
}
