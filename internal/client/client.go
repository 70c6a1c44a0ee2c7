// Package client is a thin HTTP client for the FlowAudit API.
//
// Transport failures and 5xx responses become apperr network errors.
// Idempotent calls (GETs and previews) are retried; uploads and applies are
// sent exactly once. API error envelopes are decoded back into apperr
// errors of the same kind and code.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowaudit/flowaudit/internal/api"
	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/ruleset"
	"github.com/flowaudit/flowaudit/internal/solution"
)

const (
	// DefaultRetries is how often an idempotent request is retried.
	DefaultRetries = 2
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
	// DefaultBackoff is the wait before the first retry; it grows linearly.
	DefaultBackoff = 200 * time.Millisecond
)

// Client talks to a FlowAudit server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets the retry count for idempotent requests.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithBackoff sets the base wait between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperr.Validation("INVALID_URL", "invalid server url %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		retries: DefaultRetries,
		backoff: DefaultBackoff,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListRulesets returns every ruleset the server knows.
func (c *Client) ListRulesets(ctx context.Context) ([]ruleset.Ruleset, error) {
	var out []ruleset.Ruleset
	if err := c.do(ctx, http.MethodGet, "/rulesets", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RulesetSummaries returns the ruleset summaries.
func (c *Client) RulesetSummaries(ctx context.Context) ([]ruleset.Summary, error) {
	var out []ruleset.Summary
	if err := c.do(ctx, http.MethodGet, "/rulesets/summaries", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRuleset returns one ruleset.
func (c *Client) GetRuleset(ctx context.Context, id ruleset.ID) (*ruleset.Ruleset, error) {
	var out ruleset.Ruleset
	if err := c.do(ctx, http.MethodGet, "/rulesets/"+url.PathEscape(string(id)), nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadSolutionFile uploads a solution file. Not retried.
func (c *Client) UploadSolutionFile(ctx context.Context, projectID, filename string, data []byte) (*solution.File, error) {
	body := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	}

	var out solution.File
	path := "/projects/" + url.PathEscape(projectID) + "/solution-files"
	if err := c.do(ctx, http.MethodPost, path, body, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PreviewSolutionMatching previews matching a solution file. Previews have
// no side effects, so they are retried like GETs.
func (c *Client) PreviewSolutionMatching(ctx context.Context, projectID, fileID string) (*solution.Preview, error) {
	var out solution.Preview
	if err := c.do(ctx, http.MethodPost, fileURL(projectID, fileID)+"/preview", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplySolutionFile applies a solution file. Never retried: a timed-out
// apply may have committed.
func (c *Client) ApplySolutionFile(ctx context.Context, projectID, fileID string, opts solution.ApplyOptions) (*solution.ApplyResult, error) {
	var out solution.ApplyResult
	if err := c.do(ctx, http.MethodPost, fileURL(projectID, fileID)+"/apply", jsonBody(opts), false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func fileURL(projectID, fileID string) string {
	return "/projects/" + url.PathEscape(projectID) + "/solution-files/" + url.PathEscape(fileID)
}

// bodyFunc builds a fresh request body per attempt.
type bodyFunc func() (io.Reader, string, error)

func jsonBody(v any) bodyFunc {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// do sends a request and decodes a 2xx body into out. Idempotent requests
// are retried on network errors.
func (c *Client) do(ctx context.Context, method, path string, body bodyFunc, idempotent bool, out any) error {
	attempts := 1
	if idempotent && c.retries > 0 {
		attempts += c.retries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := c.backoff * time.Duration(attempt-1)
			c.logger.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return apperr.Network("REQUEST_CANCELLED", ctx.Err(), "%s %s", method, path)
			case <-time.After(wait):
			}
		}

		lastErr = c.once(ctx, method, path, body, out)
		if lastErr == nil || !apperr.IsNetwork(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body bodyFunc, out any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		var err error
		if reader, contentType, err = body(); err != nil {
			return apperr.Internal("ENCODE_REQUEST", err, "encode %s %s", method, path)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return apperr.Internal("BUILD_REQUEST", err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Network("REQUEST_FAILED", err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Network("READ_RESPONSE", err, "%s %s", method, path)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return apperr.Internal("DECODE_RESPONSE", err, "decode %s %s", method, path)
		}
		return nil
	}
	return decodeError(method, path, resp.StatusCode, data)
}

// decodeError turns an error response into an apperr error. 5xx always
// maps to a network error so callers retry or report the server as down.
func decodeError(method, path string, status int, data []byte) error {
	var body api.ErrorBody
	decoded := json.Unmarshal(data, &body) == nil && body.Error.Kind != ""

	if status >= 500 {
		msg := http.StatusText(status)
		if decoded {
			msg = body.Error.Message
		}
		return apperr.Network("SERVER_ERROR", nil, "%s %s: %d %s", method, path, status, msg)
	}
	if !decoded {
		return apperr.Internal("UNEXPECTED_RESPONSE", nil,
			"%s %s: %d %s", method, path, status, strings.TrimSpace(string(data)))
	}
	return &apperr.Error{
		Kind:    body.Error.Kind,
		Code:    body.Error.Code,
		Message: body.Error.Message,
		Details: body.Error.Details,
	}
}
