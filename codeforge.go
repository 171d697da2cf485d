// Package codeforge provides a typed HTTP client for the CodeForge code
// generation service.
//
// Usage:
//
//	import "github.com/forgedev/codeforge"
//
//	c, err := codeforge.New("http://localhost:8080", codeforge.WithAPIKey("secret"))
//	accepted, err := c.GenerateCode(ctx, []string{designText})
//	data, err := c.WaitForArchive(ctx, accepted.ZipDownloadURL, 0)
//
// GenerateCode returns as soon as the job is accepted; the archive is built in
// the background. DownloadZip reports the in-progress state as a retryable
// error and a permanently failed job as a non-retryable one, so callers can
// poll by hand or let [Client.WaitForArchive] do it.
package codeforge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgedev/codeforge/api"
	"github.com/forgedev/codeforge/types"

	"go.uber.org/zap"
)

// defaultPollInterval is used by WaitForArchive when no interval is given.
const defaultPollInterval = 500 * time.Millisecond

// Client talks to a CodeForge server. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures the client created by [New].
type Option func(*Client)

// WithAPIKey sets the X-API-Key header sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateCode submits design texts for asynchronous code generation.
// The returned response carries the download path for the future archive.
func (c *Client) GenerateCode(ctx context.Context, designTexts []string) (*api.GenerateCodeResponse, error) {
	if len(designTexts) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one design text is required")
	}

	payload, err := json.Marshal(api.GenerateCodeRequest{TDDText: designTexts})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/generate-code", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit generation: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return nil, decodeAPIError(resp)
	}

	var accepted api.GenerateCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("代码生成任务已受理",
		zap.String("zip_download_url", accepted.ZipDownloadURL))
	return &accepted, nil
}

// DownloadZip fetches the archive behind zipDownloadURL, which may be the
// path returned by [Client.GenerateCode] or an absolute URL.
// While the job is still running it returns an ARCHIVE_NOT_READY error with
// Retryable set; a permanently failed job yields a JOB_FAILED error.
func (c *Client) DownloadZip(ctx context.Context, zipDownloadURL string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, zipDownloadURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return data, nil
}

// WaitForArchive polls the download endpoint until the archive is published.
// interval <= 0 falls back to a half-second cadence. Polling stops on context
// cancellation or when the job fails permanently.
func (c *Client) WaitForArchive(ctx context.Context, zipDownloadURL string, interval time.Duration) ([]byte, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		data, err := c.DownloadZip(ctx, zipDownloadURL)
		if err == nil {
			return data, nil
		}
		if types.GetErrorCode(err) != types.ErrArchiveNotReady {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Job returns the current status of a job by its work directory identifier.
func (c *Client) Job(ctx context.Context, id string) (*api.JobStatus, error) {
	if id == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "job ID is required")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch job: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var status api.JobStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &status, nil
}

// Health reports whether the server answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// newRequest builds a request against the configured base URL. target may be
// a server-relative path or an absolute URL.
func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	url := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if !strings.HasPrefix(target, "/") {
			target = "/" + target
		}
		url = c.baseURL + target
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

// decodeAPIError turns a non-success response into a typed error. Responses
// that do not carry the standard error envelope fall back to the status code.
func decodeAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		body = nil
	}

	var env struct {
		Success bool             `json:"success"`
		Error   *api.ErrorDetail `json:"error"`
	}
	if jsonErr := json.Unmarshal(body, &env); jsonErr == nil && env.Error != nil && env.Error.Code != "" {
		return types.NewError(types.ErrorCode(env.Error.Code), env.Error.Message).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(env.Error.Retryable)
	}

	return types.NewError(types.ErrInternalError,
		fmt.Sprintf("unexpected status %d", resp.StatusCode)).
		WithHTTPStatus(resp.StatusCode)
}

// drainAndClose consumes the remainder of a response body so the underlying
// connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
