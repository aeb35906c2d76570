package muse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Static errors for Muse client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is provided.
	ErrAPIKeyNotSet = errors.New("muse: MUSE_API_KEY environment variable is not set")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("muse: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("muse: submit failed: no task ID returned")
	// ErrUnauthorized is returned on 401/403 responses. Never retried.
	ErrUnauthorized = errors.New("muse: unauthorized")
	// ErrBadRequest is returned on 400-class payload rejections. Never retried.
	ErrBadRequest = errors.New("muse: bad request")
	// ErrTaskNotFound is returned when the provider does not know the task.
	// Callers may keep polling: a freshly submitted handle can lag behind.
	ErrTaskNotFound = errors.New("muse: task not found")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("muse: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("muse: rate limited")
	// ErrRetriesExhausted is returned when the retry budget runs out.
	ErrRetriesExhausted = errors.New("muse: retries exhausted")
)

// Client defines the interface for interacting with the Muse API.
type Client interface {
	// SubmitGeneration sends a generation task and returns the task ID.
	SubmitGeneration(ctx context.Context, spec GenerationSpec) (taskID string, err error)

	// FetchStatus checks the status of a task and returns the result.
	FetchStatus(ctx context.Context, taskID string) (StatusResult, error)

	// FetchCredits returns the remaining credit balance. Best-effort.
	FetchCredits(ctx context.Context) (float64, error)

	// DownloadAsset streams a generated asset (audio, cover image) from the
	// provider CDN. The caller must close the returned reader.
	DownloadAsset(ctx context.Context, assetURL string) (io.ReadCloser, error)
}

// retryPolicy defines an explicit retry schedule for one call shape.
// Only retryable (server-class) errors consume attempts; client errors
// abort immediately so the caller sees the classified kind.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
}

// delay returns the wait before retry attempt n (1-indexed).
func (p retryPolicy) delay(attempt int) time.Duration {
	return time.Duration(float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt-1)))
}

// HTTPClient is the HTTP implementation of the Muse Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	submitRetry retryPolicy
	statusRetry retryPolicy
	defaultModel string
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Muse API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = u
	}
}

// WithSubmitRetry overrides the submission retry schedule.
func WithSubmitRetry(attempts int, baseDelay time.Duration, multiplier float64) ClientOption {
	return func(hc *HTTPClient) {
		hc.submitRetry = retryPolicy{maxAttempts: attempts, baseDelay: baseDelay, multiplier: multiplier}
	}
}

// WithStatusRetry overrides the status-fetch retry schedule.
func WithStatusRetry(attempts int, baseDelay time.Duration, multiplier float64) ClientOption {
	return func(hc *HTTPClient) {
		hc.statusRetry = retryPolicy{maxAttempts: attempts, baseDelay: baseDelay, multiplier: multiplier}
	}
}

// WithDefaultModel sets the model used when a spec does not name one.
func WithDefaultModel(model string) ClientOption {
	return func(hc *HTTPClient) {
		hc.defaultModel = model
	}
}

// NewClient creates a new Muse HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable MUSE_API_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:      "https://api.museapi.ai/api/v1",
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		submitRetry:  retryPolicy{maxAttempts: 3, baseDelay: 2 * time.Second, multiplier: 2},
		statusRetry:  retryPolicy{maxAttempts: 3, baseDelay: 1 * time.Second, multiplier: 1.5},
		defaultModel: "muse-v4",
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("MUSE_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// SubmitGeneration sends a generation task and returns the task ID.
func (c *HTTPClient) SubmitGeneration(ctx context.Context, spec GenerationSpec) (string, error) {
	model := spec.Model
	if model == "" {
		model = c.defaultModel
	}

	reqBody := generateRequest{
		Prompt:      spec.Lyrics,
		Style:       spec.Style,
		Title:       spec.Title,
		CustomMode:  true,
		Model:       model,
		CallBackURL: spec.CallbackURL,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("muse: marshal request: %w", err)
	}

	var resp generateResponse
	if err := c.doWithRetry(ctx, c.submitRetry, http.MethodPost, c.baseURL+"/generate", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.Data.TaskID == "" {
		if resp.Msg != "" {
			return "", fmt.Errorf("%w: %s", ErrNoTaskIDReturned, resp.Msg)
		}
		return "", ErrNoTaskIDReturned
	}

	return resp.Data.TaskID, nil
}

// FetchStatus checks the status of a task and returns the result.
func (c *HTTPClient) FetchStatus(ctx context.Context, taskID string) (StatusResult, error) {
	if taskID == "" {
		return StatusResult{}, ErrTaskIDRequired
	}

	u := fmt.Sprintf("%s/generate/record-info?taskId=%s", c.baseURL, url.QueryEscape(taskID))

	var resp recordInfoResponse
	if err := c.doWithRetry(ctx, c.statusRetry, http.MethodGet, u, nil, &resp); err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{
		Status:       TaskStatus(resp.Data.Status),
		ErrorMessage: resp.Data.ErrorMessage,
	}
	if result.Status == StatusSuccess && len(resp.Data.Response.Tracks) > 0 {
		track := resp.Data.Response.Tracks[0]
		result.AudioURL = track.AudioURL
		result.ImageURL = track.ImageURL
		result.DurationSeconds = track.Duration
	}
	if result.Status.IsFailure() && result.ErrorMessage == "" {
		result.ErrorMessage = resp.Msg
	}

	return result, nil
}

// FetchCredits returns the remaining credit balance.
func (c *HTTPClient) FetchCredits(ctx context.Context) (float64, error) {
	var resp creditsResponse
	if err := c.doWithRetry(ctx, c.statusRetry, http.MethodGet, c.baseURL+"/generate/credit", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Data, nil
}

// DownloadAsset streams a generated asset from the provider CDN.
func (c *HTTPClient) DownloadAsset(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("muse: create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("muse: download failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("muse: download failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// doWithRetry performs an HTTP request under the given retry policy.
func (c *HTTPClient) doWithRetry(ctx context.Context, policy retryPolicy, method, u string, body []byte, result any) error {
	var lastErr error

	for attempt := 1; attempt <= policy.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("muse: context cancelled: %w", ctx.Err())
			case <-time.After(policy.delay(attempt - 1)):
			}
		}

		err := c.doRequest(ctx, method, u, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// doRequest performs a single HTTP request and classifies failures.
func (c *HTTPClient) doRequest(ctx context.Context, method, u string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("muse: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("muse: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("muse: read response: %w", err)}
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("muse: unmarshal response: %w", err)
		}
	}

	// The Muse API wraps errors in a 200 response with a non-200 body code.
	if env, ok := result.(interface{ bodyCode() (int, string) }); ok {
		if code, msg := env.bodyCode(); code != 0 && code != 200 {
			return classifyBodyCode(code, msg)
		}
	}

	return nil
}

// bodyCode exposes the envelope code for classification after decoding.
func (e *envelope) bodyCode() (int, string) { return e.Code, e.Msg }

// classifyStatus maps an HTTP status code to an error kind.
// Server-class failures are retryable, client-class failures are terminal.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, string(body))
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTaskNotFound, string(body))
	case status == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(body))}
	case status >= 500:
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, status, string(body))}
	default:
		return fmt.Errorf("%w with status %d: %s", ErrBadRequest, status, string(body))
	}
}

// classifyBodyCode maps a Muse envelope code to an error kind.
func classifyBodyCode(code int, msg string) error {
	switch {
	case code == 401 || code == 403:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case code == 404:
		return fmt.Errorf("%w: %s", ErrTaskNotFound, msg)
	case code == 429:
		return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
	case code >= 500:
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, code, msg)}
	default:
		return fmt.Errorf("%w (code %d): %s", ErrBadRequest, code, msg)
	}
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
