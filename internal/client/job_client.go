package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/model"
)

// JobAPI is the provider contract consumed by the job controller.
type JobAPI interface {
	CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResponse, error)
	GetStatus(ctx context.Context, jobID, modelName string) (*model.RawStatus, error)
	ReportProgress(ctx context.Context, jobID string, report *model.ProgressReport) (*model.ProgressResponse, error)
	Download(ctx context.Context, jobID string) (*Asset, error)
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int
	ErrorKind  model.ErrorKind
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorKind != "" {
		return fmt.Sprintf("provider API error (status %d, %s): %s", e.StatusCode, e.ErrorKind, e.Message)
	}
	return fmt.Sprintf("provider API error (status %d): %s", e.StatusCode, e.Message)
}

// IsModerationBlock reports whether err is a submission-time moderation rejection.
func IsModerationBlock(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorKind == model.ErrorKindModerationBlock
}

// IsDownloadLocked reports whether the provider refused a download because the
// watch gate is still closed.
func IsDownloadLocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorKind == model.ErrorKindDownloadLocked
}

// Asset is a downloaded job output. Callers must close Body.
type Asset struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// JobClient implements JobAPI over HTTP.
type JobClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     zerolog.Logger
}

// NewJobClient creates a new provider client
func NewJobClient(cfg *config.ProviderConfig, logger zerolog.Logger) *JobClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JobClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// CreateJob submits a generation request
func (c *JobClient) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	var result model.CreateJobResponse
	if err := c.post(ctx, "/jobs", req, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, fmt.Errorf("provider returned no job id")
	}
	return &result, nil
}

// GetStatus fetches the current status of a job
func (c *JobClient) GetStatus(ctx context.Context, jobID, modelName string) (*model.RawStatus, error) {
	endpoint := fmt.Sprintf("/jobs/%s/status", url.PathEscape(jobID))
	if modelName != "" {
		endpoint += "?model=" + url.QueryEscape(modelName)
	}
	var result model.RawStatus
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReportProgress sends observed playback for a completed job
func (c *JobClient) ReportProgress(ctx context.Context, jobID string, report *model.ProgressReport) (*model.ProgressResponse, error) {
	endpoint := fmt.Sprintf("/jobs/%s/progress", url.PathEscape(jobID))
	var result model.ProgressResponse
	if err := c.post(ctx, endpoint, report, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Download requests the job's asset. Redirects to presigned storage URLs are
// followed by the HTTP client.
func (c *JobClient) Download(ctx context.Context, jobID string) (*Asset, error) {
	endpoint := fmt.Sprintf("/jobs/%s/download", url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	return &Asset{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

// PlayURL builds the in-page playback URL for a completed job.
func (c *JobClient) PlayURL(jobID, token string) string {
	return fmt.Sprintf("%s/jobs/%s/play?token=%s", c.baseURL, url.PathEscape(jobID), url.QueryEscape(token))
}

// IsConfigured returns true if the client has somewhere to send requests
func (c *JobClient) IsConfigured() bool {
	return c.baseURL != ""
}

// post sends a POST request with JSON body
func (c *JobClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *JobClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *JobClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// doRequest executes an HTTP request and parses the response
func (c *JobClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("provider: request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("provider: request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("provider: response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// decodeAPIError understands both the contract's {errorKind, message} body and
// the service envelope {error:{code,message}}.
func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Message: string(bytes.TrimSpace(body))}

	var flat model.ProviderError
	if err := json.Unmarshal(body, &flat); err == nil && (flat.ErrorKind != "" || flat.Message != "") {
		apiErr.ErrorKind = flat.ErrorKind
		apiErr.Message = flat.Message
		return apiErr
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
