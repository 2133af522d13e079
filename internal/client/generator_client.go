package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tunesmith/api/internal/config"
)

// MusicGenerator is the contract against the generation tier. The bridge
// owns polling and timeout policy; implementations only do single calls.
type MusicGenerator interface {
	Submit(ctx context.Context, req *GenerateRequest) (*SubmitResponse, error)
	Status(ctx context.Context, remoteID string) (*StatusResult, error)
	HealthCheck(ctx context.Context) error
}

// GeneratorClient implements MusicGenerator over the generator's HTTP API.
type GeneratorClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// GenerateRequest is the payload submitted to the generation tier.
type GenerateRequest struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	Language        string `json:"language,omitempty"`
	Genre           string `json:"genre,omitempty"`
	Mood            string `json:"mood,omitempty"`
}

// SubmitResponse acknowledges an accepted generation request.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Remote task states reported by the generation tier.
const (
	RemoteStatusPending   = "pending"
	RemoteStatusRunning   = "running"
	RemoteStatusCompleted = "completed"
	RemoteStatusFailed    = "failed"
)

// StatusResult is a point-in-time snapshot of a remote generation task.
type StatusResult struct {
	TaskID   string  `json:"task_id"`
	Status   string  `json:"status"`
	Progress int     `json:"progress"`
	AudioURL string  `json:"audio_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Terminal reports whether the remote task will not change state again.
func (r *StatusResult) Terminal() bool {
	return r.Status == RemoteStatusCompleted || r.Status == RemoteStatusFailed
}

// NewGeneratorClient creates a client for the generation tier.
func NewGeneratorClient(cfg *config.GeneratorConfig, logger *slog.Logger) *GeneratorClient {
	return &GeneratorClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger.With("component", "generator_client"),
	}
}

// Submit hands a generation request to the remote tier and returns its
// task id. It does not wait for the task to make progress.
func (c *GeneratorClient) Submit(ctx context.Context, req *GenerateRequest) (*SubmitResponse, error) {
	var result SubmitResponse
	if err := c.post(ctx, "/v1/generate", req, &result); err != nil {
		return nil, err
	}
	if result.TaskID == "" {
		return nil, fmt.Errorf("generator accepted request but returned no task id")
	}
	return &result, nil
}

// Status fetches the current state of a remote task.
func (c *GeneratorClient) Status(ctx context.Context, remoteID string) (*StatusResult, error) {
	endpoint := fmt.Sprintf("/v1/generate/%s", remoteID)
	var result StatusResult
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck probes the generator's health endpoint.
func (c *GeneratorClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generator unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *GeneratorClient) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *GeneratorClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *GeneratorClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the JSON response.
func (c *GeneratorClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("generator request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("generator error response",
			"method", req.Method, "url", req.URL.String(), "status", resp.StatusCode)
		return fmt.Errorf("generator error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
