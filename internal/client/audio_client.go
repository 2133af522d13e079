package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tunesmith/api/internal/config"
)

// AudioProcessor is the contract against the audio processing service.
// It converts finished raw audio into deliverable formats and renders
// seamless loops from existing tracks.
type AudioProcessor interface {
	Encode(ctx context.Context, req *EncodeRequest) (*EncodeResponse, error)
	RenderLoop(ctx context.Context, req *LoopRenderRequest) (*LoopRenderResponse, error)
	HealthCheck(ctx context.Context) error
}

// AudioClient implements AudioProcessor for the audio microservice.
type AudioClient struct {
	httpClient *http.Client
	baseURL    string
}

// EncodeRequest asks the service to transcode a source file into the
// given format, writing the result next to the source.
type EncodeRequest struct {
	InputPath  string            `json:"input_path"`
	OutputPath string            `json:"output_path"`
	Format     string            `json:"format"`
	Bitrate    int               `json:"bitrate,omitempty"`
	SampleRate int               `json:"sample_rate,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EncodeResponse describes the produced file.
type EncodeResponse struct {
	OutputPath string  `json:"output_path"`
	Format     string  `json:"format"`
	Size       int64   `json:"size"`
	Duration   float64 `json:"duration"`
}

// LoopRenderRequest asks the service to render a seamless loop from an
// existing source file.
type LoopRenderRequest struct {
	InputPath       string  `json:"input_path"`
	OutputPath      string  `json:"output_path"`
	DurationSeconds int     `json:"duration_seconds"`
	CrossfadeMs     int     `json:"crossfade_ms,omitempty"`
	FadeInOut       bool    `json:"fade_in_out,omitempty"`
	Format          string  `json:"format"`
	Gain            float64 `json:"gain,omitempty"`
}

// LoopRenderResponse describes the rendered loop.
type LoopRenderResponse struct {
	OutputPath string  `json:"output_path"`
	Size       int64   `json:"size"`
	Duration   float64 `json:"duration"`
}

// NewAudioClient creates a new audio processing client.
func NewAudioClient(cfg *config.AudioConfig) *AudioClient {
	return &AudioClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Encode sends audio to the encoding endpoint.
func (c *AudioClient) Encode(ctx context.Context, req *EncodeRequest) (*EncodeResponse, error) {
	var result EncodeResponse
	if err := c.post(ctx, "/encode", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RenderLoop sends a loop render job to the audio service.
func (c *AudioClient) RenderLoop(ctx context.Context, req *LoopRenderRequest) (*LoopRenderResponse, error) {
	var result LoopRenderResponse
	if err := c.post(ctx, "/loop", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the audio service is available.
func (c *AudioClient) HealthCheck(ctx context.Context) error {
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
		return fmt.Errorf("audio service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *AudioClient) IsConfigured() bool {
	return c.baseURL != ""
}

// post sends a POST request with JSON body and parses the response.
func (c *AudioClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

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
		return fmt.Errorf("audio service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
