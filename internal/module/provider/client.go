package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/animemaker/server/internal/shared/logger"
	"github.com/animemaker/server/internal/shared/metrics"
)

// Client talks to an OpenRouter-compatible aggregator. All model calls go
// through the chat completions endpoint; image generation uses the image
// modality of the same endpoint. The API key is supplied per call because
// it normally belongs to the end user, not the server.
type Client struct {
	baseURL string
	referer string
	title   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     *logger.Logger
	metrics *metrics.Metrics
}

// Config holds provider client configuration.
type Config struct {
	BaseURL        string
	Referer        string
	Title          string
	RequestTimeout time.Duration
}

// New creates a new provider client.
func New(cfg Config, log *logger.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "model-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		baseURL: cfg.BaseURL,
		referer: cfg.Referer,
		title:   cfg.Title,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		log:     log.Component("provider"),
		metrics: m,
	}
}

// GenerateText sends a single-prompt completion request and returns the
// model's text answer.
func (c *Client) GenerateText(ctx context.Context, apiKey, model, prompt string) (string, error) {
	req := &chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
		MaxTokens:   4000,
	}

	resp, err := c.doChat(ctx, "text", apiKey, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage requests an image for the prompt. Provider-reported
// failures come back as an unsuccessful ImageResult; only transport and
// decode problems return a Go error.
func (c *Client) GenerateImage(ctx context.Context, apiKey, model, prompt, negativePrompt string) (*ImageResult, error) {
	content := prompt
	if negativePrompt != "" {
		content += "\n\nAvoid: " + negativePrompt
	}

	req := &chatRequest{
		Model:      model,
		Messages:   []chatMessage{{Role: "user", Content: content}},
		Modalities: []string{"image", "text"},
	}

	resp, err := c.doChat(ctx, "image", apiKey, req)
	if err != nil {
		return &ImageResult{Success: false, Error: err.Error()}, nil
	}

	if len(resp.Choices) > 0 && len(resp.Choices[0].Message.Images) > 0 {
		return &ImageResult{
			Success:   true,
			ImageData: resp.Choices[0].Message.Images[0].ImageURL.URL,
		}, nil
	}
	return &ImageResult{Success: false, Error: "no image in response"}, nil
}

// AnalyzeImage sends a vision request for the given image and returns the
// model's text answer, which is expected to contain embedded JSON.
func (c *Client) AnalyzeImage(ctx context.Context, apiKey, model, prompt, imageData string) (string, error) {
	req := &chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: imageData}},
			},
		}},
		Temperature: 0.7,
	}

	resp, err := c.doChat(ctx, "vision", apiKey, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels fetches the provider's model catalog. No API key is needed.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Data, nil
}

// doChat executes a chat completion request through the circuit breaker.
func (c *Client) doChat(ctx context.Context, kind, apiKey string, req *chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		return c.post(ctx, "/chat/completions", apiKey, body)
	})
	if c.metrics != nil {
		c.metrics.ProviderCallSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.ProviderCallsTotal.WithLabelValues(kind, status).Inc()
	}
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	return &parsed, nil
}

func (c *Client) post(ctx context.Context, path, apiKey string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The body may still carry a structured error; surface both.
		var parsed chatResponse
		if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr == nil && parsed.Error != nil {
			return nil, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return respBody, nil
}
