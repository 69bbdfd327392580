// Package llm provides the model-backed threshold suggestion oracles: an
// HTTP chat client over pluggable provider wire formats, a Gemini client,
// and a rate limiter that wraps either of them.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Endpoint describes a chat completions server.
type Endpoint struct {
	// Provider names the wire format; empty means openai.
	Provider string
	// URL is the API base, e.g. http://localhost:11434/v1. Empty uses the
	// provider's public endpoint.
	URL   string
	Model string
	// APIKey is sent the way the provider expects when set.
	APIKey string
	// Temperature nil uses the server default, 0 is deterministic.
	Temperature *float64
	// MaxTokens 0 uses the server default.
	MaxTokens int
}

// TokenUsage represents token consumption details for a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the completion result.
type Response struct {
	// RequestID uniquely identifies the call in logs.
	RequestID    string
	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
	Attempts     int
}

// Client sends chat completions to one endpoint with retry.
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// NewClient creates a client for an endpoint.
func NewClient(endpoint Endpoint, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.endpoint.Model
}

// Complete sends a completion request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Response, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.New().String()
	started := time.Now()

	var resp *Response
	attempts, err := retry(ctx, c.retryConfig, c.logger, func(ctx context.Context) error {
		r, err := c.doRequest(ctx, messages)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.logger.Warn("Model request failed",
			"request_id", requestID,
			"model", c.endpoint.Model,
			"attempts", attempts,
			"error", err)
		return nil, err
	}

	resp.RequestID = requestID
	resp.Attempts = attempts
	c.logger.Debug("Model request completed",
		"request_id", requestID,
		"model", resp.Model,
		"attempts", attempts,
		"total_tokens", resp.Usage.TotalTokens,
		"duration", time.Since(started))
	return resp, nil
}

// doRequest executes a single HTTP request.
func (c *Client) doRequest(ctx context.Context, messages []Message) (*Response, error) {
	provider := GetProvider(c.endpoint.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider %q", c.endpoint.Provider))
	}

	data, err := provider.BuildRequestBody(c.endpoint.Model, messages, c.endpoint.Temperature, c.endpoint.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BuildURL(c.endpoint.URL), bytes.NewReader(data))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq, c.endpoint.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := provider.ParseResponse(respBody)
	if err != nil {
		return nil, NewFatalError(err)
	}
	if resp.Model == "" {
		resp.Model = c.endpoint.Model
	}
	return resp, nil
}
