// Package generation provides a provider-agnostic client for external text
// generation with retry and fallback support. Endpoints form an ordered
// fallback chain; transient failures retry with jittered backoff, fatal
// failures stop the chain immediately.
package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// defaultMaxTokens is assumed when a request does not cap its response.
const defaultMaxTokens = 4096

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines a generation request.
type Request struct {
	// Messages is the chat history to send.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int
}

// Usage represents token consumption details for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result contains the generation output.
type Result struct {
	// RequestID uniquely identifies this call for audit correlation.
	RequestID string

	// Text is the generated content.
	Text string

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics; Usage.TotalTokens is the
	// actual cost settled against the rate budget.
	Usage Usage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Endpoint describes one provider endpoint in the fallback chain.
type Endpoint struct {
	Name      string `yaml:"name" json:"name"`
	Provider  string `yaml:"provider" json:"provider"`
	Model     string `yaml:"model" json:"model"`
	URL       string `yaml:"url" json:"url"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
}

// Validate checks the endpoint is routable.
func (e Endpoint) Validate() error {
	if e.Provider == "" {
		return fmt.Errorf("endpoint %q: provider is required", e.Name)
	}
	if e.Model == "" {
		return fmt.Errorf("endpoint %q: model is required", e.Name)
	}
	return nil
}

// Client sends generation requests across an ordered endpoint chain.
type Client struct {
	endpoints   []Endpoint
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
		client.logger = logger
	}
}

// NewClient creates a client over the given endpoint chain, primary first.
func NewClient(endpoints []Endpoint, opts ...ClientOption) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	for _, ep := range endpoints {
		if err := ep.Validate(); err != nil {
			return nil, err
		}
	}
	c := &Client{
		endpoints:   endpoints,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for slow generations
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EstimateCost predicts the token cost of a request for budget acquisition:
// a rough 4-characters-per-token prompt estimate plus the response cap.
func (c *Client) EstimateCost(req Request) int64 {
	var promptChars int
	for _, m := range req.Messages {
		promptChars += len(m.Content)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return int64(promptChars/4 + maxTokens)
}

// Generate sends a request, handling retry and fallback logic. The returned
// Usage carries the actual cost to settle against the rate budget.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.New().String()

	var lastErr error
	for _, ep := range c.endpoints {
		result, err := c.tryEndpointWithRetry(ctx, ep, req)
		if err == nil {
			result.RequestID = requestID
			return result, nil
		}
		lastErr = err

		if IsFatal(err) {
			c.logger.Warn("fatal generation error, not trying fallbacks",
				"endpoint", ep.Name, "provider", ep.Provider, "error", err)
			return nil, err
		}
		c.logger.Warn("endpoint failed, trying fallback",
			"endpoint", ep.Name, "provider", ep.Provider, "error", err)
	}
	return nil, fmt.Errorf("all endpoints failed: %w", lastErr)
}

// tryEndpointWithRetry attempts a request against one endpoint with retry.
func (c *Client) tryEndpointWithRetry(ctx context.Context, ep Endpoint, req Request) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		result, err := c.doRequest(ctx, ep, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple cycles retry simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request to the endpoint.
func (c *Client) doRequest(ctx context.Context, ep Endpoint, req Request) (*Result, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.URL)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = ep.MaxTokens
	}
	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("sending generation request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
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

	return provider.ParseResponse(respBody, ep.Model)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("generation API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode >= 500:
		// Server errors are transient
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		// Auth errors are fatal
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		// Bad requests are fatal
		return NewFatalError(err)
	default:
		// Unknown errors default to fatal
		return NewFatalError(err)
	}
}
