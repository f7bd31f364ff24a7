// Package litellm talks to a LiteLLM Proxy: the admin API for health and
// the OpenAI-compatible chat endpoint for verdict narratives.
package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Strob0t/MailGuard/internal/resilience"
)

// HealthReport is the body of the proxy's /health endpoint.
type HealthReport struct {
	HealthyEndpoints   []EndpointHealth `json:"healthy_endpoints"`
	UnhealthyEndpoints []EndpointHealth `json:"unhealthy_endpoints"`
	HealthyCount       int              `json:"healthy_count"`
	UnhealthyCount     int              `json:"unhealthy_count"`
}

// EndpointHealth is the health of a single model endpoint.
type EndpointHealth struct {
	Model   string `json:"model"`
	APIBase string `json:"api_base,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the LiteLLM Proxy.
type Client struct {
	baseURL    string
	masterKey  string
	model      string
	httpClient *http.Client
	chat       *openai.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for the proxy at baseURL. model is the chat
// model used for narratives.
func NewClient(baseURL, masterKey, model string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := openai.DefaultConfig(masterKey)
	cfg.BaseURL = baseURL + "/v1"
	return &Client{
		baseURL:   baseURL,
		masterKey: masterKey,
		model:     model,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		chat: openai.NewClientWithConfig(cfg),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Model returns the configured narrative model.
func (c *Client) Model() string {
	return c.model
}

// Health checks if LiteLLM is healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health")
	return err == nil, err
}

// HealthDetailed returns per-endpoint health.
func (c *Client) HealthDetailed(ctx context.Context) (*HealthReport, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/health")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	var report HealthReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("unmarshal health: %w", err)
	}
	if report.HealthyCount == 0 {
		report.HealthyCount = len(report.HealthyEndpoints)
	}
	if report.UnhealthyCount == 0 {
		report.UnhealthyCount = len(report.UnhealthyEndpoints)
	}
	return &report, nil
}

// ModelReachable reports whether the narrative model is among the healthy
// endpoints.
func (c *Client) ModelReachable(ctx context.Context) (bool, error) {
	report, err := c.HealthDetailed(ctx)
	if err != nil {
		return false, err
	}
	for _, ep := range report.HealthyEndpoints {
		if ep.Model == c.model || strings.HasSuffix(c.model, "/"+ep.Model) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.masterKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.masterKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if err := c.execute(call); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) execute(fn func() error) error {
	if c.breaker != nil {
		return c.breaker.Execute(fn)
	}
	return fn()
}
