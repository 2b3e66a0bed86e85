package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sells-group/aoi-engine/internal/resilience"
)

// Client evaluates expression graphs on the remote platform.
type Client interface {
	// Compute evaluates graph and returns the raw JSON result.
	Compute(ctx context.Context, graph *Node) (json.RawMessage, error)
}

// APIError is a non-retryable error response from the platform.
type APIError struct {
	StatusCode int    `json:"code"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL   string
	Project   string
	Token     string
	RateLimit float64
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	Circuit   resilience.CircuitBreakerConfig
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets the underlying HTTP client. The bearer token transport
// is not applied to a caller-supplied client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	policy   resilience.Policy
}

// NewClient creates a platform client. A configured token is sent as a
// static bearer token on every request.
func NewClient(cfg Config, opts ...Option) Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://earthengine.googleapis.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Circuit.Name == "" {
		cfg.Circuit.Name = "platform"
	}
	if cfg.Circuit.ShouldTrip == nil {
		cfg.Circuit.ShouldTrip = resilience.IsTransient
	}

	var transport http.RoundTripper = &http.Transport{
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	c := &httpClient{
		endpoint: computeEndpoint(cfg.BaseURL, cfg.Project),
		http:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter:  rate.NewLimiter(limit, 1),
		policy: resilience.Policy{
			Retry:   cfg.Retry,
			Breaker: resilience.NewCircuitBreaker(cfg.Circuit),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func computeEndpoint(baseURL, project string) string {
	base := strings.TrimRight(baseURL, "/")
	if project == "" {
		return base + "/v1/value:compute"
	}
	return fmt.Sprintf("%s/v1/projects/%s/value:compute", base, project)
}

type computeRequest struct {
	Expression Expression `json:"expression"`
}

type computeResponse struct {
	Result json.RawMessage `json:"result"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// Compute implements Client.
func (c *httpClient) Compute(ctx context.Context, graph *Node) (json.RawMessage, error) {
	if graph == nil {
		return nil, eris.New("platform: nil graph")
	}
	body, err := json.Marshal(computeRequest{Expression: NewExpression(graph)})
	if err != nil {
		return nil, eris.Wrap(err, "platform: encode request")
	}

	start := time.Now()
	out, err := resilience.Call(ctx, c.policy, "platform.compute", func(ctx context.Context) (json.RawMessage, error) {
		return c.post(ctx, body)
	})
	zap.L().Debug("platform: compute",
		zap.Strings("functions", graph.Functions()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	return out, err
}

func (c *httpClient) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "platform: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "platform: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "platform: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, eris.Wrap(err, "platform: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(data))}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
			apiErr.Message = er.Error.Message
			if er.Error.Status != "" {
				apiErr.Status = er.Error.Status
			}
		}
		if resilience.RetryableStatus(resp.StatusCode, apiErr.Status) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var cr computeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, eris.Wrap(err, "platform: decode response")
	}
	return cr.Result, nil
}
