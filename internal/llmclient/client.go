// Package llmclient is the HTTP transport shared by the JSON-over-HTTP backends:
// - request marshaling and reply decoding (gzip and brotli bodies)
// - retries with exponential backoff on 429 and 5xx
// - standardized error parsing
// - circuit breaking
package llmclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"strconv"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"

	"modelgate/internal/core"
	"modelgate/internal/httpclient"
)

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages and metrics
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// Retry configuration
	MaxRetries     int           // Maximum number of retry attempts (default: 3)
	InitialBackoff time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30s)
	BackoffFactor  float64       // Backoff multiplier (default: 2.0)

	// Circuit breaker configuration
	CircuitBreaker *CircuitBreakerConfig

	// Hooks observe each HTTP attempt. Both fields are optional.
	Hooks Hooks
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close an open circuit
	SuccessThreshold int
	// Timeout is how long to wait before attempting to close an open circuit
	Timeout time.Duration
}

// RequestInfo describes one HTTP attempt.
type RequestInfo struct {
	Provider  string
	Endpoint  string
	Attempt   int
	RequestID string
}

// ResponseInfo describes the outcome of one HTTP attempt.
type ResponseInfo struct {
	RequestInfo
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks are callbacks around every HTTP attempt.
type Hooks struct {
	OnRequestStart func(ctx context.Context, info RequestInfo)
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName:   providerName,
		BaseURL:        baseURL,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient     *http.Client
	config         Config
	headerSetter   HeaderSetter
	circuitBreaker *circuitBreaker
}

// New creates a new LLM client. A nil httpClient uses the shared default client.
func New(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewHTTPClient(nil)
	}
	c := &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
	if config.CircuitBreaker != nil {
		c.circuitBreaker = newCircuitBreaker(
			config.CircuitBreaker.FailureThreshold,
			config.CircuitBreaker.SuccessThreshold,
			config.CircuitBreaker.Timeout,
		)
	}
	return c
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     interface{} // Will be JSON marshaled if not nil
	Headers  map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	// RetryAfter is the delay requested by a Retry-After header, or zero.
	RetryAfter time.Duration
}

// Do executes a request with retries and circuit breaking, then unmarshals the response
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewBackendTransportError(c.config.ProviderName, http.StatusBadGateway, "failed to unmarshal response: "+err.Error(), err)
		}
	}
	return nil
}

// DoRaw executes a request with retries and circuit breaking, returning the raw response.
// Requests that cannot be encoded fail at once, without retries and without
// counting against the circuit breaker.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	if c.circuitBreaker != nil {
		ok, probe := c.circuitBreaker.admit()
		if !ok {
			return nil, core.NewBackendTransportError(c.config.ProviderName, http.StatusServiceUnavailable,
				"circuit breaker is open - provider temporarily unavailable", nil)
		}
		if probe {
			defer c.circuitBreaker.release()
		}
	}

	requestID := core.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var lastErr error
	var retryAfter time.Duration
	maxAttempts := max(c.config.MaxRetries+1, 1)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := min(max(c.calculateBackoff(attempt), retryAfter), c.config.MaxBackoff)
			select {
			case <-ctx.Done():
				return nil, c.contextError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		httpReq, err := c.buildRequest(ctx, req, body, requestID)
		if err != nil {
			return nil, err
		}

		info := RequestInfo{
			Provider:  c.config.ProviderName,
			Endpoint:  req.Endpoint,
			Attempt:   attempt + 1,
			RequestID: requestID,
		}
		resp, err := c.observe(ctx, info, func() (*Response, error) {
			return c.send(httpReq)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.contextError(ctx.Err())
			}
			lastErr = err
			c.recordFailure()
			continue
		}

		if c.isRetryable(resp.StatusCode) {
			c.recordFailure()
			retryAfter = resp.RetryAfter
			lastErr = core.ParseProviderError(c.config.ProviderName, resp.StatusCode, resp.Body, nil)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if resp.StatusCode >= 500 {
				c.recordFailure()
			}
			return nil, core.ParseProviderError(c.config.ProviderName, resp.StatusCode, resp.Body, nil)
		}

		if c.circuitBreaker != nil {
			c.circuitBreaker.recordSuccess()
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, core.NewBackendTransportError(c.config.ProviderName, http.StatusBadGateway, "request failed after retries", nil)
}

func (c *Client) observe(ctx context.Context, info RequestInfo, fn func() (*Response, error)) (*Response, error) {
	if c.config.Hooks.OnRequestStart != nil {
		c.config.Hooks.OnRequestStart(ctx, info)
	}
	start := time.Now()
	resp, err := fn()
	if c.config.Hooks.OnRequestEnd != nil {
		end := ResponseInfo{RequestInfo: info, Duration: time.Since(start), Err: err}
		if resp != nil {
			end.StatusCode = resp.StatusCode
		}
		c.config.Hooks.OnRequestEnd(ctx, end)
	}
	return resp, err
}

func (c *Client) recordFailure() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.recordFailure()
	}
}

func (c *Client) contextError(err error) error {
	return core.NewBackendTransportError(c.config.ProviderName, http.StatusGatewayTimeout, "request aborted: "+err.Error(), err)
}

// send executes a single HTTP request without retries
func (c *Client) send(httpReq *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewBackendTransportError(c.config.ProviderName, http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp)
	if err != nil {
		return nil, core.NewBackendTransportError(c.config.ProviderName, http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}, nil
}

// parseRetryAfter reads a Retry-After value given either in seconds or as an
// HTTP date. Unparseable and past values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// readBody decodes the reply according to its Content-Encoding. Setting
// Accept-Encoding ourselves disables the transport's transparent gzip handling.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = gz.Close()
		}()
		reader = gz
	}
	return io.ReadAll(reader)
}

// encodeBody marshals a request body once for all attempts. A nil body stays
// nil.
func encodeBody(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, buildError("failed to marshal request", err)
	}
	return raw, nil
}

func buildError(message string, err error) error {
	gwErr := core.NewInvalidRequestError(message, err)
	gwErr.Stage = core.StageBuild
	return gwErr
}

// buildRequest creates the HTTP request for one attempt
func (c *Client) buildRequest(ctx context.Context, req Request, body []byte, requestID string) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, buildError("failed to create request", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept-Encoding", "br, gzip")
	httpReq.Header.Set("X-Request-Id", requestID)

	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

// calculateBackoff calculates the backoff duration for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if backoff > float64(c.config.MaxBackoff) {
		backoff = float64(c.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// isRetryable returns true if the status code indicates a retryable error
func (c *Client) isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout ||
		statusCode == 529 // Anthropic "overloaded"
}
