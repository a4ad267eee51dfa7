// Package providers implements the outbound provider plugins (C6): pooled
// HTTP clients to Provider-A and Provider-B, wrapped in a per-provider
// circuit breaker and bounded exponential-backoff retry, satisfying the
// registry.Plugin interface (C5).
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aigateway/gateway/internal/metrics"
	"github.com/aigateway/gateway/internal/tracing"
	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned by Invoke when the provider's circuit breaker
// is open and the request was rejected without being sent.
var ErrCircuitOpen = fmt.Errorf("providers: circuit open, request rejected")

// RateLimitedError is returned by Invoke when the upstream provider answers
// with 429. It is never retried locally; callers translate it to the
// gateway's own rate-limit response, forwarding RetryAfter when the
// upstream supplied one.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// Kind distinguishes the two supported upstream wire protocols.
type Kind string

const (
	// KindProviderA speaks Provider-A's chat-completions endpoint
	// (Authorization: Bearer).
	KindProviderA Kind = "provider-a"
	// KindProviderB speaks Provider-B's chat-completions endpoint
	// (x-api-key header). Both kinds send the same
	// system+user message pair and sampling parameters, and parse the same
	// choices/message/content + usage response shape — they differ only in
	// endpoint path and auth header.
	KindProviderB Kind = "provider-b"
)

// Sampling defaults applied to every outbound provider call. Not exposed as
// config surface: spec.md's provider table names only endpoint, key, and
// timeouts, so these are fixed here the same way retry/circuit-breaker
// tunables are in cmd/gateway/main.go.
const (
	defaultTemperature  = 0.7
	defaultMaxTokens    = 2048
	defaultSystemPrompt = "You are an AI gateway analysis backend. Respond with the requested output only, no commentary."
)

// Config configures one HTTPProvider instance.
type Config struct {
	Name           string
	Kind           Kind
	BaseURL        string
	APIKey         string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMax      int
}

// HTTPProvider forwards prompts to a single upstream LLM provider over a
// pooled HTTP client. It implements registry.Plugin.
type HTTPProvider struct {
	cfg     Config
	client  *http.Client
	cb      *CircuitBreaker
	metrics *metrics.Collector
}

// SetMetrics attaches a collector for provider-outcome and circuit-state
// instrumentation. Optional; a nil collector (the default) disables it.
func (p *HTTPProvider) SetMetrics(collector *metrics.Collector) {
	p.metrics = collector
}

// NewHTTPProvider constructs a provider plugin with a connection-pooled
// transport and a dedicated circuit breaker.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &HTTPProvider{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		cb: NewCircuitBreaker(cfg.FailureThreshold, cfg.ResetTimeout, cfg.HalfOpenMax),
	}
}

// chatMessage is one turn in the system+user message pair spec.md §6
// requires of every outbound provider call.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the chat-completion-shaped request body sent to
// both providers: a system+user message pair plus sampling parameters.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionChoice struct {
	Message chatMessage `json:"message"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatCompletionResponse is the shape parsed out of both providers:
// choices[0].message.content plus a usage block. Any other shape — no
// choices, a choice with no message, or empty content — is rejected rather
// than silently unmarshaling to an empty string.
type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *chatCompletionUsage   `json:"usage"`
}

// Invoke sends prompt to the upstream provider, retrying transient failures
// with bounded exponential backoff, and returns the upstream's completion
// text. The circuit breaker short-circuits calls while open.
func (p *HTTPProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	if !p.cb.Allow() {
		p.recordOutcome(ctx, "circuit_open")
		return "", ErrCircuitOpen
	}

	retryCfg := RetryConfig{
		MaxAttempts: p.cfg.MaxRetries,
		BaseDelay:   p.cfg.RetryBaseDelay,
		MaxDelay:    p.cfg.RetryMaxDelay,
	}

	var lastErr error
	for attempt := 0; attempt <= retryCfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(retryCfg, attempt-1)
			if err := sleepWithContext(ctx, delay); err != nil {
				return "", err
			}
		}

		result, retryAfter, err := p.invokeOnce(ctx, prompt)
		if err == nil {
			p.cb.RecordSuccess()
			p.recordOutcome(ctx, "success")
			p.recordCircuitState(ctx)
			return result, nil
		}

		lastErr = err
		retryable, statusCode := classifyError(err)
		if statusCode == http.StatusTooManyRequests {
			p.cb.RecordFailure()
			p.recordOutcome(ctx, "rate_limited")
			p.recordCircuitState(ctx)
			log.Warn().Str("provider", p.cfg.Name).Dur("retry_after", retryAfter).Err(err).
				Msg("provider rate limited, not retrying locally")
			return "", &RateLimitedError{Provider: p.cfg.Name, RetryAfter: retryAfter, Err: err}
		}
		if !retryable || attempt == retryCfg.MaxAttempts {
			p.cb.RecordFailure()
			p.recordOutcome(ctx, "failure")
			p.recordCircuitState(ctx)
			log.Warn().Str("provider", p.cfg.Name).Int("status", statusCode).Err(err).
				Msg("provider invoke failed, giving up")
			return "", err
		}
		log.Info().Str("provider", p.cfg.Name).Int("attempt", attempt).Err(err).
			Msg("provider invoke failed, retrying")
		if retryAfter > 0 {
			if err := sleepWithContext(ctx, retryAfter); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

func (p *HTTPProvider) recordOutcome(ctx context.Context, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordProviderRequest(ctx, p.cfg.Name, outcome)
	}
}

func (p *HTTPProvider) recordCircuitState(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.SetCircuitState(ctx, p.cfg.Name, int(p.cb.State()))
	}
}

// statusError carries the upstream HTTP status alongside the error so
// classifyError can decide retryability without re-parsing.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func classifyError(err error) (retryable bool, status int) {
	var se *statusError
	if e, ok := err.(*statusError); ok {
		se = e
	}
	if se != nil {
		return isRetryableStatus(se.status), se.status
	}
	// Network-level errors (timeouts, connection resets) are retryable.
	return true, 0
}

func (p *HTTPProvider) invokeOnce(ctx context.Context, prompt string) (result string, retryAfter time.Duration, err error) {
	url, body, err := p.buildRequest(prompt)
	if err != nil {
		return "", 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("building upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setAuthHeader(httpReq)

	tracing.InjectHeaders(ctx, httpReq)
	ctx, span := tracing.StartUpstreamSpan(ctx, url, string(p.cfg.Kind))
	defer span.End()

	resp, err := p.client.Do(httpReq.WithContext(ctx))
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", 0, fmt.Errorf("calling %s: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		ra := retryAfterDuration(resp)
		return "", ra, &statusError{status: resp.StatusCode, err: fmt.Errorf("%s returned status %d", p.cfg.Name, resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading %s response: %w", p.cfg.Name, err)
	}

	text, err := p.parseResponse(raw)
	if err != nil {
		return "", 0, err
	}
	return text, 0, nil
}

func (p *HTTPProvider) buildRequest(prompt string) (url string, body []byte, err error) {
	switch p.cfg.Kind {
	case KindProviderA:
		url = p.cfg.BaseURL + "/v1/chat/completions"
	case KindProviderB:
		url = p.cfg.BaseURL + "/v1/messages"
	default:
		return "", nil, fmt.Errorf("unknown provider kind %q", p.cfg.Kind)
	}

	body, err = json.Marshal(chatCompletionRequest{
		Model: p.cfg.Name,
		Messages: []chatMessage{
			{Role: "system", Content: defaultSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshaling request for %s: %w", p.cfg.Name, err)
	}
	return url, body, nil
}

func (p *HTTPProvider) setAuthHeader(req *http.Request) {
	switch p.cfg.Kind {
	case KindProviderB:
		req.Header.Set("x-api-key", p.cfg.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

// parseResponse validates and extracts the completion text. Any shape other
// than a non-empty choices[0].message.content with a usage block is
// rejected rather than silently decoding to an empty string, per spec.md
// §6's "any other shape triggers AI_SERVICE_ERROR".
func (p *HTTPProvider) parseResponse(raw []byte) (string, error) {
	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding %s response: %w", p.cfg.Name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s response missing choices", p.cfg.Name)
	}
	content := out.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("%s response has empty message content", p.cfg.Name)
	}
	if out.Usage == nil {
		return "", fmt.Errorf("%s response missing usage", p.cfg.Name)
	}
	return content, nil
}

// Health probes the upstream provider's health endpoint. It treats any
// 2xx response as healthy and anything else — including a timed-out or
// failed request — as unhealthy.
func (p *HTTPProvider) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
