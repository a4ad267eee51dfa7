// Package orchestrator implements the two-stage analysis pipeline (C7):
// prompt optimization followed by analysis, selected through the service
// registry, with quota accounting and a single local failover per stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aigateway/gateway/internal/correlation"
	"github.com/aigateway/gateway/internal/metrics"
	"github.com/aigateway/gateway/internal/providers"
	"github.com/aigateway/gateway/internal/registry"
	"github.com/aigateway/gateway/internal/store"
	"github.com/aigateway/gateway/internal/tokenizer"
	"github.com/aigateway/gateway/internal/tracing"
	"github.com/rs/zerolog/log"
)

// AnalysisType is the bounded-but-extensible tag selecting a template pair
// and registry service type. Unknown values fall back to the generic
// template rather than erroring (spec.md §4.7).
type AnalysisType string

const (
	AnalysisDocument AnalysisType = "document"
	AnalysisChat     AnalysisType = "chat"
	AnalysisSEO      AnalysisType = "seo"
	AnalysisCrypto   AnalysisType = "crypto"
	AnalysisCustom   AnalysisType = "custom"
)

// CodedError carries the error taxonomy code alongside the underlying cause,
// so the HTTP layer can render the envelope without re-classifying errors.
type CodedError struct {
	Code    correlation.Code
	Message string
	Cause   error

	// RetryAfterSeconds is non-zero when the cause carries an upstream
	// Retry-After hint (a rate-limited provider response) that should be
	// forwarded on the HTTP response.
	RetryAfterSeconds int
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.Cause }

func coded(code correlation.Code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// Config bounds the orchestrator's behavior.
type Config struct {
	MaxInputLength int
	Stage1Timeout  time.Duration
	Stage2Timeout  time.Duration
}

// Orchestrator is pure over the registry and store ports; it holds no
// provider-specific knowledge.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	store    *store.Store
	tok      *tokenizer.Tokenizer
	metrics  *metrics.Collector
}

// New constructs an Orchestrator.
func New(cfg Config, reg *registry.Registry, st *store.Store) *Orchestrator {
	return &Orchestrator{cfg: cfg, registry: reg, store: st, tok: tokenizer.New()}
}

// SetMetrics attaches a collector for per-stage latency instrumentation.
// Optional; a nil collector (the default) disables it.
func (o *Orchestrator) SetMetrics(collector *metrics.Collector) {
	o.metrics = collector
}

// ServicesUsed names the two plugins the request was actually served by.
type ServicesUsed struct {
	PromptOptimizer registry.Descriptor
	Analyzer        registry.Descriptor
}

// Result is the envelope returned to callers of Process.
type Result struct {
	AnalysisType    AnalysisType
	OptimizedPrompt string
	AnalysisResult  string
	ServicesUsed    ServicesUsed
}

// Process runs the two-stage pipeline for userID against input, per
// spec.md §4.7: validate input, gate on quota, select+invoke the prompt
// optimizer, select+invoke the analyzer, then atomically log the query and
// bump usage. A single provider failure at a stage triggers one local
// failover to the next registry candidate before being surfaced.
func (o *Orchestrator) Process(ctx context.Context, userID, input string, analysisType AnalysisType) (*Result, error) {
	start := time.Now()

	trimmed := strings.TrimSpace(input)
	if trimmed == "" || len(input) > o.cfg.MaxInputLength {
		return nil, coded(correlation.CodeInvalidInput, "input must be non-empty and within the length limit", nil)
	}

	user, err := o.store.GetUser(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coded(correlation.CodeUserNotFound, "user not found", err)
		}
		return nil, coded(correlation.CodeDatabaseError, "looking up user", err)
	}
	if user.QueriesUsed >= user.QueriesLimit {
		return nil, coded(correlation.CodeQueryLimitExceeded, "query limit exceeded", nil)
	}

	ctx, span := tracing.StartPipelineSpan(ctx, "orchestrate")
	defer span.End()

	sysPrompt, userPrompt := templateFor(analysisType, trimmed)
	optimized, optimizerDesc, err := o.invokeWithFailover(ctx, "prompt_optimizer", string(analysisType), sysPrompt+"\n\n"+userPrompt, o.cfg.Stage1Timeout)
	if err != nil {
		return nil, err
	}

	final, analyzerDesc, err := o.invokeWithFailover(ctx, "analyzer", string(analysisType), optimized, o.cfg.Stage2Timeout)
	if err != nil {
		return nil, err
	}

	latencyMs := time.Since(start).Milliseconds()
	log.Debug().
		Str("user_id", userID).
		Int("stage1_tokens", o.tok.CountTokens(optimizerDesc.Provider, userPrompt)).
		Int("stage2_tokens", o.tok.CountTokens(analyzerDesc.Provider, optimized)).
		Int64("latency_ms", latencyMs).
		Msg("analysis pipeline completed")
	if _, err := o.store.RecordSuccessfulQuery(userID, store.QueryLogEntry{
		UserID:          userID,
		Input:           trimmed,
		OptimizedPrompt: optimized,
		Result:          final,
		LatencyMs:       latencyMs,
		Success:         true,
	}); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			return nil, coded(correlation.CodeQueryLimitExceeded, "query limit exceeded", err)
		}
		return nil, coded(correlation.CodeDatabaseError, "recording query", err)
	}

	return &Result{
		AnalysisType:    analysisType,
		OptimizedPrompt: optimized,
		AnalysisResult:  final,
		ServicesUsed: ServicesUsed{
			PromptOptimizer: optimizerDesc,
			Analyzer:        analyzerDesc,
		},
	}, nil
}

// invokeWithFailover selects the best candidate for serviceType/preferredCapability
// and invokes it; on failure it tries exactly one more candidate from the
// registry's ordered list before surfacing AI_SERVICE_ERROR (spec.md §7's
// propagation policy: "one local retry via next candidate at the same stage").
func (o *Orchestrator) invokeWithFailover(ctx context.Context, serviceType, preferredCapability, prompt string, timeout time.Duration) (string, registry.Descriptor, error) {
	candidates := o.registry.Candidates(serviceType, preferredCapability)
	if len(candidates) == 0 {
		return "", registry.Descriptor{}, coded(correlation.CodeNoServiceAvailable, "no service available for "+serviceType, nil)
	}

	var lastErr error
	attempts := candidates
	if len(attempts) > 2 {
		attempts = attempts[:2]
	}

	for _, desc := range attempts {
		stageStart := time.Now()
		result, err := o.invokeOne(ctx, desc.ID, prompt, timeout)
		if o.metrics != nil {
			o.metrics.RecordStageLatency(ctx, serviceType, time.Since(stageStart))
		}
		if err == nil {
			return result, desc, nil
		}
		lastErr = err
		log.Warn().Str("service_type", serviceType).Str("descriptor_id", desc.ID).Err(err).
			Msg("stage invocation failed, trying next candidate")
	}

	var rle *providers.RateLimitedError
	if errors.As(lastErr, &rle) {
		err := coded(correlation.CodeRateLimitExceeded, "provider rate limited", lastErr)
		err.RetryAfterSeconds = int(rle.RetryAfter.Seconds())
		return "", registry.Descriptor{}, err
	}

	return "", registry.Descriptor{}, coded(correlation.CodeAIServiceError, "provider failed at "+serviceType, lastErr)
}

// invokeOne resolves plugin by id directly (bypassing Select's ordering) so
// the failover loop can try each distinct candidate in turn.
func (o *Orchestrator) invokeOne(ctx context.Context, id, prompt string, timeout time.Duration) (string, error) {
	plugin, _, err := o.registry.SelectByID(id)
	if err != nil {
		return "", err
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return plugin.Invoke(stageCtx, prompt)
}
