package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aigateway/gateway/internal/correlation"
	"github.com/aigateway/gateway/internal/providers"
	"github.com/aigateway/gateway/internal/registry"
	"github.com/aigateway/gateway/internal/store"
)

type fakePlugin struct {
	reply string
	err   error
}

func (f *fakePlugin) Invoke(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakePlugin) Health(ctx context.Context) bool { return f.err == nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *registry.Registry, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	cfg := Config{MaxInputLength: 1000, Stage1Timeout: time.Second, Stage2Timeout: time.Second}
	return New(cfg, reg, st), reg, st
}

func TestProcess_HappyPath(t *testing.T) {
	o, reg, st := newTestOrchestrator(t)
	user, err := st.GetOrCreateUser("person@example.com", "", 100)
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	reg.Register("optimizer-1", &fakePlugin{reply: "optimized prompt"}, registry.Descriptor{
		ServiceTypes: []string{"prompt_optimizer"}, Priority: 1, Available: true,
	})
	reg.Register("analyzer-1", &fakePlugin{reply: "final result"}, registry.Descriptor{
		ServiceTypes: []string{"analyzer"}, Priority: 1, Available: true,
	})

	result, err := o.Process(context.Background(), user.ID, "Summarize: hello world", AnalysisDocument)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.OptimizedPrompt != "optimized prompt" || result.AnalysisResult != "final result" {
		t.Errorf("Process() = %+v", result)
	}

	updated, err := st.GetUser(user.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if updated.QueriesUsed != 1 {
		t.Errorf("QueriesUsed = %d, want 1", updated.QueriesUsed)
	}
}

func TestProcess_RejectsEmptyInput(t *testing.T) {
	o, _, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("empty@example.com", "", 100)

	_, err := o.Process(context.Background(), user.ID, "   ", AnalysisDocument)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != correlation.CodeInvalidInput {
		t.Fatalf("Process() error = %v, want CodeInvalidInput", err)
	}
}

func TestProcess_RejectsOverLengthInput(t *testing.T) {
	o, _, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("long@example.com", "", 100)

	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'x'
	}
	_, err := o.Process(context.Background(), user.ID, string(big), AnalysisDocument)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != correlation.CodeInvalidInput {
		t.Fatalf("Process() error = %v, want CodeInvalidInput", err)
	}
}

func TestProcess_QuotaExceeded(t *testing.T) {
	o, reg, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("quota@example.com", "", 0)
	reg.Register("optimizer-1", &fakePlugin{reply: "x"}, registry.Descriptor{ServiceTypes: []string{"prompt_optimizer"}, Available: true})
	reg.Register("analyzer-1", &fakePlugin{reply: "x"}, registry.Descriptor{ServiceTypes: []string{"analyzer"}, Available: true})

	_, err := o.Process(context.Background(), user.ID, "hello", AnalysisDocument)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != correlation.CodeQueryLimitExceeded {
		t.Fatalf("Process() error = %v, want CodeQueryLimitExceeded", err)
	}
}

func TestProcess_NoServiceAvailable(t *testing.T) {
	o, _, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("noservice@example.com", "", 10)

	_, err := o.Process(context.Background(), user.ID, "hello", AnalysisDocument)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != correlation.CodeNoServiceAvailable {
		t.Fatalf("Process() error = %v, want CodeNoServiceAvailable", err)
	}
}

func TestProcess_FailsOverToNextAnalyzerCandidate(t *testing.T) {
	o, reg, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("failover@example.com", "", 10)

	reg.Register("optimizer-1", &fakePlugin{reply: "optimized"}, registry.Descriptor{
		ServiceTypes: []string{"prompt_optimizer"}, Available: true,
	})
	reg.Register("analyzer-a", &fakePlugin{err: errors.New("upstream 503")}, registry.Descriptor{
		ServiceTypes: []string{"analyzer"}, Priority: 1, Available: true,
	})
	reg.Register("analyzer-b", &fakePlugin{reply: "result from b"}, registry.Descriptor{
		ServiceTypes: []string{"analyzer"}, Priority: 2, Available: true,
	})

	result, err := o.Process(context.Background(), user.ID, "hello", AnalysisDocument)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.AnalysisResult != "result from b" {
		t.Errorf("AnalysisResult = %q, want failover to analyzer-b's reply", result.AnalysisResult)
	}
	if result.ServicesUsed.Analyzer.ID != "analyzer-b" {
		t.Errorf("ServicesUsed.Analyzer.ID = %q, want analyzer-b", result.ServicesUsed.Analyzer.ID)
	}
}

func TestProcess_SurfacesRateLimitExceededWithRetryAfter(t *testing.T) {
	o, reg, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("ratelimited@example.com", "", 10)

	reg.Register("optimizer-1", &fakePlugin{reply: "optimized"}, registry.Descriptor{
		ServiceTypes: []string{"prompt_optimizer"}, Available: true,
	})
	reg.Register("analyzer-1", &fakePlugin{err: &providers.RateLimitedError{
		Provider: "provider-a", RetryAfter: 5 * time.Second, Err: errors.New("429"),
	}}, registry.Descriptor{ServiceTypes: []string{"analyzer"}, Priority: 1, Available: true})

	_, err := o.Process(context.Background(), user.ID, "hello", AnalysisDocument)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != correlation.CodeRateLimitExceeded {
		t.Fatalf("Process() error = %v, want CodeRateLimitExceeded", err)
	}
	if ce.RetryAfterSeconds != 5 {
		t.Errorf("RetryAfterSeconds = %d, want 5", ce.RetryAfterSeconds)
	}
}

// racingPlugin simulates a concurrent request winning the quota race: its
// Invoke consumes the caller's one remaining unit of quota itself, so that
// by the time Process reaches RecordSuccessfulQuery the atomic increment
// has nothing left to claim.
type racingPlugin struct {
	st     *store.Store
	userID string
	reply  string
}

func (r *racingPlugin) Invoke(ctx context.Context, prompt string) (string, error) {
	if _, err := r.st.IncrementUsage(r.userID); err != nil {
		return "", err
	}
	return r.reply, nil
}

func (r *racingPlugin) Health(ctx context.Context) bool { return true }

func TestProcess_QuotaRaceMapsToQueryLimitExceeded(t *testing.T) {
	o, reg, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("race@example.com", "", 1)

	reg.Register("optimizer-1", &fakePlugin{reply: "optimized"}, registry.Descriptor{
		ServiceTypes: []string{"prompt_optimizer"}, Available: true,
	})
	// Loses the race inside the analyzer stage: by the time Process's own
	// RecordSuccessfulQuery tries to increment usage, racingPlugin already
	// consumed the only unit of quota out from under it.
	reg.Register("analyzer-1", &racingPlugin{st: st, userID: user.ID, reply: "final"}, registry.Descriptor{
		ServiceTypes: []string{"analyzer"}, Available: true,
	})

	_, err := o.Process(context.Background(), user.ID, "hello", AnalysisDocument)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != correlation.CodeQueryLimitExceeded {
		t.Fatalf("Process() error = %v, want CodeQueryLimitExceeded", err)
	}
}

func TestProcess_SurfacesAIServiceErrorWhenAllCandidatesFail(t *testing.T) {
	o, reg, st := newTestOrchestrator(t)
	user, _ := st.GetOrCreateUser("allfail@example.com", "", 10)

	reg.Register("optimizer-1", &fakePlugin{reply: "optimized"}, registry.Descriptor{
		ServiceTypes: []string{"prompt_optimizer"}, Available: true,
	})
	reg.Register("analyzer-a", &fakePlugin{err: errors.New("down")}, registry.Descriptor{
		ServiceTypes: []string{"analyzer"}, Priority: 1, Available: true,
	})
	reg.Register("analyzer-b", &fakePlugin{err: errors.New("also down")}, registry.Descriptor{
		ServiceTypes: []string{"analyzer"}, Priority: 2, Available: true,
	})

	_, err := o.Process(context.Background(), user.ID, "hello", AnalysisDocument)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != correlation.CodeAIServiceError {
		t.Fatalf("Process() error = %v, want CodeAIServiceError", err)
	}
}
