package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aigateway/gateway/internal/orchestrator"
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

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	reg.Register("optimizer-1", &fakePlugin{reply: "optimized"}, registry.Descriptor{
		ServiceTypes: []string{"prompt_optimizer"}, Available: true,
	})
	reg.Register("analyzer-1", &fakePlugin{reply: "final"}, registry.Descriptor{
		ServiceTypes: []string{"analyzer"}, Available: true,
	})

	orch := orchestrator.New(orchestrator.Config{
		MaxInputLength: 1000,
		Stage1Timeout:  time.Second,
		Stage2Timeout:  time.Second,
	}, reg, st)

	mgr := New(Config{
		Workers:       2,
		PollInterval:  5 * time.Millisecond,
		SweepInterval: time.Hour,
		Retention:     time.Hour,
		Liveness:      time.Hour,
		AnalysisType:  orchestrator.AnalysisDocument,
	}, st, orch, nil)

	return mgr, st
}

func TestSubmit_ReturnsJobIDImmediately(t *testing.T) {
	mgr, _ := newTestManager(t)
	jobID, err := mgr.Submit("hello", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if jobID == "" {
		t.Fatal("Submit() returned empty job id")
	}

	job, err := mgr.Status(jobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if job.Status != store.JobQueued {
		t.Errorf("Status = %s, want QUEUED", job.Status)
	}
}

func TestManager_ProcessesJobToCompletion(t *testing.T) {
	mgr, st := newTestManager(t)
	user, err := st.GetOrCreateUser("jobuser@example.com", "", 100)
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	jobID, err := mgr.Submit("analyze this", user.ID)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	var job *store.AnalysisJob
	for time.Now().Before(deadline) {
		job, err = mgr.Status(jobID)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if job.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if job.Status != store.JobCompleted {
		t.Fatalf("final status = %s, want COMPLETED (job=%+v)", job.Status, job)
	}
	if job.FinalOutput != "final" {
		t.Errorf("FinalOutput = %q, want %q", job.FinalOutput, "final")
	}
}

func TestCancel_MarksNonTerminalJobFailed(t *testing.T) {
	mgr, _ := newTestManager(t)
	jobID, err := mgr.Submit("x", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := mgr.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	job, err := mgr.Status(jobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if job.Status != store.JobFailed || job.ErrorCode != "CANCELLED" {
		t.Errorf("job after cancel = %+v, want FAILED/CANCELLED", job)
	}
}

func TestCancel_NoopOnAlreadyTerminalJob(t *testing.T) {
	mgr, st := newTestManager(t)
	jobID, _ := mgr.Submit("x", "")
	st.ClaimNextJob()
	errCode := "SOME_ERROR"
	if err := st.UpdateJob(jobID, store.JobProcessingStage1, store.JobFailed, store.JobUpdate{
		ErrorCode: &errCode, Completed: true,
	}); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	if err := mgr.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	job, _ := mgr.Status(jobID)
	if job.ErrorCode != "SOME_ERROR" {
		t.Errorf("ErrorCode = %q, want unchanged %q", job.ErrorCode, "SOME_ERROR")
	}
}
