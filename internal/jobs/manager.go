// Package jobs implements the async job manager (C8): a bounded worker pool
// that polls the persistence store for claimable jobs, drives each job
// through the two-stage analysis pipeline, and a sweeper that garbage
// collects terminal jobs and revives stale ones.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aigateway/gateway/internal/metrics"
	"github.com/aigateway/gateway/internal/orchestrator"
	"github.com/aigateway/gateway/internal/store"
	"github.com/rs/zerolog/log"
)

// Config bounds the manager's worker pool and GC policy.
type Config struct {
	Workers       int
	PollInterval  time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
	Liveness      time.Duration
	AnalysisType  orchestrator.AnalysisType
}

// Manager runs a pool of workers pulling queued jobs from the store and
// driving them through the orchestrator, plus a periodic sweeper.
type Manager struct {
	cfg          Config
	store        *store.Store
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Collector

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Manager. Start must be called to begin processing. A nil
// collector disables metrics recording.
func New(cfg Config, st *store.Store, orch *orchestrator.Orchestrator, collector *metrics.Collector) *Manager {
	return &Manager{cfg: cfg, store: st, orchestrator: orch, metrics: collector}
}

// Submit enqueues a job for the given (optionally empty) owner and returns
// its id before any provider call runs — submission is O(1) per spec.md §4.8.
func (m *Manager) Submit(input, ownerUserID string) (string, error) {
	return m.store.CreateJob(input, ownerUserID)
}

// Status returns a snapshot of the job, or store.ErrNotFound.
func (m *Manager) Status(jobID string) (*store.AnalysisJob, error) {
	return m.store.GetJob(jobID)
}

// Cancel marks a non-terminal job FAILED with CANCELLED. This is advisory:
// a stage already in flight observes the flag only at its next suspension
// point and may still complete (spec.md §5).
func (m *Manager) Cancel(jobID string) error {
	job, err := m.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}
	errCode := "CANCELLED"
	return m.store.UpdateJob(jobID, job.Status, store.JobFailed, store.JobUpdate{
		ErrorCode: &errCode,
		Completed: true,
	})
}

// Start launches the worker pool and sweeper goroutines. Call Stop to shut
// them down gracefully.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(ctx, i)
	}

	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Stop cancels worker and sweeper goroutines and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) workerLoop(ctx context.Context, id int) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.claimAndProcess(ctx, id)
		}
	}
}

func (m *Manager) claimAndProcess(ctx context.Context, workerID int) {
	job, err := m.store.ClaimNextJob()
	if err != nil {
		log.Error().Int("worker", workerID).Err(err).Msg("claiming next job")
		return
	}
	if job == nil {
		return
	}
	m.process(ctx, job)
}

// process drives a claimed job through stage 1 and stage 2, persisting each
// transition atomically with its payload (spec.md §4.8).
func (m *Manager) process(ctx context.Context, job *store.AnalysisJob) {
	log.Info().Str("job_id", job.JobID).Msg("processing job")

	result, err := m.orchestrator.Process(ctx, job.OwnerUserID, job.Input, m.cfg.AnalysisType)
	if err != nil {
		errCode := errorCodeFor(err)
		if updateErr := m.store.UpdateJob(job.JobID, job.Status, store.JobFailed, store.JobUpdate{
			ErrorCode: &errCode,
			Completed: true,
		}); updateErr != nil {
			log.Error().Str("job_id", job.JobID).Err(updateErr).Msg("marking job failed")
		}
		return
	}

	stage1 := result.OptimizedPrompt
	final := result.AnalysisResult
	if updateErr := m.store.UpdateJob(job.JobID, store.JobProcessingStage1, store.JobProcessingStage2, store.JobUpdate{
		Stage1Output: &stage1,
	}); updateErr != nil {
		log.Error().Str("job_id", job.JobID).Err(updateErr).Msg("recording stage1 output")
		return
	}

	if updateErr := m.store.UpdateJob(job.JobID, store.JobProcessingStage2, store.JobCompleted, store.JobUpdate{
		FinalOutput: &final,
		Completed:   true,
	}); updateErr != nil {
		log.Error().Str("job_id", job.JobID).Err(updateErr).Msg("recording completion")
	}
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := m.store.SweepJobs(m.cfg.Retention, m.cfg.Liveness)
			if err != nil {
				log.Error().Err(err).Msg("sweeping jobs")
				continue
			}
			if counts.Deleted > 0 || counts.Stale > 0 {
				log.Info().Int64("deleted", counts.Deleted).Int64("stale", counts.Stale).Msg("job sweep complete")
			}
			m.recordActiveJobs(ctx)
		}
	}
}

func (m *Manager) recordActiveJobs(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	active, err := m.store.CountActiveJobs()
	if err != nil {
		log.Error().Err(err).Msg("counting active jobs for metrics")
		return
	}
	m.metrics.SetActiveJobs(ctx, int64(active))
}

// errorCodeFor maps an orchestrator error to the taxonomy code recorded on
// the job, falling back to a generic failure code.
func errorCodeFor(err error) string {
	var ce *orchestrator.CodedError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	return "AI_SERVICE_ERROR"
}
