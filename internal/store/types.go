package store

import "time"

// User tiers, per spec.md §3.
const (
	TierFree    = "free"
	TierPro     = "pro"
	TierPremium = "premium"
)

// Job statuses, per spec.md §3's AnalysisJob state machine.
const (
	JobQueued            = "QUEUED"
	JobProcessingStage1  = "PROCESSING_STAGE1"
	JobProcessingStage2  = "PROCESSING_STAGE2"
	JobCompleted         = "COMPLETED"
	JobFailed            = "FAILED"
)

// User is the identity record described in spec.md §3.
type User struct {
	ID           string
	Email        string
	ExternalID   string
	Tier         string
	QueriesUsed  int
	QueriesLimit int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AnalysisJob is the async work item described in spec.md §3.
type AnalysisJob struct {
	JobID        string
	OwnerUserID  string
	Status       string
	Input        string
	Stage1Output string
	FinalOutput  string
	ErrorCode    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Terminal reports whether the job has reached an end state.
func (j AnalysisJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// QueryLogEntry is the append-only audit record described in spec.md §3.
// ID is populated when the entry is read back (e.g. ListQueryLogs); it is
// ignored on insert, where the database assigns it.
type QueryLogEntry struct {
	ID              int64
	UserID          string
	Input           string
	OptimizedPrompt string
	Result          string
	LatencyMs       int64
	Success         bool
	ErrorMessage    string
	CreatedAt       time.Time
}

// SweepCounts reports how many rows a sweep affected.
type SweepCounts struct {
	Deleted int64
	Stale   int64
}
