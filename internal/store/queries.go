package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrQuotaExceeded is returned by IncrementUsage when the user has no
// remaining quota, per spec.md §3's invariant.
var ErrQuotaExceeded = errors.New("store: quota exceeded")

// ErrJobNotQueued is returned by UpdateJob when the job's current status no
// longer matches the expected one, i.e. a conditional update lost the race.
var ErrJobNotQueued = errors.New("store: job not queued")

const timeLayout = time.RFC3339Nano

// GetOrCreateUser looks up a user by case-insensitive email, creating one
// with default tier/limit on first sight (auto-provision, spec.md §3).
func (s *Store) GetOrCreateUser(email, externalID string, defaultQueriesLimit int) (*User, error) {
	if u, err := s.getUserByEmail(email); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := s.writer.Exec(
		`INSERT INTO users (id, email, external_id, tier, queries_used, queries_limit, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, 1, ?, ?)
		 ON CONFLICT DO NOTHING`,
		id, email, externalID, TierFree, defaultQueriesLimit, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return s.getUserByEmail(email)
}

func (s *Store) getUserByEmail(email string) (*User, error) {
	row := s.reader.QueryRow(
		`SELECT id, email, external_id, tier, queries_used, queries_limit, active, created_at, updated_at
		 FROM users WHERE LOWER(email) = LOWER(?)`, email,
	)
	return scanUser(row)
}

// GetUser looks up a user by id.
func (s *Store) GetUser(userID string) (*User, error) {
	row := s.reader.QueryRow(
		`SELECT id, email, external_id, tier, queries_used, queries_limit, active, created_at, updated_at
		 FROM users WHERE id = ?`, userID,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var externalID sql.NullString
	var active int
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Email, &externalID, &u.Tier, &u.QueriesUsed, &u.QueriesLimit, &active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	u.ExternalID = externalID.String
	u.Active = active != 0
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	u.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &u, nil
}

// IncrementUsage atomically increments queries_used by one, but only if the
// user remains under quota (spec.md §3's invariant: queries_used ≤
// queries_limit at the moment quota is checked). It returns the new count,
// or ErrQuotaExceeded if the row was not updated.
func (s *Store) IncrementUsage(userID string) (int, error) {
	return s.incrementUsage(s.writer, userID)
}

func (s *Store) incrementUsage(exec interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}, userID string) (int, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := exec.Exec(
		`UPDATE users SET queries_used = queries_used + 1, updated_at = ?
		 WHERE id = ? AND queries_used < queries_limit AND active = 1`,
		now, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: increment usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: increment usage rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrQuotaExceeded
	}
	var count int
	if err := exec.QueryRow(`SELECT queries_used FROM users WHERE id = ?`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: read incremented count: %w", err)
	}
	return count, nil
}

// InsertQueryLog appends a write-once audit row (spec.md §3).
func (s *Store) InsertQueryLog(entry QueryLogEntry) error {
	_, err := s.insertQueryLog(s.writer, entry)
	return err
}

func (s *Store) insertQueryLog(exec interface {
	Exec(query string, args ...any) (sql.Result, error)
}, entry QueryLogEntry) (sql.Result, error) {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	success := 0
	if entry.Success {
		success = 1
	}
	res, err := exec.Exec(
		`INSERT INTO query_logs (user_id, input, optimized_prompt, result, latency_ms, success, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Input, entry.OptimizedPrompt, entry.Result, entry.LatencyMs, success, entry.ErrorMessage, createdAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert query log: %w", err)
	}
	return res, nil
}

// RecordSuccessfulQuery atomically increments usage and writes the query
// log in a single transaction — both succeed or both roll back, satisfying
// the orchestrator's "usage increment is atomic with the log write"
// contract from spec.md §4.7 step 7 (the persistence interface itself does
// not expose a transaction object; this adapter method supplies the
// multi-row atomicity spec.md §4.10 requires of it).
func (s *Store) RecordSuccessfulQuery(userID string, entry QueryLogEntry) (int, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	count, err := s.incrementUsage(tx, userID)
	if err != nil {
		return 0, err
	}
	if _, err := s.insertQueryLog(tx, entry); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return count, nil
}

// ListQueryLogs returns the most recent query log rows, newest first,
// capped at limit and optionally filtered to a single user. It backs the
// debugging/analytics surface for operators inspecting gateway usage.
func (s *Store) ListQueryLogs(limit int, userID string) ([]QueryLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, user_id, input, optimized_prompt, result, latency_ms, success, error_message, created_at
		 FROM query_logs`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.reader.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list query logs: %w", err)
	}
	defer rows.Close()

	var entries []QueryLogEntry
	for rows.Next() {
		var e QueryLogEntry
		var success int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Input, &e.OptimizedPrompt, &e.Result, &e.LatencyMs, &success, &e.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan query log: %w", err)
		}
		e.Success = success != 0
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list query logs rows: %w", err)
	}
	return entries, nil
}

// CreateJob inserts a QUEUED job and returns its id. Submission is O(1) and
// returns before any provider call (spec.md §4.8).
func (s *Store) CreateJob(input, ownerUserID string) (string, error) {
	jobID := uuid.NewString()
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.writer.Exec(
		`INSERT INTO jobs (job_id, owner_user_id, status, input, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, nullableString(ownerUserID), JobQueued, input, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("store: create job: %w", err)
	}
	return jobID, nil
}

// ClaimNextJob atomically claims the oldest QUEUED job by transitioning it
// to PROCESSING_STAGE1, returning nil if none is claimable. Because the
// writer connection has exactly one open connection, this UPDATE...RETURNING
// is inherently serialized against every other write, giving the "at most
// one worker ever owns a job" guarantee from spec.md §4.8.
func (s *Store) ClaimNextJob() (*AnalysisJob, error) {
	now := time.Now().UTC().Format(timeLayout)
	row := s.writer.QueryRow(
		`UPDATE jobs SET status = ?, updated_at = ?
		 WHERE job_id = (SELECT job_id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1)
		 RETURNING job_id, owner_user_id, status, input, stage1_output, final_output, error_code, created_at, updated_at, completed_at`,
		JobProcessingStage1, now, JobQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// UpdateJob performs an optimistic update conditioned on the job's current
// status matching expectedStatus, writing newStatus and the given fields
// together (spec.md §4.8: "each stage write is atomic: status transition
// and payload are persisted together").
type JobUpdate struct {
	Stage1Output *string
	FinalOutput  *string
	ErrorCode    *string
	Completed    bool
}

func (s *Store) UpdateJob(jobID, expectedStatus, newStatus string, fields JobUpdate) error {
	now := time.Now().UTC()
	var completedAt any
	if fields.Completed {
		completedAt = now.Format(timeLayout)
	}

	res, err := s.writer.Exec(
		`UPDATE jobs SET status = ?, stage1_output = COALESCE(?, stage1_output),
		   final_output = COALESCE(?, final_output), error_code = COALESCE(?, error_code),
		   updated_at = ?, completed_at = COALESCE(?, completed_at)
		 WHERE job_id = ? AND status = ?`,
		newStatus, fields.Stage1Output, fields.FinalOutput, fields.ErrorCode,
		now.Format(timeLayout), completedAt, jobID, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update job rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotQueued
	}
	return nil
}

// GetJob returns a job snapshot, or ErrNotFound.
func (s *Store) GetJob(jobID string) (*AnalysisJob, error) {
	row := s.reader.QueryRow(
		`SELECT job_id, owner_user_id, status, input, stage1_output, final_output, error_code, created_at, updated_at, completed_at
		 FROM jobs WHERE job_id = ?`, jobID,
	)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*AnalysisJob, error) {
	var j AnalysisJob
	var owner, stage1, final, errCode, completedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&j.JobID, &owner, &j.Status, &j.Input, &stage1, &final, &errCode, &createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	j.OwnerUserID = owner.String
	j.Stage1Output = stage1.String
	j.FinalOutput = final.String
	j.ErrorCode = errCode.String
	j.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	j.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if completedAt.Valid {
		t, _ := time.Parse(timeLayout, completedAt.String)
		j.CompletedAt = &t
	}
	return &j, nil
}

// SweepJobs deletes terminal jobs older than retention and marks jobs stuck
// in a non-terminal state beyond liveness as FAILED/STALE, per spec.md §4.8.
func (s *Store) SweepJobs(retention, liveness time.Duration) (SweepCounts, error) {
	var counts SweepCounts
	now := time.Now().UTC()

	staleCutoff := now.Add(-liveness).Format(timeLayout)
	res, err := s.writer.Exec(
		`UPDATE jobs SET status = ?, error_code = 'STALE', updated_at = ?, completed_at = ?
		 WHERE status NOT IN (?, ?) AND updated_at < ?`,
		JobFailed, now.Format(timeLayout), now.Format(timeLayout),
		JobCompleted, JobFailed, staleCutoff,
	)
	if err != nil {
		return counts, fmt.Errorf("store: sweep stale jobs: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		counts.Stale = n
	}

	retentionCutoff := now.Add(-retention).Format(timeLayout)
	res, err = s.writer.Exec(
		`DELETE FROM jobs WHERE status IN (?, ?) AND completed_at < ?`,
		JobCompleted, JobFailed, retentionCutoff,
	)
	if err != nil {
		return counts, fmt.Errorf("store: sweep retention: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		counts.Deleted = n
	}
	return counts, nil
}

// CountActiveJobs returns the number of jobs not yet in a terminal state,
// used by the /health probe (spec.md §4.9).
func (s *Store) CountActiveJobs() (int, error) {
	var n int
	err := s.reader.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE status NOT IN (?, ?)`, JobCompleted, JobFailed,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count active jobs: %w", err)
	}
	return n, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
