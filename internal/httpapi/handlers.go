package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aigateway/gateway/internal/correlation"
	"github.com/aigateway/gateway/internal/orchestrator"
	"github.com/aigateway/gateway/internal/store"
)

const maxQueryLogsLimit = 500

// truncatedInputLen bounds how much of a logged input is echoed back on the
// listing endpoint; full inputs stay in the database for operators who need
// them.
const truncatedInputLen = 100

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *API) handleNotFound(w http.ResponseWriter, r *http.Request) {
	correlation.WriteError(w, r.Context(), correlation.CodeHTTPException, "no route matches "+r.URL.Path)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, err := a.store.CountActiveJobs()
	if err != nil {
		correlation.WriteError(w, r.Context(), correlation.CodeDatabaseError, "counting active jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_jobs": active,
	})
}

func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "persistence unreachable"})
		return
	}

	results := a.registry.HealthCheckAll(r.Context(), 2*time.Second)
	descriptors := a.registry.List()
	healthyAnalyzer := false
	for _, d := range descriptors {
		if !hasServiceType(d.ServiceTypes, "analyzer") {
			continue
		}
		if healthy, ok := results[d.ID]; ok && healthy {
			healthyAnalyzer = true
			break
		}
	}
	if !healthyAnalyzer {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no healthy analyzer"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func hasServiceType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func (a *API) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.List())
}

func (a *API) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	results := a.registry.HealthCheckAll(r.Context(), 2*time.Second)
	overall := true
	for _, healthy := range results {
		if !healthy {
			overall = false
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overall":     overall,
		"per_service": results,
	})
}

type processRequest struct {
	UserInput    string `json:"user_input"`
	AnalysisType string `json:"analysis_type"`
}

type descriptorView struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type processResponse struct {
	AnalysisType    string         `json:"analysis_type"`
	OptimizedPrompt string         `json:"optimized_prompt"`
	AnalysisResult  string         `json:"analysis_result"`
	ServicesUsed    map[string]any `json:"services_used"`
}

// readBody enforces the body-size cap before any JSON parsing is attempted,
// per spec.md §4.9: violators receive 413 REQUEST_TOO_LARGE without a parse
// attempt.
func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if a.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			correlation.WriteError(w, r.Context(), correlation.CodeRequestTooLarge, "request body exceeds the configured limit")
			return nil, false
		}
		correlation.WriteError(w, r.Context(), correlation.CodeInvalidInput, "failed to read request body")
		return nil, false
	}
	return body, true
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	var req processRequest
	if err := json.Unmarshal(body, &req); err != nil {
		correlation.WriteError(w, r.Context(), correlation.CodeInvalidInput, "malformed request body")
		return
	}

	analysisType := orchestrator.AnalysisType(req.AnalysisType)
	if analysisType == "" {
		analysisType = orchestrator.AnalysisCustom
	}

	userID := userIDFromContext(r.Context())
	result, err := a.orchestrator.Process(r.Context(), userID, req.UserInput, analysisType)
	if err != nil {
		writeOrchestratorError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		AnalysisType:    string(result.AnalysisType),
		OptimizedPrompt: result.OptimizedPrompt,
		AnalysisResult:  result.AnalysisResult,
		ServicesUsed: map[string]any{
			"prompt_optimizer": descriptorView{ID: result.ServicesUsed.PromptOptimizer.ID, Provider: result.ServicesUsed.PromptOptimizer.Provider, Model: result.ServicesUsed.PromptOptimizer.Model},
			"analyzer":         descriptorView{ID: result.ServicesUsed.Analyzer.ID, Provider: result.ServicesUsed.Analyzer.Provider, Model: result.ServicesUsed.Analyzer.Model},
		},
	})
}

func writeOrchestratorError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *orchestrator.CodedError
	if errors.As(err, &ce) {
		if ce.RetryAfterSeconds > 0 {
			correlation.WriteErrorWithRetryAfter(w, r.Context(), ce.Code, ce.Message, ce.RetryAfterSeconds)
			return
		}
		correlation.WriteError(w, r.Context(), ce.Code, ce.Message)
		return
	}
	correlation.WriteError(w, r.Context(), correlation.CodeInternalServerError, "internal error")
}

type asyncSubmitRequest struct {
	UserInput string `json:"user_input"`
}

type asyncSubmitResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *API) handleAnalyzeAsyncSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	var req asyncSubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		correlation.WriteError(w, r.Context(), correlation.CodeInvalidInput, "malformed request body")
		return
	}
	if strings.TrimSpace(req.UserInput) == "" || len(req.UserInput) > a.cfg.MaxInputLength {
		correlation.WriteError(w, r.Context(), correlation.CodeInvalidInput, "input must be non-empty and within the length limit")
		return
	}

	userID := userIDFromContext(r.Context())
	jobID, err := a.jobs.Submit(req.UserInput, userID)
	if err != nil {
		correlation.WriteError(w, r.Context(), correlation.CodeDatabaseError, "submitting job")
		return
	}

	job, err := a.jobs.Status(jobID)
	if err != nil {
		correlation.WriteError(w, r.Context(), correlation.CodeDatabaseError, "reading submitted job")
		return
	}

	writeJSON(w, http.StatusOK, asyncSubmitResponse{
		JobID:     job.JobID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

type jobView struct {
	JobID        string  `json:"job_id"`
	Status       string  `json:"status"`
	Stage1Output *string `json:"stage1_output,omitempty"`
	FinalOutput  *string `json:"final_output,omitempty"`
	ErrorCode    *string `json:"error_code,omitempty"`
}

func (a *API) handleAnalyzeAsyncStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		correlation.WriteError(w, r.Context(), correlation.CodeInvalidInput, "job_id must be a UUID")
		return
	}

	job, err := a.jobs.Status(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			correlation.WriteError(w, r.Context(), correlation.CodeJobNotFound, "job not found")
			return
		}
		correlation.WriteError(w, r.Context(), correlation.CodeDatabaseError, "reading job")
		return
	}

	view := jobView{JobID: job.JobID, Status: job.Status}
	if job.Stage1Output != "" {
		view.Stage1Output = &job.Stage1Output
	}
	if job.FinalOutput != "" {
		view.FinalOutput = &job.FinalOutput
	}
	if job.ErrorCode != "" {
		view.ErrorCode = &job.ErrorCode
	}
	writeJSON(w, http.StatusOK, view)
}

type meResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Tier   string `json:"tier"`
	Active bool   `json:"active"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	user, err := a.store.GetUser(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			correlation.WriteError(w, r.Context(), correlation.CodeUserNotFound, "user not found")
			return
		}
		correlation.WriteError(w, r.Context(), correlation.CodeDatabaseError, "reading user")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{ID: user.ID, Email: user.Email, Tier: user.Tier, Active: user.Active})
}

type usageResponse struct {
	QueriesUsed  int    `json:"queries_used"`
	QueriesLimit int    `json:"queries_limit"`
	Tier         string `json:"tier"`
}

func (a *API) handleMeUsage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	user, err := a.store.GetUser(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			correlation.WriteError(w, r.Context(), correlation.CodeUserNotFound, "user not found")
			return
		}
		correlation.WriteError(w, r.Context(), correlation.CodeDatabaseError, "reading user")
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{QueriesUsed: user.QueriesUsed, QueriesLimit: user.QueriesLimit, Tier: user.Tier})
}

type queryLogSummary struct {
	ID              int64  `json:"id"`
	UserID          string `json:"user_id"`
	UserInput       string `json:"user_input"`
	Success         bool   `json:"success"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
	CreatedAt       string `json:"created_at"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

type queryLogsResponse struct {
	TotalLogs int               `json:"total_logs"`
	Logs      []queryLogSummary `json:"logs"`
}

// handleQueryLogs lists recent query log rows for debugging and usage
// analytics, optionally filtered to a single user. It is an operator
// surface, not a per-user one, so it sits alongside /services rather than
// behind requireAuth.
func (a *API) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxQueryLogsLimit {
		limit = maxQueryLogsLimit
	}

	entries, err := a.store.ListQueryLogs(limit, r.URL.Query().Get("user_id"))
	if err != nil {
		correlation.WriteError(w, r.Context(), correlation.CodeDatabaseError, "listing query logs")
		return
	}

	summaries := make([]queryLogSummary, 0, len(entries))
	for _, e := range entries {
		input := e.Input
		if len(input) > truncatedInputLen {
			input = input[:truncatedInputLen] + "..."
		}
		summaries = append(summaries, queryLogSummary{
			ID:             e.ID,
			UserID:         e.UserID,
			UserInput:      input,
			Success:        e.Success,
			ResponseTimeMs: e.LatencyMs,
			CreatedAt:      e.CreatedAt.Format(time.RFC3339),
			ErrorMessage:   e.ErrorMessage,
		})
	}

	writeJSON(w, http.StatusOK, queryLogsResponse{TotalLogs: len(summaries), Logs: summaries})
}
