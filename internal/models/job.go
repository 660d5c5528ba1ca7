package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusAccepted JobStatus = "accepted"
	JobStatusRunning  JobStatus = "running"
	JobStatusSuccess  JobStatus = "success"
	JobStatusError    JobStatus = "error"
)

// statusRank orders statuses along the lifecycle graph. Both terminal
// statuses share the highest rank; transitions may only increase rank.
var statusRank = map[JobStatus]int{
	JobStatusPending:  0,
	JobStatusAccepted: 1,
	JobStatusRunning:  2,
	JobStatusSuccess:  3,
	JobStatusError:    3,
}

func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// move. Terminal statuses accept no transition; error is reachable from any
// non-terminal status.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == JobStatusError {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// AnalysisJobRecord is the persisted representation of one submitted
// analysis request. ID, Ticker and ParameterDate are immutable once created.
type AnalysisJobRecord struct {
	ID             string     `json:"id" db:"id"`
	RemoteRunID    *string    `json:"remote_run_id" db:"remote_run_id"`
	RemoteThreadID *string    `json:"remote_thread_id" db:"thread_id"`
	Ticker         string     `json:"ticker" db:"ticker"`
	ParameterDate  string     `json:"parameter_date" db:"trade_date"`
	Status         JobStatus  `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at" db:"completed_at"`
	ResultPayload  *string    `json:"result_payload" db:"result_payload"`
	ErrorMessage   *string    `json:"error_message" db:"error_message"`
	RetryCount     int        `json:"retry_count" db:"retry_count"`
}

// NewAnalysisJobRecord creates a pending record with a fresh client-side id.
func NewAnalysisJobRecord(ticker, parameterDate string) AnalysisJobRecord {
	now := time.Now().UTC()
	return AnalysisJobRecord{
		ID:            uuid.NewString(),
		Ticker:        ticker,
		ParameterDate: parameterDate,
		Status:        JobStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// MarkAccepted records the identifiers handed back by the remote service.
func (r *AnalysisJobRecord) MarkAccepted(runID, threadID string) {
	r.Status = JobStatusAccepted
	r.RemoteRunID = &runID
	r.RemoteThreadID = &threadID
	r.UpdatedAt = time.Now().UTC()
}

func (r *AnalysisJobRecord) MarkRunning() {
	r.Status = JobStatusRunning
	r.UpdatedAt = time.Now().UTC()
}

func (r *AnalysisJobRecord) MarkSuccess(resultPayload string) {
	now := time.Now().UTC()
	r.Status = JobStatusSuccess
	r.ResultPayload = &resultPayload
	r.UpdatedAt = now
	r.CompletedAt = &now
}

func (r *AnalysisJobRecord) MarkError(message string) {
	now := time.Now().UTC()
	r.Status = JobStatusError
	r.ErrorMessage = &message
	r.UpdatedAt = now
	r.CompletedAt = &now
}
