package repository

import (
	"encoding/json"
	"time"

	"github.com/quantfold/tickerlens/internal/models"
)

// LegacyJobRecord is the wire shape stored in the key-value store. Field
// names predate the relational schema; the conversion functions below are
// the authoritative mapping between the two. Values are copied verbatim,
// timestamps are carried as unix milliseconds.
type LegacyJobRecord struct {
	JobID         string  `json:"job_id"`
	RunID         *string `json:"run_id"`
	ThreadID      *string `json:"thread_id"`
	Symbol        string  `json:"symbol"`
	TradeDate     string  `json:"trade_date"`
	State         string  `json:"state"`
	CreatedTS     int64   `json:"created_ts"`
	UpdatedTS     int64   `json:"updated_ts"`
	FinishedTS    *int64  `json:"finished_ts"`
	ResultJSON    *string `json:"result_json"`
	FailureReason *string `json:"failure_reason"`
	AttemptCount  int     `json:"attempt_count"`
}

// LegacyFromRecord maps a job record onto the legacy field names.
func LegacyFromRecord(rec models.AnalysisJobRecord) LegacyJobRecord {
	legacy := LegacyJobRecord{
		JobID:         rec.ID,
		RunID:         rec.RemoteRunID,
		ThreadID:      rec.RemoteThreadID,
		Symbol:        rec.Ticker,
		TradeDate:     rec.ParameterDate,
		State:         string(rec.Status),
		CreatedTS:     rec.CreatedAt.UnixMilli(),
		UpdatedTS:     rec.UpdatedAt.UnixMilli(),
		ResultJSON:    rec.ResultPayload,
		FailureReason: rec.ErrorMessage,
		AttemptCount:  rec.RetryCount,
	}
	if rec.CompletedAt != nil {
		ts := rec.CompletedAt.UnixMilli()
		legacy.FinishedTS = &ts
	}
	return legacy
}

// ToRecord maps the legacy field names back onto the job record.
func (l LegacyJobRecord) ToRecord() models.AnalysisJobRecord {
	rec := models.AnalysisJobRecord{
		ID:             l.JobID,
		RemoteRunID:    l.RunID,
		RemoteThreadID: l.ThreadID,
		Ticker:         l.Symbol,
		ParameterDate:  l.TradeDate,
		Status:         models.JobStatus(l.State),
		CreatedAt:      time.UnixMilli(l.CreatedTS).UTC(),
		UpdatedAt:      time.UnixMilli(l.UpdatedTS).UTC(),
		ResultPayload:  l.ResultJSON,
		ErrorMessage:   l.FailureReason,
		RetryCount:     l.AttemptCount,
	}
	if l.FinishedTS != nil {
		t := time.UnixMilli(*l.FinishedTS).UTC()
		rec.CompletedAt = &t
	}
	return rec
}

func encodeLegacy(rec models.AnalysisJobRecord) ([]byte, error) {
	return json.Marshal(LegacyFromRecord(rec))
}

func decodeLegacy(data []byte) (models.AnalysisJobRecord, error) {
	var legacy LegacyJobRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return models.AnalysisJobRecord{}, err
	}
	return legacy.ToRecord(), nil
}
