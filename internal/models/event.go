package models

import "time"

// JobEvent is published on every persisted job status change. PreviousStatus
// is empty for the initial pending write. Event payloads are advisory;
// consumers needing strong consistency re-read the store.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	PreviousStatus JobStatus `json:"previous_status"`
	NewStatus      JobStatus `json:"new_status"`
	Timestamp      time.Time `json:"timestamp"`
}
