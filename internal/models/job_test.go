package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalysisJobRecord(t *testing.T) {
	rec := NewAnalysisJobRecord("AAPL", "2024-01-15")

	require.NotEmpty(t, rec.ID)
	assert.Equal(t, "AAPL", rec.Ticker)
	assert.Equal(t, "2024-01-15", rec.ParameterDate)
	assert.Equal(t, JobStatusPending, rec.Status)
	assert.Nil(t, rec.RemoteRunID)
	assert.Nil(t, rec.CompletedAt)
	assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))

	other := NewAnalysisJobRecord("AAPL", "2024-01-15")
	assert.NotEqual(t, rec.ID, other.ID)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusPending, JobStatusAccepted, true},
		{JobStatusAccepted, JobStatusRunning, true},
		{JobStatusRunning, JobStatusSuccess, true},
		{JobStatusRunning, JobStatusError, true},
		{JobStatusPending, JobStatusError, true},
		{JobStatusAccepted, JobStatusError, true},
		// a poll may observe the remote run finish between ticks
		{JobStatusAccepted, JobStatusSuccess, true},
		// never backward
		{JobStatusAccepted, JobStatusPending, false},
		{JobStatusRunning, JobStatusAccepted, false},
		{JobStatusRunning, JobStatusPending, false},
		// terminal states accept nothing
		{JobStatusSuccess, JobStatusError, false},
		{JobStatusSuccess, JobStatusRunning, false},
		{JobStatusError, JobStatusSuccess, false},
		{JobStatusError, JobStatusError, false},
		// unknown vocabulary
		{JobStatusPending, JobStatus("bogus"), false},
		{JobStatus("bogus"), JobStatusError, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusAccepted.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusSuccess.IsTerminal())
	assert.True(t, JobStatusError.IsTerminal())
}

// CompletedAt must be set exactly when a record enters a terminal status.
func TestCompletedAtMatchesTerminalStatus(t *testing.T) {
	rec := NewAnalysisJobRecord("MSFT", "2024-02-01")
	assert.Nil(t, rec.CompletedAt)

	rec.MarkAccepted("run-1", "thread-1")
	assert.Nil(t, rec.CompletedAt)
	require.NotNil(t, rec.RemoteRunID)
	assert.Equal(t, "run-1", *rec.RemoteRunID)

	rec.MarkRunning()
	assert.Nil(t, rec.CompletedAt)

	rec.MarkSuccess(`{"score": 0.8}`)
	require.NotNil(t, rec.CompletedAt)
	require.NotNil(t, rec.ResultPayload)
	assert.Equal(t, JobStatusSuccess, rec.Status)

	failed := NewAnalysisJobRecord("MSFT", "2024-02-01")
	failed.MarkError("network unreachable")
	require.NotNil(t, failed.CompletedAt)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "network unreachable", *failed.ErrorMessage)
	assert.Nil(t, failed.ResultPayload)
}
