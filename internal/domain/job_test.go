package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJob_PercentComplete(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		processed int
		want      int
	}{
		{name: "zero total", total: 0, processed: 0, want: 0},
		{name: "negative total", total: -1, processed: 5, want: 0},
		{name: "half done", total: 200, processed: 100, want: 50},
		{name: "floor rounding", total: 3, processed: 1, want: 33},
		{name: "complete", total: 100, processed: 100, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{TotalRecords: tt.total, ProcessedRecords: tt.processed}
			assert.Equal(t, tt.want, job.PercentComplete())
		})
	}
}

func TestJob_IsTerminal(t *testing.T) {
	assert.False(t, (&Job{Status: JobStatusUploaded}).IsTerminal())
	assert.False(t, (&Job{Status: JobStatusRunning}).IsTerminal())
	assert.True(t, (&Job{Status: JobStatusCompleted}).IsTerminal())
	assert.True(t, (&Job{Status: JobStatusFailed}).IsTerminal())
}

func TestProgressFromJob(t *testing.T) {
	job := &Job{
		JobID:             "job-1",
		UserID:            "user-1",
		Status:            JobStatusRunning,
		TotalRecords:      200,
		ProcessedRecords:  150,
		ValidRecords:      140,
		InvalidRecords:    10,
		SuspiciousRecords: 2,
	}

	event := ProgressFromJob(job, 3, 4)

	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, JobStatusRunning, event.Status)
	assert.Equal(t, 75, event.ProgressPercent)
	assert.Equal(t, 150, event.ProcessedRecords)
	assert.Equal(t, 140, event.ValidRecords)
	assert.Equal(t, 10, event.InvalidRecords)
	assert.Equal(t, 2, event.SuspiciousRecords)
	assert.Equal(t, 3, event.BatchCompleted)
	assert.Equal(t, 4, event.TotalBatches)
}
