package domain

import "time"

// Job status constants
const (
	JobStatusUploaded  = "UPLOADED"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// Job represents one batch-processing run over one uploaded CSV file.
// Counters are mutated exclusively by the orchestrator while the job is
// RUNNING and always satisfy processed = valid + invalid.
type Job struct {
	JobID             string    `db:"job_id"`
	UserID            string    `db:"user_id"`
	Status            string    `db:"status"`
	TotalRecords      int       `db:"total_records"`
	ProcessedRecords  int       `db:"processed_records"`
	ValidRecords      int       `db:"valid_records"`
	InvalidRecords    int       `db:"invalid_records"`
	SuspiciousRecords int       `db:"suspicious_records"`
	WorkerID          string    `db:"worker_id"`
	ErrorMessage      string    `db:"error_message"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// IsTerminal reports whether the job has reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// PercentComplete returns the floor percentage of processed records,
// 0 when the job has no records.
func (j *Job) PercentComplete() int {
	if j.TotalRecords <= 0 {
		return 0
	}
	return j.ProcessedRecords * 100 / j.TotalRecords
}

// StartMessage is the broker message that dispatches an accepted job
// to a worker.
type StartMessage struct {
	JobID string `json:"job_id"`
}
