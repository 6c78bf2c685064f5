package domain

// ProgressEvent is the transient message broadcast to a user's live
// connections after each committed chunk and on job completion or failure.
// Counts always reflect the durably committed job counters.
type ProgressEvent struct {
	JobID             string `json:"job_id"`
	UserID            string `json:"user_id"`
	Status            string `json:"status"`
	ProgressPercent   int    `json:"progress_percent"`
	ProcessedRecords  int    `json:"processed_records"`
	TotalRecords      int    `json:"total_records"`
	ValidRecords      int    `json:"valid_records"`
	InvalidRecords    int    `json:"invalid_records"`
	SuspiciousRecords int    `json:"suspicious_records"`
	BatchCompleted    int    `json:"batch_completed"`
	TotalBatches      int    `json:"total_batches"`
}

// ProgressFromJob builds an event from the job's cumulative counters.
func ProgressFromJob(job *Job, batchCompleted, totalBatches int) ProgressEvent {
	return ProgressEvent{
		JobID:             job.JobID,
		UserID:            job.UserID,
		Status:            job.Status,
		ProgressPercent:   job.PercentComplete(),
		ProcessedRecords:  job.ProcessedRecords,
		TotalRecords:      job.TotalRecords,
		ValidRecords:      job.ValidRecords,
		InvalidRecords:    job.InvalidRecords,
		SuspiciousRecords: job.SuspiciousRecords,
		BatchCompleted:    batchCompleted,
		TotalBatches:      totalBatches,
	}
}
