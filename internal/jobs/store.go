package jobs

import "context"

// Store persists job state so a restart keeps job history.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	AppendLog(ctx context.Context, jobID string, entry LogEntry) error
	LoadLogs(ctx context.Context, jobID string) ([]LogEntry, error)
	// DeleteLogs removes all persisted log entries for a job.
	DeleteLogs(ctx context.Context, jobID string) error
}
