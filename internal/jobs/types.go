package jobs

// Status is the closed set of job lifecycle states. Transitions follow
// queued -> running -> {completed, failed}; terminal states never change.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type JobType string

const (
	JobTypeFile   JobType = "file"
	JobTypeZip    JobType = "zip"
	JobTypeFolder JobType = "folder"
)

// ScrapeConfig carries the per-job crawl parameters supplied at submission.
type ScrapeConfig struct {
	Workers   int  `json:"workers"`
	BatchSize int  `json:"batch_size"`
	Verbose   bool `json:"verbose"`
}

// Job is one batch email-discovery run. Timestamps are Unix epoch seconds.
type Job struct {
	ID             string   `json:"job_id"`
	Status         Status   `json:"status"`
	Progress       float64  `json:"progress"`
	TotalProcessed int      `json:"total_processed"`
	TotalEmails    int      `json:"total_emails"`
	StartTime      int64    `json:"start_time"`
	EndTime        *int64   `json:"end_time,omitempty"`
	Errors         []string `json:"errors"`
	FilesProcessed []string `json:"files_processed"`
	JobType        JobType  `json:"job_type,omitempty"`
	FolderName     string   `json:"folder_name,omitempty"`
	TotalFiles     int      `json:"total_files,omitempty"`

	// OriginalName is the client-supplied filename, kept for deriving the
	// download name. Not part of the status contract.
	OriginalName string `json:"-"`

	Config ScrapeConfig `json:"-"`
}

// CreateRequest describes a job submission after the transport layer has
// stored any uploaded files.
type CreateRequest struct {
	// ID is optional; Create mints one when empty.
	ID           string
	Files        []string
	OriginalName string
	JobType      JobType
	FolderName   string
	Config       ScrapeConfig
}

// Stats is the server-computed aggregate snapshot.
type Stats struct {
	TotalJobs        int `json:"total_jobs"`
	ActiveJobs       int `json:"active_jobs"`
	CompletedJobs    int `json:"completed_jobs"`
	FailedJobs       int `json:"failed_jobs"`
	TotalEmailsFound int `json:"total_emails_found"`
}

// LogEntry is one line of a job's activity log.
type LogEntry struct {
	Timestamp int64          `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// RecentEmail is one entry of a running job's discovery preview.
type RecentEmail struct {
	Company   string   `json:"company"`
	Domain    string   `json:"domain"`
	Emails    []string `json:"emails"`
	Timestamp int64    `json:"timestamp"`
}
