package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeSyncPatient pushes one patient and its pending ledger entries to
	// the external platform.
	JobTypeSyncPatient JobType = "sync_patient"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// SyncPatientJob asks for one patient to be synced. The body is kept minimal:
// the worker reloads everything it needs from the store.
type SyncPatientJob struct {
	JobID     string `json:"job_id"`
	ClinicID  int64  `json:"clinic_id"`
	PatientID int64  `json:"patient_id"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	// Route records how the job was executed: "queue", "stream" or
	// "fallback".
	Route string `json:"route,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Type returns the job type.
func (j *SyncPatientJob) Type() JobType {
	return JobTypeSyncPatient
}

// Publisher publishes jobs to a queue.
type Publisher interface {
	PublishSyncPatient(ctx context.Context, job *SyncPatientJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer consumes jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs. The handler is called for each job.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job for retry.
type JobHandler func(ctx context.Context, job *SyncPatientJob) error

// JobStore stores job status for inspection.
type JobStore interface {
	SaveJob(ctx context.Context, job *SyncPatientJob) error
	GetJob(ctx context.Context, jobID string) (*SyncPatientJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*SyncPatientJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	ClinicID  int64
	PatientID int64
	Status    JobStatus
	Limit     int
	Offset    int
}
