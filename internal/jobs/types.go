// Package jobs defines the asynchronous unit of work of the service: turning
// one submitted message into a stored expense record.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRecordMessage represents an expense message extraction job.
	JobTypeRecordMessage JobType = "record_message"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the record was validated and persisted.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusRejected indicates validation refused the record. Rejections
	// are terminal: retrying the same text cannot change the outcome.
	JobStatusRejected JobStatus = "rejected"
	// JobStatusFailed indicates the job failed after exhausting retries.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates a transient failure scheduled for retry.
	JobStatusRetrying JobStatus = "retrying"
)

// RecordMessageJob carries one free-form message through extraction and
// persistence.
type RecordMessageJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// DeliveryID is the transport's delivery identifier, when it has one.
	// Resubmissions with the same DeliveryID reuse the original job instead
	// of spawning a second one.
	DeliveryID string `json:"delivery_id,omitempty"`

	// Text is the raw message to extract a record from.
	Text string `json:"text"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains failure or rejection details.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`

	// RunID, Fingerprint, RecordURL and Created describe the outcome of a
	// completed job.
	RunID       string `json:"run_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	RecordURL   string `json:"record_url,omitempty"`
	Created     bool   `json:"created,omitempty"`
}

// GetID returns the unique job identifier.
func (j *RecordMessageJob) GetID() string {
	return j.JobID
}

// GetType returns the job type.
func (j *RecordMessageJob) GetType() JobType {
	return JobTypeRecordMessage
}

// GetStatus returns the current job status.
func (j *RecordMessageJob) GetStatus() JobStatus {
	return j.Status
}

// PermanentError marks a handler failure that must not be retried. The queue
// parks the job as rejected instead of re-enqueueing it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishRecordMessage publishes a record-message job.
	PublishRecordMessage(ctx context.Context, job *RecordMessageJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A plain error is treated as transient and
// retried; a PermanentError parks the job as rejected.
type JobHandler func(ctx context.Context, job *RecordMessageJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *RecordMessageJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*RecordMessageJob, error)

	// FindByDeliveryID retrieves the job created for a transport delivery,
	// or nil when none exists.
	FindByDeliveryID(ctx context.Context, deliveryID string) (*RecordMessageJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*RecordMessageJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
