package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/expense-bot/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It stores jobs in memory and is safe for concurrent use.
// Data is lost on service restart - for persistence, use a database-backed store.
type Store struct {
	mu         sync.RWMutex
	jobs       map[string]*jobs.RecordMessageJob
	byDelivery map[string]string
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs:       make(map[string]*jobs.RecordMessageJob),
		byDelivery: make(map[string]string),
	}
}

// SaveJob saves or updates a job, indexing it by delivery ID when present.
func (s *Store) SaveJob(ctx context.Context, job *jobs.RecordMessageJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Create a copy to avoid external modifications
	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	if job.DeliveryID != "" {
		s.byDelivery[job.DeliveryID] = job.JobID
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.RecordMessageJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// FindByDeliveryID retrieves the job recorded for a transport delivery.
// Returns nil without error when the delivery has never been seen.
func (s *Store) FindByDeliveryID(ctx context.Context, deliveryID string) (*jobs.RecordMessageJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, exists := s.byDelivery[deliveryID]
	if !exists {
		return nil, nil
	}
	job, exists := s.jobs[jobID]
	if !exists {
		return nil, nil
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs retrieves jobs with optional filtering.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.RecordMessageJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.RecordMessageJob
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobCopy := *job
		result = append(result, &jobCopy)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.RecordMessageJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
