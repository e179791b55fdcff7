package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/expense-bot/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.RecordMessageJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last state: %+v", jobID, want, job)
	return nil
}

func TestQueue_CompletesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	handler := func(ctx context.Context, job *jobs.RecordMessageJob) error {
		job.Fingerprint = "fp-123"
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job := &jobs.RecordMessageJob{Text: "caffè 1,20 con Hype"}
	if err := q.PublishRecordMessage(context.Background(), job); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("publish did not assign a job ID")
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.Fingerprint != "fp-123" {
		t.Errorf("handler mutations not persisted: %+v", done)
	}
	if done.Error != "" {
		t.Errorf("completed job carries error %q", done.Error)
	}
}

func TestQueue_PermanentErrorNotRetried(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var calls atomic.Int32
	handler := func(ctx context.Context, job *jobs.RecordMessageJob) error {
		calls.Add(1)
		return &jobs.PermanentError{Err: errors.New(`invalid amount: "dodici euro"`)}
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job := &jobs.RecordMessageJob{Text: "caffè dodici euro con Hype"}
	if err := q.PublishRecordMessage(context.Background(), job); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	rejected := waitForStatus(t, store, job.JobID, jobs.JobStatusRejected)
	if rejected.Error == "" {
		t.Error("rejected job carries no error detail")
	}

	// Give a would-be retry time to fire.
	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want exactly 1", n)
	}
}

func TestQueue_TransientErrorRetriesThenCompletes(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var calls atomic.Int32
	handler := func(ctx context.Context, job *jobs.RecordMessageJob) error {
		if calls.Add(1) == 1 {
			return errors.New("notion 502")
		}
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job := &jobs.RecordMessageJob{Text: "caffè 1,20 con Hype"}
	if err := q.PublishRecordMessage(context.Background(), job); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", done.RetryCount)
	}
	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2", calls.Load())
	}
}

func TestQueue_PublishAfterCloseFails(t *testing.T) {
	q := NewQueue(1, 1, NewStore())
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.PublishRecordMessage(context.Background(), &jobs.RecordMessageJob{Text: "x"}); err == nil {
		t.Fatal("publish on closed queue succeeded")
	}
}

func TestStore_FindByDeliveryID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := &jobs.RecordMessageJob{
		JobID:      "job-1",
		DeliveryID: "tg-42",
		Text:       "caffè 1,20 con Hype",
		Status:     jobs.JobStatusPending,
	}
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	found, err := store.FindByDeliveryID(ctx, "tg-42")
	if err != nil {
		t.Fatalf("FindByDeliveryID failed: %v", err)
	}
	if found == nil || found.JobID != "job-1" {
		t.Errorf("found = %+v, want job-1", found)
	}

	missing, err := store.FindByDeliveryID(ctx, "tg-unknown")
	if err != nil {
		t.Fatalf("FindByDeliveryID failed: %v", err)
	}
	if missing != nil {
		t.Errorf("unknown delivery returned %+v", missing)
	}
}

func TestStore_ListJobsFiltersByStatus(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for _, j := range []*jobs.RecordMessageJob{
		{JobID: "a", Status: jobs.JobStatusCompleted},
		{JobID: "b", Status: jobs.JobStatusFailed},
		{JobID: "c", Status: jobs.JobStatusCompleted},
	} {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}

	completed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("completed jobs = %d, want 2", len(completed))
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := &jobs.RecordMessageJob{JobID: "job-1", Status: jobs.JobStatusPending}
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	got.Status = jobs.JobStatusFailed

	again, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if again.Status != jobs.JobStatusPending {
		t.Error("mutating a returned job leaked into the store")
	}
}
