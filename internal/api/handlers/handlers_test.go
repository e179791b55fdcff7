package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-bot/internal/domain"
	"github.com/dvloznov/expense-bot/internal/jobs"
	"github.com/dvloznov/expense-bot/internal/pipeline"
	"github.com/dvloznov/expense-bot/internal/taxonomy"
)

type fakeRunner struct {
	ProcessFunc func(ctx context.Context, text string) (*pipeline.Result, error)
}

func (f *fakeRunner) Process(ctx context.Context, text string) (*pipeline.Result, error) {
	return f.ProcessFunc(ctx, text)
}

type fakePublisher struct {
	PublishFunc func(ctx context.Context, job *jobs.RecordMessageJob) error
}

func (f *fakePublisher) PublishRecordMessage(ctx context.Context, job *jobs.RecordMessageJob) error {
	return f.PublishFunc(ctx, job)
}

func (f *fakePublisher) Close() error { return nil }

type fakeStore struct {
	GetJobFunc           func(ctx context.Context, jobID string) (*jobs.RecordMessageJob, error)
	FindByDeliveryIDFunc func(ctx context.Context, deliveryID string) (*jobs.RecordMessageJob, error)
}

func (f *fakeStore) SaveJob(ctx context.Context, job *jobs.RecordMessageJob) error { return nil }

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (*jobs.RecordMessageJob, error) {
	return f.GetJobFunc(ctx, jobID)
}

func (f *fakeStore) FindByDeliveryID(ctx context.Context, deliveryID string) (*jobs.RecordMessageJob, error) {
	return f.FindByDeliveryIDFunc(ctx, deliveryID)
}

func (f *fakeStore) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.RecordMessageJob, error) {
	return nil, nil
}

type fakeSource struct {
	FetchFunc   func(ctx context.Context) (domain.Taxonomy, error)
	invalidated int
}

func (f *fakeSource) Fetch(ctx context.Context) (domain.Taxonomy, error) {
	return f.FetchFunc(ctx)
}

func (f *fakeSource) Invalidate() { f.invalidated++ }

func testHandler() (*ExpenseHandler, *fakeRunner, *fakePublisher, *fakeStore, *fakeSource) {
	runner := &fakeRunner{ProcessFunc: func(ctx context.Context, text string) (*pipeline.Result, error) {
		return &pipeline.Result{
			RunID: "run-1",
			Record: &domain.ValidatedRecord{
				Description: "caffè al bar",
				Amount:      1.20,
				Currency:    "EUR",
				Account:     "Hype",
				Date:        civil.Date{Year: 2026, Month: 8, Day: 24},
				Fingerprint: "fp-123",
			},
			URL:     "https://www.notion.so/page",
			Created: true,
		}, nil
	}}
	publisher := &fakePublisher{PublishFunc: func(ctx context.Context, job *jobs.RecordMessageJob) error {
		job.JobID = "job-1"
		job.Status = jobs.JobStatusPending
		return nil
	}}
	store := &fakeStore{
		GetJobFunc: func(ctx context.Context, jobID string) (*jobs.RecordMessageJob, error) {
			return nil, errors.New("job not found")
		},
		FindByDeliveryIDFunc: func(ctx context.Context, deliveryID string) (*jobs.RecordMessageJob, error) {
			return nil, nil
		},
	}
	source := &fakeSource{FetchFunc: func(ctx context.Context) (domain.Taxonomy, error) {
		return domain.Taxonomy{
			Accounts:          []string{"Hype"},
			OutcomeCategories: []string{"Eating Out and Takeway"},
			IncomeCategories:  []string{"Salary"},
		}, nil
	}}
	h := NewExpenseHandler(runner, publisher, store, source, zerolog.Nop())
	return h, runner, publisher, store, source
}

func serve(h *ExpenseHandler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSubmitMessage_Accepted(t *testing.T) {
	h, _, _, _, _ := testHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/messages",
		strings.NewReader(`{"text": "caffè 1,20 con Hype"}`))
	rec := serve(h, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["job_id"] != "job-1" || resp["status"] != string(jobs.JobStatusPending) {
		t.Errorf("response = %v", resp)
	}
}

func TestSubmitMessage_BadRequests(t *testing.T) {
	h, _, _, _, _ := testHandler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing text", `{}`},
		{"blank text", `{"text": "   "}`},
		{"oversized text", `{"text": "` + strings.Repeat("a", maxMessageLength+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(tt.body))
			if rec := serve(h, req); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSubmitMessage_DuplicateDelivery(t *testing.T) {
	h, _, publisher, store, _ := testHandler()

	published := 0
	publisher.PublishFunc = func(ctx context.Context, job *jobs.RecordMessageJob) error {
		published++
		return nil
	}
	store.FindByDeliveryIDFunc = func(ctx context.Context, deliveryID string) (*jobs.RecordMessageJob, error) {
		if deliveryID != "tg-42" {
			t.Errorf("looked up delivery %q", deliveryID)
		}
		return &jobs.RecordMessageJob{JobID: "job-original", Status: jobs.JobStatusCompleted}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/messages",
		strings.NewReader(`{"text": "caffè 1,20 con Hype", "delivery_id": "tg-42"}`))
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for duplicate delivery", rec.Code)
	}
	if published != 0 {
		t.Error("duplicate delivery was re-enqueued")
	}
	var job jobs.RecordMessageJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if job.JobID != "job-original" {
		t.Errorf("returned job %q, want the original", job.JobID)
	}
}

func TestGetJob(t *testing.T) {
	h, _, _, store, _ := testHandler()
	store.GetJobFunc = func(ctx context.Context, jobID string) (*jobs.RecordMessageJob, error) {
		if jobID != "job-1" {
			return nil, errors.New("job not found")
		}
		return &jobs.RecordMessageJob{JobID: "job-1", Status: jobs.JobStatusCompleted}, nil
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown job", rec.Code)
	}
}

func TestCreateRecord_Created(t *testing.T) {
	h, _, _, _, _ := testHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/records",
		strings.NewReader(`{"text": "ho preso un caffè al bar 1,20€ con Hype ieri"}`))
	rec := serve(h, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var res pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if res.Record == nil || res.Record.Fingerprint != "fp-123" {
		t.Errorf("result = %+v", res)
	}
}

func TestCreateRecord_ExistingRecordReturns200(t *testing.T) {
	h, runner, _, _, _ := testHandler()
	base := runner.ProcessFunc
	runner.ProcessFunc = func(ctx context.Context, text string) (*pipeline.Result, error) {
		res, _ := base(ctx, text)
		res.Created = false
		return res, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/records",
		strings.NewReader(`{"text": "caffè 1,20 con Hype"}`))
	if rec := serve(h, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for an already-stored record", rec.Code)
	}
}

func TestCreateRecord_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid amount", &pipeline.InvalidAmountError{Raw: "dodici euro"}, http.StatusUnprocessableEntity},
		{"unknown account", &pipeline.UnknownAccountError{Account: "Revolut"}, http.StatusUnprocessableEntity},
		{"taxonomy unavailable", &taxonomy.UnavailableError{Reason: "remote down"}, http.StatusServiceUnavailable},
		{"oracle failure", errors.New("model overloaded"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, runner, _, _, _ := testHandler()
			runner.ProcessFunc = func(ctx context.Context, text string) (*pipeline.Result, error) {
				return nil, tt.err
			}

			req := httptest.NewRequest(http.MethodPost, "/api/records",
				strings.NewReader(`{"text": "qualcosa"}`))
			if rec := serve(h, req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetTaxonomy(t *testing.T) {
	h, _, _, _, _ := testHandler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/taxonomy", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var tax domain.Taxonomy
	if err := json.Unmarshal(rec.Body.Bytes(), &tax); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(tax.Accounts) != 1 || tax.Accounts[0] != "Hype" {
		t.Errorf("taxonomy = %+v", tax)
	}
}

func TestGetTaxonomy_Unavailable(t *testing.T) {
	h, _, _, _, source := testHandler()
	source.FetchFunc = func(ctx context.Context) (domain.Taxonomy, error) {
		return domain.Taxonomy{}, &taxonomy.UnavailableError{Reason: "empty relation"}
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/taxonomy", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRefreshTaxonomy(t *testing.T) {
	h, _, _, _, source := testHandler()

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/taxonomy/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if source.invalidated != 1 {
		t.Errorf("Invalidate called %d times, want 1", source.invalidated)
	}
}

func TestHealth(t *testing.T) {
	h, _, _, _, _ := testHandler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
