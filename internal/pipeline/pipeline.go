package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/expense-bot/internal/domain"
	"github.com/dvloznov/expense-bot/internal/logger"
	"github.com/dvloznov/expense-bot/internal/taxonomy"
	"github.com/google/uuid"
)

// ExtractionOracle is the external natural-language extraction service. Its
// output carries no guarantees beyond "best effort": the pipeline never
// trusts it past the validator.
type ExtractionOracle interface {
	Extract(ctx context.Context, text string, tax domain.Taxonomy, ref time.Time) (domain.CandidateRecord, error)
}

// PersistResult reports what the upsert did.
type PersistResult struct {
	// URL points at the stored record in the remote store.
	URL string
	// Created is false when the fingerprint already existed and the write
	// updated the prior record in place.
	Created bool
}

// PersistenceGateway commits a validated record through an idempotent upsert
// keyed on the record's fingerprint. Calling it twice with the same record
// must store exactly one copy.
type PersistenceGateway interface {
	UpsertRecord(ctx context.Context, rec *domain.ValidatedRecord) (PersistResult, error)
}

// Archiver mirrors persisted records into an analytics store. Mirror failures
// never fail the run.
type Archiver interface {
	ArchiveRecord(ctx context.Context, runID string, rec *domain.ValidatedRecord) error
	ArchiveRun(ctx context.Context, run *ExtractionRun) error
}

// ExtractionRun is the observability trail of one pipeline invocation.
type ExtractionRun struct {
	RunID     string
	InputText string
	Model     string
	Status    string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Run statuses recorded for the mirror.
const (
	RunStatusSuccess  = "SUCCESS"
	RunStatusRejected = "REJECTED"
	RunStatusFailed   = "FAILED"
)

// Result is what one successful pipeline run hands back to the transport.
type Result struct {
	RunID   string                  `json:"run_id"`
	Record  *domain.ValidatedRecord `json:"record"`
	URL     string                  `json:"url,omitempty"`
	Created bool                    `json:"created"`
}

// Pipeline composes taxonomy fetch, oracle extraction, validation and
// persistence into one sequential request/response computation. Instances are
// safe for concurrent use; each Process call is independent.
type Pipeline struct {
	source    taxonomy.Source
	oracle    ExtractionOracle
	store     PersistenceGateway
	validator *Validator
	archive   Archiver // optional
	model     string
	now       func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithArchiver attaches the optional analytics mirror.
func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) { p.archive = a }
}

// WithModelName records the oracle model name on extraction runs.
func WithModelName(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithClock overrides the reference-instant source. Tests use this to pin
// relative-date resolution.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New assembles a pipeline.
func New(source taxonomy.Source, oracle ExtractionOracle, store PersistenceGateway, validator *Validator, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    source,
		oracle:    oracle,
		store:     store,
		validator: validator,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one input through the full pipeline: fetch taxonomy (fail
// fast, no retry here), one oracle call, validate/repair, idempotent upsert.
// Validation failures stop the run before the persistence step; no partial
// writes ever occur.
func (p *Pipeline) Process(ctx context.Context, text string) (*Result, error) {
	log := logger.FromContext(ctx)
	ref := p.now()
	runID := uuid.NewString()
	started := time.Now()

	fail := func(status string, err error) (*Result, error) {
		p.recordRun(ctx, &ExtractionRun{
			RunID:     runID,
			InputText: text,
			Model:     p.model,
			Status:    status,
			Error:     err.Error(),
			StartedAt: started,
			Duration:  time.Since(started),
		})
		return nil, err
	}

	tax, err := p.source.Fetch(ctx)
	if err != nil {
		return fail(RunStatusFailed, fmt.Errorf("pipeline: fetching taxonomy: %w", err))
	}
	if !tax.IsComplete() {
		return fail(RunStatusFailed, &taxonomy.UnavailableError{Reason: "taxonomy has an empty relation"})
	}

	candidate, err := p.oracle.Extract(ctx, text, tax, ref)
	if err != nil {
		return fail(RunStatusFailed, fmt.Errorf("pipeline: oracle: %w", err))
	}

	rec, err := p.validator.Validate(candidate, tax, text, ref)
	if err != nil {
		// Per-record rejection, not an operator fault: surfaced to the
		// caller, never persisted.
		log.Info().Err(err).Str("run_id", runID).Msg("Record rejected by validation")
		return fail(RunStatusRejected, err)
	}

	persisted, err := p.store.UpsertRecord(ctx, rec)
	if err != nil {
		return fail(RunStatusFailed, fmt.Errorf("pipeline: persisting record: %w", err))
	}

	log.Info().
		Str("run_id", runID).
		Str("fingerprint", rec.Fingerprint).
		Str("account", rec.Account).
		Str("direction", rec.Direction()).
		Bool("created", persisted.Created).
		Msg("Record persisted")

	p.recordRun(ctx, &ExtractionRun{
		RunID:     runID,
		InputText: text,
		Model:     p.model,
		Status:    RunStatusSuccess,
		StartedAt: started,
		Duration:  time.Since(started),
	})
	if p.archive != nil {
		if err := p.archive.ArchiveRecord(ctx, runID, rec); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("Analytics mirror write failed")
		}
	}

	return &Result{RunID: runID, Record: rec, URL: persisted.URL, Created: persisted.Created}, nil
}

func (p *Pipeline) recordRun(ctx context.Context, run *ExtractionRun) {
	if p.archive == nil {
		return
	}
	if err := p.archive.ArchiveRun(ctx, run); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", run.RunID).Msg("Extraction run mirror write failed")
	}
}
