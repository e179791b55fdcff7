// Package archive mirrors persisted expense records and extraction runs into
// BigQuery for analytics. Notion stays the source of truth; everything here
// is derived data and safe to rebuild.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-bot/internal/domain"
	"github.com/dvloznov/expense-bot/internal/pipeline"
)

const (
	recordsTable = "expense_records"
	runsTable    = "extraction_runs"
)

// Ledger is a pipeline.Archiver backed by a BigQuery dataset.
type Ledger struct {
	client  *bigquery.Client
	project string
	dataset string
}

// New creates a Ledger against the given project and dataset. Credentials
// come from the environment.
func New(ctx context.Context, project, dataset string) (*Ledger, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("archive: bigquery client: %w", err)
	}
	return &Ledger{client: client, project: project, dataset: dataset}, nil
}

// Close releases the underlying client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func (l *Ledger) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", l.project, l.dataset, name)
}

// RecordRow is the BigQuery shape of a mirrored expense record.
type RecordRow struct {
	Fingerprint string              `bigquery:"fingerprint"`
	RunID       string              `bigquery:"run_id"`
	Description string              `bigquery:"description"`
	Amount      float64             `bigquery:"amount"`
	Currency    string              `bigquery:"currency"`
	Account     string              `bigquery:"account"`
	RecordDate  civil.Date          `bigquery:"record_date"`
	Direction   string              `bigquery:"direction"`
	Categories  []string            `bigquery:"categories"`
	Notes       bigquery.NullString `bigquery:"notes"`
	UpdatedTS   time.Time           `bigquery:"updated_ts"`
}

// rowFromRecord maps a validated record to its mirror row.
func rowFromRecord(runID string, rec *domain.ValidatedRecord, now time.Time) *RecordRow {
	row := &RecordRow{
		Fingerprint: rec.Fingerprint,
		RunID:       runID,
		Description: rec.Description,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		Account:     rec.Account,
		RecordDate:  rec.Date,
		Direction:   rec.Direction(),
		Categories:  rec.Categories(),
		UpdatedTS:   now.UTC(),
	}
	if rec.Notes != nil {
		row.Notes = bigquery.NullString{StringVal: *rec.Notes, Valid: true}
	}
	return row
}

// ArchiveRecord upserts the record's mirror row, keyed on the fingerprint so
// replays overwrite instead of duplicating. Mirrors the idempotency contract
// of the primary store.
func (l *Ledger) ArchiveRecord(ctx context.Context, runID string, rec *domain.ValidatedRecord) error {
	row := rowFromRecord(runID, rec, time.Now())

	q := l.client.Query(fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @fingerprint AS fingerprint) s
		ON t.fingerprint = s.fingerprint
		WHEN MATCHED THEN UPDATE SET
			run_id = @run_id,
			description = @description,
			amount = @amount,
			currency = @currency,
			account = @account,
			record_date = @record_date,
			direction = @direction,
			categories = @categories,
			notes = @notes,
			updated_ts = @updated_ts
		WHEN NOT MATCHED THEN INSERT
			(fingerprint, run_id, description, amount, currency, account,
			 record_date, direction, categories, notes, updated_ts)
		VALUES
			(@fingerprint, @run_id, @description, @amount, @currency, @account,
			 @record_date, @direction, @categories, @notes, @updated_ts)
	`, l.table(recordsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "fingerprint", Value: row.Fingerprint},
		{Name: "run_id", Value: row.RunID},
		{Name: "description", Value: row.Description},
		{Name: "amount", Value: row.Amount},
		{Name: "currency", Value: row.Currency},
		{Name: "account", Value: row.Account},
		{Name: "record_date", Value: row.RecordDate},
		{Name: "direction", Value: row.Direction},
		{Name: "categories", Value: row.Categories},
		{Name: "notes", Value: row.Notes},
		{Name: "updated_ts", Value: row.UpdatedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("ArchiveRecord: running merge: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("ArchiveRecord: waiting for merge: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("ArchiveRecord: merge failed: %w", err)
	}
	return nil
}

// RunRow is the BigQuery shape of one extraction run.
type RunRow struct {
	RunID      string              `bigquery:"run_id"`
	InputText  string              `bigquery:"input_text"`
	Model      string              `bigquery:"model"`
	Status     string              `bigquery:"status"`
	Error      bigquery.NullString `bigquery:"error"`
	StartedTS  time.Time           `bigquery:"started_ts"`
	DurationMS int64               `bigquery:"duration_ms"`
}

func rowFromRun(run *pipeline.ExtractionRun) *RunRow {
	row := &RunRow{
		RunID:      run.RunID,
		InputText:  run.InputText,
		Model:      run.Model,
		Status:     run.Status,
		StartedTS:  run.StartedAt.UTC(),
		DurationMS: run.Duration.Milliseconds(),
	}
	if run.Error != "" {
		row.Error = bigquery.NullString{StringVal: run.Error, Valid: true}
	}
	return row
}

// ArchiveRun appends one extraction run. Runs are append-only observability
// data, so a plain streaming insert is enough.
func (l *Ledger) ArchiveRun(ctx context.Context, run *pipeline.ExtractionRun) error {
	table := l.client.DatasetInProject(l.project, l.dataset).Table(runsTable)
	if err := table.Inserter().Put(ctx, rowFromRun(run)); err != nil {
		return fmt.Errorf("ArchiveRun: inserting row: %w", err)
	}
	return nil
}

// QueryRecordsByDateRange returns mirrored records within the inclusive date
// range, ordered by date.
func (l *Ledger) QueryRecordsByDateRange(ctx context.Context, start, end civil.Date) ([]*RecordRow, error) {
	q := l.client.Query(fmt.Sprintf(`
		SELECT
			fingerprint, run_id, description, amount, currency, account,
			record_date, direction, categories, notes, updated_ts
		FROM %s
		WHERE record_date >= @start_date
		  AND record_date <= @end_date
		ORDER BY record_date, updated_ts
	`, l.table(recordsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: start},
		{Name: "end_date", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryRecordsByDateRange: query read: %w", err)
	}

	var rows []*RecordRow
	for {
		var r RecordRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryRecordsByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
