package jobs

import (
	"context"
	"errors"

	"github.com/dvloznov/expense-bot/internal/pipeline"
)

// Runner is the pipeline surface the handler needs.
type Runner interface {
	Process(ctx context.Context, text string) (*pipeline.Result, error)
}

// NewRecordMessageHandler adapts the pipeline into a job handler. Validation
// rejections come back as PermanentError so the queue never retries them;
// everything else stays retryable.
func NewRecordMessageHandler(runner Runner) JobHandler {
	return func(ctx context.Context, job *RecordMessageJob) error {
		res, err := runner.Process(ctx, job.Text)
		if err != nil {
			var invalidAmount *pipeline.InvalidAmountError
			var unknownAccount *pipeline.UnknownAccountError
			if errors.As(err, &invalidAmount) || errors.As(err, &unknownAccount) {
				return &PermanentError{Err: err}
			}
			return err
		}

		job.RunID = res.RunID
		job.Fingerprint = res.Record.Fingerprint
		job.RecordURL = res.URL
		job.Created = res.Created
		return nil
	}
}
