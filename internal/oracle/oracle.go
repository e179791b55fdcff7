// Package oracle calls the Gemini API to extract a transaction candidate from
// free-form Italian text. Its output is best effort and is always passed
// through validation before anything trusts it.
package oracle

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/dvloznov/expense-bot/internal/domain"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.5-flash"

const maxOutputTokens = 300

// Extractor is a pipeline.ExtractionOracle backed by Gemini.
type Extractor struct {
	client *genai.Client
	model  string
	loc    *time.Location
	tzName string
}

// New creates the Gemini client. Credentials come from the environment, same
// as the rest of the Google Cloud clients.
func New(ctx context.Context, model string, loc *time.Location) (*Extractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{client: client, model: model, loc: loc, tzName: loc.String()}, nil
}

// Extract runs one model call at temperature zero and decodes whatever comes
// back into a candidate record. Transport and API failures surface as errors;
// a malformed body does not, it just produces a candidate the validator will
// reject.
func (e *Extractor) Extract(ctx context.Context, text string, tax domain.Taxonomy, ref time.Time) (domain.CandidateRecord, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: userPrompt(text, ref, e.loc)},
			},
		},
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt(tax, e.tzName)}},
		},
		Temperature:      genai.Ptr[float32](0),
		MaxOutputTokens:  maxOutputTokens,
		ResponseMIMEType: "application/json",
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, cfg)
	if err != nil {
		return domain.CandidateRecord{}, fmt.Errorf("oracle: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return domain.CandidateRecord{}, fmt.Errorf("oracle: empty response from model %s", e.model)
	}
	return decodeCandidate(raw), nil
}
