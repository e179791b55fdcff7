package notion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/expense-bot/internal/domain"
	"github.com/dvloznov/expense-bot/internal/logger"
	"github.com/dvloznov/expense-bot/internal/pipeline"
)

// UpsertRecord stores a validated record keyed on its fingerprint: an
// existing page with the same fingerprint is updated in place, otherwise a
// new page is created. Redelivered submissions therefore land on one page.
func (g *Gateway) UpsertRecord(ctx context.Context, rec *domain.ValidatedRecord) (pipeline.PersistResult, error) {
	log := logger.FromContext(ctx)

	props, err := g.recordProperties(ctx, rec)
	if err != nil {
		return pipeline.PersistResult{}, err
	}

	existingID, err := g.findByFingerprint(ctx, rec.Fingerprint)
	if err != nil {
		return pipeline.PersistResult{}, err
	}

	if existingID != "" {
		page, err := g.svc.UpdatePage(ctx, existingID, props)
		if err != nil {
			return pipeline.PersistResult{}, fmt.Errorf("notion: updating page: %w", err)
		}
		log.Info().
			Str("page_id", string(page.ID)).
			Str("fingerprint", rec.Fingerprint).
			Msg("Updated Notion page")
		return pipeline.PersistResult{URL: pageURL(page), Created: false}, nil
	}

	page, err := g.svc.CreatePage(ctx, g.dbID, props)
	if err != nil {
		return pipeline.PersistResult{}, fmt.Errorf("notion: creating page: %w", err)
	}
	log.Info().
		Str("page_id", string(page.ID)).
		Str("fingerprint", rec.Fingerprint).
		Msg("Created Notion page")
	return pipeline.PersistResult{URL: pageURL(page), Created: true}, nil
}

// findByFingerprint looks up the page holding the given fingerprint, if any.
func (g *Gateway) findByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	resp, err := g.svc.QueryDatabase(ctx, g.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propFingerprint,
			RichText: &notionapi.TextFilterCondition{Equals: fingerprint},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", fmt.Errorf("notion: fingerprint lookup: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

// recordProperties maps a validated record to the Notion property payload,
// resolving taxonomy names to relation page references.
func (g *Gateway) recordProperties(ctx context.Context, rec *domain.ValidatedRecord) (notionapi.Properties, error) {
	accountRefs, err := g.relationRefs(ctx, propAccount, []string{rec.Account})
	if err != nil {
		return nil, err
	}
	outcomeRefs, err := g.relationRefs(ctx, propOutcome, rec.OutcomeCategories)
	if err != nil {
		return nil, err
	}
	incomeRefs, err := g.relationRefs(ctx, propIncome, rec.IncomeCategories)
	if err != nil {
		return nil, err
	}

	props := baseRecordProperties(rec)
	props[propAccount] = notionapi.RelationProperty{Relation: accountRefs}
	if len(outcomeRefs) > 0 {
		props[propOutcome] = notionapi.RelationProperty{Relation: outcomeRefs}
	}
	if len(incomeRefs) > 0 {
		props[propIncome] = notionapi.RelationProperty{Relation: incomeRefs}
	}
	return props, nil
}

// baseRecordProperties builds the non-relation properties of a record page.
func baseRecordProperties(rec *domain.ValidatedRecord) notionapi.Properties {
	name := rec.Description
	if name == "" {
		name = "Transaction"
	}

	start := notionapi.Date(time.Date(
		rec.Date.Year,
		rec.Date.Month,
		rec.Date.Day,
		0, 0, 0, 0, time.UTC,
	))

	props := notionapi.Properties{
		propName: notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{Content: name},
				},
			},
		},
		propAmount: notionapi.NumberProperty{
			Number: rec.Amount,
		},
		propDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &start},
		},
		propFingerprint: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{Content: rec.Fingerprint},
				},
			},
		},
	}

	if rec.Notes != nil && *rec.Notes != "" {
		props[propNotes] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{Content: *rec.Notes},
				},
			},
		}
	}
	return props
}

// pageURL prefers the URL Notion reports, falling back to the canonical form
// derived from the page ID.
func pageURL(page *notionapi.Page) string {
	if page.URL != "" {
		return page.URL
	}
	return "https://www.notion.so/" + strings.ReplaceAll(string(page.ID), "-", "")
}
