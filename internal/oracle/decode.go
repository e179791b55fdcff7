package oracle

import (
	"encoding/json"
	"strings"

	"github.com/dvloznov/expense-bot/internal/domain"
)

// decodeCandidate turns the raw model text into a candidate record. Fields
// with the wrong type degrade to zero values and an undecodable body yields
// an empty candidate, which downstream validation rejects for its missing
// amount. Decode problems are record rejections, not transport failures.
func decodeCandidate(raw string) domain.CandidateRecord {
	dec := json.NewDecoder(strings.NewReader(cleanModelJSON(raw)))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return domain.CandidateRecord{}
	}

	cand := domain.CandidateRecord{
		Description:       stringField(payload, "description"),
		AmountRaw:         amountField(payload["amount"]),
		Currency:          stringField(payload, "currency"),
		Account:           stringField(payload, "account"),
		Date:              stringField(payload, "date"),
		OutcomeCategories: listField(payload["outcome_categories"]),
		IncomeCategories:  listField(payload["income_categories"]),
	}
	if n := strings.TrimSpace(stringField(payload, "notes")); n != "" {
		cand.Notes = &n
	}
	return cand
}

// cleanModelJSON strips Markdown fences and surrounding chatter when the
// model ignores the JSON-only instruction, keeping the outermost object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// amountField keeps the amount as the literal text the model produced. The
// validator owns number parsing; re-encoding through float64 here would
// destroy the evidence when the model answers with prose.
func amountField(v any) string {
	switch n := v.(type) {
	case json.Number:
		return n.String()
	case string:
		return n
	default:
		return ""
	}
}

// listField accepts a JSON string array, a single string, or a comma-joined
// string, all of which models produce for the category fields.
func listField(v any) []string {
	switch items := v.(type) {
	case []any:
		var out []string
		for _, it := range items {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(items, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
