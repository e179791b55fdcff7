package oracle

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-bot/internal/domain"
)

// systemPrompt instructs the model in Italian, embedding the live taxonomy
// allow-lists so the model picks from real names instead of inventing them.
// The validator still re-checks everything; the lists here only raise the hit
// rate.
func systemPrompt(tax domain.Taxonomy, tzName string) string {
	var b strings.Builder
	b.WriteString("Sei un estrattore di transazioni. L'utente scrive frasi in italiano ")
	b.WriteString("come 'ho comprato un caffè 1,20€ con Hype ieri'.\n")
	b.WriteString("Devi restituire SOLO JSON conforme allo schema fornito.\n")
	b.WriteString("Regole:\n")
	b.WriteString("- 'amount' in EUR come numero con punto decimale (1.20).\n")
	fmt.Fprintf(&b, "- 'date' normalizzata in formato YYYY-MM-DD usando il fuso %s.\n", tzName)
	fmt.Fprintf(&b, "- 'account' ∈ %s.\n", promptList(tax.Accounts))
	b.WriteString("- Se è una spesa: scegli SOLO tra queste categorie Outcome:\n")
	fmt.Fprintf(&b, "  %s.\n", promptList(tax.OutcomeCategories))
	b.WriteString("- Se è un'entrata: scegli SOLO tra queste categorie Income:\n")
	fmt.Fprintf(&b, "  %s.\n", promptList(tax.IncomeCategories))
	b.WriteString("- Non inventare categorie nuove.\n")
	b.WriteString("Schema dell'oggetto JSON:\n")
	b.WriteString(`{"description": string, "amount": number, "currency": "EUR", ` +
		`"account": string, "date": "YYYY-MM-DD", ` +
		`"outcome_categories": [string] | null, "income_categories": [string] | null, ` +
		`"notes": string | null}` + "\n")
	return b.String()
}

// userPrompt anchors the model on the civil date of the reference instant so
// relative expressions resolve against the right "today".
func userPrompt(text string, ref time.Time, loc *time.Location) string {
	today := civil.DateOf(ref.In(loc))
	return fmt.Sprintf("Oggi è %s. Testo: %s", today, text)
}

func promptList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
