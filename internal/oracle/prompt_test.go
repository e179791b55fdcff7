package oracle

import (
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/expense-bot/internal/domain"
)

func TestSystemPrompt_EmbedsTaxonomy(t *testing.T) {
	tax := domain.Taxonomy{
		Accounts:          []string{"Hype", "Contanti"},
		OutcomeCategories: []string{"Eating Out and Takeway", "Supermarket"},
		IncomeCategories:  []string{"Salary"},
	}

	prompt := systemPrompt(tax, "Europe/Rome")

	for _, want := range []string{
		`"Hype"`, `"Contanti"`,
		`"Eating Out and Takeway"`, `"Supermarket"`, `"Salary"`,
		"Europe/Rome",
		"SOLO JSON",
		"Non inventare categorie nuove",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestUserPrompt_AnchorsCivilDate(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Fatalf("loading Europe/Rome: %v", err)
	}

	// 22:30 UTC on the 24th is already the 25th in Rome.
	ref := time.Date(2026, 8, 24, 22, 30, 0, 0, time.UTC)

	got := userPrompt("caffè 1,20 con Hype", ref, loc)
	if !strings.HasPrefix(got, "Oggi è 2026-08-25. ") {
		t.Errorf("userPrompt = %q, want Rome-date anchor 2026-08-25", got)
	}
	if !strings.Contains(got, "Testo: caffè 1,20 con Hype") {
		t.Errorf("userPrompt = %q, missing original text", got)
	}
}
