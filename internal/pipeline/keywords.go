package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Lexical hint tables. Matching is substring-based on the accent-stripped,
// lowercased text, so "caffè" and "caffe" both hit.

// accountSynonyms maps common spellings to the official account names.
var accountSynonyms = map[string]string{
	"hype next": "Hype",
	"hype card": "Hype",
	"contante":  "Contanti",
	"cash":      "Contanti",
	"poste":     "Poste Italiane",
}

// categorySynonyms maps model shorthand to official outcome category names.
var categorySynonyms = map[string]string{
	"other":     "Other Outcome",
	"altro":     "Other Outcome",
	"donation":  "Gifts & Donations",
	"donazione": "Gifts & Donations",
}

const eatingOutCategory = "Eating Out and Takeway"

var eatingOutHints = []string{
	"caffe", "espresso", "cappuccino", "cornetto", "brioche", "bar",
	"colazione", "pranzo", "cena", "pizzeria", "ristorante", "aperitivo",
}

type keywordRule struct {
	keywords []string
	category string
}

var outcomeRules = []keywordRule{
	{[]string{"videogioco", "videogame", "gaming", "steam", "epic games", "gog",
		"playstation store", "ps store", "nintendo eshop", "xbox", "game pass"}, "Fun"},
	{[]string{"supermercato", "spesa", "esselunga"}, "Supermarket"},
	{[]string{"benzina", "carburante"}, "Benzina"},
	{[]string{"parrucchiere", "barbiere", "taglio", "barber"}, "Barbiere"},
	{[]string{"palestra"}, "Palestra"},
	{[]string{"farmacia", "medicina", "medicinale"}, "Salute"},
	{[]string{"spotify", "netflix", "abbonamento", "subscription"}, "Subscriptions"},
	{[]string{"taxi", "treno", "aereo", "metro"}, "Travel"},
	{[]string{"cambio olio", "carrozzeria", "assicurazione auto", "meccanico"}, "Car"},
	{[]string{"regalo", "donazione", "donation"}, "Gifts & Donations"},
}

var incomeRules = []keywordRule{
	{[]string{"stipendio", "salary"}, "Salary"},
	{[]string{"regalo", "gift"}, "Gifts"},
	{[]string{"prelievo"}, "Prelievo"},
	{[]string{"rimborso", "refund"}, "Refund"},
	{[]string{"risparmio"}, "Risparmio"},
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldText lowercases and strips diacritics for hint matching.
func foldText(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// inferOutcome returns the first outcome category the text's wording hints at,
// restricted to categories present in allowed.
func inferOutcome(text string, allowed map[string]string) (string, bool) {
	folded := foldText(text)
	for _, hint := range eatingOutHints {
		if strings.Contains(folded, hint) {
			if official, ok := allowed[strings.ToLower(eatingOutCategory)]; ok {
				return official, true
			}
		}
	}
	for _, rule := range outcomeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(folded, kw) {
				if official, ok := allowed[strings.ToLower(rule.category)]; ok {
					return official, true
				}
			}
		}
	}
	return "", false
}

// inferIncome returns the first income category the text's wording hints at,
// restricted to categories present in allowed.
func inferIncome(text string, allowed map[string]string) (string, bool) {
	folded := foldText(text)
	for _, rule := range incomeRules {
		for _, kw := range rule.keywords {
			if !strings.Contains(folded, kw) {
				continue
			}
			if official, ok := allowed[strings.ToLower(rule.category)]; ok {
				return official, true
			}
		}
	}
	return "", false
}
