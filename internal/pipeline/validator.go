package pipeline

import (
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-bot/internal/domain"
)

// ConflictPreference decides the direction when the oracle populates both
// category arrays and the text gives no hint either way.
type ConflictPreference string

const (
	// PreferOutcome keeps the first declared field (outcome) and discards
	// income. This is the default.
	PreferOutcome ConflictPreference = "outcome"
	// PreferIncome keeps income and discards outcome.
	PreferIncome ConflictPreference = "income"
)

// ValidatorOptions configures the repair rules.
type ValidatorOptions struct {
	// CatchAllCategory is the default outflow category applied when no other
	// category fits. Defaults to "Other Outcome".
	CatchAllCategory string
	// Conflict is the tie-break when both directions are populated and the
	// text is ambiguous. Defaults to PreferOutcome.
	Conflict ConflictPreference
	// Location is the civil timezone for date resolution. Defaults to
	// Europe/Rome.
	Location *time.Location
}

// Validator enforces the record invariants against a taxonomy snapshot,
// applying deterministic fallback and repair rules. It is the single boundary
// the oracle's untrusted output passes through; nothing downstream re-checks.
type Validator struct {
	catchAll string
	conflict ConflictPreference
	resolver DateResolver
}

// NewValidator builds a validator, filling in defaults for zero options.
func NewValidator(opts ValidatorOptions) *Validator {
	if opts.CatchAllCategory == "" {
		opts.CatchAllCategory = "Other Outcome"
	}
	if opts.Conflict == "" {
		opts.Conflict = PreferOutcome
	}
	if opts.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
		opts.Location = loc
	}
	return &Validator{
		catchAll: opts.CatchAllCategory,
		conflict: opts.Conflict,
		resolver: NewDateResolver(opts.Location),
	}
}

// Validate repairs candidate against tax and proves every invariant, or fails
// with InvalidAmountError / UnknownAccountError. Everything else degrades to
// defaults: missing description, unknown categories, ambiguous direction and
// odd dates are never surfaced as errors.
func (v *Validator) Validate(candidate domain.CandidateRecord, tax domain.Taxonomy, originalText string, ref time.Time) (*domain.ValidatedRecord, error) {
	// 1. description
	description := strings.TrimSpace(candidate.Description)
	if description == "" {
		description = strings.TrimSpace(originalText)
	}

	// 2. amount (the one hard failure besides the account)
	amount, err := parseAmount(candidate.AmountRaw)
	if err != nil || amount < 0 {
		return nil, &InvalidAmountError{Raw: strings.TrimSpace(candidate.AmountRaw), OriginalText: originalText}
	}

	// 3. currency
	currency := resolveCurrency(candidate.Currency, originalText)

	// 4. account
	account, ok := resolveAccount(candidate.Account, tax.Accounts)
	if !ok {
		return nil, &UnknownAccountError{Account: strings.TrimSpace(candidate.Account)}
	}

	// 5+6. categories and direction
	hintText := originalText
	if strings.TrimSpace(hintText) == "" {
		hintText = description
	}
	outcomeCanon := canonMap(tax.OutcomeCategories)
	incomeCanon := canonMap(tax.IncomeCategories)
	outcome := canonList(candidate.OutcomeCategories, outcomeCanon, categorySynonyms)
	income := canonList(candidate.IncomeCategories, incomeCanon, nil)
	outcome, income = v.resolveDirection(hintText, outcome, income, outcomeCanon, incomeCanon)

	// 7. date
	date := v.resolveDate(originalText, candidate.Date, ref)

	// 8. notes
	var notes *string
	if candidate.Notes != nil {
		if n := strings.TrimSpace(*candidate.Notes); n != "" {
			notes = &n
		}
	}

	rec := &domain.ValidatedRecord{
		Description:       description,
		Amount:            amount,
		Currency:          currency,
		Account:           account,
		Date:              date,
		OutcomeCategories: outcome,
		IncomeCategories:  income,
		Notes:             notes,
	}
	rec.Fingerprint = Fingerprint(rec.Description, rec.Amount, rec.Currency, rec.Account, rec.Date)
	return rec, nil
}

// parseAmount accepts both "," and "." as the fractional separator and
// tolerates a euro sign or currency word glued to the number. The result is
// rounded half-up to two decimals.
func parseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "€")
	s = strings.TrimPrefix(s, "€")
	if u := strings.ToUpper(s); strings.HasSuffix(u, " EUR") {
		s = strings.TrimSpace(s[:len(s)-4])
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, strconv.ErrSyntax
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		// "1.234,56" vs "1,234.56": whichever separator comes last is the
		// decimal one, the other is a thousands separator.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		s = strings.Replace(s, ",", ".", 1)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrRange
	}
	return math.Round(f*100) / 100, nil
}

// currencyMentions maps alternative currency codes to the tokens a user would
// write to mean them. A non-EUR code from the oracle is honored only when one
// of these tokens actually appears in the source text.
var currencyMentions = map[string][]string{
	"USD": {"usd", "$", "dollari", "dollaro", "dollar"},
	"GBP": {"gbp", "£", "sterline", "sterlina", "pound"},
	"CHF": {"chf", "franchi", "franco svizzero"},
}

func resolveCurrency(raw, text string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" || code == "EUR" {
		return "EUR"
	}

	folded := foldText(text)
	tokens := currencyMentions[code]
	tokens = append(tokens, strings.ToLower(code))
	for _, tok := range tokens {
		if strings.Contains(folded, tok) {
			return code
		}
	}
	return "EUR"
}

// resolveAccount tries, in order: exact match, synonym alias, case-insensitive
// match. Anything else is unresolvable.
func resolveAccount(raw string, accounts []string) (string, bool) {
	acc := strings.TrimSpace(raw)
	if acc == "" {
		return "", false
	}

	canon := canonMap(accounts)
	for _, a := range accounts {
		if a == acc {
			return a, true
		}
	}
	if alias, ok := accountSynonyms[strings.ToLower(acc)]; ok {
		if official, ok := canon[strings.ToLower(alias)]; ok {
			return official, true
		}
	}
	if official, ok := canon[strings.ToLower(acc)]; ok {
		return official, true
	}
	return "", false
}

// canonMap maps the lowercase form of each allowed name to its official
// spelling.
func canonMap(allowed []string) map[string]string {
	m := make(map[string]string, len(allowed))
	for _, a := range allowed {
		m[strings.ToLower(a)] = a
	}
	return m
}

// canonList canonicalizes a category list against its taxonomy set: synonyms
// mapped, official spelling restored case-insensitively, unknown names
// dropped, duplicates removed with order preserved.
func canonList(items []string, canon map[string]string, synonyms map[string]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, it := range items {
		name := strings.TrimSpace(it)
		if name == "" {
			continue
		}
		if alias, ok := synonyms[strings.ToLower(name)]; ok {
			name = alias
		}
		official, ok := canon[strings.ToLower(name)]
		if !ok {
			continue
		}
		if !seen[official] {
			seen[official] = true
			out = append(out, official)
		}
	}
	return out
}

// resolveDirection enforces the mutual-exclusivity invariant: exactly one of
// the two lists is non-empty on return.
func (v *Validator) resolveDirection(text string, outcome, income []string, outcomeCanon, incomeCanon map[string]string) ([]string, []string) {
	hasOut, hasInc := len(outcome) > 0, len(income) > 0

	switch {
	case hasOut && !hasInc:
		return outcome, nil
	case hasInc && !hasOut:
		return nil, income
	case hasOut && hasInc:
		// Contradiction. The wording decides when it can; otherwise the
		// configured preference does.
		if _, ok := inferIncome(text, incomeCanon); ok {
			return nil, income
		}
		if _, ok := inferOutcome(text, outcomeCanon); ok {
			return outcome, nil
		}
		if v.conflict == PreferIncome {
			return nil, income
		}
		return outcome, nil
	}

	// Neither side populated: lexical hints first, then the catch-all. The
	// catch-all is configuration, not oracle output, so it skips the taxonomy
	// membership check.
	if cat, ok := inferOutcome(text, outcomeCanon); ok {
		return []string{cat}, nil
	}
	if cat, ok := inferIncome(text, incomeCanon); ok {
		return nil, []string{cat}
	}
	return []string{v.catchAll}, nil
}

// resolveDate prefers a cue in the original text, then a plausible oracle
// date, then today. Implausible oracle dates (more than 3 days ahead or a
// year back) degrade instead of failing: date problems are not rejections.
func (v *Validator) resolveDate(originalText, oracleDate string, ref time.Time) civil.Date {
	today := v.resolver.Today(ref)

	if d, ok := v.resolver.ResolveCue(originalText, ref); ok {
		return d
	}
	if strings.TrimSpace(oracleDate) != "" {
		if d, ok := v.resolver.ResolveCue(oracleDate, ref); ok && plausibleDate(d, today) {
			return d
		}
	}
	return today
}

func plausibleDate(d, today civil.Date) bool {
	diff := d.DaysSince(today)
	return diff <= 3 && diff >= -366
}
