package domain

import (
	"cloud.google.com/go/civil"
)

// Taxonomy holds the runtime-loaded allow-lists of valid accounts and
// categories. It is fetched from the remote store at the start of each
// pipeline run and treated as an immutable snapshot afterwards.
type Taxonomy struct {
	Accounts          []string
	OutcomeCategories []string
	IncomeCategories  []string
}

// IsComplete reports whether all three sets are non-empty. An incomplete
// taxonomy is a configuration fault, not a per-record error.
func (t Taxonomy) IsComplete() bool {
	return len(t.Accounts) > 0 && len(t.OutcomeCategories) > 0 && len(t.IncomeCategories) > 0
}

// CandidateRecord is the oracle's best-effort guess at a transaction.
// Nothing in here is trusted: fields may be missing, mistyped, or outside
// the taxonomy. The validator is the only component that turns this into
// something persistable.
type CandidateRecord struct {
	Description string
	// AmountRaw is the amount exactly as the oracle produced it. JSON numbers
	// are reformatted to their shortest decimal text; strings ("1,20",
	// "dodici euro") pass through verbatim. Empty means absent.
	AmountRaw string
	Currency  string
	Account   string
	// Date is the oracle's date string, usually YYYY-MM-DD but not guaranteed.
	Date string

	OutcomeCategories []string
	IncomeCategories  []string

	Notes *string
}

// ValidatedRecord is a record with every invariant proven: parseable
// non-negative amount at two decimals, taxonomy-member account and categories,
// exactly one populated direction, resolved calendar date. Created once per
// pipeline run and immutable thereafter.
type ValidatedRecord struct {
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency"`
	Account     string     `json:"account"`
	Date        civil.Date `json:"date"`

	OutcomeCategories []string `json:"outcome_categories,omitempty"`
	IncomeCategories  []string `json:"income_categories,omitempty"`

	Notes *string `json:"notes,omitempty"`

	// Fingerprint is the deterministic upsert key derived from the normalized
	// fields above.
	Fingerprint string `json:"fingerprint"`
}

// Directions a validated record can have.
const (
	DirectionOutcome = "outcome"
	DirectionIncome  = "income"
)

// Direction returns which side of the ledger the record lands on.
func (r *ValidatedRecord) Direction() string {
	if len(r.IncomeCategories) > 0 {
		return DirectionIncome
	}
	return DirectionOutcome
}

// Categories returns the populated category list, whichever direction it is.
func (r *ValidatedRecord) Categories() []string {
	if len(r.IncomeCategories) > 0 {
		return r.IncomeCategories
	}
	return r.OutcomeCategories
}
