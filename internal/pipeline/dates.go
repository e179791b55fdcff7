package pipeline

import (
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultTimezone is the civil timezone calendar days are resolved in.
// Day boundaries near midnight must match the user's locale, not the
// server's, so resolution never uses the process-local zone.
const DefaultTimezone = "Europe/Rome"

var isoDateRE = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

// relativeToken maps an Italian relative-date expression to a day offset.
// Longer tokens come first so "ieri" does not match inside "l'altro ieri".
var relativeTokens = []struct {
	re     *regexp.Regexp
	offset int
}{
	{regexp.MustCompile(`(?i)\bl'altro ieri\b`), -2},
	{regexp.MustCompile(`(?i)\bieri\b`), -1},
	{regexp.MustCompile(`(?i)\boggi\b`), 0},
}

// DateResolver turns relative Italian date expressions into absolute calendar
// dates in a fixed civil timezone. It is a pure function of (expression,
// reference instant).
type DateResolver struct {
	loc *time.Location
}

// NewDateResolver builds a resolver for the given zone.
func NewDateResolver(loc *time.Location) DateResolver {
	return DateResolver{loc: loc}
}

// Resolve resolves expr against the reference instant. Relative tokens win,
// then the first ISO date present in expr, then today in the resolver's zone.
func (r DateResolver) Resolve(expr string, ref time.Time) civil.Date {
	if d, ok := r.ResolveCue(expr, ref); ok {
		return d
	}
	return r.Today(ref)
}

// ResolveCue is Resolve minus the default: the boolean reports whether expr
// actually contained a date cue.
func (r DateResolver) ResolveCue(expr string, ref time.Time) (civil.Date, bool) {
	for _, tok := range relativeTokens {
		if tok.re.MatchString(expr) {
			return r.Today(ref).AddDays(tok.offset), true
		}
	}

	if m := isoDateRE.FindString(expr); m != "" {
		if d, err := civil.ParseDate(strings.TrimSpace(m)); err == nil && d.IsValid() {
			return d, true
		}
	}

	return civil.Date{}, false
}

// Today is the wall-clock date of ref in the resolver's zone.
func (r DateResolver) Today(ref time.Time) civil.Date {
	return civil.DateOf(ref.In(r.loc))
}
