package notion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
)

// Property names on the expense database. The relation properties point at
// the databases the taxonomy is read from.
const (
	propName        = "Name"
	propAmount      = "Amount"
	propDate        = "Date"
	propAccount     = "Account"
	propOutcome     = "Outcome"
	propIncome      = "Income"
	propNotes       = "Notes"
	propFingerprint = "Fingerprint"
)

var relationProps = []string{propAccount, propOutcome, propIncome}

// SchemaError reports every mismatch between the configured database and the
// expected schema in one shot, so the operator fixes the database once.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "notion: database schema mismatch:\n - " + strings.Join(e.Problems, "\n - ")
}

// schemaInfo is the cached outcome of a database retrieve: the relation
// database behind each relation property.
type schemaInfo struct {
	relationDBs map[string]string
}

// VerifySchema retrieves the database definition and checks the property
// types the pipeline depends on. It is called at startup; a mismatch there is
// an operator configuration error, not something to discover on the first
// user message.
func (g *Gateway) VerifySchema(ctx context.Context) error {
	_, err := g.loadSchema(ctx)
	return err
}

func (g *Gateway) loadSchema(ctx context.Context) (*schemaInfo, error) {
	g.mu.Lock()
	if g.schema != nil {
		info := g.schema
		g.mu.Unlock()
		return info, nil
	}
	g.mu.Unlock()

	db, err := g.svc.GetDatabase(ctx, g.dbID)
	if err != nil {
		return nil, fmt.Errorf("notion: retrieving database: %w", err)
	}

	var problems []string
	requireType := func(name string, want notionapi.PropertyConfigType) {
		cfg, ok := db.Properties[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing property %q (expected %s)", name, want))
			return
		}
		if got := cfg.GetType(); got != want {
			problems = append(problems, fmt.Sprintf("property %q has type %q, expected %q", name, got, want))
		}
	}

	requireType(propName, notionapi.PropertyConfigTypeTitle)
	requireType(propAmount, notionapi.PropertyConfigTypeNumber)
	requireType(propDate, notionapi.PropertyConfigTypeDate)
	requireType(propFingerprint, notionapi.PropertyConfigTypeRichText)

	info := &schemaInfo{relationDBs: make(map[string]string, len(relationProps))}
	for _, name := range relationProps {
		cfg, ok := db.Properties[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing property %q (expected relation)", name))
			continue
		}
		rel, ok := cfg.(*notionapi.RelationPropertyConfig)
		if !ok {
			problems = append(problems, fmt.Sprintf("property %q has type %q, expected relation", name, cfg.GetType()))
			continue
		}
		dbID := string(rel.Relation.DatabaseID)
		if dbID == "" {
			problems = append(problems, fmt.Sprintf("relation %q carries no database_id", name))
			continue
		}
		info.relationDBs[name] = dbID
	}

	if len(problems) > 0 {
		return nil, &SchemaError{Problems: problems}
	}

	g.mu.Lock()
	g.schema = info
	g.mu.Unlock()
	return info, nil
}
