package notion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/expense-bot/internal/domain"
	"github.com/dvloznov/expense-bot/internal/taxonomy"
)

const pageSize = 100

// Gateway reads the taxonomy out of the relation databases and writes expense
// pages into the main database. It implements taxonomy.Source and
// pipeline.PersistenceGateway.
type Gateway struct {
	svc  Service
	dbID string

	mu     sync.Mutex
	schema *schemaInfo
	// pageIDs maps relation property name to title to the page carrying that
	// title in the relation database. Refreshed on every taxonomy fetch and
	// reused to build relation references on writes.
	pageIDs map[string]map[string]notionapi.PageID
}

// NewGateway wires a gateway against one expense database.
func NewGateway(svc Service, databaseID string) *Gateway {
	return &Gateway{
		svc:     svc,
		dbID:    databaseID,
		pageIDs: make(map[string]map[string]notionapi.PageID),
	}
}

// Fetch reads the live taxonomy: the page titles of the Account, Outcome and
// Income relation databases, deduplicated with order preserved.
func (g *Gateway) Fetch(ctx context.Context) (domain.Taxonomy, error) {
	accounts, err := g.listRelation(ctx, propAccount)
	if err != nil {
		return domain.Taxonomy{}, err
	}
	outcome, err := g.listRelation(ctx, propOutcome)
	if err != nil {
		return domain.Taxonomy{}, err
	}
	income, err := g.listRelation(ctx, propIncome)
	if err != nil {
		return domain.Taxonomy{}, err
	}

	return domain.Taxonomy{
		Accounts:          accounts,
		OutcomeCategories: outcome,
		IncomeCategories:  income,
	}, nil
}

// listRelation pages through the relation database behind prop, collecting
// titles and caching each title's page ID for later relation writes. Remote
// read failures come back as taxonomy.UnavailableError: without the relation
// lists there is no valid taxonomy to validate against.
func (g *Gateway) listRelation(ctx context.Context, prop string) ([]string, error) {
	schema, err := g.loadSchema(ctx)
	if err != nil {
		return nil, &taxonomy.UnavailableError{Reason: "reading database schema", Err: err}
	}
	relDB := schema.relationDBs[prop]

	var titles []string
	ids := make(map[string]notionapi.PageID)
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := g.svc.QueryDatabase(ctx, relDB, req)
		if err != nil {
			return nil, &taxonomy.UnavailableError{
				Reason: fmt.Sprintf("listing %s relation", strings.ToLower(prop)),
				Err:    err,
			}
		}

		for _, page := range resp.Results {
			name := extractTitle(page)
			if name == "" {
				continue
			}
			if _, seen := ids[name]; seen {
				continue
			}
			ids[name] = notionapi.PageID(page.ID)
			titles = append(titles, name)
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	g.mu.Lock()
	g.pageIDs[prop] = ids
	g.mu.Unlock()
	return titles, nil
}

// relationRefs resolves taxonomy names to relation references using the
// cached title map, re-listing the relation database once when a name is not
// cached yet.
func (g *Gateway) relationRefs(ctx context.Context, prop string, names []string) ([]notionapi.Relation, error) {
	if len(names) == 0 {
		return nil, nil
	}

	g.mu.Lock()
	ids := g.pageIDs[prop]
	g.mu.Unlock()

	stale := ids == nil
	for _, n := range names {
		if _, ok := ids[n]; !ok {
			stale = true
			break
		}
	}
	if stale {
		if _, err := g.listRelation(ctx, prop); err != nil {
			return nil, err
		}
		g.mu.Lock()
		ids = g.pageIDs[prop]
		g.mu.Unlock()
	}

	refs := make([]notionapi.Relation, 0, len(names))
	for _, n := range names {
		id, ok := ids[n]
		if !ok {
			return nil, fmt.Errorf("notion: no page titled %q in the %s relation database", n, strings.ToLower(prop))
		}
		refs = append(refs, notionapi.Relation{ID: id})
	}
	return refs, nil
}

// extractTitle concatenates the plain text of the page's Name title property.
func extractTitle(page notionapi.Page) string {
	prop, ok := page.Properties[propName]
	if !ok {
		return ""
	}
	title, ok := prop.(*notionapi.TitleProperty)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, rt := range title.Title {
		b.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(b.String())
}
