// Package notion persists expense records into a Notion database and reads
// the account and category taxonomy out of its relation databases.
package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
)

// Service is the slice of the Notion API the gateway needs. Tests substitute
// a fake; production uses Client.
type Service interface {
	GetDatabase(ctx context.Context, databaseID string) (*notionapi.Database, error)
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
}

// Client is the concrete Service backed by the official Notion SDK.
type Client struct {
	client *notionapi.Client
}

// NewClient creates a Client with the provided API token.
func NewClient(token string) *Client {
	return &Client{
		client: notionapi.NewClient(notionapi.Token(token)),
	}
}

// GetDatabase retrieves a database definition, including its property schema.
func (n *Client) GetDatabase(ctx context.Context, databaseID string) (*notionapi.Database, error) {
	db, err := n.client.Database.Get(ctx, notionapi.DatabaseID(databaseID))
	if err != nil {
		return nil, fmt.Errorf("GetDatabase: %w", err)
	}
	return db, nil
}

// QueryDatabase queries a Notion database with the given filter.
func (n *Client) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

// CreatePage creates a new page in a Notion database with the given properties.
func (n *Client) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	page, err := n.client.Page.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// UpdatePage updates an existing Notion page with the given properties.
func (n *Client) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageUpdateRequest{
		Properties: properties,
	}

	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}
	return page, nil
}
