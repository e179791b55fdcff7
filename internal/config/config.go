package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultModelName     = "gemini-2.5-flash"
	DefaultTimezone      = "Europe/Rome"
	DefaultCatchAll      = "Other Outcome"
	DefaultDataset       = "finance"
	DefaultPort          = "8080"
	DefaultTaxonomyTTL   = time.Minute
	DefaultConflictOrder = "outcome"
)

// Config carries everything the service reads from the environment.
// Secrets stay as plain strings here; nothing in this package logs them.
type Config struct {
	// Notion
	NotionToken string // NOTION_TOKEN
	NotionDBID  string // NOTION_DB_ID

	// Oracle
	ModelName string // GEMINI_MODEL

	// Validation
	Timezone           string         // TIMEZONE (IANA name)
	Location           *time.Location // resolved from Timezone
	CatchAllCategory   string         // CATCH_ALL_CATEGORY
	ConflictPreference string         // CONFLICT_PREFERENCE: "outcome" or "income"

	// Taxonomy cache
	TaxonomyCacheTTL time.Duration // TAXONOMY_CACHE_TTL, e.g. "30s"

	// Analytics mirror (optional; disabled when project is empty)
	BigQueryProject string // BIGQUERY_PROJECT
	BigQueryDataset string // BIGQUERY_DATASET

	// HTTP
	Port string // PORT
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		NotionToken:        os.Getenv("NOTION_TOKEN"),
		NotionDBID:         os.Getenv("NOTION_DB_ID"),
		ModelName:          getenv("GEMINI_MODEL", DefaultModelName),
		Timezone:           getenv("TIMEZONE", DefaultTimezone),
		CatchAllCategory:   getenv("CATCH_ALL_CATEGORY", DefaultCatchAll),
		ConflictPreference: strings.ToLower(getenv("CONFLICT_PREFERENCE", DefaultConflictOrder)),
		TaxonomyCacheTTL:   DefaultTaxonomyTTL,
		BigQueryProject:    os.Getenv("BIGQUERY_PROJECT"),
		BigQueryDataset:    getenv("BIGQUERY_DATASET", DefaultDataset),
		Port:               getenv("PORT", DefaultPort),
	}

	if cfg.NotionToken == "" {
		return nil, fmt.Errorf("config: NOTION_TOKEN is required")
	}
	if cfg.NotionDBID == "" {
		return nil, fmt.Errorf("config: NOTION_DB_ID is required")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid IANA timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.ConflictPreference != "outcome" && cfg.ConflictPreference != "income" {
		return nil, fmt.Errorf("config: CONFLICT_PREFERENCE must be \"outcome\" or \"income\", got %q", cfg.ConflictPreference)
	}

	if raw := os.Getenv("TAXONOMY_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TAXONOMY_CACHE_TTL %q: %w", raw, err)
		}
		cfg.TaxonomyCacheTTL = ttl
	}

	return cfg, nil
}

// MirrorEnabled reports whether the BigQuery analytics mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.BigQueryProject != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
