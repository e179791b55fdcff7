package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/expense-bot/internal/archive"
	"github.com/dvloznov/expense-bot/internal/config"
	"github.com/dvloznov/expense-bot/internal/logger"
	"github.com/dvloznov/expense-bot/internal/notion"
	"github.com/dvloznov/expense-bot/internal/oracle"
	"github.com/dvloznov/expense-bot/internal/pipeline"
	"github.com/dvloznov/expense-bot/internal/taxonomy"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	switch os.Args[1] {
	case "record":
		runRecord(ctx, cfg, os.Args[2:])
	case "taxonomy":
		runTaxonomy(ctx, cfg)
	case "verify-schema":
		runVerifySchema(ctx, cfg)
	case "export":
		runExport(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: expense-bot <command> [flags]

Commands:
  record        extract and store an expense record from a message
  taxonomy      print the live taxonomy
  verify-schema check the Notion database schema
  export        print mirrored records for a date range`)
}

func newGateway(ctx context.Context, cfg *config.Config) *notion.Gateway {
	return notion.NewGateway(notion.NewClient(cfg.NotionToken), cfg.NotionDBID)
}

// runRecord runs one message synchronously through the full pipeline and
// prints the stored record.
func runRecord(ctx context.Context, cfg *config.Config, args []string) {
	log := logger.FromContext(ctx)

	fs := flag.NewFlagSet("record", flag.ExitOnError)
	text := fs.String("text", "", "message to extract a record from (required)")
	fs.Parse(args)

	if strings.TrimSpace(*text) == "" {
		log.Fatal().Msg("-text is required")
	}

	gateway := newGateway(ctx, cfg)
	source := taxonomy.NewCachedSource(gateway, cfg.TaxonomyCacheTTL)

	extractor, err := oracle.New(ctx, cfg.ModelName, cfg.Location)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extraction oracle")
	}

	validator := pipeline.NewValidator(pipeline.ValidatorOptions{
		CatchAllCategory: cfg.CatchAllCategory,
		Conflict:         pipeline.ConflictPreference(cfg.ConflictPreference),
		Location:         cfg.Location,
	})

	p := pipeline.New(source, extractor, gateway, validator, pipeline.WithModelName(cfg.ModelName))

	res, err := p.Process(ctx, *text)
	if err != nil {
		log.Fatal().Err(err).Msg("Record not stored")
	}

	printJSON(res)
}

// runTaxonomy prints the live account and category lists.
func runTaxonomy(ctx context.Context, cfg *config.Config) {
	log := logger.FromContext(ctx)

	gateway := newGateway(ctx, cfg)
	tax, err := gateway.Fetch(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch taxonomy")
	}

	printJSON(tax)
}

// runVerifySchema checks the configured database against the expected schema.
func runVerifySchema(ctx context.Context, cfg *config.Config) {
	log := logger.FromContext(ctx)

	gateway := newGateway(ctx, cfg)
	if err := gateway.VerifySchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Schema verification failed")
	}

	fmt.Println("schema ok")
}

// runExport prints the mirrored records for a date range from BigQuery.
func runExport(ctx context.Context, cfg *config.Config, args []string) {
	log := logger.FromContext(ctx)

	fs := flag.NewFlagSet("export", flag.ExitOnError)
	start := fs.String("start", "", "start date, YYYY-MM-DD (required)")
	end := fs.String("end", "", "end date, YYYY-MM-DD (required)")
	fs.Parse(args)

	if !cfg.MirrorEnabled() {
		log.Fatal().Msg("BIGQUERY_PROJECT is not configured")
	}

	startDate, err := civil.ParseDate(*start)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -start date")
	}
	endDate, err := civil.ParseDate(*end)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -end date")
	}

	ledger, err := archive.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer ledger.Close()

	rows, err := ledger.QueryRecordsByDateRange(ctx, startDate, endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Export query failed")
	}

	printJSON(map[string]interface{}{
		"records": rows,
		"count":   len(rows),
	})
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
