package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/coverfinder/internal/resolver"
)

// Database and table names used for exported results.
const (
	ResultsDatabase = "coverfinder"
	ResultsTable    = "cover_results"
)

// ResultsSchema is the SQLite schema of ResultsTable.
const ResultsSchema = `CREATE TABLE IF NOT EXISTS cover_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_index INTEGER NOT NULL,
	title TEXT NOT NULL,
	author TEXT,
	isbn TEXT,
	success INTEGER NOT NULL,
	image_url TEXT,
	confidence INTEGER,
	source TEXT,
	search_method TEXT,
	from_cache INTEGER,
	error TEXT,
	resolved_at TEXT NOT NULL
)`

// resultRow is one exported result; columns follow ResultsSchema.
type resultRow struct {
	BatchIndex   int
	Title        string
	Author       string
	ISBN         string
	Success      bool
	ImageURL     string
	Confidence   int
	Source       string
	SearchMethod string
	FromCache    bool
	Error        string
	ResolvedAt   time.Time
}

// ResultRecords flattens batch results into table rows.
func ResultRecords(results []resolver.BatchResult, now time.Time) []map[string]any {
	records := make([]map[string]any, 0, len(results))
	for _, r := range results {
		records = append(records, StructToMap(resultRow{
			BatchIndex:   r.Index,
			Title:        r.Query.Title,
			Author:       r.Query.Author,
			ISBN:         r.Query.ISBN,
			Success:      r.Result.Success,
			ImageURL:     r.Result.ImageURL,
			Confidence:   r.Result.Confidence,
			Source:       r.Result.Source,
			SearchMethod: r.Result.StrategyUsed,
			FromCache:    r.FromCache,
			Error:        r.Error,
			ResolvedAt:   now,
		}))
	}
	return records
}

// ExportResults writes results to s, creating the table first.
func ExportResults(s Store, results []resolver.BatchResult) error {
	if err := s.Connect(); err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.CreateTable(ResultsSchema); err != nil {
		return err
	}
	if err := s.BatchInsert(ResultsDatabase, ResultsTable, ResultRecords(results, time.Now())); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	slog.Info("Exported batch results", "table", ResultsTable, "rows", len(results))
	return nil
}
