// Package indexer walks the configured relational databases and writes one embedded
// description per table into the vector index.
package indexer

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"nlquery/internal/common/database"
	"nlquery/internal/common/logger"
	"nlquery/internal/vectorindex"
)

// Catalog lists the tables and columns of one database.
type Catalog interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]string, error)
	Close() error
}

// Opener connects to a database by URL.
type Opener func(ctx context.Context, dbURL string) (Catalog, error)

// OpenSQL is the Opener backed by database/sql.
func OpenSQL(ctx context.Context, dbURL string) (Catalog, error) {
	client, err := database.OpenSQL(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

type DocumentIndex interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, doc vectorindex.Document) error
}

// Report summarizes one indexing run.
type Report struct {
	Databases int      `json:"databases"`
	Tables    int      `json:"tables"`
	Skipped   []string `json:"skipped"`
}

type Indexer struct {
	open     Opener
	embedder DocumentEmbedder
	index    DocumentIndex
	logger   logger.Logger
}

func New(open Opener, embedder DocumentEmbedder, index DocumentIndex, log logger.Logger) *Indexer {
	if open == nil {
		open = OpenSQL
	}
	return &Indexer{
		open:     open,
		embedder: embedder,
		index:    index,
		logger:   logger.Component(log, "indexer"),
	}
}

// Run indexes every database in dbURLs. A database that cannot be reached or read is logged
// and listed in Report.Skipped; only a failure to prepare the index aborts the run.
func (ix *Indexer) Run(ctx context.Context, dbURLs []string) (*Report, error) {
	if err := ix.index.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("prepare vector index: %w", err)
	}

	report := &Report{Skipped: []string{}}
	for _, dbURL := range dbURLs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		n, err := ix.indexDatabase(ctx, dbURL)
		report.Tables += n
		if err != nil {
			ix.logger.Error("skipping database", map[string]interface{}{
				"db":     database.RedactURL(dbURL),
				"tables": n,
				"error":  err.Error(),
			})
			report.Skipped = append(report.Skipped, database.RedactURL(dbURL))
			continue
		}
		report.Databases++
	}

	ix.logger.Info("catalog indexed", map[string]interface{}{
		"databases": report.Databases,
		"tables":    report.Tables,
		"skipped":   len(report.Skipped),
	})
	return report, nil
}

func (ix *Indexer) indexDatabase(ctx context.Context, dbURL string) (int, error) {
	catalog, err := ix.open(ctx, dbURL)
	if err != nil {
		return 0, err
	}
	defer catalog.Close()

	tables, err := catalog.Tables(ctx)
	if err != nil {
		return 0, err
	}

	dbName := DatabaseName(dbURL)
	indexed := 0
	for _, table := range tables {
		columns, err := catalog.Columns(ctx, table)
		if err != nil {
			return indexed, fmt.Errorf("columns of %s: %w", table, err)
		}

		doc := Describe(dbURL, dbName, table, columns)
		vector, err := ix.embedder.EmbedDocument(ctx, doc.Content)
		if err != nil {
			return indexed, fmt.Errorf("embed %s: %w", table, err)
		}
		doc.Embedding = vector

		if err := ix.index.Upsert(ctx, doc); err != nil {
			return indexed, fmt.Errorf("index %s: %w", table, err)
		}
		indexed++
		ix.logger.Debug("table indexed", map[string]interface{}{
			"db":      dbName,
			"table":   table,
			"columns": len(columns),
		})
	}
	return indexed, nil
}

// Describe builds the catalog document for one table. The embedded text is the content line.
func Describe(dbURL, dbName, table string, columns []string) vectorindex.Document {
	if columns == nil {
		columns = []string{}
	}
	cols := strings.Join(columns, ", ")
	description := fmt.Sprintf("Table '%s' in database '%s' contains columns: %s.", table, dbName, cols)
	return vectorindex.Document{
		TableName:   table,
		Columns:     columns,
		DBName:      dbName,
		DBURL:       dbURL,
		Description: description,
		Content:     fmt.Sprintf("%s (%s): %s", table, cols, description),
	}
}

// DatabaseName is the first label of the host for network databases and the file name
// without extension for SQLite files.
func DatabaseName(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err == nil && u.Hostname() != "" {
		return strings.SplitN(u.Hostname(), ".", 2)[0]
	}

	_, dsn, derr := database.DriverFor(dbURL)
	if derr != nil {
		dsn = dbURL
	}
	dsn = strings.SplitN(strings.TrimPrefix(dsn, "file:"), "?", 2)[0]
	base := path.Base(dsn)
	return strings.TrimSuffix(base, path.Ext(base))
}
