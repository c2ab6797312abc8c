// internal/common/database/sql.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "nlquery/internal/common/errors"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names registered by the imported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLClient wraps one relational database addressed by URL.
type SQLClient struct {
	DB     *sql.DB
	Driver string
	URL    string
}

// DriverFor maps a database URL onto a registered driver and the DSN it expects.
func DriverFor(dbURL string) (driver, dsn string, err error) {
	lower := strings.ToLower(dbURL)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres, dbURL, nil
	case strings.HasPrefix(lower, "sqlite://"):
		return DriverSQLite, dbURL[len("sqlite://"):], nil
	case strings.HasPrefix(lower, "sqlite:"):
		return DriverSQLite, dbURL[len("sqlite:"):], nil
	case strings.HasPrefix(lower, "file:"):
		return DriverSQLite, dbURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database url scheme in %q", RedactURL(dbURL))
	}
}

// OpenSQL opens and pings the database at dbURL. Failures wrap ErrConnection.
func OpenSQL(ctx context.Context, dbURL string) (*SQLClient, error) {
	driver, dsn, err := DriverFor(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperrors.ErrConnection, driver, err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", apperrors.ErrConnection, driver, err)
	}

	return &SQLClient{DB: db, Driver: driver, URL: dbURL}, nil
}

// NewSQLClient wraps an already open handle, e.g. one created by sqlmock.
func NewSQLClient(db *sql.DB, driver, dbURL string) *SQLClient {
	return &SQLClient{DB: db, Driver: driver, URL: dbURL}
}

// Ping tests the database connection
func (c *SQLClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *SQLClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Tables lists user tables, skipping the system schemas. Postgres tables outside the public
// schema are returned as schema.table.
func (c *SQLClient) Tables(ctx context.Context) ([]string, error) {
	var query string
	switch c.Driver {
	case DriverPostgres:
		query = `SELECT CASE WHEN schemaname = 'public' THEN tablename ELSE schemaname || '.' || tablename END
			FROM pg_catalog.pg_tables
			WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
			ORDER BY schemaname, tablename`
	case DriverSQLite:
		query = `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY name`
	default:
		return nil, fmt.Errorf("list tables: unsupported driver %q", c.Driver)
	}
	return c.strings(ctx, query)
}

// Columns lists the column names of table in declaration order. For postgres, table is a name
// as returned by Tables: bare for the public schema, schema.table otherwise.
func (c *SQLClient) Columns(ctx context.Context, table string) ([]string, error) {
	switch c.Driver {
	case DriverPostgres:
		schema, name := SplitTableName(table)
		return c.strings(ctx, `SELECT column_name FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2
			ORDER BY ordinal_position`, schema, name)
	case DriverSQLite:
		return c.strings(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	default:
		return nil, fmt.Errorf("list columns: unsupported driver %q", c.Driver)
	}
}

// SplitTableName splits schema.table; a bare name belongs to the public schema.
func SplitTableName(table string) (schema, name string) {
	if i := strings.Index(table, "."); i > 0 && i < len(table)-1 {
		return table[:i], table[i+1:]
	}
	return "public", table
}

func (c *SQLClient) strings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// QueryJSON runs query and renders every row as a JSON object keyed by column name.
func (c *SQLClient) QueryJSON(ctx context.Context, query string) (string, error) {
	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("render rows: %w", err)
	}
	return string(encoded), nil
}

// RedactURL hides the password of a connection URL for logs and error messages.
func RedactURL(dbURL string) string {
	at := strings.LastIndex(dbURL, "@")
	scheme := strings.Index(dbURL, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dbURL
	}
	userinfo := dbURL[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		return dbURL[:scheme+3] + userinfo[:colon] + ":***" + dbURL[at:]
	}
	return dbURL
}
