package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoImport = errors.New("no imported database for city")

// WithDBName returns a DSN identical to the input but with the database path replaced.
// Supports postgres:// and postgresql:// schemes.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// ResolveLatestImportDBName returns the db_name with the most recent imported_at
// from public.latest_successful_imports where db_name ILIKE '%city%'.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", fmt.Errorf("city is required")
	}
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, city).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w like %q", ErrNoImport, city)
		}
		return "", fmt.Errorf("query latest import: %w", err)
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("%w like %q: empty db_name", ErrNoImport, city)
	}
	return dbName.String, nil
}

// Connect opens the schedule database. With a city set, the latest import for
// it is looked up through the cluster's postgres database first. It returns
// the open handle and the name of the database it points at.
func Connect(ctx context.Context, baseDSN, city string) (*sql.DB, string, error) {
	dsn := baseDSN
	name := ""
	if city != "" {
		rootDSN, err := WithDBName(baseDSN, "postgres")
		if err != nil {
			return nil, "", fmt.Errorf("invalid base DSN: %w", err)
		}
		meta, err := Open(rootDSN)
		if err != nil {
			return nil, "", fmt.Errorf("db open (meta): %w", err)
		}
		defer meta.Close()
		if err := Ping(ctx, meta); err != nil {
			return nil, "", fmt.Errorf("db ping (meta): %w", err)
		}
		if name, err = ResolveLatestImportDBName(ctx, meta, city); err != nil {
			return nil, "", err
		}
		if dsn, err = WithDBName(baseDSN, name); err != nil {
			return nil, "", fmt.Errorf("compose DSN: %w", err)
		}
	}

	conn, err := Open(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("db open: %w", err)
	}
	if err := Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("db ping: %w", err)
	}
	return conn, name, nil
}
