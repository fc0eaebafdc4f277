package metering

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open picks a Meter backend from a database URL:
//
//	""                        in-memory
//	postgres://… postgresql://…  PostgreSQL (lib/pq)
//	sqlite:<path>             SQLite (modernc), e.g. sqlite:usage.db or sqlite::memory:
//
// The returned Closer releases the underlying connection pool.
func Open(ctx context.Context, databaseURL string) (Meter, io.Closer, error) {
	switch {
	case databaseURL == "":
		return NewMemoryMeter(), nopCloser{}, nil

	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("metering: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("metering: ping postgres: %w", err)
		}
		m := NewPostgresMeter(db)
		if err := m.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("metering: init postgres: %w", err)
		}
		return m, db, nil

	case strings.HasPrefix(databaseURL, "sqlite:"):
		db, err := sql.Open("sqlite", strings.TrimPrefix(databaseURL, "sqlite:"))
		if err != nil {
			return nil, nil, fmt.Errorf("metering: open sqlite: %w", err)
		}
		// One writer; avoids SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
		m, err := NewSQLiteMeter(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return m, db, nil

	default:
		return nil, nil, fmt.Errorf("metering: unsupported database url scheme in %q", redact(databaseURL))
	}
}

func redact(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i+3] + "…"
	}
	if i := strings.Index(u, ":"); i >= 0 {
		return u[:i+1] + "…"
	}
	return "…"
}
