package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// pragmas are applied on open. journal_mode is WAL so the flush goroutine
// never blocks readers of /v1/extractions.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

const schema = `
CREATE TABLE IF NOT EXISTS extractions (
	id          TEXT PRIMARY KEY,
	created_at  INTEGER NOT NULL,
	source      TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	http_status INTEGER NOT NULL DEFAULT 200,
	message     TEXT NOT NULL DEFAULT '',
	units       INTEGER NOT NULL DEFAULT 0,
	bytes       INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	trace_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_extractions_created ON extractions(created_at);
CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status, created_at);
`

// openDB opens the SQLite file at path (parent directories are created),
// applies the pragmas and the schema.
func openDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := initDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func initDB(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("journal: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("journal: schema: %w", err)
	}
	return nil
}

// isBusy reports whether err is an SQLite BUSY/locked condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

const maxRetries = 3

// retry runs fn up to three times while it fails with a busy error,
// backing off 100/200 ms.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for i := range maxRetries {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("journal: context cancelled during retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return err
}
