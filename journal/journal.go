// CLAUDE:SUMMARY Asynchronous SQLite journal of extraction requests (source, outcome, size, duration) with recent-history queries and retention cleanup.
// Package journal records one entry per extraction request in SQLite.
//
// Writes are queued and flushed in batches by a background goroutine; a full
// queue falls back to a synchronous insert. Entries never hold extracted text.
//
// Usage:
//
//	j, err := journal.Open("data/journal.db")
//	defer j.Close()
//	j.Record(journal.Entry{Source: journal.SourceFile, Name: "a.pdf", Status: journal.StatusSuccess})
//	entries, err := j.Recent(ctx, journal.Filter{Limit: 20})
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Request sources.
const (
	SourceFile   = "file"
	SourceBase64 = "base64"
	SourceURL    = "url"
)

// Outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one extraction request.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Name       string    `json:"name"` // filename or URL
	Status     string    `json:"status"`
	HTTPStatus int       `json:"http_status"`
	Message    string    `json:"message,omitempty"`
	Units      int       `json:"units"`
	Bytes      int64     `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// Filter narrows Recent.
type Filter struct {
	Source string
	Status string
	Since  time.Time
	Limit  int // default 50, max 500
}

// Journal persists entries asynchronously.
type Journal struct {
	db     *sql.DB
	ownsDB bool
	logger *slog.Logger
	ch     chan Entry
	stop   chan struct{}
	done   chan struct{}

	batchSize     int
	flushInterval time.Duration
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithBuffer sets the queue capacity (default: 1000).
func WithBuffer(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.ch = make(chan Entry, n)
		}
	}
}

// WithFlushInterval sets how often queued entries are written (default: 5s).
func WithFlushInterval(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.flushInterval = d
		}
	}
}

// Open opens (creating if needed) the journal database at path. Close
// closes the database.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	j := newJournal(db, opts)
	j.ownsDB = true
	return j, nil
}

// New wraps an already open database, applying the pragmas and schema.
// The caller keeps ownership of db.
func New(db *sql.DB, opts ...Option) (*Journal, error) {
	if err := initDB(db); err != nil {
		return nil, err
	}
	return newJournal(db, opts), nil
}

func newJournal(db *sql.DB, opts []Option) *Journal {
	j := &Journal{
		db:            db,
		logger:        slog.Default(),
		ch:            make(chan Entry, 1000),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		batchSize:     100,
		flushInterval: 5 * time.Second,
	}
	for _, o := range opts {
		o(j)
	}
	go j.flushLoop()
	return j
}

// Record queues e. ID and Timestamp are filled when empty.
func (j *Journal) Record(e Entry) {
	fillDefaults(&e)
	select {
	case j.ch <- e:
	default:
		j.logger.Warn("journal: buffer full, sync fallback", "source", e.Source)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.insert(ctx, e); err != nil {
			j.logger.Error("journal: sync fallback failed", "error", err)
		}
	}
}

// Recent returns the newest entries matching f, newest first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT id, created_at, source, name, status, http_status, message,
		units, bytes, duration_ms, trace_id FROM extractions WHERE 1=1`
	var args []any
	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Source, &e.Name, &e.Status, &e.HTTPStatus,
			&e.Message, &e.Units, &e.Bytes, &e.DurationMs, &e.TraceID); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retentionDays and returns how many
// were removed. retentionDays <= 0 keeps everything.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	var n int64
	err := retry(ctx, func() error {
		res, err := j.db.ExecContext(ctx, "DELETE FROM extractions WHERE created_at < ?", threshold)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup: %w", err)
	}
	return n, nil
}

// Close flushes queued entries and stops the flush goroutine. The database
// is closed only when the journal opened it.
func (j *Journal) Close() error {
	close(j.stop)
	<-j.done
	if j.ownsDB {
		return j.db.Close()
	}
	return nil
}

func fillDefaults(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		if e.Message != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
}

const insertSQL = `INSERT INTO extractions
	(id, created_at, source, name, status, http_status, message, units, bytes, duration_ms, trace_id)
	VALUES (?,?,?,?,?,?,?,?,?,?,?)`

func entryArgs(e Entry) []any {
	return []any{e.ID, e.Timestamp.UnixMilli(), e.Source, e.Name, e.Status, e.HTTPStatus,
		e.Message, e.Units, e.Bytes, e.DurationMs, e.TraceID}
}

func (j *Journal) insert(ctx context.Context, e Entry) error {
	return retry(ctx, func() error {
		_, err := j.db.ExecContext(ctx, insertSQL, entryArgs(e)...)
		return err
	})
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()
	batch := make([]Entry, 0, j.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := retry(ctx, func() error { return j.writeBatch(ctx, batch) })
		if err != nil {
			j.logger.Error("journal: flush failed", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-j.stop:
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (j *Journal) writeBatch(ctx context.Context, batch []Entry) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, entryArgs(e)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}
