package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	j, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return j
}

func TestRecord_FlushOnClose(t *testing.T) {
	// WHAT: Queued entries are written when the journal closes.
	// WHY: Shutdown must not lose the last batch.
	db, err := openDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	j, err := New(db, WithFlushInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	j.Record(Entry{Source: SourceFile, Name: "a.pdf", Units: 1, Bytes: 10})
	j.Record(Entry{Source: SourceURL, Name: "https://example.com/", HTTPStatus: 504, Message: "timeout"})
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM extractions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}

	entries, err := j.Recent(context.Background(), Filter{Status: StatusError})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Source != SourceURL || entries[0].HTTPStatus != 504 {
		t.Fatalf("error entries = %+v", entries)
	}
	if entries[0].ID == "" || entries[0].Timestamp.IsZero() {
		t.Errorf("defaults not filled: %+v", entries[0])
	}
}

func TestRecord_BatchFlush(t *testing.T) {
	// WHAT: The ticker flushes without waiting for Close.
	// WHY: /v1/extractions should show recent requests while the service runs.
	j := openTest(t, WithFlushInterval(20*time.Millisecond))
	defer j.Close()
	j.Record(Entry{Source: SourceBase64, Name: "x.txt"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := j.Recent(context.Background(), Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 1 {
			if entries[0].Status != StatusSuccess {
				t.Errorf("status = %q", entries[0].Status)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("entry never flushed")
}

func TestRecord_BufferFullFallsBack(t *testing.T) {
	j := openTest(t, WithBuffer(1), WithFlushInterval(time.Hour))
	for i := 0; i < 5; i++ {
		j.Record(Entry{Source: SourceFile, Name: "f"})
	}
	j.Close()
}

func TestRecent_FilterAndOrder(t *testing.T) {
	db, err := openDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	j, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-time.Hour)
	for i, src := range []string{SourceFile, SourceURL, SourceFile, SourceBase64} {
		j.Record(Entry{Source: src, Name: src, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	j.Close()

	ctx := context.Background()
	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"all newest first", Filter{}, []string{SourceBase64, SourceFile, SourceURL, SourceFile}},
		{"by source", Filter{Source: SourceFile}, []string{SourceFile, SourceFile}},
		{"limit", Filter{Limit: 1}, []string{SourceBase64}},
		{"since", Filter{Since: base.Add(90 * time.Second)}, []string{SourceBase64, SourceFile}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := j.Recent(ctx, tt.f)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(entries), len(tt.want))
			}
			for i, e := range entries {
				if e.Source != tt.want[i] {
					t.Errorf("entry %d: source %q, want %q", i, e.Source, tt.want[i])
				}
			}
		})
	}
}

func TestCleanup(t *testing.T) {
	db, err := openDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	j, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	j.Record(Entry{Source: SourceFile, Timestamp: time.Now().AddDate(0, 0, -10)})
	j.Record(Entry{Source: SourceFile})
	j.Close()

	n, err := j.Cleanup(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	if n, _ := j.Cleanup(context.Background(), 0); n != 0 {
		t.Errorf("retention 0 deleted %d", n)
	}
}

func TestOpen_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	j2.Close()
}

func TestRetry(t *testing.T) {
	calls := 0
	err := retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	want := errors.New("constraint failed")
	if err := retry(context.Background(), func() error { calls++; return want }); !errors.Is(err, want) || calls != 1 {
		t.Fatalf("non-busy error: err=%v calls=%d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := retry(ctx, func() error { return errors.New("SQLITE_BUSY") }); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled: err=%v", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some other error"), false},
		{errors.New("prefix: SQLITE_BUSY (5)"), true},
		{errors.New("database table is locked"), true},
		{sql.ErrNoRows, false},
	}
	for _, tt := range tests {
		if got := isBusy(tt.err); got != tt.want {
			t.Errorf("isBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
