// CLAUDE:SUMMARY Extraction façade: validates file/base64/URL requests, runs them on a bounded worker pool under the processing deadline, sweeps temp files, journals outcomes; served over HTTP (chi) and MCP.
// CLAUDE:DEPENDS docpipe, archive, webextract, sanitize, journal, shield, kit
// Package service is the front of the extraction system.
//
// Every request is validated up front (size, emptiness, format, content
// type), then run on a worker slot with its own temp directory under the
// processing deadline. When the deadline passes the caller gets ErrTimeout
// at once; the worker is cancelled through its context and releases its slot
// and directory when it returns.
//
// Usage:
//
//	svc, err := service.New(cfg, pipe, web, service.WithJournal(j))
//	defer svc.Close()
//	http.ListenAndServe(cfg.Listen, svc.Handler(shield.NewRateLimiter(cfg.RateLimit)))
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/journal"
	"github.com/hazyhaar/extracttext/kit"
	"github.com/hazyhaar/extracttext/sanitize"
	"github.com/hazyhaar/extracttext/webextract"
)

// APIName and Version are reported by GET /.
const (
	APIName = "Text Extraction API for RAG"
	Version = "1.10.8"
)

// FileExtractor extracts units from file bytes. *docpipe.Pipeline implements it.
type FileExtractor interface {
	ExtractUnits(ctx context.Context, data []byte, filename string) ([]docpipe.Unit, error)
}

// URLExtractor extracts units from a URL. *webextract.Extractor implements it.
type URLExtractor interface {
	Extract(ctx context.Context, rawURL, userAgent string, opts webextract.Options) ([]docpipe.Unit, error)
}

// Result is the success response.
type Result struct {
	Status   string         `json:"status"`
	Filename string         `json:"filename,omitempty"`
	URL      string         `json:"url,omitempty"`
	Count    int            `json:"count"`
	Files    []docpipe.Unit `json:"files"`
}

// ErrorResponse is the error response.
type ErrorResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Message  string `json:"message"`
}

// Info is returned by GET /.
type Info struct {
	APIName      string               `json:"api_name"`
	Version      string               `json:"version"`
	Capabilities docpipe.Capabilities `json:"capabilities"`
}

// Service runs extractions.
type Service struct {
	cfg     *Config
	files   FileExtractor
	web     URLExtractor
	journal *journal.Journal
	caps    docpipe.Capabilities
	logger  *slog.Logger
	sem     *semaphore.Weighted
	sweep   *sweeper
	timeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records every request in j.
func WithJournal(j *journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCapabilities sets the capability set reported by Info.
func WithCapabilities(c docpipe.Capabilities) Option {
	return func(s *Service) { s.caps = c }
}

// New creates the service, its temp root, and removes stale leftovers of
// previous runs. web may be nil, in which case URL extraction is rejected.
func New(cfg *Config, files FileExtractor, web URLExtractor, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:     cfg,
		files:   files,
		web:     web,
		logger:  slog.Default(),
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		timeout: cfg.ProcessingTimeout(),
	}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("service: temp dir: %w", err)
	}
	s.sweep = newSweeper(cfg.TempDir, s.logger)
	s.sweep.sweepStale(staleAge)
	return s, nil
}

// Run performs periodic maintenance (stale temp sweep, journal retention)
// until ctx is done.
func (s *Service) Run(ctx context.Context) {
	tick := time.NewTicker(time.Hour)
	defer tick.Stop()
	s.maintain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.maintain(ctx)
		}
	}
}

func (s *Service) maintain(ctx context.Context) {
	s.sweep.sweepStale(staleAge)
	if s.journal == nil {
		return
	}
	n, err := s.journal.Cleanup(ctx, s.cfg.Journal.RetentionDays)
	if err != nil {
		s.logger.Warn("service: journal cleanup failed", "error", err)
	} else if n > 0 {
		s.logger.Info("service: journal entries expired", "count", n)
	}
}

// Close waits for running workers and removes stale temp entries.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.sem.Acquire(ctx, int64(s.cfg.Workers)); err == nil {
		s.sem.Release(int64(s.cfg.Workers))
	}
	s.sweep.sweepStale(staleAge)
	return nil
}

// Health reports liveness.
func (s *Service) Health() map[string]string {
	return map[string]string{"status": "ok"}
}

// Info describes the API.
func (s *Service) Info() Info {
	return Info{APIName: APIName, Version: Version, Capabilities: s.caps}
}

// SupportedFormats returns category → extensions.
func (s *Service) SupportedFormats() map[string][]string {
	return docpipe.Categories()
}

// Recent returns the journal tail, or nil without a journal.
func (s *Service) Recent(ctx context.Context, f journal.Filter) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(ctx, f)
}

// ExtractFile extracts the units of an uploaded file. filename is the
// caller's name; units carry its sanitized form.
func (s *Service) ExtractFile(ctx context.Context, data []byte, filename string) (*Result, error) {
	return s.extractBytes(ctx, journal.SourceFile, data, filename)
}

// ExtractBase64 decodes encoded and extracts it like an upload. A
// "data:<mime>;base64," prefix and embedded whitespace are accepted.
func (s *Service) ExtractBase64(ctx context.Context, encoded, filename string) (*Result, error) {
	start := time.Now()
	data, err := s.decodeBase64(encoded)
	if err != nil {
		s.logger.Warn("service: base64 decode failed", "filename", filename, "error", err)
		s.record(ctx, journal.SourceBase64, filename, start, 0, nil, err)
		return nil, err
	}
	return s.extractBytes(ctx, journal.SourceBase64, data, filename)
}

func (s *Service) decodeBase64(encoded string) ([]byte, error) {
	enc := strings.TrimSpace(encoded)
	if strings.HasPrefix(enc, "data:") {
		if _, payload, ok := strings.Cut(enc, ","); ok {
			enc = payload
		}
	}
	enc = strings.Join(strings.Fields(enc), "")
	if int64(base64.StdEncoding.DecodedLen(len(enc)))-2 > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: encoded payload of %d bytes", ErrTooLarge, len(enc))
	}
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(enc, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return data, nil
}

func (s *Service) extractBytes(ctx context.Context, source string, data []byte, filename string) (*Result, error) {
	start := time.Now()
	if filename == "" {
		filename = sanitize.UnknownName
	}
	name := sanitize.Filename(filename)
	log := s.logger.With("source", source, "filename", filename)

	units, err := s.checkAndRun(ctx, data, name)
	s.record(ctx, source, filename, start, int64(len(data)), units, err)
	if err != nil {
		log.Warn("service: extraction failed", "error", err, "duration", time.Since(start))
		return nil, err
	}
	log.Info("service: extraction done", "units", len(units), "chars", textLength(units), "duration", time.Since(start))
	return &Result{Status: "success", Filename: filename, Count: len(units), Files: units}, nil
}

func (s *Service) checkAndRun(ctx context.Context, data []byte, name string) ([]docpipe.Unit, error) {
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), s.cfg.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if _, token, ok := docpipe.Detect(name); !ok {
		if token == "" {
			return nil, fmt.Errorf("%w: %q has no extension", docpipe.ErrUnsupported, name)
		}
		return nil, fmt.Errorf("%w: %s", docpipe.ErrUnsupported, token)
	}
	if err := sanitize.ValidateContent(data, name); err != nil {
		return nil, err
	}
	return s.run(ctx, func(ctx context.Context) ([]docpipe.Unit, error) {
		return s.files.ExtractUnits(ctx, data, name)
	})
}

// ExtractURL extracts the units of rawURL. An empty userAgent uses the
// configured default.
func (s *Service) ExtractURL(ctx context.Context, rawURL, userAgent string, opts webextract.Options) (*Result, error) {
	start := time.Now()
	rawURL = strings.TrimSpace(rawURL)
	log := s.logger.With("source", journal.SourceURL, "url", rawURL)

	var units []docpipe.Unit
	err := validURL(rawURL)
	if err == nil && s.web == nil {
		err = fmt.Errorf("%w: %s", docpipe.ErrCapability, "web extraction")
	}
	if err == nil {
		units, err = s.run(ctx, func(ctx context.Context) ([]docpipe.Unit, error) {
			return s.web.Extract(ctx, rawURL, userAgent, opts)
		})
	}
	s.record(ctx, journal.SourceURL, rawURL, start, unitBytes(units), units, err)
	if err != nil {
		log.Warn("service: url extraction failed", "error", err, "duration", time.Since(start))
		return nil, err
	}
	log.Info("service: url extraction done", "units", len(units), "chars", textLength(units), "duration", time.Since(start))
	return &Result{Status: "success", URL: rawURL, Count: len(units), Files: units}, nil
}

func validURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ErrInvalidURL
	}
	return nil
}

// run executes fn on a worker slot, in a fresh temp directory, under the
// processing deadline.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context) ([]docpipe.Unit, error)) ([]docpipe.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer s.sweep.sweepRecent(recentWindow)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		cancel()
		return nil, s.deadline(ctx)
	}

	dir := filepath.Join(s.cfg.TempDir, "temp_"+uuid.NewString())
	s.sweep.track(dir)
	if err := os.Mkdir(dir, 0o700); err != nil {
		s.sweep.untrack(dir)
		s.sem.Release(1)
		cancel()
		return nil, fmt.Errorf("service: request dir: %w", err)
	}

	type outcome struct {
		units []docpipe.Unit
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer s.sem.Release(1)
		defer cancel()
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn("service: request dir not removed", "dir", dir, "error", err)
			}
			s.sweep.untrack(dir)
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("service: worker panic", "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("%w: worker panic", docpipe.ErrCorrupted)}
			}
		}()
		units, err := fn(docpipe.WithTempDir(ctx, dir))
		done <- outcome{units, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil && errors.Is(o.err, ctx.Err()) {
			return nil, s.deadline(ctx)
		}
		return o.units, o.err
	case <-ctx.Done():
		return nil, s.deadline(ctx)
	}
}

// deadline converts the run context's error: expiry is ErrTimeout, a
// caller cancellation is returned as is.
func (s *Service) deadline(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
	}
	return ctx.Err()
}

func (s *Service) record(ctx context.Context, source, name string, start time.Time, size int64, units []docpipe.Unit, err error) {
	if s.journal == nil {
		return
	}
	code, msg := classify(err, s.cfg.ProcessingTimeoutSeconds)
	status := journal.StatusSuccess
	if err != nil {
		status = journal.StatusError
	}
	s.journal.Record(journal.Entry{
		Source:     source,
		Name:       name,
		Status:     status,
		HTTPStatus: code,
		Message:    msg,
		Units:      len(units),
		Bytes:      size,
		DurationMs: time.Since(start).Milliseconds(),
		TraceID:    kit.GetTraceID(ctx),
	})
}

func textLength(units []docpipe.Unit) int {
	n := 0
	for _, u := range units {
		n += len(u.Text)
	}
	return n
}

func unitBytes(units []docpipe.Unit) int64 {
	var n int64
	for _, u := range units {
		n += u.Size
	}
	return n
}
