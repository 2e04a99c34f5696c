// CLAUDE:SUMMARY Recursive archive extractor (zip, tar family, rar, 7z) with nesting, archive-size and decompression-bomb guards.
// CLAUDE:DEPENDS docpipe, sanitize, horosafe
// Package archive unpacks containers under a private temp directory and runs
// every supported member through the docpipe format dispatcher.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	archive.New(pipe, archive.Config{}) // registers itself as the archive handler
//	units, err := pipe.ExtractUnits(ctx, data, "bundle.zip")
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/horosafe"
	"github.com/hazyhaar/extracttext/sanitize"
)

var (
	// ErrNestingExceeded is returned when archives nest deeper than MaxNesting.
	ErrNestingExceeded = errors.New("archive: maximum nesting level exceeded")

	// ErrArchiveTooLarge is returned when an archive is larger than MaxArchiveSize.
	ErrArchiveTooLarge = errors.New("archive: archive exceeds maximum size")

	// ErrBombDetected is returned when the declared or written member sizes
	// pass MaxExtractedSize.
	ErrBombDetected = errors.New("archive: extracted size exceeds limit")
)

// Config configures an Extractor.
type Config struct {
	// MaxArchiveSize is the largest archive accepted, nested ones included
	// (default: 20 MiB).
	MaxArchiveSize int64 `json:"max_archive_size" yaml:"max_archive_size"`

	// MaxExtractedSize caps the bytes materialized for one top-level
	// archive, across every nesting level (default: 100 MiB).
	MaxExtractedSize int64 `json:"max_extracted_size" yaml:"max_extracted_size"`

	// MaxNesting is the number of archive levels allowed (default: 3).
	MaxNesting int `json:"max_nesting" yaml:"max_nesting"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxArchiveSize <= 0 {
		c.MaxArchiveSize = 20 << 20
	}
	if c.MaxExtractedSize <= 0 {
		c.MaxExtractedSize = 100 << 20
	}
	if c.MaxNesting <= 0 {
		c.MaxNesting = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor is the docpipe.ArchiveHandler.
type Extractor struct {
	cfg    Config
	pipe   *docpipe.Pipeline
	logger *slog.Logger
}

// New creates an Extractor and registers it on pipe.
func New(pipe *docpipe.Pipeline, cfg Config) *Extractor {
	cfg.defaults()
	e := &Extractor{cfg: cfg, pipe: pipe, logger: cfg.Logger}
	pipe.SetArchiveHandler(e)
	return e
}

// ExtractArchive implements docpipe.ArchiveHandler.
func (e *Extractor) ExtractArchive(ctx context.Context, data []byte, name string, depth int) ([]docpipe.Unit, error) {
	return e.Extract(ctx, data, name, depth)
}

// Extract returns one unit per supported member, nested archives flattened
// in archive order. Unit paths are "<name>/<member path>".
func (e *Extractor) Extract(ctx context.Context, data []byte, name string, depth int) ([]docpipe.Unit, error) {
	return e.extract(ctx, data, name, depth, &budget{left: e.cfg.MaxExtractedSize})
}

// budget is the extracted-size allowance shared by one top-level archive
// and everything nested in it.
type budget struct {
	left int64
}

// fatal reports errors that abort the whole extraction instead of skipping
// the member that raised them.
func fatal(err error) bool {
	return errors.Is(err, ErrBombDetected) ||
		errors.Is(err, ErrNestingExceeded) ||
		errors.Is(err, ErrArchiveTooLarge) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *Extractor) extract(ctx context.Context, data []byte, name string, depth int, b *budget) ([]docpipe.Unit, error) {
	if depth >= e.cfg.MaxNesting {
		e.logger.Warn("archive: nesting limit reached", "archive", name, "depth", depth)
		return nil, fmt.Errorf("%w: %s at level %d", ErrNestingExceeded, name, depth)
	}
	if int64(len(data)) > e.cfg.MaxArchiveSize {
		e.logger.Warn("archive: archive too large", "archive", name, "size", len(data))
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrArchiveTooLarge, name, len(data))
	}
	ext, _ := sanitize.Extension(name)
	log := e.logger.With("archive", name, "type", ext, "depth", depth)
	log.Info("archive: extracting", "size", len(data))

	// Tar headers and padding ride on top of the member bytes.
	src, err := openSource(ext, name, data, 2*e.cfg.MaxExtractedSize)
	if err != nil {
		return nil, e.structural(ext, err)
	}
	declared, err := src.declared()
	if err != nil {
		return nil, e.structural(ext, err)
	}
	if declared > b.left {
		log.Warn("archive: declared size exceeds limit", "declared", declared, "left", b.left)
		return nil, fmt.Errorf("%w: %s declares %d bytes", ErrBombDetected, name, declared)
	}

	dir, err := os.MkdirTemp(docpipe.TempDir(ctx), "extract_*")
	if err != nil {
		return nil, fmt.Errorf("archive: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var units []docpipe.Unit
	err = src.walk(func(member string, open func() (io.ReadCloser, error)) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := sanitize.ArchiveMemberPath(member)
		if rel == "" || sanitize.IsSystemFile(rel) {
			log.Debug("archive: entry ignored", "entry", member)
			return nil
		}
		content, err := materialize(dir, rel, open, b)
		if err != nil {
			if fatal(err) {
				return err
			}
			log.Warn("archive: entry skipped", "entry", rel, "error", err)
			return nil
		}
		got, err := e.member(ctx, content, name, rel, depth, b)
		if err != nil {
			if fatal(err) {
				return err
			}
			log.Warn("archive: entry skipped", "entry", rel, "error", err)
			return nil
		}
		units = append(units, got...)
		return nil
	})
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		return nil, e.structural(ext, err)
	}
	log.Info("archive: extracted", "units", len(units))
	return units, nil
}

func (e *Extractor) structural(ext string, err error) error {
	if errors.Is(err, docpipe.ErrUnsupported) || fatal(err) {
		return err
	}
	return fmt.Errorf("%w: %s archive: %w", docpipe.ErrCorrupted, ext, err)
}

// member extracts one materialized entry. Nested archives recurse with the
// member's provenance path as their name.
func (e *Extractor) member(ctx context.Context, content []byte, archiveName, rel string, depth int, b *budget) ([]docpipe.Unit, error) {
	base := path.Base(rel)
	where := archiveName + "/" + rel
	f, token, ok := docpipe.Detect(base)
	if !ok {
		e.logger.Debug("archive: unsupported entry", "entry", where)
		return nil, nil
	}
	if f == docpipe.FormatArchive {
		return e.extract(ctx, content, where, depth+1, b)
	}
	text, err := e.pipe.ExtractFormat(ctx, f, content, base, token)
	if err != nil {
		return nil, err
	}
	return []docpipe.Unit{{
		Filename: base,
		Path:     where,
		Size:     int64(len(content)),
		Type:     token,
		Text:     strings.TrimSpace(text),
	}}, nil
}

// materialize writes a member under dir, charging every written byte to b,
// and returns its content.
func materialize(dir, rel string, open func() (io.ReadCloser, error), b *budget) ([]byte, error) {
	dst, err := horosafe.SafePath(dir, filepath.FromSlash(rel))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	rc, err := open()
	if err != nil {
		return nil, fmt.Errorf("archive: open entry: %w", err)
	}
	defer rc.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("archive: create entry: %w", err)
	}
	_, err = io.Copy(&countingWriter{w: f, b: b}, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return os.ReadFile(dst)
}

// countingWriter refuses writes past the remaining budget, whatever the
// archive headers declared.
type countingWriter struct {
	w io.Writer
	b *budget
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > c.b.left {
		return 0, fmt.Errorf("%w: write past budget", ErrBombDetected)
	}
	n, err := c.w.Write(p)
	c.b.left -= int64(n)
	return n, err
}
