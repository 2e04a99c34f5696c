// CLAUDE:SUMMARY Core pipeline engine: resolves the Format of a file and dispatches to its extractor.
// Package docpipe extracts plain text from uploaded document bytes.
//
// Dispatch is keyed on the normalized extension and resolved to a closed
// Format enum. Formats that need an external tool declare it through
// Format.Requires and fail with ErrCapability when it is missing.
// Archives are delegated to an ArchiveHandler registered by package archive.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	units, err := pipe.ExtractUnits(ctx, data, "report.pdf")
package docpipe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ArchiveHandler extracts every supported member of an archive.
type ArchiveHandler interface {
	ExtractArchive(ctx context.Context, data []byte, name string, depth int) ([]Unit, error)
}

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	caps    Capabilities
	ocr     OCR
	archive ArchiveHandler
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	caps := DetectCapabilities(cfg, false)
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		caps:   caps,
		ocr:    cfg.OCR,
	}
	if p.ocr == nil {
		p.ocr = &Tesseract{
			Path:        caps.TesseractPath,
			Languages:   cfg.OCRLanguages,
			Timeout:     cfg.ToolTimeout,
			MemoryLimit: cfg.TesseractMemory,
			Runner:      cfg.Runner,
		}
	}
	return p
}

// SetArchiveHandler registers the archive extractor. Called once during
// wiring, before the pipeline serves requests.
func (p *Pipeline) SetArchiveHandler(h ArchiveHandler) { p.archive = h }

// Capabilities returns the resolved capability set.
func (p *Pipeline) Capabilities() Capabilities { return p.caps }

// OCR returns the OCR engine, or nil when OCR is unavailable.
func (p *Pipeline) OCR() OCR {
	if !p.caps.OCR {
		return nil
	}
	return p.ocr
}

// Supported reports whether filename resolves to a supported format.
func (p *Pipeline) Supported(filename string) bool {
	_, _, ok := Detect(filename)
	return ok
}

// Extract returns the text of one file. Archives return the text of every
// member, separated by blank lines.
func (p *Pipeline) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	f, token, ok := Detect(filename)
	if !ok {
		return "", unsupported(token, filename)
	}
	return p.extract(ctx, f, data, filename, token)
}

// ExtractUnits is the façade entry: archives yield one unit per member,
// every other format a single unit.
func (p *Pipeline) ExtractUnits(ctx context.Context, data []byte, filename string) ([]Unit, error) {
	f, token, ok := Detect(filename)
	if !ok {
		return nil, unsupported(token, filename)
	}
	if f == FormatArchive {
		return p.extractArchive(ctx, data, filename)
	}
	text, err := p.extract(ctx, f, data, filename, token)
	if err != nil {
		return nil, err
	}
	return []Unit{{
		Filename: filename,
		Path:     filename,
		Size:     int64(len(data)),
		Type:     token,
		Text:     strings.TrimSpace(text),
	}}, nil
}

func (p *Pipeline) extractArchive(ctx context.Context, data []byte, filename string) ([]Unit, error) {
	if p.archive == nil {
		return nil, ErrNoArchiveHandler
	}
	return p.archive.ExtractArchive(ctx, data, filename, 0)
}

// ExtractFormat runs the extractor for an already-resolved format. Used by
// the archive handler for members.
func (p *Pipeline) ExtractFormat(ctx context.Context, f Format, data []byte, filename, token string) (string, error) {
	return p.extract(ctx, f, data, filename, token)
}

func (p *Pipeline) extract(ctx context.Context, f Format, data []byte, filename, token string) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := p.caps.Require(f.Requires()); err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("docpipe: extractor panic", "format", f, "file", filename, "panic", r)
			text, err = "", fmt.Errorf("%w: %s: parser panic", ErrCorrupted, f)
		}
	}()

	start := time.Now()
	p.logger.Debug("docpipe: extracting", "file", filename, "format", f, "size", len(data))

	switch f {
	case FormatText:
		text = decodeText(data)
	case FormatSource:
		text = formatSource(decodeText(data), token, filename)
	case FormatPDF:
		text, err = p.extractPDF(ctx, data)
	case FormatDocx:
		text, err = p.extractDocx(data)
	case FormatDoc:
		text, err = p.convertOffice(ctx, data, "doc", "docx", p.extractDocx)
	case FormatODT:
		text, err = p.extractODT(data)
	case FormatRTF:
		text, err = extractRTF(data)
	case FormatXLSX:
		text, err = extractXLSX(data)
	case FormatXLS:
		text, err = extractXLS(data)
	case FormatODS:
		text, err = p.extractODS(data)
	case FormatCSV:
		text, err = extractCSV(data)
	case FormatPPTX:
		text, err = p.extractPPTX(data)
	case FormatPPT:
		text, err = p.convertOffice(ctx, data, "ppt", "pptx", p.extractPPTX)
	case FormatJSON:
		text, err = extractJSON(data)
	case FormatXML:
		text, err = extractXML(data)
	case FormatYAML:
		text, err = extractYAML(data)
	case FormatHTML:
		text, err = extractHTML(data)
	case FormatMarkdown:
		text, err = extractMarkdown(data)
	case FormatEPUB:
		text, err = p.extractEPUB(data)
	case FormatEML:
		text, err = extractEML(data)
	case FormatMSG:
		text, err = extractMSG(data)
	case FormatMbox:
		text, err = extractMbox(data)
	case FormatImage:
		text, err = p.extractImage(ctx, data, token)
	case FormatArchive:
		var units []Unit
		units, err = p.extractArchive(ctx, data, filename)
		text = joinUnits(units)
		if err != nil {
			// Archive errors are already classified by the handler.
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %s", errUnhandledFormat, f)
	}

	if err != nil {
		err = classify(f, err)
		p.logger.Warn("docpipe: extraction failed", "file", filename, "format", f, "error", err)
		return "", err
	}
	p.logger.Debug("docpipe: extracted", "file", filename, "format", f,
		"chars", len(text), "duration", time.Since(start))
	return text, nil
}

func joinUnits(units []Unit) string {
	parts := make([]string, 0, len(units))
	for _, u := range units {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, "\n\n")
}

func unsupported(token, filename string) error {
	if token == "" {
		return fmt.Errorf("%w: %q has no extension", ErrUnsupported, filename)
	}
	return fmt.Errorf("%w: %s", ErrUnsupported, token)
}

type tempDirKey struct{}

// WithTempDir scopes the temporary files of one request under dir.
func WithTempDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, tempDirKey{}, dir)
}

// TempDir returns the request temp dir, or the system temp dir.
func TempDir(ctx context.Context) string {
	if d, ok := ctx.Value(tempDirKey{}).(string); ok && d != "" {
		return d
	}
	return os.TempDir()
}
