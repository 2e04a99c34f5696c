// CLAUDE:SUMMARY Configuration struct and defaults for the docpipe extraction pipeline.
package docpipe

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/extracttext/procrun"
)

// Config configures the document pipeline.
type Config struct {
	// OCRLanguages is passed to tesseract -l (default: "rus+eng").
	// "off", "none", "false", "0" or "disabled" turn OCR off.
	OCRLanguages string `json:"ocr_languages" yaml:"ocr_languages"`

	// DisablePDFImageOCR skips OCR of images embedded in PDFs.
	DisablePDFImageOCR bool `json:"disable_pdf_image_ocr" yaml:"disable_pdf_image_ocr"`

	// ToolTimeout bounds each converter / OCR / rasterizer run (default: 30s).
	ToolTimeout time.Duration `json:"tool_timeout" yaml:"tool_timeout"`

	// TesseractMemory is the address-space ceiling for OCR (default: 512 MiB).
	TesseractMemory int64 `json:"tesseract_memory" yaml:"tesseract_memory"`

	// OfficeMemory is the ceiling for office conversion (default: 1.5 GiB).
	OfficeMemory int64 `json:"office_memory" yaml:"office_memory"`

	// SubprocessMemory is the ceiling for other tools (default: 1 GiB).
	SubprocessMemory int64 `json:"subprocess_memory" yaml:"subprocess_memory"`

	// MaxImagePixels rejects images above this area before OCR (default: 50 Mi px).
	MaxImagePixels int64 `json:"max_image_pixels" yaml:"max_image_pixels"`

	// PDFImageMaxSide and PDFImageMaxPixels skip oversized embedded PDF
	// images (defaults: 5000 px, 25 MP).
	PDFImageMaxSide   int   `json:"pdf_image_max_side" yaml:"pdf_image_max_side"`
	PDFImageMaxPixels int64 `json:"pdf_image_max_pixels" yaml:"pdf_image_max_pixels"`

	// MaxExtractedSize caps decompressed bytes read from container formats
	// (EPUB members, OOXML parts). Default: 100 MiB.
	MaxExtractedSize int64 `json:"max_extracted_size" yaml:"max_extracted_size"`

	// Capabilities overrides detection. Nil means DetectCapabilities.
	Capabilities *Capabilities `json:"-" yaml:"-"`

	// Runner executes external tools. Default: procrun.New with limits.
	Runner procrun.Runner `json:"-" yaml:"-"`

	// OCR overrides the tesseract engine.
	OCR OCR `json:"-" yaml:"-"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.OCRLanguages == "" {
		c.OCRLanguages = "rus+eng"
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.TesseractMemory <= 0 {
		c.TesseractMemory = 512 << 20
	}
	if c.OfficeMemory <= 0 {
		c.OfficeMemory = 1536 << 20
	}
	if c.SubprocessMemory <= 0 {
		c.SubprocessMemory = 1 << 30
	}
	if c.MaxImagePixels <= 0 {
		c.MaxImagePixels = 50 * 1024 * 1024
	}
	if c.PDFImageMaxSide <= 0 {
		c.PDFImageMaxSide = 5000
	}
	if c.PDFImageMaxPixels <= 0 {
		c.PDFImageMaxPixels = 25_000_000
	}
	if c.MaxExtractedSize <= 0 {
		c.MaxExtractedSize = 100 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Runner == nil {
		c.Runner = procrun.New(procrun.Config{Logger: c.Logger})
	}
}
