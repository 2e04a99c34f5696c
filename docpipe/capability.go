// CLAUDE:SUMMARY Capability set (OCR, office conversion, headless browser, page render) resolved once at startup.
package docpipe

import (
	"fmt"
	"os/exec"
	"strings"
)

// Capability is one external facility an extractor may depend on.
type Capability uint8

const (
	CapOCR Capability = 1 << iota
	CapOfficeConversion
	CapHeadlessBrowser
	CapPageRender
)

func (c Capability) String() string {
	switch c {
	case CapOCR:
		return "ocr"
	case CapOfficeConversion:
		return "office_conversion"
	case CapHeadlessBrowser:
		return "headless_browser"
	case CapPageRender:
		return "page_render"
	case 0:
		return "none"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// Capabilities is the resolved set, plus the binaries that back it.
type Capabilities struct {
	OCR              bool `json:"ocr"`
	OfficeConversion bool `json:"office_conversion"`
	HeadlessBrowser  bool `json:"headless_browser"`
	PageRender       bool `json:"page_render"`

	TesseractPath string `json:"-"`
	OfficePath    string `json:"-"`
	PdftoppmPath  string `json:"-"`
}

// Has reports whether every bit of c is available.
func (cs Capabilities) Has(c Capability) bool {
	if c&CapOCR != 0 && !cs.OCR {
		return false
	}
	if c&CapOfficeConversion != 0 && !cs.OfficeConversion {
		return false
	}
	if c&CapHeadlessBrowser != 0 && !cs.HeadlessBrowser {
		return false
	}
	if c&CapPageRender != 0 && !cs.PageRender {
		return false
	}
	return true
}

// Require returns ErrCapability naming c when it is missing.
func (cs Capabilities) Require(c Capability) error {
	if cs.Has(c) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCapability, c)
}

// OCRDisabled reports whether an OCR language setting turns OCR off.
func OCRDisabled(langs string) bool {
	switch strings.ToLower(strings.TrimSpace(langs)) {
	case "", "0", "false", "off", "none", "disabled":
		return true
	}
	return false
}

// DetectCapabilities searches PATH for the external tools. The headless
// browser is resolved by the caller (package browser) and passed in.
func DetectCapabilities(cfg Config, headlessBrowser bool) Capabilities {
	cs := Capabilities{HeadlessBrowser: headlessBrowser}
	if !OCRDisabled(cfg.OCRLanguages) {
		if p, err := exec.LookPath("tesseract"); err == nil {
			cs.OCR, cs.TesseractPath = true, p
		}
	}
	for _, name := range []string{"soffice", "libreoffice"} {
		if p, err := exec.LookPath(name); err == nil {
			cs.OfficeConversion, cs.OfficePath = true, p
			break
		}
	}
	if p, err := exec.LookPath("pdftoppm"); err == nil {
		cs.PageRender, cs.PdftoppmPath = true, p
	}
	return cs
}
