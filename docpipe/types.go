// CLAUDE:SUMMARY Closed Format enum, extension lookup table, category listing and the extracted Unit type.
package docpipe

import (
	"sort"
	"strings"

	"github.com/hazyhaar/extracttext/sanitize"
)

// Format identifies a document type. The set is closed: every value is
// handled by the dispatch switch in Pipeline.extract.
type Format uint8

const (
	FormatText Format = iota + 1
	FormatSource
	FormatPDF
	FormatDocx
	FormatDoc
	FormatODT
	FormatRTF
	FormatXLSX
	FormatXLS
	FormatODS
	FormatCSV
	FormatPPTX
	FormatPPT
	FormatJSON
	FormatXML
	FormatYAML
	FormatHTML
	FormatMarkdown
	FormatEPUB
	FormatEML
	FormatMSG
	FormatMbox
	FormatImage
	FormatArchive

	formatEnd
)

var formatNames = [...]string{
	FormatText:     "text",
	FormatSource:   "source",
	FormatPDF:      "pdf",
	FormatDocx:     "docx",
	FormatDoc:      "doc",
	FormatODT:      "odt",
	FormatRTF:      "rtf",
	FormatXLSX:     "xlsx",
	FormatXLS:      "xls",
	FormatODS:      "ods",
	FormatCSV:      "csv",
	FormatPPTX:     "pptx",
	FormatPPT:      "ppt",
	FormatJSON:     "json",
	FormatXML:      "xml",
	FormatYAML:     "yaml",
	FormatHTML:     "html",
	FormatMarkdown: "markdown",
	FormatEPUB:     "epub",
	FormatEML:      "eml",
	FormatMSG:      "msg",
	FormatMbox:     "mbox",
	FormatImage:    "image",
	FormatArchive:  "archive",
}

func (f Format) String() string {
	if f == 0 || f >= formatEnd {
		return "unknown"
	}
	return formatNames[f]
}

// Formats returns every Format value in declaration order.
func Formats() []Format {
	out := make([]Format, 0, formatEnd-1)
	for f := FormatText; f < formatEnd; f++ {
		out = append(out, f)
	}
	return out
}

// Requires returns the capability the format cannot be extracted without.
func (f Format) Requires() Capability {
	switch f {
	case FormatDoc, FormatPPT:
		return CapOfficeConversion
	case FormatImage:
		return CapOCR
	default:
		return 0
	}
}

// category groups extensions for the supported-formats listing.
type category struct {
	name   string
	format Format // zero when the category mixes formats
	exts   []string
}

var categories = []category{
	{"images_ocr", FormatImage, []string{"jpg", "jpeg", "png", "tiff", "tif", "bmp", "gif", "webp"}},
	{"documents", 0, []string{"doc", "docx", "pdf", "rtf", "odt"}},
	{"spreadsheets", 0, []string{"csv", "xls", "xlsx", "ods"}},
	{"presentations", 0, []string{"pptx", "ppt"}},
	{"structured_data", 0, []string{"json", "xml", "yaml", "yml"}},
	{"source_code", FormatSource, sourceExtensions()},
	{"other", 0, []string{"txt", "html", "htm", "md", "markdown", "epub", "eml", "msg", "mbox"}},
	{"archives", FormatArchive, []string{
		"zip", "rar", "7z", "tar", "gz", "bz2", "xz",
		"tgz", "tbz2", "txz", "tar.gz", "tar.bz2", "tar.xz",
	}},
}

var extFormats = map[string]Format{
	"txt":      FormatText,
	"pdf":      FormatPDF,
	"docx":     FormatDocx,
	"doc":      FormatDoc,
	"odt":      FormatODT,
	"rtf":      FormatRTF,
	"xlsx":     FormatXLSX,
	"xls":      FormatXLS,
	"ods":      FormatODS,
	"csv":      FormatCSV,
	"pptx":     FormatPPTX,
	"ppt":      FormatPPT,
	"json":     FormatJSON,
	"xml":      FormatXML,
	"yaml":     FormatYAML,
	"yml":      FormatYAML,
	"html":     FormatHTML,
	"htm":      FormatHTML,
	"md":       FormatMarkdown,
	"markdown": FormatMarkdown,
	"epub":     FormatEPUB,
	"eml":      FormatEML,
	"msg":      FormatMSG,
	"mbox":     FormatMbox,
}

func init() {
	for _, c := range categories {
		if c.format == 0 {
			continue
		}
		for _, e := range c.exts {
			extFormats[e] = c.format
		}
	}
	sanitize.RegisterTextExtensions(sourceExtensions()...)
}

// Lookup maps a normalized extension (as returned by sanitize.Extension)
// to its Format.
func Lookup(ext string) (Format, bool) {
	f, ok := extFormats[strings.ToLower(ext)]
	return f, ok
}

// Detect resolves the format of a file name. It returns the type token
// reported in Unit.Type: the extension, or for extensionless well-known
// names such as "Dockerfile" the lower-cased name itself.
func Detect(filename string) (Format, string, bool) {
	if ext, ok := sanitize.Extension(filename); ok {
		if f, ok := Lookup(ext); ok {
			return f, ext, true
		}
		return 0, ext, false
	}
	base := strings.ToLower(filename)
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimPrefix(base, ".")
	if _, ok := languages[base]; ok {
		return FormatSource, base, true
	}
	return 0, "", false
}

// IsArchive reports whether filename names a supported archive container.
func IsArchive(filename string) bool {
	f, _, ok := Detect(filename)
	return ok && f == FormatArchive
}

// Categories returns category → extensions for the supported-formats listing.
func Categories() map[string][]string {
	out := make(map[string][]string, len(categories))
	for _, c := range categories {
		out[c.name] = append([]string(nil), c.exts...)
	}
	return out
}

// Unit is one named block of recovered text with provenance.
type Unit struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	Text     string `json:"text"`
}

func sourceExtensions() []string {
	out := make([]string, 0, len(languages))
	for ext := range languages {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
