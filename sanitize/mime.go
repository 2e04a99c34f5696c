package sanitize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrTypeMismatch is returned when sniffed content disagrees with the
// declared extension, or when the content could not be sniffed at all.
var ErrTypeMismatch = errors.New("sanitize: file content does not match its extension")

const (
	mimeZip = "application/zip"
	mimeOLE = "application/x-ole-storage"
)

// expectedMIME lists, per extension, the sniffed types accepted for it.
// Ancestors of the sniffed type are matched too, so "application/zip"
// covers every OOXML/ODF/EPUB container.
var expectedMIME = map[string][]string{
	"pdf":  {"application/pdf"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", mimeZip},
	"xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", mimeZip},
	"pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation", mimeZip},
	"odt":  {"application/vnd.oasis.opendocument.text", mimeZip},
	"ods":  {"application/vnd.oasis.opendocument.spreadsheet", mimeZip},
	"epub": {"application/epub+zip", mimeZip},
	"doc":  {"application/msword", mimeOLE},
	"xls":  {"application/vnd.ms-excel", mimeOLE},
	"ppt":  {"application/vnd.ms-powerpoint", mimeOLE},
	"msg":  {"application/vnd.ms-outlook", mimeOLE},
	"rtf":  {"text/rtf", "application/rtf"},

	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
	"gif":  {"image/gif"},
	"bmp":  {"image/bmp"},
	"tif":  {"image/tiff"},
	"tiff": {"image/tiff"},
	"webp": {"image/webp"},

	"zip":     {mimeZip},
	"rar":     {"application/x-rar-compressed"},
	"7z":      {"application/x-7z-compressed"},
	"tar":     {"application/x-tar"},
	"gz":      {"application/gzip"},
	"tar.gz":  {"application/gzip"},
	"bz2":     {"application/x-bzip2"},
	"tar.bz2": {"application/x-bzip2"},
	"xz":      {"application/x-xz"},
	"tar.xz":  {"application/x-xz"},

	"html": {"text/html"},
	"htm":  {"text/html"},
	"xml":  {"text/xml", "application/xml"},
	"json": {"application/json"},
	"eml":  {"message/rfc822"},
	"csv":  {"text/csv"},
}

// textExtensions accept any text/* sniff in addition to their table entry.
var textExtensions = map[string]bool{
	"txt": true, "md": true, "markdown": true, "csv": true, "json": true,
	"xml": true, "yaml": true, "yml": true, "html": true, "htm": true,
	"eml": true, "mbox": true, "rtf": true,
}

// IsTextExtension reports whether ext names a text-based format.
// Source-code extensions are registered by the caller through
// RegisterTextExtensions.
func IsTextExtension(ext string) bool {
	return textExtensions[ext]
}

// RegisterTextExtensions marks additional extensions as text-based.
// It must be called during initialisation, before ValidateContent runs.
func RegisterTextExtensions(exts ...string) {
	for _, e := range exts {
		textExtensions[strings.ToLower(e)] = true
	}
}

// Sniff returns the content-detected MIME type without parameters.
func Sniff(data []byte) string {
	m := mimetype.Detect(data)
	if m == nil {
		return ""
	}
	s, _, _ := strings.Cut(m.String(), ";")
	return s
}

// ValidateContent checks that data plausibly matches the extension of
// filename. Extensions with no table entry are accepted. Any failure to
// sniff is a mismatch.
func ValidateContent(data []byte, filename string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sniff failed: %v", ErrTypeMismatch, r)
		}
	}()

	ext, ok := Extension(filename)
	if !ok {
		return nil
	}
	expected, known := expectedMIME[ext]
	isText := textExtensions[ext]
	if !known && !isText {
		return nil
	}

	m := mimetype.Detect(data)
	if m == nil {
		return fmt.Errorf("%w: could not sniff %q", ErrTypeMismatch, filename)
	}

	for cur := m; cur != nil; cur = cur.Parent() {
		if isText && (cur.Is("text/plain") || strings.HasPrefix(cur.String(), "text/")) {
			return nil
		}
		for _, want := range expected {
			if cur.Is(want) {
				return nil
			}
		}
	}

	return fmt.Errorf("%w: %q sniffed as %s", ErrTypeMismatch, filename, Sniff(data))
}

// mimeExtensions maps response Content-Types to the extension used for
// downloads that carry no usable name.
var mimeExtensions = map[string]string{
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.ms-excel":                                                  "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-powerpoint":                                             "ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/zip":              "zip",
	"application/x-rar-compressed": "rar",
	"application/vnd.rar":          "rar",
	"application/x-7z-compressed":  "7z",
	"application/x-tar":            "tar",
	"application/gzip":             "gz",
	"application/x-gzip":           "gz",
	"image/jpeg":                   "jpg",
	"image/jpg":                    "jpg",
	"image/png":                    "png",
	"image/gif":                    "gif",
	"image/bmp":                    "bmp",
	"image/tiff":                   "tiff",
	"image/webp":                   "webp",
	"text/plain":                   "txt",
	"text/html":                    "html",
	"text/csv":                     "csv",
	"application/json":             "json",
	"application/xml":              "xml",
	"text/xml":                     "xml",
}

// ExtensionForMIME returns the extension for a Content-Type value.
// Parameters and case are ignored.
func ExtensionForMIME(contentType string) (string, bool) {
	mt, _, _ := strings.Cut(contentType, ";")
	ext, ok := mimeExtensions[strings.ToLower(strings.TrimSpace(mt))]
	return ext, ok
}
