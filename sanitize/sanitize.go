// CLAUDE:SUMMARY Filename sanitizer, compound-extension parser and archive member path guards.
// Package sanitize normalizes untrusted file names before they reach the
// filesystem or the format dispatcher.
//
// Usage:
//
//	name := sanitize.Filename(header.Filename)
//	ext, ok := sanitize.Extension(name)
//	if err := sanitize.ValidateContent(data, name); err != nil { ... }
package sanitize

import (
	"strings"
	"unicode/utf8"
)

// MaxFilenameBytes is the longest name Filename returns.
const MaxFilenameBytes = 255

const (
	// UnknownName replaces an empty input name.
	UnknownName = "unknown_file"
	// PlaceholderName replaces a name that was stripped to nothing.
	PlaceholderName = "sanitized_file"
)

// hostileChars are removed from every name.
const hostileChars = `<>:"|?*` + "\x00"

// Filename returns a name safe to use as a single path element.
// Path separators, "..", control characters and shell/filesystem-hostile
// characters are removed; leading and trailing dots and spaces are trimmed;
// the result is truncated to MaxFilenameBytes keeping the extension.
// The result is never empty.
func Filename(name string) string {
	if name == "" {
		return UnknownName
	}
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "")
	}

	name = strings.ReplaceAll(name, "..", "")
	name = strings.NewReplacer("/", "", `\`, "").Replace(name)

	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(hostileChars, r) {
			continue
		}
		sb.WriteRune(r)
	}
	name = strings.Trim(sb.String(), " .")

	// Removing characters can bring two dots together again.
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.Trim(name, " .")

	if name == "" {
		return PlaceholderName
	}
	return truncate(name, MaxFilenameBytes)
}

// truncate cuts name to max bytes on a rune boundary, keeping the extension
// when it is short enough to survive.
func truncate(name string, max int) string {
	if len(name) <= max {
		return name
	}
	stem, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 && len(name)-i < max/2 {
		stem, ext = name[:i], name[i:]
	}
	keep := max - len(ext)
	for keep > 0 && !utf8.RuneStart(stem[keep]) {
		keep--
	}
	return strings.TrimRight(stem[:keep], " .") + ext
}

// compoundSuffixes maps multi-part and short archive suffixes to their
// canonical token.
var compoundSuffixes = []struct {
	suffix string
	ext    string
}{
	{".tar.gz", "tar.gz"},
	{".tgz", "tar.gz"},
	{".tar.bz2", "tar.bz2"},
	{".tbz2", "tar.bz2"},
	{".tar.xz", "tar.xz"},
	{".txz", "tar.xz"},
}

// Extension returns the normalized, lower-cased extension of name.
// Compound archive suffixes are returned as one token ("tar.gz").
// ok is false when the name has no usable extension: no dot, a trailing
// dot, or a bare dotfile such as ".bashrc".
func Extension(name string) (ext string, ok bool) {
	if name == "" {
		return "", false
	}
	lower := strings.ToLower(name)
	if i := strings.LastIndexAny(lower, `/\`); i >= 0 {
		lower = lower[i+1:]
	}

	for _, cs := range compoundSuffixes {
		if strings.HasSuffix(lower, cs.suffix) && len(lower) > len(cs.suffix) {
			return cs.ext, true
		}
	}

	i := strings.LastIndexByte(lower, '.')
	if i <= 0 || i == len(lower)-1 {
		return "", false
	}
	return lower[i+1:], true
}

// ArchiveMemberPath cleans a path read from an archive header.
// ".." is removed, backslashes become slashes, leading slashes and empty or
// "." segments are dropped. An empty result means the entry must be skipped.
func ArchiveMemberPath(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, `\`, "/")

	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "/")
}

// systemFiles are OS and VCS housekeeping artifacts skipped inside archives.
var systemFiles = []string{
	".ds_store",
	"thumbs.db",
	".git/",
	".svn/",
	".hg/",
	"__macosx/",
	".localized",
	"desktop.ini",
	"folder.ini",
}

// IsSystemFile reports whether an archive member path is a housekeeping file.
func IsSystemFile(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range systemFiles {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
