// CLAUDE:SUMMARY Source-code formatter: language map and the "=== Lang File: name ===" header.
package docpipe

import (
	"fmt"
	"strings"
)

// largeSourceLines is the line count above which a warning is added.
const largeSourceLines = 1000

// languages maps a source extension (or a well-known extensionless name)
// to the language shown in the header.
var languages = map[string]string{
	"py": "Python", "pyx": "Python", "pyi": "Python", "pyw": "Python",

	"js": "JavaScript", "jsx": "JavaScript", "mjs": "JavaScript", "cjs": "JavaScript",
	"ts": "TypeScript", "tsx": "TypeScript",

	"java": "Java", "jav": "Java",

	"c": "C", "cpp": "C++", "cxx": "C++", "cc": "C++", "c++": "C++",
	"h": "C Header", "hpp": "C++ Header", "hxx": "C++ Header", "h++": "C++ Header",

	"cs": "C#", "csx": "C#",

	"php": "PHP", "php3": "PHP", "php4": "PHP", "php5": "PHP", "phtml": "PHP",

	"rb": "Ruby", "rbw": "Ruby", "rake": "Ruby", "gemspec": "Ruby",

	"go": "Go", "mod": "Go Module", "sum": "Go Sum",

	"rs": "Rust", "rlib": "Rust Library",
	"swift": "Swift",
	"kt":    "Kotlin", "kts": "Kotlin Script",
	"scala": "Scala", "sc": "Scala",
	"r":     "R", "rmd": "R Markdown",

	"sql": "SQL", "ddl": "SQL DDL", "dml": "SQL DML",

	"sh": "Shell", "bash": "Bash", "zsh": "Zsh", "fish": "Fish",
	"ksh": "Ksh", "csh": "Csh", "tcsh": "Tcsh",

	"ps1": "PowerShell", "psm1": "PowerShell Module", "psd1": "PowerShell Data",

	"pl": "Perl", "pm": "Perl Module", "pod": "Perl Documentation", "t": "Perl Test",

	"lua": "Lua",
	"bsl": "1C:Enterprise", "os": "OneScript",

	"ini": "INI Config", "cfg": "Config", "conf": "Config", "config": "Config",
	"toml": "TOML", "properties": "Properties",

	"css": "CSS", "scss": "SCSS", "sass": "Sass", "less": "Less", "styl": "Stylus",

	"tex": "LaTeX", "latex": "LaTeX", "rst": "reStructuredText",
	"adoc": "AsciiDoc", "asciidoc": "AsciiDoc",

	"jsonl": "JSON Lines", "ndjson": "NDJSON", "jsonc": "JSON with Comments",

	"dockerfile": "Dockerfile", "containerfile": "Containerfile",
	"makefile": "Makefile", "mk": "Makefile", "mak": "Makefile",
	"gitignore": "Git Ignore", "gitattributes": "Git Attributes", "gitmodules": "Git Modules",
}

// Language returns the display language for a source token, or
// "Source Code" when it is not in the map.
func Language(token string) string {
	if l, ok := languages[strings.ToLower(token)]; ok {
		return l
	}
	return "Source Code"
}

// formatSource prefixes source text with a header naming the language,
// file and line count.
func formatSource(text, token, filename string) string {
	lines := strings.Count(text, "\n") + 1

	var sb strings.Builder
	sb.Grow(len(text) + 128)
	fmt.Fprintf(&sb, "=== %s File: %s ===\n", Language(token), filename)
	fmt.Fprintf(&sb, "Lines: %d\n", lines)
	if lines > largeSourceLines {
		fmt.Fprintf(&sb, "Warning: Large file with %d lines\n", lines)
	}
	sb.WriteString(strings.Repeat("=", 50))
	sb.WriteByte('\n')
	sb.WriteString(text)
	return sb.String()
}
