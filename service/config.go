package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/extracttext/archive"
	"github.com/hazyhaar/extracttext/browser"
	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/horosafe"
	"github.com/hazyhaar/extracttext/shield"
	"github.com/hazyhaar/extracttext/webextract"
)

// Config holds the full service configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	TempDir string `yaml:"temp_dir"`

	// Workers bounds concurrent extractions.
	Workers int `yaml:"workers"`

	MaxFileSize              int64 `yaml:"max_file_size"`
	ProcessingTimeoutSeconds int   `yaml:"processing_timeout_seconds"`
	EnableResourceLimits     bool  `yaml:"enable_resource_limits"`

	Pipeline  docpipe.Config         `yaml:"pipeline"`
	Archive   archive.Config         `yaml:"archive"`
	Web       WebConfig              `yaml:"web"`
	Browser   BrowserConfig          `yaml:"browser"`
	Security  SecurityConfig         `yaml:"security"`
	CORS      CORSConfig             `yaml:"cors"`
	RateLimit shield.RateLimitConfig `yaml:"rate_limit"`
	MCP       MCPConfig              `yaml:"mcp"`
	Journal   JournalConfig          `yaml:"journal"`
}

// WebConfig configures URL extraction.
type WebConfig struct {
	UserAgent              string             `yaml:"user_agent"`
	HeadTimeoutSeconds     int                `yaml:"head_timeout_seconds"`
	DownloadTimeoutSeconds int                `yaml:"download_timeout_seconds"`
	Defaults               webextract.Options `yaml:"defaults"`
}

// BrowserConfig enables headless rendering.
type BrowserConfig struct {
	Enabled        bool `yaml:"enabled"`
	browser.Config `yaml:",inline"`
}

// SecurityConfig holds the SSRF block lists.
type SecurityConfig struct {
	BlockedHostnames []string `yaml:"blocked_hostnames"`
	BlockedIPRanges  []string `yaml:"blocked_ip_ranges"`
}

// CORSConfig configures cross-origin access.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MCPConfig enables the /mcp endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// JournalConfig configures the extraction journal. An empty Path disables it.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:                   ":7555",
		TempDir:                  filepath.Join(os.TempDir(), "extracttext"),
		Workers:                  4,
		MaxFileSize:              20 << 20,
		ProcessingTimeoutSeconds: 300,
		EnableResourceLimits:     true,
		Pipeline: docpipe.Config{
			OCRLanguages:     "rus+eng",
			ToolTimeout:      30 * time.Second,
			TesseractMemory:  512 << 20,
			OfficeMemory:     1536 << 20,
			SubprocessMemory: 1 << 30,
			MaxImagePixels:   50 * 1024 * 1024,
		},
		Archive: archive.Config{
			MaxArchiveSize:   20 << 20,
			MaxExtractedSize: 100 << 20,
			MaxNesting:       3,
		},
		Web: WebConfig{
			UserAgent:              "Text Extraction Bot 1.0",
			HeadTimeoutSeconds:     10,
			DownloadTimeoutSeconds: 60,
			Defaults:               webextract.DefaultOptions(),
		},
		Browser: BrowserConfig{
			Config: browser.Config{
				NoSandbox:        true,
				ResourceBlocking: []string{"font", "media"},
			},
		},
		Security: SecurityConfig{
			BlockedHostnames: append([]string(nil), horosafe.DefaultBlockedHosts...),
			BlockedIPRanges:  append([]string(nil), horosafe.DefaultBlockedCIDRs...),
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: shield.RateLimitConfig{
			PerMinute: 120,
			Burst:     20,
			Exclude:   []string{"/health"},
		},
		Journal: JournalConfig{RetentionDays: 30},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.TempDir == "" {
		return fmt.Errorf("temp_dir is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be > 0")
	}
	if c.ProcessingTimeoutSeconds <= 0 {
		return fmt.Errorf("processing_timeout_seconds must be > 0")
	}
	if c.Archive.MaxNesting < 0 {
		return fmt.Errorf("archive.max_nesting must be >= 0")
	}
	if _, err := horosafe.NewValidator(c.Security.BlockedHostnames, c.Security.BlockedIPRanges); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal.retention_days must be >= 0")
	}
	// Inner timeouts must not outlive the request.
	if c.Pipeline.ToolTimeout > c.ProcessingTimeout() {
		return fmt.Errorf("pipeline.tool_timeout (%s) exceeds processing timeout (%s)", c.Pipeline.ToolTimeout, c.ProcessingTimeout())
	}
	return nil
}

// ProcessingTimeout returns the per-request deadline.
func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutSeconds) * time.Second
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv. Malformed numbers and booleans are reported, not ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("API_PORT", func(v string) { c.Listen = ":" + v })
	e.str("TEMP_DIR", func(v string) { c.TempDir = v })
	e.int("WORKERS", func(n int) { c.Workers = n })
	e.int64("MAX_FILE_SIZE", func(n int64) { c.MaxFileSize = n })
	e.int("PROCESSING_TIMEOUT_SECONDS", func(n int) { c.ProcessingTimeoutSeconds = n })
	e.bool("ENABLE_RESOURCE_LIMITS", func(b bool) { c.EnableResourceLimits = b })

	e.int64("MAX_SUBPROCESS_MEMORY", func(n int64) { c.Pipeline.SubprocessMemory = n })
	e.int64("MAX_LIBREOFFICE_MEMORY", func(n int64) { c.Pipeline.OfficeMemory = n })
	e.int64("MAX_TESSERACT_MEMORY", func(n int64) { c.Pipeline.TesseractMemory = n })
	e.int64("MAX_OCR_IMAGE_PIXELS", func(n int64) { c.Pipeline.MaxImagePixels = n })
	e.str("OCR_LANGUAGES", func(v string) { c.Pipeline.OCRLanguages = v })
	e.bool("ENABLE_PDF_IMAGE_OCR", func(b bool) { c.Pipeline.DisablePDFImageOCR = !b })

	e.int64("MAX_ARCHIVE_SIZE", func(n int64) { c.Archive.MaxArchiveSize = n })
	e.int64("MAX_EXTRACTED_SIZE", func(n int64) {
		c.Archive.MaxExtractedSize = n
		c.Pipeline.MaxExtractedSize = n
	})
	e.int("MAX_ARCHIVE_NESTING", func(n int) { c.Archive.MaxNesting = n })

	d := &c.Web.Defaults
	e.str("DEFAULT_USER_AGENT", func(v string) { c.Web.UserAgent = v })
	e.int("HEAD_REQUEST_TIMEOUT", func(n int) { c.Web.HeadTimeoutSeconds = n })
	e.int("FILE_DOWNLOAD_TIMEOUT", func(n int) { c.Web.DownloadTimeoutSeconds = n })
	e.int("MIN_IMAGE_SIZE_FOR_OCR", func(n int) { d.MinImageSizeForOCR = webextract.Int(n) })
	e.int("MAX_IMAGES_PER_PAGE", func(n int) { d.MaxImagesPerPage = webextract.Int(n) })
	e.int("WEB_PAGE_TIMEOUT", func(n int) { d.WebPageTimeout = webextract.Int(n) })
	e.int("IMAGE_DOWNLOAD_TIMEOUT", func(n int) { d.ImageDownloadTimeout = webextract.Int(n) })
	e.bool("ENABLE_JAVASCRIPT", func(b bool) { d.EnableJavaScript = webextract.Bool(b) })
	e.bool("ENABLE_BASE64_IMAGES", func(b bool) { d.EnableBase64Images = webextract.Bool(b) })
	e.int("WEB_PAGE_DELAY", func(n int) { d.WebPageDelay = webextract.Int(n) })
	e.bool("ENABLE_LAZY_LOADING_WAIT", func(b bool) { d.EnableLazyLoadingWait = webextract.Bool(b) })
	e.int("JS_RENDER_TIMEOUT", func(n int) { d.JSRenderTimeout = webextract.Int(n) })
	e.int("MAX_SCROLL_ATTEMPTS", func(n int) { d.MaxScrollAttempts = webextract.Int(n) })

	e.bool("BROWSER_ENABLED", func(b bool) { c.Browser.Enabled = b })
	e.str("BROWSER_REMOTE_URL", func(v string) { c.Browser.RemoteURL = v })
	e.str("BROWSER_BIN", func(v string) { c.Browser.Bin = v })

	e.list("BLOCKED_HOSTNAMES", func(v []string) { c.Security.BlockedHostnames = v })
	e.list("BLOCKED_IP_RANGES", func(v []string) { c.Security.BlockedIPRanges = v })
	e.list("CORS_ALLOWED_ORIGINS", func(v []string) { c.CORS.AllowedOrigins = v })
	e.int("RATE_LIMIT_PER_MINUTE", func(n int) { c.RateLimit.PerMinute = n })
	e.bool("MCP_ENABLED", func(b bool) { c.MCP.Enabled = b })
	e.str("JOURNAL_DB", func(v string) { c.Journal.Path = v })
	e.int("JOURNAL_RETENTION_DAYS", func(n int) { c.Journal.RetentionDays = n })

	return e.err
}

// envReader applies set variables and keeps the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, set func(string)) {
	if v, ok := e.get(key); ok {
		set(v)
	}
}

func (e *envReader) int(key string, set func(int)) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		set(n)
	}
}

func (e *envReader) int64(key string, set func(int64)) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		set(n)
	}
}

func (e *envReader) bool(key string, set func(bool)) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		set(b)
	}
}

// list splits a comma-separated value, dropping empty items.
func (e *envReader) list(key string, set func([]string)) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		set(out)
	}
}
