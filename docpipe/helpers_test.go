package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/hazyhaar/extracttext/procrun"
)

// zipOf builds an in-memory zip; members are written in the given order.
func zipOf(t *testing.T, members ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(m[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fakeOCR struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	exts  []string
}

func (f *fakeOCR) Recognize(_ context.Context, _ []byte, ext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.exts = append(f.exts, ext)
	return f.text, f.err
}

// fakeRunner records commands and delegates to fn.
type fakeRunner struct {
	mu   sync.Mutex
	cmds []procrun.Command
	fn   func(procrun.Command) (*procrun.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, c procrun.Command) (*procrun.Result, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, c)
	f.mu.Unlock()
	if f.fn == nil {
		return &procrun.Result{}, nil
	}
	return f.fn(c)
}

// argAfter returns the argument following flag.
func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

var allCaps = Capabilities{OCR: true, OfficeConversion: true, HeadlessBrowser: true, PageRender: true}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPipeline builds a pipeline with explicit capabilities so results do
// not depend on the tools installed on the host.
func newTestPipeline(t *testing.T, caps Capabilities, cfg Config) *Pipeline {
	t.Helper()
	cfg.Capabilities = &caps
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.Runner == nil {
		cfg.Runner = &fakeRunner{}
	}
	if cfg.OCR == nil {
		cfg.OCR = &fakeOCR{}
	}
	return New(cfg)
}

// testCtx scopes temp files to a per-test directory.
func testCtx(t *testing.T) (context.Context, string) {
	t.Helper()
	dir := t.TempDir()
	return WithTempDir(context.Background(), dir), dir
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
