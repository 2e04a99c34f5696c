package docpipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/hazyhaar/extracttext/procrun"
)

func TestExtractImage(t *testing.T) {
	ocr := &fakeOCR{text: "recognized"}
	p := newTestPipeline(t, allCaps, Config{OCR: ocr})
	ctx, _ := testCtx(t)

	got, err := p.Extract(ctx, pngOf(t, 20, 10), "scan.png")
	if err != nil {
		t.Fatal(err)
	}
	if got != "recognized" {
		t.Errorf("got %q", got)
	}
	if !slices.Equal(ocr.exts, []string{"png"}) {
		t.Errorf("ocr ext = %v", ocr.exts)
	}
}

func TestExtractImage_Errors(t *testing.T) {
	timeout := fmt.Errorf("%w: tesseract", procrun.ErrTimeout)
	tests := []struct {
		name string
		caps Capabilities
		cfg  Config
		data func(t *testing.T) []byte
		file string
		want error
	}{
		{
			name: "no ocr",
			caps: Capabilities{},
			data: func(t *testing.T) []byte { return pngOf(t, 4, 4) },
			file: "a.png",
			want: ErrCapability,
		},
		{
			name: "too many pixels",
			caps: allCaps,
			cfg:  Config{MaxImagePixels: 100},
			data: func(t *testing.T) []byte { return pngOf(t, 20, 10) },
			file: "a.png",
			want: ErrImageRejected,
		},
		{
			name: "garbage",
			caps: allCaps,
			data: func(*testing.T) []byte { return []byte("definitely not a jpeg") },
			file: "a.jpg",
			want: ErrImageRejected,
		},
		{
			// WHY: A stuck OCR run must surface as a timeout, not as empty text.
			name: "ocr timeout propagates",
			caps: allCaps,
			cfg:  Config{OCR: &fakeOCR{err: timeout}},
			data: func(t *testing.T) []byte { return pngOf(t, 4, 4) },
			file: "a.png",
			want: procrun.ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.caps, tt.cfg)
			ctx, _ := testCtx(t)
			_, err := p.Extract(ctx, tt.data(t), tt.file)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateImage(t *testing.T) {
	info, err := ValidateImage(pngOf(t, 30, 7), 0)
	if err != nil {
		t.Fatal(err)
	}
	if info.Format != "png" || info.Width != 30 || info.Height != 7 || info.Pixels() != 210 {
		t.Errorf("info = %+v", info)
	}
}

func TestTesseract_Recognize(t *testing.T) {
	var input string
	runner := &fakeRunner{fn: func(c procrun.Command) (*procrun.Result, error) {
		input = c.Args[0]
		if _, err := os.Stat(input); err != nil {
			t.Errorf("input not written: %v", err)
		}
		return &procrun.Result{Stdout: []byte("  hello\nworld \n")}, nil
	}}
	ts := &Tesseract{Languages: "rus+eng", MemoryLimit: 512 << 20, Runner: runner}
	ctx, dir := testCtx(t)

	got, err := ts.Recognize(ctx, []byte("img"), "png")
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello\nworld" {
		t.Errorf("got %q", got)
	}
	c := runner.cmds[0]
	if c.Name != "tesseract" || c.Args[1] != "stdout" || argAfter(c.Args, "-l") != "rus+eng" {
		t.Errorf("command = %s %v", c.Name, c.Args)
	}
	if c.MemoryLimit != 512<<20 {
		t.Errorf("memory limit = %d", c.MemoryLimit)
	}
	if filepath.Dir(input) != dir || !strings.HasSuffix(input, ".png") {
		t.Errorf("input %q not under %q", input, dir)
	}
	if left := dirEntries(t, dir); len(left) != 0 {
		t.Errorf("temp files left: %v", left)
	}
}

func TestTesseract_ExtensionIsSanitized(t *testing.T) {
	var input string
	runner := &fakeRunner{fn: func(c procrun.Command) (*procrun.Result, error) {
		input = c.Args[0]
		return &procrun.Result{}, nil
	}}
	ctx, _ := testCtx(t)
	if _, err := (&Tesseract{Runner: runner}).Recognize(ctx, nil, "../x"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(input, ".img") {
		t.Errorf("input = %q", input)
	}
}

func TestConvertOffice(t *testing.T) {
	// WHAT: Legacy formats go through soffice and then the OOXML extractor.
	docx := zipOf(t, [2]string{"word/document.xml",
		`<w:document ` + nsW + `><w:body>` + wPara("converted body") + `</w:body></w:document>`})
	runner := &fakeRunner{fn: func(c procrun.Command) (*procrun.Result, error) {
		out := argAfter(c.Args, "--outdir")
		return &procrun.Result{}, os.WriteFile(filepath.Join(out, "input.docx"), docx, 0o600)
	}}
	p := newTestPipeline(t, allCaps, Config{Runner: runner})
	ctx, dir := testCtx(t)

	got, err := p.Extract(ctx, []byte("legacy bytes"), "old.doc")
	if err != nil {
		t.Fatal(err)
	}
	if got != "converted body" {
		t.Errorf("got %q", got)
	}
	c := runner.cmds[0]
	if argAfter(c.Args, "--convert-to") != "docx" || !slices.Contains(c.Args, "--headless") {
		t.Errorf("args = %v", c.Args)
	}
	if !strings.HasPrefix(c.Args[0], "-env:UserInstallation=file://") {
		t.Errorf("no private profile: %v", c.Args)
	}
	if c.MemoryLimit != 1536<<20 {
		t.Errorf("memory limit = %d", c.MemoryLimit)
	}
	if left := dirEntries(t, dir); len(left) != 0 {
		t.Errorf("temp files left: %v", left)
	}
}

func TestConvertOffice_Failures(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		run  func(procrun.Command) (*procrun.Result, error)
		want error
	}{
		{
			name: "no office suite",
			caps: Capabilities{},
			want: ErrCapability,
		},
		{
			name: "converter timeout",
			caps: allCaps,
			run: func(procrun.Command) (*procrun.Result, error) {
				return nil, fmt.Errorf("%w: soffice", procrun.ErrTimeout)
			},
			want: procrun.ErrTimeout,
		},
		{
			name: "converter out of memory",
			caps: allCaps,
			run: func(procrun.Command) (*procrun.Result, error) {
				return nil, fmt.Errorf("%w: soffice killed", procrun.ErrMemoryExceeded)
			},
			want: procrun.ErrMemoryExceeded,
		},
		{
			name: "no output produced",
			caps: allCaps,
			run: func(procrun.Command) (*procrun.Result, error) {
				return &procrun.Result{}, nil
			},
			want: ErrCorrupted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.caps, Config{Runner: &fakeRunner{fn: tt.run}})
			ctx, dir := testCtx(t)
			for _, name := range []string{"old.doc", "old.ppt"} {
				_, err := p.Extract(ctx, []byte("legacy"), name)
				if !errors.Is(err, tt.want) {
					t.Errorf("%s: err = %v, want %v", name, err, tt.want)
				}
			}
			if left := dirEntries(t, dir); len(left) != 0 {
				t.Errorf("temp files left: %v", left)
			}
		})
	}
}
