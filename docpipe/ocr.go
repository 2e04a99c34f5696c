// CLAUDE:SUMMARY OCR engine abstraction and the tesseract implementation run through procrun.
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/extracttext/procrun"
)

// OCR recognizes text in an encoded image.
type OCR interface {
	// Recognize returns the text of img. ext is the image type token
	// ("png", "jpg", ...) used to name the temp file.
	Recognize(ctx context.Context, img []byte, ext string) (string, error)
}

// Tesseract runs the tesseract binary on a temp file.
type Tesseract struct {
	Path        string // binary; default "tesseract"
	Languages   string // -l argument
	Timeout     time.Duration
	MemoryLimit int64
	Runner      procrun.Runner
}

// Recognize writes img under the request temp dir and runs
// "tesseract <in> stdout -l <langs>". The temp file is removed on every path.
func (t *Tesseract) Recognize(ctx context.Context, img []byte, ext string) (string, error) {
	if t.Runner == nil {
		return "", errors.New("docpipe: tesseract has no runner")
	}
	f, err := os.CreateTemp(TempDir(ctx), "tmp_ocr_*."+sanitizeExt(ext))
	if err != nil {
		return "", fmt.Errorf("docpipe: ocr temp file: %w", err)
	}
	in := f.Name()
	defer os.Remove(in)
	if _, err := f.Write(img); err != nil {
		f.Close()
		return "", fmt.Errorf("docpipe: ocr temp write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("docpipe: ocr temp close: %w", err)
	}

	bin := t.Path
	if bin == "" {
		bin = "tesseract"
	}
	args := []string{in, "stdout"}
	if langs := strings.TrimSpace(t.Languages); langs != "" {
		args = append(args, "-l", langs)
	}
	res, err := t.Runner.Run(ctx, procrun.Command{
		Name:        bin,
		Args:        args,
		Dir:         filepath.Dir(in),
		Timeout:     t.Timeout,
		MemoryLimit: t.MemoryLimit,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "img"
		}
	}
	if ext == "" {
		return "img"
	}
	return ext
}
