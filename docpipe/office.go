// CLAUDE:SUMMARY Legacy .doc/.ppt conversion through headless LibreOffice, then the OOXML extractor.
package docpipe

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/hazyhaar/extracttext/procrun"
)

// convertOffice converts data from the legacy format `from` to `to` with
// "soffice --headless --convert-to", then runs next on the result. The
// scratch directory is removed on every path.
func (p *Pipeline) convertOffice(ctx context.Context, data []byte, from, to string, next func([]byte) (string, error)) (string, error) {
	dir, err := os.MkdirTemp(TempDir(ctx), "tmp_office_*")
	if err != nil {
		return "", fmt.Errorf("docpipe: office temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input."+from)
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return "", fmt.Errorf("docpipe: office temp write: %w", err)
	}
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return "", fmt.Errorf("docpipe: office out dir: %w", err)
	}

	bin := p.caps.OfficePath
	if bin == "" {
		bin = "soffice"
	}
	// A private profile lets conversions run concurrently.
	profile := (&url.URL{Scheme: "file", Path: filepath.Join(dir, "profile")}).String()
	_, err = p.cfg.Runner.Run(ctx, procrun.Command{
		Name: bin,
		Args: []string{
			"-env:UserInstallation=" + profile,
			"--headless", "--convert-to", to, "--outdir", outDir, in,
		},
		Dir:         dir,
		Timeout:     p.cfg.ToolTimeout,
		MemoryLimit: p.cfg.OfficeMemory,
	})
	if err != nil {
		return "", err
	}

	converted, err := os.ReadFile(filepath.Join(outDir, "input."+to))
	if err != nil {
		return "", fmt.Errorf("converted %s not found: %w", to, err)
	}
	return next(converted)
}
