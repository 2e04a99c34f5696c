// CLAUDE:SUMMARY PDF extractor: per-page text (ledongthuc/pdf, content-stream fallback), embedded image OCR with rendered-crop fallback, page-render OCR.
// CLAUDE:DEPENDS docpipe/quality.go, docpipe/image.go, docpipe/pdfcontent.go
package docpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/extracttext/procrun"
)

// pdfRenderDPI is the rasterization resolution for page-render OCR.
const pdfRenderDPI = 300

var errNoPlacement = errors.New("image is not drawn by the page content")

// extractPDF returns "[Page N]" text blocks, each followed by the OCR text of
// the page's images as "[Image K]" blocks when image OCR is on. K is the
// position of the image on its page in drawing order, so a skipped image
// leaves a gap. A page whose text is unusable and whose images yield nothing
// is rendered and OCRed whole; that text replaces the page text.
func (p *Pipeline) extractPDF(ctx context.Context, data []byte) (string, error) {
	mctx, modelErr := readPDFModel(data)

	pages, err := pdfPageTexts(data)
	if err != nil {
		if modelErr != nil {
			return "", fmt.Errorf("docpipe: pdf: %w", err)
		}
		p.logger.Debug("docpipe: pdf text reader failed, using stream parser", "error", err)
		if pages, err = p.streamPageTexts(mctx); err != nil {
			return "", err
		}
	}

	// Without a pdfcpu model the images are unknown; assume a scan.
	hasImages := mctx == nil || pdfHasImages(mctx)
	ocrOn := !p.cfg.DisablePDFImageOCR && p.caps.OCR
	r := &pageRenderer{p: p, data: data}
	if mctx != nil {
		r.boxes, _ = mctx.PageBoundaries(nil)
	}
	defer r.close()

	var blocks []string
	for i, text := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n := i + 1
		text = strings.TrimSpace(text)
		if ocrOn {
			var images []imageText
			if mctx != nil {
				if images, err = p.pdfPageImages(ctx, mctx, n, r); err != nil {
					return "", err
				}
			}
			if q := scorePage(text); len(images) == 0 && q.needsOCR(hasImages) {
				if ocr := r.ocrPage(ctx, n); ocr != "" {
					p.logger.Debug("docpipe: pdf page text replaced by page ocr", "page", n,
						"chars", q.Chars, "printable", q.Printable)
					text = ocr
				}
			}
			if text != "" {
				blocks = append(blocks, fmt.Sprintf("[Page %d]\n%s", n, text))
			}
			for _, im := range images {
				blocks = append(blocks, fmt.Sprintf("[Image %d]\n%s", im.index, im.text))
			}
			continue
		}
		if text != "" {
			blocks = append(blocks, fmt.Sprintf("[Page %d]\n%s", n, text))
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

func readPDFModel(data []byte) (*model.Context, error) {
	mctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return mctx, nil
}

// pdfPageTexts reads the plain text of every page. The reader panics on
// some malformed inputs; that is reported as an error.
func pdfPageTexts(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := rd.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		page := rd.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

// streamPageTexts reads page text straight from the content streams. The
// combined text is bounded by MaxExtractedSize.
func (p *Pipeline) streamPageTexts(mctx *model.Context) ([]string, error) {
	pages := make([]string, mctx.PageCount)
	var total int64
	for n := 1; n <= mctx.PageCount; n++ {
		content, err := readPageContent(mctx, n, p.cfg.MaxExtractedSize)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		if err != nil {
			p.logger.Debug("docpipe: pdf page content unreadable", "page", n, "error", err)
			continue
		}
		pages[n-1] = streamText(content)
		if total += int64(len(pages[n-1])); total > p.cfg.MaxExtractedSize {
			return nil, fmt.Errorf("%w: pdf text past %d bytes", ErrTooLarge, p.cfg.MaxExtractedSize)
		}
	}
	return pages, nil
}

// pdfHasImages reports whether any page uses an image XObject, falling back
// to a scan of the object table when the page image index is empty.
func pdfHasImages(mctx *model.Context) bool {
	if mctx.Optimize != nil {
		for _, objs := range mctx.Optimize.PageImages {
			if len(objs) > 0 {
				return true
			}
		}
	}
	for _, e := range mctx.Table {
		if e == nil || e.Free || e.Compressed {
			continue
		}
		sd, ok := e.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if st := sd.Subtype(); st != nil && *st == "Image" {
			return true
		}
	}
	return false
}

// imageText is the OCR text of the index-th image of a page.
type imageText struct {
	index int
	text  string
}

// pdfImage is an image XObject used by a page.
type pdfImage struct {
	name          string
	objNr         int
	width, height int      // as declared by the image dictionary
	rect          *pdfRect // nil when the content stream never draws it
}

// pageImages lists the images of a page: those the content stream draws, in
// drawing order, then the rest by object number. A content stream that
// cannot be read leaves every image unplaced.
func pageImages(mctx *model.Context, pageNr int, limit int64) (out []pdfImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("pdfcpu image panic: %v", r)
		}
	}()
	if mctx.Optimize == nil {
		return nil, nil
	}
	objNrs := pdfcpu.ImageObjNrs(mctx, pageNr)
	slices.Sort(objNrs)
	byName := make(map[string]int, len(objNrs))
	for _, nr := range objNrs {
		if obj := mctx.Optimize.ImageObjects[nr]; obj != nil {
			byName[obj.ResourceNames[pageNr-1]] = nr
		}
	}
	describe := func(nr int, rect *pdfRect) pdfImage {
		img := pdfImage{objNr: nr, rect: rect}
		obj := mctx.Optimize.ImageObjects[nr]
		if obj == nil {
			return img
		}
		img.name = obj.ResourceNames[pageNr-1]
		if sd := obj.ImageDict; sd != nil {
			if w := sd.IntEntry("Width"); w != nil {
				img.width = *w
			}
			if h := sd.IntEntry("Height"); h != nil {
				img.height = *h
			}
		}
		return img
	}

	content, err := readPageContent(mctx, pageNr, limit)
	placed := map[int]bool{}
	for _, pl := range xobjectPlacements(content) {
		nr, ok := byName[pl.Name]
		if !ok || placed[nr] {
			continue
		}
		placed[nr] = true
		rect := pl.Rect
		out = append(out, describe(nr, &rect))
	}
	for _, nr := range objNrs {
		if !placed[nr] {
			out = append(out, describe(nr, nil))
		}
	}
	return out, err
}

// pdfPageImages OCRs the images of one page. Images whose declared size
// exceeds PDFImageMaxSide or PDFImageMaxPixels are skipped unread. An image
// that cannot be decoded directly is cropped from the rendered page at its
// placement. Only context errors are returned.
func (p *Pipeline) pdfPageImages(ctx context.Context, mctx *model.Context, pageNr int, r *pageRenderer) ([]imageText, error) {
	imgs, err := pageImages(mctx, pageNr, p.cfg.MaxExtractedSize)
	if err != nil {
		p.logger.Debug("docpipe: pdf page images incomplete", "page", pageNr, "error", err)
	}
	var out []imageText
	for i, img := range imgs {
		k := i + 1
		if p.pdfImageOversized(img.width, img.height) {
			p.logger.Debug("docpipe: pdf image skipped", "page", pageNr, "image", k, "obj", img.objNr,
				"width", img.width, "height", img.height)
			continue
		}
		text, err := p.ocrEmbedded(ctx, mctx, img)
		if err != nil && ctx.Err() == nil {
			p.logger.Debug("docpipe: pdf image not decodable, cropping rendered page",
				"page", pageNr, "image", k, "error", err)
			text, err = r.ocrRegion(ctx, pageNr, img.rect)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			p.logger.Debug("docpipe: pdf image ocr failed", "page", pageNr, "image", k, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, imageText{index: k, text: text})
		}
	}
	return out, nil
}

func (p *Pipeline) pdfImageOversized(w, h int) bool {
	return w > p.cfg.PDFImageMaxSide || h > p.cfg.PDFImageMaxSide ||
		int64(w)*int64(h) > p.cfg.PDFImageMaxPixels
}

// ocrEmbedded decodes an image XObject with pdfcpu and OCRs it.
func (p *Pipeline) ocrEmbedded(ctx context.Context, mctx *model.Context, img pdfImage) (text string, err error) {
	obj := mctx.Optimize.ImageObjects[img.objNr]
	if obj == nil {
		return "", fmt.Errorf("image object %d not found", img.objNr)
	}
	raw, err := func() (raw []byte, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("pdfcpu image panic: %v", r)
			}
		}()
		m, err := pdfcpu.ExtractImage(mctx, obj.ImageDict, false, img.name, img.objNr, false)
		if err != nil {
			return nil, err
		}
		if m == nil || m.Reader == nil {
			return nil, fmt.Errorf("image object %d has no data", img.objNr)
		}
		return io.ReadAll(io.LimitReader(m.Reader, p.cfg.MaxExtractedSize+1))
	}()
	if err != nil {
		return "", err
	}
	if int64(len(raw)) > p.cfg.MaxExtractedSize {
		return "", fmt.Errorf("%w: image object %d", ErrTooLarge, img.objNr)
	}
	return p.RecognizeImage(ctx, raw)
}

// pageRenderer rasterizes single pages with pdftoppm. The PDF is written to
// disk once, on first use; the last rendered page is kept for cropping.
type pageRenderer struct {
	p     *Pipeline
	data  []byte
	boxes []model.PageBoundaries
	dir   string
	in    string
	err   error

	pageNr   int
	rendered []byte
	bitmap   image.Image
}

// render returns the PNG of a page at pdfRenderDPI.
func (r *pageRenderer) render(ctx context.Context, pageNr int) ([]byte, error) {
	if r.rendered != nil && r.pageNr == pageNr {
		return r.rendered, nil
	}
	if err := r.p.caps.Require(CapPageRender); err != nil {
		return nil, err
	}
	if r.dir == "" && r.err == nil {
		r.dir, r.err = os.MkdirTemp(TempDir(ctx), "tmp_pdf_*")
		if r.err == nil {
			r.in = filepath.Join(r.dir, "in.pdf")
			r.err = os.WriteFile(r.in, r.data, 0o600)
		}
		if r.err != nil {
			r.p.logger.Warn("docpipe: pdf render setup failed", "error", r.err)
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	prefix := filepath.Join(r.dir, "page"+strconv.Itoa(pageNr))
	bin := r.p.caps.PdftoppmPath
	if bin == "" {
		bin = "pdftoppm"
	}
	_, err := r.p.cfg.Runner.Run(ctx, procrun.Command{
		Name: bin,
		Args: []string{
			"-f", strconv.Itoa(pageNr), "-l", strconv.Itoa(pageNr),
			"-r", strconv.Itoa(pdfRenderDPI), "-png", "-singlefile", r.in, prefix,
		},
		Dir:         r.dir,
		Timeout:     r.p.cfg.ToolTimeout,
		MemoryLimit: r.p.cfg.SubprocessMemory,
	})
	if err != nil {
		return nil, err
	}
	out, err := os.ReadFile(prefix + ".png")
	os.Remove(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("rendered page %d: %w", pageNr, err)
	}
	info, err := InspectImage(out)
	if err != nil {
		return nil, err
	}
	if info.Pixels() > r.p.cfg.PDFImageMaxPixels {
		return nil, fmt.Errorf("%w: rendered page %d is %dx%d", ErrImageRejected, pageNr, info.Width, info.Height)
	}
	r.pageNr, r.rendered, r.bitmap = pageNr, out, nil
	return out, nil
}

// ocrPage OCRs the whole rendered page. Failures yield "".
func (r *pageRenderer) ocrPage(ctx context.Context, pageNr int) string {
	img, err := r.render(ctx, pageNr)
	if err != nil {
		r.p.logger.Debug("docpipe: pdf page render failed", "page", pageNr, "error", err)
		return ""
	}
	text, err := r.p.RecognizeImage(ctx, img)
	if err != nil {
		r.p.logger.Debug("docpipe: rendered page ocr failed", "page", pageNr, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// ocrRegion OCRs the part of the rendered page covered by rect, given in
// default user space.
func (r *pageRenderer) ocrRegion(ctx context.Context, pageNr int, rect *pdfRect) (string, error) {
	if rect == nil {
		return "", errNoPlacement
	}
	if pageNr > len(r.boxes) {
		return "", fmt.Errorf("page %d has no media box", pageNr)
	}
	pb := r.boxes[pageNr-1]
	if rot := (pb.Rot%360 + 360) % 360; rot != 0 {
		return "", fmt.Errorf("page %d is rotated %d degrees", pageNr, rot)
	}
	box := pb.MediaBox()
	if box == nil || box.Width() <= 0 || box.Height() <= 0 {
		return "", fmt.Errorf("page %d has no media box", pageNr)
	}
	if _, err := r.render(ctx, pageNr); err != nil {
		return "", err
	}
	if r.bitmap == nil {
		bm, err := png.Decode(bytes.NewReader(r.rendered))
		if err != nil {
			return "", fmt.Errorf("rendered page %d: %w", pageNr, err)
		}
		r.bitmap = bm
	}

	px := pixelRect(*rect, box, r.bitmap.Bounds())
	if px.Empty() {
		return "", fmt.Errorf("image lies outside page %d", pageNr)
	}
	if int64(px.Dx())*int64(px.Dy()) > r.p.cfg.PDFImageMaxPixels {
		return "", fmt.Errorf("%w: crop %dx%d", ErrImageRejected, px.Dx(), px.Dy())
	}
	sub, ok := r.bitmap.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return "", fmt.Errorf("rendered page %d cannot be cropped", pageNr)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(px)); err != nil {
		return "", err
	}
	return r.p.RecognizeImage(ctx, buf.Bytes())
}

// pixelRect maps rect from user space onto a bitmap of box rendered to
// bounds. The bitmap's y axis points down.
func pixelRect(rect pdfRect, box *types.Rectangle, bounds image.Rectangle) image.Rectangle {
	sx := float64(bounds.Dx()) / box.Width()
	sy := float64(bounds.Dy()) / box.Height()
	px := image.Rect(
		int(math.Round((rect.X0-box.LL.X)*sx)),
		int(math.Round((box.UR.Y-rect.Y1)*sy)),
		int(math.Round((rect.X1-box.LL.X)*sx)),
		int(math.Round((box.UR.Y-rect.Y0)*sy)),
	)
	return px.Add(bounds.Min).Intersect(bounds)
}

func (r *pageRenderer) close() {
	if r.dir != "" {
		os.RemoveAll(r.dir)
	}
}
