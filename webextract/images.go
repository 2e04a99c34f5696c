package webextract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/horosafe"
	"github.com/hazyhaar/extracttext/sanitize"
)

const (
	imageBatchSize = 2
	// imageGrace is added to the download timeout for the whole
	// download-and-OCR of one image.
	imageGrace = 5 * time.Second
)

var errSkipImage = errors.New("webextract: image skipped")

// images OCRs the discovered image sources. Inline images are processed
// first, one at a time; remote images follow in batches of two. Units keep
// discovery order within each group. Failed or textless images are dropped.
func (e *Extractor) images(ctx context.Context, srcs []string, pageURL string, s settings) []docpipe.Unit {
	if len(srcs) == 0 {
		return nil
	}
	if e.cfg.Pipeline.OCR() == nil {
		e.logger.Info("webextract: ocr unavailable, skipping images", "url", pageURL, "images", len(srcs))
		return nil
	}
	var inline, remote []string
	for _, src := range srcs {
		switch {
		case src == "":
		case strings.HasPrefix(src, "data:image/"):
			if s.base64Images {
				inline = append(inline, src)
			}
		case strings.HasPrefix(src, "data:"):
		default:
			remote = append(remote, src)
		}
	}

	var units []docpipe.Unit
	for _, src := range inline {
		u, err := e.inlineImage(ctx, src, s)
		if err != nil {
			e.logger.Debug("webextract: inline image skipped", "error", err)
			continue
		}
		units = append(units, u)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return units
	}
	for i := 0; i < len(remote); i += imageBatchSize {
		if ctx.Err() != nil {
			break
		}
		batch := remote[i:min(i+imageBatchSize, len(remote))]
		slots := make([]*docpipe.Unit, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for j, src := range batch {
			g.Go(func() error {
				ictx, cancel := context.WithTimeout(gctx, s.imageTimeout+imageGrace)
				defer cancel()
				u, err := e.remoteImage(ictx, base, src, pageURL, s)
				if err != nil {
					e.logger.Debug("webextract: image skipped", "src", src, "error", err)
					return nil
				}
				slots[j] = &u
				return nil
			})
		}
		_ = g.Wait()
		for _, u := range slots {
			if u != nil {
				units = append(units, *u)
			}
		}
	}
	return units
}

// inlineImage decodes and OCRs a data:image/...;base64 URI.
func (e *Extractor) inlineImage(ctx context.Context, src string, s settings) (docpipe.Unit, error) {
	header, payload, ok := strings.Cut(src, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return docpipe.Unit{}, fmt.Errorf("%w: not a base64 data uri", errSkipImage)
	}
	mimeType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	ext, ok := imageExtension(mimeType)
	if !ok {
		return docpipe.Unit{}, fmt.Errorf("%w: unsupported type %q", errSkipImage, mimeType)
	}
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(payload), ""))
	if err != nil {
		return docpipe.Unit{}, fmt.Errorf("%w: base64: %v", errSkipImage, err)
	}
	text, err := e.recognize(ctx, data, s)
	if err != nil {
		return docpipe.Unit{}, err
	}
	return docpipe.Unit{
		Filename: "base64_image." + ext,
		Path:     "data:image/" + ext + ";base64,[base64_data]",
		Size:     int64(len(data)),
		Type:     ext,
		Text:     text,
	}, nil
}

// remoteImage resolves src against base, re-validates it, downloads it with
// the page as Referer and OCRs it.
func (e *Extractor) remoteImage(ctx context.Context, base *url.URL, src, pageURL string, s settings) (docpipe.Unit, error) {
	ref, err := url.Parse(src)
	if err != nil {
		return docpipe.Unit{}, fmt.Errorf("%w: %v", errSkipImage, err)
	}
	imgURL := base.ResolveReference(ref).String()
	if err := e.cfg.URLValidator(ctx, imgURL); err != nil {
		e.logger.Warn("webextract: image url blocked", "url", imgURL, "error", err)
		return docpipe.Unit{}, fmt.Errorf("%w: %w", ErrBlocked, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return docpipe.Unit{}, err
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Referer", pageURL)
	resp, err := e.client(s, s.imageTimeout).Do(req)
	if err != nil {
		return docpipe.Unit{}, classifyFetch(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return docpipe.Unit{}, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	data, err := horosafe.LimitedReadAll(resp.Body, e.cfg.MaxFileSize)
	if err != nil {
		return docpipe.Unit{}, classifyFetch(err)
	}
	if len(data) == 0 {
		return docpipe.Unit{}, fmt.Errorf("%w: empty body", errSkipImage)
	}

	filename := path.Base(resp.Request.URL.Path)
	if filename == "/" || filename == "." {
		filename = "image"
	}
	if !strings.Contains(filename, ".") {
		ext, ok := imageExtension(resp.Header.Get("Content-Type"))
		if !ok {
			return docpipe.Unit{}, fmt.Errorf("%w: unsupported type %q", errSkipImage, resp.Header.Get("Content-Type"))
		}
		filename += "." + ext
	}
	text, err := e.recognize(ctx, data, s)
	if err != nil {
		return docpipe.Unit{}, err
	}
	ext, _ := sanitize.Extension(filename)
	return docpipe.Unit{
		Filename: filename,
		Path:     imgURL,
		Size:     int64(len(data)),
		Type:     ext,
		Text:     text,
	}, nil
}

// recognize applies the minimum-area filter, then OCR. Empty text skips
// the image.
func (e *Extractor) recognize(ctx context.Context, data []byte, s settings) (string, error) {
	info, err := docpipe.InspectImage(data)
	if err != nil {
		return "", err
	}
	if info.Pixels() < s.minImageArea {
		return "", fmt.Errorf("%w: %dx%d below %d pixels", errSkipImage, info.Width, info.Height, s.minImageArea)
	}
	text, err := e.cfg.Pipeline.RecognizeImage(ctx, data)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: no text", errSkipImage)
	}
	return text, nil
}

// imageExtension maps an image MIME type to an extension the OCR path
// accepts.
func imageExtension(mimeType string) (string, bool) {
	ext, ok := sanitize.ExtensionForMIME(mimeType)
	if !ok {
		return "", false
	}
	if f, ok := docpipe.Lookup(ext); !ok || f != docpipe.FormatImage {
		return "", false
	}
	return ext, true
}
