// CLAUDE:SUMMARY Pre-OCR image validation (format, pixel area), webp normalization and image extraction.
package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ocrFormats are the decoder names accepted before OCR.
var ocrFormats = map[string]bool{
	"jpeg": true, "png": true, "gif": true, "bmp": true, "tiff": true, "webp": true,
}

// ImageInfo is the decoded header of an image.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// Pixels returns the image area.
func (i ImageInfo) Pixels() int64 { return int64(i.Width) * int64(i.Height) }

// InspectImage decodes the header of data without decoding pixels.
func InspectImage(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: undecodable image: %v", ErrImageRejected, err)
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// ValidateImage checks that data is an OCR-able format within maxPixels.
func ValidateImage(data []byte, maxPixels int64) (ImageInfo, error) {
	info, err := InspectImage(data)
	if err != nil {
		return info, err
	}
	if !ocrFormats[info.Format] {
		return info, fmt.Errorf("%w: format %s", ErrImageRejected, info.Format)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return info, fmt.Errorf("%w: empty image", ErrImageRejected)
	}
	if maxPixels > 0 && info.Pixels() > maxPixels {
		return info, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageRejected, info.Width, info.Height, maxPixels)
	}
	return info, nil
}

// normalizeForOCR re-encodes formats tesseract does not read into PNG.
func normalizeForOCR(data []byte, info ImageInfo) ([]byte, string, error) {
	if info.Format != "webp" {
		return data, extForFormat(info.Format), nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode webp: %v", ErrImageRejected, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("docpipe: encode png: %w", err)
	}
	return buf.Bytes(), "png", nil
}

func extForFormat(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "tiff":
		return "tif"
	default:
		return format
	}
}

// RecognizeImage validates img and runs OCR on it. It returns ErrCapability
// when OCR is unavailable and ErrImageRejected when validation fails.
func (p *Pipeline) RecognizeImage(ctx context.Context, img []byte) (string, error) {
	if err := p.caps.Require(CapOCR); err != nil {
		return "", err
	}
	info, err := ValidateImage(img, p.cfg.MaxImagePixels)
	if err != nil {
		return "", err
	}
	data, ext, err := normalizeForOCR(img, info)
	if err != nil {
		return "", err
	}
	return p.ocr.Recognize(ctx, data, ext)
}

// extractImage is the direct-upload image path. Timeout and memory errors
// from the OCR run propagate; they are not folded into an empty result.
func (p *Pipeline) extractImage(ctx context.Context, data []byte, _ string) (string, error) {
	return p.RecognizeImage(ctx, data)
}
