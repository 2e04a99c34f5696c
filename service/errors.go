package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hazyhaar/extracttext/archive"
	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/horosafe"
	"github.com/hazyhaar/extracttext/procrun"
	"github.com/hazyhaar/extracttext/sanitize"
	"github.com/hazyhaar/extracttext/webextract"
)

var (
	// ErrTooLarge is returned when the payload exceeds MaxFileSize.
	ErrTooLarge = errors.New("service: file size exceeds maximum allowed size")

	// ErrEmptyFile is returned for zero-length payloads.
	ErrEmptyFile = errors.New("service: file is empty")

	// ErrInvalidBase64 is returned when the base64 payload cannot be decoded.
	ErrInvalidBase64 = errors.New("service: invalid base64 payload")

	// ErrInvalidURL is returned for empty or non-http(s) URLs.
	ErrInvalidURL = errors.New("service: url must start with http:// or https://")

	// ErrTimeout is returned when processing exceeds the request deadline.
	ErrTimeout = errors.New("service: processing timed out")
)

// Public messages. Internal causes are logged, never returned.
const (
	msgCorrupted   = "File is corrupted or the format is not supported."
	msgMismatch    = "File extension does not match its content. Possible file type spoofing."
	msgBlocked     = "Access to internal IP addresses is prohibited for security reasons."
	msgBadBase64   = "Invalid base64 format. Make sure the file is correctly base64-encoded."
	msgPageTimeout = "Failed to load page: timeout exceeded."
)

// classify maps an error to its HTTP status and the message shown to the
// caller. timeout is the processing deadline in seconds, used in the
// timeout message.
func classify(err error, timeout int) (int, string) {
	var pe *procrun.ProcessError
	switch {
	case err == nil:
		return http.StatusOK, ""

	// Input rejection.
	case errors.Is(err, ErrInvalidBase64):
		return http.StatusBadRequest, msgBadBase64
	case errors.Is(err, ErrInvalidURL):
		return http.StatusBadRequest, "URL must start with http:// or https://"
	case errors.Is(err, webextract.ErrBlocked), errors.Is(err, horosafe.ErrUnsafeURL):
		return http.StatusBadRequest, msgBlocked
	case errors.Is(err, ErrEmptyFile):
		return http.StatusUnprocessableEntity, "File is empty"
	case errors.Is(err, ErrTooLarge), errors.Is(err, webextract.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "File size exceeds maximum allowed size"
	case errors.Is(err, archive.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge, "Archive size exceeds maximum allowed size"
	case errors.Is(err, archive.ErrBombDetected), errors.Is(err, docpipe.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "Extracted content exceeds maximum allowed size"

	// Type.
	case errors.Is(err, sanitize.ErrTypeMismatch):
		return http.StatusUnsupportedMediaType, msgMismatch
	case errors.Is(err, docpipe.ErrUnsupported):
		return http.StatusUnsupportedMediaType, unsupportedMessage(err)

	// Resource limits.
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout, fmt.Sprintf("Processing exceeded the time limit (%d seconds).", timeout)
	case errors.Is(err, webextract.ErrFetchTimeout):
		return http.StatusGatewayTimeout, msgPageTimeout
	case errors.Is(err, procrun.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Processing timed out."
	case errors.Is(err, procrun.ErrMemoryExceeded):
		return http.StatusGatewayTimeout, "Processing exceeded the memory limit."
	case errors.Is(err, procrun.ErrLimits):
		return http.StatusInternalServerError, "Processing is unavailable: resource limits could not be applied."

	// Network.
	case errors.Is(err, webextract.ErrConnection), errors.Is(err, webextract.ErrHTTPStatus),
		errors.Is(err, webextract.ErrTooManyRedirects):
		return http.StatusNotFound, "Failed to load page: " + publicCause(err)

	case errors.Is(err, archive.ErrNestingExceeded):
		return http.StatusUnprocessableEntity, "Archive nesting exceeds the maximum allowed depth."
	case errors.Is(err, docpipe.ErrCapability):
		return http.StatusUnprocessableEntity, "Required processing capability is unavailable: " + publicCause(err)
	case errors.Is(err, docpipe.ErrImageRejected):
		return http.StatusUnprocessableEntity, "Image rejected: " + publicCause(err)
	case errors.As(err, &pe), errors.Is(err, docpipe.ErrCorrupted):
		return http.StatusUnprocessableEntity, msgCorrupted
	}
	return http.StatusUnprocessableEntity, msgCorrupted
}

// unsupportedMessage names the rejected extension.
func unsupportedMessage(err error) string {
	if cause := publicCause(err); cause != "" {
		return "Unsupported file format: " + cause + "."
	}
	return "Unsupported file format."
}

// publicCause returns the detail after the last sentinel prefix of a
// wrapped error ("docpipe: unsupported file format: xyz" → "xyz").
func publicCause(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return strings.TrimSpace(msg[i+2:])
	}
	return msg
}
