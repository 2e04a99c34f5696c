package docpipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/extracttext/procrun"
)

var (
	// ErrUnsupported is returned for extensions outside the supported set.
	ErrUnsupported = errors.New("docpipe: unsupported file format")

	// ErrCorrupted is returned when a file cannot be parsed. The wrapped
	// cause is for logs only.
	ErrCorrupted = errors.New("docpipe: file is corrupted or unreadable")

	// ErrCapability is returned when a format needs a tool that is not available.
	ErrCapability = errors.New("docpipe: capability unavailable")

	// ErrImageRejected is returned when an image fails pre-OCR validation.
	ErrImageRejected = errors.New("docpipe: image rejected")

	// ErrTooLarge is returned when decompressed content exceeds its ceiling.
	ErrTooLarge = errors.New("docpipe: content exceeds size limit")

	// ErrNoArchiveHandler is returned for archives when no handler is registered.
	ErrNoArchiveHandler = errors.New("docpipe: no archive handler registered")

	errUnhandledFormat = errors.New("docpipe: no extractor for format")
)

// classify keeps the package and resource-limit errors intact and files
// everything else under ErrCorrupted.
func classify(f Format, err error) error {
	if err == nil {
		return nil
	}
	for _, keep := range []error{
		ErrCapability, ErrImageRejected, ErrTooLarge, ErrUnsupported, ErrCorrupted,
		procrun.ErrTimeout, procrun.ErrMemoryExceeded,
		context.DeadlineExceeded, context.Canceled,
	} {
		if errors.Is(err, keep) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrCorrupted, f, err)
}
