// CLAUDE:SUMMARY Security primitives: fail-closed SSRF URL validator, archive member path guard, bounded reads.
// Package horosafe holds the checks applied to untrusted input before it
// reaches the network or the filesystem: URL and dialed-address validation
// (SSRF), containment of archive member paths, and size-capped reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a member path would land outside its
// extraction directory.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("horosafe: payload exceeds size limit")

// SafePath joins an untrusted relative path under base. Any ".." segment,
// a volume name or an empty result is rejected; a leading separator is
// treated as relative to base.
func SafePath(base, userInput string) (string, error) {
	if userInput == "" || filepath.VolumeName(userInput) != "" {
		return "", ErrPathTraversal
	}
	for _, seg := range strings.FieldsFunc(userInput, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, userInput)
		}
	}
	root := filepath.Clean(base)
	cleaned := filepath.Join(root, filepath.Clean(string(filepath.Separator)+userInput))
	if cleaned == root || !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, userInput)
	}
	return cleaned, nil
}

// LimitedReadAll reads r to the end, failing with ErrTooLarge as soon as
// more than maxBytes are available.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}
