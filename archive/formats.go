package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"github.com/ulikunitz/xz"

	"github.com/hazyhaar/extracttext/docpipe"
)

// source is one opened container.
type source interface {
	// declared returns the total uncompressed size the headers announce.
	declared() (int64, error)
	// walk calls fn for every regular member, in archive order. open is only
	// valid during the call.
	walk(fn func(name string, open func() (io.ReadCloser, error)) error) error
}

type decompressor func(io.Reader) (io.Reader, error)

func gunzip(r io.Reader) (io.Reader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return zr, nil
}

func bunzip2(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil }

func unxz(r io.Reader) (io.Reader, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return xr, nil
}

var decompressors = map[string]decompressor{
	"gz": gunzip, "tar.gz": gunzip,
	"bz2": bunzip2, "tar.bz2": bunzip2,
	"xz": unxz, "tar.xz": unxz,
}

// openSource picks the container reader for ext. streamLimit bounds the
// decompressed bytes read while scanning compressed tar streams.
func openSource(ext, name string, data []byte, streamLimit int64) (source, error) {
	switch ext {
	case "zip":
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, err
		}
		return zipSource{zr}, nil
	case "tar":
		return &tarSource{data: data, limit: streamLimit}, nil
	case "tar.gz", "tar.bz2", "tar.xz":
		return &tarSource{data: data, dec: decompressors[ext], limit: streamLimit}, nil
	case "gz", "bz2", "xz":
		dec := decompressors[ext]
		ts := &tarSource{data: data, dec: dec, limit: streamLimit}
		if ts.isTar() {
			return ts, nil
		}
		return &singleSource{name: stem(name, ext), data: data, dec: dec}, nil
	case "rar":
		if _, err := rardecode.NewReader(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		return rarSource{data}, nil
	case "7z":
		sr, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, err
		}
		return sevenZipSource{sr}, nil
	}
	return nil, fmt.Errorf("%w: archive type %q", docpipe.ErrUnsupported, ext)
}

// stem names the single member of a bare compressed file: "notes.txt.gz"
// holds "notes.txt".
func stem(name, ext string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	suffix := "." + ext
	if len(base) > len(suffix) && strings.EqualFold(base[len(base)-len(suffix):], suffix) {
		return base[:len(base)-len(suffix)]
	}
	return base
}

// addSize adds a declared member size to total, saturating at MaxInt64.
// Negative int64 sizes arrive here as huge values and saturate too.
func addSize(total int64, n uint64) int64 {
	if n > math.MaxInt64 || int64(n) > math.MaxInt64-total {
		return math.MaxInt64
	}
	return total + int64(n)
}

type zipSource struct{ zr *zip.Reader }

func (s zipSource) declared() (int64, error) {
	var total int64
	for _, f := range s.zr.File {
		if !f.FileInfo().IsDir() {
			total = addSize(total, f.UncompressedSize64)
		}
	}
	return total, nil
}

func (s zipSource) walk(fn func(string, func() (io.ReadCloser, error)) error) error {
	for _, f := range s.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := fn(f.Name, f.Open); err != nil {
			return err
		}
	}
	return nil
}

type tarSource struct {
	data  []byte
	dec   decompressor // nil for plain tar
	limit int64
}

func (s *tarSource) stream() (*tar.Reader, error) {
	var r io.Reader = bytes.NewReader(s.data)
	if s.dec != nil {
		dr, err := s.dec(r)
		if err != nil {
			return nil, err
		}
		r = &boundedReader{r: dr, left: s.limit}
	}
	return tar.NewReader(r), nil
}

// isTar reports whether the decompressed stream starts with a tar header.
func (s *tarSource) isTar() bool {
	tr, err := s.stream()
	if err != nil {
		return false
	}
	_, err = tr.Next()
	return err == nil
}

func (s *tarSource) declared() (int64, error) {
	tr, err := s.stream()
	if err != nil {
		return 0, err
	}
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
		if hdr.Typeflag == tar.TypeReg {
			total = addSize(total, uint64(hdr.Size))
		}
	}
}

func (s *tarSource) walk(fn func(string, func() (io.ReadCloser, error)) error) error {
	tr, err := s.stream()
	if err != nil {
		return err
	}
	open := func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(hdr.Name, open); err != nil {
			return err
		}
	}
}

// singleSource is a bare .gz/.bz2/.xz file. Its size is unknown until
// written, so only the counting writer bounds it.
type singleSource struct {
	name string
	data []byte
	dec  decompressor
}

func (s *singleSource) declared() (int64, error) { return 0, nil }

func (s *singleSource) walk(fn func(string, func() (io.ReadCloser, error)) error) error {
	dr, err := s.dec(bytes.NewReader(s.data))
	if err != nil {
		return err
	}
	return fn(s.name, func() (io.ReadCloser, error) { return io.NopCloser(dr), nil })
}

type rarSource struct{ data []byte }

func (s rarSource) declared() (int64, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(s.data))
	if err != nil {
		return 0, err
	}
	var total int64
	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
		if !hdr.IsDir && !hdr.UnKnownSize {
			total = addSize(total, uint64(hdr.UnPackedSize))
		}
	}
}

func (s rarSource) walk(fn func(string, func() (io.ReadCloser, error)) error) error {
	rr, err := rardecode.NewReader(bytes.NewReader(s.data))
	if err != nil {
		return err
	}
	open := func() (io.ReadCloser, error) { return io.NopCloser(rr), nil }
	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.IsDir {
			continue
		}
		if err := fn(hdr.Name, open); err != nil {
			return err
		}
	}
}

type sevenZipSource struct{ sr *sevenzip.Reader }

func (s sevenZipSource) declared() (int64, error) {
	var total int64
	for _, f := range s.sr.File {
		if !f.FileInfo().IsDir() {
			total = addSize(total, f.UncompressedSize)
		}
	}
	return total, nil
}

func (s sevenZipSource) walk(fn func(string, func() (io.ReadCloser, error)) error) error {
	for _, f := range s.sr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := fn(f.Name, f.Open); err != nil {
			return err
		}
	}
	return nil
}

// boundedReader fails once more than left bytes have been read from a
// decompressed stream.
type boundedReader struct {
	r    io.Reader
	left int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return n, fmt.Errorf("%w: decompressed stream", ErrBombDetected)
	}
	return n, err
}
