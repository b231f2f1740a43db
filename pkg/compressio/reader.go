// Package compressio provides transparent decompression of readers based on
// magic-byte detection.
package compressio

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/ulikunitz/xz"
)

// Format identifies a detected compression format.
type Format string

const (
	// FormatNone means the data is not compressed (or not recognized).
	FormatNone Format = ""
	// FormatGzip is RFC 1952 gzip.
	FormatGzip Format = "gzip"
	// FormatBzip2 is bzip2.
	FormatBzip2 Format = "bzip2"
	// FormatXZ is xz/LZMA2.
	FormatXZ Format = "xz"
	// FormatBrotli is brotli. Brotli has no magic bytes and is only selected
	// by file extension or explicit format.
	FormatBrotli Format = "br"
)

// Detect inspects the first bytes of the header and reports the compression
// format. Brotli cannot be detected this way.
func Detect(header []byte) Format {
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		return FormatGzip
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return FormatBzip2
	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		return FormatXZ
	default:
		return FormatNone
	}
}

// FormatFromFilename returns the compression format implied by the filename
// extension. Unknown extensions map to FormatNone.
func FormatFromFilename(name string) Format {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return FormatGzip
	case strings.HasSuffix(name, ".bz2"):
		return FormatBzip2
	case strings.HasSuffix(name, ".xz"):
		return FormatXZ
	case strings.HasSuffix(name, ".br"):
		return FormatBrotli
	default:
		return FormatNone
	}
}

// NewReader wraps r with a decompressing reader, auto-detecting gzip, bzip2,
// and xz from magic bytes. Unrecognized data passes through unchanged.
func NewReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	return NewReaderFormat(br, Detect(header))
}

// NewReaderFormat wraps r with a decompressing reader for a known format.
// FormatNone passes the reader through unchanged.
func NewReaderFormat(r io.Reader, format Format) (io.Reader, error) {
	switch format {
	case FormatGzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil
	case FormatBzip2:
		return bzip2.NewReader(r), nil
	case FormatXZ:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	case FormatBrotli:
		return brotli.NewReader(r), nil
	case FormatNone:
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported compression format %q", format)
	}
}
