package archive

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Lines in bulk exports can be large but are bounded; a single record never
// approaches this.
const maxLineSize = 8 << 20

// lineReader streams one decompressed line at a time from an archive file.
// Memory stays constant regardless of file size.
type lineReader struct {
	file    *os.File
	decoder io.Reader
	closers []io.Closer
	scanner *bufio.Scanner
}

func openLineReader(path string) (*lineReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	reader := &lineReader{file: file, closers: []io.Closer{file}}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		reader.decoder = decoder
		reader.closers = append(reader.closers, closerFunc(func() error {
			decoder.Close()
			return nil
		}))
	case ".gz", ".gzip":
		decoder, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		reader.decoder = decoder
		reader.closers = append(reader.closers, decoder)
	default:
		reader.decoder = file
	}

	scanner := bufio.NewScanner(reader.decoder)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	reader.scanner = scanner
	return reader, nil
}

func (r *lineReader) Scan() bool {
	return r.scanner.Scan()
}

func (r *lineReader) Line() []byte {
	return r.scanner.Bytes()
}

func (r *lineReader) Err() error {
	return r.scanner.Err()
}

func (r *lineReader) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
