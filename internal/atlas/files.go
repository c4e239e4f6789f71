package atlas

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// readCloser closes every layer of a decoding stack, innermost first.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openInput opens path and transparently decodes .gz, .zst and .zip inputs.
func openInput(path string) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return openZipMember(path)
	case ".gz", ".gzip":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case ".zst", ".zstd":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		rc := dec.IOReadCloser()
		return &readCloser{Reader: rc, closers: []io.Closer{rc, f}}, nil
	default:
		return os.Open(path)
	}
}

// openZipMember opens the first tabular member of a zip archive. HPA ships
// its downloads as single-file archives (rna_tissue_consensus.tsv.zip).
func openZipMember(path string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}

	var member *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(f.Name)) {
		case ".tsv", ".txt", ".tab":
			member = f
		}
		if member != nil {
			break
		}
	}
	if member == nil {
		for _, f := range zr.File {
			if !f.FileInfo().IsDir() {
				member = f
				break
			}
		}
	}
	if member == nil {
		zr.Close()
		return nil, errors.New("zip archive has no files")
	}

	rc, err := member.Open()
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("open zip member %s: %w", member.Name, err)
	}
	return &readCloser{Reader: rc, closers: []io.Closer{rc, zr}}, nil
}
