package atlas

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

func writeCompressed(t *testing.T, path string, encode func(w io.Writer) (io.WriteCloser, error)) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w, err := encode(f)
	if err != nil {
		t.Fatalf("encoder for %s: %v", path, err)
	}
	if _, err := io.WriteString(w, sampleExpression); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

// zipMember writes one archive member and closes the archive.
type zipMember struct {
	zw     *zip.Writer
	member io.Writer
}

func (z zipMember) Write(p []byte) (int, error) { return z.member.Write(p) }
func (z zipMember) Close() error { return z.zw.Close() }

func TestLoad_CompressedInputs(t *testing.T) {
	dir := t.TempDir()
	hist := writeFile(t, dir, "hist.txt", sampleHistology)
	plain := writeFile(t, dir, "expr.tsv", sampleExpression)

	gzPath := filepath.Join(dir, "expr.tsv.gz")
	writeCompressed(t, gzPath, func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriter(w), nil
	})

	zstPath := filepath.Join(dir, "expr.tsv.zst")
	writeCompressed(t, zstPath, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})

	zipPath := filepath.Join(dir, "rna_tissue_consensus.tsv.zip")
	writeCompressed(t, zipPath, func(w io.Writer) (io.WriteCloser, error) {
		zw := zip.NewWriter(w)
		if _, err := zw.Create("README.md"); err != nil {
			return nil, err
		}
		member, err := zw.Create("rna_tissue_consensus.tsv")
		if err != nil {
			return nil, err
		}
		return zipMember{zw: zw, member: member}, nil
	})

	encode := func(path string) string {
		t.Helper()
		a, err := Load(Options{ExpressionPath: path, HistologyPath: hist, Logger: quietLogger()})
		if err != nil {
			t.Fatalf("Load(%s) error: %v", filepath.Base(path), err)
		}
		m, err := a.ExpressionMatrix([]string{"TP53", "ALB"}, GroupByOrgan)
		if err != nil {
			t.Fatalf("ExpressionMatrix(%s) error: %v", filepath.Base(path), err)
		}
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return string(data)
	}

	want := encode(plain)
	for _, p := range []string{gzPath, zstPath, zipPath} {
		if got := encode(p); got != want {
			t.Errorf("%s: matrix differs from plain input\n got: %s\nwant: %s", filepath.Base(p), got, want)
		}
	}
}

func TestOpenInput_EmptyZip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "empty.zip")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := zip.NewWriter(f).Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := openInput(p); err == nil {
		t.Fatal("expected error for archive without files")
	}
}
