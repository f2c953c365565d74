package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var loremEntries = []string{"mimetype", "EPUB/lorem.xhtml", "EPUB/lorem.css", "EPUB/lorem.opf", "META-INF/container.xml"}

func writeZip(t *testing.T, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := zip.NewWriter(f)
	for _, name := range names {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := fw.Write([]byte("x")); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestOpen_ListsEntriesInOrder(t *testing.T) {
	path := writeZip(t, loremEntries...)
	idx := Open(path, zap.NewNop())
	if diff := cmp.Diff(loremEntries, idx.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_FailuresYieldEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.epub")
	if err := os.WriteFile(corrupt, []byte("definitely not a zip"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "missing", path: filepath.Join(dir, "foobar.epub")},
		{name: "corrupt", path: corrupt},
		{name: "directory", path: dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			idx := Open(tt.path, zap.New(core))
			if !idx.Empty() {
				t.Fatalf("expected empty index, got %v", idx.Entries())
			}
			if logs.Len() != 1 {
				t.Fatalf("expected one warning, got %d", logs.Len())
			}
		})
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	if idx := Open("", zap.New(core)); !idx.Empty() {
		t.Fatalf("expected empty index")
	}
	if logs.Len() != 0 {
		t.Fatalf("empty path must not log")
	}
}

func TestNormalize(t *testing.T) {
	idx := FromEntries(loremEntries...)
	tests := []struct {
		in, want string
	}{
		{"foo/bar/mimetype", "mimetype"},
		{"foo/bar/notfound", "foo/bar/notfound"},
		{"invalid-ncx.epub/EPUB/lorem.xhtml", "EPUB/lorem.xhtml"},
		{"EPUB/lorem.css", "EPUB/lorem.css"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := idx.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_EmptyIndexPassesThrough(t *testing.T) {
	var idx *Index
	in := "sample.epub/OEBPS/Styles/stylesheet.css"
	if got := idx.Normalize(in); got != in {
		t.Fatalf("nil index changed %q to %q", in, got)
	}
	if got := FromEntries().Normalize(in); got != in {
		t.Fatalf("empty index changed %q to %q", in, got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	idx := FromEntries("a.css", "OEBPS/a.css", "OEBPS/Text/ch1.xhtml", "OEBPS/")
	inputs := []string{
		"book.epub/OEBPS/a.css",
		"book.epub/a.css",
		"OEBPS/Text/ch1.xhtml",
		"book.epub/OEBPS/Text/ch1.xhtml",
		"unrelated.txt",
	}
	for _, in := range inputs {
		once := idx.Normalize(in)
		if twice := idx.Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
	// полное имя записи не должно укорачиваться до более короткой записи
	if got := idx.Normalize("OEBPS/a.css"); got != "OEBPS/a.css" {
		t.Fatalf("entry normalised to %q", got)
	}
	if got := idx.Normalize("book.epub/OEBPS/"); got != "book.epub/OEBPS/" {
		t.Fatalf("directory entries must not be used, got %q", got)
	}
}

func TestNormalize_UnicodeForms(t *testing.T) {
	decomposed := "OEBPS/Text/cafe\u0301.xhtml"
	composed := "book.epub/OEBPS/Text/caf\u00e9.xhtml"
	idx := FromEntries(decomposed)
	if got := idx.Normalize(composed); got != decomposed {
		t.Fatalf("expected NFC match to return archive entry %q, got %q", decomposed, got)
	}
}
