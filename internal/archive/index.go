// Package archive lists the entries of a zip container (an EPUB) and uses
// them to normalise file names reported by the validator.
package archive

import (
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Index is the ordered list of entry names of one archive. It is built once
// per run and never modified afterwards.
type Index struct {
	entries []string
	// NFC-формы для сравнения, индексы совпадают с entries
	folded []string
}

// Open reads the central directory of the archive at path. Any failure is
// logged as a warning and yields an empty index; Open never fails.
func Open(path string, log *zap.Logger) *Index {
	if path == "" {
		return &Index{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		log.Warn("couldn't get ZIP entries", zap.String("archive", path), zap.Error(err))
		return &Index{}
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			log.Debug("closing archive", zap.String("archive", path), zap.Error(closeErr))
		}
	}()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return FromEntries(names...)
}

// FromEntries builds an index from a known list of entry names.
func FromEntries(entries ...string) *Index {
	idx := &Index{
		entries: make([]string, len(entries)),
		folded:  make([]string, len(entries)),
	}
	copy(idx.entries, entries)
	for i, e := range entries {
		idx.folded[i] = norm.NFC.String(e)
	}
	return idx
}

// Entries returns a copy of the entry names in central-directory order.
func (idx *Index) Entries() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Empty reports whether no normalisation is possible.
func (idx *Index) Empty() bool {
	return idx.Len() == 0
}

// Normalize replaces filename by the longest entry that is a suffix of it,
// so an entry name always normalises to itself. Without entries, or without
// a match, filename is returned unchanged. Directory entries are never used
// as replacements.
func (idx *Index) Normalize(filename string) string {
	if idx.Empty() || filename == "" {
		return filename
	}
	folded := norm.NFC.String(filename)
	best := -1
	for i, entry := range idx.folded {
		if entry == "" || strings.HasSuffix(entry, "/") {
			continue
		}
		if !strings.HasSuffix(folded, entry) {
			continue
		}
		if best < 0 || len(entry) > len(idx.folded[best]) {
			best = i
		}
	}
	if best < 0 {
		return filename
	}
	return idx.entries[best]
}
