// Package dcache keeps validation reports on disk, keyed by the archive
// contents and the validator command line that produced them.
package dcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"epubwrap/internal/diag"
	"epubwrap/internal/observ"
)

// Current schema version - increment when Payload format changes
const schemaVersion uint16 = 1

// Key identifies one cached report.
type Key [sha256.Size]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// KeyFor digests the archive bytes and the command line. Changing either
// the book or the validator invocation gives a different key. Callers append
// ToolStamp to commandLine to cover in-place validator upgrades.
func KeyFor(archivePath, commandLine string) (Key, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return Key{}, err
	}
	defer f.Close()

	ah := sha256.New()
	if _, err := io.Copy(ah, f); err != nil {
		return Key{}, fmt.Errorf("hash %s: %w", archivePath, err)
	}
	ch := sha256.Sum256([]byte(commandLine))

	h := sha256.New()
	h.Write(ah.Sum(nil))
	h.Write(ch[:])
	var k Key
	copy(k[:], h.Sum(nil))
	return k, nil
}

// ToolStamp describes the files named on a validator command line by path,
// size and modification time, so that replacing the launcher jar in place
// changes the cache key. Relative names are resolved against dir; arguments
// that are not regular files are skipped.
func ToolStamp(dir string, argv []string) string {
	var b strings.Builder
	for _, arg := range argv {
		p := arg
		if !filepath.IsAbs(p) && dir != "" {
			p = filepath.Join(dir, p)
		}
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		fmt.Fprintf(&b, "%s\x00%d\x00%d\n", arg, fi.Size(), fi.ModTime().UnixNano())
	}
	return b.String()
}

// Payload is the stored form of one validation report.
type Payload struct {
	// Schema version for safe invalidation when format changes
	Schema uint16

	Archive       string
	ToolVersion   string
	TargetVersion string
	Diagnostics   []diag.Record
	Unexpected    []string
	Timings       observ.Report
	StoredAt      time.Time
}

// Cache stores payloads as zstd-compressed msgpack files.
// Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
	log *zap.Logger
}

// Open creates dir if needed and returns a cache rooted there.
func Open(dir string, log *zap.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("dcache: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{dir: dir, log: log}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) pathFor(key Key) string {
	return filepath.Join(c.dir, "reports", key.String()+".mp.zst")
}

// Put writes payload atomically: readers see the old file or the new one.
func (c *Cache) Put(key Key, payload *Payload) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	stored := *payload
	stored.Schema = schemaVersion
	if err := msgpack.NewEncoder(zw).Encode(&stored); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Атомарная замена
	return os.Rename(f.Name(), p)
}

// Get reads the payload for key. Missing, corrupt and outdated entries are
// misses; the last two are removed.
func (c *Cache) Get(key Key, out *Payload) (bool, error) {
	if c == nil {
		return false, nil
	}
	p := c.pathFor(key)

	ok, err := c.read(p, out)
	if err != nil {
		c.log.Warn("dropping unreadable cache entry", zap.String("key", key.String()), zap.Error(err))
		c.remove(p)
		return false, nil
	}
	if ok && out.Schema != schemaVersion {
		c.log.Debug("dropping outdated cache entry", zap.String("key", key.String()), zap.Uint16("schema", out.Schema))
		c.remove(p)
		*out = Payload{}
		return false, nil
	}
	return ok, nil
}

func (c *Cache) read(p string, out *Payload) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return false, err
	}
	defer zr.Close()
	if err := msgpack.NewDecoder(zr).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) remove(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("couldn't remove cache entry", zap.String("path", p), zap.Error(err))
	}
}

// DropAll removes every cached report.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	reports := filepath.Join(c.dir, "reports")
	// переименуем каталог, чтобы параллельные Put не писали в удаляемый
	old := reports + ".old-" + time.Now().Format("20060102150405.000000000")
	if err := os.Rename(reports, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.RemoveAll(old)
}
