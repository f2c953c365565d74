package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultWatchInterval is how often Watch looks at the file.
const DefaultWatchInterval = time.Minute

// Source provides the settings in effect right now.
type Source interface {
	Current() Settings
}

type staticSource struct{ s Settings }

func (s staticSource) Current() Settings { return s.s.Clone() }

// Static returns a Source that never changes.
func Static(s Settings) Source { return staticSource{s: s.Clone()} }

// Find walks from startDir up to the filesystem root looking for
// epubwrap.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Loader reads the settings file and re-reads it when it changes.
type Loader struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	current Settings
	modTime time.Time
	missing bool
	hooks   []func(Settings)
}

// NewLoader returns a loader for path holding the defaults. Call Reload to
// read the file. An empty path means defaults only.
func NewLoader(path string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{path: path, log: log, current: Defaults()}
}

// Load is NewLoader followed by the first Reload.
func Load(path string, log *zap.Logger) (*Loader, error) {
	l := NewLoader(path, log)
	if _, err := l.Reload(); err != nil {
		return l, err
	}
	return l, nil
}

// Path returns the file the loader watches.
func (l *Loader) Path() string { return l.path }

// Current returns a copy of the settings in effect.
func (l *Loader) Current() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.Clone()
}

// Reload re-reads the file if its modification time is newer than the last
// successful load. It reports whether the settings were replaced. A file
// that cannot be parsed leaves the current settings in place.
func (l *Loader) Reload() (bool, error) {
	if l.path == "" {
		return false, nil
	}
	info, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.mu.Lock()
			first := !l.missing
			l.missing = true
			l.mu.Unlock()
			if first {
				l.log.Info("settings file not found, using defaults", zap.String("path", l.path))
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", l.path, err)
	}

	l.mu.RLock()
	stale := !info.ModTime().After(l.modTime)
	l.mu.RUnlock()
	if stale {
		return false, nil
	}

	next, err := parseFile(l.path, l.log)
	if err != nil {
		l.log.Error("couldn't read settings", zap.String("path", l.path), zap.Error(err))
		return false, err
	}

	l.mu.Lock()
	l.current = next
	l.modTime = info.ModTime()
	l.missing = false
	hooks := l.hooks
	l.mu.Unlock()

	l.log.Info("settings loaded",
		zap.String("path", l.path),
		zap.Strings("command", next.Command),
		zap.Duration("timeout", next.Timeout),
		zap.Int("pool_size", next.PoolSize))
	for _, fn := range hooks {
		fn(next.Clone())
	}
	return true, nil
}

// OnReload registers fn to be called with the new settings after every
// successful reload.
func (l *Loader) OnReload(fn func(Settings)) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// Watch calls Reload every interval until ctx ends. Errors are logged and
// the previous settings stay in effect.
func (l *Loader) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Reload already logged the failure
			_, _ = l.Reload()
		}
	}
}

type rawFile struct {
	Validator map[string]toml.Primitive `toml:"validator"`
	Cache     map[string]toml.Primitive `toml:"cache"`
	Log       map[string]toml.Primitive `toml:"log"`
}

// keyDecoder decodes one key into s, returning an error for a bad value.
type keyDecoder func(md toml.MetaData, p toml.Primitive, s *Settings) error

var validatorKeys = map[string]keyDecoder{
	"command": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		return decodeArgv(md, p, &s.Command, false)
	},
	"version_args": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		return decodeArgv(md, p, &s.VersionArgs, true)
	},
	"workdir": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		return md.PrimitiveDecode(p, &s.WorkDir)
	},
	"pool_size": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		var n int64
		if err := md.PrimitiveDecode(p, &n); err != nil {
			return err
		}
		size, err := safecast.Conv[int](n)
		if err != nil {
			return err
		}
		if size < 1 {
			return fmt.Errorf("pool size must be at least 1, got %d", size)
		}
		s.PoolSize = size
		return nil
	},
	"version_constraint": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		var c string
		if err := md.PrimitiveDecode(p, &c); err != nil {
			return err
		}
		if strings.TrimSpace(c) != "" {
			if _, err := semver.NewConstraint(c); err != nil {
				return err
			}
		}
		s.VersionConstraint = c
		return nil
	},
	// timeout and timeout_unit are combined after the loop
	"timeout":      nil,
	"timeout_unit": nil,
}

var cacheKeys = map[string]keyDecoder{
	"enabled": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		return md.PrimitiveDecode(p, &s.CacheEnabled)
	},
	"dir": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		var dir string
		if err := md.PrimitiveDecode(p, &dir); err != nil {
			return err
		}
		if strings.TrimSpace(dir) == "" {
			return errors.New("cache dir must not be empty")
		}
		s.CacheDir = dir
		return nil
	},
}

var logKeys = map[string]keyDecoder{
	"level": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		var lvl string
		if err := md.PrimitiveDecode(p, &lvl); err != nil {
			return err
		}
		if _, err := zapcore.ParseLevel(lvl); err != nil {
			return err
		}
		s.LogLevel = strings.ToLower(lvl)
		return nil
	},
	"format": func(md toml.MetaData, p toml.Primitive, s *Settings) error {
		var f string
		if err := md.PrimitiveDecode(p, &f); err != nil {
			return err
		}
		f = strings.ToLower(f)
		if f != "console" && f != "json" {
			return fmt.Errorf("log format must be console or json, got %q", f)
		}
		s.LogFormat = f
		return nil
	},
}

func decodeArgv(md toml.MetaData, p toml.Primitive, dst *[]string, allowEmpty bool) error {
	var argv []string
	if err := md.PrimitiveDecode(p, &argv); err != nil {
		return err
	}
	if len(argv) == 0 && !allowEmpty {
		return errors.New("command must not be empty")
	}
	if slices.Contains(argv, "") {
		return errors.New("command arguments must not be empty")
	}
	*dst = argv
	return nil
}

// parseFile reads path on top of the defaults. Syntax errors fail the whole
// file; a bad value of a single key is logged and that key keeps its
// default.
func parseFile(path string, log *zap.Logger) (Settings, error) {
	var raw rawFile
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}

	s := Defaults()
	applyTable(md, "validator", raw.Validator, validatorKeys, &s, log)
	applyTable(md, "cache", raw.Cache, cacheKeys, &s, log)
	applyTable(md, "log", raw.Log, logKeys, &s, log)
	s.Timeout = decodeTimeout(md, raw.Validator, log)
	return s, nil
}

func applyTable(md toml.MetaData, table string, values map[string]toml.Primitive, keys map[string]keyDecoder, s *Settings, log *zap.Logger) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	slices.Sort(names)

	for _, key := range names {
		dec, known := keys[key]
		if !known {
			log.Warn("unknown setting ignored", zap.String("key", table+"."+key))
			continue
		}
		if dec == nil {
			continue
		}
		if err := dec(md, values[key], s); err != nil {
			log.Warn("Bad value, reverting to default",
				zap.String("key", table+"."+key), zap.Error(err))
		}
	}
}

func decodeTimeout(md toml.MetaData, values map[string]toml.Primitive, log *zap.Logger) time.Duration {
	amount := int64(DefaultTimeout)
	if p, ok := values["timeout"]; ok {
		var n int64
		err := md.PrimitiveDecode(p, &n)
		if err == nil && n <= 0 {
			err = fmt.Errorf("timeout must be positive, got %d", n)
		}
		if err != nil {
			log.Warn("Bad value, reverting to default", zap.String("key", "validator.timeout"), zap.Error(err))
		} else {
			amount = n
		}
	}

	unit, _ := ParseTimeUnit(DefaultTimeoutUnit)
	if p, ok := values["timeout_unit"]; ok {
		var name string
		err := md.PrimitiveDecode(p, &name)
		var u time.Duration
		if err == nil {
			u, err = ParseTimeUnit(name)
		}
		if err != nil {
			log.Warn("Bad value, reverting to default", zap.String("key", "validator.timeout_unit"), zap.Error(err))
		} else {
			unit = u
		}
	}

	d, err := scaleDuration(amount, unit)
	if err != nil {
		log.Warn("Bad value, reverting to default", zap.String("key", "validator.timeout"), zap.Error(err))
		def, _ := ParseTimeUnit(DefaultTimeoutUnit)
		return DefaultTimeout * def
	}
	return d
}
