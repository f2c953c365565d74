// Package config holds the tunable settings of the validator wrapper and
// reloads them from epubwrap.toml while the process runs.
package config

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the settings file looked up from the working directory up.
const FileName = "epubwrap.toml"

// Defaults of the [validator] table.
const (
	DefaultTimeout     = 10
	DefaultTimeoutUnit = "minutes"
	DefaultPoolSize    = 10
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
)

// DefaultCommand launches EpubCheck from the working directory.
var DefaultCommand = []string{"java", "-jar", "epubcheck/epubcheck.jar"}

// DefaultVersionArgs make EpubCheck print its banner and exit.
var DefaultVersionArgs = []string{"--version"}

// Settings is one consistent snapshot of the configuration.
type Settings struct {
	Command           []string
	VersionArgs       []string
	WorkDir           string
	Timeout           time.Duration
	PoolSize          int
	VersionConstraint string

	CacheEnabled bool
	CacheDir     string

	LogLevel  string
	LogFormat string
}

// Defaults returns the settings used when no file (or no valid value) is
// present.
func Defaults() Settings {
	return Settings{
		Command:     slices.Clone(DefaultCommand),
		VersionArgs: slices.Clone(DefaultVersionArgs),
		Timeout:     DefaultTimeout * time.Minute,
		PoolSize:    DefaultPoolSize,
		CacheDir:    defaultCacheDir(),
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "epubwrap")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "epubwrap")
	}
	return filepath.Join(os.TempDir(), "epubwrap-cache")
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.Command = slices.Clone(s.Command)
	s.VersionArgs = slices.Clone(s.VersionArgs)
	return s
}

// CommandLine is the launcher argv joined for display and cache keys.
func (s Settings) CommandLine() string {
	return strings.Join(s.Command, " ")
}

// fileShape mirrors epubwrap.toml for encoding.
type fileShape struct {
	Validator validatorTable `toml:"validator"`
	Cache     cacheTable     `toml:"cache"`
	Log       logTable       `toml:"log"`
}

type validatorTable struct {
	Command           []string `toml:"command"`
	VersionArgs       []string `toml:"version_args"`
	WorkDir           string   `toml:"workdir,omitempty"`
	Timeout           int64    `toml:"timeout"`
	TimeoutUnit       string   `toml:"timeout_unit"`
	PoolSize          int      `toml:"pool_size"`
	VersionConstraint string   `toml:"version_constraint,omitempty"`
}

type cacheTable struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type logTable struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// WriteTOML prints the settings in the file format. The timeout is written
// in the largest unit that represents it exactly.
func (s Settings) WriteTOML(w io.Writer) error {
	amount, unit := splitDuration(s.Timeout)
	shape := fileShape{
		Validator: validatorTable{
			Command:           s.Command,
			VersionArgs:       s.VersionArgs,
			WorkDir:           s.WorkDir,
			Timeout:           amount,
			TimeoutUnit:       unit,
			PoolSize:          s.PoolSize,
			VersionConstraint: s.VersionConstraint,
		},
		Cache: cacheTable{Enabled: s.CacheEnabled, Dir: s.CacheDir},
		Log:   logTable{Level: s.LogLevel, Format: s.LogFormat},
	}
	return toml.NewEncoder(w).Encode(shape)
}
