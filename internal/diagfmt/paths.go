package diagfmt

import (
	"os"
	"path/filepath"
	"strings"
)

// FormatPath renders an archive path according to mode. base defaults to
// the working directory.
func FormatPath(path string, mode PathMode, base string) string {
	if path == "" {
		return path
	}
	if base == "" {
		if wd, err := os.Getwd(); err == nil {
			base = wd
		}
	}
	switch mode {
	case PathModeBasename:
		return filepath.Base(path)
	case PathModeAbsolute:
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	case PathModeRelative:
		if rel, ok := relativeTo(path, base); ok {
			return rel
		}
		return path
	default:
		// auto: относительный путь, только если файл внутри base
		if rel, ok := relativeTo(path, base); ok && !strings.HasPrefix(rel, "..") {
			return rel
		}
		return path
	}
}

func relativeTo(path, base string) (string, bool) {
	if base == "" {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", false
	}
	return rel, true
}
