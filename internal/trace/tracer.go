package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRingSize is used when Config.RingSize is not positive.
const DefaultRingSize = 4096

// Tracer receives events. Implementations must be safe for concurrent use.
type Tracer interface {
	Emit(ev *Event)
	Flush() error
	Close() error
	Level() Level
	Enabled() bool
}

type nopTracer struct{}

func (nopTracer) Emit(*Event)   {}
func (nopTracer) Flush() error  { return nil }
func (nopTracer) Close() error  { return nil }
func (nopTracer) Level() Level  { return LevelOff }
func (nopTracer) Enabled() bool { return false }

// Nop drops everything.
var Nop Tracer = nopTracer{}

// StorageMode says where events go.
type StorageMode uint8

const (
	ModeStream StorageMode = iota + 1 // written as they happen
	ModeRing                          // kept in memory for a dump
	ModeBoth
)

var modeNames = [...]string{
	ModeStream: "stream",
	ModeRing:   "ring",
	ModeBoth:   "both",
}

func (m StorageMode) String() string { return nameOf(modeNames[:], int(m)) }

// ParseMode converts a mode name.
func ParseMode(s string) (StorageMode, error) {
	for i, name := range modeNames {
		if name != "" && strings.EqualFold(s, name) {
			return StorageMode(i), nil
		}
	}
	return ModeRing, fmt.Errorf("invalid storage mode: %q (expected: stream|ring|both)", s)
}

// Config describes a tracer built by New.
type Config struct {
	Level      Level
	Mode       StorageMode
	Format     Format    // FormatAuto picks by OutputPath extension
	Output     io.Writer // takes precedence over OutputPath, never closed
	OutputPath string    // "-" or empty for stderr
	RingSize   int
}

// New builds the tracer for cfg. LevelOff yields Nop. LevelError streams
// nothing, so it always gets a ring.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	if cfg.Level == LevelError {
		cfg.Mode = ModeRing
	}

	var ring *RingTracer
	var stream *StreamTracer
	switch cfg.Mode {
	case ModeRing:
		ring = NewRingTracer(cfg.RingSize, cfg.Level)
	case ModeStream, ModeBoth:
		w, closer, err := openOutput(cfg)
		if err != nil {
			return nil, err
		}
		stream = NewStreamTracer(w, cfg.Level, formatFor(cfg))
		stream.closer = closer
		if cfg.Mode == ModeBoth {
			ring = NewRingTracer(cfg.RingSize, cfg.Level)
		}
	default:
		return nil, fmt.Errorf("unknown storage mode: %v", cfg.Mode)
	}

	switch {
	case ring != nil && stream != nil:
		return NewMultiTracer(cfg.Level, stream, ring), nil
	case ring != nil:
		return ring, nil
	default:
		return stream, nil
	}
}

func formatFor(cfg Config) Format {
	if cfg.Format != FormatAuto {
		return cfg.Format
	}
	switch strings.ToLower(filepath.Ext(cfg.OutputPath)) {
	case ".ndjson", ".jsonl", ".json":
		return FormatNDJSON
	}
	return FormatText
}

// openOutput returns the writer and, for files it opened, the closer.
// stderr is never closed.
func openOutput(cfg Config) (io.Writer, io.Closer, error) {
	if cfg.Output != nil {
		return cfg.Output, nil, nil
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "-" {
		return os.Stderr, nil, nil
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return f, f, nil
}
