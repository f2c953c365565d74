package classify

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// UnexpectedSink receives output lines that no specific rule recognised.
// These are not diagnostics; they are shown to the operator.
type UnexpectedSink interface {
	Unexpected(line string)
}

// SinkFunc adapts a function to UnexpectedSink.
type SinkFunc func(line string)

func (f SinkFunc) Unexpected(line string) { f(line) }

// LogSink reports unexpected lines as warnings.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Unexpected(line string) {
	if s.Log == nil {
		return
	}
	s.Log.Warn("unexpected output", zap.String("line", line))
}

// WriterSink prints "unexpected output:<line>" to W. Safe to share between
// classifiers of concurrent runs.
type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{W: w}
}

func (s *WriterSink) Unexpected(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.W, "unexpected output:%s\n", line)
}
