package validator

import (
	"time"

	"epubwrap/internal/diag"
	"epubwrap/internal/observ"
)

// Report is the outcome of validating one archive.
type Report struct {
	Archive       string
	Diagnostics   []diag.Diagnostic
	Unexpected    []string
	Timings       observ.Report
	Cached        bool
	ToolVersion   string
	TargetVersion string
}

// HasProblems reports whether the archive failed validation.
func (r Report) HasProblems() bool {
	return diag.HasProblems(r.Diagnostics)
}

// Status captures the progress of one archive in a batch.
type Status string

const (
	// StatusQueued indicates the archive is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusValidating indicates the validator is running.
	StatusValidating Status = "validating"
	// StatusDone indicates the archive passed.
	StatusDone Status = "done"
	// StatusFailed indicates the archive has problems.
	StatusFailed Status = "failed"
)

// Event reports progress for one archive of a batch.
type Event struct {
	Archive string
	Index   int
	Status  Status
	Cached  bool
	Elapsed time.Duration
	Err     error
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(evt Event) { f(evt) }
