// Package observ measures where the time of a validation run goes.
package observ

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Phase names recorded for a validation run.
const (
	PhaseCache  = "cache"
	PhaseIndex  = "index"
	PhaseSpawn  = "spawn"
	PhaseStream = "stream"
	PhaseWait   = "wait"
)

type phase struct {
	name    string
	started time.Time
	elapsed time.Duration
	note    string
	open    bool
}

// Timer records the phases of one run. A nil *Timer records nothing.
// Safe for concurrent use: the runner ends stream and wait from different
// goroutines.
type Timer struct {
	mu     sync.Mutex
	phases []phase
}

func NewTimer() *Timer { return &Timer{phases: make([]phase, 0, 5)} }

// Begin opens a phase and returns its handle for End.
func (t *Timer) Begin(name string) int {
	if t == nil {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, phase{name: name, started: time.Now(), open: true})
	return len(t.phases) - 1
}

// End closes the phase. Unknown or already closed handles are ignored.
func (t *Timer) End(idx int, note string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.phases) || !t.phases[idx].open {
		return
	}
	p := &t.phases[idx]
	p.elapsed = time.Since(p.started)
	p.note = note
	p.open = false
}

// Track begins a phase and returns the function that ends it.
func (t *Timer) Track(name string) func(note string) {
	idx := t.Begin(name)
	return func(note string) { t.End(idx, note) }
}

// Summary is the one-line form of Report, e.g. "index=1.2ms wait=0.3ms total=1.5ms".
func (t *Timer) Summary() string {
	return t.Report().String()
}

// PhaseReport is one finished phase.
type PhaseReport struct {
	Name       string  `json:"name" msgpack:"name"`
	DurationMS float64 `json:"duration_ms" msgpack:"duration_ms"`
	Note       string  `json:"note,omitempty" msgpack:"note"`
}

// Report is the serialisable result of a Timer. Phases still open are left out.
type Report struct {
	TotalMS float64       `json:"total_ms" msgpack:"total_ms"`
	Phases  []PhaseReport `json:"phases" msgpack:"phases"`
}

func (t *Timer) Report() Report {
	if t == nil {
		return Report{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var r Report
	var total time.Duration
	for _, p := range t.phases {
		if p.open {
			continue
		}
		total += p.elapsed
		r.Phases = append(r.Phases, PhaseReport{Name: p.name, DurationMS: millis(p.elapsed), Note: p.note})
	}
	if len(r.Phases) > 0 {
		r.TotalMS = millis(total)
	}
	return r
}

// Phase returns the first phase with the given name.
func (r Report) Phase(name string) (PhaseReport, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseReport{}, false
}

func (r Report) String() string {
	if len(r.Phases) == 0 {
		return "no timings"
	}
	var sb strings.Builder
	for _, p := range r.Phases {
		sb.WriteString(p.Name + "=" + formatMS(p.DurationMS))
		if p.Note != "" {
			sb.WriteString("(" + p.Note + ")")
		}
		sb.WriteByte(' ')
	}
	sb.WriteString("total=" + formatMS(r.TotalMS))
	return sb.String()
}

func formatMS(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 1, 64) + "ms"
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type timerKey struct{}

// WithTimer attaches a Timer to ctx.
func WithTimer(ctx context.Context, t *Timer) context.Context {
	return context.WithValue(ctx, timerKey{}, t)
}

// TimerFrom returns the Timer attached to ctx, or nil.
func TimerFrom(ctx context.Context) *Timer {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(timerKey{}).(*Timer)
	return t
}
