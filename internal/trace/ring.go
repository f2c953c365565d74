package trace

import (
	"io"
	"strconv"
	"sync"
)

// RingTracer keeps the most recent events in memory.
type RingTracer struct {
	mu      sync.Mutex
	events  []Event
	next    int // slot for the next event
	n       int // stored, at most len(events)
	dropped uint64
	level   Level
}

// NewRingTracer returns a ring holding up to capacity events.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &RingTracer{events: make([]Event, capacity), level: level}
}

func (t *RingTracer) Emit(ev *Event) {
	if !accepts(t.level, ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[t.next] = *ev
	t.next = (t.next + 1) % len(t.events)
	if t.n < len(t.events) {
		t.n++
	} else {
		t.dropped++
	}
}

// Snapshot returns the stored events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	size := len(t.events)
	start := (t.next - t.n + size) % size
	out := make([]Event, 0, t.n)
	for i := range t.n {
		out = append(out, t.events[(start+i)%size])
	}
	return out
}

// Dropped reports how many events were overwritten.
func (t *RingTracer) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Dump writes the snapshot to w. Text dumps start with a note when older
// events were overwritten.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	if dropped := t.Dropped(); dropped > 0 && format != FormatNDJSON {
		if _, err := io.WriteString(w, "# "+strconv.FormatUint(dropped, 10)+" earlier events overwritten\n"); err != nil {
			return err
		}
	}
	for _, ev := range t.Snapshot() {
		if _, err := w.Write(FormatEvent(&ev, format)); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error  { return nil }
func (t *RingTracer) Close() error  { return nil }
func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }

// accepts lets heartbeats through at every enabled level.
func accepts(level Level, ev *Event) bool {
	if ev.Kind == KindHeartbeat {
		return level > LevelOff
	}
	return level.ShouldEmit(ev.Scope)
}
