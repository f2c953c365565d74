package trace

import (
	"strconv"
	"sync"
	"time"
)

// Heartbeat emits a liveness event at a fixed interval until stopped.
type Heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartHeartbeat returns nil when t is disabled or every is not positive.
func StartHeartbeat(t Tracer, every time.Duration) *Heartbeat {
	if t == nil || !t.Enabled() || every <= 0 {
		return nil
	}
	h := &Heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	go h.loop(t, every)
	return h
}

func (h *Heartbeat) loop(t Tracer, every time.Duration) {
	defer close(h.done)
	tick := time.NewTicker(every)
	defer tick.Stop()
	start := time.Now()
	for n := 1; ; n++ {
		select {
		case <-h.stop:
			return
		case now := <-tick.C:
			t.Emit(&Event{
				Time:    now,
				Seq:     nextSeq(),
				Kind:    KindHeartbeat,
				Scope:   ScopeService,
				Name:    "heartbeat",
				Detail:  "#" + strconv.Itoa(n),
				Elapsed: now.Sub(start).Round(time.Millisecond),
				Attrs:   map[string]string{"open_spans": strconv.FormatInt(OpenSpans(), 10)},
			})
		}
	}
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
