package observ

import (
	"context"
	"strings"
	"testing"
)

func TestTimer_Report(t *testing.T) {
	tm := NewTimer()
	end := tm.Track(PhaseSpawn)
	end("pid 42")
	end("again")
	idx := tm.Begin(PhaseStream)
	tm.End(idx, "")
	tm.Begin(PhaseWait) // never ended

	r := tm.Report()
	if len(r.Phases) != 2 {
		t.Fatalf("expected 2 finished phases, got %d", len(r.Phases))
	}
	p, ok := r.Phase(PhaseSpawn)
	if !ok || p.Note != "pid 42" {
		t.Fatalf("spawn phase missing or ended twice: %+v", p)
	}
	if _, ok := r.Phase(PhaseWait); ok {
		t.Fatalf("open phase must not be reported")
	}
	s := tm.Summary()
	if !strings.HasPrefix(s, "spawn=") || !strings.Contains(s, "(pid 42) stream=") || !strings.Contains(s, " total=") {
		t.Fatalf("unexpected summary %q", s)
	}
	if strings.Contains(s, "\n") {
		t.Fatalf("summary must be one line: %q", s)
	}
}

func TestReport_String(t *testing.T) {
	r := Report{TotalMS: 3.26, Phases: []PhaseReport{{Name: "index", DurationMS: 1}, {Name: "wait", DurationMS: 2.26, Note: "exit 1"}}}
	if got, want := r.String(), "index=1.0ms wait=2.3ms(exit 1) total=3.3ms"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if (Report{}).String() != "no timings" {
		t.Fatalf("empty report")
	}
}

func TestTimer_NilIsInert(t *testing.T) {
	var tm *Timer
	tm.Track(PhaseIndex)("x")
	if len(tm.Report().Phases) != 0 {
		t.Fatalf("nil timer must not record")
	}
}

func TestTimer_Context(t *testing.T) {
	if TimerFrom(context.Background()) != nil {
		t.Fatalf("expected no timer")
	}
	tm := NewTimer()
	if TimerFrom(WithTimer(context.Background(), tm)) != tm {
		t.Fatalf("timer not propagated")
	}
}
