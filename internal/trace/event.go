package trace

import (
	"fmt"
	"strings"
	"time"
)

// Kind is what an event marks.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

var kindNames = [...]string{
	KindSpanBegin: "begin",
	KindSpanEnd:   "end",
	KindPoint:     "point",
	KindHeartbeat: "heartbeat",
}

func (k Kind) String() string { return nameOf(kindNames[:], int(k)) }

// Scope orders events by granularity. Coarser scopes have lower values.
type Scope uint8

const (
	// ScopeService spans one CLI invocation.
	ScopeService Scope = iota + 1
	// ScopeRun is one archive going through the validator.
	ScopeRun
	// ScopeProcess covers the validator subprocess from spawn to reap.
	ScopeProcess
	// ScopeLine is one line of validator output.
	ScopeLine
)

var scopeNames = [...]string{
	ScopeService: "service",
	ScopeRun:     "run",
	ScopeProcess: "process",
	ScopeLine:    "line",
}

func (s Scope) String() string { return nameOf(scopeNames[:], int(s)) }

// Level selects which scopes are recorded.
type Level uint8

const (
	LevelOff Level = iota
	LevelError
	LevelPhase
	LevelDetail
	LevelDebug
)

var levelNames = [...]string{
	LevelOff:    "off",
	LevelError:  "error",
	LevelPhase:  "phase",
	LevelDetail: "detail",
	LevelDebug:  "debug",
}

// finest is the finest scope recorded at each level.
var finest = [...]Scope{
	LevelError:  ScopeProcess,
	LevelPhase:  ScopeRun,
	LevelDetail: ScopeProcess,
	LevelDebug:  ScopeLine,
}

func (l Level) String() string { return nameOf(levelNames[:], int(l)) }

// ParseLevel accepts the level names case-insensitively. Empty means off.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelOff, nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|phase|detail|debug)", s)
}

// ShouldEmit reports whether events of the scope are recorded at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	if int(l) >= len(finest) {
		return false
	}
	limit := finest[l]
	return limit != 0 && scope <= limit
}

// Event is one trace record.
type Event struct {
	Time     time.Time
	Seq      uint64 // process-wide, monotonic
	Kind     Kind
	Scope    Scope
	SpanID   uint64 // zero for points and heartbeats
	ParentID uint64
	Name     string // "validate", "exec", "line", ...
	Detail   string
	Elapsed  time.Duration // span length on KindSpanEnd, uptime on heartbeats
	Attrs    map[string]string
}

func nameOf(names []string, i int) string {
	if i >= 0 && i < len(names) && names[i] != "" {
		return names[i]
	}
	return "unknown"
}
