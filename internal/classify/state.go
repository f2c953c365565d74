// Package classify turns the validator's free-text output into diagnostics,
// one line at a time.
//
// Every line goes through an ordered rule chain (see Rules). Fault banners
// switch the parser into StateSuppressing so that the stack trace that
// follows them is dropped; the first line that does not look like a stack
// frame switches back and is classified normally.
package classify

import (
	"fmt"

	"go.uber.org/zap"

	"epubwrap/internal/archive"
	"epubwrap/internal/diag"
)

// State is the parser state of one validation run.
type State uint8

const (
	StateNormal State = iota
	StateSuppressing
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateSuppressing:
		return "suppressing"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Env is what rules may consult while classifying a line.
type Env struct {
	Index *archive.Index
	Log   *zap.Logger
}

func (e Env) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Outcome describes what happened to one line.
type Outcome struct {
	Diagnostic *diag.Diagnostic // nil when the line produced nothing
	Unexpected bool             // line went to the unexpected-output channel
	Rule       string           // matching rule, empty when suppressed
	Suppressed bool             // dropped as stack-trace continuation
}

// UnmatchedLineError means no rule of the chain accepted a line. The chain
// ends with a catch-all, so this is always a programming error.
type UnmatchedLineError struct {
	Line  string
	State State
}

func (e *UnmatchedLineError) Error() string {
	return fmt.Sprintf("classify: no rule matched line %q in state %s", e.Line, e.State)
}

// Step classifies one line. It is pure apart from logging through env.Log.
// Step panics with *UnmatchedLineError if the chain is not total.
func Step(state State, line string, env Env) (State, Outcome) {
	return step(chain, state, line, env)
}

func step(rules []Rule, state State, line string, env Env) (State, Outcome) {
	if state == StateSuppressing {
		if continuationRe.MatchString(line) {
			return StateSuppressing, Outcome{Suppressed: true}
		}
		// same line is classified below
		state = StateNormal
	}

	for i := range rules {
		m := rules[i].Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		act := rules[i].Apply(env, m)
		next := StateNormal
		if act.suppress {
			next = StateSuppressing
		}
		return next, Outcome{
			Diagnostic: act.diag,
			Unexpected: act.unexpected,
			Rule:       rules[i].Name,
		}
	}

	panic(&UnmatchedLineError{Line: line, State: state})
}
