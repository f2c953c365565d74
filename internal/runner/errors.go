package runner

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"epubwrap/internal/diag"
)

// Kind classifies why a run did not complete normally.
type Kind uint8

const (
	KindTimeout Kind = iota + 1
	KindInterrupted
	KindLaunch
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindInterrupted:
		return "interrupted"
	case KindLaunch:
		return "launch"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// TimeoutMessage is the message of the diagnostic returned on timeout.
const TimeoutMessage = "Process timed out"

// RunError is an operational failure of one validator run.
type RunError struct {
	Kind Kind
	Err  error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return "runner: " + e.Kind.String()
	}
	return fmt.Sprintf("runner: %s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Diagnostic converts the failure into the single INTERNAL_ERROR that
// replaces the run's output.
func (e *RunError) Diagnostic() diag.Diagnostic {
	switch e.Kind {
	case KindTimeout:
		return diag.Internal(TimeoutMessage)
	case KindInterrupted:
		cause := "interrupted"
		if e.Err != nil {
			cause = e.Err.Error()
		}
		return diag.Internal("Interrupted - " + cause)
	default:
		return diag.Internal(Describe(e.Err))
	}
}

// Describe renders err as "<Kind> - <message>", Kind being the name of the
// innermost error type that is more than a plain wrapper.
func Describe(err error) string {
	if err == nil {
		return "UnknownError - unknown failure"
	}
	return ErrorKind(err) + " - " + err.Error()
}

// ErrorKind names the concrete type of err: *fs.PathError gives
// "PathError", *exec.Error gives "ExecError".
func ErrorKind(err error) string {
	for err != nil {
		if !isWrapper(err) {
			break
		}
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	if err == nil {
		return "UnknownError"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "DeadlineExceeded"
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		return "Error"
	}
	if !isExported(name) {
		// errors.errorString and friends
		return "Error"
	}
	if name == "Error" {
		pkg := t.PkgPath()
		if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
			pkg = pkg[i+1:]
		}
		if pkg != "" {
			r, size := utf8.DecodeRuneInString(pkg)
			return string(unicode.ToUpper(r)) + pkg[size:] + name
		}
	}
	return name
}

// isWrapper reports whether err only adds context to another error.
func isWrapper(err error) bool {
	switch err.(type) {
	case *RunError:
		return true
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() == "fmt" && strings.HasPrefix(t.Name(), "wrapError")
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
