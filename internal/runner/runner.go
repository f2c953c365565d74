// Package runner launches the validator as a subprocess under a time budget
// and feeds its merged stdout/stderr to a line handler as the output
// arrives.
package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"epubwrap/internal/diag"
	"epubwrap/internal/observ"
	"epubwrap/internal/trace"
)

// LineHandler consumes the validator's output one line at a time.
// ProcessLine returning false means the handler wants no more lines; the
// rest of the output is drained and discarded.
type LineHandler interface {
	ProcessLine(line string) bool
	Diagnostics() []diag.Diagnostic
}

// Runner executes validator commands. The zero value runs without a
// timeout, logging and tracing.
type Runner struct {
	// Timeout bounds spawn, streaming and exit wait together. Zero
	// means no limit other than the caller's context.
	Timeout time.Duration
	// GracePeriod is how long to wait for the killed process to be
	// reaped before giving up on it.
	GracePeriod time.Duration
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

// Result describes a run that was not cut short.
type Result struct {
	Pid      int
	ExitCode int
	Lines    int
}

const defaultGrace = 5 * time.Second

// Run executes cmd and returns the handler's diagnostics. Operational
// failures replace the output with a single INTERNAL_ERROR diagnostic:
// a timeout discards whatever was collected before it.
func (r *Runner) Run(ctx context.Context, cmd Command, handler LineHandler) []diag.Diagnostic {
	if _, err := r.Exec(ctx, cmd, handler); err != nil {
		return FaultDiagnostics(err)
	}
	return handler.Diagnostics()
}

// FaultDiagnostics converts an error returned by Exec into the single
// INTERNAL_ERROR diagnostic that stands for the whole run.
func FaultDiagnostics(err error) []diag.Diagnostic {
	var re *RunError
	if errors.As(err, &re) {
		return []diag.Diagnostic{re.Diagnostic()}
	}
	return []diag.Diagnostic{diag.Internal(Describe(err))}
}

// Exec runs cmd to completion or until the deadline, whichever is first.
// A non-zero exit status is not an error: the validator exits non-zero
// whenever it reports problems. Panics raised by the handler are not
// recovered; the process group is killed before they propagate.
func (r *Runner) Exec(ctx context.Context, cmd Command, handler LineHandler) (res Result, err error) {
	log := r.logger()
	if verr := cmd.Validate(); verr != nil {
		return res, &RunError{Kind: KindLaunch, Err: verr}
	}

	parent := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if ctx.Err() != nil {
		return res, r.contextError(parent, ctx)
	}

	tracer := r.tracer()
	span := trace.Begin(tracer, trace.ScopeProcess, "exec", trace.CurrentSpan(ctx).SpanID)
	defer func() {
		detail := "exit " + strconv.Itoa(res.ExitCode)
		if err != nil {
			detail = err.Error()
		}
		span.Set("lines", strconv.Itoa(res.Lines)).End(detail)
	}()
	timer := observ.TimerFrom(ctx)

	endSpawn := timer.Track(observ.PhaseSpawn)
	pr, pw, perr := os.Pipe()
	if perr != nil {
		endSpawn("pipe failed")
		return res, &RunError{Kind: KindLaunch, Err: perr}
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdout = pw
	c.Stderr = pw
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if serr := c.Start(); serr != nil {
		_ = pr.Close()
		_ = pw.Close()
		endSpawn("start failed")
		log.Warn("couldn't start validator", zap.Stringer("cmd", cmd), zap.Error(serr))
		return res, &RunError{Kind: KindLaunch, Err: serr}
	}
	// the child owns its copy of the write end; ours must go so that EOF
	// arrives when the process group exits
	_ = pw.Close()
	res.Pid = c.Process.Pid
	endSpawn("pid " + strconv.Itoa(res.Pid))
	log.Debug("validator started", zap.Int("pid", res.Pid), zap.Stringer("cmd", cmd))

	var killed atomic.Bool
	killedCh := make(chan struct{})
	killGroup := func() {
		if killed.CompareAndSwap(false, true) {
			defer close(killedCh)
			// negative pid: the whole group, JVM children included
			if kerr := unix.Kill(-res.Pid, unix.SIGKILL); kerr != nil && !errors.Is(kerr, unix.ESRCH) {
				log.Warn("couldn't kill process group", zap.Int("pgid", res.Pid), zap.Error(kerr))
			}
		}
	}
	stopAfter := context.AfterFunc(ctx, func() {
		killGroup()
		_ = pr.Close()
	})

	reaped := false
	defer func() {
		stopAfter()
		_ = pr.Close()
		if p := recover(); p != nil {
			killGroup()
			if !reaped {
				_ = r.reap(c, killedCh, log)
			}
			panic(p)
		}
	}()

	endStream := timer.Track(observ.PhaseStream)
	lines, streamErr := pump(pr, handler, tracer, span.ID())
	res.Lines = lines
	endStream(strconv.Itoa(lines) + " lines")

	if streamErr != nil && !killed.Load() {
		killGroup()
	}

	endWait := timer.Track(observ.PhaseWait)
	waitErr := r.reap(c, killedCh, log)
	reaped = true
	endWait("")

	// AfterFunc ran (or is running): the deadline or the caller cut us short
	if !stopAfter() && ctx.Err() != nil {
		return res, r.contextError(parent, ctx)
	}
	if streamErr != nil {
		return res, &RunError{Kind: KindStream, Err: streamErr}
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, &RunError{Kind: KindStream, Err: waitErr}
	}
	log.Debug("validator finished", zap.Int("pid", res.Pid), zap.Int("exit", res.ExitCode), zap.Int("lines", res.Lines))
	return res, nil
}

// pump reads lines until EOF and hands them to h. The final line may lack a
// newline; a trailing '\r' is dropped.
func pump(rd io.Reader, h LineHandler, tracer trace.Tracer, parent uint64) (int, error) {
	br := bufio.NewReader(rd)
	wanted := true
	n := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			n++
			if wanted {
				wanted = h.ProcessLine(line)
				if !wanted {
					trace.Point(tracer, trace.ScopeProcess, "handler-done", parent, "draining")
				}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return n, nil
		}
		return n, err
	}
}

// reap waits for the process. Once the group has been killed the wait is
// bounded by the grace period, after which the process is abandoned.
func (r *Runner) reap(c *exec.Cmd, killed <-chan struct{}, log *zap.Logger) error {
	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	select {
	case err := <-done:
		return err
	case <-killed:
	}

	grace := r.GracePeriod
	if grace <= 0 {
		grace = defaultGrace
	}
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		log.Error("validator did not exit after kill, abandoning it", zap.Int("pid", c.Process.Pid))
		return errors.New("process did not exit after kill")
	}
}

func (r *Runner) contextError(parent, ctx context.Context) error {
	if parent.Err() != nil {
		return &RunError{Kind: KindInterrupted, Err: context.Cause(parent)}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &RunError{Kind: KindTimeout, Err: ctx.Err()}
	}
	return &RunError{Kind: KindInterrupted, Err: context.Cause(ctx)}
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer == nil {
		return trace.Nop
	}
	return r.Tracer
}
