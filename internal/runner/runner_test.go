package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"epubwrap/internal/classify"
	"epubwrap/internal/diag"
	"epubwrap/internal/observ"
)

// collector records lines; it can stop early or panic on demand.
type collector struct {
	lines     []string
	stopAfter int
	panicOn   string
}

func (c *collector) ProcessLine(line string) bool {
	if c.panicOn != "" && line == c.panicOn {
		panic("handler blew up on " + line)
	}
	c.lines = append(c.lines, line)
	return c.stopAfter == 0 || len(c.lines) < c.stopAfter
}

func (c *collector) Diagnostics() []diag.Diagnostic { return nil }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "validator.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func shell(script string, args ...string) Command {
	return Command{Path: "/bin/sh", Args: append([]string{script}, args...)}
}

func readPid(t *testing.T, path string) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
				return pid
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("pid file %s never written", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// alive treats zombies as dead: they are only waiting for a reaper.
func alive(pid int) bool {
	if err := unix.Kill(pid, 0); err != nil {
		return false
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return !os.IsNotExist(err)
	}
	// pid (comm) S ...
	s := string(stat)
	if i := strings.LastIndexByte(s, ')'); i >= 0 && i+2 < len(s) {
		return s[i+2] != 'Z'
	}
	return true
}

func waitDead(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for alive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("process %d survived the run", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func messages(diags []diag.Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.String())
	}
	return out
}

func TestRun_MergedStreamThroughClassifier(t *testing.T) {
	script := writeScript(t, `
echo "EpubCheck v4.2.6"
echo "Validating using EPUB version 3.2 rules." >&2
echo "ERROR(RSC-005): $1/EPUB/a.xhtml(1,2): boom"
echo "WARNING(CSS-008): $1/EPUB/s.css(7): careful" >&2
echo "Check finished with errors"
exit 1
`)
	r := &Runner{Timeout: 10 * time.Second}
	got := r.Run(context.Background(), shell(script, "book.epub"), classify.New(nil))

	want := []string{
		"[TOOL VERSION]4.2.6",
		"[TARGET VERSION]3.2",
		"[ERROR]boom - book.epub/EPUB/a.xhtml (1:2)",
		"[WARNING]careful - book.epub/EPUB/s.css (7)",
	}
	if diff := cmp.Diff(want, messages(got)); diff != "" {
		t.Fatalf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestExec_NonZeroExitIsNotAFault(t *testing.T) {
	script := writeScript(t, "echo done\nexit 3\n")
	r := &Runner{}
	res, err := r.Exec(context.Background(), shell(script), &collector{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 3 || res.Lines != 1 || res.Pid == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExec_LineFraming(t *testing.T) {
	script := writeScript(t, `printf 'first\r\nsecond\n\nlast-without-newline'`)
	h := &collector{}
	tm := observ.NewTimer()
	ctx := observ.WithTimer(context.Background(), tm)
	if _, err := (&Runner{}).Exec(ctx, shell(script), h); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	want := []string{"first", "second", "", "last-without-newline"}
	if diff := cmp.Diff(want, h.lines); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	for _, phase := range []string{observ.PhaseSpawn, observ.PhaseStream, observ.PhaseWait} {
		if _, ok := tm.Report().Phase(phase); !ok {
			t.Fatalf("phase %s not recorded", phase)
		}
	}
}

func TestExec_LongLine(t *testing.T) {
	script := writeScript(t, `head -c 200000 /dev/zero | tr '\0' 'x'; echo`)
	h := &collector{}
	if _, err := (&Runner{Timeout: 10 * time.Second}).Exec(context.Background(), shell(script), h); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(h.lines) != 1 || len(h.lines[0]) != 200000 {
		t.Fatalf("expected one 200000-byte line, got %d lines", len(h.lines))
	}
}

func TestExec_HandlerStopsEarly(t *testing.T) {
	script := writeScript(t, "echo one\necho two\necho three\n")
	h := &collector{stopAfter: 1}
	res, err := (&Runner{}).Exec(context.Background(), shell(script), h)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(h.lines) != 1 || res.Lines != 3 {
		t.Fatalf("handler got %v, total lines %d", h.lines, res.Lines)
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	childFile := filepath.Join(dir, "child")
	script := writeScript(t, `
echo $$ > "$1"
sleep 30 &
echo $! > "$2"
echo "EpubCheck v4.0.0"
wait
`)
	r := &Runner{Timeout: 500 * time.Millisecond, GracePeriod: time.Second}
	start := time.Now()
	got := r.Run(context.Background(), shell(script, pidFile, childFile), classify.New(nil))
	elapsed := time.Since(start)

	want := []string{"[INTERNAL ERROR]" + TimeoutMessage}
	if diff := cmp.Diff(want, messages(got)); diff != "" {
		t.Fatalf("timeout must replace partial output (-want +got):\n%s", diff)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("run took %s, timeout was not enforced", elapsed)
	}
	waitDead(t, readPid(t, pidFile))
	waitDead(t, readPid(t, childFile))
}

func TestExec_TimeoutError(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	_, err := (&Runner{Timeout: 200 * time.Millisecond}).Exec(context.Background(), shell(script), &collector{})
	var re *RunError
	if !errors.As(err, &re) || re.Kind != KindTimeout {
		t.Fatalf("expected timeout RunError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should wrap DeadlineExceeded")
	}
}

func TestRun_Interrupted(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	script := writeScript(t, "echo $$ > \"$1\"\nsleep 30\n")

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		// no t.Fatalf off the test goroutine
		for i := 0; i < 500; i++ {
			if _, err := os.Stat(pidFile); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel(errors.New("shutting down"))
	}()

	got := (&Runner{Timeout: time.Minute}).Run(ctx, shell(script, pidFile), classify.New(nil))
	want := []string{"[INTERNAL ERROR]Interrupted - shutting down"}
	if diff := cmp.Diff(want, messages(got)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	waitDead(t, readPid(t, pidFile))
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := (&Runner{}).Run(ctx, Command{Path: "/bin/true"}, &collector{})
	if len(got) != 1 || !strings.HasPrefix(got[0].Message(), "Interrupted - ") {
		t.Fatalf("expected interruption diagnostic, got %v", messages(got))
	}
}

func TestRun_LaunchFailures(t *testing.T) {
	tests := []struct {
		name   string
		cmd    Command
		prefix string
	}{
		{"missing absolute path", Command{Path: "/nonexistent/epubcheck"}, "PathError - "},
		{"not on PATH", Command{Path: "epubwrap-no-such-validator"}, "ExecError - "},
		{"empty command", Command{}, "CommandError - runner: invalid command: empty executable path"},
		{"empty argument", Command{Path: "/bin/sh", Args: []string{""}}, "CommandError - "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := (&Runner{}).Run(context.Background(), tt.cmd, &collector{})
			if len(got) != 1 {
				t.Fatalf("expected exactly one diagnostic, got %v", messages(got))
			}
			d := got[0]
			if d.Severity() != diag.SevInternalError || !strings.HasPrefix(d.Message(), tt.prefix) {
				t.Fatalf("got %s, want INTERNAL_ERROR starting with %q", d, tt.prefix)
			}
		})
	}
}

func TestExec_InvalidCommandIsTyped(t *testing.T) {
	_, err := (&Runner{}).Exec(context.Background(), Command{}, &collector{})
	if !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestExec_HandlerPanicKillsAndPropagates(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	script := writeScript(t, "echo $$ > \"$1\"\necho boom\nsleep 30\n")

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("handler panic must propagate")
			}
		}()
		_, _ = (&Runner{Timeout: time.Minute, GracePeriod: time.Second}).Exec(
			context.Background(), shell(script, pidFile), &collector{panicOn: "boom"})
	}()
	waitDead(t, readPid(t, pidFile))
}

func TestWorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, `pwd; echo "$EPUBWRAP_TEST"`)
	h := &collector{}
	cmd := shell(script)
	cmd.Dir = dir
	cmd.Env = []string{"EPUBWRAP_TEST=yes", "PATH=" + os.Getenv("PATH")}
	if _, err := (&Runner{}).Exec(context.Background(), cmd, h); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	wantDir, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(h.lines[0])
	if gotDir != wantDir || h.lines[1] != "yes" {
		t.Fatalf("unexpected output %v", h.lines)
	}
}
