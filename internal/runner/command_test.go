package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCommand_With(t *testing.T) {
	base := FromArgv([]string{"java", "-jar", "epubcheck.jar"})
	cmd := base.With("book.epub")
	if diff := cmp.Diff([]string{"java", "-jar", "epubcheck.jar", "book.epub"}, cmd.Argv()); diff != "" {
		t.Fatalf("argv mismatch (-want +got):\n%s", diff)
	}
	if len(base.Args) != 2 {
		t.Fatalf("With must not modify the receiver")
	}
}

func TestCommand_String(t *testing.T) {
	cmd := Command{Path: "java", Args: []string{"-jar", "my jars/epubcheck.jar"}}
	if got, want := cmd.String(), `java -jar "my jars/epubcheck.jar"`; got != want {
		t.Fatalf("String() = %s, want %s", got, want)
	}
}

func TestFromArgv_Empty(t *testing.T) {
	if err := FromArgv(nil).Validate(); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("empty argv must be invalid, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&fs.PathError{Op: "fork/exec", Path: "/x", Err: fs.ErrNotExist}, "PathError"},
		{&exec.Error{Name: "x", Err: exec.ErrNotFound}, "ExecError"},
		{fmt.Errorf("start: %w", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}), "PathError"},
		{&CommandError{Reason: "r"}, "CommandError"},
		{errors.New("plain"), "Error"},
		{context.DeadlineExceeded, "DeadlineExceeded"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Fatalf("ErrorKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRunError_Diagnostic(t *testing.T) {
	tests := []struct {
		err  *RunError
		want string
	}{
		{&RunError{Kind: KindTimeout, Err: context.DeadlineExceeded}, "Process timed out"},
		{&RunError{Kind: KindInterrupted, Err: context.Canceled}, "Interrupted - context canceled"},
		{&RunError{Kind: KindStream, Err: &fs.PathError{Op: "read", Path: "|0", Err: fs.ErrClosed}}, "PathError - read |0: file already closed"},
	}
	for _, tt := range tests {
		if got := tt.err.Diagnostic().Message(); got != tt.want {
			t.Fatalf("got %q, want %q", got, tt.want)
		}
	}
}
