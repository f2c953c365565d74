package runner

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCommand is matched by every *CommandError.
var ErrInvalidCommand = errors.New("runner: invalid command")

// CommandError explains why a Command cannot be launched.
type CommandError struct {
	Reason string
}

func (e *CommandError) Error() string { return ErrInvalidCommand.Error() + ": " + e.Reason }

func (e *CommandError) Is(target error) bool { return target == ErrInvalidCommand }

// Command is one fully formed validator invocation.
type Command struct {
	Path string   // executable, looked up in PATH when it has no slash
	Args []string // arguments, without argv[0]
	Dir  string   // working directory, empty = current
	Env  []string // environment, nil = inherit
}

// FromArgv splits a launcher argv into a Command.
func FromArgv(argv []string) Command {
	if len(argv) == 0 {
		return Command{}
	}
	return Command{Path: argv[0], Args: append([]string(nil), argv[1:]...)}
}

// With returns a copy with extra trailing arguments.
func (c Command) With(args ...string) Command {
	out := c
	out.Args = make([]string, 0, len(c.Args)+len(args))
	out.Args = append(out.Args, c.Args...)
	out.Args = append(out.Args, args...)
	return out
}

// Validate checks that the command can be handed to the OS.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return &CommandError{Reason: "empty executable path"}
	}
	for i, a := range c.Args {
		if a == "" {
			return &CommandError{Reason: "argument " + strconv.Itoa(i+1) + " is empty"}
		}
	}
	return nil
}

// Argv returns path and arguments as one slice.
func (c Command) Argv() []string {
	out := make([]string, 0, len(c.Args)+1)
	out = append(out, c.Path)
	return append(out, c.Args...)
}

// String renders the command line with shell-style quoting where needed.
func (c Command) String() string {
	parts := c.Argv()
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\n'\"\\$") {
			parts[i] = strconv.Quote(p)
		}
	}
	return strings.Join(parts, " ")
}
