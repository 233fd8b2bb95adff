package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// maxStderr bounds how much tool stderr is kept for error messages.
const maxStderr = 2048

// Command is an external tool invocation. Env entries are added to the
// inherited environment and are the way secrets reach the tool.
type Command struct {
	Name string
	Args []string
	Env  []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a command, streaming its stdout into stdout.
type Runner interface {
	Run(ctx context.Context, cmd Command, stdout io.Writer) error
}

// CommandError is a tool that could not be started or exited non-zero.
type CommandError struct {
	Command string
	Err     error
	Stderr  string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands as subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = stdout

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &CommandError{Command: c.Name, Err: err, Stderr: tail(stderr.String(), maxStderr)}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// inDocker wraps cmd in `docker exec`. Env variables are forwarded by name so
// their values never appear on a command line.
func inDocker(container string, cmd Command) Command {
	args := []string{"exec"}
	for _, kv := range cmd.Env {
		name, _, _ := strings.Cut(kv, "=")
		args = append(args, "-e", name)
	}
	args = append(args, container, cmd.Name)
	args = append(args, cmd.Args...)

	return Command{Name: "docker", Args: args, Env: cmd.Env}
}
