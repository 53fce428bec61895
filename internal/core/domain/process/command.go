package process

import (
	"fmt"
	"strings"
	"time"
)

// Command is an external command invocation. It is a value object; the
// With* methods return modified copies.
type Command struct {
	executable string
	args       []string
	workingDir string
	env        map[string]string
	stdin      string
	timeout    time.Duration
}

// NewCommand creates a new Command value object
func NewCommand(executable string, args ...string) (Command, error) {
	if executable == "" {
		return Command{}, fmt.Errorf("executable cannot be empty")
	}

	return Command{
		executable: executable,
		args:       append([]string(nil), args...),
		env:        make(map[string]string),
	}, nil
}

// Executable returns the command executable
func (c Command) Executable() string {
	return c.executable
}

// Args returns a copy of the command arguments
func (c Command) Args() []string {
	return append([]string(nil), c.args...)
}

// WorkingDir returns the working directory, empty for the caller's.
func (c Command) WorkingDir() string {
	return c.workingDir
}

// Env returns a copy of the extra environment variables
func (c Command) Env() map[string]string {
	envCopy := make(map[string]string, len(c.env))
	for k, v := range c.env {
		envCopy[k] = v
	}
	return envCopy
}

// Stdin returns the text fed to the process on standard input.
func (c Command) Stdin() string {
	return c.stdin
}

// Timeout returns the per-invocation deadline, zero for none.
func (c Command) Timeout() time.Duration {
	return c.timeout
}

// String returns a string representation of the command
func (c Command) String() string {
	if len(c.args) == 0 {
		return c.executable
	}
	return fmt.Sprintf("%s %s", c.executable, strings.Join(c.args, " "))
}

// WithEnv returns a new Command with an additional environment variable
func (c Command) WithEnv(key, value string) Command {
	next := c.clone()
	next.env[key] = value
	return next
}

// WithWorkingDir returns a new Command with a different working directory
func (c Command) WithWorkingDir(workingDir string) Command {
	next := c.clone()
	next.workingDir = workingDir
	return next
}

// WithStdin returns a new Command that writes input to the process.
func (c Command) WithStdin(input string) Command {
	next := c.clone()
	next.stdin = input
	return next
}

// WithTimeout returns a new Command bounded by d.
func (c Command) WithTimeout(d time.Duration) Command {
	next := c.clone()
	next.timeout = d
	return next
}

func (c Command) clone() Command {
	return Command{
		executable: c.executable,
		args:       append([]string(nil), c.args...),
		workingDir: c.workingDir,
		env:        c.Env(),
		stdin:      c.stdin,
		timeout:    c.timeout,
	}
}

// Result is the captured outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Success reports a zero exit code without timeout.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	return r.Stdout + r.Stderr
}

// ErrorText returns the most useful diagnostic line set: stderr when present,
// stdout otherwise.
func (r Result) ErrorText() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}
