package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
	procp "github.com/kilometers-ai/plugsync/internal/core/ports/process"
)

// SessionMarkers are set by the host inside an interactive session. Host
// subcommands refuse to run nested, so children never inherit them.
var SessionMarkers = []string{"CLAUDECODE", "CLAUDE_CODE_SESSION_ID"}

// DefaultWaitDelay bounds how long a cancelled child may keep its output
// pipes open after the terminate signal.
const DefaultWaitDelay = 5 * time.Second

// Executor runs commands to completion and captures their output.
type Executor struct {
	env       []string
	waitDelay time.Duration
	logger    hclog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBaseEnv replaces os.Environ() as the inherited environment.
func WithBaseEnv(env []string) ExecutorOption {
	return func(e *Executor) { e.env = env }
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.waitDelay = d }
}

// NewExecutor creates a new process executor
func NewExecutor(logger hclog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	e := &Executor{
		env:       os.Environ(),
		waitDelay: DefaultWaitDelay,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes cmd and waits for it. A non-zero exit or a timeout is
// reported in the Result; the error is only set when the process could not
// be started.
func (e *Executor) Run(ctx context.Context, cmd process.Command) (process.Result, error) {
	if cmd.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout())
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, cmd.Executable(), cmd.Args()...)
	execCmd.Dir = cmd.WorkingDir()
	execCmd.Env = e.buildEnvironment(cmd.Env())
	execCmd.Cancel = func() error { return terminate(execCmd.Process) }
	execCmd.WaitDelay = e.waitDelay

	if input := cmd.Stdin(); input != "" {
		execCmd.Stdin = strings.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	e.logger.Trace("running command", "command", cmd.String(), "dir", cmd.WorkingDir(), "timeout", cmd.Timeout())
	start := time.Now()
	if err := execCmd.Start(); err != nil {
		return process.Result{ExitCode: -1}, fmt.Errorf("failed to start %s: %w", cmd.Executable(), err)
	}

	waitErr := execCmd.Wait()
	result := process.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
	}

	e.logger.Trace("command finished", "command", cmd.String(), "exit_code", result.ExitCode,
		"timed_out", result.TimedOut, "duration", result.Duration)
	return result, nil
}

// buildEnvironment combines the base environment with command-specific
// variables and drops the session markers.
func (e *Executor) buildEnvironment(cmdEnv map[string]string) []string {
	env := CleanEnvironment(e.env)
	for key, value := range cmdEnv {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	return env
}

// CleanEnvironment returns env without the session markers.
func CleanEnvironment(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if isSessionMarker(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isSessionMarker(name string) bool {
	for _, m := range SessionMarkers {
		if name == m {
			return true
		}
	}
	return false
}

func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(ConvertSignal(process.SignalTerminate))
}

// ConvertSignal converts domain signal to OS signal
func ConvertSignal(signal process.ProcessSignal) os.Signal {
	switch signal {
	case process.SignalTerminate:
		return syscall.SIGTERM
	case process.SignalInterrupt:
		return syscall.SIGINT
	case process.SignalKill:
		return syscall.SIGKILL
	default:
		return syscall.SIGTERM
	}
}

var _ procp.Runner = (*Executor)(nil)
