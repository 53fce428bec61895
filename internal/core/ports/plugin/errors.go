package pluginports

import (
	"errors"
	"fmt"
)

// Outcome classifies a failed external command.
type Outcome int

const (
	// OutcomeFailed is any unexpected non-zero exit.
	OutcomeFailed Outcome = iota
	// OutcomeNotInstalled means the host reported the target as not installed.
	OutcomeNotInstalled
	// OutcomeTimeout means the command exceeded its deadline.
	OutcomeTimeout
	// OutcomeUnavailable means the command could not be started.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotInstalled:
		return "not-installed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

var (
	ErrNotInstalled = errors.New("not installed")
	ErrTimeout      = errors.New("command timed out")
	ErrUnavailable  = errors.New("command unavailable")
	ErrCommand      = errors.New("command failed")
)

// ErrRegistryFileMissing is returned when the host's installed-plugin
// registry does not exist. The host creates it; plugsync never does.
var ErrRegistryFileMissing = errors.New("installed plugin registry not found")

// CommandError carries the typed outcome of a failed gateway call.
type CommandError struct {
	Op       string
	Target   string
	Outcome  Outcome
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	target := e.Target
	if target == "" {
		target = "-"
	}
	msg := fmt.Sprintf("%s %s: %s (exit %d)", e.Op, target, e.Outcome, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is matches the sentinel errors against the outcome.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrNotInstalled:
		return e.Outcome == OutcomeNotInstalled
	case ErrTimeout:
		return e.Outcome == OutcomeTimeout
	case ErrUnavailable:
		return e.Outcome == OutcomeUnavailable
	case ErrCommand:
		return true
	}
	return false
}

// OutcomeOf returns the outcome carried by err, OutcomeFailed otherwise.
func OutcomeOf(err error) Outcome {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Outcome
	}
	return OutcomeFailed
}

// ErrNothingToCommit is returned by VersionControl.Commit when nothing is
// staged.
var ErrNothingToCommit = errors.New("nothing to commit")

// ErrNotCommitted is returned by VersionControl.Committed when HEAD does not
// carry the path.
var ErrNotCommitted = errors.New("not committed")
