package process

import (
	"context"

	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
)

// Runner executes a command to completion and captures its output.
//
// A non-nil error means the command could not be started at all (for
// example the executable is missing). Non-zero exits and timeouts are
// reported through the Result.
type Runner interface {
	Run(ctx context.Context, cmd process.Command) (process.Result, error)
}
