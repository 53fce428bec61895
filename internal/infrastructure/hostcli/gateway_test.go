package hostcli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
)

// scriptedRunner answers each invocation from a queue and records the
// argument lists it saw.
type scriptedRunner struct {
	results []process.Result
	errs    []error
	calls   [][]string
	timeout []time.Duration
}

func (r *scriptedRunner) Run(_ context.Context, cmd process.Command) (process.Result, error) {
	r.calls = append(r.calls, append([]string{cmd.Executable()}, cmd.Args()...))
	r.timeout = append(r.timeout, cmd.Timeout())
	i := len(r.calls) - 1
	var res process.Result
	var err error
	if i < len(r.results) {
		res = r.results[i]
	}
	if i < len(r.errs) {
		err = r.errs[i]
	}
	return res, err
}

func joined(calls [][]string) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

func TestGateway_InstallSuccess(t *testing.T) {
	runner := &scriptedRunner{results: []process.Result{{ExitCode: 0}}}
	g := NewGateway(runner, Config{}, nil)

	err := g.Install(context.Background(), plugindomain.MustQualified("lint", "tools"))

	require.NoError(t, err)
	assert.Equal(t, []string{"claude plugin install lint@tools"}, joined(runner.calls))
	assert.Equal(t, DefaultInstallTimeout, runner.timeout[0])
}

func TestGateway_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		result process.Result
		err    error
		want   pluginports.Outcome
		target error
	}{
		{"timeout", process.Result{ExitCode: -1, TimedOut: true}, nil, pluginports.OutcomeTimeout, pluginports.ErrTimeout},
		{"not installed on stdout", process.Result{ExitCode: 1, Stdout: "Plugin lint@tools is Not Installed"}, nil, pluginports.OutcomeNotInstalled, pluginports.ErrNotInstalled},
		{"plain failure", process.Result{ExitCode: 2, Stderr: "network error\nretry later"}, nil, pluginports.OutcomeFailed, pluginports.ErrCommand},
		{"cannot start", process.Result{}, errors.New("executable file not found"), pluginports.OutcomeUnavailable, pluginports.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{results: []process.Result{tt.result}, errs: []error{tt.err}}
			g := NewGateway(runner, Config{}, nil)

			err := g.Install(context.Background(), plugindomain.MustQualified("lint", "tools"))

			require.Error(t, err)
			assert.Equal(t, tt.want, pluginports.OutcomeOf(err))
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestGateway_FailureOutputIsFirstLine(t *testing.T) {
	runner := &scriptedRunner{results: []process.Result{{ExitCode: 2, Stderr: "network error\nretry later"}}}
	g := NewGateway(runner, Config{}, nil)

	err := g.Install(context.Background(), plugindomain.MustQualified("lint", "tools"))

	var cmdErr *pluginports.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "network error", cmdErr.Output)
	assert.Equal(t, 2, cmdErr.ExitCode)
}

func TestGateway_UpdateRetriesWithBareName(t *testing.T) {
	runner := &scriptedRunner{results: []process.Result{
		{ExitCode: 1, Stderr: "plugin lint@tools not installed"},
		{ExitCode: 0},
	}}
	g := NewGateway(runner, Config{Command: "/opt/host"}, nil)

	err := g.Update(context.Background(), plugindomain.MustQualified("lint", "tools"))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"/opt/host plugin update lint@tools",
		"/opt/host plugin update lint",
	}, joined(runner.calls))
}

func TestGateway_UpdateDoesNotRetryOtherFailures(t *testing.T) {
	runner := &scriptedRunner{results: []process.Result{{ExitCode: 1, Stderr: "boom"}}}
	g := NewGateway(runner, Config{}, nil)

	err := g.Update(context.Background(), plugindomain.MustQualified("lint", "tools"))

	assert.Equal(t, pluginports.OutcomeFailed, pluginports.OutcomeOf(err))
	assert.Len(t, runner.calls, 1)
}

func TestGateway_UpdateRegistry(t *testing.T) {
	runner := &scriptedRunner{results: []process.Result{{}, {}}}
	g := NewGateway(runner, Config{}, nil)

	require.NoError(t, g.UpdateRegistry(context.Background(), "tools"))
	require.NoError(t, g.UpdateRegistry(context.Background(), ""))

	assert.Equal(t, []string{
		"claude plugin marketplace update tools",
		"claude plugin marketplace update",
	}, joined(runner.calls))
}

func TestGateway_ListUsesListTimeout(t *testing.T) {
	runner := &scriptedRunner{results: []process.Result{{Stdout: "lint@tools 1.0.0\n"}}}
	g := NewGateway(runner, Config{ListTimeout: 5 * time.Second}, nil)

	out, err := g.List(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out, "lint@tools")
	assert.Equal(t, 5*time.Second, runner.timeout[0])
}

func TestGateway_Available(t *testing.T) {
	t.Run("nothing registered skips the probe", func(t *testing.T) {
		runner := &scriptedRunner{}
		assert.True(t, NewGateway(runner, Config{}, nil).Available(context.Background(), 0))
		assert.Empty(t, runner.calls)
	})

	t.Run("host says no plugins installed", func(t *testing.T) {
		runner := &scriptedRunner{results: []process.Result{{Stdout: "No plugins installed.\n"}}}
		assert.False(t, NewGateway(runner, Config{}, nil).Available(context.Background(), 3))
	})

	t.Run("host lists plugins", func(t *testing.T) {
		runner := &scriptedRunner{results: []process.Result{{Stdout: "lint@tools\n"}}}
		assert.True(t, NewGateway(runner, Config{}, nil).Available(context.Background(), 3))
	})

	t.Run("probe timeout counts as available", func(t *testing.T) {
		runner := &scriptedRunner{results: []process.Result{{ExitCode: -1, TimedOut: true}}}
		assert.True(t, NewGateway(runner, Config{}, nil).Available(context.Background(), 3))
	})
}
