package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
)

type recordingRunner struct {
	cmds   []process.Command
	result process.Result
}

func (r *recordingRunner) Run(_ context.Context, cmd process.Command) (process.Result, error) {
	r.cmds = append(r.cmds, cmd)
	return r.result, nil
}

func TestEscapeAppleScript(t *testing.T) {
	assert.Equal(t, `say \"hi\" to C:\\dir`, EscapeAppleScript(`say "hi" to C:\dir`))
}

func TestEscapePowerShell(t *testing.T) {
	assert.Equal(t, "cost `$5 `\"now`\" ``tick", EscapePowerShell("cost $5 \"now\" `tick"))
}

func TestDesktop_Darwin(t *testing.T) {
	runner := &recordingRunner{}
	d := NewDesktopFor(runner, "darwin", nil)

	require.NoError(t, d.Notify(context.Background(), "Auto-Install", `Installed "2" missing plugin(s)`))

	require.Len(t, runner.cmds, 1)
	cmd := runner.cmds[0]
	assert.Equal(t, "osascript", cmd.Executable())
	assert.Equal(t, []string{"-e", `display notification "Installed \"2\" missing plugin(s)" with title "Claude Plugins" subtitle "Auto-Install"`}, cmd.Args())
	assert.Equal(t, Timeout, cmd.Timeout())
}

func TestDesktop_Linux(t *testing.T) {
	runner := &recordingRunner{}

	require.NoError(t, NewDesktopFor(runner, "linux", nil).Notify(context.Background(), "Auto-Update", "Updated 3 plugin(s)"))

	assert.Equal(t, "notify-send", runner.cmds[0].Executable())
	assert.Equal(t, []string{"Claude Plugins", "Auto-Update: Updated 3 plugin(s)"}, runner.cmds[0].Args())
}

func TestDesktop_WindowsEscapesToast(t *testing.T) {
	runner := &recordingRunner{}

	require.NoError(t, NewDesktopFor(runner, "windows", nil).Notify(context.Background(), "Auto-Install", "$env:PATH"))

	args := runner.cmds[0].Args()
	assert.Equal(t, "powershell", runner.cmds[0].Executable())
	assert.Contains(t, args[len(args)-1], "Auto-Install: `$env:PATH")
}

func TestDesktop_UnsupportedPlatform(t *testing.T) {
	runner := &recordingRunner{}

	require.NoError(t, NewDesktopFor(runner, "plan9", nil).Notify(context.Background(), "t", "m"))
	assert.Empty(t, runner.cmds)
}

func TestDesktop_FailureIsReported(t *testing.T) {
	runner := &recordingRunner{result: process.Result{ExitCode: 1, Stderr: "no display"}}

	err := NewDesktopFor(runner, "linux", nil).Notify(context.Background(), "t", "m")

	assert.ErrorContains(t, err, "no display")
}
