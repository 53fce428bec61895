package hostfiles

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

// HookTimeoutSeconds is the timeout the host applies to the session hook.
const HookTimeoutSeconds = 120

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
	Async   bool   `json:"async"`
}

type hookGroup struct {
	Matcher string        `json:"matcher"`
	Hooks   []hookCommand `json:"hooks"`
}

// LocalSettingsFile is the host's settings.local.json, which carries the
// user-level SessionStart hook.
type LocalSettingsFile struct {
	path string
}

// NewLocalSettingsFile creates an accessor for path.
func NewLocalSettingsFile(path string) *LocalSettingsFile {
	return &LocalSettingsFile{path: path}
}

// EnsureSessionHook registers command as an async SessionStart hook limited
// to the "startup" matcher. An existing registration of the same command
// missing the matcher, the async flag or the expected timeout is upgraded
// in place. The file is created when missing.
func (f *LocalSettingsFile) EnsureSessionHook(ctx context.Context, command string) (pluginports.HookChange, error) {
	data, ok, err := fsutil.ReadFileIfExists(f.path)
	if err != nil {
		return pluginports.HookUnchanged, err
	}
	if !ok || len(data) == 0 {
		data = []byte("{}\n")
	}
	if !gjson.ValidBytes(data) {
		return pluginports.HookUnchanged, fmt.Errorf("failed to parse %s: invalid JSON", f.path)
	}

	groupIdx, hookIdx := -1, -1
	for gi, group := range gjson.GetBytes(data, "hooks.SessionStart").Array() {
		for hi, hook := range group.Get("hooks").Array() {
			if hook.Get("command").String() == command {
				groupIdx, hookIdx = gi, hi
				break
			}
		}
		if groupIdx >= 0 {
			break
		}
	}

	change := pluginports.HookUnchanged
	if groupIdx < 0 {
		raw, err := json.Marshal(hookGroup{
			Matcher: "startup",
			Hooks:   []hookCommand{{Type: "command", Command: command, Timeout: HookTimeoutSeconds, Async: true}},
		})
		if err != nil {
			return pluginports.HookUnchanged, fmt.Errorf("failed to marshal hook: %w", err)
		}
		path := "hooks.SessionStart.-1"
		if !gjson.GetBytes(data, "hooks.SessionStart").IsArray() {
			path, raw = "hooks.SessionStart", append(append([]byte{'['}, raw...), ']')
		}
		if data, err = sjson.SetRawBytes(data, path, raw); err != nil {
			return pluginports.HookUnchanged, fmt.Errorf("failed to add hook: %w", err)
		}
		change = pluginports.HookAdded
	} else {
		groupPath := fmt.Sprintf("hooks.SessionStart.%d", groupIdx)
		hookPath := fmt.Sprintf("%s.hooks.%d", groupPath, hookIdx)

		updates := make(map[string]any)
		if !gjson.GetBytes(data, groupPath+".matcher").Exists() {
			updates[groupPath+".matcher"] = "startup"
		}
		if async := gjson.GetBytes(data, hookPath+".async"); async.Type != gjson.True {
			updates[hookPath+".async"] = true
		}
		if gjson.GetBytes(data, hookPath+".timeout").Int() != HookTimeoutSeconds {
			updates[hookPath+".timeout"] = HookTimeoutSeconds
		}
		for path, value := range updates {
			if data, err = sjson.SetBytes(data, path, value); err != nil {
				return pluginports.HookUnchanged, fmt.Errorf("failed to upgrade hook: %w", err)
			}
		}
		if len(updates) > 0 {
			change = pluginports.HookUpgraded
		}
	}

	if change == pluginports.HookUnchanged {
		return change, nil
	}
	if err := fsutil.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return pluginports.HookUnchanged, err
	}
	return change, nil
}

var _ pluginports.SessionHookStore = (*LocalSettingsFile)(nil)
