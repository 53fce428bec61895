package configdomain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownKey is returned for a key that no field declares.
var ErrUnknownKey = errors.New("unknown configuration key")

// Kind is the value type of a field.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDuration:
		return "duration"
	default:
		return "string"
	}
}

// Field declares one configuration key.
type Field struct {
	Key     string
	Kind    Kind
	Default any
	Usage   string
}

// EnvName is the environment variable that sets the field.
func (f Field) EnvName() string {
	return "PLUGSYNC_" + strings.ToUpper(strings.ReplaceAll(f.Key, ".", "_"))
}

// Fields lists every supported key. Config files use the same dotted path
// as nested objects, e.g. {"auto_update": {"interval_hours": 24}}.
var Fields = []Field{
	{Key: "auto_install.enabled", Kind: KindBool, Default: true, Usage: "install plugins missing from this machine"},
	{Key: "auto_update.enabled", Kind: KindBool, Default: true, Usage: "run the periodic update pass"},
	{Key: "auto_update.interval_hours", Kind: KindInt, Default: 24, Usage: "hours between update passes, 0 updates every cycle"},
	{Key: "auto_update.notify", Kind: KindBool, Default: true, Usage: "send desktop notifications"},
	{Key: "auto_update.parallelism", Kind: KindInt, Default: 1, Usage: "concurrent plugin updates"},
	{Key: "git_sync.enabled", Kind: KindBool, Default: true, Usage: "pull and push the snapshot repository"},
	{Key: "git_sync.auto_push", Kind: KindBool, Default: true, Usage: "push structural snapshot changes"},
	{Key: "global_sync.enabled", Kind: KindBool, Default: true, Usage: "copy global-rules/CLAUDE.md into the host dir"},
	{Key: "global_skills_sync.enabled", Kind: KindBool, Default: true, Usage: "copy global-skills/*/SKILL.md into the host dir"},
	{Key: "hook.enabled", Kind: KindBool, Default: true, Usage: "keep the SessionStart hook registered"},
	{Key: "cooldown_seconds", Kind: KindInt, Default: 300, Usage: "skip a cycle started this soon after the previous one"},
	{Key: "retry.interval_seconds", Kind: KindInt, Default: 600, Usage: "minimum seconds between install retries"},
	{Key: "retry.max_count", Kind: KindInt, Default: 5, Usage: "failed installs tolerated before giving up"},
	{Key: "host.command", Kind: KindString, Default: "claude", Usage: "host application executable"},
	{Key: "host.list_timeout", Kind: KindDuration, Default: 60 * time.Second, Usage: "timeout for list and git commands"},
	{Key: "host.install_timeout", Kind: KindDuration, Default: 120 * time.Second, Usage: "timeout for install and update commands"},
	{Key: "metrics.textfile", Kind: KindString, Default: "", Usage: "write cycle metrics to this Prometheus textfile"},
	{Key: "service.self_heal", Kind: KindBool, Default: true, Usage: "reinstall the startup service when missing"},
	{Key: "paths.host_dir", Kind: KindString, Default: "", Usage: "host application directory (default ~/.claude)"},
	{Key: "paths.home", Kind: KindString, Default: "", Usage: "snapshot repository (default <host_dir>/plugins/auto-manager)"},
	{Key: "log.level", Kind: KindString, Default: "info", Usage: "trace, debug, info, warn or error"},
}

// LookupField returns the field declared for key.
func LookupField(key string) (Field, bool) {
	for _, f := range Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Defaults returns the lowest priority layer.
func Defaults() Snapshot {
	snap := make(Snapshot, len(Fields))
	for _, f := range Fields {
		snap[f.Key] = Entry{Key: f.Key, Value: f.Default, Source: "default", Priority: PriorityDefault}
	}
	return snap
}

// Coerce converts a raw value from a file, the environment or a flag into
// the field's type.
func Coerce(f Field, raw any) (any, error) {
	switch f.Kind {
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a boolean", f.Key, v)
			}
			return b, nil
		}
	case KindInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case uint64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("%s: %v is not an integer", f.Key, v)
			}
			return int(v), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not an integer", f.Key, v)
			}
			return i, nil
		}
	case KindDuration:
		switch v := raw.(type) {
		case time.Duration:
			return v, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			d, err := parseDuration(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a duration", f.Key, v)
			}
			return d, nil
		}
	case KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
	}
	return nil, fmt.Errorf("%s: cannot use %T as %s", f.Key, raw, f.Kind)
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
