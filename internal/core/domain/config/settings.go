package configdomain

import (
	"fmt"
	"time"
)

// Settings is the typed configuration for one cycle. It is built once at
// cycle start and never re-read mid-cycle.
type Settings struct {
	AutoInstall AutoInstallSettings
	AutoUpdate  AutoUpdateSettings
	GitSync     GitSyncSettings
	GlobalSync  GlobalSyncSettings
	Hook        HookSettings
	Cooldown    time.Duration `validate:"gte=0"`
	Retry       RetrySettings
	Host        HostSettings
	Metrics     MetricsSettings
	Service     ServiceSettings
	Paths       Paths
	LogLevel    string `validate:"oneof=trace debug info warn error off"`
}

type AutoInstallSettings struct {
	Enabled bool
}

type AutoUpdateSettings struct {
	Enabled       bool
	IntervalHours int `validate:"gte=0,lte=8760"`
	Notify        bool
	Parallelism   int `validate:"gte=1,lte=16"`
}

type GitSyncSettings struct {
	Enabled  bool
	AutoPush bool
}

type GlobalSyncSettings struct {
	RulesEnabled  bool
	SkillsEnabled bool
}

type HookSettings struct {
	Enabled bool
}

type RetrySettings struct {
	Interval time.Duration `validate:"gt=0"`
	MaxCount int           `validate:"gte=0,lte=100"`
}

type HostSettings struct {
	Command        string        `validate:"required"`
	ListTimeout    time.Duration `validate:"gt=0"`
	InstallTimeout time.Duration `validate:"gt=0"`
}

type MetricsSettings struct {
	Textfile string
}

type ServiceSettings struct {
	SelfHeal bool
}

// Build converts a merged snapshot into Settings. Keys missing from snap
// fall back to the field defaults. Unknown keys are ignored by Build and
// reported by the loaders.
func Build(snap Snapshot, userHome string) (*Settings, error) {
	full := Defaults()
	full.Merge(snap)

	r := reader{snap: full}
	s := &Settings{
		AutoInstall: AutoInstallSettings{Enabled: r.bool("auto_install.enabled")},
		AutoUpdate: AutoUpdateSettings{
			Enabled:       r.bool("auto_update.enabled"),
			IntervalHours: r.int("auto_update.interval_hours"),
			Notify:        r.bool("auto_update.notify"),
			Parallelism:   r.int("auto_update.parallelism"),
		},
		GitSync: GitSyncSettings{
			Enabled:  r.bool("git_sync.enabled"),
			AutoPush: r.bool("git_sync.auto_push"),
		},
		GlobalSync: GlobalSyncSettings{
			RulesEnabled:  r.bool("global_sync.enabled"),
			SkillsEnabled: r.bool("global_skills_sync.enabled"),
		},
		Hook:     HookSettings{Enabled: r.bool("hook.enabled")},
		Cooldown: time.Duration(r.int("cooldown_seconds")) * time.Second,
		Retry: RetrySettings{
			Interval: time.Duration(r.int("retry.interval_seconds")) * time.Second,
			MaxCount: r.int("retry.max_count"),
		},
		Host: HostSettings{
			Command:        r.string("host.command"),
			ListTimeout:    r.duration("host.list_timeout"),
			InstallTimeout: r.duration("host.install_timeout"),
		},
		Metrics:  MetricsSettings{Textfile: r.string("metrics.textfile")},
		Service:  ServiceSettings{SelfHeal: r.bool("service.self_heal")},
		LogLevel: r.string("log.level"),
	}
	if r.err != nil {
		return nil, r.err
	}

	s.Paths = ResolvePaths(userHome, r.string("paths.host_dir"), r.string("paths.home"))
	return s, nil
}

type reader struct {
	snap Snapshot
	err  error
}

func (r *reader) value(key string) any {
	f, ok := LookupField(key)
	if !ok {
		panic("configdomain: undeclared field " + key)
	}
	e := r.snap[key]
	v, err := Coerce(f, e.Value)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%w (from %s %s)", err, e.Source, e.SourcePath)
		}
		return f.Default
	}
	return v
}

func (r *reader) bool(key string) bool { return r.value(key).(bool) }
func (r *reader) int(key string) int { return r.value(key).(int) }
func (r *reader) string(key string) string { return r.value(key).(string) }
func (r *reader) duration(key string) time.Duration { return r.value(key).(time.Duration) }
