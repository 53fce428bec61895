package configinfra

import (
	"context"
	"os"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	configports "github.com/kilometers-ai/plugsync/internal/core/ports/config"
)

// EnvLoader reads PLUGSYNC_* variables at priority 2.
type EnvLoader struct {
	lookup func(string) (string, bool)
}

func NewEnvLoader() *EnvLoader { return &EnvLoader{lookup: os.LookupEnv} }

// NewEnvLoaderFunc reads variables through lookup instead of the process
// environment.
func NewEnvLoaderFunc(lookup func(string) (string, bool)) *EnvLoader {
	return &EnvLoader{lookup: lookup}
}

func (l *EnvLoader) Name() string { return "env" }

// Load implements Loader by returning the environment snapshot. Empty
// variables are treated as unset.
func (l *EnvLoader) Load(ctx context.Context) (configdomain.Snapshot, error) {
	snap := make(configdomain.Snapshot)
	for _, f := range configdomain.Fields {
		name := f.EnvName()
		if v, ok := l.lookup(name); ok && v != "" {
			snap[f.Key] = configdomain.Entry{Key: f.Key, Value: v, Source: "env", SourcePath: name, Priority: configdomain.PriorityEnv}
		}
	}
	return snap, nil
}

var _ configports.Loader = (*EnvLoader)(nil)
