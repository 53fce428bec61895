package configinfra

import (
	"context"

	"github.com/spf13/pflag"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	configports "github.com/kilometers-ai/plugsync/internal/core/ports/config"
)

// FlagLoader turns explicitly set command-line flags into priority 1
// entries. bindings maps flag names to config keys; flags left at their
// default are not reported.
type FlagLoader struct {
	flags    *pflag.FlagSet
	bindings map[string]string
}

func NewFlagLoader(flags *pflag.FlagSet, bindings map[string]string) *FlagLoader {
	return &FlagLoader{flags: flags, bindings: bindings}
}

func (l *FlagLoader) Name() string { return "flags" }

func (l *FlagLoader) Load(ctx context.Context) (configdomain.Snapshot, error) {
	snap := make(configdomain.Snapshot)
	if l.flags == nil {
		return snap, nil
	}
	for name, key := range l.bindings {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		snap[key] = configdomain.Entry{Key: key, Value: flag.Value.String(), Source: "cli", SourcePath: "--" + name, Priority: configdomain.PriorityFlag}
	}
	return snap, nil
}

var _ configports.Loader = (*FlagLoader)(nil)
