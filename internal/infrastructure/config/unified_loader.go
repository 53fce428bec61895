// Package configinfra loads plugsync settings from defaults, config files,
// PLUGSYNC_* environment variables and command-line flags.
package configinfra

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	configports "github.com/kilometers-ai/plugsync/internal/core/ports/config"
)

// Loaded is the result of one load: typed settings plus the merged entries
// they were built from, for `config show`.
type Loaded struct {
	Settings *configdomain.Settings
	Entries  configdomain.Snapshot
}

// UnifiedLoader merges every layer. The config file location depends on
// paths.home, which only the higher layers may set, so those are resolved
// first.
type UnifiedLoader struct {
	userHome  string
	env       configports.Loader
	flags     configports.Loader
	validator configports.Validator
	logger    hclog.Logger
}

// NewUnifiedLoader creates a loader. flags may be nil.
func NewUnifiedLoader(userHome string, env, flags configports.Loader, validator configports.Validator, logger hclog.Logger) *UnifiedLoader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &UnifiedLoader{userHome: userHome, env: env, flags: flags, validator: validator, logger: logger}
}

// Load reads all layers once and validates the result.
func (l *UnifiedLoader) Load(ctx context.Context) (*Loaded, error) {
	upper := make(configdomain.Snapshot)
	for _, loader := range []configports.Loader{l.env, l.flags} {
		if loader == nil {
			continue
		}
		snap, err := loader.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", loader.Name(), err)
		}
		upper.Merge(snap)
	}

	bootstrap, err := configdomain.Build(upper, l.userHome)
	if err != nil {
		return nil, err
	}

	file := NewFileLoader(l.logger, bootstrap.Paths.ConfigFiles()...)
	fileSnap, err := file.Load(ctx)
	if err != nil {
		return nil, err
	}

	// the file may not relocate the home it was read from
	if e, ok := fileSnap["paths.home"]; ok {
		l.logger.Warn("paths.home cannot be set from the config file it lives in", "file", e.SourcePath)
		delete(fileSnap, "paths.home")
	}

	merged := configdomain.Defaults()
	merged.Merge(fileSnap)
	merged.Merge(upper)

	settings, err := configdomain.Build(merged, l.userHome)
	if err != nil {
		return nil, err
	}
	settings.Paths.Home = bootstrap.Paths.Home

	if l.validator != nil {
		if err := l.validator.Validate(settings); err != nil {
			return nil, err
		}
	}
	return &Loaded{Settings: settings, Entries: merged}, nil
}
