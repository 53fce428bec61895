package configinfra

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	configports "github.com/kilometers-ai/plugsync/internal/core/ports/config"
)

// FileLoader reads config.yaml / config.json from the snapshot home at
// priority 3. JSON is read through the YAML decoder. Nested objects are
// flattened to dotted keys, so {"auto_update": {"interval_hours": 0}} sets
// auto_update.interval_hours. Unknown keys are logged and ignored.
type FileLoader struct {
	paths  []string
	logger hclog.Logger
}

// NewFileLoader creates a loader over paths, read in order; later files
// override earlier ones.
func NewFileLoader(logger hclog.Logger, paths ...string) *FileLoader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FileLoader{paths: paths, logger: logger}
}

func (l *FileLoader) Name() string { return "file" }

func (l *FileLoader) Load(ctx context.Context) (configdomain.Snapshot, error) {
	snap := make(configdomain.Snapshot)

	for _, path := range l.paths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		flat := make(map[string]any)
		flatten("", doc, flat)

		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if _, ok := configdomain.LookupField(key); !ok {
				l.logger.Warn("ignoring unknown config key", "key", key, "file", path)
				continue
			}
			snap[key] = configdomain.Entry{
				Key:        key,
				Value:      flat[key],
				Source:     "file",
				SourcePath: path,
				Priority:   configdomain.PriorityFile,
			}
		}
	}
	return snap, nil
}

// flatten walks nested maps into dotted keys. A key that names a field is
// kept even when its value is itself a map, so type errors surface in Build.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			if _, isField := configdomain.LookupField(key); !isField {
				flatten(key, nested, out)
				continue
			}
		}
		if v == nil {
			continue
		}
		out[key] = v
	}
}

var _ configports.Loader = (*FileLoader)(nil)
