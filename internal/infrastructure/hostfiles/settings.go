package hostfiles

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

// SettingsFile is the host's settings.json.
type SettingsFile struct {
	path string
}

// NewSettingsFile creates an accessor for path.
func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: path}
}

// Enabled returns the enabledPlugins map. A missing file or key is empty.
func (f *SettingsFile) Enabled(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)

	data, ok, err := fsutil.ReadFileIfExists(f.path)
	if err != nil || !ok {
		return out, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse %s: invalid JSON", f.path)
	}

	gjson.GetBytes(data, "enabledPlugins").ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Bool()
		return true
	})
	return out, nil
}

var _ pluginports.EnablementSource = (*SettingsFile)(nil)
