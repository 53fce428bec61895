// Package hostfiles reads and patches the JSON files the host application
// owns. Reads are lenient and writes touch only the keys they insert, so the
// rest of each document survives byte for byte.
package hostfiles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

// ErrRegistryFileMissing is returned when installed_plugins.json does not
// exist.
var ErrRegistryFileMissing = pluginports.ErrRegistryFileMissing

// InstallRecord is one element of a plugin's entry list in
// installed_plugins.json.
type InstallRecord struct {
	Scope        string `json:"scope"`
	InstallPath  string `json:"installPath"`
	Version      string `json:"version"`
	InstalledAt  string `json:"installedAt"`
	LastUpdated  string `json:"lastUpdated"`
	GitCommitSha string `json:"gitCommitSha,omitempty"`
}

// InstalledFile is the host's installed_plugins.json.
type InstalledFile struct {
	path   string
	logger hclog.Logger
}

// NewInstalledFile creates an accessor for path.
func NewInstalledFile(path string, logger hclog.Logger) *InstalledFile {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &InstalledFile{path: path, logger: logger}
}

// Path returns the file location.
func (f *InstalledFile) Path() string { return f.path }

// Observe reads the installed plugin set. A missing file is an empty set.
// Keys that do not parse are logged and skipped.
func (f *InstalledFile) Observe(ctx context.Context) (*plugindomain.ObservedState, error) {
	observed := plugindomain.NewObservedState()

	data, ok, err := fsutil.ReadFileIfExists(f.path)
	if err != nil || !ok {
		return observed, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse %s: invalid JSON", f.path)
	}

	gjson.GetBytes(data, "plugins").ForEach(func(key, value gjson.Result) bool {
		id, err := plugindomain.ParseIdentity(key.String())
		if err != nil {
			f.logger.Warn("skipping installed plugin with invalid key", "key", key.String(), "error", err)
			return true
		}
		first := value
		if value.IsArray() {
			first = value.Get("0")
		}
		observed.Plugins[id] = plugindomain.InstalledPlugin{
			Version:      first.Get("version").String(),
			Scope:        first.Get("scope").String(),
			GitCommitSha: first.Get("gitCommitSha").String(),
			InstallPath:  first.Get("installPath").String(),
		}
		return true
	})
	return observed, nil
}

// HasEntry reports whether the registry lists name.
func (f *InstalledFile) HasEntry(ctx context.Context, name string) (bool, error) {
	data, ok, err := fsutil.ReadFileIfExists(f.path)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrRegistryFileMissing
	}
	return gjson.GetBytes(data, "plugins."+escapePath(name)).Exists(), nil
}

// EnsureEntry inserts plugins[name] = [record] when the key is absent and
// reports whether it wrote. Everything else in the document is left as is.
func (f *InstalledFile) EnsureEntry(ctx context.Context, name string, rec pluginports.RegistrationRecord) (bool, error) {
	data, ok, err := fsutil.ReadFileIfExists(f.path)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrRegistryFileMissing
	}
	if !gjson.ValidBytes(data) {
		return false, fmt.Errorf("failed to parse %s: invalid JSON", f.path)
	}

	path := "plugins." + escapePath(name)
	if gjson.GetBytes(data, path).Exists() {
		return false, nil
	}

	raw, err := json.Marshal([]InstallRecord{{
		Scope:       rec.Scope,
		InstallPath: rec.InstallPath,
		Version:     rec.Version,
		InstalledAt: rec.InstalledAt,
		LastUpdated: rec.LastUpdated,
	}})
	if err != nil {
		return false, fmt.Errorf("failed to marshal registry entry: %w", err)
	}
	patched, err := sjson.SetRawBytes(data, path, raw)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s into %s: %w", name, f.path, err)
	}
	if err := fsutil.WriteFileAtomic(f.path, patched, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// escapePath escapes the gjson path metacharacters in a single key.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	_ pluginports.InstalledSource   = (*InstalledFile)(nil)
	_ pluginports.RegistrationStore = (*InstalledFile)(nil)
)
