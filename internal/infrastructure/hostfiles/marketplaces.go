package hostfiles

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

var registryNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidRegistryName reports whether name is safe to pass to the host CLI.
func ValidRegistryName(name string) bool {
	return registryNamePattern.MatchString(name)
}

type marketplaceSource struct {
	Source string `json:"source"`
	Repo   string `json:"repo"`
}

type marketplaceEntry struct {
	Source     marketplaceSource `json:"source"`
	AutoUpdate bool              `json:"autoUpdate"`
}

// MarketplacesFile is the host's known_marketplaces.json.
type MarketplacesFile struct {
	path   string
	logger hclog.Logger
}

// NewMarketplacesFile creates an accessor for path.
func NewMarketplacesFile(path string, logger hclog.Logger) *MarketplacesFile {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MarketplacesFile{path: path, logger: logger}
}

// Registries returns every known registry with a valid name. A missing file
// yields an empty map.
func (f *MarketplacesFile) Registries(ctx context.Context) (map[string]plugindomain.RegistryState, error) {
	out := make(map[string]plugindomain.RegistryState)

	data, ok, err := fsutil.ReadFileIfExists(f.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		f.logger.Debug("known registries file not found", "path", f.path)
		return out, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse %s: invalid JSON", f.path)
	}

	var invalid []string
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if !ValidRegistryName(name) {
			invalid = append(invalid, name)
			return true
		}
		state := plugindomain.RegistryState{SourceKind: "unknown", Location: "unknown"}
		if src := value.Get("source"); src.IsObject() {
			if s := src.Get("source"); s.Exists() {
				state.SourceKind = s.String()
			}
			if r := src.Get("repo"); r.Exists() {
				state.Location = r.String()
			} else if u := src.Get("url"); u.Exists() {
				state.Location = u.String()
			}
		}
		state.AutoUpdate = value.Get("autoUpdate").Bool()
		out[name] = state
		return true
	})
	if len(invalid) > 0 {
		f.logger.Warn("skipping registries with invalid names", "names", invalid)
	}
	return out, nil
}

// AddMissing adds every registry in want that the file does not list and
// returns the added names in sorted order. Existing entries are never
// changed or removed.
func (f *MarketplacesFile) AddMissing(ctx context.Context, want map[string]plugindomain.RegistryState) ([]string, error) {
	data, ok, err := fsutil.ReadFileIfExists(f.path)
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		data = []byte("{}\n")
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse %s: invalid JSON", f.path)
	}

	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	var added []string
	for _, name := range names {
		if !ValidRegistryName(name) {
			f.logger.Warn("not adding registry with invalid name", "name", name)
			continue
		}
		if gjson.GetBytes(data, escapePath(name)).Exists() {
			continue
		}
		state := want[name]
		raw, err := json.Marshal(marketplaceEntry{
			Source:     marketplaceSource{Source: orDefault(state.SourceKind, "github"), Repo: state.Location},
			AutoUpdate: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal registry %s: %w", name, err)
		}
		data, err = sjson.SetRawBytes(data, escapePath(name), raw)
		if err != nil {
			return nil, fmt.Errorf("failed to add registry %s: %w", name, err)
		}
		f.logger.Info("adding registry", "name", name, "repo", state.Location)
		added = append(added, name)
	}

	if len(added) == 0 {
		return nil, nil
	}
	if err := fsutil.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return nil, err
	}
	return added, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var _ pluginports.RegistrySource = (*MarketplacesFile)(nil)
