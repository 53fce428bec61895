package configdomain

import "path/filepath"

// SelfName is the key the tool registers itself under in the host's
// installed-plugin registry.
const SelfName = "auto-manager"

// Paths locates every file the tool reads or writes.
type Paths struct {
	// UserHome is the OS user home directory.
	UserHome string
	// HostDir is the host application directory, normally ~/.claude.
	HostDir string
	// Home is the git-backed snapshot repository.
	Home string
}

// ResolvePaths fills in defaults for empty overrides.
func ResolvePaths(userHome, hostDir, home string) Paths {
	if hostDir == "" {
		hostDir = filepath.Join(userHome, ".claude")
	}
	if home == "" {
		home = filepath.Join(hostDir, "plugins", SelfName)
	}
	return Paths{UserHome: userHome, HostDir: hostDir, Home: home}
}

func (p Paths) SnapshotsDir() string { return filepath.Join(p.Home, "snapshots") }
func (p Paths) SnapshotFile() string { return filepath.Join(p.SnapshotsDir(), "current.json") }
func (p Paths) LedgerFile() string { return filepath.Join(p.SnapshotsDir(), ".last-install-state.json") }
func (p Paths) LastUpdateFile() string { return filepath.Join(p.SnapshotsDir(), ".last-update") }
func (p Paths) LastRunFile() string { return filepath.Join(p.SnapshotsDir(), ".last-run") }

func (p Paths) LogDir() string { return filepath.Join(p.Home, "logs") }
func (p Paths) LogFile() string { return filepath.Join(p.LogDir(), "auto-manager.log") }

// ConfigFiles are the candidate config files in increasing precedence.
func (p Paths) ConfigFiles() []string {
	return []string{
		filepath.Join(p.Home, "config.yaml"),
		filepath.Join(p.Home, "config.json"),
	}
}

func (p Paths) PluginsDir() string { return filepath.Join(p.HostDir, "plugins") }
func (p Paths) InstalledPluginsFile() string { return filepath.Join(p.PluginsDir(), "installed_plugins.json") }
func (p Paths) KnownMarketplacesFile() string { return filepath.Join(p.PluginsDir(), "known_marketplaces.json") }
func (p Paths) HostSettingsFile() string { return filepath.Join(p.HostDir, "settings.json") }
func (p Paths) HostLocalSettingsFile() string { return filepath.Join(p.HostDir, "settings.local.json") }

func (p Paths) GlobalRulesSource() string { return filepath.Join(p.Home, "global-rules", "CLAUDE.md") }
func (p Paths) GlobalRulesTarget() string { return filepath.Join(p.HostDir, "CLAUDE.md") }
func (p Paths) GlobalSkillsSource() string { return filepath.Join(p.Home, "global-skills") }
func (p Paths) GlobalSkillsTarget() string { return filepath.Join(p.HostDir, "skills") }

// RelToHome returns path relative to the snapshot repository, for git.
func (p Paths) RelToHome(path string) (string, error) {
	return filepath.Rel(p.Home, path)
}
