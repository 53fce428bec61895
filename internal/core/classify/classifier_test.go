package classify

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
)

type entry struct {
	id      plugindomain.Identity
	version string
}

func snap(entries ...entry) *plugindomain.Snapshot {
	s := plugindomain.NewSnapshot(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	for _, e := range entries {
		s.Registries[e.id.Registry()] = plugindomain.RegistryState{SourceKind: "github", Location: "org/" + e.id.Registry()}
		s.Plugins[e.id] = plugindomain.PluginState{Enabled: true, Version: e.version, Scope: "user", RegistryName: e.id.Registry()}
	}
	return s
}

var (
	alpha = plugindomain.MustQualified("alpha", "r1")
	beta  = plugindomain.MustQualified("beta", "r1")
	gamma = plugindomain.MustQualified("gamma", "r2")
)

func TestClassify_NoPreviousSnapshot(t *testing.T) {
	change := Classify(nil, snap(entry{alpha, "1.0"}))

	assert.Equal(t, Structural, change.Kind)
	assert.True(t, change.FirstSnapshot)
	assert.True(t, change.ShouldPush())
	assert.Equal(t, []plugindomain.Identity{alpha}, change.Added)
}

func TestClassify_VersionBumpOnly(t *testing.T) {
	prev := snap(entry{alpha, "1.0.0"}, entry{beta, "2.0.0"})
	next := snap(entry{alpha, "1.0.1"}, entry{beta, "2.0.0"})

	change := Classify(prev, next)

	assert.Equal(t, VersionOnly, change.Kind)
	assert.False(t, change.ShouldPush(), "Version-only changes must not be pushed")
	want := []VersionChange{{Identity: alpha, From: "1.0.0", To: "1.0.1"}}
	if diff := cmp.Diff(want, change.VersionChanges, cmp.AllowUnexported(plugindomain.Identity{})); diff != "" {
		t.Errorf("version changes mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_EnabledFlagFlipIsVersionOnly(t *testing.T) {
	prev := snap(entry{alpha, "1.0"})
	next := snap(entry{alpha, "1.0"})
	state := next.Plugins[alpha]
	state.Enabled = false
	next.Plugins[alpha] = state

	assert.Equal(t, VersionOnly, Classify(prev, next).Kind)
}

func TestClassify_AddedAndRemoved(t *testing.T) {
	prev := snap(entry{alpha, "1.0"}, entry{beta, "1.0"})
	next := snap(entry{alpha, "1.0"}, entry{gamma, "1.0"})

	change := Classify(prev, next)

	assert.Equal(t, Structural, change.Kind)
	assert.Equal(t, []plugindomain.Identity{gamma}, change.Added)
	assert.Equal(t, []plugindomain.Identity{beta}, change.Removed)
	assert.Equal(t, []string{"r2"}, change.RegistriesAdded)
	assert.Empty(t, change.RegistriesRemoved)
	assert.True(t, change.ShouldPush())
}

func TestClassify_RegistryOnlyChangeAuthorizesPush(t *testing.T) {
	prev := snap(entry{alpha, "1.0"})
	next := snap(entry{alpha, "1.0"})
	next.Registries["extra"] = plugindomain.RegistryState{SourceKind: "github", Location: "org/extra"}

	change := Classify(prev, next)

	assert.Equal(t, VersionOnly, change.Kind, "Plugin classification ignores registries")
	assert.True(t, change.RegistriesChanged())
	assert.True(t, change.ShouldPush())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "structural", Structural.String())
	assert.Equal(t, "version-only", VersionOnly.String())
}

// TestSets_Properties checks that classification depends only on identity
// set equality.
func TestSets_Properties(t *testing.T) {
	pool := []plugindomain.Identity{alpha, beta, gamma, plugindomain.MustQualified("delta", "r3")}

	rapid.Check(t, func(t *rapid.T) {
		var prevEntries, nextEntries []entry
		for _, id := range pool {
			if rapid.Bool().Draw(t, "prev "+id.String()) {
				prevEntries = append(prevEntries, entry{id, rapid.SampledFrom([]string{"1.0", "1.1", "2.0"}).Draw(t, "pv")})
			}
			if rapid.Bool().Draw(t, "next "+id.String()) {
				nextEntries = append(nextEntries, entry{id, rapid.SampledFrom([]string{"1.0", "1.1", "2.0"}).Draw(t, "nv")})
			}
		}
		prev, next := snap(prevEntries...), snap(nextEntries...)

		change := Classify(prev, next)
		equal := prev.Identities().Equal(next.Identities())

		if equal && change.Kind != VersionOnly {
			t.Fatalf("equal identity sets classified %s", change.Kind)
		}
		if !equal && change.Kind != Structural {
			t.Fatalf("different identity sets classified %s", change.Kind)
		}
		if equal && (len(change.Added) > 0 || len(change.Removed) > 0) {
			t.Fatalf("equal sets reported additions or removals")
		}
		if Classify(next, prev).Kind != change.Kind {
			t.Fatalf("classification is not symmetric")
		}
	})
}
