package plugindomain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidIdentity is returned when a plugin key cannot be parsed.
var ErrInvalidIdentity = errors.New("invalid plugin identity")

// IdentityKind distinguishes registry-qualified plugins from local ones.
type IdentityKind int

const (
	kindInvalid IdentityKind = iota
	// KindLocal is a plugin without a registry qualifier. Local plugins are
	// machine specific and never take part in snapshot or sync operations.
	KindLocal
	// KindQualified is a plugin installed from a named registry.
	KindQualified
)

// Identity is the compound key of a plugin: (name, registry).
// The zero value is not a valid identity.
type Identity struct {
	kind     IdentityKind
	name     string
	registry string
}

// Qualified builds a registry-qualified identity.
func Qualified(name, registry string) (Identity, error) {
	if err := validatePart(name); err != nil {
		return Identity{}, fmt.Errorf("%w: name %q: %v", ErrInvalidIdentity, name, err)
	}
	if err := validatePart(registry); err != nil {
		return Identity{}, fmt.Errorf("%w: registry %q: %v", ErrInvalidIdentity, registry, err)
	}
	return Identity{kind: KindQualified, name: name, registry: registry}, nil
}

// MustQualified is Qualified for static values. It panics on invalid input.
func MustQualified(name, registry string) Identity {
	id, err := Qualified(name, registry)
	if err != nil {
		panic(err)
	}
	return id
}

// Local builds a local identity.
func Local(name string) (Identity, error) {
	if err := validatePart(name); err != nil {
		return Identity{}, fmt.Errorf("%w: name %q: %v", ErrInvalidIdentity, name, err)
	}
	return Identity{kind: KindLocal, name: name}, nil
}

// ParseIdentity parses the host key format: "name@registry" or "name".
func ParseIdentity(key string) (Identity, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Identity{}, fmt.Errorf("%w: empty key", ErrInvalidIdentity)
	}

	parts := strings.Split(key, "@")
	switch len(parts) {
	case 1:
		return Local(parts[0])
	case 2:
		return Qualified(parts[0], parts[1])
	default:
		return Identity{}, fmt.Errorf("%w: %q has more than one '@'", ErrInvalidIdentity, key)
	}
}

func validatePart(s string) error {
	if s == "" {
		return errors.New("empty")
	}
	if strings.ContainsAny(s, "@ \t\r\n") {
		return errors.New("contains '@' or whitespace")
	}
	return nil
}

// Kind returns the identity variant.
func (i Identity) Kind() IdentityKind { return i.kind }

// Name returns the plugin name.
func (i Identity) Name() string { return i.name }

// Registry returns the registry name, empty for local identities.
func (i Identity) Registry() string { return i.registry }

// IsLocal reports whether the identity has no registry qualifier.
func (i Identity) IsLocal() bool { return i.kind == KindLocal }

// IsQualified reports whether the identity names a registry.
func (i Identity) IsQualified() bool { return i.kind == KindQualified }

// IsZero reports whether the identity was never initialised.
func (i Identity) IsZero() bool { return i.kind == kindInvalid }

// String renders the host key format.
func (i Identity) String() string {
	if i.kind == KindQualified {
		return i.name + "@" + i.registry
	}
	return i.name
}

// Less orders identities lexicographically by their key.
func (i Identity) Less(other Identity) bool {
	return i.String() < other.String()
}

// SortIdentities sorts ids in place in key order.
func SortIdentities(ids []Identity) {
	sort.Slice(ids, func(a, b int) bool { return ids[a].Less(ids[b]) })
}

// IdentitySet is a set of plugin identities.
type IdentitySet map[Identity]struct{}

// NewIdentitySet creates a set holding ids.
func NewIdentitySet(ids ...Identity) IdentitySet {
	s := make(IdentitySet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id.
func (s IdentitySet) Add(id Identity) { s[id] = struct{}{} }

// Has reports membership.
func (s IdentitySet) Has(id Identity) bool {
	_, ok := s[id]
	return ok
}

// Len returns the set size.
func (s IdentitySet) Len() int { return len(s) }

// Sorted returns the members in key order.
func (s IdentitySet) Sorted() []Identity {
	out := make([]Identity, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	SortIdentities(out)
	return out
}

// Difference returns s − other in key order.
func (s IdentitySet) Difference(other IdentitySet) []Identity {
	out := make([]Identity, 0)
	for id := range s {
		if !other.Has(id) {
			out = append(out, id)
		}
	}
	SortIdentities(out)
	return out
}

// Equal reports whether both sets hold the same members.
func (s IdentitySet) Equal(other IdentitySet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Qualified returns only the registry-qualified members.
func (s IdentitySet) Qualified() IdentitySet {
	out := make(IdentitySet, len(s))
	for id := range s {
		if id.IsQualified() {
			out.Add(id)
		}
	}
	return out
}
