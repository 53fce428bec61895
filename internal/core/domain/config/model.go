package configdomain

import "sort"

// Priorities of the configuration layers. Lower wins.
const (
	PriorityFlag    = 1
	PriorityEnv     = 2
	PriorityFile    = 3
	PriorityDefault = 5
)

// Entry represents a single configuration value with provenance and priority.
type Entry struct {
	Key        string
	Value      any
	Source     string
	SourcePath string
	Priority   int
}

// Snapshot is a collection of config entries keyed by dotted field name.
type Snapshot map[string]Entry

// Merge merges another snapshot into this one respecting priority
// (lower number indicates higher priority).
func (s Snapshot) Merge(other Snapshot) {
	for k, e := range other {
		if existing, ok := s[k]; !ok || e.Priority <= existing.Priority {
			s[k] = e
		}
	}
}

// Keys returns the field names in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
