package graph

import "sync"

// Map is the central target map of spec §5: a concurrent, insert-only
// map keyed by target identity. Lookups of an already-interned target
// are lock-free (sync.Map's read path); Intern takes its internal lock
// only on the rare path of creating a new entry.
type Map struct {
	m sync.Map // Key -> *Target
}

// NewMap creates an empty target map.
func NewMap() *Map { return &Map{} }

// Intern returns the unique Target for key, creating one with the given
// type info if this is the first reference. Concurrent callers racing to
// intern the same key all observe the same *Target.
func (m *Map) Intern(key Key, ti *TypeInfo) *Target {
	if v, ok := m.m.Load(key); ok {
		return v.(*Target)
	}
	t := New(key, ti)
	actual, _ := m.m.LoadOrStore(key, t)
	return actual.(*Target)
}

// Lookup returns the target for key without creating one.
func (m *Map) Lookup(key Key) (*Target, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Target), true
}

// Range calls f for every interned target. f returning false stops
// iteration early, matching sync.Map.Range's contract.
func (m *Map) Range(f func(*Target) bool) {
	m.m.Range(func(_, v interface{}) bool {
		return f(v.(*Target))
	})
}
