package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapInternReturnsSameTargetForSameKey(t *testing.T) {
	m := NewMap()
	k := Key{Type: "obj", Dir: "src", Name: "foo"}

	a := m.Intern(k, TypeObj)
	b := m.Intern(k, TypeObj)
	assert.Same(t, a, b)

	_, ok := m.Lookup(Key{Type: "obj", Dir: "src", Name: "bar"})
	assert.False(t, ok)
}

func TestMapInternConcurrentRaceYieldsOneTarget(t *testing.T) {
	m := NewMap()
	k := Key{Type: "obj", Dir: "src", Name: "foo"}

	const n = 64
	results := make([]*Target, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = m.Intern(k, TypeObj)
		}()
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestMapRange(t *testing.T) {
	m := NewMap()
	m.Intern(Key{Type: "obj", Dir: "a", Name: "x"}, TypeObj)
	m.Intern(Key{Type: "obj", Dir: "b", Name: "y"}, TypeObj)

	count := 0
	m.Range(func(*Target) bool {
		count++
		return true
	})
	assert.Equal(t, 2, count)
}
