// Package store provides journaled in-memory state. Every write through a
// Map or Value records an undo step so a failed call can be rolled back
// as a whole.
package store

import (
	"cmp"
	"slices"
)

// Journal collects undo steps for the writes made during one call
type Journal struct {
	undo []func()
}

func (j *Journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

// Revert undoes every recorded write, newest first
func (j *Journal) Revert() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:0]
}

// Commit forgets the recorded writes
func (j *Journal) Commit() {
	j.undo = j.undo[:0]
}

// Len returns the number of pending undo steps
func (j *Journal) Len() int {
	return len(j.undo)
}

// Map is a journaled map
type Map[K comparable, V any] struct {
	j *Journal
	m map[K]V
}

func NewMap[K comparable, V any](j *Journal) *Map[K, V] {
	return &Map[K, V]{j: j, m: make(map[K]V)}
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

func (m *Map[K, V]) Has(k K) bool {
	_, ok := m.m[k]
	return ok
}

func (m *Map[K, V]) Set(k K, v V) {
	prev, existed := m.m[k]
	m.j.record(func() {
		if existed {
			m.m[k] = prev
		} else {
			delete(m.m, k)
		}
	})
	m.m[k] = v
}

// Delete removes k and reports whether it was present
func (m *Map[K, V]) Delete(k K) bool {
	prev, existed := m.m[k]
	if !existed {
		return false
	}
	m.j.record(func() { m.m[k] = prev })
	delete(m.m, k)
	return true
}

func (m *Map[K, V]) Len() int {
	return len(m.m)
}

// Keys returns the keys in unspecified order
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.m))
	for k := range m.m {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns the keys of an ordered map in ascending order
func SortedKeys[K cmp.Ordered, V any](m *Map[K, V]) []K {
	keys := m.Keys()
	slices.Sort(keys)
	return keys
}

// Value is a journaled single value
type Value[T any] struct {
	j *Journal
	v T
}

func NewValue[T any](j *Journal, initial T) *Value[T] {
	return &Value[T]{j: j, v: initial}
}

func (v *Value[T]) Get() T {
	return v.v
}

func (v *Value[T]) Set(x T) {
	prev := v.v
	v.j.record(func() { v.v = prev })
	v.v = x
}
