package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapRevert(t *testing.T) {
	j := &Journal{}
	m := NewMap[string, int](j)

	m.Set("a", 1)
	j.Commit()

	m.Set("a", 2)
	m.Set("b", 3)
	require.True(t, m.Delete("a"))
	require.False(t, m.Delete("missing"))
	require.Equal(t, 3, j.Len())

	j.Revert()

	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.False(t, m.Has("b"))
	require.Equal(t, 1, m.Len())
	require.Equal(t, 0, j.Len())
}

func TestValueRevert(t *testing.T) {
	j := &Journal{}
	v := NewValue[uint64](j, 5)

	v.Set(6)
	v.Set(7)
	j.Revert()
	require.Equal(t, uint64(5), v.Get())

	v.Set(8)
	j.Commit()
	j.Revert()
	require.Equal(t, uint64(8), v.Get())
}

func TestRevertAcrossContainers(t *testing.T) {
	j := &Journal{}
	counter := NewValue[int](j, 0)
	m := NewMap[int, string](j)

	for i := 0; i < 5; i++ {
		m.Set(i, "x")
		counter.Set(counter.Get() + 1)
	}
	m.Set(2, "y")
	m.Delete(3)

	j.Revert()
	require.Equal(t, 0, counter.Get())
	require.Equal(t, 0, m.Len())
}

func TestSortedKeys(t *testing.T) {
	j := &Journal{}
	m := NewMap[uint64, bool](j)
	for _, k := range []uint64{9, 3, 7, 1} {
		m.Set(k, true)
	}
	require.Equal(t, []uint64{1, 3, 7, 9}, SortedKeys(m))
}
