package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newArithTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(Config{
		StrSize: 16, RoSize: 16, StkSize: 128, HpSize: 64,
		StrAlloc: 16, Program: []byte{0},
	})
	require.NoError(t, err)
	return m
}

const (
	setA = 48
	setB = 56
	setC = 64
)

func TestSetIncludeMemberCardinality(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.SetEmpty(setA))

	require.NoError(t, m.SetInclude(setA, 3))
	require.NoError(t, m.SetInclude(setA, 17))
	require.NoError(t, m.SetInclude(setA, 63))

	ok, err := m.SetMember(setA, 17)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.SetMember(setA, 18)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := m.SetCardinality(setA)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, m.SetExclude(setA, 17))
	n, err = m.SetCardinality(setA)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSetMemberOutOfRange(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.SetEmpty(setA))
	_, err := m.SetMember(setA, 64)
	require.Error(t, err)
}

func TestSetUnionIntersectionDifference(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.SetEmpty(setA))
	require.NoError(t, m.SetEmpty(setB))
	require.NoError(t, m.SetEmpty(setC))

	for _, e := range []uint16{1, 2, 3} {
		require.NoError(t, m.SetInclude(setA, e))
	}
	for _, e := range []uint16{3, 4, 5} {
		require.NoError(t, m.SetInclude(setB, e))
	}

	require.NoError(t, m.SetUnion(setC, setA, setB))
	n, _ := m.SetCardinality(setC)
	require.Equal(t, 5, n)

	require.NoError(t, m.SetIntersection(setC, setA, setB))
	n, _ = m.SetCardinality(setC)
	require.Equal(t, 1, n)
	ok, _ := m.SetMember(setC, 3)
	require.True(t, ok)

	require.NoError(t, m.SetDifference(setC, setA, setB))
	n, _ = m.SetCardinality(setC)
	require.Equal(t, 2, n)
}

func TestSetEqualAndSubrange(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.SetSubrange(setA, 2, 5))
	n, err := m.SetCardinality(setA)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.NoError(t, m.SetEmpty(setB))
	for _, e := range []uint16{2, 3, 4, 5} {
		require.NoError(t, m.SetInclude(setB, e))
	}
	eq, err := m.SetEqual(setA, setB)
	require.NoError(t, err)
	require.True(t, eq)
}

func TestSetSingleton(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.SetSingleton(setA, 42))
	n, _ := m.SetCardinality(setA)
	require.Equal(t, 1, n)
	ok, _ := m.SetMember(setA, 42)
	require.True(t, ok)
}
