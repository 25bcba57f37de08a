package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newStringTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(Config{
		StrSize: 128, RoSize: 16, StkSize: 64, HpSize: 64,
		StrAlloc: 16, Program: []byte{0},
	})
	require.NoError(t, err)
	return m
}

func TestStrInitAndCopy(t *testing.T) {
	m := newStringTestMachine(t)
	const v1, v2 = 160, 170 // arbitrary frame-stack slots (region starts at SPB=144)

	require.NoError(t, m.StrInit(v1))
	data1, _, err := m.strHeader(v1)
	require.NoError(t, err)
	raw, err := m.Bytes(data1, 5)
	require.NoError(t, err)
	copy(raw, "hello")
	require.NoError(t, m.WriteWord(v1+headerSizeOffset, 5))

	require.NoError(t, m.StrInit(v2))
	d1, l1, err := m.strHeader(v1)
	require.NoError(t, err)
	require.NoError(t, m.StrCopy(d1, l1, mustHeaderData(t, m, v2), m.cfg.StrAlloc, v2))

	d2, l2, err := m.strHeader(v2)
	require.NoError(t, err)
	require.Equal(t, uint16(5), l2)
	out, err := m.Bytes(d2, int(l2))
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}

func mustHeaderData(t *testing.T, m *Machine, v uint16) uint16 {
	t.Helper()
	d, _, err := m.strHeader(v)
	require.NoError(t, err)
	return d
}

func TestStrCmp(t *testing.T) {
	m := newStringTestMachine(t)
	a, err := m.stralloc(8)
	require.NoError(t, err)
	b, err := m.stralloc(8)
	require.NoError(t, err)

	ab, _ := m.Bytes(a, 3)
	copy(ab, "abc")
	bb, _ := m.Bytes(b, 3)
	copy(bb, "abd")

	cmp, err := m.StrCmp(a, 3, b, 3)
	require.NoError(t, err)
	require.Equal(t, -1, cmp)

	cmp, err = m.StrCmp(a, 3, a, 3)
	require.NoError(t, err)
	require.Equal(t, 0, cmp)
}

func TestSubstringAndFind(t *testing.T) {
	m := newStringTestMachine(t)
	src, err := m.stralloc(16)
	require.NoError(t, err)
	sb, _ := m.Bytes(src, 11)
	copy(sb, "hello world")

	dst, err := m.stralloc(16)
	require.NoError(t, err)
	n, err := m.Substring(src, 11, 7, 5, dst, 16)
	require.NoError(t, err)
	require.Equal(t, uint16(5), n)
	out, _ := m.Bytes(dst, int(n))
	require.Equal(t, "world", string(out))

	needle, err := m.stralloc(5)
	require.NoError(t, err)
	nb, _ := m.Bytes(needle, 5)
	copy(nb, "world")
	pos, err := m.FindSubstring(src, 11, needle, 5)
	require.NoError(t, err)
	require.Equal(t, uint16(7), pos)
}

func TestInsertClipsToCapacity(t *testing.T) {
	m := newStringTestMachine(t)
	dstCap := uint16(8)
	dst, err := m.stralloc(dstCap)
	require.NoError(t, err)
	lenAddr, err := m.stralloc(2)
	require.NoError(t, err)
	db, _ := m.Bytes(dst, 5)
	copy(db, "abcde")
	require.NoError(t, m.WriteWord(lenAddr, 5))

	src, err := m.stralloc(8)
	require.NoError(t, err)
	sb, _ := m.Bytes(src, 8)
	copy(sb, "XXXXXXXX")

	require.NoError(t, m.Insert(src, 8, dst, lenAddr, dstCap, 3))
	newLen, err := m.ReadWord(lenAddr)
	require.NoError(t, err)
	require.LessOrEqual(t, newLen, dstCap)
}

func TestDeleteShiftsTail(t *testing.T) {
	m := newStringTestMachine(t)
	dst, err := m.stralloc(16)
	require.NoError(t, err)
	lenAddr, err := m.stralloc(2)
	require.NoError(t, err)
	db, _ := m.Bytes(dst, 11)
	copy(db, "hello world")
	require.NoError(t, m.WriteWord(lenAddr, 11))

	require.NoError(t, m.Delete(dst, lenAddr, 6, 6))
	newLen, err := m.ReadWord(lenAddr)
	require.NoError(t, err)
	require.Equal(t, uint16(5), newLen)
	out, _ := m.Bytes(dst, int(newLen))
	require.Equal(t, "hello", string(out))
}
