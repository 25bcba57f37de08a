package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	fltA = 48
	fltB = 56
	fltC = 64
)

func TestFloatRoundTrip(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.writeFloat(fltA, 3.5))
	v, err := m.readFloat(fltA)
	require.NoError(t, err)
	require.Equal(t, 3.5, v)
}

func TestFloatArithmetic(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.writeFloat(fltA, 2.0))
	require.NoError(t, m.writeFloat(fltB, 3.0))

	require.NoError(t, m.FloatAdd(fltC, fltA, fltB))
	v, _ := m.readFloat(fltC)
	require.Equal(t, 5.0, v)

	require.NoError(t, m.FloatMul(fltC, fltA, fltB))
	v, _ = m.readFloat(fltC)
	require.Equal(t, 6.0, v)

	require.NoError(t, m.FloatSub(fltC, fltB, fltA))
	v, _ = m.readFloat(fltC)
	require.Equal(t, 1.0, v)
}

func TestFloatDivByZero(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.writeFloat(fltA, 1.0))
	require.NoError(t, m.writeFloat(fltB, 0.0))
	err := m.FloatDiv(fltC, fltA, fltB)
	require.Error(t, err)
}

func TestFloatSqrtNegative(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.writeFloat(fltA, -4.0))
	err := m.FloatSqrt(fltC, fltA)
	require.Error(t, err)
}

func TestFloatCompareAndConvert(t *testing.T) {
	m := newArithTestMachine(t)
	require.NoError(t, m.writeFloat(fltA, 2.0))
	require.NoError(t, m.writeFloat(fltB, 5.0))
	cmp, err := m.FloatCompare(fltA, fltB)
	require.NoError(t, err)
	require.Equal(t, -1, cmp)

	require.NoError(t, m.FloatFromInt(fltC, 42))
	v, _ := m.readFloat(fltC)
	require.Equal(t, 42.0, v)

	require.NoError(t, m.writeFloat(fltA, 3.7))
	iv, err := m.FloatTrunc(fltA)
	require.NoError(t, err)
	require.Equal(t, int64(3), iv)

	iv, err = m.FloatRound(fltA)
	require.NoError(t, err)
	require.Equal(t, int64(4), iv)
}
