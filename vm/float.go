package vm

import (
	"math"

	"github.com/patacongo/Pascal-sub003/vmerr"
)

// Float value layout (spec.md §4.7): an IEEE-754 double packed as four
// consecutive 16-bit words in D-space, word 0 holding the least
// significant 16 bits, mirroring the set engine's word addressing.

func (m *Machine) readFloat(addr uint16) (float64, error) {
	var bits uint64
	for w := 0; w < 4; w++ {
		word, err := m.ReadWord(setWordAddr(addr, w))
		if err != nil {
			return 0, err
		}
		bits |= uint64(word) << (16 * w)
	}
	return math.Float64frombits(bits), nil
}

func (m *Machine) writeFloat(addr uint16, v float64) error {
	bits := math.Float64bits(v)
	for w := 0; w < 4; w++ {
		word := uint16(bits >> (16 * w))
		if err := m.WriteWord(setWordAddr(addr, w), word); err != nil {
			return err
		}
	}
	return nil
}

// Long (32-bit) value layout mirrors the float packing above but over
// two words instead of four: word 0 holds the least significant 16
// bits. Used by the long-integer/long-word SYSIO family and by
// FilePos/FileSize/Seek, whose values don't fit a single stack slot.

func (m *Machine) readLong(addr uint16) (int64, error) {
	lo, err := m.ReadWord(addr)
	if err != nil {
		return 0, err
	}
	hi, err := m.ReadWord(addr + 2)
	if err != nil {
		return 0, err
	}
	return int64(int32(uint32(hi)<<16 | uint32(lo))), nil
}

func (m *Machine) writeLong(addr uint16, v int64) error {
	bits := uint32(v)
	if err := m.WriteWord(addr, uint16(bits)); err != nil {
		return err
	}
	return m.WriteWord(addr+2, uint16(bits>>16))
}

func (m *Machine) readLongWord(addr uint16) (uint32, error) {
	lo, err := m.ReadWord(addr)
	if err != nil {
		return 0, err
	}
	hi, err := m.ReadWord(addr + 2)
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<16 | uint32(lo), nil
}

// floatBinOp applies op to the doubles at a and b, storing the result
// at dst. Used for fladd/flsub/flmul/fldiv (spec.md §4.7).
func (m *Machine) floatBinOp(dst, a, b uint16, op func(x, y float64) float64) error {
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	bv, err := m.readFloat(b)
	if err != nil {
		return err
	}
	return m.writeFloat(dst, op(av, bv))
}

func (m *Machine) FloatAdd(dst, a, b uint16) error {
	return m.floatBinOp(dst, a, b, func(x, y float64) float64 { return x + y })
}

func (m *Machine) FloatSub(dst, a, b uint16) error {
	return m.floatBinOp(dst, a, b, func(x, y float64) float64 { return x - y })
}

func (m *Machine) FloatMul(dst, a, b uint16) error {
	return m.floatBinOp(dst, a, b, func(x, y float64) float64 { return x * y })
}

// FloatDiv implements fldiv; division by zero reports ValueRange
// rather than propagating an infinity, per spec.md §7's "no silent
// NaN/Inf" stance on runtime arithmetic errors.
func (m *Machine) FloatDiv(dst, a, b uint16) error {
	bv, err := m.readFloat(b)
	if err != nil {
		return err
	}
	if bv == 0 {
		return vmerr.New(vmerr.ValueRange, "vm: float division by zero")
	}
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	return m.writeFloat(dst, av/bv)
}

func (m *Machine) FloatNeg(dst, a uint16) error {
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	return m.writeFloat(dst, -av)
}

func (m *Machine) FloatAbs(dst, a uint16) error {
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	return m.writeFloat(dst, math.Abs(av))
}

func (m *Machine) FloatSqr(dst, a uint16) error {
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	return m.writeFloat(dst, av*av)
}

func (m *Machine) FloatSqrt(dst, a uint16) error {
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	if av < 0 {
		return vmerr.New(vmerr.ValueRange, "vm: sqrt of negative value")
	}
	return m.writeFloat(dst, math.Sqrt(av))
}

func (m *Machine) FloatSin(dst, a uint16) error  { return m.floatUnary(dst, a, math.Sin) }
func (m *Machine) FloatCos(dst, a uint16) error  { return m.floatUnary(dst, a, math.Cos) }
func (m *Machine) FloatArctan(dst, a uint16) error { return m.floatUnary(dst, a, math.Atan) }
func (m *Machine) FloatExp(dst, a uint16) error  { return m.floatUnary(dst, a, math.Exp) }

func (m *Machine) FloatLn(dst, a uint16) error {
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	if av <= 0 {
		return vmerr.New(vmerr.ValueRange, "vm: ln of non-positive value")
	}
	return m.writeFloat(dst, math.Log(av))
}

func (m *Machine) floatUnary(dst, a uint16, f func(float64) float64) error {
	av, err := m.readFloat(a)
	if err != nil {
		return err
	}
	return m.writeFloat(dst, f(av))
}

// FloatCompare returns -1, 0, or 1 as the double at a is less than,
// equal to, or greater than the double at b.
func (m *Machine) FloatCompare(a, b uint16) (int, error) {
	av, err := m.readFloat(a)
	if err != nil {
		return 0, err
	}
	bv, err := m.readFloat(b)
	if err != nil {
		return 0, err
	}
	switch {
	case av < bv:
		return -1, nil
	case av > bv:
		return 1, nil
	default:
		return 0, nil
	}
}

// FloatFromInt converts the signed integer iv into the double at dst
// (spec.md §4.7 ord2fl / trunc/round family's inverse).
func (m *Machine) FloatFromInt(dst uint16, iv int64) error {
	return m.writeFloat(dst, float64(iv))
}

// FloatTrunc truncates the double at a towards zero.
func (m *Machine) FloatTrunc(a uint16) (int64, error) {
	av, err := m.readFloat(a)
	if err != nil {
		return 0, err
	}
	return int64(math.Trunc(av)), nil
}

// FloatRound rounds the double at a to nearest, ties away from zero.
func (m *Machine) FloatRound(a uint16) (int64, error) {
	av, err := m.readFloat(a)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(av)), nil
}
