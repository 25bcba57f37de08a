package vm

import "github.com/patacongo/Pascal-sub003/vmerr"

// Set value layout (spec.md §4.6, authoritative over the coarser §2
// summary per DESIGN.md's Open Question resolution): four consecutive
// 16-bit words in D-space, holding a 64-element bit vector, elements
// numbered 0..63 LSB-first within word 0.
const (
	setWords    = 4
	setBits     = setWords * 16
	setNumWords = setWords
)

func setWordAddr(base uint16, word int) uint16 { return base + uint16(word*2) }

// SetEmpty zeros all four words of the set at base.
func (m *Machine) SetEmpty(base uint16) error {
	for w := 0; w < setWords; w++ {
		if err := m.WriteWord(setWordAddr(base, w), 0); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) setWord(base uint16, word int) (uint16, error) {
	return m.ReadWord(setWordAddr(base, word))
}

// SetUnion computes dst := a | b, word by word.
func (m *Machine) SetUnion(dst, a, b uint16) error { return m.setBinOp(dst, a, b, func(x, y uint16) uint16 { return x | y }) }

// SetIntersection computes dst := a & b.
func (m *Machine) SetIntersection(dst, a, b uint16) error {
	return m.setBinOp(dst, a, b, func(x, y uint16) uint16 { return x & y })
}

// SetDifference computes dst := a &^ b.
func (m *Machine) SetDifference(dst, a, b uint16) error {
	return m.setBinOp(dst, a, b, func(x, y uint16) uint16 { return x &^ y })
}

// SetSymmetricDifference computes dst := a ^ b.
func (m *Machine) SetSymmetricDifference(dst, a, b uint16) error {
	return m.setBinOp(dst, a, b, func(x, y uint16) uint16 { return x ^ y })
}

func (m *Machine) setBinOp(dst, a, b uint16, op func(x, y uint16) uint16) error {
	for w := 0; w < setWords; w++ {
		av, err := m.setWord(a, w)
		if err != nil {
			return err
		}
		bv, err := m.setWord(b, w)
		if err != nil {
			return err
		}
		if err := m.WriteWord(setWordAddr(dst, w), op(av, bv)); err != nil {
			return err
		}
	}
	return nil
}

// SetEqual reports whether the sets at a and b hold identical members.
func (m *Machine) SetEqual(a, b uint16) (bool, error) {
	for w := 0; w < setWords; w++ {
		av, err := m.setWord(a, w)
		if err != nil {
			return false, err
		}
		bv, err := m.setWord(b, w)
		if err != nil {
			return false, err
		}
		if av != bv {
			return false, nil
		}
	}
	return true, nil
}

// SetContains reports whether every member of sub is also a member of
// super (subset test).
func (m *Machine) SetContains(super, sub uint16) (bool, error) {
	for w := 0; w < setWords; w++ {
		sv, err := m.setWord(super, w)
		if err != nil {
			return false, err
		}
		bv, err := m.setWord(sub, w)
		if err != nil {
			return false, err
		}
		if bv&^sv != 0 {
			return false, nil
		}
	}
	return true, nil
}

// SetMember reports whether elem is a member of the set at base,
// returning ValueRange if elem falls outside the representable 0..63
// range.
func (m *Machine) SetMember(base uint16, elem uint16) (bool, error) {
	if elem >= setBits {
		return false, vmerr.New(vmerr.ValueRange, "vm: set element out of range")
	}
	v, err := m.setWord(base, int(elem/16))
	if err != nil {
		return false, err
	}
	return v&(1<<(elem%16)) != 0, nil
}

// SetInclude adds elem to the set at base.
func (m *Machine) SetInclude(base uint16, elem uint16) error {
	if elem >= setBits {
		return vmerr.New(vmerr.ValueRange, "vm: set element out of range")
	}
	word := int(elem / 16)
	v, err := m.setWord(base, word)
	if err != nil {
		return err
	}
	return m.WriteWord(setWordAddr(base, word), v|(1<<(elem%16)))
}

// SetExclude removes elem from the set at base.
func (m *Machine) SetExclude(base uint16, elem uint16) error {
	if elem >= setBits {
		return vmerr.New(vmerr.ValueRange, "vm: set element out of range")
	}
	word := int(elem / 16)
	v, err := m.setWord(base, word)
	if err != nil {
		return err
	}
	return m.WriteWord(setWordAddr(base, word), v&^(1<<(elem%16)))
}

// SetCardinality counts the set bits across all four words.
func (m *Machine) SetCardinality(base uint16) (int, error) {
	n := 0
	for w := 0; w < setWords; w++ {
		v, err := m.setWord(base, w)
		if err != nil {
			return 0, err
		}
		for v != 0 {
			n += int(v & 1)
			v >>= 1
		}
	}
	return n, nil
}

// SetSingleton builds {elem} in place at base.
func (m *Machine) SetSingleton(base uint16, elem uint16) error {
	if err := m.SetEmpty(base); err != nil {
		return err
	}
	return m.SetInclude(base, elem)
}

// SetSubrange builds the inclusive range [lo, hi] in place at base.
func (m *Machine) SetSubrange(base uint16, lo, hi uint16) error {
	if err := m.SetEmpty(base); err != nil {
		return err
	}
	if lo > hi {
		return nil
	}
	for e := lo; e <= hi; e++ {
		if err := m.SetInclude(base, e); err != nil {
			return err
		}
		if e == 0xFFFF {
			break
		}
	}
	return nil
}
