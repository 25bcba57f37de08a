package vm

import (
	"github.com/patacongo/Pascal-sub003/bytecode"
	"github.com/patacongo/Pascal-sub003/vmerr"
)

// push/pop drive the evaluation stack, which shares the frame-stack
// region with call frames and locals: SP is simply its current top
// (spec.md §3, §4.9).

func (m *Machine) push(v uint16) error {
	if m.SP+2 > m.HPB {
		return vmerr.New(vmerr.BadSP, "vm: evaluation stack overflow")
	}
	if err := m.WriteWord(m.SP, v); err != nil {
		return err
	}
	m.SP += 2
	return nil
}

func (m *Machine) pop() (uint16, error) {
	if m.SP < m.SPB+2 {
		return 0, vmerr.New(vmerr.BadSP, "vm: evaluation stack underflow")
	}
	m.SP -= 2
	return m.ReadWord(m.SP)
}

func (m *Machine) pushSigned(v int16) error { return m.push(uint16(v)) }
func (m *Machine) popSigned() (int16, error) {
	v, err := m.pop()
	return int16(v), err
}

// staticLink follows the static chain level frames up from the
// current frame, returning the raw frame base address at that lexical
// level — the value stored in a frame's own link field by doCall, and
// the value a further static-chain hop reads back out (spec.md §4.9
// "Static-chain resolution").
func (m *Machine) staticLink(level uint16) (uint16, error) {
	addr := m.FP
	for i := uint16(0); i < level; i++ {
		v, err := m.ReadWord(addr)
		if err != nil {
			return 0, err
		}
		addr = v
	}
	return addr, nil
}

// getBaseAddress resolves the base address LDS/STS-family operands are
// relative to: the frame at the given static-chain level, plus the
// two 16-bit words (link and saved frame) past which that block's
// locals begin (spec.md §4.9).
func (m *Machine) getBaseAddress(level uint16) (uint16, error) {
	addr, err := m.staticLink(level)
	if err != nil {
		return 0, err
	}
	return addr + 4, nil
}

// Halted is returned by Step when execution has reached an END
// instruction or the outermost ret's return-address sentinel.
type Halted struct{ Code vmerr.Code }

func (h *Halted) Error() string { return h.Code.String() }

// Step fetches, decodes, and executes exactly one instruction. It
// returns a *Halted error (wrapping Exit) on normal termination and
// any other error on fault.
func (m *Machine) Step() error {
	in, next, err := bytecode.Decode(m.program, int(m.PC))
	if err != nil {
		return vmerr.Wrap(vmerr.BadPC, "vm: fetch failed", err)
	}
	if m.Trace != nil {
		m.Trace(m.PC, uint8(in.Op))
	}
	m.PC = uint16(next)
	return m.execute(in)
}

// Run executes instructions until Step reports a *Halted or an error.
func (m *Machine) Run() error {
	for {
		err := m.Step()
		if err == nil {
			continue
		}
		if _, ok := err.(*Halted); ok {
			return nil
		}
		return err
	}
}

func (m *Machine) execute(in bytecode.Instruction) error {
	switch in.Op {

	// --- Shape 1: no operand ---
	case bytecode.NOP:
		return nil
	case bytecode.ADD:
		return m.binOp(func(a, b int16) int16 { return a + b })
	case bytecode.SUB:
		return m.binOp(func(a, b int16) int16 { return a - b })
	case bytecode.MUL:
		return m.binOp(func(a, b int16) int16 { return a * b })
	case bytecode.DIV:
		return m.divOp(false)
	case bytecode.MOD:
		return m.divOp(true)
	case bytecode.NEG:
		return m.unOp(func(a int16) int16 { return -a })
	case bytecode.ABS:
		return m.unOp(func(a int16) int16 {
			if a < 0 {
				return -a
			}
			return a
		})
	case bytecode.SQR:
		return m.unOp(func(a int16) int16 { return a * a })
	case bytecode.INC:
		return m.unOp(func(a int16) int16 { return a + 1 })
	case bytecode.DEC:
		return m.unOp(func(a int16) int16 { return a - 1 })
	case bytecode.AND:
		return m.binOpU(func(a, b uint16) uint16 { return a & b })
	case bytecode.OR:
		return m.binOpU(func(a, b uint16) uint16 { return a | b })
	case bytecode.XOR:
		return m.binOpU(func(a, b uint16) uint16 { return a ^ b })
	case bytecode.NOT:
		return m.unOpU(func(a uint16) uint16 {
			if a == 0 {
				return 1
			}
			return 0
		})
	case bytecode.SHL:
		return m.binOpU(func(a, b uint16) uint16 { return a << (b & 0xF) })
	case bytecode.SHR:
		return m.binOpU(func(a, b uint16) uint16 { return a >> (b & 0xF) })
	case bytecode.EQU:
		return m.cmpOp(func(a, b int16) bool { return a == b })
	case bytecode.NEQ:
		return m.cmpOp(func(a, b int16) bool { return a != b })
	case bytecode.LES:
		return m.cmpOp(func(a, b int16) bool { return a < b })
	case bytecode.LEQ:
		return m.cmpOp(func(a, b int16) bool { return a <= b })
	case bytecode.GTR:
		return m.cmpOp(func(a, b int16) bool { return a > b })
	case bytecode.GEQ:
		return m.cmpOp(func(a, b int16) bool { return a >= b })
	case bytecode.LDI:
		addr, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.ReadWord(addr)
		if err != nil {
			return err
		}
		return m.push(v)
	case bytecode.STI:
		v, err := m.pop()
		if err != nil {
			return err
		}
		addr, err := m.pop()
		if err != nil {
			return err
		}
		return m.WriteWord(addr, v)
	case bytecode.DUP:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.push(v); err != nil {
			return err
		}
		return m.push(v)
	case bytecode.XCHG:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.push(b); err != nil {
			return err
		}
		return m.push(a)
	case bytecode.PUSHS:
		m.CSP += m.cfg.StrAlloc
		return nil
	case bytecode.POPS:
		if m.CSP < m.cfg.StrAlloc {
			return vmerr.New(vmerr.StringStackOverflow, "vm: string stack underflow")
		}
		m.CSP -= m.cfg.StrAlloc
		return nil
	case bytecode.PUSHH:
		size, err := m.pop()
		if err != nil {
			return err
		}
		ptr, err := m.HeapNew(size)
		if err != nil {
			return err
		}
		return m.push(ptr)
	case bytecode.POPH:
		ptr, err := m.pop()
		if err != nil {
			return err
		}
		return m.HeapDispose(ptr)
	case bytecode.RET:
		return m.doReturn()
	case bytecode.END:
		m.files.Flush()
		return &Halted{Code: vmerr.Exit}

	// --- Shape 2: Imm8 only ---
	case bytecode.PUSHB:
		return m.push(uint16(in.Imm8))
	case bytecode.FLOATOP:
		return m.execFloatOp(in.Imm8)
	case bytecode.SETOP:
		return m.execSetOp(in.Imm8)

	// --- Shape 3: Imm16 only ---
	case bytecode.PUSH:
		return m.push(in.Imm16)
	case bytecode.INDS:
		delta := int32(int16(in.Imm16))
		nsp := int32(m.SP) + delta
		if nsp < int32(m.SPB) || nsp > int32(m.HPB) {
			return vmerr.New(vmerr.BadSP, "vm: inds out of stack bounds")
		}
		m.SP = uint16(nsp)
		return nil
	case bytecode.LIB:
		return m.execLib(in.Imm16)
	case bytecode.SYSIO:
		return m.execSysio(in.Imm16)
	case bytecode.LA:
		return m.push(m.SPB + in.Imm16)
	case bytecode.LAC:
		return m.push(m.ROP + in.Imm16)
	case bytecode.LAX:
		idx, err := m.pop()
		if err != nil {
			return err
		}
		return m.push(m.SPB + in.Imm16 + idx)

	// The non-static LD/ST family addresses spb + off: the fixed
	// frame-stack base where program-level variables live, not the
	// current call frame (spec.md §4.9 "Frame-base-relative
	// addresses"). Nested-scope access relative to the current call
	// frame goes through the LDS/STS static-chain family below.
	case bytecode.LD:
		return m.loadWord(m.SPB, in.Imm16)
	case bytecode.ST:
		return m.storeWord(m.SPB, in.Imm16)
	case bytecode.LDB:
		return m.loadByte(m.SPB, in.Imm16, false)
	case bytecode.STB:
		return m.storeByte(m.SPB, in.Imm16)
	case bytecode.LDH:
		return m.loadByte(m.SPB, in.Imm16, true)
	case bytecode.STH:
		return m.storeByte(m.SPB, in.Imm16)
	case bytecode.LDM:
		return m.loadBlock(m.SPB, in.Imm16)
	case bytecode.STM:
		return m.storeBlock(m.SPB, in.Imm16)

	case bytecode.LDX:
		return m.loadWordIndexed(m.SPB, in.Imm16)
	case bytecode.STX:
		return m.storeWordIndexed(m.SPB, in.Imm16)
	case bytecode.LDXB:
		return m.loadByteIndexed(m.SPB, in.Imm16, false)
	case bytecode.STXB:
		return m.storeByteIndexed(m.SPB, in.Imm16)
	case bytecode.LDXH:
		return m.loadByteIndexed(m.SPB, in.Imm16, true)
	case bytecode.STXH:
		return m.storeByteIndexed(m.SPB, in.Imm16)
	case bytecode.LDXM:
		return m.loadBlockIndexed(m.SPB, in.Imm16)
	case bytecode.STXM:
		return m.storeBlockIndexed(m.SPB, in.Imm16)

	case bytecode.JMP:
		m.PC = in.Imm16
		return nil
	case bytecode.JEQUZ:
		return m.branchIfZero(in.Imm16, true)
	case bytecode.JNEQZ:
		return m.branchIfZero(in.Imm16, false)
	case bytecode.JLTZ:
		return m.branchUnaryCond(in.Imm16, func(v int16) bool { return v < 0 })
	case bytecode.JGTEZ:
		return m.branchUnaryCond(in.Imm16, func(v int16) bool { return v >= 0 })
	case bytecode.JGTZ:
		return m.branchUnaryCond(in.Imm16, func(v int16) bool { return v > 0 })
	case bytecode.JLTEZ:
		return m.branchUnaryCond(in.Imm16, func(v int16) bool { return v <= 0 })
	case bytecode.JEQU:
		return m.branchBinaryCond(in.Imm16, func(a, b int16) bool { return a == b })
	case bytecode.JNEQ:
		return m.branchBinaryCond(in.Imm16, func(a, b int16) bool { return a != b })
	case bytecode.JLT:
		return m.branchBinaryCond(in.Imm16, func(a, b int16) bool { return a < b })
	case bytecode.JGTE:
		return m.branchBinaryCond(in.Imm16, func(a, b int16) bool { return a >= b })
	case bytecode.JGT:
		return m.branchBinaryCond(in.Imm16, func(a, b int16) bool { return a > b })
	case bytecode.JLTE:
		return m.branchBinaryCond(in.Imm16, func(a, b int16) bool { return a <= b })

	// --- Shape 4: Imm8 (level) + Imm16 (offset) ---
	case bytecode.LDS:
		return m.loadWordStatic(in.Imm8, in.Imm16)
	case bytecode.STS:
		return m.storeWordStatic(in.Imm8, in.Imm16)
	case bytecode.LDSB:
		return m.loadByteStatic(in.Imm8, in.Imm16, false)
	case bytecode.STSB:
		return m.storeByteStatic(in.Imm8, in.Imm16)
	case bytecode.LDSH:
		return m.loadByteStatic(in.Imm8, in.Imm16, true)
	case bytecode.STSH:
		return m.storeByteStatic(in.Imm8, in.Imm16)
	case bytecode.LDSM:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.loadBlock(base, in.Imm16)
	case bytecode.STSM:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.storeBlock(base, in.Imm16)
	case bytecode.LDSX:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.loadWordIndexed(base, in.Imm16)
	case bytecode.STSX:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.storeWordIndexed(base, in.Imm16)
	case bytecode.LDSXB:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.loadByteIndexed(base, in.Imm16, false)
	case bytecode.STSXB:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.storeByteIndexed(base, in.Imm16)
	case bytecode.LDSXH:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.loadByteIndexed(base, in.Imm16, true)
	case bytecode.STSXH:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.storeByteIndexed(base, in.Imm16)
	case bytecode.LDSXM:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.loadBlockIndexed(base, in.Imm16)
	case bytecode.STSXM:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.storeBlockIndexed(base, in.Imm16)
	case bytecode.LAS:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		return m.push(base + in.Imm16)
	case bytecode.LASX:
		base, err := m.getBaseAddress(uint16(in.Imm8))
		if err != nil {
			return err
		}
		idx, err := m.pop()
		if err != nil {
			return err
		}
		return m.push(base + in.Imm16 + idx)
	case bytecode.PCAL:
		return m.doCall(uint16(in.Imm8), in.Imm16)
	case bytecode.LINE:
		return nil

	default:
		return vmerr.New(vmerr.IllegalOpcode, "vm: illegal opcode")
	}
}

// --- arithmetic/compare helpers ---

func (m *Machine) binOp(f func(a, b int16) int16) error {
	b, err := m.popSigned()
	if err != nil {
		return err
	}
	a, err := m.popSigned()
	if err != nil {
		return err
	}
	return m.pushSigned(f(a, b))
}

func (m *Machine) binOpU(f func(a, b uint16) uint16) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	return m.push(f(a, b))
}

func (m *Machine) unOp(f func(a int16) int16) error {
	a, err := m.popSigned()
	if err != nil {
		return err
	}
	return m.pushSigned(f(a))
}

func (m *Machine) unOpU(f func(a uint16) uint16) error {
	a, err := m.pop()
	if err != nil {
		return err
	}
	return m.push(f(a))
}

func (m *Machine) cmpOp(f func(a, b int16) bool) error {
	b, err := m.popSigned()
	if err != nil {
		return err
	}
	a, err := m.popSigned()
	if err != nil {
		return err
	}
	if f(a, b) {
		return m.push(1)
	}
	return m.push(0)
}

func (m *Machine) divOp(mod bool) error {
	b, err := m.popSigned()
	if err != nil {
		return err
	}
	a, err := m.popSigned()
	if err != nil {
		return err
	}
	if b == 0 {
		return vmerr.New(vmerr.IntOverflow, "vm: division by zero")
	}
	if mod {
		return m.pushSigned(a % b)
	}
	return m.pushSigned(a / b)
}

// --- branch helpers ---

func (m *Machine) branchIfZero(target uint16, whenZero bool) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	if (v == 0) == whenZero {
		m.PC = target
	}
	return nil
}

func (m *Machine) branchUnaryCond(target uint16, cond func(int16) bool) error {
	v, err := m.popSigned()
	if err != nil {
		return err
	}
	if cond(v) {
		m.PC = target
	}
	return nil
}

func (m *Machine) branchBinaryCond(target uint16, cond func(a, b int16) bool) error {
	b, err := m.popSigned()
	if err != nil {
		return err
	}
	a, err := m.popSigned()
	if err != nil {
		return err
	}
	if cond(a, b) {
		m.PC = target
	}
	return nil
}

// --- frame-relative / indexed / static-chain load-store helpers ---

func (m *Machine) loadWord(base, off uint16) error {
	v, err := m.ReadWord(base + off)
	if err != nil {
		return err
	}
	return m.push(v)
}

func (m *Machine) storeWord(base, off uint16) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	return m.WriteWord(base+off, v)
}

func (m *Machine) loadByte(base, off uint16, signExtend bool) error {
	b, err := m.ReadByte(base + off)
	if err != nil {
		return err
	}
	if signExtend {
		return m.pushSigned(int16(int8(b)))
	}
	return m.push(uint16(b))
}

func (m *Machine) storeByte(base, off uint16) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	return m.WriteByte(base+off, byte(v))
}

func (m *Machine) loadBlock(base, off uint16) error {
	size, err := m.pop()
	if err != nil {
		return err
	}
	data, err := m.Bytes(base+off, int(size))
	if err != nil {
		return err
	}
	for _, b := range data {
		if err := m.push(uint16(b)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) storeBlock(base, off uint16) error {
	size, err := m.pop()
	if err != nil {
		return err
	}
	dst, err := m.Bytes(base+off, int(size))
	if err != nil {
		return err
	}
	for i := int(size) - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		dst[i] = byte(v)
	}
	return nil
}

func (m *Machine) loadWordIndexed(base, off uint16) error {
	idx, err := m.pop()
	if err != nil {
		return err
	}
	return m.loadWord(base, off+idx)
}

func (m *Machine) storeWordIndexed(base, off uint16) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	idx, err := m.pop()
	if err != nil {
		return err
	}
	return m.WriteWord(base+off+idx, v)
}

func (m *Machine) loadByteIndexed(base, off uint16, signExtend bool) error {
	idx, err := m.pop()
	if err != nil {
		return err
	}
	return m.loadByte(base, off+idx, signExtend)
}

func (m *Machine) storeByteIndexed(base, off uint16) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	idx, err := m.pop()
	if err != nil {
		return err
	}
	return m.WriteByte(base+off+idx, byte(v))
}

func (m *Machine) loadBlockIndexed(base, off uint16) error {
	idx, err := m.pop()
	if err != nil {
		return err
	}
	return m.loadBlock(base, off+idx)
}

func (m *Machine) storeBlockIndexed(base, off uint16) error {
	idx, err := m.pop()
	if err != nil {
		return err
	}
	return m.storeBlock(base, off+idx)
}

func (m *Machine) loadWordStatic(level uint8, off uint16) error {
	base, err := m.getBaseAddress(uint16(level))
	if err != nil {
		return err
	}
	return m.loadWord(base, off)
}

func (m *Machine) storeWordStatic(level uint8, off uint16) error {
	base, err := m.getBaseAddress(uint16(level))
	if err != nil {
		return err
	}
	return m.storeWord(base, off)
}

func (m *Machine) loadByteStatic(level uint8, off uint16, signExtend bool) error {
	base, err := m.getBaseAddress(uint16(level))
	if err != nil {
		return err
	}
	return m.loadByte(base, off, signExtend)
}

func (m *Machine) storeByteStatic(level uint8, off uint16) error {
	base, err := m.getBaseAddress(uint16(level))
	if err != nil {
		return err
	}
	return m.storeByte(base, off)
}

// --- calls ---

// doCall implements PCAL (spec.md §4.9): push the static link resolved
// at level, the saved FP, and the return address, then transfer
// control to target.
func (m *Machine) doCall(level uint16, target uint16) error {
	link, err := m.staticLink(level)
	if err != nil {
		return err
	}
	newFP := m.SP
	if err := m.push(link); err != nil {
		return err
	}
	if err := m.push(m.FP); err != nil {
		return err
	}
	if err := m.push(m.PC); err != nil {
		return err
	}
	m.FP = newFP
	m.PC = target
	return nil
}

// doReturn implements RET: restore SP/FP/PC from the current frame's
// header, halting if the return address is the outermost sentinel.
func (m *Machine) doReturn() error {
	returnPC, err := m.ReadWord(m.FP + 4)
	if err != nil {
		return err
	}
	savedFP, err := m.ReadWord(m.FP + 2)
	if err != nil {
		return err
	}
	m.SP = m.FP
	m.FP = savedFP
	if returnPC == 0xFFFF {
		m.files.Flush()
		return &Halted{Code: vmerr.Exit}
	}
	m.PC = returnPC
	return nil
}
