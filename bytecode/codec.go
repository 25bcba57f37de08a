package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Instruction is a single decoded P-code instruction: an opcode plus
// whichever immediate fields its shape carries. Unused fields are
// zero. Imm8 doubles as the static-chain level for shape-4
// instructions and as the raw byte for shape-2 instructions; Imm16 is
// always the sign-relevant 16-bit field (branch target, frame offset,
// push value, or code address), decoded as a plain uint16 — callers
// that need it signed convert via int16(Imm16).
type Instruction struct {
	Op    Opcode
	Imm8  uint8
	Imm16 uint16
}

// Size returns the encoded length of the instruction in bytes.
func (in Instruction) Size() int { return in.Op.Size() }

// Encode appends the wire representation of in to buf and returns the
// extended slice.
func Encode(buf []byte, in Instruction) []byte {
	buf = append(buf, byte(in.Op))
	switch in.Op.Shape() {
	case ShapeNone:
	case ShapeByte:
		buf = append(buf, in.Imm8)
	case ShapeWord:
		buf = append(buf, byte(in.Imm16>>8), byte(in.Imm16))
	case ShapeBoth:
		buf = append(buf, in.Imm8, byte(in.Imm16>>8), byte(in.Imm16))
	}
	return buf
}

// Decode reads one instruction from buf starting at offset pc. It
// returns the decoded instruction and the offset of the next
// instruction. An error is returned if buf is too short for the
// opcode's shape.
func Decode(buf []byte, pc int) (Instruction, int, error) {
	if pc < 0 || pc >= len(buf) {
		return Instruction{}, pc, fmt.Errorf("bytecode: pc %d out of range [0,%d)", pc, len(buf))
	}
	op := Opcode(buf[pc])
	in := Instruction{Op: op}
	size := op.Size()
	if pc+size > len(buf) {
		return Instruction{}, pc, fmt.Errorf("bytecode: truncated instruction %s at pc %d (need %d bytes, have %d)", op, pc, size, len(buf)-pc)
	}
	switch op.Shape() {
	case ShapeNone:
	case ShapeByte:
		in.Imm8 = buf[pc+1]
	case ShapeWord:
		in.Imm16 = binary.BigEndian.Uint16(buf[pc+1 : pc+3])
	case ShapeBoth:
		in.Imm8 = buf[pc+1]
		in.Imm16 = binary.BigEndian.Uint16(buf[pc+2 : pc+4])
	}
	return in, pc + size, nil
}

// Disassemble decodes every instruction in buf in sequence, returning
// them alongside the pc each began at. Used by cmd/poffdump.
func Disassemble(buf []byte) ([]int, []Instruction, error) {
	var pcs []int
	var ins []Instruction
	pc := 0
	for pc < len(buf) {
		in, next, err := Decode(buf, pc)
		if err != nil {
			return pcs, ins, err
		}
		pcs = append(pcs, pc)
		ins = append(ins, in)
		pc = next
	}
	return pcs, ins, nil
}
