// Package optimizer implements the two peephole transforms spec.md §1
// and §9 name as VM-semantics-relevant: string-stack PUSHS/POPS bracket
// elision and load/store index folding. It deliberately goes no
// further, grounded on the teacher's std/compiler/dce.go and
// size_analysis.go — each a small, single-purpose pass over a decoded
// instruction slice that re-emits the same form it consumed.
package optimizer

import (
	"github.com/patacongo/Pascal-sub003/bytecode"
	"github.com/patacongo/Pascal-sub003/vm"
	"github.com/patacongo/Pascal-sub003/vmerr"
)

// StringStackTouching names the LIB sub-functions that advance csp
// (the string stack pointer) or write into string buffers, and
// therefore make a PUSHS/POPS bracket unsafe to elide if one appears
// between them. Kept explicit
// and exported so a caller linking in additional library entry points
// can extend it (spec.md §9 requires the recognized list stay
// explicit and configurable, not inferred).
var StringStackTouching = map[uint16]bool{
	vm.LibStrInit:    true,
	vm.LibStrDup:     true,
	vm.LibStrCat:     true,
	vm.LibStrCatChar: true,
	vm.LibSubstring:  true,
	vm.LibInsert:     true,
	vm.LibDelete:     true,
	vm.LibGetenv:     true,
}

// indexedFold maps a frame-relative indexed opcode to the non-indexed
// opcode performing the same access once the index is folded into the
// offset (spec.md §9 transform 2).
var indexedFold = map[bytecode.Opcode]bytecode.Opcode{
	bytecode.LDX:  bytecode.LD,
	bytecode.STX:  bytecode.ST,
	bytecode.LDXB: bytecode.LDB,
	bytecode.STXB: bytecode.STB,
	bytecode.LDXH: bytecode.LDH,
	bytecode.STXH: bytecode.STH,
	bytecode.LDXM: bytecode.LDM,
	bytecode.STXM: bytecode.STM,
}

var indexedStaticFold = map[bytecode.Opcode]bytecode.Opcode{
	bytecode.LDSX:  bytecode.LDS,
	bytecode.STSX:  bytecode.STS,
	bytecode.LDSXB: bytecode.LDSB,
	bytecode.STSXB: bytecode.STSB,
	bytecode.LDSXH: bytecode.LDSH,
	bytecode.STSXH: bytecode.STSH,
	bytecode.LDSXM: bytecode.LDSM,
	bytecode.STSXM: bytecode.STSM,
}

// immediatePush reports whether in pushes a known-at-optimize-time
// constant word onto the evaluation stack, returning that value.
func immediatePush(in bytecode.Instruction) (uint16, bool) {
	switch in.Op {
	case bytecode.PUSHB:
		return uint16(in.Imm8), true
	case bytecode.PUSH:
		return in.Imm16, true
	}
	return 0, false
}

// Optimize runs the full peephole pipeline over an assembled program
// (spec.md §9): index folding first, then bracket elision. Each pass
// remaps every branch/PCAL target that survives, so the result is
// always a valid, independently re-disassemblable program.
func Optimize(prog []byte) ([]byte, error) {
	folded, _, err := FoldIndexedAccess(prog)
	if err != nil {
		return nil, err
	}
	elided, _, err := ElideStringBrackets(folded)
	return elided, err
}

// OptimizeProgram runs the same pipeline as Optimize but additionally
// remaps entryPoint (a program-counter reference that, unlike every
// branch/PCAL operand, is not itself part of the decoded instruction
// stream and so is invisible to rewrite's branch-target fixups) to
// wherever the instruction it used to name ends up after both passes.
// cmd/poffopt uses this so eliding brackets or folding accesses ahead
// of an executable's entry point cannot leave it pointing mid-stream.
func OptimizeProgram(prog []byte, entryPoint uint16) ([]byte, uint16, error) {
	folded, foldMap, err := FoldIndexedAccess(prog)
	if err != nil {
		return nil, 0, err
	}
	if np, ok := foldMap[int(entryPoint)]; ok {
		entryPoint = uint16(np)
	}
	elided, elideMap, err := ElideStringBrackets(folded)
	if err != nil {
		return nil, 0, err
	}
	if np, ok := elideMap[int(entryPoint)]; ok {
		entryPoint = uint16(np)
	}
	return elided, entryPoint, nil
}

// group describes one run of consecutive input instructions collapsed
// into a (possibly empty, possibly longer) run of output instructions.
type group struct {
	oldStart int
	out      []bytecode.Instruction
}

// rewrite re-encodes decoded/pcs according to groups (which must cover
// every input instruction exactly once, in order) and fixes up every
// branch/PCAL immediate to point at the new PC of its original target
// instruction.
func rewrite(decoded []bytecode.Instruction, pcs []int, groups []group) ([]byte, map[int]int) {
	oldPCToNew := make(map[int]int, len(pcs)+1)
	var out []bytecode.Instruction
	newPC := 0
	for _, g := range groups {
		oldPCToNew[pcs[g.oldStart]] = newPC
		for _, in := range g.out {
			out = append(out, in)
			newPC += in.Size()
		}
	}
	// One-past-the-end target (branch to program exit).
	if len(pcs) > 0 {
		lastOld := pcs[len(pcs)-1] + decoded[len(decoded)-1].Size()
		oldPCToNew[lastOld] = newPC
	}

	for i := range out {
		in := &out[i]
		if in.Op.IsBranch() || in.Op == bytecode.PCAL {
			if np, ok := oldPCToNew[int(in.Imm16)]; ok {
				in.Imm16 = uint16(np)
			}
		}
	}

	var buf []byte
	for _, in := range out {
		buf = bytecode.Encode(buf, in)
	}
	return buf, oldPCToNew
}

// FoldIndexedAccess fuses a constant "push imm" immediately followed
// by an indexed load/store into the equivalent non-indexed
// frame-relative (or static-chain) form, eliminating the intermediate
// stack push (spec.md §9 transform 2). A branch targeting the folded
// PUSH instruction itself (rather than falling through into it), or
// the indexed access that follows it, blocks the fold.
func FoldIndexedAccess(prog []byte) ([]byte, map[int]int, error) {
	pcs, decoded, err := bytecode.Disassemble(prog)
	if err != nil {
		return nil, nil, vmerr.Wrap(vmerr.BadFormat, "optimizer: disassemble", err)
	}

	targets := branchTargets(decoded)

	var groups []group
	for i := 0; i < len(decoded); i++ {
		in := decoded[i]
		if i+1 < len(decoded) && !targets[pcs[i]] && !targets[pcs[i+1]] {
			if imm, ok := immediatePush(in); ok {
				next := decoded[i+1]
				if folded, ok := indexedFold[next.Op]; ok {
					groups = append(groups, group{
						oldStart: i,
						out:      []bytecode.Instruction{{Op: folded, Imm16: next.Imm16 + imm}},
					})
					i++
					continue
				}
				if folded, ok := indexedStaticFold[next.Op]; ok {
					groups = append(groups, group{
						oldStart: i,
						out:      []bytecode.Instruction{{Op: folded, Imm8: next.Imm8, Imm16: next.Imm16 + imm}},
					})
					i++
					continue
				}
			}
		}
		groups = append(groups, group{oldStart: i, out: []bytecode.Instruction{in}})
	}

	buf, pcMap := rewrite(decoded, pcs, groups)
	return buf, pcMap, nil
}

// ElideStringBrackets deletes matching PUSHS/POPS pairs when no
// instruction strictly between them can change csp (spec.md §9
// transform 1, invariant spec.md §8). A pair is kept whenever it
// contains a nested PUSHS/POPS or a LIB call naming a string-stack-
// touching sub-function. Deleting PUSHS/POPS never invalidates a
// branch that targeted either one: rewrite remaps a deleted
// instruction's old PC to whatever instruction ends up taking its
// place.
func ElideStringBrackets(prog []byte) ([]byte, map[int]int, error) {
	pcs, decoded, err := bytecode.Disassemble(prog)
	if err != nil {
		return nil, nil, vmerr.Wrap(vmerr.BadFormat, "optimizer: disassemble", err)
	}

	elide := make([]bool, len(decoded))
	for i := 0; i < len(decoded); i++ {
		if decoded[i].Op != bytecode.PUSHS {
			continue
		}
		j := matchingPops(decoded, i)
		if j < 0 {
			continue
		}
		if bracketIsCspNeutral(decoded, i, j) {
			elide[i] = true
			elide[j] = true
		}
	}

	var groups []group
	for i, in := range decoded {
		if elide[i] {
			groups = append(groups, group{oldStart: i})
			continue
		}
		groups = append(groups, group{oldStart: i, out: []bytecode.Instruction{in}})
	}

	buf, pcMap := rewrite(decoded, pcs, groups)
	return buf, pcMap, nil
}

// branchTargets collects every PC a branch or PCAL instruction names.
func branchTargets(decoded []bytecode.Instruction) map[int]bool {
	targets := make(map[int]bool)
	for _, in := range decoded {
		if in.Op.IsBranch() || in.Op == bytecode.PCAL {
			targets[int(in.Imm16)] = true
		}
	}
	return targets
}

// matchingPops finds the POPS that closes the PUSHS at index open,
// honoring nesting. Returns -1 if unbalanced.
func matchingPops(decoded []bytecode.Instruction, open int) int {
	depth := 0
	for i := open; i < len(decoded); i++ {
		switch decoded[i].Op {
		case bytecode.PUSHS:
			depth++
		case bytecode.POPS:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// bracketIsCspNeutral reports whether every instruction strictly
// between open and close is safe to elide around: no nested
// PUSHS/POPS pair (the outer pair's neutrality then depends on the
// inner pair, which is judged independently and left in place) and no
// LIB call into StringStackTouching.
func bracketIsCspNeutral(decoded []bytecode.Instruction, open, close int) bool {
	for i := open + 1; i < close; i++ {
		in := decoded[i]
		switch in.Op {
		case bytecode.PUSHS, bytecode.POPS:
			return false
		case bytecode.LIB:
			if StringStackTouching[in.Imm16] {
				return false
			}
		}
	}
	return true
}
