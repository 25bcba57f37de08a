package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patacongo/Pascal-sub003/bytecode"
	"github.com/patacongo/Pascal-sub003/vm"
)

func assemble(ins ...bytecode.Instruction) []byte {
	var buf []byte
	for _, in := range ins {
		buf = bytecode.Encode(buf, in)
	}
	return buf
}

func decodeAll(t *testing.T, prog []byte) []bytecode.Instruction {
	t.Helper()
	_, decoded, err := bytecode.Disassemble(prog)
	require.NoError(t, err)
	return decoded
}

func TestFoldIndexedAccessFusesConstantIndex(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 4},
		bytecode.Instruction{Op: bytecode.LDX, Imm16: 10},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, _, err := FoldIndexedAccess(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 2)
	require.Equal(t, bytecode.LD, decoded[0].Op)
	require.Equal(t, uint16(14), decoded[0].Imm16)
	require.Equal(t, bytecode.END, decoded[1].Op)
}

func TestFoldIndexedAccessStaticForm(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSH, Imm16: 3},
		bytecode.Instruction{Op: bytecode.LDSX, Imm8: 2, Imm16: 20},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, _, err := FoldIndexedAccess(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 2)
	require.Equal(t, bytecode.LDS, decoded[0].Op)
	require.Equal(t, uint8(2), decoded[0].Imm8)
	require.Equal(t, uint16(23), decoded[0].Imm16)
}

func TestFoldIndexedAccessSkipsWhenTargetedByBranch(t *testing.T) {
	// JMP targets the PUSHB itself (pc 4); folding would erase that
	// landing instruction, so the fold must not fire. Layout:
	// pc0: JMP 4 (3 bytes)
	// pc3: NOP (1 byte) -- padding so pc4 lines up
	// pc4: PUSHB 1 (2 bytes)
	// pc6: LDX 5 (3 bytes)
	// pc9: END
	prog := assemble(
		bytecode.Instruction{Op: bytecode.JMP, Imm16: 4},
		bytecode.Instruction{Op: bytecode.NOP},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 1},
		bytecode.Instruction{Op: bytecode.LDX, Imm16: 5},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, _, err := FoldIndexedAccess(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	// Unchanged: still 5 instructions, PUSHB/LDX both present.
	require.Len(t, decoded, 5)
	require.Equal(t, bytecode.PUSHB, decoded[2].Op)
	require.Equal(t, bytecode.LDX, decoded[3].Op)
}

func TestFoldIndexedAccessRemapsBranchPastFoldedPair(t *testing.T) {
	// JMP skips past a foldable pair to the END.
	prog := assemble(
		bytecode.Instruction{Op: bytecode.JMP, Imm16: 8}, // pc0, 3 bytes -> target pc8 (END)
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 2}, // pc3, 2 bytes
		bytecode.Instruction{Op: bytecode.LDX, Imm16: 1},  // pc5, 3 bytes
		bytecode.Instruction{Op: bytecode.END},            // pc8
	)
	out, _, err := FoldIndexedAccess(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 3) // JMP, LD(folded), END
	require.Equal(t, bytecode.JMP, decoded[0].Op)
	require.Equal(t, bytecode.LD, decoded[1].Op)
	require.Equal(t, bytecode.END, decoded[2].Op)
	// JMP must now point at END's new position: pc3 (JMP) + pc3 (LD, 3 bytes).
	require.Equal(t, uint16(6), decoded[0].Imm16)
}

func TestElideStringBracketsRemovesNeutralPair(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSHS},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 1},
		bytecode.Instruction{Op: bytecode.POPS},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, _, err := ElideStringBrackets(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 2)
	require.Equal(t, bytecode.PUSHB, decoded[0].Op)
	require.Equal(t, bytecode.END, decoded[1].Op)
}

func TestElideStringBracketsKeepsPairWithStringStackCall(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSHS},
		bytecode.Instruction{Op: bytecode.LIB, Imm16: vm.LibStrInit},
		bytecode.Instruction{Op: bytecode.POPS},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, _, err := ElideStringBrackets(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 4)
	require.Equal(t, bytecode.PUSHS, decoded[0].Op)
	require.Equal(t, bytecode.POPS, decoded[2].Op)
}

func TestElideStringBracketsRemovesPairWithNonTouchingLibCall(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSHS},
		bytecode.Instruction{Op: bytecode.LIB, Imm16: vm.LibStrCmp},
		bytecode.Instruction{Op: bytecode.POPS},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, _, err := ElideStringBrackets(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 2)
	require.Equal(t, bytecode.LIB, decoded[0].Op)
	require.Equal(t, bytecode.END, decoded[1].Op)
}

func TestElideStringBracketsKeepsNestedPair(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSHS},
		bytecode.Instruction{Op: bytecode.PUSHS},
		bytecode.Instruction{Op: bytecode.LIB, Imm16: vm.LibStrInit},
		bytecode.Instruction{Op: bytecode.POPS},
		bytecode.Instruction{Op: bytecode.POPS},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, _, err := ElideStringBrackets(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	// Outer pair contains a nested PUSHS/POPS, so it is kept; inner
	// pair contains the touching LIB call, so it is kept too.
	require.Len(t, decoded, 6)
}

func TestElideStringBracketsRemapsBranchAcrossElidedPair(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.JMP, Imm16: 5}, // pc0, 3 bytes -> target pc5 (END)
		bytecode.Instruction{Op: bytecode.PUSHS},         // pc3, 1 byte
		bytecode.Instruction{Op: bytecode.POPS},          // pc4, 1 byte
		bytecode.Instruction{Op: bytecode.END},           // pc5
	)
	out, _, err := ElideStringBrackets(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 2) // JMP, END
	require.Equal(t, bytecode.JMP, decoded[0].Op)
	require.Equal(t, uint16(3), decoded[0].Imm16) // END now sits right after JMP.
}

func TestOptimizeComposesBothPasses(t *testing.T) {
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSHS},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 2},
		bytecode.Instruction{Op: bytecode.LDX, Imm16: 1},
		bytecode.Instruction{Op: bytecode.POPS},
		bytecode.Instruction{Op: bytecode.END},
	)
	out, err := Optimize(prog)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 2) // LD(folded), END
	require.Equal(t, bytecode.LD, decoded[0].Op)
	require.Equal(t, uint16(3), decoded[0].Imm16)
	require.Equal(t, bytecode.END, decoded[1].Op)
}

func TestOptimizeProgramRemapsEntryPointAcrossElidedBracket(t *testing.T) {
	// entry points past a no-op PUSHS/POPS bracket that the bracket
	// elision pass deletes outright; the entry PC must follow it.
	prog := assemble(
		bytecode.Instruction{Op: bytecode.PUSHS},
		bytecode.Instruction{Op: bytecode.POPS},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 7},
		bytecode.Instruction{Op: bytecode.END},
	)
	entryPC := uint16(2) // offset of PUSHB, after the 1-byte PUSHS/POPS pair

	out, newEntry, err := OptimizeProgram(prog, entryPC)
	require.NoError(t, err)

	decoded := decodeAll(t, out)
	require.Len(t, decoded, 2) // PUSHB, END
	require.Equal(t, uint16(0), newEntry)
	require.Equal(t, bytecode.PUSHB, decoded[0].Op)
}
