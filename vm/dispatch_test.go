package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patacongo/Pascal-sub003/bytecode"
)

func newDispatchMachine(t *testing.T, program []byte) *Machine {
	t.Helper()
	m, err := New(Config{
		StrSize: 16, RoSize: 16, StkSize: 128, HpSize: 64,
		StrAlloc: 16, Program: program,
	})
	require.NoError(t, err)
	return m
}

func assemble(t *testing.T, ins ...bytecode.Instruction) []byte {
	t.Helper()
	var buf []byte
	for _, in := range ins {
		buf = bytecode.Encode(buf, in)
	}
	return buf
}

func TestDispatchArithmeticAndHalt(t *testing.T) {
	program := assemble(t,
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 5},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 7},
		bytecode.Instruction{Op: bytecode.ADD},
		bytecode.Instruction{Op: bytecode.END},
	)
	m := newDispatchMachine(t, program)

	require.NoError(t, m.Run())
	v, err := m.ReadWord(m.SP - 2)
	require.NoError(t, err)
	require.Equal(t, uint16(12), v)
}

func TestDispatchLoadStoreIndirect(t *testing.T) {
	const offset = 16
	program := assemble(t,
		bytecode.Instruction{Op: bytecode.LA, Imm16: offset},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 99},
		bytecode.Instruction{Op: bytecode.STI},
		bytecode.Instruction{Op: bytecode.LA, Imm16: offset},
		bytecode.Instruction{Op: bytecode.LDI},
		bytecode.Instruction{Op: bytecode.END},
	)
	m := newDispatchMachine(t, program)

	require.NoError(t, m.Run())
	v, err := m.ReadWord(m.SP - 2)
	require.NoError(t, err)
	require.Equal(t, uint16(99), v)
}

func TestDispatchBranch(t *testing.T) {
	// PUSHB 0; JEQUZ -> skip the poison PUSHB; END
	program := assemble(t,
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 0},
		bytecode.Instruction{Op: bytecode.JEQUZ, Imm16: 7},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 255}, // skipped
		bytecode.Instruction{Op: bytecode.END},
	)
	m := newDispatchMachine(t, program)
	require.NoError(t, m.Run())
}

func TestDispatchCallReturn(t *testing.T) {
	// pc0: PCAL level=0 target=5 (4 bytes: pc 0..3)
	// pc4: END                    (1 byte)
	// pc5: PUSHB 55               (2 bytes: pc 5..6)
	// pc7: RET                    (1 byte)
	program := assemble(t,
		bytecode.Instruction{Op: bytecode.PCAL, Imm8: 0, Imm16: 5},
		bytecode.Instruction{Op: bytecode.END},
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 55},
		bytecode.Instruction{Op: bytecode.RET},
	)
	m := newDispatchMachine(t, program)
	require.NoError(t, m.Run())
}

func TestDispatchTruncatedInstructionFails(t *testing.T) {
	// A truncated shape-4 opcode byte with no following bytes.
	m := newDispatchMachine(t, []byte{byte(bytecode.PCAL)})
	err := m.Run()
	require.Error(t, err)
}

// TestDispatchFrameBaseRelativeUsesSPB exercises the non-static LD/ST
// family (spec.md §4.9 "Frame-base-relative addresses": "ld-family
// with offset off accesses spb + off"). A called frame's FP is made
// to differ from SPB (a dummy value is left on the stack across the
// call) so that using FP instead of SPB would read the wrong address.
func TestDispatchFrameBaseRelativeUsesSPB(t *testing.T) {
	const (
		globalOff = 80
		copyOff   = 84
	)
	program := assemble(t,
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 42},         // pc0
		bytecode.Instruction{Op: bytecode.ST, Imm16: globalOff},    // pc2
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 0},          // pc5: leaves FP != SPB in the callee
		bytecode.Instruction{Op: bytecode.PCAL, Imm8: 0, Imm16: 12}, // pc7 -> callee at pc12
		bytecode.Instruction{Op: bytecode.END},                     // pc11
		bytecode.Instruction{Op: bytecode.LD, Imm16: globalOff},    // pc12: callee
		bytecode.Instruction{Op: bytecode.ST, Imm16: copyOff},      // pc15
		bytecode.Instruction{Op: bytecode.RET},                     // pc18
	)
	m := newDispatchMachine(t, program)
	require.NoError(t, m.Run())

	v, err := m.ReadWord(m.SPB + copyOff)
	require.NoError(t, err)
	require.Equal(t, uint16(42), v)
}

// TestDispatchStaticChainResolutionAddsFrameOffset exercises
// getBaseAddress's documented "past the link and saved frame" +4
// adjustment (spec.md §4.9 "Static-chain resolution"): a nested call
// reads a local stored by its caller via the static-chain LDS family
// one level up.
func TestDispatchStaticChainResolutionAddsFrameOffset(t *testing.T) {
	const (
		localOff  = 2
		resultOff = 20
	)
	program := assemble(t,
		bytecode.Instruction{Op: bytecode.PCAL, Imm8: 0, Imm16: 5}, // pc0: enter outer at pc5
		bytecode.Instruction{Op: bytecode.END},                     // pc4

		// outer, pc5:
		bytecode.Instruction{Op: bytecode.PUSHB, Imm8: 77},              // pc5
		bytecode.Instruction{Op: bytecode.STS, Imm8: 0, Imm16: localOff}, // pc7: store local
		bytecode.Instruction{Op: bytecode.INDS, Imm16: 2},               // pc11: reserve the local's slot
		bytecode.Instruction{Op: bytecode.PCAL, Imm8: 0, Imm16: 19},     // pc14: enter inner at pc19
		bytecode.Instruction{Op: bytecode.RET},                          // pc18

		// inner, pc19: read outer's local one static level up.
		bytecode.Instruction{Op: bytecode.LDS, Imm8: 1, Imm16: localOff}, // pc19
		bytecode.Instruction{Op: bytecode.ST, Imm16: resultOff},          // pc23
		bytecode.Instruction{Op: bytecode.RET},                           // pc26
	)
	m := newDispatchMachine(t, program)
	require.NoError(t, m.Run())

	v, err := m.ReadWord(m.SPB + resultOff)
	require.NoError(t, err)
	require.Equal(t, uint16(77), v)
}
