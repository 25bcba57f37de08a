package bytecode

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllShapes(t *testing.T) {
	cases := []Instruction{
		{Op: NOP},
		{Op: END},
		{Op: PUSHB, Imm8: 0xAB},
		{Op: SETOP, Imm8: 3},
		{Op: PUSH, Imm16: 0x1234},
		{Op: JMP, Imm16: 0x00FF},
		{Op: PCAL, Imm8: 2, Imm16: 0x4000},
		{Op: LINE, Imm8: 1, Imm16: 42},
	}
	for _, in := range cases {
		buf := Encode(nil, in)
		require.Len(t, buf, in.Size())
		got, next, err := Decode(buf, 0)
		require.NoError(t, err)
		require.Equal(t, len(buf), next)
		if diff := cmp.Diff(in, got); diff != "" {
			t.Errorf("decode(encode(%v)) mismatch (-want +got):\n%s", in, diff)
		}
	}
}

func TestEncodeDecodeBytesIdentity(t *testing.T) {
	// encode(decode(bytes)) == bytes on well-formed input.
	raw := []byte{byte(PCAL), 5, 0x12, 0x34}
	in, next, err := Decode(raw, 0)
	require.NoError(t, err)
	require.Equal(t, 4, next)
	require.Equal(t, raw, Encode(nil, in))
}

func TestDecodeTruncated(t *testing.T) {
	raw := []byte{byte(PUSH), 0x01} // needs 3 bytes, only 2 present
	_, _, err := Decode(raw, 0)
	require.Error(t, err)
}

func TestDisassembleSequence(t *testing.T) {
	var buf []byte
	buf = Encode(buf, Instruction{Op: PUSH, Imm16: 10})
	buf = Encode(buf, Instruction{Op: PUSH, Imm16: 20})
	buf = Encode(buf, Instruction{Op: ADD})
	buf = Encode(buf, Instruction{Op: END})

	pcs, ins, err := Disassemble(buf)
	require.NoError(t, err)
	require.Equal(t, []int{0, 3, 6, 7}, pcs)
	require.Len(t, ins, 4)
	require.Equal(t, ADD, ins[2].Op)
}

func TestOpcodeShapeSizes(t *testing.T) {
	require.Equal(t, 1, NOP.Size())
	require.Equal(t, 2, PUSHB.Size())
	require.Equal(t, 3, PUSH.Size())
	require.Equal(t, 4, PCAL.Size())
}

func TestIllegalOpcodeString(t *testing.T) {
	// An id within shape-1 space that was never assigned a mnemonic.
	var unassigned Opcode = 63
	require.False(t, unassigned.Valid())
	require.Contains(t, unassigned.String(), "illegal")
}
