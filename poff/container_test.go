package poff

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	f := New(TypeUnit)
	f.SetEntryPoint(0x10)
	f.AddOpcode([]byte{0x01, 0x02, 0x03})
	f.AppendRoData([]byte("hello\x00"))
	fi := f.AddFileName("unit1.pas")
	f.AddSymbol(Symbol{Name: "swap", Type: 1, Value: 0x20, Flags: SymDefined})
	f.AddSymbol(Symbol{Name: "writeln", Flags: SymExternal})
	f.AddRelocation(Relocation{Type: RelocProcedureCall, SymbolIndex: 1, ProgramOffset: 2})
	f.AddLineNumber(LineNumber{LineNumber: 10, FileIndex: fi, ProgramOffset: 0})

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	g := New(TypeUnit)
	_, err = g.ReadFrom(&buf)
	require.NoError(t, err)

	require.Equal(t, f.FileType(), g.FileType())
	require.Equal(t, f.EntryPoint(), g.EntryPoint())
	require.Equal(t, f.Program(), g.Program())
	require.Equal(t, f.RoData(), g.RoData())
	require.Equal(t, f.NumSymbols(), g.NumSymbols())

	s0, ok := g.NextSymbol()
	require.True(t, ok)
	require.Equal(t, "swap", s0.Name)
	require.True(t, s0.Flags.Defined())

	r0, ok := g.NextRelocation()
	require.True(t, ok)
	require.Equal(t, 1, r0.SymbolIndex)

	ln0, ok := g.NextLineNumber()
	require.True(t, ok)
	require.Equal(t, 10, ln0.LineNumber)
}

func TestResetIterators(t *testing.T) {
	f := New(TypeUnit)
	f.AddSymbol(Symbol{Name: "a"})
	f.AddSymbol(Symbol{Name: "b"})

	_, ok := f.NextSymbol()
	require.True(t, ok)
	f.ResetSymbols()
	s, ok := f.NextSymbol()
	require.True(t, ok)
	require.Equal(t, "a", s.Name)
}

func TestBadMagicRejected(t *testing.T) {
	g := New(TypeUnit)
	_, err := g.ReadFrom(bytes.NewReader([]byte("not a poff file at all")))
	require.Error(t, err)
}

func TestAddFileNameInterns(t *testing.T) {
	f := New(TypeUnit)
	a := f.AddFileName("x.pas")
	b := f.AddFileName("y.pas")
	c := f.AddFileName("x.pas")
	require.Equal(t, a, c)
	require.NotEqual(t, a, b)
}

func TestExtractProgramData(t *testing.T) {
	f := New(TypeUnit)
	f.AddOpcode([]byte{1, 2, 3})
	p := f.ExtractProgramData()
	require.Equal(t, []byte{1, 2, 3}, p)
	require.Nil(t, f.Program())
}

func TestLineNumbersSortedOrder(t *testing.T) {
	f := New(TypeUnit)
	f.AddLineNumber(LineNumber{LineNumber: 3, ProgramOffset: 30})
	f.AddLineNumber(LineNumber{LineNumber: 1, ProgramOffset: 10})
	f.AddLineNumber(LineNumber{LineNumber: 2, ProgramOffset: 20})

	raw, _ := f.NextRawLineNumber()
	require.Equal(t, 30, raw.ProgramOffset)

	var sortedOffsets []int
	for {
		ln, ok := f.NextLineNumber()
		if !ok {
			break
		}
		sortedOffsets = append(sortedOffsets, ln.ProgramOffset)
	}
	require.Equal(t, []int{10, 20, 30}, sortedOffsets)
}
