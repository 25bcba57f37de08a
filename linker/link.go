// Package linker implements the POFF linker (spec.md §4.10, C10): it
// merges an ordered list of object POFF files into a single
// executable POFF, resolving external symbol references and patching
// relocations, grounded on the teacher's std/compiler/main.go
// multi-pass "parse → codegen → link → write" CLI shape and
// arc-language-core-codegen/codegen.go's incremental
// container-building pattern.
package linker

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/patacongo/Pascal-sub003/bytecode"
	"github.com/patacongo/Pascal-sub003/poff"
	"github.com/patacongo/Pascal-sub003/vmerr"
)

// Logger is consulted for resolution diagnostics; it defaults to a
// no-op logger so library use never requires a logger to be
// configured (SPEC_FULL.md ambient logging convention).
var Logger = zap.NewNop().Sugar()

// bufferedSymbol is a Symbol with its Value already shifted by the
// pcOffset of the input unit it came from.
type bufferedSymbol struct {
	poff.Symbol
	unitIndex int
}

// Link merges inputs, in order, into a single executable POFF
// (spec.md §4.10). Exactly one input must carry file type
// poff.TypeProgram; the rest must be poff.TypeUnit.
func Link(inputs []*poff.File) (*poff.File, error) {
	if len(inputs) == 0 {
		return nil, vmerr.New(vmerr.BadFormat, "linker: no input objects")
	}

	out := poff.New(poff.TypeUnit)
	sawProgram := false

	var symbols []bufferedSymbol
	var relocations []poff.Relocation

	pcOffset := 0
	for unitIdx, in := range inputs {
		switch in.FileType() {
		case poff.TypeProgram:
			if sawProgram {
				return nil, vmerr.New(vmerr.BadFormat, "linker: more than one program-type input")
			}
			sawProgram = true
			out.SetFileType(poff.TypeExecutable)
			out.SetEntryPoint(in.EntryPoint() + uint16(pcOffset))
		case poff.TypeUnit:
			// ordinary translation unit
		default:
			return nil, vmerr.New(vmerr.BadFormat, fmt.Sprintf("linker: input %d is not unit or program", unitIdx))
		}

		roOffset := len(out.RoData())
		out.AppendRoData(in.RoData())

		fileIndexMap := make([]int, in.NumFileNames())
		for i := 0; i < in.NumFileNames(); i++ {
			fileIndexMap[i] = out.AddFileName(in.FileNameAt(i))
		}

		prog := in.Program()
		_, decoded, err := bytecode.Disassemble(prog)
		if err != nil {
			return nil, vmerr.Wrap(vmerr.BadFormat, "linker: disassemble input program", err)
		}
		var outProg []byte
		for _, ins := range decoded {
			adjusted := ins
			switch {
			case ins.Op.IsBranch() || ins.Op == bytecode.PCAL:
				adjusted.Imm16 = ins.Imm16 + uint16(pcOffset)
			case ins.Op == bytecode.LAC:
				adjusted.Imm16 = ins.Imm16 + uint16(roOffset)
			}
			outProg = bytecode.Encode(outProg, adjusted)
		}
		out.AddOpcode(outProg)

		in.ResetRawLineNumbers()
		for {
			ln, ok := in.NextRawLineNumber()
			if !ok {
				break
			}
			fi := 0
			if ln.FileIndex < len(fileIndexMap) {
				fi = fileIndexMap[ln.FileIndex]
			}
			out.AddLineNumber(poff.LineNumber{
				LineNumber:    ln.LineNumber,
				FileIndex:     fi,
				ProgramOffset: ln.ProgramOffset + pcOffset,
			})
		}

		symOffset := len(symbols)
		in.ResetSymbols()
		for {
			sym, ok := in.NextSymbol()
			if !ok {
				break
			}
			sym.Value += uint16(pcOffset)
			symbols = append(symbols, bufferedSymbol{Symbol: sym, unitIndex: unitIdx})
		}

		in.ResetRelocations()
		for {
			r, ok := in.NextRelocation()
			if !ok {
				break
			}
			r.SymbolIndex += symOffset
			r.ProgramOffset += pcOffset
			relocations = append(relocations, r)
		}

		pcOffset += len(prog)
	}

	if !sawProgram {
		return nil, vmerr.New(vmerr.BadFormat, "linker: no program-type input supplied")
	}

	if err := resolveAndPatch(out, symbols, relocations); err != nil {
		return nil, err
	}

	for _, s := range symbols {
		out.AddSymbol(s.Symbol)
	}

	return out, nil
}

// resolveAndPatch matches every external symbol reference named by a
// relocation to a unique defined symbol and patches the 16-bit
// operand at its program offset (spec.md §4.10 "Resolve" / "Apply
// relocations").
func resolveAndPatch(out *poff.File, symbols []bufferedSymbol, relocations []poff.Relocation) error {
	definedByName := make(map[string][]uint16) // name -> resolved addresses
	for _, s := range symbols {
		if s.Flags.Defined() {
			definedByName[s.Name] = append(definedByName[s.Name], s.Value)
		}
	}

	prog := out.Program()
	for _, r := range relocations {
		if r.SymbolIndex < 0 || r.SymbolIndex >= len(symbols) {
			return vmerr.New(vmerr.BadRelocation, "linker: relocation references unknown symbol index")
		}
		name := symbols[r.SymbolIndex].Name
		candidates := definedByName[name]
		switch len(candidates) {
		case 0:
			Logger.Errorw("undefined symbol", "symbol", name)
			return vmerr.New(vmerr.UndefinedSymbol, fmt.Sprintf("linker: undefined symbol %q", name))
		case 1:
			// resolved below
		default:
			Logger.Errorw("multiply defined symbol", "symbol", name, "count", len(candidates))
			return vmerr.New(vmerr.MultiplyDefinedSymbol, fmt.Sprintf("linker: multiply defined symbol %q", name))
		}

		if r.ProgramOffset < 0 || r.ProgramOffset+2 > len(prog) {
			return vmerr.New(vmerr.BadRelocation, "linker: relocation program offset out of range")
		}
		switch r.Type {
		case poff.RelocProcedureCall, poff.RelocLoadStaticBase:
			binary.BigEndian.PutUint16(prog[r.ProgramOffset:r.ProgramOffset+2], candidates[0])
		default:
			return vmerr.New(vmerr.BadRelocation, "linker: unrecognized relocation type")
		}
	}
	return nil
}
