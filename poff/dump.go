package poff

import (
	"fmt"
	"io"

	"github.com/patacongo/Pascal-sub003/bytecode"
)

// Dump prints a human-readable summary of f's sections, symbols, and
// line numbers to w. It is a read-only introspection accessor (no
// section data is mutated) used by cmd/poffdump; it does not replace
// the front end's own list-file formatting, which remains out of
// scope (spec.md §1).
func (f *File) Dump(w io.Writer) error {
	fmt.Fprintf(w, "type=%s entry=0x%04x program=%dB rodata=%dB\n",
		f.fileType, f.entryPoint, len(f.program), len(f.rodata))

	fmt.Fprintf(w, "symbols (%d):\n", len(f.symbols))
	for i, s := range f.symbols {
		fmt.Fprintf(w, "  [%d] %-24s type=%d value=0x%04x size=%d defined=%v external=%v\n",
			i, s.Name, s.Type, s.Value, s.Size, s.Flags.Defined(), s.Flags.External())
	}

	fmt.Fprintf(w, "relocations (%d):\n", len(f.relocations))
	for _, r := range f.relocations {
		fmt.Fprintf(w, "  off=0x%04x sym=%d type=%d\n", r.ProgramOffset, r.SymbolIndex, r.Type)
	}

	fmt.Fprintf(w, "line numbers (%d):\n", len(f.lineNumbers))
	for _, ln := range f.lineNumbers {
		file := ""
		if ln.FileIndex < len(f.fileNames) {
			file = f.fileNames[ln.FileIndex]
		}
		fmt.Fprintf(w, "  off=0x%04x %s:%d\n", ln.ProgramOffset, file, ln.LineNumber)
	}

	if len(f.program) > 0 {
		fmt.Fprintln(w, "disassembly:")
		pcs, ins, err := bytecode.Disassemble(f.program)
		if err != nil {
			return err
		}
		for i, in := range ins {
			fmt.Fprintf(w, "  %04x  %-8s imm8=%d imm16=%d\n", pcs[i], in.Op, in.Imm8, in.Imm16)
		}
	}
	return nil
}
