// Package vm implements the P-code virtual machine (spec.md §3, §4.3–
// §4.9): the unified byte-addressable D-space and its four co-resident
// regions (string stack, read-only data, frame stack, heap), the heap
// allocator, the Pascal string/set/float engines, the buffered file
// table, and the instruction dispatcher.
//
// Grounded on the teacher's std/compiler/backend_vm.go: a flat
// []byte memory region with a bump cursor, a dedicated frame-stack
// sub-region, and a parallel-slice file-descriptor table, generalized
// here to the free-list heap, Pascal string/set semantics, and
// static-chain frame linkage the spec requires.
package vm

import (
	"github.com/patacongo/Pascal-sub003/vmerr"
)

// align2 rounds n up to the nearest multiple of 2.
func align2(n int) int {
	return (n + 1) &^ 1
}

// Config describes the memory layout and initial program image used
// to construct a Machine (spec.md §4.3).
type Config struct {
	StrSize  uint16 // string stack region size
	RoSize   uint16 // read-only data region size
	StkSize  uint16 // frame stack region size
	HpSize   uint16 // heap region size
	StrAlloc uint16 // default per-variable string buffer allocation

	EntryPoint uint16
	Program    []byte
	RoData     []byte
}

// Machine is the P-code virtual machine: registers plus the D-space
// byte buffer and its four regions.
type Machine struct {
	cfg Config

	program []byte // I-space: the bytecode program, immutable during execution
	dspace  []byte // D-space: string stack | rodata | frame stack | heap

	// Registers (spec.md §3 "VM registers"), all 16-bit D-space/I-space
	// byte addresses except PC which indexes I-space.
	PC  uint16
	SP  uint16
	SPB uint16
	FP  uint16
	CSP uint16
	ROP uint16
	HPB uint16
	HSP uint16

	files *FileTable

	freeHead uint16 // heap-relative offset of the smallest free chunk, or noChunk

	// Trace, if non-nil, is invoked after every instruction fetch,
	// before execution, for diagnostics/tests (SPEC_FULL.md C9 [NEW]).
	Trace func(pc uint16, op uint8)
}

// New constructs a Machine from cfg and immediately resets it
// (spec.md §4.3 "reset(st)").
func New(cfg Config) (*Machine, error) {
	cfg.StrSize = uint16(align2(int(cfg.StrSize)))
	cfg.RoSize = uint16(align2(int(cfg.RoSize)))
	cfg.StkSize = uint16(align2(int(cfg.StkSize)))
	cfg.HpSize = uint16(align2(int(cfg.HpSize)))

	total := int(cfg.StrSize) + int(cfg.RoSize) + int(cfg.StkSize) + int(cfg.HpSize)
	if total > 0x10000 {
		return nil, vmerr.New(vmerr.NoMemory, "vm: D-space regions exceed 64KiB address space")
	}

	m := &Machine{
		cfg:     cfg,
		program: cfg.Program,
		dspace:  make([]byte, total),
		files:   newFileTable(),
	}
	m.Reset()
	return m, nil
}

// Reset re-seeds registers, copies read-only data into D-space, seeds
// the bottom of the frame stack with the initial {staticLink=0,
// savedFP=0, returnPC=0xFFFF} triple so the outermost ret halts
// execution, and (re)initializes the heap free list.
func (m *Machine) Reset() {
	m.CSP = 0
	m.ROP = m.cfg.StrSize
	m.SPB = m.cfg.StrSize + m.cfg.RoSize
	m.HPB = m.SPB + m.cfg.StkSize
	m.HSP = m.HPB + m.cfg.HpSize

	copy(m.dspace[m.ROP:m.ROP+m.cfg.RoSize], m.cfg.RoData)

	m.FP = m.SPB
	m.SP = m.SPB
	m.pushFrameSentinel()

	m.PC = m.cfg.EntryPoint

	m.heapInit()
}

// pushFrameSentinel writes the outermost call frame's link triple.
func (m *Machine) pushFrameSentinel() {
	_ = m.WriteWord(m.SP, 0)      // static link
	_ = m.WriteWord(m.SP+2, 0)    // saved fp
	_ = m.WriteWord(m.SP+4, 0xFFFF) // return pc sentinel
	m.SP += 6
}

// Program returns the I-space bytecode image.
func (m *Machine) Program() []byte { return m.program }

// Files returns the machine's file table (C8).
func (m *Machine) Files() *FileTable { return m.files }

// inBounds reports whether [addr, addr+n) lies within D-space.
func (m *Machine) inBounds(addr uint16, n int) bool {
	return int(addr)+n <= len(m.dspace)
}

// ReadByte reads a single byte from D-space.
func (m *Machine) ReadByte(addr uint16) (byte, error) {
	if !m.inBounds(addr, 1) {
		return 0, vmerr.New(vmerr.InternalError, "vm: byte read out of D-space bounds")
	}
	return m.dspace[addr], nil
}

// WriteByte writes a single byte to D-space.
func (m *Machine) WriteByte(addr uint16, v byte) error {
	if !m.inBounds(addr, 1) {
		return vmerr.New(vmerr.InternalError, "vm: byte write out of D-space bounds")
	}
	m.dspace[addr] = v
	return nil
}

// ReadWord reads a 16-bit word at addr, which must be 2-byte aligned
// (spec.md §3 "reads and writes at 16-bit granularity require 2-byte
// alignment").
func (m *Machine) ReadWord(addr uint16) (uint16, error) {
	if addr%2 != 0 || !m.inBounds(addr, 2) {
		return 0, vmerr.New(vmerr.InternalError, "vm: misaligned or out-of-bounds word read")
	}
	return uint16(m.dspace[addr]) | uint16(m.dspace[addr+1])<<8, nil
}

// WriteWord writes a 16-bit word at addr.
func (m *Machine) WriteWord(addr uint16, v uint16) error {
	if addr%2 != 0 || !m.inBounds(addr, 2) {
		return vmerr.New(vmerr.InternalError, "vm: misaligned or out-of-bounds word write")
	}
	m.dspace[addr] = byte(v)
	m.dspace[addr+1] = byte(v >> 8)
	return nil
}

// Bytes returns a direct slice view of D-space [addr, addr+n). Callers
// (string/set engines) must not retain it past the next mutation.
func (m *Machine) Bytes(addr uint16, n int) ([]byte, error) {
	if !m.inBounds(addr, n) {
		return nil, vmerr.New(vmerr.InternalError, "vm: byte range out of D-space bounds")
	}
	return m.dspace[addr : int(addr)+n], nil
}
