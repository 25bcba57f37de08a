// Package poff implements the "POFF" object-file container format
// (spec.md §4.1, §6): the binary format binding the compiler, linker,
// optimizer, and loader. A File holds typed sections (program
// bytecode, read-only data, symbols, relocations, line numbers, file
// names) and is read/written bit-exact to a stream.
package poff

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/patacongo/Pascal-sub003/vmerr"
)

var magic = [4]byte{'P', 'O', 'F', 'F'}

const formatVersion = 1

// FileType distinguishes a separately compiled unit from a linked
// program (spec.md §6).
type FileType uint16

const (
	TypeUnit FileType = iota
	TypeProgram
	TypeExecutable
)

func (t FileType) String() string {
	switch t {
	case TypeUnit:
		return "unit"
	case TypeProgram:
		return "program"
	case TypeExecutable:
		return "executable"
	default:
		return fmt.Sprintf("filetype(%d)", int(t))
	}
}

// Symbol is a link-time symbol record (spec.md §3 "Symbol (link-time)").
type Symbol struct {
	Name  string
	Type  uint16
	Value uint16
	Size  uint16
	Align uint16
	Flags SymbolFlags
}

type SymbolFlags uint16

const (
	SymDefined SymbolFlags = 1 << iota
	SymExternal
)

func (f SymbolFlags) Defined() bool  { return f&SymDefined != 0 }
func (f SymbolFlags) External() bool { return f&SymExternal != 0 }

// RelocationType selects how a relocation's operand is patched
// (spec.md §3, §4.10).
type RelocationType uint16

const (
	RelocProcedureCall RelocationType = iota
	RelocLoadStaticBase
)

// Relocation is a link-time relocation record.
type Relocation struct {
	Type          RelocationType
	SymbolIndex   int
	ProgramOffset int
}

// LineNumber maps a program offset to a source location.
type LineNumber struct {
	LineNumber    int
	FileIndex     int
	ProgramOffset int
}

// File is an in-memory POFF object or executable.
type File struct {
	fileType   FileType
	entryPoint uint16

	program []byte
	rodata  []byte

	symbols     []Symbol
	relocations []Relocation
	lineNumbers []LineNumber
	fileNames   []string

	// Iterator cursors (position-stateful per spec.md §4.1).
	symCursor     int
	relocCursor   int
	lineCursor    int
	rawLineCursor int

	lineNumbersSorted bool
	sortedLines       []LineNumber // sorted copy of lineNumbers for NextLineNumber
}

// New returns an empty container ready for appending.
func New(fileType FileType) *File {
	return &File{fileType: fileType}
}

// --- Accessors ---

func (f *File) FileType() FileType        { return f.fileType }
func (f *File) SetFileType(t FileType)    { f.fileType = t }
func (f *File) EntryPoint() uint16        { return f.entryPoint }
func (f *File) SetEntryPoint(ep uint16)   { f.entryPoint = ep }
func (f *File) Program() []byte           { return f.program }
func (f *File) RoData() []byte            { return f.rodata }
func (f *File) NumSymbols() int           { return len(f.symbols) }
func (f *File) NumRelocations() int       { return len(f.relocations) }
func (f *File) NumLineNumbers() int       { return len(f.lineNumbers) }
func (f *File) FileNameAt(i int) string   { return f.fileNames[i] }
func (f *File) NumFileNames() int         { return len(f.fileNames) }
func (f *File) SymbolAt(i int) Symbol     { return f.symbols[i] }

// --- Appenders ---

// AppendRoData appends buf to the read-only data section and returns
// the offset at which it begins.
func (f *File) AppendRoData(buf []byte) int {
	off := len(f.rodata)
	f.rodata = append(f.rodata, buf...)
	return off
}

// AddSymbol appends a symbol record and returns its index.
func (f *File) AddSymbol(s Symbol) int {
	f.symbols = append(f.symbols, s)
	return len(f.symbols) - 1
}

// AddRelocation appends a relocation record.
func (f *File) AddRelocation(r Relocation) {
	f.relocations = append(f.relocations, r)
}

// AddLineNumber appends a line-number record in insertion order.
// nextRawLineNumber iterates in this order; nextLineNumber iterates in
// programOffset-sorted order, computed lazily.
func (f *File) AddLineNumber(ln LineNumber) {
	f.lineNumbers = append(f.lineNumbers, ln)
	f.lineNumbersSorted = false
}

// AddFileName interns name into the file-name pool and returns its
// stable index (addFileName of spec.md §4.1).
func (f *File) AddFileName(name string) int {
	for i, n := range f.fileNames {
		if n == name {
			return i
		}
	}
	f.fileNames = append(f.fileNames, name)
	return len(f.fileNames) - 1
}

// AddOpcode appends encoded instruction bytes (one instruction or a
// whole encoded program) to the program section.
func (f *File) AddOpcode(encoded []byte) {
	f.program = append(f.program, encoded...)
}

// ExtractProgramData transfers ownership of the program byte buffer to
// the caller; f no longer holds a reference to it (spec.md §4.1
// extractProgramData).
func (f *File) ExtractProgramData() []byte {
	p := f.program
	f.program = nil
	return p
}

// --- Iterators ---
//
// Each iterator is position-stateful: repeated calls to Next advance a
// cursor owned by f, and Reset returns that cursor to the start. This
// mirrors the nextSymbol/nextLineNumber/nextRawLineNumber/
// nextRelocation + reset contract of spec.md §4.1.

func (f *File) ResetSymbols()     { f.symCursor = 0 }
func (f *File) ResetRelocations() { f.relocCursor = 0 }
func (f *File) ResetLineNumbers() { f.lineCursor = 0 }
func (f *File) ResetRawLineNumbers() { f.rawLineCursor = 0 }

func (f *File) NextSymbol() (Symbol, bool) {
	if f.symCursor >= len(f.symbols) {
		return Symbol{}, false
	}
	s := f.symbols[f.symCursor]
	f.symCursor++
	return s, true
}

func (f *File) NextRelocation() (Relocation, bool) {
	if f.relocCursor >= len(f.relocations) {
		return Relocation{}, false
	}
	r := f.relocations[f.relocCursor]
	f.relocCursor++
	return r, true
}

// NextRawLineNumber iterates line numbers in insertion (compile) order.
func (f *File) NextRawLineNumber() (LineNumber, bool) {
	if f.rawLineCursor >= len(f.lineNumbers) {
		return LineNumber{}, false
	}
	ln := f.lineNumbers[f.rawLineCursor]
	f.rawLineCursor++
	return ln, true
}

// NextLineNumber iterates line numbers sorted by ProgramOffset
// ascending, suitable for binary search at debug time.
func (f *File) NextLineNumber() (LineNumber, bool) {
	f.ensureLineNumbersSorted()
	if f.lineCursor >= len(f.sortedLines) {
		return LineNumber{}, false
	}
	ln := f.sortedLines[f.lineCursor]
	f.lineCursor++
	return ln, true
}

func (f *File) ensureLineNumbersSorted() {
	if f.lineNumbersSorted {
		return
	}
	f.sortedLines = append(f.sortedLines[:0], f.lineNumbers...)
	sortLineNumbers(f.sortedLines)
	f.lineNumbersSorted = true
}

func sortLineNumbers(ls []LineNumber) {
	// Insertion sort: line tables are small and built incrementally;
	// matches the teacher's preference for explicit loops over
	// sort.Slice in hot small-N paths (std/compiler/backend_vm.go).
	for i := 1; i < len(ls); i++ {
		v := ls[i]
		j := i - 1
		for j >= 0 && ls[j].ProgramOffset > v.ProgramOffset {
			ls[j+1] = ls[j]
			j--
		}
		ls[j+1] = v
	}
}

// --- Serialization ---

type sectionType uint16

const (
	secProgram sectionType = iota
	secRoData
	secSymbols
	secSymbolNames
	secRelocations
	secLineNumbers
	secFileNames
)

type sectionHeader struct {
	Type       sectionType
	Flags      uint16
	NameOffset uint32
	Size       uint32
	EntrySize  uint32
	FileOffset uint32
}

const sectionHeaderSize = 2 + 2 + 4 + 4 + 4 + 4 // 20 bytes
const fileHeaderSize = 4 + 2 + 2 + 2 + 2 + 2 + 2 + 4

// symbolRecordSize is the fixed on-disk size of one Symbol record,
// excluding its name (which is stored in the shared name pool and
// referenced by a 4-byte offset into it).
const symbolRecordSize = 4 + 2 + 2 + 2 + 2 + 2 // 14 bytes

const relocationRecordSize = 2 + 4 + 4  // 10 bytes
const lineNumberRecordSize = 4 + 4 + 4  // 12 bytes

// WriteTo serializes f bit-exact to w (spec.md §4.1 writeFile).
func (f *File) WriteTo(w io.Writer) (int64, error) {
	// Build the symbol name pool up front so we know section sizes.
	namePool, nameOffsets := internNames(f.symbols)

	type sec struct {
		hdr  sectionHeader
		data []byte
	}
	var secs []sec

	secs = append(secs, sec{sectionHeader{Type: secProgram, Size: uint32(len(f.program))}, f.program})
	secs = append(secs, sec{sectionHeader{Type: secRoData, Size: uint32(len(f.rodata))}, f.rodata})

	symBuf := make([]byte, 0, len(f.symbols)*symbolRecordSize)
	for i, s := range f.symbols {
		symBuf = appendSymbolRecord(symBuf, s, nameOffsets[i])
	}
	secs = append(secs, sec{sectionHeader{Type: secSymbols, Size: uint32(len(symBuf)), EntrySize: symbolRecordSize}, symBuf})
	secs = append(secs, sec{sectionHeader{Type: secSymbolNames, Size: uint32(len(namePool))}, namePool})

	relocBuf := make([]byte, 0, len(f.relocations)*relocationRecordSize)
	for _, r := range f.relocations {
		relocBuf = appendRelocationRecord(relocBuf, r)
	}
	secs = append(secs, sec{sectionHeader{Type: secRelocations, Size: uint32(len(relocBuf)), EntrySize: relocationRecordSize}, relocBuf})

	lineBuf := make([]byte, 0, len(f.lineNumbers)*lineNumberRecordSize)
	for _, ln := range f.lineNumbers {
		lineBuf = appendLineNumberRecord(lineBuf, ln)
	}
	secs = append(secs, sec{sectionHeader{Type: secLineNumbers, Size: uint32(len(lineBuf)), EntrySize: lineNumberRecordSize}, lineBuf})

	fnPool := packStrings(f.fileNames)
	secs = append(secs, sec{sectionHeader{Type: secFileNames, Size: uint32(len(fnPool))}, fnPool})

	sectionTableOffset := fileHeaderSize
	dataOffset := sectionTableOffset + len(secs)*sectionHeaderSize
	for i := range secs {
		secs[i].hdr.FileOffset = uint32(dataOffset)
		dataOffset += len(secs[i].data)
	}

	buf := make([]byte, 0, dataOffset)
	buf = append(buf, magic[:]...)
	buf = le16(buf, formatVersion)
	buf = le16(buf, 1) // machine tag
	buf = le16(buf, 1) // architecture tag
	buf = le16(buf, uint16(f.fileType))
	buf = le16(buf, f.entryPoint)
	buf = le16(buf, uint16(len(secs)))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(sectionTableOffset))
	buf = append(buf, tmp[:]...)

	for _, s := range secs {
		buf = le16(buf, uint16(s.hdr.Type))
		buf = le16(buf, s.hdr.Flags)
		buf = le32(buf, s.hdr.NameOffset)
		buf = le32(buf, s.hdr.Size)
		buf = le32(buf, s.hdr.EntrySize)
		buf = le32(buf, s.hdr.FileOffset)
	}
	for _, s := range secs {
		buf = append(buf, s.data...)
	}

	n, err := w.Write(buf)
	if err != nil {
		return int64(n), vmerr.Wrap(vmerr.WriteError, "poff: write", err)
	}
	return int64(n), nil
}

// ReadFrom deserializes a POFF container from r bit-exact with what
// WriteTo produced (spec.md §4.1 readFile).
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return int64(len(buf)), vmerr.Wrap(vmerr.ReadError, "poff: read", err)
	}
	n := int64(len(buf))
	if len(buf) < fileHeaderSize {
		return n, vmerr.New(vmerr.BadFormat, "poff: file too short for header")
	}
	if [4]byte(buf[0:4]) != magic {
		return n, vmerr.New(vmerr.BadFormat, "poff: bad magic")
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != formatVersion {
		return n, vmerr.New(vmerr.BadFormat, fmt.Sprintf("poff: unsupported version %d", version))
	}
	fileType := binary.LittleEndian.Uint16(buf[10:12])
	entryPoint := binary.LittleEndian.Uint16(buf[12:14])
	numSections := int(binary.LittleEndian.Uint16(buf[14:16]))
	sectionTableOffset := int(binary.LittleEndian.Uint32(buf[16:20]))

	f.fileType = FileType(fileType)
	f.entryPoint = entryPoint

	var symData, nameData, relocData, lineData, fnData []byte
	off := sectionTableOffset
	for i := 0; i < numSections; i++ {
		if off+sectionHeaderSize > len(buf) {
			return n, vmerr.New(vmerr.BadFormat, "poff: truncated section table")
		}
		typ := sectionType(binary.LittleEndian.Uint16(buf[off : off+2]))
		size := binary.LittleEndian.Uint32(buf[off+8 : off+12])
		fileOffset := binary.LittleEndian.Uint32(buf[off+16 : off+20])
		off += sectionHeaderSize

		if int(fileOffset)+int(size) > len(buf) {
			return n, vmerr.New(vmerr.BadFormat, "poff: section data out of range")
		}
		data := buf[fileOffset : fileOffset+size]
		switch typ {
		case secProgram:
			f.program = append([]byte(nil), data...)
		case secRoData:
			f.rodata = append([]byte(nil), data...)
		case secSymbols:
			symData = data
		case secSymbolNames:
			nameData = data
		case secRelocations:
			relocData = data
		case secLineNumbers:
			lineData = data
		case secFileNames:
			fnData = data
		default:
			return n, vmerr.New(vmerr.BadFormat, fmt.Sprintf("poff: unknown section type %d", typ))
		}
	}

	syms, err := parseSymbols(symData, nameData)
	if err != nil {
		return n, err
	}
	f.symbols = syms

	relocs, err := parseRelocations(relocData)
	if err != nil {
		return n, err
	}
	f.relocations = relocs

	lines, err := parseLineNumbers(lineData)
	if err != nil {
		return n, err
	}
	f.lineNumbers = lines
	f.lineNumbersSorted = false

	f.fileNames = unpackStrings(fnData)

	f.symCursor, f.relocCursor, f.lineCursor, f.rawLineCursor = 0, 0, 0, 0
	return n, nil
}

func le16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func le32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
