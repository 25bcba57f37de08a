package poff

import (
	"encoding/binary"

	"github.com/patacongo/Pascal-sub003/vmerr"
)

// internNames builds a single string pool holding every symbol's name
// (deduplicated) and returns the pool bytes plus each symbol's offset
// into it, matching spec.md §4.1's "names in a shared string pool
// section".
func internNames(symbols []Symbol) (pool []byte, offsets []uint32) {
	seen := make(map[string]uint32)
	offsets = make([]uint32, len(symbols))
	for i, s := range symbols {
		off, ok := seen[s.Name]
		if !ok {
			off = uint32(len(pool))
			pool = append(pool, []byte(s.Name)...)
			pool = append(pool, 0)
			seen[s.Name] = off
		}
		offsets[i] = off
	}
	return pool, offsets
}

func appendSymbolRecord(buf []byte, s Symbol, nameOffset uint32) []byte {
	buf = le32(buf, nameOffset)
	buf = le16(buf, s.Type)
	buf = le16(buf, s.Value)
	buf = le16(buf, s.Size)
	buf = le16(buf, s.Align)
	buf = le16(buf, uint16(s.Flags))
	return buf
}

func appendRelocationRecord(buf []byte, r Relocation) []byte {
	buf = le16(buf, uint16(r.Type))
	buf = le32(buf, uint32(r.SymbolIndex))
	buf = le32(buf, uint32(r.ProgramOffset))
	return buf
}

func appendLineNumberRecord(buf []byte, ln LineNumber) []byte {
	buf = le32(buf, uint32(ln.LineNumber))
	buf = le32(buf, uint32(ln.FileIndex))
	buf = le32(buf, uint32(ln.ProgramOffset))
	return buf
}

func parseSymbols(symData, nameData []byte) ([]Symbol, error) {
	if len(symData)%symbolRecordSize != 0 {
		return nil, vmerr.New(vmerr.BadFormat, "poff: malformed symbol table")
	}
	n := len(symData) / symbolRecordSize
	syms := make([]Symbol, n)
	for i := 0; i < n; i++ {
		rec := symData[i*symbolRecordSize : (i+1)*symbolRecordSize]
		nameOffset := binary.LittleEndian.Uint32(rec[0:4])
		name, err := readCString(nameData, int(nameOffset))
		if err != nil {
			return nil, err
		}
		syms[i] = Symbol{
			Name:  name,
			Type:  binary.LittleEndian.Uint16(rec[4:6]),
			Value: binary.LittleEndian.Uint16(rec[6:8]),
			Size:  binary.LittleEndian.Uint16(rec[8:10]),
			Align: binary.LittleEndian.Uint16(rec[10:12]),
			Flags: SymbolFlags(binary.LittleEndian.Uint16(rec[12:14])),
		}
	}
	return syms, nil
}

func parseRelocations(buf []byte) ([]Relocation, error) {
	if len(buf)%relocationRecordSize != 0 {
		return nil, vmerr.New(vmerr.BadFormat, "poff: malformed relocation table")
	}
	n := len(buf) / relocationRecordSize
	out := make([]Relocation, n)
	for i := 0; i < n; i++ {
		rec := buf[i*relocationRecordSize : (i+1)*relocationRecordSize]
		out[i] = Relocation{
			Type:          RelocationType(binary.LittleEndian.Uint16(rec[0:2])),
			SymbolIndex:   int(binary.LittleEndian.Uint32(rec[2:6])),
			ProgramOffset: int(binary.LittleEndian.Uint32(rec[6:10])),
		}
	}
	return out, nil
}

func parseLineNumbers(buf []byte) ([]LineNumber, error) {
	if len(buf)%lineNumberRecordSize != 0 {
		return nil, vmerr.New(vmerr.BadFormat, "poff: malformed line number table")
	}
	n := len(buf) / lineNumberRecordSize
	out := make([]LineNumber, n)
	for i := 0; i < n; i++ {
		rec := buf[i*lineNumberRecordSize : (i+1)*lineNumberRecordSize]
		out[i] = LineNumber{
			LineNumber:    int(binary.LittleEndian.Uint32(rec[0:4])),
			FileIndex:     int(binary.LittleEndian.Uint32(rec[4:8])),
			ProgramOffset: int(binary.LittleEndian.Uint32(rec[8:12])),
		}
	}
	return out, nil
}

func readCString(data []byte, offset int) (string, error) {
	if offset < 0 || offset > len(data) {
		return "", vmerr.New(vmerr.BadFormat, "poff: name offset out of range")
	}
	end := offset
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return "", vmerr.New(vmerr.BadFormat, "poff: unterminated name")
	}
	return string(data[offset:end]), nil
}

// packStrings serializes a write-once string pool as NUL-terminated
// entries in order (spec.md §4.1 "File names" section).
func packStrings(names []string) []byte {
	var buf []byte
	for _, n := range names {
		buf = append(buf, []byte(n)...)
		buf = append(buf, 0)
	}
	return buf
}

func unpackStrings(buf []byte) []string {
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	return out
}
