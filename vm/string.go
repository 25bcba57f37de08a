package vm

import "github.com/patacongo/Pascal-sub003/vmerr"

// String value layout (spec.md §3 "String value (standard)"): a
// two-word header {dataAddr, size} at the owning variable's slot.
// Bounded (short) strings carry a third word, the per-variable
// allocation cap, at headerCapOffset.
const (
	headerDataOffset = 0
	headerSizeOffset = 2
	headerCapOffset  = 4
)

func (m *Machine) strHeader(v uint16) (dataAddr, size uint16, err error) {
	dataAddr, err = m.ReadWord(v + headerDataOffset)
	if err != nil {
		return 0, 0, err
	}
	size, err = m.ReadWord(v + headerSizeOffset)
	return dataAddr, size, err
}

func (m *Machine) setStrHeader(v, dataAddr, size uint16) error {
	if err := m.WriteWord(v+headerDataOffset, dataAddr); err != nil {
		return err
	}
	return m.WriteWord(v+headerSizeOffset, size)
}

// stralloc reserves n bytes at the top of the string stack, advancing
// CSP, and returns their address. Allocations that would breach
// StrSize fail with StringStackOverflow (spec.md §3 invariants).
func (m *Machine) stralloc(n uint16) (uint16, error) {
	if uint32(m.CSP)+uint32(n) > uint32(m.cfg.StrSize) {
		return 0, vmerr.New(vmerr.StringStackOverflow, "vm: string stack overflow")
	}
	addr := m.CSP
	m.CSP += n
	return addr, nil
}

// StrInit allocates a fresh StrAlloc-sized buffer for v, a standard
// string variable, and zeros its length (spec.md §4.5 strInit).
func (m *Machine) StrInit(v uint16) error {
	addr, err := m.stralloc(m.cfg.StrAlloc)
	if err != nil {
		return err
	}
	return m.setStrHeader(v, addr, 0)
}

// ShortStrInit allocates a cap-sized buffer for v, a bounded (short)
// string variable, recording cap at v+headerCapOffset (spec.md §4.5
// sstrInit).
func (m *Machine) ShortStrInit(v uint16, cap uint16) error {
	addr, err := m.stralloc(cap)
	if err != nil {
		return err
	}
	if err := m.setStrHeader(v, addr, 0); err != nil {
		return err
	}
	return m.WriteWord(v+headerCapOffset, cap)
}

func (m *Machine) bytesAt(addr, n uint16) ([]byte, error) { return m.Bytes(addr, int(n)) }

// StrCopy implements spec.md §4.5 strcpy. If dstData == srcData it is
// a no-op (the aliased `s := s + c` pattern); otherwise srcLen is
// clipped to dstCap, the bytes are copied, and the new length is
// written at dstVar+headerSizeOffset.
func (m *Machine) StrCopy(srcData, srcLen, dstData, dstCap, dstVar uint16) error {
	if dstData == srcData {
		return nil
	}
	n := srcLen
	if n > dstCap {
		n = dstCap
	}
	src, err := m.bytesAt(srcData, n)
	if err != nil {
		return err
	}
	dst, err := m.bytesAt(dstData, n)
	if err != nil {
		return err
	}
	copy(dst, src)
	return m.WriteWord(dstVar+headerSizeOffset, n)
}

// StrCat implements spec.md §4.5 strcat: append srcLen bytes from
// srcData to the tail of the string at dstData, whose current length
// lives at dstLenAddr. Fails StringStackOverflow if the result would
// exceed dstCap.
func (m *Machine) StrCat(srcData, srcLen, dstData, dstLenAddr, dstCap uint16) error {
	curLen, err := m.ReadWord(dstLenAddr)
	if err != nil {
		return err
	}
	if uint32(curLen)+uint32(srcLen) > uint32(dstCap) {
		return vmerr.New(vmerr.StringStackOverflow, "vm: strcat exceeds destination capacity")
	}
	src, err := m.bytesAt(srcData, srcLen)
	if err != nil {
		return err
	}
	dst, err := m.bytesAt(dstData+curLen, srcLen)
	if err != nil {
		return err
	}
	copy(dst, src)
	return m.WriteWord(dstLenAddr, curLen+srcLen)
}

// StrCatChar is the single-character variant of StrCat.
func (m *Machine) StrCatChar(ch byte, dstData, dstLenAddr, dstCap uint16) error {
	curLen, err := m.ReadWord(dstLenAddr)
	if err != nil {
		return err
	}
	if uint32(curLen)+1 > uint32(dstCap) {
		return vmerr.New(vmerr.StringStackOverflow, "vm: strcatc exceeds destination capacity")
	}
	if err := m.WriteByte(dstData+curLen, ch); err != nil {
		return err
	}
	return m.WriteWord(dstLenAddr, curLen+1)
}

// StrDup implements spec.md §4.5 strdup: allocate a fresh StrAlloc
// buffer, copy min(len, StrAlloc) bytes in, and update v's header in
// place.
func (m *Machine) StrDup(v uint16) error {
	dataAddr, size, err := m.strHeader(v)
	if err != nil {
		return err
	}
	n := size
	if n > m.cfg.StrAlloc {
		n = m.cfg.StrAlloc
	}
	newAddr, err := m.stralloc(m.cfg.StrAlloc)
	if err != nil {
		return err
	}
	src, err := m.bytesAt(dataAddr, n)
	if err != nil {
		return err
	}
	dst, err := m.bytesAt(newAddr, n)
	if err != nil {
		return err
	}
	copy(dst, src)
	return m.setStrHeader(v, newAddr, n)
}

// StrTmp reserves a zero-length temporary string on the string stack
// for catching function return values (spec.md §4.5 strtmp) and
// returns its data address.
func (m *Machine) StrTmp() (uint16, error) {
	return m.stralloc(m.cfg.StrAlloc)
}

// MkStkC wraps a single character in a one-byte string on the string
// stack (spec.md §4.5 mkstkc).
func (m *Machine) MkStkC(c byte) (dataAddr uint16, length uint16, err error) {
	addr, err := m.stralloc(1)
	if err != nil {
		return 0, 0, err
	}
	if err := m.WriteByte(addr, c); err != nil {
		return 0, 0, err
	}
	return addr, 1, nil
}

// EnvGet looks up the host environment variable named by the nameLen
// bytes at nameAddr, writing the result (or the empty string, if
// unset) into a fresh StrAlloc buffer bound to dstVar the same way
// StrInit/StrDup do (SPEC_FULL.md C8 [NEW] "Environment"). It reports
// whether the variable was present.
func (m *Machine) EnvGet(nameAddr, nameLen, dstVar uint16) (bool, error) {
	nameBytes, err := m.bytesAt(nameAddr, nameLen)
	if err != nil {
		return false, err
	}
	val, ok := Getenv(string(nameBytes))
	n := uint16(len(val))
	if n > m.cfg.StrAlloc {
		n = m.cfg.StrAlloc
	}
	addr, err := m.stralloc(m.cfg.StrAlloc)
	if err != nil {
		return false, err
	}
	dst, err := m.bytesAt(addr, n)
	if err != nil {
		return false, err
	}
	copy(dst, val[:n])
	if err := m.setStrHeader(dstVar, addr, n); err != nil {
		return false, err
	}
	return ok, nil
}

// StrCmp implements spec.md §4.5 strcmp: lexicographic memcmp over the
// common prefix, then sign of the length difference.
func (m *Machine) StrCmp(aData, aLen, bData, bLen uint16) (int, error) {
	n := aLen
	if bLen < n {
		n = bLen
	}
	a, err := m.bytesAt(aData, n)
	if err != nil {
		return 0, err
	}
	b, err := m.bytesAt(bData, n)
	if err != nil {
		return 0, err
	}
	for i := uint16(0); i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1, nil
			}
			return 1, nil
		}
	}
	switch {
	case aLen < bLen:
		return -1, nil
	case aLen > bLen:
		return 1, nil
	default:
		return 0, nil
	}
}

// Substring implements spec.md §4.5: 1-based start position and a
// length; out-of-range inputs yield an empty result rather than an
// error.
func (m *Machine) Substring(srcData, srcLen, start, length, dstData, dstCap uint16) (uint16, error) {
	if start < 1 || start > srcLen || length == 0 {
		return 0, nil
	}
	avail := srcLen - (start - 1)
	n := length
	if n > avail {
		n = avail
	}
	if n > dstCap {
		n = dstCap
	}
	src, err := m.bytesAt(srcData+start-1, n)
	if err != nil {
		return 0, err
	}
	dst, err := m.bytesAt(dstData, n)
	if err != nil {
		return 0, err
	}
	copy(dst, src)
	return n, nil
}

// FindSubstring implements spec.md §4.5 findSubstring: a 1-based
// position, or 0 if needle is absent.
func (m *Machine) FindSubstring(hayData, hayLen, needleData, needleLen uint16) (uint16, error) {
	if needleLen == 0 || needleLen > hayLen {
		return 0, nil
	}
	hay, err := m.bytesAt(hayData, hayLen)
	if err != nil {
		return 0, err
	}
	needle, err := m.bytesAt(needleData, needleLen)
	if err != nil {
		return 0, err
	}
	last := int(hayLen) - int(needleLen)
	for i := 0; i <= last; i++ {
		if string(hay[i:i+int(needleLen)]) == string(needle) {
			return uint16(i + 1), nil
		}
	}
	return 0, nil
}

// Insert implements spec.md §4.5 insert and resolves the Open
// Question of §9: the copy is clipped so the destination never
// exceeds its declared capacity dstCap, full stop.
func (m *Machine) Insert(srcData, srcLen, dstData, dstLenAddr, dstCap, pos uint16) error {
	curLen, err := m.ReadWord(dstLenAddr)
	if err != nil {
		return err
	}
	if pos < 1 {
		pos = 1
	}
	if pos > curLen+1 {
		pos = curLen + 1
	}
	insertAt := pos - 1

	// Clip the insertion so the result never exceeds dstCap.
	room := dstCap - curLen
	n := srcLen
	if n > room {
		n = room
	}
	if n == 0 {
		return nil
	}

	tailLen := curLen - insertAt
	newTotal := curLen + n
	if newTotal > dstCap {
		newTotal = dstCap
	}

	// Shift the tail right by n, clipped to dstCap, then copy the
	// source into the gap.
	if tailLen > 0 {
		tail, err := m.bytesAt(dstData+insertAt, tailLen)
		if err != nil {
			return err
		}
		tailCopy := append([]byte(nil), tail...)
		shiftLen := tailLen
		if insertAt+n+shiftLen > dstCap {
			shiftLen = dstCap - insertAt - n
		}
		dst, err := m.bytesAt(dstData+insertAt+n, shiftLen)
		if err != nil {
			return err
		}
		copy(dst, tailCopy[:shiftLen])
	}
	src, err := m.bytesAt(srcData, n)
	if err != nil {
		return err
	}
	dst, err := m.bytesAt(dstData+insertAt, n)
	if err != nil {
		return err
	}
	copy(dst, src)

	return m.WriteWord(dstLenAddr, newTotal)
}

// Delete implements spec.md §4.5 delete: shift the tail left to close
// a count-byte gap starting at the 1-based position pos.
func (m *Machine) Delete(dstData, dstLenAddr, pos, count uint16) error {
	curLen, err := m.ReadWord(dstLenAddr)
	if err != nil {
		return err
	}
	if pos < 1 || pos > curLen {
		return nil
	}
	start := pos - 1
	n := count
	if start+n > curLen {
		n = curLen - start
	}
	tailLen := curLen - start - n
	if tailLen > 0 {
		tail, err := m.bytesAt(dstData+start+n, tailLen)
		if err != nil {
			return err
		}
		dst, err := m.bytesAt(dstData+start, tailLen)
		if err != nil {
			return err
		}
		copy(dst, tail)
	}
	return m.WriteWord(dstLenAddr, curLen-n)
}

// BStr2Str implements spec.md §4.5 bstr2str: copy from a
// null-terminated character array into a freshly allocated string
// buffer for dstVar, with length computed via strnlen over bound.
func (m *Machine) BStr2Str(arrayAddr, bound, dstVar uint16) error {
	raw, err := m.bytesAt(arrayAddr, bound)
	if err != nil {
		return err
	}
	n := uint16(0)
	for n < bound && raw[n] != 0 {
		n++
	}
	addr, err := m.stralloc(m.cfg.StrAlloc)
	if err != nil {
		return err
	}
	clipped := n
	if clipped > m.cfg.StrAlloc {
		clipped = m.cfg.StrAlloc
	}
	dst, err := m.bytesAt(addr, clipped)
	if err != nil {
		return err
	}
	copy(dst, raw[:clipped])
	return m.setStrHeader(dstVar, addr, clipped)
}

// Str2BStr implements spec.md §4.5 str2bstr: copy the other direction,
// clipping to the destination array's bound.
func (m *Machine) Str2BStr(srcData, srcLen, arrayAddr, bound uint16) error {
	n := srcLen
	if n > bound {
		n = bound
	}
	src, err := m.bytesAt(srcData, n)
	if err != nil {
		return err
	}
	dst, err := m.bytesAt(arrayAddr, bound)
	if err != nil {
		return err
	}
	copy(dst, src)
	for i := n; i < bound; i++ {
		dst[i] = 0
	}
	return nil
}

// --- Short-string (bounded) variants left unimplemented in the
// source (spec.md §9 Open Questions): surfaced identically as NotYet. ---

func (m *Machine) SStrDup(v uint16) error                                  { return vmerr.New(vmerr.NotYet, "sstrdup") }
func (m *Machine) SStrCmp(a, b uint16) (int, error)                       { return 0, vmerr.New(vmerr.NotYet, "sstrcmp") }
func (m *Machine) SStrCmpStr(a uint16, bData, bLen uint16) (int, error)   { return 0, vmerr.New(vmerr.NotYet, "sstrcmpstr") }
func (m *Machine) StrCmpSStr(aData, aLen uint16, b uint16) (int, error)   { return 0, vmerr.New(vmerr.NotYet, "strcmpsstr") }
func (m *Machine) CStr2SStr(arrayAddr, bound, dstVar uint16) error        { return vmerr.New(vmerr.NotYet, "cstr2sstr") }
func (m *Machine) CStr2SStrX(arrayAddr, bound, dstVar, cap uint16) error  { return vmerr.New(vmerr.NotYet, "cstr2sstrx") }
func (m *Machine) SStrCatC(ch byte, dstData, dstLenAddr, dstCap uint16) error {
	return vmerr.New(vmerr.NotYet, "sstrcatc")
}
