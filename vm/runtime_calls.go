package vm

import "github.com/patacongo/Pascal-sub003/vmerr"

// Float, set, library and system-I/O call numbers (spec.md §4.7/§4.6,
// §4.9 LIB/SYSIO): the immediate operand selects a runtime entry
// point; operands and results pass through the evaluation stack as
// D-space addresses, per the calling convention LA/LAS establish for
// every other frame-relative access.

const (
	FpAdd uint8 = iota
	FpSub
	FpMul
	FpDiv
	FpNeg
	FpAbs
	FpSqr
	FpSqrt
	FpSin
	FpCos
	FpArctan
	FpExp
	FpLn
	FpCompare
	FpFromInt
	FpTrunc
	FpRound
)

// execFloatOp dispatches a FLOATOP instruction. Binary/unary float ops
// take their operand addresses from the stack in (dst, a[, b]) order,
// pushed by the caller via LA/LAS; compare/convert ops push a plain
// word result.
func (m *Machine) execFloatOp(fn uint8) error {
	switch fn {
	case FpAdd, FpSub, FpMul, FpDiv:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		dst, err := m.pop()
		if err != nil {
			return err
		}
		switch fn {
		case FpAdd:
			return m.FloatAdd(dst, a, b)
		case FpSub:
			return m.FloatSub(dst, a, b)
		case FpMul:
			return m.FloatMul(dst, a, b)
		default:
			return m.FloatDiv(dst, a, b)
		}
	case FpNeg, FpAbs, FpSqr, FpSqrt, FpSin, FpCos, FpArctan, FpExp, FpLn:
		a, err := m.pop()
		if err != nil {
			return err
		}
		dst, err := m.pop()
		if err != nil {
			return err
		}
		switch fn {
		case FpNeg:
			return m.FloatNeg(dst, a)
		case FpAbs:
			return m.FloatAbs(dst, a)
		case FpSqr:
			return m.FloatSqr(dst, a)
		case FpSqrt:
			return m.FloatSqrt(dst, a)
		case FpSin:
			return m.FloatSin(dst, a)
		case FpCos:
			return m.FloatCos(dst, a)
		case FpArctan:
			return m.FloatArctan(dst, a)
		case FpExp:
			return m.FloatExp(dst, a)
		default:
			return m.FloatLn(dst, a)
		}
	case FpCompare:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		cmp, err := m.FloatCompare(a, b)
		if err != nil {
			return err
		}
		return m.pushSigned(int16(cmp))
	case FpFromInt:
		iv, err := m.popSigned()
		if err != nil {
			return err
		}
		dst, err := m.pop()
		if err != nil {
			return err
		}
		return m.FloatFromInt(dst, int64(iv))
	case FpTrunc, FpRound:
		a, err := m.pop()
		if err != nil {
			return err
		}
		var iv int64
		var err2 error
		if fn == FpTrunc {
			iv, err2 = m.FloatTrunc(a)
		} else {
			iv, err2 = m.FloatRound(a)
		}
		if err2 != nil {
			return err2
		}
		return m.pushSigned(int16(iv))
	default:
		return vmerr.New(vmerr.BadFpOpcode, "vm: unrecognized float opcode")
	}
}

const (
	SetEmptyOp uint8 = iota
	SetUnionOp
	SetIntersectionOp
	SetDifferenceOp
	SetSymDiffOp
	SetEqualOp
	SetContainsOp
	SetMemberOp
	SetIncludeOp
	SetExcludeOp
	SetCardinalityOp
	SetSingletonOp
	SetSubrangeOp
)

// execSetOp dispatches a SETOP instruction, analogous to execFloatOp.
func (m *Machine) execSetOp(fn uint8) error {
	switch fn {
	case SetEmptyOp:
		base, err := m.pop()
		if err != nil {
			return err
		}
		return m.SetEmpty(base)
	case SetUnionOp, SetIntersectionOp, SetDifferenceOp, SetSymDiffOp:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		dst, err := m.pop()
		if err != nil {
			return err
		}
		switch fn {
		case SetUnionOp:
			return m.SetUnion(dst, a, b)
		case SetIntersectionOp:
			return m.SetIntersection(dst, a, b)
		case SetDifferenceOp:
			return m.SetDifference(dst, a, b)
		default:
			return m.SetSymmetricDifference(dst, a, b)
		}
	case SetEqualOp, SetContainsOp:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		var ok bool
		if fn == SetEqualOp {
			ok, err = m.SetEqual(a, b)
		} else {
			ok, err = m.SetContains(a, b)
		}
		if err != nil {
			return err
		}
		return m.pushBool(ok)
	case SetMemberOp, SetIncludeOp, SetExcludeOp:
		elem, err := m.pop()
		if err != nil {
			return err
		}
		base, err := m.pop()
		if err != nil {
			return err
		}
		switch fn {
		case SetMemberOp:
			ok, err := m.SetMember(base, elem)
			if err != nil {
				return err
			}
			return m.pushBool(ok)
		case SetIncludeOp:
			return m.SetInclude(base, elem)
		default:
			return m.SetExclude(base, elem)
		}
	case SetCardinalityOp:
		base, err := m.pop()
		if err != nil {
			return err
		}
		n, err := m.SetCardinality(base)
		if err != nil {
			return err
		}
		return m.push(uint16(n))
	case SetSingletonOp:
		elem, err := m.pop()
		if err != nil {
			return err
		}
		base, err := m.pop()
		if err != nil {
			return err
		}
		return m.SetSingleton(base, elem)
	case SetSubrangeOp:
		hi, err := m.pop()
		if err != nil {
			return err
		}
		lo, err := m.pop()
		if err != nil {
			return err
		}
		base, err := m.pop()
		if err != nil {
			return err
		}
		return m.SetSubrange(base, lo, hi)
	default:
		return vmerr.New(vmerr.BadSetOpcode, "vm: unrecognized set opcode")
	}
}

func (m *Machine) pushBool(b bool) error {
	if b {
		return m.push(1)
	}
	return m.push(0)
}

const (
	LibStrInit uint16 = iota
	LibStrCopy
	LibStrCat
	LibStrCatChar
	LibStrDup
	LibStrCmp
	LibFindSubstring
	LibSubstring
	LibInsert
	LibDelete
	LibGetenv
)

// execLib dispatches a LIB instruction: the Pascal runtime support
// library (string engine and miscellaneous helpers not folded into a
// dedicated opcode, spec.md §4.9).
func (m *Machine) execLib(fn uint16) error {
	switch fn {
	case LibStrInit:
		v, err := m.pop()
		if err != nil {
			return err
		}
		return m.StrInit(v)
	case LibStrCopy:
		dstVar, err := m.pop()
		if err != nil {
			return err
		}
		dstCap, err := m.pop()
		if err != nil {
			return err
		}
		dstData, err := m.pop()
		if err != nil {
			return err
		}
		srcLen, err := m.pop()
		if err != nil {
			return err
		}
		srcData, err := m.pop()
		if err != nil {
			return err
		}
		return m.StrCopy(srcData, srcLen, dstData, dstCap, dstVar)
	case LibStrCat:
		dstCap, err := m.pop()
		if err != nil {
			return err
		}
		dstLenAddr, err := m.pop()
		if err != nil {
			return err
		}
		dstData, err := m.pop()
		if err != nil {
			return err
		}
		srcLen, err := m.pop()
		if err != nil {
			return err
		}
		srcData, err := m.pop()
		if err != nil {
			return err
		}
		return m.StrCat(srcData, srcLen, dstData, dstLenAddr, dstCap)
	case LibStrCatChar:
		dstCap, err := m.pop()
		if err != nil {
			return err
		}
		dstLenAddr, err := m.pop()
		if err != nil {
			return err
		}
		dstData, err := m.pop()
		if err != nil {
			return err
		}
		ch, err := m.pop()
		if err != nil {
			return err
		}
		return m.StrCatChar(byte(ch), dstData, dstLenAddr, dstCap)
	case LibStrDup:
		v, err := m.pop()
		if err != nil {
			return err
		}
		return m.StrDup(v)
	case LibStrCmp:
		bLen, err := m.pop()
		if err != nil {
			return err
		}
		bData, err := m.pop()
		if err != nil {
			return err
		}
		aLen, err := m.pop()
		if err != nil {
			return err
		}
		aData, err := m.pop()
		if err != nil {
			return err
		}
		cmp, err := m.StrCmp(aData, aLen, bData, bLen)
		if err != nil {
			return err
		}
		return m.pushSigned(int16(cmp))
	case LibFindSubstring:
		needleLen, err := m.pop()
		if err != nil {
			return err
		}
		needleData, err := m.pop()
		if err != nil {
			return err
		}
		hayLen, err := m.pop()
		if err != nil {
			return err
		}
		hayData, err := m.pop()
		if err != nil {
			return err
		}
		pos, err := m.FindSubstring(hayData, hayLen, needleData, needleLen)
		if err != nil {
			return err
		}
		return m.push(pos)
	case LibSubstring:
		dstCap, err := m.pop()
		if err != nil {
			return err
		}
		dstData, err := m.pop()
		if err != nil {
			return err
		}
		length, err := m.pop()
		if err != nil {
			return err
		}
		start, err := m.pop()
		if err != nil {
			return err
		}
		srcLen, err := m.pop()
		if err != nil {
			return err
		}
		srcData, err := m.pop()
		if err != nil {
			return err
		}
		n, err := m.Substring(srcData, srcLen, start, length, dstData, dstCap)
		if err != nil {
			return err
		}
		return m.push(n)
	case LibInsert:
		pos, err := m.pop()
		if err != nil {
			return err
		}
		dstCap, err := m.pop()
		if err != nil {
			return err
		}
		dstLenAddr, err := m.pop()
		if err != nil {
			return err
		}
		dstData, err := m.pop()
		if err != nil {
			return err
		}
		srcLen, err := m.pop()
		if err != nil {
			return err
		}
		srcData, err := m.pop()
		if err != nil {
			return err
		}
		return m.Insert(srcData, srcLen, dstData, dstLenAddr, dstCap, pos)
	case LibDelete:
		count, err := m.pop()
		if err != nil {
			return err
		}
		pos, err := m.pop()
		if err != nil {
			return err
		}
		dstLenAddr, err := m.pop()
		if err != nil {
			return err
		}
		dstData, err := m.pop()
		if err != nil {
			return err
		}
		return m.Delete(dstData, dstLenAddr, pos, count)
	case LibGetenv:
		dstVar, err := m.pop()
		if err != nil {
			return err
		}
		nameLen, err := m.pop()
		if err != nil {
			return err
		}
		nameAddr, err := m.pop()
		if err != nil {
			return err
		}
		ok, err := m.EnvGet(nameAddr, nameLen, dstVar)
		if err != nil {
			return err
		}
		return m.pushBool(ok)
	default:
		return vmerr.New(vmerr.BadSysLibCall, "vm: unrecognized library call")
	}
}

const (
	SysIOReadInteger uint16 = iota
	SysIOReadChar
	SysIOReadReal
	SysIOWriteInteger
	SysIOWriteChar
	SysIOWriteReal
	SysIOWriteString
	SysIOWriteNewline
	SysIOEof
	SysIOEoln
	SysIOAllocateFile
	SysIOFreeFile
	SysIOAssignFile
	SysIOOpenFile
	SysIOCloseFile
	SysIOSetRecordSize
	SysIOReadBinary
	SysIOWriteBinary
	SysIOReadString
	SysIOWriteLongInteger
	SysIOWriteWord
	SysIOWriteLongWord
	SysIOFilePos
	SysIOFileSize
	SysIOSeek
	SysIOSeekEof
	SysIOSeekEoln
)

// decodeFieldWidth splits a text-write SYSIO call's width argument
// into its field-width and precision bytes (spec.md §4.8 "encoded as
// two bytes of the width argument"): low byte is width, high byte is
// precision. A zero precision byte means "unspecified" and is
// reported as -1, letting WriteReal fall back to its natural
// (shortest round-tripping) representation.
func decodeFieldWidth(arg uint16) (width, precision int) {
	width = int(arg & 0xFF)
	precision = int(arg >> 8)
	if precision == 0 {
		precision = -1
	}
	return width, precision
}

// execSysio dispatches a SYSIO instruction: buffered text/binary file
// operations against the file table (spec.md §4.8/§4.9). Every call
// that takes a file handle finds it as the top-of-stack operand pushed
// by the caller; SysIOAllocateFile takes none and pushes the new one.
func (m *Machine) execSysio(fn uint16) error {
	switch fn {
	case SysIOReadInteger:
		h, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.files.ReadInteger(h)
		if err != nil {
			return err
		}
		return m.pushSigned(int16(v))
	case SysIOReadChar:
		h, err := m.pop()
		if err != nil {
			return err
		}
		c, err := m.files.ReadChar(h)
		if err != nil {
			return err
		}
		return m.push(uint16(c))
	case SysIOReadReal:
		h, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.files.ReadReal(h)
		if err != nil {
			return err
		}
		dst, err := m.pop()
		if err != nil {
			return err
		}
		return m.writeFloat(dst, v)
	case SysIOWriteInteger:
		h, err := m.pop()
		if err != nil {
			return err
		}
		widthArg, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.popSigned()
		if err != nil {
			return err
		}
		width, _ := decodeFieldWidth(widthArg)
		return m.files.WriteInteger(h, int64(v), width)
	case SysIOWriteChar:
		h, err := m.pop()
		if err != nil {
			return err
		}
		widthArg, err := m.pop()
		if err != nil {
			return err
		}
		c, err := m.pop()
		if err != nil {
			return err
		}
		width, _ := decodeFieldWidth(widthArg)
		return m.files.WriteChar(h, byte(c), width)
	case SysIOWriteReal:
		h, err := m.pop()
		if err != nil {
			return err
		}
		widthArg, err := m.pop()
		if err != nil {
			return err
		}
		src, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.readFloat(src)
		if err != nil {
			return err
		}
		width, precision := decodeFieldWidth(widthArg)
		return m.files.WriteReal(h, v, width, precision)
	case SysIOWriteString:
		h, err := m.pop()
		if err != nil {
			return err
		}
		widthArg, err := m.pop()
		if err != nil {
			return err
		}
		length, err := m.pop()
		if err != nil {
			return err
		}
		addr, err := m.pop()
		if err != nil {
			return err
		}
		data, err := m.Bytes(addr, int(length))
		if err != nil {
			return err
		}
		width, _ := decodeFieldWidth(widthArg)
		return m.files.WriteString(h, string(data), width)
	case SysIOWriteNewline:
		h, err := m.pop()
		if err != nil {
			return err
		}
		return m.files.WriteNewline(h)
	case SysIOEof:
		h, err := m.pop()
		if err != nil {
			return err
		}
		ok, err := m.files.Eof(h)
		if err != nil {
			return err
		}
		return m.pushBool(ok)
	case SysIOEoln:
		h, err := m.pop()
		if err != nil {
			return err
		}
		ok, err := m.files.Eoln(h)
		if err != nil {
			return err
		}
		return m.pushBool(ok)
	case SysIOAllocateFile:
		h, err := m.files.AllocateFile()
		if err != nil {
			return err
		}
		return m.push(h)
	case SysIOFreeFile:
		h, err := m.pop()
		if err != nil {
			return err
		}
		return m.files.FreeFile(h)
	case SysIOAssignFile:
		h, err := m.pop()
		if err != nil {
			return err
		}
		nameLen, err := m.pop()
		if err != nil {
			return err
		}
		nameAddr, err := m.pop()
		if err != nil {
			return err
		}
		data, err := m.Bytes(nameAddr, int(nameLen))
		if err != nil {
			return err
		}
		return m.files.AssignFile(h, string(data))
	case SysIOOpenFile:
		h, err := m.pop()
		if err != nil {
			return err
		}
		isTextV, err := m.pop()
		if err != nil {
			return err
		}
		forWritingV, err := m.pop()
		if err != nil {
			return err
		}
		nameLen, err := m.pop()
		if err != nil {
			return err
		}
		nameAddr, err := m.pop()
		if err != nil {
			return err
		}
		data, err := m.Bytes(nameAddr, int(nameLen))
		if err != nil {
			return err
		}
		return m.files.OpenFile(h, string(data), forWritingV != 0, isTextV != 0)
	case SysIOCloseFile:
		h, err := m.pop()
		if err != nil {
			return err
		}
		return m.files.CloseFile(h)
	case SysIOSetRecordSize:
		h, err := m.pop()
		if err != nil {
			return err
		}
		size, err := m.pop()
		if err != nil {
			return err
		}
		return m.files.SetRecordSize(h, size)
	case SysIOReadBinary:
		h, err := m.pop()
		if err != nil {
			return err
		}
		length, err := m.pop()
		if err != nil {
			return err
		}
		destAddr, err := m.pop()
		if err != nil {
			return err
		}
		buf := make([]byte, int(length))
		n, err := m.files.ReadBinary(h, buf)
		if err != nil {
			return err
		}
		dst, err := m.Bytes(destAddr, n)
		if err != nil {
			return err
		}
		copy(dst, buf[:n])
		return m.push(uint16(n))
	case SysIOWriteBinary:
		h, err := m.pop()
		if err != nil {
			return err
		}
		length, err := m.pop()
		if err != nil {
			return err
		}
		srcAddr, err := m.pop()
		if err != nil {
			return err
		}
		data, err := m.Bytes(srcAddr, int(length))
		if err != nil {
			return err
		}
		n, err := m.files.WriteBinary(h, data)
		if err != nil {
			return err
		}
		return m.push(uint16(n))
	case SysIOReadString:
		h, err := m.pop()
		if err != nil {
			return err
		}
		dstLenAddr, err := m.pop()
		if err != nil {
			return err
		}
		dstCap, err := m.pop()
		if err != nil {
			return err
		}
		dstData, err := m.pop()
		if err != nil {
			return err
		}
		tok, err := m.files.ReadString(h, int(dstCap))
		if err != nil {
			return err
		}
		dst, err := m.Bytes(dstData, len(tok))
		if err != nil {
			return err
		}
		copy(dst, tok)
		return m.WriteWord(dstLenAddr, uint16(len(tok)))
	case SysIOWriteLongInteger:
		h, err := m.pop()
		if err != nil {
			return err
		}
		widthArg, err := m.pop()
		if err != nil {
			return err
		}
		srcAddr, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.readLong(srcAddr)
		if err != nil {
			return err
		}
		width, _ := decodeFieldWidth(widthArg)
		return m.files.WriteLongInteger(h, v, width)
	case SysIOWriteWord:
		h, err := m.pop()
		if err != nil {
			return err
		}
		widthArg, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.pop()
		if err != nil {
			return err
		}
		width, _ := decodeFieldWidth(widthArg)
		return m.files.WriteWord(h, v, width)
	case SysIOWriteLongWord:
		h, err := m.pop()
		if err != nil {
			return err
		}
		widthArg, err := m.pop()
		if err != nil {
			return err
		}
		srcAddr, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.readLongWord(srcAddr)
		if err != nil {
			return err
		}
		width, _ := decodeFieldWidth(widthArg)
		return m.files.WriteLongWord(h, v, width)
	case SysIOFilePos:
		h, err := m.pop()
		if err != nil {
			return err
		}
		dstAddr, err := m.pop()
		if err != nil {
			return err
		}
		pos, err := m.files.FilePos(h)
		if err != nil {
			return err
		}
		return m.writeLong(dstAddr, pos)
	case SysIOFileSize:
		h, err := m.pop()
		if err != nil {
			return err
		}
		dstAddr, err := m.pop()
		if err != nil {
			return err
		}
		size, err := m.files.FileSize(h)
		if err != nil {
			return err
		}
		return m.writeLong(dstAddr, size)
	case SysIOSeek:
		h, err := m.pop()
		if err != nil {
			return err
		}
		srcAddr, err := m.pop()
		if err != nil {
			return err
		}
		pos, err := m.readLong(srcAddr)
		if err != nil {
			return err
		}
		return m.files.Seek(h, pos)
	case SysIOSeekEof:
		h, err := m.pop()
		if err != nil {
			return err
		}
		return m.files.SeekEof(h)
	case SysIOSeekEoln:
		h, err := m.pop()
		if err != nil {
			return err
		}
		return m.files.SeekEoln(h)
	default:
		return vmerr.New(vmerr.BadSysIoFunc, "vm: unrecognized system I/O function")
	}
}
