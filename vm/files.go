package vm

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/patacongo/Pascal-sub003/vmerr"
)

// maxOpenFiles bounds the file table (spec.md §4.8); slots 0 and 1 are
// permanently bound to the program's standard input and output.
const maxOpenFiles = 32

const (
	StdInHandle  = 0
	StdOutHandle = 1
)

type fileSlot struct {
	inUse      bool
	assigned   string // name bound by AssignFile, pending OpenFile
	name       string
	f          *os.File
	reader     *bufio.Reader
	writer     *bufio.Writer
	isText     bool
	forWriting bool
	recordSize uint16
	permanent  bool // stdin/stdout: never freed
}

// FileTable is the VM's buffered file table (spec.md §4.8), giving
// Pascal programs a small fixed set of file variables backed by Go's
// os/bufio machinery, grounded on the teacher's parallel-slice
// descriptor table in std/compiler/backend_vm.go.
type FileTable struct {
	slots [maxOpenFiles]fileSlot
}

func newFileTable() *FileTable {
	ft := &FileTable{}
	ft.slots[StdInHandle] = fileSlot{inUse: true, permanent: true, isText: true, f: os.Stdin, reader: bufio.NewReader(os.Stdin)}
	ft.slots[StdOutHandle] = fileSlot{inUse: true, permanent: true, isText: true, forWriting: true, f: os.Stdout, writer: bufio.NewWriter(os.Stdout)}
	return ft
}

func (ft *FileTable) slot(handle uint16) (*fileSlot, error) {
	if int(handle) >= maxOpenFiles {
		return nil, vmerr.New(vmerr.BadFile, "vm: file handle out of range")
	}
	s := &ft.slots[handle]
	if !s.inUse {
		return nil, vmerr.New(vmerr.BadFile, "vm: file handle not allocated")
	}
	return s, nil
}

// AllocateFile reserves the lowest-numbered free slot above the
// permanently bound stdin/stdout pair.
func (ft *FileTable) AllocateFile() (uint16, error) {
	for i := 2; i < maxOpenFiles; i++ {
		if !ft.slots[i].inUse {
			ft.slots[i] = fileSlot{inUse: true}
			return uint16(i), nil
		}
	}
	return 0, vmerr.New(vmerr.TooManyFiles, "vm: file table exhausted")
}

// FreeFile closes handle if open and returns its slot to the pool.
func (ft *FileTable) FreeFile(handle uint16) error {
	s, err := ft.slot(handle)
	if err != nil {
		return err
	}
	if s.permanent {
		return vmerr.New(vmerr.InternalError, "vm: cannot free stdin/stdout")
	}
	if s.f != nil {
		ft.closeSlot(s)
	}
	*s = fileSlot{}
	return nil
}

// AssignFile binds a filename to handle, to be opened by a later call
// to OpenFile (spec.md §4.8 assign/reset/rewrite split).
func (ft *FileTable) AssignFile(handle uint16, name string) error {
	s, err := ft.slot(handle)
	if err != nil {
		return err
	}
	s.assigned = name
	return nil
}

func (ft *FileTable) closeSlot(s *fileSlot) {
	if s.writer != nil {
		_ = s.writer.Flush()
	}
	if s.f != nil && !s.permanent {
		_ = s.f.Close()
	}
}

// OpenFile opens the name previously bound by AssignFile (or name
// itself if AssignFile was never called) for reading or writing, as a
// text or untyped/binary file.
func (ft *FileTable) OpenFile(handle uint16, name string, forWriting, isText bool) error {
	s, err := ft.slot(handle)
	if err != nil {
		return err
	}
	if name == "" {
		name = s.assigned
	}
	var f *os.File
	if forWriting {
		f, err = os.Create(name)
	} else {
		f, err = os.Open(name)
	}
	if err != nil {
		return vmerr.Wrap(vmerr.OpenFailed, "vm: open file", err)
	}
	s.f = f
	s.name = name
	s.isText = isText
	s.forWriting = forWriting
	if forWriting {
		s.writer = bufio.NewWriter(f)
	} else {
		s.reader = bufio.NewReader(f)
	}
	return nil
}

// CloseFile flushes and closes handle without freeing its slot.
func (ft *FileTable) CloseFile(handle uint16) error {
	s, err := ft.slot(handle)
	if err != nil {
		return err
	}
	if s.permanent {
		if s.writer != nil {
			return s.writer.Flush()
		}
		return nil
	}
	ft.closeSlot(s)
	s.f, s.reader, s.writer = nil, nil, nil
	return nil
}

// SetRecordSize configures the element size of an untyped (binary)
// file, per spec.md §4.8.
func (ft *FileTable) SetRecordSize(handle uint16, size uint16) error {
	s, err := ft.slot(handle)
	if err != nil {
		return err
	}
	s.recordSize = size
	return nil
}

// ReadBinary fills buf from handle's underlying reader, returning the
// number of bytes actually read.
func (ft *FileTable) ReadBinary(handle uint16, buf []byte) (int, error) {
	s, err := ft.slot(handle)
	if err != nil {
		return 0, err
	}
	if s.reader == nil {
		return 0, vmerr.New(vmerr.BadFile, "vm: file not open for reading")
	}
	n, err := io.ReadFull(s.reader, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, vmerr.Wrap(vmerr.ReadError, "vm: binary read", err)
	}
	return n, nil
}

// WriteBinary writes buf to handle's underlying writer.
func (ft *FileTable) WriteBinary(handle uint16, buf []byte) (int, error) {
	s, err := ft.slot(handle)
	if err != nil {
		return 0, err
	}
	if s.writer == nil {
		return 0, vmerr.New(vmerr.BadFile, "vm: file not open for writing")
	}
	n, err := s.writer.Write(buf)
	if err != nil {
		return n, vmerr.Wrap(vmerr.WriteError, "vm: binary write", err)
	}
	return n, nil
}

// --- Text I/O (spec.md §4.8) ---

func (ft *FileTable) textSlot(handle uint16, forWriting bool) (*fileSlot, error) {
	s, err := ft.slot(handle)
	if err != nil {
		return nil, err
	}
	if forWriting {
		if s.writer == nil {
			return nil, vmerr.New(vmerr.BadFile, "vm: file not open for writing")
		}
	} else if s.reader == nil {
		return nil, vmerr.New(vmerr.BadFile, "vm: file not open for reading")
	}
	return s, nil
}

func skipBlanks(r *bufio.Reader) {
	for {
		b, err := r.Peek(1)
		if err != nil || (b[0] != ' ' && b[0] != '\t') {
			return
		}
		_, _ = r.ReadByte()
	}
}

func readToken(r *bufio.Reader) string {
	skipBlanks(r)
	var sb strings.Builder
	for {
		b, err := r.Peek(1)
		if err != nil {
			break
		}
		c := b[0]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			break
		}
		sb.WriteByte(c)
		_, _ = r.ReadByte()
	}
	return sb.String()
}

// ReadInteger parses a decimal integer token from handle's text input.
func (ft *FileTable) ReadInteger(handle uint16) (int64, error) {
	s, err := ft.textSlot(handle, false)
	if err != nil {
		return 0, err
	}
	tok := readToken(s.reader)
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, vmerr.Wrap(vmerr.ReadError, "vm: read(integer)", err)
	}
	return v, nil
}

// ReadReal parses a floating-point token from handle's text input.
func (ft *FileTable) ReadReal(handle uint16) (float64, error) {
	s, err := ft.textSlot(handle, false)
	if err != nil {
		return 0, err
	}
	tok := readToken(s.reader)
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, vmerr.Wrap(vmerr.ReadError, "vm: read(real)", err)
	}
	return v, nil
}

// ReadChar reads a single character, including whitespace, without
// skipping (Pascal read(c) reads exactly one character).
func (ft *FileTable) ReadChar(handle uint16) (byte, error) {
	s, err := ft.textSlot(handle, false)
	if err != nil {
		return 0, err
	}
	b, err := s.reader.ReadByte()
	if err != nil {
		if err == io.EOF {
			return 0, vmerr.New(vmerr.ReadFailed, "vm: read(char) at end of file")
		}
		return 0, vmerr.Wrap(vmerr.ReadError, "vm: read(char)", err)
	}
	return b, nil
}

// ReadString reads up to maxLen non-whitespace characters as a
// blank/newline-delimited token, spec.md §4.8.
func (ft *FileTable) ReadString(handle uint16, maxLen int) (string, error) {
	s, err := ft.textSlot(handle, false)
	if err != nil {
		return "", err
	}
	tok := readToken(s.reader)
	if maxLen > 0 && len(tok) > maxLen {
		tok = tok[:maxLen]
	}
	return tok, nil
}

// WriteInteger, WriteLongInteger, WriteWord, WriteLongWord, WriteChar,
// WriteReal and WriteString implement the family of text write
// primitives (spec.md §4.8); the distinct entry points mirror distinct
// SYSIO sub-functions but share padField for field widths here. Each
// takes a field width; zero means the natural width (no padding).
// Fields narrower than their value are never truncated, only ones
// wider than the formatted value get space-padded (spec.md §4.8
// "Formatting": "strings are right-justified with space padding when
// field width > string length" — applied uniformly to every write
// primitive here, not just writeString).

// padField right-justifies s to width with leading spaces when width
// exceeds len(s); s is returned unchanged otherwise.
func padField(s string, width int) string {
	if width > len(s) {
		return strings.Repeat(" ", width-len(s)) + s
	}
	return s
}

func (ft *FileTable) WriteInteger(handle uint16, v int64, width int) error {
	return ft.writeText(handle, padField(strconv.FormatInt(v, 10), width))
}

func (ft *FileTable) WriteLongInteger(handle uint16, v int64, width int) error {
	return ft.writeText(handle, padField(strconv.FormatInt(v, 10), width))
}

func (ft *FileTable) WriteWord(handle uint16, v uint16, width int) error {
	return ft.writeText(handle, padField(strconv.FormatUint(uint64(v), 10), width))
}

func (ft *FileTable) WriteLongWord(handle uint16, v uint32, width int) error {
	return ft.writeText(handle, padField(strconv.FormatUint(uint64(v), 10), width))
}

func (ft *FileTable) WriteChar(handle uint16, c byte, width int) error {
	return ft.writeText(handle, padField(string(c), width))
}

// WriteReal formats v with precision fractional digits (a negative
// precision falls back to the shortest round-tripping representation,
// matching WriteReal's previous unconditional 'g' formatting) then
// pads to width (spec.md §4.8 "reals accept width and precision").
func (ft *FileTable) WriteReal(handle uint16, v float64, width, precision int) error {
	var s string
	if precision >= 0 {
		s = strconv.FormatFloat(v, 'f', precision, 64)
	} else {
		s = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return ft.writeText(handle, padField(s, width))
}

func (ft *FileTable) WriteString(handle uint16, str string, width int) error {
	return ft.writeText(handle, padField(str, width))
}

func (ft *FileTable) WriteNewline(handle uint16) error {
	return ft.writeText(handle, "\n")
}

func (ft *FileTable) writeText(handle uint16, s string) error {
	slot, err := ft.textSlot(handle, true)
	if err != nil {
		return err
	}
	if _, err := slot.writer.WriteString(s); err != nil {
		return vmerr.Wrap(vmerr.WriteError, "vm: text write", err)
	}
	return nil
}

// --- Queries ---

// Eof reports whether handle's reader has been exhausted.
func (ft *FileTable) Eof(handle uint16) (bool, error) {
	s, err := ft.textSlot(handle, false)
	if err != nil {
		return false, err
	}
	_, err = s.reader.Peek(1)
	return err == io.EOF, nil
}

// Eoln reports whether the next unread character is a newline, or eof
// has been reached (Pascal eoln semantics).
func (ft *FileTable) Eoln(handle uint16) (bool, error) {
	s, err := ft.textSlot(handle, false)
	if err != nil {
		return false, err
	}
	b, err := s.reader.Peek(1)
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, vmerr.Wrap(vmerr.ReadError, "vm: eoln", err)
	}
	return b[0] == '\n', nil
}

// FilePos returns the current byte offset of handle's underlying file.
func (ft *FileTable) FilePos(handle uint16) (int64, error) {
	s, err := ft.slot(handle)
	if err != nil {
		return 0, err
	}
	if s.f == nil {
		return 0, vmerr.New(vmerr.BadFile, "vm: file not open")
	}
	pos, err := s.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, vmerr.Wrap(vmerr.ReadError, "vm: filepos", err)
	}
	buffered := 0
	if s.reader != nil {
		buffered = s.reader.Buffered()
	}
	return pos - int64(buffered), nil
}

// FileSize returns the total size of handle's underlying file.
func (ft *FileTable) FileSize(handle uint16) (int64, error) {
	s, err := ft.slot(handle)
	if err != nil {
		return 0, err
	}
	if s.f == nil {
		return 0, vmerr.New(vmerr.BadFile, "vm: file not open")
	}
	info, err := s.f.Stat()
	if err != nil {
		return 0, vmerr.Wrap(vmerr.ReadError, "vm: filesize", err)
	}
	return info.Size(), nil
}

// Seek repositions handle's underlying file to byte offset pos and
// resets buffering.
func (ft *FileTable) Seek(handle uint16, pos int64) error {
	s, err := ft.slot(handle)
	if err != nil {
		return err
	}
	if s.f == nil {
		return vmerr.New(vmerr.BadFile, "vm: file not open")
	}
	if _, err := s.f.Seek(pos, io.SeekStart); err != nil {
		return vmerr.Wrap(vmerr.ReadError, "vm: seek", err)
	}
	if s.reader != nil {
		s.reader.Reset(s.f)
	}
	return nil
}

// SeekEof repositions handle at end of file.
func (ft *FileTable) SeekEof(handle uint16) error {
	s, err := ft.slot(handle)
	if err != nil {
		return err
	}
	if s.f == nil {
		return vmerr.New(vmerr.BadFile, "vm: file not open")
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return vmerr.Wrap(vmerr.ReadError, "vm: seekeof", err)
	}
	if s.reader != nil {
		s.reader.Reset(s.f)
	}
	return nil
}

// SeekEoln advances handle past the remainder of the current line.
func (ft *FileTable) SeekEoln(handle uint16) error {
	s, err := ft.textSlot(handle, false)
	if err != nil {
		return err
	}
	for {
		b, err := s.reader.Peek(1)
		if err != nil {
			return nil
		}
		if b[0] == '\n' {
			return nil
		}
		if _, err := s.reader.ReadByte(); err != nil {
			return nil
		}
	}
}

// Flush flushes every open writer, used at program end.
func (ft *FileTable) Flush() {
	for i := range ft.slots {
		if ft.slots[i].writer != nil {
			_ = ft.slots[i].writer.Flush()
		}
	}
}

// Getenv exposes the host environment to the LIB-level runtime support
// call LibGetenv (SPEC_FULL.md C8 [NEW]), using xyproto/env/v2 for typed
// access with an explicit presence flag.
func Getenv(name string) (string, bool) {
	if !env.Has(name) {
		return "", false
	}
	return env.Str(name, ""), true
}
