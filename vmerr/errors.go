// Package vmerr defines the flat error-code taxonomy shared by the
// object container, linker, and P-code virtual machine.
package vmerr

import "fmt"

// Code is a small integer status code. Sub-handlers throughout the
// container, linker, and VM return an *Error carrying a Code instead
// of panicking; the dispatcher's fetch loop halts on the first error.
type Code int

const (
	NoError Code = iota

	// Termination (not an error).
	Exit

	// Container.
	NoMemory
	BadFormat
	ReadError
	WriteError

	// Link.
	UndefinedSymbol
	MultiplyDefinedSymbol
	BadRelocation
	ExtraRelocations

	// VM control.
	BadPC
	IllegalOpcode
	BadSP
	NestingLevel

	// VM data.
	IntOverflow
	ValueRange
	BadFpOpcode
	BadSetOpcode
	BadSysLibCall
	BadSysIoFunc

	// VM memory.
	StringStackOverflow
	NewFailed
	DoubleFree
	InternalError

	// VM file.
	BadFile
	FileNotInUse
	TooManyFiles
	FileNotOpen
	FileAlreadyOpen
	BadOpenMode
	OpenFailed
	NotOpenForRead
	ReadFailed
	NotOpenForWrite
	WriteFailed
	SeekFailed
	TellFailed

	// Unimplemented (spec.md §9 stubs: short-string variants).
	NotYet
)

var names = map[Code]string{
	NoError:               "noError",
	Exit:                  "exit",
	NoMemory:              "noMemory",
	BadFormat:             "badFormat",
	ReadError:             "readError",
	WriteError:            "writeError",
	UndefinedSymbol:       "undefinedSymbol",
	MultiplyDefinedSymbol: "multiplyDefinedSymbol",
	BadRelocation:         "badRelocation",
	ExtraRelocations:      "extraRelocations",
	BadPC:                 "badPc",
	IllegalOpcode:         "illegalOpcode",
	BadSP:                 "badSp",
	NestingLevel:          "nestingLevel",
	IntOverflow:           "intOverflow",
	ValueRange:            "valueRange",
	BadFpOpcode:           "badFpOpcode",
	BadSetOpcode:          "badSetOpcode",
	BadSysLibCall:         "badSysLibCall",
	BadSysIoFunc:          "badSysIoFunc",
	StringStackOverflow:   "stringStackOverflow",
	NewFailed:             "newFailed",
	DoubleFree:            "doubleFree",
	InternalError:         "internalError",
	BadFile:               "badFile",
	FileNotInUse:          "fileNotInUse",
	TooManyFiles:          "tooManyFiles",
	FileNotOpen:           "fileNotOpen",
	FileAlreadyOpen:       "fileAlreadyOpen",
	BadOpenMode:           "badOpenMode",
	OpenFailed:            "openFailed",
	NotOpenForRead:        "notOpenForRead",
	ReadFailed:            "readFailed",
	NotOpenForWrite:       "notOpenForWrite",
	WriteFailed:           "writeFailed",
	SeekFailed:            "seekFailed",
	TellFailed:            "tellFailed",
	NotYet:                "notYet",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error wraps a Code as a Go error, optionally carrying a causal error
// (e.g. the underlying os.PathError for a failed openFile).
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Code, so callers
// can write errors.Is(err, vmerr.New(vmerr.BadPC, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the Code from err, returning InternalError if err is
// not a *Error (should not happen for errors originated in this
// module, but keeps callers total).
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var e *Error
	if as(err, &e) {
		return e.Code
	}
	return InternalError
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
