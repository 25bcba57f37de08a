package vm

import (
	"github.com/patacongo/Pascal-sub003/poff"
	"github.com/patacongo/Pascal-sub003/vmerr"
)

// Sizes are the caller-tunable region sizes used by LoadExecutable
// when building a Machine's Config from a linked executable (spec.md
// §4.3). Zero fields fall back to DefaultSizes.
type Sizes struct {
	StrSize  uint16
	StkSize  uint16
	HpSize   uint16
	StrAlloc uint16
}

// DefaultSizes mirrors the teacher's std/compiler/backend_vm.go
// default stack/heap budget, scaled to this VM's 64KiB D-space.
var DefaultSizes = Sizes{
	StrSize:  4096,
	StkSize:  16384,
	HpSize:   16384,
	StrAlloc: 256,
}

// LoadExecutable builds a ready-to-run Machine from a linked POFF
// executable file (spec.md §6 "the linker's output loads directly
// into the VM").
func LoadExecutable(f *poff.File, sizes Sizes) (*Machine, error) {
	if f.FileType() != poff.TypeExecutable {
		return nil, vmerr.New(vmerr.BadFormat, "vm: not a linked executable")
	}
	if sizes.StrSize == 0 {
		sizes.StrSize = DefaultSizes.StrSize
	}
	if sizes.StkSize == 0 {
		sizes.StkSize = DefaultSizes.StkSize
	}
	if sizes.HpSize == 0 {
		sizes.HpSize = DefaultSizes.HpSize
	}
	if sizes.StrAlloc == 0 {
		sizes.StrAlloc = DefaultSizes.StrAlloc
	}
	rodata := f.RoData()
	cfg := Config{
		StrSize:    sizes.StrSize,
		RoSize:     uint16(len(rodata)),
		StkSize:    sizes.StkSize,
		HpSize:     sizes.HpSize,
		StrAlloc:   sizes.StrAlloc,
		EntryPoint: f.EntryPoint(),
		Program:    f.Program(),
		RoData:     rodata,
	}
	return New(cfg)
}
