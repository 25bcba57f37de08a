// Command pvmrun loads a linked executable POFF and runs it to
// completion (C3+C9): the CLI surface's "Runner" (spec.md §6). Trap
// diagnostics are logged via zap; heap-size and instruction-trace
// knobs are read from the environment via xyproto/env/v2, mirroring the
// teacher's RTG_VM_MEM/RTG_VM_ALLOC env-gated stderr dumps.
package main

import (
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
	"go.uber.org/zap"

	"github.com/patacongo/Pascal-sub003/poff"
	"github.com/patacongo/Pascal-sub003/vm"
	"github.com/patacongo/Pascal-sub003/vmerr"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s executable.pex\n", os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}
	path := os.Args[1]

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvmrun: %s: %v\n", path, err)
		os.Exit(1)
	}
	exe := poff.New(poff.TypeExecutable)
	_, err = exe.ReadFrom(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvmrun: %s: %v\n", path, err)
		os.Exit(1)
	}

	sizes := vm.DefaultSizes
	if n := env.Int("PVMRUN_HEAP_SIZE", 0); n > 0 {
		sizes.HpSize = uint16(n)
	}

	m, err := vm.LoadExecutable(exe, sizes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvmrun: %v\n", err)
		os.Exit(1)
	}

	if env.Bool("PVMRUN_TRACE") {
		m.Trace = func(pc uint16, op uint8) {
			sugar.Debugw("step", "pc", pc, "op", op)
		}
	}

	if err := m.Run(); err != nil {
		code := vmerr.CodeOf(err)
		sugar.Errorw("trap", "code", code.String(), "pc", m.PC)
		fmt.Fprintf(os.Stderr, "pvmrun: runtime trap %s at pc=0x%04x\n", code, m.PC)
		os.Exit(1)
	}
}
