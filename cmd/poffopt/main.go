// Command poffopt runs the peephole optimizer (package optimizer) over
// a linked executable POFF in place: PUSHS/POPS bracket elision and
// load/store index folding (spec.md §1, §9). Argument parsing mirrors
// the teacher's std/compiler/main.go hand-rolled os.Args loop.
package main

import (
	"fmt"
	"os"

	"github.com/patacongo/Pascal-sub003/optimizer"
	"github.com/patacongo/Pascal-sub003/poff"
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

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poffopt: %s: %v\n", path, err)
		os.Exit(1)
	}
	exe := poff.New(poff.TypeExecutable)
	_, err = exe.ReadFrom(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "poffopt: %s: %v\n", path, err)
		os.Exit(1)
	}

	optimized, newEntry, err := optimizer.OptimizeProgram(exe.ExtractProgramData(), exe.EntryPoint())
	if err != nil {
		fmt.Fprintf(os.Stderr, "poffopt: %v\n", err)
		os.Exit(1)
	}
	exe.AddOpcode(optimized)
	exe.SetEntryPoint(newEntry)

	out, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poffopt: %s: %v\n", path, err)
		os.Exit(1)
	}
	defer out.Close()
	if _, err := exe.WriteTo(out); err != nil {
		fmt.Fprintf(os.Stderr, "poffopt: %s: %v\n", path, err)
		os.Exit(1)
	}
}
