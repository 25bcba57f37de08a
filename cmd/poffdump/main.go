// Command poffdump prints a human-readable summary of a POFF object
// or executable (header, sections, symbols, relocations, line
// numbers, disassembly) via poff.File.Dump — an introspection tool in
// the teacher's tools/build.go small-CLI-wrapping-a-library style.
package main

import (
	"fmt"
	"os"

	"github.com/patacongo/Pascal-sub003/poff"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s file.o|file.pex\n", os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}
	path := os.Args[1]

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poffdump: %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	obj := poff.New(poff.TypeUnit)
	if _, err := obj.ReadFrom(f); err != nil {
		fmt.Fprintf(os.Stderr, "poffdump: %s: %v\n", path, err)
		os.Exit(1)
	}

	if err := obj.Dump(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "poffdump: %v\n", err)
		os.Exit(1)
	}
}
