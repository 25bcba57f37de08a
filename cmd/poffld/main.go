// Command poffld is the thin CLI wrapper around package linker (C10):
// it reads one or more POFF object files, links them into a single
// executable POFF, and writes the result. Argument parsing mirrors
// the teacher's std/compiler/main.go: a hand-rolled os.Args loop, not
// a flag-package CLI, since the teacher's own entrypoint does not use
// one either.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/patacongo/Pascal-sub003/linker"
	"github.com/patacongo/Pascal-sub003/poff"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-o output.pex] input1.o [input2.o ...]\n", os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	outputPath := "a.pex"
	var inputs []string
	i := 1
	for i < len(os.Args) {
		switch os.Args[i] {
		case "-o":
			if i+1 >= len(os.Args) {
				usage()
			}
			outputPath = os.Args[i+1]
			i += 2
		default:
			inputs = append(inputs, os.Args[i])
			i++
		}
	}
	if len(inputs) == 0 {
		usage()
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	linker.Logger = logger.Sugar()

	var objects []*poff.File
	for _, path := range inputs {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "poffld: %s: %v\n", path, err)
			os.Exit(1)
		}
		obj := poff.New(poff.TypeUnit)
		_, err = obj.ReadFrom(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "poffld: %s: %v\n", path, err)
			os.Exit(1)
		}
		objects = append(objects, obj)
	}

	exe, err := linker.Link(objects)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poffld: %v\n", err)
		os.Exit(1)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poffld: %s: %v\n", outputPath, err)
		os.Exit(1)
	}
	defer out.Close()
	if _, err := exe.WriteTo(out); err != nil {
		fmt.Fprintf(os.Stderr, "poffld: %s: %v\n", outputPath, err)
		os.Exit(1)
	}
}
