// Package main is the Lumen CLI entry point: a one-shot compiler/runner,
// adapted from cmd/iter/main.go's hand-rolled os.Args switch (no
// external CLI framework, matching the teacher's own choice).
//
// Usage:
//
//	lumen compile <file>                 - compile only, report diagnostics
//	lumen run <file> [cell] [args...]    - compile and run a cell (default "main")
//	lumen trace <file> [cell]            - run and print the JSONL trace to stdout
//	lumen watch <file> [cell]            - recompile and rerun on every save
//	lumen version                        - print the build version
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lumen/internal/watch"
	"github.com/ternarybob/lumen/pkg/lumen/compiler"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "compile":
		err = cmdCompile(args)
	case "run":
		err = cmdRun(args)
	case "trace":
		err = cmdTrace(args)
	case "watch":
		err = cmdWatch(args)
	case "version", "-v", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a failure onto spec.md §6's exit-code contract: 1
// for compile errors, 2 for runtime errors, 3 for tool-policy
// violations surfaced as an Err(String) carrying "PolicyViolation" --
// the VM has no richer error classification at the Value level (see
// exec.go's callTool, which always wraps a ProviderError as a plain
// string), so a substring check is the only signal available here.
func exitCodeFor(err error) int {
	if _, ok := err.(*compiler.CompileError); ok {
		return 1
	}
	if strings.Contains(err.Error(), "PolicyViolation") {
		return 3
	}
	return 2
}

func cmdCompile(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lumen compile <file>")
	}
	_, err := compiler.CompileFile(args[0], compiler.Options{})
	if err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdRun(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lumen run <file> [cell] [args...]")
	}
	path := args[0]
	cell := "main"
	rest := args[1:]
	if len(rest) > 0 {
		cell = rest[0]
		rest = rest[1:]
	}

	prog, err := compiler.CompileFile(path, compiler.Options{Logger: arbor.NewLogger()})
	if err != nil {
		return err
	}

	result, err := prog.Run(cell, parseCallArgs(rest))
	if err != nil {
		return err
	}
	fmt.Println(result.String())
	if result.Kind == vm.KUnion && result.Union.Tag == "Err" {
		return fmt.Errorf("%s", result.Union.Inner.String())
	}
	return nil
}

func cmdTrace(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lumen trace <file> [cell]")
	}
	path := args[0]
	cell := "main"
	if len(args) > 1 {
		cell = args[1]
	}

	prog, err := compiler.CompileFile(path, compiler.Options{TraceWriter: os.Stdout, RunID: path})
	if err != nil {
		return err
	}
	_, err = prog.Run(cell, nil)
	return err
}

func cmdWatch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lumen watch <file> [cell]")
	}
	path := args[0]
	cell := "main"
	if len(args) > 1 {
		cell = args[1]
	}

	log := arbor.NewLogger()
	w, err := watch.New(path, compiler.Options{Logger: log}, 0, log)
	if err != nil {
		return err
	}
	w.OnRecompile = func(prog *compiler.Program, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "recompile failed: %v\n", err)
			return
		}
		result, err := prog.Run(cell, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			return
		}
		fmt.Println(result.String())
	}
	if err := w.Start(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", path)
	select {}
}

// parseCallArgs interprets each CLI argument as an Int, Float, or
// String value in that preference order -- there is no type
// information available at this boundary, so numeric-looking
// arguments are never treated as strings.
func parseCallArgs(args []string) []vm.Value {
	out := make([]vm.Value, 0, len(args))
	for _, a := range args {
		if n, err := strconv.ParseInt(a, 10, 64); err == nil {
			out = append(out, vm.Int(n))
			continue
		}
		if f, err := strconv.ParseFloat(a, 64); err == nil {
			out = append(out, vm.Float(f))
			continue
		}
		out = append(out, vm.String(a))
	}
	return out
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `lumen - a Markdown-embedded, effect-tracked language

Usage:
  lumen compile <file>
  lumen run <file> [cell] [args...]
  lumen trace <file> [cell]
  lumen watch <file> [cell]
  lumen version`)
}
