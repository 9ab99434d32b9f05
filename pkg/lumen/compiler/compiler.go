// Package compiler wires every pipeline stage spec.md §2's diagram
// names — markdown extraction, lexer, parser, resolver, checker,
// lowerer, VM — into one driver that turns a source file into a
// runnable Program. Nothing downstream of pkg/lumen/source should ever
// be invoked by hand outside of this package and its tests.
package compiler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/check"
	"github.com/ternarybob/lumen/pkg/lumen/diag"
	"github.com/ternarybob/lumen/pkg/lumen/lower"
	"github.com/ternarybob/lumen/pkg/lumen/parser"
	"github.com/ternarybob/lumen/pkg/lumen/process"
	"github.com/ternarybob/lumen/pkg/lumen/resolve"
	"github.com/ternarybob/lumen/pkg/lumen/source"
	"github.com/ternarybob/lumen/pkg/lumen/tool"
	"github.com/ternarybob/lumen/pkg/lumen/trace"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// Options configures one Compile call. Every field has a usable zero
// value: a nil Registry dispatches to nothing but NotFound, a nil
// TraceWriter drops trace events instead of erroring, and RunID
// defaults to the source path.
type Options struct {
	RunID       string
	TraceWriter io.Writer
	Logger      arbor.ILogger
	Registry    *tool.Registry
}

// Program is one compiled Lumen module, ready to Run.
type Program struct {
	Module  *resolve.Module
	Diags   *diag.Bag
	Machine *vm.Machine
	Host    *process.Host

	deterministic bool
}

// Deterministic reports whether the compiled file declared
// `@deterministic true` (spec.md §6): the directive that governs both
// the scheduler's FIFO-vs-interleaved Spawn/Await behavior and the
// trace sink's Ts=0 rule.
func (p *Program) Deterministic() bool { return p.deterministic }

// Run invokes cellName (spec.md's compiled LIR calling convention is
// name-addressed, not entry-point-addressed: any public cell can be
// Run directly, matching how `spec.md`'s own §8 scenarios call a named
// cell like `factorial` rather than a fixed `main`).
func (p *Program) Run(cellName string, args []vm.Value) (vm.Value, error) {
	return p.Machine.Call(cellName, args)
}

// CompileFile reads path from disk and compiles it. Markdown sources
// (".lm.md"/".lumen.md", per source.IsMarkdown) are fence-extracted
// first; everything else is treated as raw Lumen source.
func CompileFile(path string, opts Options) (*Program, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	return Compile(path, contents, opts)
}

// Compile runs the full pipeline over one already-read source buffer:
// extraction -> lex -> parse -> resolve -> check -> lower -> a VM ready
// to execute the resulting LIR module.
func Compile(path string, contents []byte, opts Options) (*Program, error) {
	unit, err := source.Load(path, contents)
	if err != nil {
		return nil, fmt.Errorf("compiler: extracting %s: %w", path, err)
	}

	errs := &diag.Bag{}
	file := parser.Parse(path, unit.Canonical, errs)

	loader := newFileLoader(filepath.Dir(path), errs)
	mod := resolve.New(loader, errs).Resolve(path, file)

	check.New(mod, errs).Check()

	if errs.HasErrors() {
		return nil, &CompileError{Diags: errs.All()}
	}

	lirMod := lower.New(mod, errs).Lower()
	if errs.HasErrors() {
		return nil, &CompileError{Diags: errs.All()}
	}

	policies, err := tool.BuildPolicies(mod.Grants)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	registry := opts.Registry
	if registry == nil {
		registry = tool.NewRegistry()
	}
	dispatcher := tool.NewDispatcher(registry)
	dispatcher.SetPolicies(policies)

	runID := opts.RunID
	if runID == "" {
		runID = path
	}
	var sink *trace.Sink
	if opts.TraceWriter != nil {
		sink = trace.NewSink(opts.TraceWriter, runID, file.Deterministic, opts.Logger)
	}

	var traceSink vm.TraceSink
	if sink != nil {
		traceSink = sink
	}
	machine := vm.New(lirMod, dispatcher, traceSink)
	machine.Deterministic = file.Deterministic

	host := process.NewHost()
	host.SetCaller(machine)
	machine.SetProcessMethods(host)

	return &Program{
		Module:        mod,
		Diags:         errs,
		Machine:       machine,
		Host:          host,
		deterministic: file.Deterministic,
	}, nil
}

// CompileError reports that compilation failed before a Program could
// be produced, carrying every diagnostic collected up to that point
// rather than just the first (spec.md §4.3 "Errors are collected...
// multiple diagnostics can surface from a single pass").
type CompileError struct {
	Diags []diag.Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diags) == 0 {
		return "compile failed"
	}
	msg := e.Diags[0].String()
	if len(e.Diags) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(e.Diags)-1)
	}
	return msg
}

// newFileLoader builds a resolve.Loader that resolves an `import`
// path relative to baseDir on the local filesystem, re-running the
// same extract/lex/parse stages Compile itself uses for the root file.
// Diagnostics from an imported module's own parse accumulate into the
// same errs bag as the importing module's, matching spec.md §4.4's
// "resolver binds names... resolves imports" running as one pass
// rather than one Bag per module.
func newFileLoader(baseDir string, errs *diag.Bag) resolve.Loader {
	return func(path string) (*ast.File, error) {
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, path)
		}
		contents, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}
		unit, err := source.Load(full, contents)
		if err != nil {
			return nil, err
		}
		return parser.Parse(full, unit.Canonical, errs), nil
	}
}
