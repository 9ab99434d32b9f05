// Package resolve binds names, resolves imports, and infers per-cell
// effect rows, per spec.md §4.4.
package resolve

import (
	"sort"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/diag"
)

// builtinEffects names the built-in nondeterministic primitives that
// carry an implicit effect even when called directly, without a tool
// alias or bind-effect declaration (spec.md §4.4.3).
var builtinEffects = map[string]string{
	"uuid":         "random",
	"uuid_v4":      "random",
	"random":       "random",
	"random_int":   "random",
	"timestamp":    "time",
	"timestamp_ms": "time",
}

// Symbol is one resolved top-level binding.
type Symbol struct {
	Name   string
	Pub    bool
	Item   ast.Item
	Module string // empty for the local module
}

// Module is a resolved compilation unit: its own symbol table plus the
// imports it pulled in, keyed by local alias.
type Module struct {
	Path    string
	File    *ast.File
	Symbols map[string]*Symbol

	// ToolAliases maps a local `use tool` alias to its dotted path.
	ToolAliases map[string]string
	// EffectBindings maps a tool alias to the effect name it was bound
	// to via `bind effect e to alias` (spec.md §4.4).
	EffectBindings map[string]string
	// Grants maps a tool alias to its attached policy constraints.
	Grants map[string][]*ast.GrantDecl
}

// Loader resolves an import path to a parsed File, supplied by the
// compiler driver (spec.md §4.4 leaves module storage to the host).
type Loader func(path string) (*ast.File, error)

// Resolver binds a set of modules together, detecting import cycles and
// computing effect rows.
type Resolver struct {
	load    Loader
	errs    *diag.Bag
	modules map[string]*Module
	visit   map[string]int // 0=unvisited, 1=visiting, 2=done, used for cycle detection
}

func New(load Loader, errs *diag.Bag) *Resolver {
	return &Resolver{
		load:    load,
		errs:    errs,
		modules: map[string]*Module{},
		visit:   map[string]int{},
	}
}

// Resolve resolves the root file at path and every module it transitively
// imports, returning the root Module.
func (r *Resolver) Resolve(path string, file *ast.File) *Module {
	return r.resolveModule(path, file)
}

func (r *Resolver) resolveModule(path string, file *ast.File) *Module {
	if m, ok := r.modules[path]; ok {
		return m
	}
	switch r.visit[path] {
	case 1:
		r.errs.Errorf(file.Span(), diag.CodeImportCycle, "import cycle detected at %q", path)
		return nil
	case 2:
		return r.modules[path]
	}
	r.visit[path] = 1

	m := &Module{
		Path:           path,
		File:           file,
		Symbols:        map[string]*Symbol{},
		ToolAliases:    map[string]string{},
		EffectBindings: map[string]string{},
		Grants:         map[string][]*ast.GrantDecl{},
	}
	r.modules[path] = m

	for _, item := range file.Items {
		r.bindItem(m, item)
	}

	for _, item := range file.Items {
		imp, ok := item.(*ast.ImportDecl)
		if !ok {
			continue
		}
		r.resolveImport(m, imp)
	}

	for _, fn := range collectCells(file) {
		r.inferEffects(m, fn)
	}

	r.visit[path] = 2
	return m
}

func (r *Resolver) bindItem(m *Module, item ast.Item) {
	switch d := item.(type) {
	case *ast.ToolUseDecl:
		m.ToolAliases[d.Alias] = d.Path
	case *ast.GrantDecl:
		m.Grants[d.Alias] = append(m.Grants[d.Alias], d)
	case *ast.BindEffectDecl:
		m.EffectBindings[d.Alias] = d.Effect
	}

	name, pub := itemName(item)
	if name == "" {
		return
	}
	if existing, ok := m.Symbols[name]; ok {
		r.errs.Errorf(item.Span(), diag.CodeDuplicateDefinition,
			"%q is already defined at %s", name, existing.Item.Span())
		return
	}
	m.Symbols[name] = &Symbol{Name: name, Pub: pub, Item: item}
}

func itemName(item ast.Item) (name string, pub bool) {
	switch d := item.(type) {
	case *ast.RecordDecl:
		return d.Name, d.Pub
	case *ast.EnumDecl:
		return d.Name, d.Pub
	case *ast.CellDecl:
		return d.Name, d.Pub
	case *ast.EffectDecl:
		return d.Name, true
	case *ast.TraitDecl:
		return d.Name, d.Pub
	case *ast.TypeAliasDecl:
		return d.Name, d.Pub
	case *ast.ConstDecl:
		return d.Name, d.Pub
	case *ast.MacroDecl:
		return d.Name, true
	case *ast.ProcessDecl:
		return d.Name, d.Pub
	case *ast.ToolUseDecl:
		return "use:" + d.Alias, false
	case *ast.GrantDecl:
		return "", false // grants attach to an alias, not a new name
	case *ast.BindEffectDecl:
		return "", false
	}
	return "", false
}

func (r *Resolver) resolveImport(m *Module, imp *ast.ImportDecl) {
	if r.load == nil {
		return
	}
	f, err := r.load(imp.Path)
	if err != nil {
		r.errs.Errorf(imp.Span(), diag.CodeImportNotFound, "cannot find module %q: %v", imp.Path, err)
		return
	}
	sub := r.resolveModule(imp.Path, f)
	if sub == nil {
		return
	}
	names := imp.Names
	if len(names) == 0 {
		for n, sym := range sub.Symbols {
			if sym.Pub {
				names = append(names, n)
			}
		}
		sort.Strings(names)
	}
	for _, n := range names {
		sym, ok := sub.Symbols[n]
		if !ok {
			r.errs.Errorf(imp.Span(), diag.CodeUnresolvedSymbol, "module %q has no export %q", imp.Path, n)
			r.errs.Suggest(n, exportedNames(sub))
			continue
		}
		if !sym.Pub {
			r.errs.Errorf(imp.Span(), diag.CodePrivateAccess, "%q is not public in module %q", n, imp.Path)
			continue
		}
		m.Symbols[n] = &Symbol{Name: n, Pub: false, Item: sym.Item, Module: imp.Path}
	}
}

func exportedNames(m *Module) []string {
	var out []string
	for n, sym := range m.Symbols {
		if sym.Pub {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func collectCells(file *ast.File) []*ast.CellDecl {
	var out []*ast.CellDecl
	for _, item := range file.Items {
		switch d := item.(type) {
		case *ast.CellDecl:
			out = append(out, d)
		case *ast.ImplDecl:
			out = append(out, d.Cells...)
		}
	}
	return out
}

// inferEffects computes the set of effect symbols a cell body performs,
// via tool calls bound to effects (spec.md §4.4) and nested spawn/await.
// It writes the result to cell.InferredEffects and, when the cell
// declares an explicit row, checks it against that row.
func (r *Resolver) inferEffects(m *Module, cell *ast.CellDecl) {
	seen := map[string]bool{}
	var walkExpr func(ast.Expr)
	var walkStmt func(ast.Stmt)

	addEffectForCallee := func(callee ast.Expr) {
		id, ok := callee.(*ast.Ident)
		if !ok {
			return
		}
		if eff, ok := m.EffectBindings[id.Name]; ok {
			seen[eff] = true
			return
		}
		if eff, ok := builtinEffects[id.Name]; ok {
			seen[eff] = true
		}
	}

	walkExpr = func(e ast.Expr) {
		if e == nil {
			return
		}
		switch x := e.(type) {
		case *ast.CallExpr:
			addEffectForCallee(x.Callee)
			walkExpr(x.Callee)
			for _, a := range x.Args {
				walkExpr(a.Value)
			}
		case *ast.SpawnExpr:
			walkExpr(x.Call)
		case *ast.AwaitExpr:
			walkExpr(x.X)
		case *ast.BinaryExpr:
			walkExpr(x.X)
			walkExpr(x.Y)
		case *ast.UnaryExpr:
			walkExpr(x.X)
		case *ast.RangeExpr:
			walkExpr(x.From)
			walkExpr(x.To)
		case *ast.FieldExpr:
			walkExpr(x.X)
		case *ast.IndexExpr:
			walkExpr(x.X)
			walkExpr(x.Index)
		case *ast.TryExpr:
			walkExpr(x.X)
		case *ast.NullAssertExpr:
			walkExpr(x.X)
		case *ast.NullCoalesceExpr:
			walkExpr(x.X)
			walkExpr(x.Default)
		case *ast.CastExpr:
			walkExpr(x.X)
		case *ast.IsExpr:
			walkExpr(x.X)
		case *ast.IfExpr:
			walkExpr(x.Cond)
			walkExpr(x.Then)
			walkExpr(x.Else)
		case *ast.MatchExpr:
			walkExpr(x.Subject)
			for _, arm := range x.Arms {
				walkExpr(arm.Guard)
				walkExpr(arm.Body)
			}
		case *ast.BlockExpr:
			walkBlock(x.Block, walkStmt)
		case *ast.LambdaExpr:
			walkExpr(x.Body)
		case *ast.PipeExpr:
			walkExpr(x.X)
			walkExpr(x.Call)
		case *ast.ComposeExpr:
			walkExpr(x.F)
			walkExpr(x.G)
		case *ast.ForComprehension:
			walkExpr(x.Iter)
			walkExpr(x.Filter)
			walkExpr(x.Body)
		case *ast.ListExpr:
			for _, el := range x.Elems {
				walkExpr(el)
			}
		case *ast.SetExpr:
			for _, el := range x.Elems {
				walkExpr(el)
			}
		case *ast.TupleExpr:
			for _, el := range x.Elems {
				walkExpr(el)
			}
		case *ast.MapExpr:
			for _, en := range x.Entries {
				walkExpr(en.Key)
				walkExpr(en.Value)
			}
		case *ast.RecordExpr:
			for _, a := range x.Args {
				walkExpr(a.Value)
			}
		case *ast.StringLit:
			for _, part := range x.Parts {
				walkExpr(part.Expr)
			}
		}
	}

	walkStmt = func(s ast.Stmt) {
		if s == nil {
			return
		}
		switch x := s.(type) {
		case *ast.LetStmt:
			walkExpr(x.Value)
		case *ast.AssignStmt:
			walkExpr(x.Target)
			walkExpr(x.Value)
		case *ast.ExprStmt:
			walkExpr(x.X)
		case *ast.ReturnStmt:
			walkExpr(x.Value)
		case *ast.IfStmt:
			walkExpr(x.Cond)
			walkBlock(x.Then, walkStmt)
			walkBlock(x.Else, walkStmt)
		case *ast.ForStmt:
			walkExpr(x.Iter)
			walkExpr(x.Filter)
			walkBlock(x.Body, walkStmt)
		case *ast.WhileStmt:
			walkExpr(x.Cond)
			walkBlock(x.Body, walkStmt)
		case *ast.LoopStmt:
			walkBlock(x.Body, walkStmt)
		case *ast.MatchStmt:
			walkExpr(x.Subject)
			for _, arm := range x.Arms {
				walkExpr(arm.Guard)
				walkExpr(arm.Body)
			}
		case *ast.DeferStmt:
			walkBlock(x.Body, walkStmt)
		case *ast.HaltStmt:
			walkExpr(x.Message)
		}
	}

	walkBlock(cell.Body, walkStmt)

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	cell.InferredEffects = names

	if cell.Effects != nil && cell.Effects.Declared {
		for _, n := range names {
			if !cell.Effects.Contains(n) {
				r.errs.Errorf(cell.Span(), diag.CodeUndeclaredEffect,
					"cell %q performs effect %q but its declared row does not include it", cell.Name, n)
			}
		}
	}
	if m.File.Deterministic {
		for _, n := range names {
			if n == "random" || n == "time" || n == "external" {
				r.errs.Errorf(cell.Span(), diag.CodeDeterministicViolation,
					"cell %q performs non-deterministic effect %q in a @deterministic module", cell.Name, n)
			}
		}
	}
}

func walkBlock(b *ast.Block, walkStmt func(ast.Stmt)) {
	if b == nil {
		return
	}
	for _, s := range b.Stmts {
		walkStmt(s)
	}
}
