// Package ast defines the Lumen abstract syntax tree produced by the
// parser, per spec.md §3 and §4.3. Every node carries a source Span.
package ast

import "github.com/ternarybob/lumen/pkg/lumen/token"

// Node is implemented by every AST node.
type Node interface {
	Span() token.Span
}

// File is the root of a parsed compilation unit.
type File struct {
	Path       string
	Strict     bool
	Deterministic bool
	DocMode    bool
	Version    string
	Items      []Item
}

func (f *File) Span() token.Span {
	if len(f.Items) == 0 {
		return token.Span{}
	}
	return token.Span{Start: f.Items[0].Span().Start, End: f.Items[len(f.Items)-1].Span().End}
}

// Item is a top-level declaration.
type Item interface {
	Node
	itemNode()
}

// Param is a function/cell parameter.
type Param struct {
	SpanVal  token.Span
	Name     string
	Type     TypeExpr
	Default  Expr
	Variadic bool
}

func (p *Param) Span() token.Span { return p.SpanVal }

// TypeParam is a generic type parameter, optionally bounded (`T: Bound`).
type TypeParam struct {
	SpanVal token.Span
	Name    string
	Bound   TypeExpr
}

func (p *TypeParam) Span() token.Span { return p.SpanVal }

// EffectRow is an unordered set of effect symbol names on a cell or
// function type signature.
type EffectRow struct {
	SpanVal token.Span
	Names   []string
	// Declared is false when a cell omits "/ {...}" entirely, distinct
	// from an explicit empty row "/ {}".
	Declared bool
}

func (e *EffectRow) Span() token.Span { return e.SpanVal }

// Contains reports whether name is present in the row.
func (e *EffectRow) Contains(name string) bool {
	if e == nil {
		return false
	}
	for _, n := range e.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Field is a record field declaration.
type Field struct {
	SpanVal token.Span
	Name    string
	Type    TypeExpr
	Default Expr
	Where   Expr
}

func (f *Field) Span() token.Span { return f.SpanVal }

// RecordDecl declares a record (struct-like) type.
type RecordDecl struct {
	SpanVal    token.Span
	Pub        bool
	Name       string
	TypeParams []*TypeParam
	Fields     []*Field
}

func (d *RecordDecl) Span() token.Span { return d.SpanVal }
func (*RecordDecl) itemNode()          {}

// EnumVariant is one constructor of an enum.
type EnumVariant struct {
	SpanVal token.Span
	Name    string
	Fields  []*Field // positional or named payload fields; empty for unit variants
}

func (v *EnumVariant) Span() token.Span { return v.SpanVal }

// EnumDecl declares a sum type.
type EnumDecl struct {
	SpanVal    token.Span
	Pub        bool
	Name       string
	TypeParams []*TypeParam
	Variants   []*EnumVariant
}

func (d *EnumDecl) Span() token.Span { return d.SpanVal }
func (*EnumDecl) itemNode()          {}

// CellDecl declares a named function with an optional effect row.
type CellDecl struct {
	SpanVal    token.Span
	Pub        bool
	Name       string
	TypeParams []*TypeParam
	Params     []*Param
	Return     TypeExpr
	Effects    *EffectRow
	Body       *Block

	// InferredEffects is filled in by the resolver.
	InferredEffects []string
}

func (d *CellDecl) Span() token.Span { return d.SpanVal }
func (*CellDecl) itemNode()          {}

// EffectDecl declares an effect symbol as a first-class name.
type EffectDecl struct {
	SpanVal token.Span
	Name    string
}

func (d *EffectDecl) Span() token.Span { return d.SpanVal }
func (*EffectDecl) itemNode()          {}

// HandlerDecl is parsed but rejected at lowering per spec.md §9 (effect
// handlers are out of scope for the core).
type HandlerDecl struct {
	SpanVal token.Span
	Name    string
	Body    *Block
}

func (d *HandlerDecl) Span() token.Span { return d.SpanVal }
func (*HandlerDecl) itemNode()          {}

// TraitDecl declares a trait (interface-like constraint).
type TraitDecl struct {
	SpanVal token.Span
	Pub     bool
	Name    string
	Methods []*CellSig
}

func (d *TraitDecl) Span() token.Span { return d.SpanVal }
func (*TraitDecl) itemNode()          {}

// CellSig is a bodiless cell signature, used inside trait declarations.
type CellSig struct {
	SpanVal token.Span
	Name    string
	Params  []*Param
	Return  TypeExpr
	Effects *EffectRow
}

func (s *CellSig) Span() token.Span { return s.SpanVal }

// ImplDecl implements a trait for a concrete type.
type ImplDecl struct {
	SpanVal token.Span
	Trait   string
	Type    TypeExpr
	Cells   []*CellDecl
}

func (d *ImplDecl) Span() token.Span { return d.SpanVal }
func (*ImplDecl) itemNode()          {}

// TypeAliasDecl declares `type Name = T`.
type TypeAliasDecl struct {
	SpanVal    token.Span
	Pub        bool
	Name       string
	TypeParams []*TypeParam
	Underlying TypeExpr
}

func (d *TypeAliasDecl) Span() token.Span { return d.SpanVal }
func (*TypeAliasDecl) itemNode()          {}

// ConstDecl declares a top-level constant.
type ConstDecl struct {
	SpanVal token.Span
	Pub     bool
	Name    string
	Type    TypeExpr
	Value   Expr
}

func (d *ConstDecl) Span() token.Span { return d.SpanVal }
func (*ConstDecl) itemNode()          {}

// ImportDecl imports names from another module path.
type ImportDecl struct {
	SpanVal token.Span
	Path    string
	Names   []string // empty means "import everything public"
}

func (d *ImportDecl) Span() token.Span { return d.SpanVal }
func (*ImportDecl) itemNode()          {}

// MacroDecl captures a macro's body without expanding it (spec.md §9).
type MacroDecl struct {
	SpanVal token.Span
	Name    string
	Params  []*Param
	Body    *Block
}

func (d *MacroDecl) Span() token.Span { return d.SpanVal }
func (*MacroDecl) itemNode()          {}

// ProcessKind distinguishes the built-in process constructors.
type ProcessKind string

const (
	ProcessMemory   ProcessKind = "memory"
	ProcessMachine  ProcessKind = "machine"
	ProcessPipeline ProcessKind = "pipeline"
)

// ProcessState is one named state of a `machine` process, with its
// typed parameters.
type ProcessState struct {
	SpanVal token.Span
	Name    string
	Params  []*Param
}

func (s *ProcessState) Span() token.Span { return s.SpanVal }

// ProcessDecl declares a constructor-backed process runtime type.
type ProcessDecl struct {
	SpanVal    token.Span
	Pub        bool
	Kind       ProcessKind
	Name       string
	TypeParams []*TypeParam
	ItemType   TypeExpr // element type for memory
	States     []*ProcessState
	Initial    string
}

func (d *ProcessDecl) Span() token.Span { return d.SpanVal }
func (*ProcessDecl) itemNode()          {}

// ToolUseDecl introduces a local alias for an externally dispatched tool.
type ToolUseDecl struct {
	SpanVal token.Span
	Path    string
	Alias   string
}

func (d *ToolUseDecl) Span() token.Span { return d.SpanVal }
func (*ToolUseDecl) itemNode()          {}

// GrantDecl attaches a policy constraint to a tool alias.
type GrantDecl struct {
	SpanVal    token.Span
	Alias      string
	Constraint string
	Value      Expr
}

func (d *GrantDecl) Span() token.Span { return d.SpanVal }
func (*GrantDecl) itemNode()          {}

// BindEffectDecl binds an effect name to a tool alias, per spec.md §4.4.
type BindEffectDecl struct {
	SpanVal token.Span
	Effect  string
	Alias   string
}

func (d *BindEffectDecl) Span() token.Span { return d.SpanVal }
func (*BindEffectDecl) itemNode()          {}

// Block is a sequence of statements under shared indentation.
type Block struct {
	SpanVal token.Span
	Stmts   []Stmt
}

func (b *Block) Span() token.Span { return b.SpanVal }
