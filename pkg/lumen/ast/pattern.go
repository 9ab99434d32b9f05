package ast

import "github.com/ternarybob/lumen/pkg/lumen/token"

// Pattern is implemented by every pattern node, shared across let/for/match
// destructuring (spec.md §4.3).
type Pattern interface {
	Node
	patternNode()
}

// WildcardPattern is `_`.
type WildcardPattern struct {
	SpanVal token.Span
}

func (p *WildcardPattern) Span() token.Span { return p.SpanVal }
func (*WildcardPattern) patternNode()       {}

// IdentPattern binds the matched value to a new name.
type IdentPattern struct {
	SpanVal token.Span
	Name    string
}

func (p *IdentPattern) Span() token.Span { return p.SpanVal }
func (*IdentPattern) patternNode()       {}

// LiteralPattern matches an exact scalar value.
type LiteralPattern struct {
	SpanVal token.Span
	Value   Expr // IntLit, FloatLit, StringLit, BoolLit, NullLit
}

func (p *LiteralPattern) Span() token.Span { return p.SpanVal }
func (*LiteralPattern) patternNode()       {}

// TuplePattern destructures a tuple.
type TuplePattern struct {
	SpanVal token.Span
	Elems   []Pattern
}

func (p *TuplePattern) Span() token.Span { return p.SpanVal }
func (*TuplePattern) patternNode()       {}

// ListPattern destructures a list, optionally with a `...rest` tail.
type ListPattern struct {
	SpanVal token.Span
	Elems   []Pattern
	Rest    string // empty when there is no rest binding
	HasRest bool
}

func (p *ListPattern) Span() token.Span { return p.SpanVal }
func (*ListPattern) patternNode()       {}

// FieldPattern is one field binding inside a RecordPattern.
type FieldPattern struct {
	Name    string
	Pattern Pattern
}

// RecordPattern destructures named fields of a record.
type RecordPattern struct {
	SpanVal  token.Span
	TypeName string // empty when inferred from context
	Fields   []FieldPattern
}

func (p *RecordPattern) Span() token.Span { return p.SpanVal }
func (*RecordPattern) patternNode()       {}

// VariantPattern matches an enum variant, with positional or named payload
// bindings.
type VariantPattern struct {
	SpanVal     token.Span
	EnumName    string // empty when inferred from the subject's type
	VariantName string
	Positional  []Pattern
	Named       []FieldPattern
}

func (p *VariantPattern) Span() token.Span { return p.SpanVal }
func (*VariantPattern) patternNode()       {}

// OrPattern is `p1 | p2 | ...`; every alternative must bind identical
// variable names (spec.md §4.6).
type OrPattern struct {
	SpanVal      token.Span
	Alternatives []Pattern
}

func (p *OrPattern) Span() token.Span { return p.SpanVal }
func (*OrPattern) patternNode()       {}

// TypedPattern is `v: T`, binding v only when the subject matches T (used
// for union-type exhaustiveness per spec.md §4.5).
type TypedPattern struct {
	SpanVal token.Span
	Name    string
	Type    TypeExpr
}

func (p *TypedPattern) Span() token.Span { return p.SpanVal }
func (*TypedPattern) patternNode()       {}
