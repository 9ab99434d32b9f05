package ast

import "github.com/ternarybob/lumen/pkg/lumen/token"

// TypeExpr is the AST-level representation of a type annotation, prior to
// resolution into a types.Type (spec.md §3).
type TypeExpr interface {
	Node
	typeExprNode()
}

// NamedTypeExpr is a scalar, record/enum reference, or a generic
// instantiation `Name[Args...]`. Unresolved generics surface as
// TypeRef(name, args) per spec.md §3 until the checker substitutes them.
type NamedTypeExpr struct {
	SpanVal token.Span
	Name    string
	Args    []TypeExpr
}

func (t *NamedTypeExpr) Span() token.Span { return t.SpanVal }
func (*NamedTypeExpr) typeExprNode()      {}

// OptionalTypeExpr is `T?`, desugaring to `T | Null`.
type OptionalTypeExpr struct {
	SpanVal token.Span
	Inner   TypeExpr
}

func (t *OptionalTypeExpr) Span() token.Span { return t.SpanVal }
func (*OptionalTypeExpr) typeExprNode()      {}

// UnionTypeExpr is `A | B | ...`.
type UnionTypeExpr struct {
	SpanVal token.Span
	Members []TypeExpr
}

func (t *UnionTypeExpr) Span() token.Span { return t.SpanVal }
func (*UnionTypeExpr) typeExprNode()      {}

// ListTypeExpr is `list[T]`.
type ListTypeExpr struct {
	SpanVal token.Span
	Elem    TypeExpr
}

func (t *ListTypeExpr) Span() token.Span { return t.SpanVal }
func (*ListTypeExpr) typeExprNode()      {}

// MapTypeExpr is `map[K, V]`.
type MapTypeExpr struct {
	SpanVal    token.Span
	Key, Value TypeExpr
}

func (t *MapTypeExpr) Span() token.Span { return t.SpanVal }
func (*MapTypeExpr) typeExprNode()      {}

// SetTypeExpr is `set[T]`.
type SetTypeExpr struct {
	SpanVal token.Span
	Elem    TypeExpr
}

func (t *SetTypeExpr) Span() token.Span { return t.SpanVal }
func (*SetTypeExpr) typeExprNode()      {}

// TupleTypeExpr is `(A, B, ...)`.
type TupleTypeExpr struct {
	SpanVal token.Span
	Elems   []TypeExpr
}

func (t *TupleTypeExpr) Span() token.Span { return t.SpanVal }
func (*TupleTypeExpr) typeExprNode()      {}

// ResultTypeExpr is `result[Ok, Err]`.
type ResultTypeExpr struct {
	SpanVal token.Span
	Ok, Err TypeExpr
}

func (t *ResultTypeExpr) Span() token.Span { return t.SpanVal }
func (*ResultTypeExpr) typeExprNode()      {}

// FnTypeExpr is a first-class function type, including its effect row.
type FnTypeExpr struct {
	SpanVal token.Span
	Params  []TypeExpr
	Return  TypeExpr
	Effects *EffectRow
}

func (t *FnTypeExpr) Span() token.Span { return t.SpanVal }
func (*FnTypeExpr) typeExprNode()      {}

// AnyTypeExpr is the recovery-only sentinel type.
type AnyTypeExpr struct {
	SpanVal token.Span
}

func (t *AnyTypeExpr) Span() token.Span { return t.SpanVal }
func (*AnyTypeExpr) typeExprNode()      {}
