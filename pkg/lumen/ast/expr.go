package ast

import "github.com/ternarybob/lumen/pkg/lumen/token"

// Expr is implemented by every expression node.
type Expr interface {
	Node
	exprNode()
}

// Ident is a bare identifier reference, resolved by the name resolver.
type Ident struct {
	SpanVal token.Span
	Name    string
}

func (e *Ident) Span() token.Span { return e.SpanVal }
func (*Ident) exprNode()          {}

// IntLit is an integer literal.
type IntLit struct {
	SpanVal token.Span
	Value   int64
}

func (e *IntLit) Span() token.Span { return e.SpanVal }
func (*IntLit) exprNode()          {}

// FloatLit is a floating-point literal.
type FloatLit struct {
	SpanVal token.Span
	Value   float64
}

func (e *FloatLit) Span() token.Span { return e.SpanVal }
func (*FloatLit) exprNode()          {}

// BoolLit is a boolean literal.
type BoolLit struct {
	SpanVal token.Span
	Value   bool
}

func (e *BoolLit) Span() token.Span { return e.SpanVal }
func (*BoolLit) exprNode()          {}

// NullLit is the null literal.
type NullLit struct {
	SpanVal token.Span
}

func (e *NullLit) Span() token.Span { return e.SpanVal }
func (*NullLit) exprNode()          {}

// BytesLit is a `b"..."` literal; Value holds the decoded bytes.
type BytesLit struct {
	SpanVal token.Span
	Value   []byte
}

func (e *BytesLit) Span() token.Span { return e.SpanVal }
func (*BytesLit) exprNode()          {}

// StringPart is one chunk of an interpolated string: either literal text
// or an embedded expression.
type StringPart struct {
	Literal string
	Expr    Expr // nil for a literal-only part
}

// StringLit is a (possibly interpolated) string literal.
type StringLit struct {
	SpanVal token.Span
	Parts   []StringPart
	Raw     bool
}

func (e *StringLit) Span() token.Span { return e.SpanVal }
func (*StringLit) exprNode()          {}

// ListExpr constructs a list value.
type ListExpr struct {
	SpanVal token.Span
	Elems   []Expr
}

func (e *ListExpr) Span() token.Span { return e.SpanVal }
func (*ListExpr) exprNode()          {}

// MapEntry is one key/value pair in a map literal.
type MapEntry struct {
	Key   Expr
	Value Expr
}

// MapExpr constructs a map value.
type MapExpr struct {
	SpanVal token.Span
	Entries []MapEntry
}

func (e *MapExpr) Span() token.Span { return e.SpanVal }
func (*MapExpr) exprNode()          {}

// SetExpr constructs a set value.
type SetExpr struct {
	SpanVal token.Span
	Elems   []Expr
}

func (e *SetExpr) Span() token.Span { return e.SpanVal }
func (*SetExpr) exprNode()          {}

// TupleExpr constructs a tuple value.
type TupleExpr struct {
	SpanVal token.Span
	Elems   []Expr
}

func (e *TupleExpr) Span() token.Span { return e.SpanVal }
func (*TupleExpr) exprNode()          {}

// RecordArg is one argument in a record construction or call, either
// named (`x: expr`) or positional.
type RecordArg struct {
	Name  string // empty for positional args
	Value Expr
}

// RecordExpr constructs a record value; shares syntax with CallExpr until
// name resolution disambiguates (spec.md §4.3).
type RecordExpr struct {
	SpanVal token.Span
	Type    TypeExpr
	Args    []RecordArg
}

func (e *RecordExpr) Span() token.Span { return e.SpanVal }
func (*RecordExpr) exprNode()          {}

// UnaryOp identifies a prefix operator.
type UnaryOp int

const (
	UnaryNeg UnaryOp = iota
	UnaryNot
	UnaryBitNot
)

// UnaryExpr is a prefix-operator expression.
type UnaryExpr struct {
	SpanVal token.Span
	Op      UnaryOp
	X       Expr
}

func (e *UnaryExpr) Span() token.Span { return e.SpanVal }
func (*UnaryExpr) exprNode()          {}

// BinaryOp identifies an infix operator.
type BinaryOp int

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinFloorDiv
	BinMod
	BinPow
	BinBitAnd
	BinBitOr
	BinBitXor
	BinShl
	BinShr
	BinEq
	BinNeq
	BinLt
	BinLe
	BinGt
	BinGe
	BinAnd
	BinOr
	BinConcat
	BinNullCo
	BinIn
)

// BinaryExpr is an infix-operator expression.
type BinaryExpr struct {
	SpanVal token.Span
	Op      BinaryOp
	X, Y    Expr
}

func (e *BinaryExpr) Span() token.Span { return e.SpanVal }
func (*BinaryExpr) exprNode()          {}

// RangeExpr is `a..b` or `a..=b`.
type RangeExpr struct {
	SpanVal   token.Span
	From, To  Expr
	Inclusive bool
}

func (e *RangeExpr) Span() token.Span { return e.SpanVal }
func (*RangeExpr) exprNode()          {}

// CallExpr applies a function/cell value to arguments.
type CallExpr struct {
	SpanVal token.Span
	Callee  Expr
	Args    []RecordArg
}

func (e *CallExpr) Span() token.Span { return e.SpanVal }
func (*CallExpr) exprNode()          {}

// FieldExpr is `x.field`.
type FieldExpr struct {
	SpanVal token.Span
	X       Expr
	Field   string
	Opt     bool // true for `?.`
}

func (e *FieldExpr) Span() token.Span { return e.SpanVal }
func (*FieldExpr) exprNode()          {}

// IndexExpr is `x[k]`.
type IndexExpr struct {
	SpanVal token.Span
	X       Expr
	Index   Expr
	Opt     bool // true for `?[`
}

func (e *IndexExpr) Span() token.Span { return e.SpanVal }
func (*IndexExpr) exprNode()          {}

// TryExpr is the postfix `?` Result-unwrap operator.
type TryExpr struct {
	SpanVal token.Span
	X       Expr
}

func (e *TryExpr) Span() token.Span { return e.SpanVal }
func (*TryExpr) exprNode()          {}

// NullAssertExpr is the postfix `!` operator.
type NullAssertExpr struct {
	SpanVal token.Span
	X       Expr
}

func (e *NullAssertExpr) Span() token.Span { return e.SpanVal }
func (*NullAssertExpr) exprNode()          {}

// NullCoalesceExpr is `a ?? b`.
type NullCoalesceExpr struct {
	SpanVal    token.Span
	X, Default Expr
}

func (e *NullCoalesceExpr) Span() token.Span { return e.SpanVal }
func (*NullCoalesceExpr) exprNode()          {}

// CastExpr is `x as T`.
type CastExpr struct {
	SpanVal token.Span
	X       Expr
	Type    TypeExpr
}

func (e *CastExpr) Span() token.Span { return e.SpanVal }
func (*CastExpr) exprNode()          {}

// IsExpr is `x is T`.
type IsExpr struct {
	SpanVal token.Span
	X       Expr
	Type    TypeExpr
}

func (e *IsExpr) Span() token.Span { return e.SpanVal }
func (*IsExpr) exprNode()          {}

// IfExpr is the expression form `if cond then a else b`.
type IfExpr struct {
	SpanVal          token.Span
	Cond, Then, Else Expr
}

func (e *IfExpr) Span() token.Span { return e.SpanVal }
func (*IfExpr) exprNode()          {}

// MatchArm is one arm of a match expression.
type MatchArm struct {
	SpanVal token.Span
	Pattern Pattern
	Guard   Expr
	Body    Expr // for statement-form match, wraps a Block via BlockExpr
}

func (a *MatchArm) Span() token.Span { return a.SpanVal }

// MatchExpr is `match subject ... end` used in expression position.
type MatchExpr struct {
	SpanVal token.Span
	Subject Expr
	Arms    []*MatchArm
}

func (e *MatchExpr) Span() token.Span { return e.SpanVal }
func (*MatchExpr) exprNode()          {}

// BlockExpr wraps a statement Block so it can appear in expression
// position (match-statement arm bodies, lambda bodies).
type BlockExpr struct {
	SpanVal token.Span
	Block   *Block
}

func (e *BlockExpr) Span() token.Span {
	if e.SpanVal != (token.Span{}) {
		return e.SpanVal
	}
	if e.Block != nil {
		return e.Block.Span()
	}
	return token.Span{}
}
func (*BlockExpr) exprNode() {}

// LambdaExpr is an anonymous function value.
type LambdaExpr struct {
	SpanVal token.Span
	Params  []*Param
	Return  TypeExpr
	Effects *EffectRow
	Body    Expr
}

func (e *LambdaExpr) Span() token.Span { return e.SpanVal }
func (*LambdaExpr) exprNode()          {}

// SpawnExpr is `spawn(call(...))`.
type SpawnExpr struct {
	SpanVal token.Span
	Call    Expr
}

func (e *SpawnExpr) Span() token.Span { return e.SpanVal }
func (*SpawnExpr) exprNode()          {}

// AwaitExpr is `await f`.
type AwaitExpr struct {
	SpanVal token.Span
	X       Expr
}

func (e *AwaitExpr) Span() token.Span { return e.SpanVal }
func (*AwaitExpr) exprNode()          {}

// PipeExpr is `a |> f(b)`, desugaring to `f(a, b)`.
type PipeExpr struct {
	SpanVal token.Span
	X       Expr
	Call    *CallExpr
}

func (e *PipeExpr) Span() token.Span { return e.SpanVal }
func (*PipeExpr) exprNode()          {}

// ComposeExpr is `f ~> g`, function composition.
type ComposeExpr struct {
	SpanVal token.Span
	F, G    Expr
}

func (e *ComposeExpr) Span() token.Span { return e.SpanVal }
func (*ComposeExpr) exprNode()          {}

// ForComprehension is the expression-position `for x in iter if cond`
// form used inside list/set/map literals.
type ForComprehension struct {
	SpanVal token.Span
	Pattern Pattern
	Iter    Expr
	Filter  Expr // nil when absent; must never be silently dropped
	Body    Expr
}

func (e *ForComprehension) Span() token.Span { return e.SpanVal }
func (*ForComprehension) exprNode()          {}
