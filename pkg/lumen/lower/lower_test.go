package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/diag"
	"github.com/ternarybob/lumen/pkg/lumen/lir"
	"github.com/ternarybob/lumen/pkg/lumen/resolve"
)

func modWith(items ...ast.Item) *resolve.Module {
	return &resolve.Module{
		File:        &ast.File{Items: items},
		ToolAliases: map[string]string{},
	}
}

func TestLowerSimpleCell(t *testing.T) {
	cell := &ast.CellDecl{
		Name: "add",
		Params: []*ast.Param{
			{Name: "a"}, {Name: "b"},
		},
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.ReturnStmt{Value: &ast.BinaryExpr{
					Op: ast.BinAdd,
					X:  &ast.Ident{Name: "a"},
					Y:  &ast.Ident{Name: "b"},
				}},
			},
		},
	}

	out := New(modWith(cell), &diag.Bag{}).Lower()
	require.Len(t, out.Cells, 1)
	c := out.Cells[0]
	assert.Equal(t, "add", c.Name)
	assert.Equal(t, 2, c.NumParams)

	var sawAdd, sawReturn bool
	for _, ins := range c.Instrs {
		if ins.Op() == lir.OpAdd {
			sawAdd = true
		}
		if ins.Op() == lir.OpReturn {
			sawReturn = true
		}
	}
	assert.True(t, sawAdd)
	assert.True(t, sawReturn)
}

func TestLowerIfExprBranches(t *testing.T) {
	cell := &ast.CellDecl{
		Name: "sign",
		Params: []*ast.Param{{Name: "x"}},
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.ReturnStmt{Value: &ast.IfExpr{
					Cond: &ast.BinaryExpr{Op: ast.BinLt, X: &ast.Ident{Name: "x"}, Y: &ast.IntLit{Value: 0}},
					Then: &ast.IntLit{Value: -1},
					Else: &ast.IntLit{Value: 1},
				}},
			},
		},
	}

	out := New(modWith(cell), &diag.Bag{}).Lower()
	require.Len(t, out.Cells, 1)
	c := out.Cells[0]

	var jumps int
	for _, ins := range c.Instrs {
		if ins.Op() == lir.OpJump || ins.Op() == lir.OpJumpIfFalse {
			jumps++
		}
	}
	assert.GreaterOrEqual(t, jumps, 2, "if-expr lowers to a test jump and an unconditional skip-else jump")
}

func TestLowerMatchArmsFallThroughHalts(t *testing.T) {
	cell := &ast.CellDecl{
		Name: "classify",
		Params: []*ast.Param{{Name: "x"}},
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.MatchStmt{
					Subject: &ast.Ident{Name: "x"},
					Arms: []*ast.MatchArm{
						{Pattern: &ast.LiteralPattern{Value: &ast.IntLit{Value: 0}}, Body: &ast.BlockExpr{Block: &ast.Block{}}},
						{Pattern: &ast.WildcardPattern{}, Body: &ast.BlockExpr{Block: &ast.Block{}}},
					},
				},
			},
		},
	}

	out := New(modWith(cell), &diag.Bag{}).Lower()
	require.Len(t, out.Cells, 1)
	c := out.Cells[0]

	var sawHalt bool
	for _, ins := range c.Instrs {
		if ins.Op() == lir.OpHalt {
			sawHalt = true
		}
	}
	assert.True(t, sawHalt, "an unreachable fall-through halt is always emitted after the arm list")
}

// TestLowerImplicitReturnFromTrailingExpr matches spec.md §8 scenario
// 1's `fact` body: a bare trailing expression statement with no
// `return` keyword is still the cell's return value.
func TestLowerImplicitReturnFromTrailingExpr(t *testing.T) {
	cell := &ast.CellDecl{
		Name:   "sign",
		Params: []*ast.Param{{Name: "x"}},
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.ExprStmt{X: &ast.IfExpr{
					Cond: &ast.BinaryExpr{Op: ast.BinLt, X: &ast.Ident{Name: "x"}, Y: &ast.IntLit{Value: 0}},
					Then: &ast.IntLit{Value: -1},
					Else: &ast.IntLit{Value: 1},
				}},
			},
		},
	}

	out := New(modWith(cell), &diag.Bag{}).Lower()
	require.Len(t, out.Cells, 1)
	c := out.Cells[0]

	returns := 0
	for _, ins := range c.Instrs {
		if ins.Op() == lir.OpReturn {
			returns++
		}
	}
	assert.Equal(t, 1, returns, "the trailing if-expr must itself become the return, not be computed and discarded with a separate implicit return null appended")
}

func TestLowerLambdaCapturesFreeVariable(t *testing.T) {
	// cell make_adder(n) = lambda x -> n + x
	cell := &ast.CellDecl{
		Name:   "make_adder",
		Params: []*ast.Param{{Name: "n"}},
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.ExprStmt{X: &ast.LambdaExpr{
					Params: []*ast.Param{{Name: "x"}},
					Body: &ast.BinaryExpr{
						Op: ast.BinAdd,
						X:  &ast.Ident{Name: "n"},
						Y:  &ast.Ident{Name: "x"},
					},
				}},
			},
		},
	}

	out := New(modWith(cell), &diag.Bag{}).Lower()
	require.Len(t, out.Cells, 2, "make_adder itself plus its synthesized lambda cell")

	// lowerLambda appends the lambda's cell while its enclosing cell is
	// still being lowered, so the lambda comes first.
	outer := out.Cells[1]
	inner := out.Cells[0]
	assert.Equal(t, "make_adder", outer.Name)
	assert.Equal(t, "make_adder$lambda0", inner.Name)

	var sawCapture, sawMakeClosure bool
	for _, ins := range outer.Instrs {
		switch ins.Op() {
		case lir.OpCaptureUpvalue:
			sawCapture = true
		case lir.OpMakeClosure:
			sawMakeClosure = true
		}
	}
	assert.True(t, sawMakeClosure, "make_adder must build a closure over its lambda cell")
	assert.True(t, sawCapture, "make_adder must capture n as an upvalue for the lambda to reference")

	var sawGetUpvalue bool
	for _, ins := range inner.Instrs {
		if ins.Op() == lir.OpGetUpvalue {
			sawGetUpvalue = true
		}
	}
	assert.True(t, sawGetUpvalue, "the lambda body's reference to n must resolve through GetUpvalue, not as an unbound identifier")
}

func TestLowerNestedLvalueWritesBackToRoot(t *testing.T) {
	// cell set_deep(a) = { a.b.c = 1 }
	cell := &ast.CellDecl{
		Name:   "set_deep",
		Params: []*ast.Param{{Name: "a"}},
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.AssignStmt{
					Target: &ast.FieldExpr{
						X:     &ast.FieldExpr{X: &ast.Ident{Name: "a"}, Field: "b"},
						Field: "c",
					},
					Op:    ast.AssignSet,
					Value: &ast.IntLit{Value: 1},
				},
			},
		},
	}

	out := New(modWith(cell), &diag.Bag{}).Lower()
	require.Len(t, out.Cells, 1)
	c := out.Cells[0]

	setIndexCount := 0
	for _, ins := range c.Instrs {
		if ins.Op() == lir.OpSetIndex {
			setIndexCount++
		}
	}
	assert.Equal(t, 2, setIndexCount, "both the .c write and the .b write-back must reach SetIndex")

	// register 0 is `a`'s own local (the cell's first and only param);
	// the final instruction emitted by assignTo's Ident base case must
	// move the fully-mutated object back into it, closing the loop that
	// previously lost `a.b`'s mutation as soon as it came back from
	// SetIndex as a fresh, disconnected clone.
	last := c.Instrs[len(c.Instrs)-3] // before the implicit LoadNil+Return the cell falls off into
	assert.Equal(t, lir.OpMove, last.Op())
	assert.Equal(t, uint8(0), last.A(), "must write back into a's own register")
}

func TestLowerProcessDeclBuildsRecordConstructor(t *testing.T) {
	proc := &ast.ProcessDecl{
		Kind: ast.ProcessMachine,
		Name: "Door",
		States: []*ast.ProcessState{
			{Name: "open"},
			{Name: "closed"},
		},
		Initial: "closed",
	}

	out := New(modWith(proc), &diag.Bag{}).Lower()
	require.Len(t, out.Cells, 1)
	assert.Equal(t, "Door$new", out.Cells[0].Name)

	var sawNewRecord bool
	for _, ins := range out.Cells[0].Instrs {
		if ins.Op() == lir.OpNewRecord {
			sawNewRecord = true
		}
	}
	assert.True(t, sawNewRecord)
}
