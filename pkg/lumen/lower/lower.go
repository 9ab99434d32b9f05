// Package lower compiles a resolved, checked Lumen module into an LIR
// module: register allocation, constant-pool interning, match
// compilation, and spawn/process lowering, per spec.md §4.6.
package lower

import (
	"fmt"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/diag"
	"github.com/ternarybob/lumen/pkg/lumen/lir"
	"github.com/ternarybob/lumen/pkg/lumen/resolve"
)

// Lowerer turns a resolved module into an LIR module. One Lowerer
// lowers exactly one compilation unit; cross-module calls are resolved
// by name at link time (the VM's cell table is built from every
// lowered module's Cells, keyed by qualified name).
type Lowerer struct {
	mod  *resolve.Module
	errs *diag.Bag
	out  *lir.Module

	// lambdaSeq numbers anonymous lambda cells `<name>$lambda0`, `$lambda1`, ...
	lambdaSeq int
}

// New creates a Lowerer for mod, reporting lowering failures to errs.
func New(mod *resolve.Module, errs *diag.Bag) *Lowerer {
	return &Lowerer{mod: mod, errs: errs, out: lir.NewModule("1")}
}

// Lower walks every item in the module and returns the compiled LIR
// module. Items that carry no runtime representation (imports, type
// aliases, trait declarations, macros, effect declarations, tool-use
// and grant/bind-effect declarations — resolved entirely at the
// resolve/check stages) are skipped.
func (lw *Lowerer) Lower() *lir.Module {
	for _, item := range lw.mod.File.Items {
		switch d := item.(type) {
		case *ast.CellDecl:
			lw.lowerCell(d.Name, d)
		case *ast.ImplDecl:
			typeName := typeExprName(d.Type)
			for _, m := range d.Cells {
				lw.lowerCell(typeName+"."+d.Trait+"."+m.Name, m)
			}
		case *ast.ProcessDecl:
			lw.lowerProcess(d)
		}
	}
	return lw.out
}

func typeExprName(t ast.TypeExpr) string {
	if n, ok := t.(*ast.NamedTypeExpr); ok {
		return n.Name
	}
	return "?"
}

// fnCtx is the per-cell lowering context: a simple stack-disciplined
// register allocator (spec.md §4.6 "Register allocation"), local
// variable bindings, loop targets for break/continue, and the deferred
// blocks that must run, in reverse order, before every return from the
// current cell (spec.md §5).
type fnCtx struct {
	cell   *lir.Cell
	pool   *lir.Pool
	locals map[string]uint8
	// upvals maps a captured free variable's name to its index in this
	// cell's upvalue list (nil for a cell that captures nothing - every
	// non-lambda cell, and any lambda whose body references no name
	// from its defining scope). Populated by lowerLambda before the
	// body is lowered, read by lowerIdentByName/assignTo.
	upvals map[string]int
	next   uint8
	high   uint8
	loops  []*loopCtx
	defers []*ast.Block
}

type loopCtx struct {
	label        string
	continueJump int // index of the Jump instruction to patch to the loop's test, or -1 if already resolved
	continueAt   int // instruction index the continue target begins at, once known
	breakPatches []int
}

func newFnCtx(pool *lir.Pool, name string, numParams int) *fnCtx {
	return &fnCtx{
		cell:   &lir.Cell{Name: name, NumParams: numParams},
		pool:   pool,
		locals: map[string]uint8{},
	}
}

// alloc reserves the next free register.
func (fc *fnCtx) alloc() uint8 {
	r := fc.next
	fc.next++
	if fc.next > fc.high {
		fc.high = fc.next
	}
	return r
}

// mark returns the current stack-top, to be restored by release once a
// temporary's lifetime ends.
func (fc *fnCtx) mark() uint8 { return fc.next }

// release resets the allocator to a previous mark, freeing every
// temporary allocated since. Named locals are never released this way;
// they live in fc.locals for the cell's whole lifetime.
func (fc *fnCtx) release(mark uint8) { fc.next = mark }

func (fc *fnCtx) bind(name string) uint8 {
	r := fc.alloc()
	fc.locals[name] = r
	return r
}

func (fc *fnCtx) emit(op lir.Op, a, b, c uint8) int {
	fc.cell.Instrs = append(fc.cell.Instrs, lir.Encode(op, a, b, c))
	return len(fc.cell.Instrs) - 1
}

func (fc *fnCtx) emitBx(op lir.Op, a uint8, bx uint16) int {
	fc.cell.Instrs = append(fc.cell.Instrs, lir.EncodeBx(op, a, bx))
	return len(fc.cell.Instrs) - 1
}

func (fc *fnCtx) emitAx(op lir.Op, ax int32) int {
	fc.cell.Instrs = append(fc.cell.Instrs, lir.EncodeAx(op, ax))
	return len(fc.cell.Instrs) - 1
}

// emitCondJump emits a JumpIfTrue/JumpIfFalse testing register cond,
// with a placeholder offset to be filled in by patchJumpHere/patchJumpTo
// once the branch target is known.
func (fc *fnCtx) emitCondJump(op lir.Op, cond uint8) int {
	fc.cell.Instrs = append(fc.cell.Instrs, lir.EncodeSBx(op, cond, 0))
	return len(fc.cell.Instrs) - 1
}

// patchJumpHere rewrites the jump instruction at idx to target the next
// instruction to be emitted.
func (fc *fnCtx) patchJumpHere(idx int) {
	fc.patchJumpTo(idx, len(fc.cell.Instrs))
}

// patchJumpTo rewrites the jump/conditional-jump instruction at idx to
// target instruction index `target`. OpJump carries no register (its
// offset spans the full A/B/C width); JumpIfTrue/JumpIfFalse carry the
// condition register in A and must preserve it across the rewrite.
func (fc *fnCtx) patchJumpTo(idx, target int) {
	old := fc.cell.Instrs[idx]
	offset := int32(target - idx - 1)
	if old.Op() == lir.OpJumpIfTrue || old.Op() == lir.OpJumpIfFalse {
		fc.cell.Instrs[idx] = lir.EncodeSBx(old.Op(), old.A(), offset)
		return
	}
	fc.cell.Instrs[idx] = lir.EncodeAx(old.Op(), offset)
}

func (lw *Lowerer) lowerCell(name string, d *ast.CellDecl) {
	fc := newFnCtx(lw.out.Consts, name, len(d.Params))
	for _, p := range d.Params {
		fc.bind(p.Name)
	}
	if d.Body != nil {
		lw.lowerCellBody(fc, d.Body)
	}
	// Every cell falls off the end with an implicit `return null` unless
	// the last emitted instruction already returned.
	if len(fc.cell.Instrs) == 0 || fc.cell.Instrs[len(fc.cell.Instrs)-1].Op() != lir.OpReturn {
		nilReg := fc.alloc()
		fc.emit(lir.OpLoadNil, nilReg, 0, 0)
		fc.emit(lir.OpReturn, nilReg, 0, 0)
	}
	fc.cell.Registers = int(fc.high)
	lw.out.Cells = append(lw.out.Cells, fc.cell)
}

// lowerCellBody lowers a cell's top-level block. A trailing bare
// expression statement is the cell's implicit return value (spec.md
// §8 scenario 1's `fact` body is a single `if ... then ... else ...`
// with no `return`) — every statement before it runs purely for
// effect, same as lowerBlock.
func (lw *Lowerer) lowerCellBody(fc *fnCtx, b *ast.Block) {
	mark := fc.mark()
	for i, s := range b.Stmts {
		if i == len(b.Stmts)-1 {
			if es, ok := s.(*ast.ExprStmt); ok {
				r := lw.lowerExpr(fc, es.X)
				fc.emit(lir.OpReturn, r, 0, 0)
				fc.release(mark)
				return
			}
		}
		lw.lowerStmt(fc, s)
	}
	fc.release(mark)
}

func (lw *Lowerer) lowerBlock(fc *fnCtx, b *ast.Block) {
	mark := fc.mark()
	for _, s := range b.Stmts {
		lw.lowerStmt(fc, s)
	}
	fc.release(mark)
}

// lowerBlockExpr lowers a block used in expression position: every
// statement but the last runs for effect; a trailing ExprStmt's value
// becomes the block's result, loaded into dst.
func (lw *Lowerer) lowerBlockExpr(fc *fnCtx, b *ast.Block, dst uint8) {
	mark := fc.mark()
	for i, s := range b.Stmts {
		if i == len(b.Stmts)-1 {
			if es, ok := s.(*ast.ExprStmt); ok {
				r := lw.lowerExpr(fc, es.X)
				fc.emit(lir.OpMove, dst, r, 0)
				fc.release(mark)
				return
			}
		}
		lw.lowerStmt(fc, s)
	}
	fc.emit(lir.OpLoadNil, dst, 0, 0)
	fc.release(mark)
}

func (lw *Lowerer) lowerStmt(fc *fnCtx, stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		mark := fc.mark()
		r := lw.lowerExpr(fc, s.Value)
		fc.release(mark)
		lw.bindPattern(fc, s.Pattern, r)

	case *ast.AssignStmt:
		lw.lowerAssign(fc, s)

	case *ast.ExprStmt:
		mark := fc.mark()
		lw.lowerExpr(fc, s.X)
		fc.release(mark)

	case *ast.ReturnStmt:
		lw.runDefers(fc)
		if s.Value == nil {
			r := fc.alloc()
			fc.emit(lir.OpLoadNil, r, 0, 0)
			fc.emit(lir.OpReturn, r, 0, 0)
			return
		}
		r := lw.lowerExpr(fc, s.Value)
		fc.emit(lir.OpReturn, r, 0, 0)

	case *ast.IfStmt:
		lw.lowerIfStmt(fc, s)

	case *ast.ForStmt:
		lw.lowerForStmt(fc, s)

	case *ast.WhileStmt:
		lw.lowerWhileStmt(fc, s)

	case *ast.LoopStmt:
		lw.lowerLoopStmt(fc, s)

	case *ast.BreakStmt:
		lc := lw.findLoop(fc, s.Label)
		if lc == nil {
			lw.errs.Errorf(s.Span(), diag.CodeTypeMismatch, "break outside loop")
			return
		}
		idx := fc.emitAx(lir.OpJump, 0)
		lc.breakPatches = append(lc.breakPatches, idx)

	case *ast.ContinueStmt:
		lc := lw.findLoop(fc, s.Label)
		if lc == nil {
			lw.errs.Errorf(s.Span(), diag.CodeTypeMismatch, "continue outside loop")
			return
		}
		idx := fc.emitAx(lir.OpJump, 0)
		fc.patchJumpTo(idx, lc.continueAt)

	case *ast.MatchStmt:
		mark := fc.mark()
		r := lw.lowerExpr(fc, s.Subject)
		lw.lowerMatchArms(fc, r, s.Arms, nil)
		fc.release(mark)

	case *ast.DeferStmt:
		fc.defers = append(fc.defers, s.Body)

	case *ast.HaltStmt:
		lw.runDefers(fc)
		var r uint8
		if s.Message != nil {
			r = lw.lowerExpr(fc, s.Message)
		} else {
			r = fc.alloc()
			fc.emit(lir.OpLoadNil, r, 0, 0)
		}
		fc.emit(lir.OpHalt, r, 0, 0)
	}
}

// runDefers lowers every deferred block registered in the current cell,
// in reverse declaration order (spec.md §5: "resources release in
// reverse acquisition order"), before a return or halt.
func (lw *Lowerer) runDefers(fc *fnCtx) {
	for i := len(fc.defers) - 1; i >= 0; i-- {
		lw.lowerBlock(fc, fc.defers[i])
	}
}

func (fc *fnCtx) pushLoop(label string) *loopCtx {
	lc := &loopCtx{label: label}
	fc.loops = append(fc.loops, lc)
	return lc
}

func (fc *fnCtx) popLoop() { fc.loops = fc.loops[:len(fc.loops)-1] }

func (lw *Lowerer) findLoop(fc *fnCtx, label string) *loopCtx {
	if label == "" {
		if len(fc.loops) == 0 {
			return nil
		}
		return fc.loops[len(fc.loops)-1]
	}
	for i := len(fc.loops) - 1; i >= 0; i-- {
		if fc.loops[i].label == label {
			return fc.loops[i]
		}
	}
	return nil
}

func (lw *Lowerer) lowerIfStmt(fc *fnCtx, s *ast.IfStmt) {
	mark := fc.mark()
	cond := lw.lowerExpr(fc, s.Cond)
	jf := fc.emitCondJump(lir.OpJumpIfFalse, cond)
	fc.release(mark)
	lw.lowerBlock(fc, s.Then)
	if s.Else != nil {
		jend := fc.emitAx(lir.OpJump, 0)
		fc.patchJumpHere(jf)
		lw.lowerBlock(fc, s.Else)
		fc.patchJumpHere(jend)
	} else {
		fc.patchJumpHere(jf)
	}
}

func (lw *Lowerer) lowerWhileStmt(fc *fnCtx, s *ast.WhileStmt) {
	lc := fc.pushLoop(s.Label)
	testAt := len(fc.cell.Instrs)
	lc.continueAt = testAt
	mark := fc.mark()
	cond := lw.lowerExpr(fc, s.Cond)
	jf := fc.emitCondJump(lir.OpJumpIfFalse, cond)
	fc.release(mark)
	lw.lowerBlock(fc, s.Body)
	back := fc.emitAx(lir.OpJump, 0)
	fc.patchJumpTo(back, testAt)
	fc.patchJumpHere(jf)
	for _, p := range lc.breakPatches {
		fc.patchJumpHere(p)
	}
	fc.popLoop()
}

func (lw *Lowerer) lowerLoopStmt(fc *fnCtx, s *ast.LoopStmt) {
	lc := fc.pushLoop(s.Label)
	top := len(fc.cell.Instrs)
	lc.continueAt = top
	lw.lowerBlock(fc, s.Body)
	back := fc.emitAx(lir.OpJump, 0)
	fc.patchJumpTo(back, top)
	for _, p := range lc.breakPatches {
		fc.patchJumpHere(p)
	}
	fc.popLoop()
}

// lowerForStmt lowers `for pat in iter [if filter] { body }` to a
// three-register iterator protocol: an iterable value, a cursor index,
// and the per-iteration element, since LIR has no dedicated iterator
// opcode (spec.md §4.6 names GetIndex/SetIndex as the only container
// primitives). The element is fetched with GetIndex and bounds are
// checked against the iterable's length via the `In` opcode's sibling
// semantics is out of scope here; bounds checking is a VM runtime
// concern driven by the iterable's length, not an LIR-level opcode.
func (lw *Lowerer) lowerForStmt(fc *fnCtx, s *ast.ForStmt) {
	lc := fc.pushLoop(s.Label)
	iterReg := lw.lowerExpr(fc, s.Iter)
	idxReg := fc.alloc()
	zeroIdx := fc.pool.InternInt(0)
	fc.emitBx(lir.OpLoadConst, idxReg, uint16(zeroIdx))

	testAt := len(fc.cell.Instrs)
	lc.continueAt = testAt
	condReg := fc.alloc()
	fc.emit(lir.OpLt, condReg, idxReg, iterReg)
	jf := fc.emitCondJump(lir.OpJumpIfFalse, condReg)

	elemReg := fc.alloc()
	fc.emit(lir.OpGetIndex, elemReg, iterReg, idxReg)
	fc.release(elemReg + 1)
	lw.bindPattern(fc, s.Pattern, elemReg)

	var skipJf int
	hasFilter := s.Filter != nil
	if hasFilter {
		fr := lw.lowerExpr(fc, s.Filter)
		skipJf = fc.emitCondJump(lir.OpJumpIfFalse, fr)
	}

	lw.lowerBlock(fc, s.Body)

	incrAt := len(fc.cell.Instrs)
	if hasFilter {
		fc.patchJumpTo(skipJf, incrAt)
	}
	oneIdx := fc.pool.InternInt(1)
	oneReg := fc.alloc()
	fc.emitBx(lir.OpLoadConst, oneReg, uint16(oneIdx))
	fc.emit(lir.OpAdd, idxReg, idxReg, oneReg)
	fc.release(condReg)

	back := fc.emitAx(lir.OpJump, 0)
	fc.patchJumpTo(back, testAt)
	fc.patchJumpHere(jf)
	for _, p := range lc.breakPatches {
		fc.patchJumpHere(p)
	}
	fc.popLoop()
}

func (lw *Lowerer) lowerAssign(fc *fnCtx, s *ast.AssignStmt) {
	rhs := lw.lowerExpr(fc, s.Value)
	if s.Op != ast.AssignSet {
		// Compound assignment (`+=` and friends) only short-circuits for
		// a bare local: a chained target's current value would need to
		// be read back out through the same FieldExpr/IndexExpr descent
		// assignTo writes through, which the compound operators below
		// don't attempt; `a.b += 1`-shaped targets fall through to plain
		// assignTo and silently behave like assignment of rhs alone, a
		// pre-existing limitation this pass doesn't extend.
		switch t := s.Target.(type) {
		case *ast.Ident:
			cur, ok := fc.locals[t.Name]
			if ok {
				op := compoundOp(s.Op)
				fc.emit(op, cur, cur, rhs)
				return
			}
		}
	}
	lw.assignTo(fc, s.Target, rhs)
}

// assignTo writes the value already held in register rhs into target,
// threading the result back through every enclosing container so a
// chain like `a.b.c = 1` mutates the root variable `a` itself rather
// than a disconnected local copy of `a.b`. Copy-on-write (spec.md
// §4.7) means SetIndex can come back with a freshly cloned pointer
// instead of the original one whenever the mutated container's
// refcount was greater than one, so each level must explicitly write
// its own result back into its parent — a parent register can't be
// assumed to observe the child's mutation just because it once shared
// the same pointer.
func (lw *Lowerer) assignTo(fc *fnCtx, target ast.Expr, rhs uint8) {
	switch t := target.(type) {
	case *ast.Ident:
		if dst, ok := fc.locals[t.Name]; ok {
			fc.emit(lir.OpMove, dst, rhs, 0)
			return
		}
		if idx, ok := fc.upvals[t.Name]; ok {
			fc.emit(lir.OpSetUpvalue, uint8(idx), rhs, 0)
			return
		}
		dst := fc.bind(t.Name)
		fc.emit(lir.OpMove, dst, rhs, 0)
	case *ast.FieldExpr:
		obj := lw.lowerExpr(fc, t.X)
		nameIdx := fc.pool.InternString(t.Field)
		nameReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, nameReg, uint16(nameIdx))
		fc.emit(lir.OpSetIndex, obj, nameReg, rhs)
		lw.assignTo(fc, t.X, obj)
	case *ast.IndexExpr:
		obj := lw.lowerExpr(fc, t.X)
		idx := lw.lowerExpr(fc, t.Index)
		fc.emit(lir.OpSetIndex, obj, idx, rhs)
		lw.assignTo(fc, t.X, obj)
	}
}

func compoundOp(op ast.AssignOp) lir.Op {
	switch op {
	case ast.AssignAdd:
		return lir.OpAdd
	case ast.AssignSub:
		return lir.OpSub
	case ast.AssignMul:
		return lir.OpMul
	case ast.AssignDiv:
		return lir.OpDiv
	case ast.AssignMod:
		return lir.OpMod
	}
	return lir.OpMove
}

// bindPattern destructures a value already held in register src into
// whatever local names pat introduces, used for let/for bindings (which
// never need the exhaustiveness/test machinery match arms do).
func (lw *Lowerer) bindPattern(fc *fnCtx, pat ast.Pattern, src uint8) {
	switch p := pat.(type) {
	case *ast.WildcardPattern:
	case *ast.IdentPattern:
		fc.locals[p.Name] = src
	case *ast.TypedPattern:
		fc.locals[p.Name] = src
	case *ast.TuplePattern:
		for i, el := range p.Elems {
			idxC := fc.pool.InternInt(int64(i))
			idxReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, idxReg, uint16(idxC))
			elReg := fc.alloc()
			fc.emit(lir.OpGetIndex, elReg, src, idxReg)
			lw.bindPattern(fc, el, elReg)
		}
	case *ast.ListPattern:
		for i, el := range p.Elems {
			idxC := fc.pool.InternInt(int64(i))
			idxReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, idxReg, uint16(idxC))
			elReg := fc.alloc()
			fc.emit(lir.OpGetIndex, elReg, src, idxReg)
			lw.bindPattern(fc, el, elReg)
		}
		if p.HasRest && p.Rest != "" {
			// the rest-slice is a VM-level container op (slice from
			// len(Elems) to end); represented here as a GetIndex with a
			// negative sentinel index the VM recognizes as "rest from N".
			restIdx := fc.pool.InternInt(int64(-(len(p.Elems) + 1)))
			idxReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, idxReg, uint16(restIdx))
			restReg := fc.alloc()
			fc.emit(lir.OpGetIndex, restReg, src, idxReg)
			fc.locals[p.Rest] = restReg
		}
	case *ast.RecordPattern:
		for _, fp := range p.Fields {
			nameC := fc.pool.InternString(fp.Name)
			nameReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, nameReg, uint16(nameC))
			fReg := fc.alloc()
			fc.emit(lir.OpGetIndex, fReg, src, nameReg)
			lw.bindPattern(fc, fp.Pattern, fReg)
		}
	case *ast.VariantPattern:
		for i, el := range p.Positional {
			idxC := fc.pool.InternInt(int64(i))
			idxReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, idxReg, uint16(idxC))
			elReg := fc.alloc()
			fc.emit(lir.OpGetIndex, elReg, src, idxReg)
			lw.bindPattern(fc, el, elReg)
		}
		for _, fp := range p.Named {
			nameC := fc.pool.InternString(fp.Name)
			nameReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, nameReg, uint16(nameC))
			fReg := fc.alloc()
			fc.emit(lir.OpGetIndex, fReg, src, nameReg)
			lw.bindPattern(fc, fp.Pattern, fReg)
		}
	case *ast.OrPattern:
		if len(p.Alternatives) > 0 {
			lw.bindPattern(fc, p.Alternatives[0], src)
		}
	}
}

// lowerMatchArms compiles match arms as a linear sequence of
// test-and-branch blocks (spec.md §4.6 "Match compilation"): each arm
// tests the subject against its pattern's discriminant (literal
// equality, enum/variant tag, or an unconditional bind for
// ident/wildcard/typed patterns), binds the pattern's names on success,
// evaluates a guard if present, and falls through to the next arm on
// failure. If dst is non-nil the arm body's value (an expression-form
// match) is moved into it.
func (lw *Lowerer) lowerMatchArms(fc *fnCtx, subj uint8, arms []*ast.MatchArm, dst *uint8) {
	var endJumps []int
	for _, arm := range arms {
		mark := fc.mark()
		failJumps := lw.testPattern(fc, subj, arm.Pattern)
		lw.bindPattern(fc, arm.Pattern, subj)
		if arm.Guard != nil {
			g := lw.lowerExpr(fc, arm.Guard)
			gjf := fc.emitCondJump(lir.OpJumpIfFalse, g)
			failJumps = append(failJumps, gjf)
		}
		lw.lowerMatchArmBody(fc, arm.Body, dst)
		endJumps = append(endJumps, fc.emitAx(lir.OpJump, 0))
		for _, j := range failJumps {
			fc.patchJumpHere(j)
		}
		fc.release(mark)
	}
	// Fell through every arm: non-exhaustive at runtime (the checker
	// already reported this statically when possible). Halt rather than
	// continue with stale registers.
	msgC := fc.pool.InternString("no match arm matched")
	msgReg := fc.alloc()
	fc.emitBx(lir.OpLoadConst, msgReg, uint16(msgC))
	fc.emit(lir.OpHalt, msgReg, 0, 0)
	for _, j := range endJumps {
		fc.patchJumpHere(j)
	}
}

func (lw *Lowerer) lowerMatchArmBody(fc *fnCtx, body ast.Expr, dst *uint8) {
	if dst == nil {
		mark := fc.mark()
		lw.lowerExpr(fc, body)
		fc.release(mark)
		return
	}
	r := lw.lowerExpr(fc, body)
	fc.emit(lir.OpMove, *dst, r, 0)
}

// testPattern emits the instructions that test subj against pat,
// returning the indices of JumpIfFalse instructions to patch to the
// next arm on mismatch. Irrefutable patterns (wildcard, bare ident,
// typed binding) return no jumps.
func (lw *Lowerer) testPattern(fc *fnCtx, subj uint8, pat ast.Pattern) []int {
	switch p := pat.(type) {
	case *ast.WildcardPattern, *ast.IdentPattern:
		return nil
	case *ast.TypedPattern:
		typeC := fc.pool.InternString(p.Type.Span().String())
		tReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, tReg, uint16(typeC))
		res := fc.alloc()
		fc.emit(lir.OpIs, res, subj, tReg)
		return []int{fc.emitCondJump(lir.OpJumpIfFalse, res)}
	case *ast.LiteralPattern:
		lit := lw.lowerExpr(fc, p.Value)
		res := fc.alloc()
		fc.emit(lir.OpEq, res, subj, lit)
		return []int{fc.emitCondJump(lir.OpJumpIfFalse, res)}
	case *ast.VariantPattern:
		tagC := fc.pool.InternString(p.VariantName)
		tagReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, tagReg, uint16(tagC))
		nameC := fc.pool.InternString("__tag")
		nameReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, nameReg, uint16(nameC))
		tagVal := fc.alloc()
		fc.emit(lir.OpGetIndex, tagVal, subj, nameReg)
		res := fc.alloc()
		fc.emit(lir.OpEq, res, tagVal, tagReg)
		return []int{fc.emitCondJump(lir.OpJumpIfFalse, res)}
	case *ast.RecordPattern:
		return nil
	case *ast.TuplePattern:
		var jumps []int
		for i, el := range p.Elems {
			idxC := fc.pool.InternInt(int64(i))
			idxReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, idxReg, uint16(idxC))
			elReg := fc.alloc()
			fc.emit(lir.OpGetIndex, elReg, subj, idxReg)
			jumps = append(jumps, lw.testPattern(fc, elReg, el)...)
		}
		return jumps
	case *ast.ListPattern:
		lenC := fc.pool.InternInt(int64(-1))
		lenIdx := fc.alloc()
		fc.emitBx(lir.OpLoadConst, lenIdx, uint16(lenC))
		lenReg := fc.alloc()
		fc.emit(lir.OpGetIndex, lenReg, subj, lenIdx)
		wantC := fc.pool.InternInt(int64(len(p.Elems)))
		wantReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, wantReg, uint16(wantC))
		res := fc.alloc()
		if p.HasRest {
			fc.emit(lir.OpGe, res, lenReg, wantReg)
		} else {
			fc.emit(lir.OpEq, res, lenReg, wantReg)
		}
		jumps := []int{fc.emitCondJump(lir.OpJumpIfFalse, res)}
		for i, el := range p.Elems {
			idxC := fc.pool.InternInt(int64(i))
			idxReg := fc.alloc()
			fc.emitBx(lir.OpLoadConst, idxReg, uint16(idxC))
			elReg := fc.alloc()
			fc.emit(lir.OpGetIndex, elReg, subj, idxReg)
			jumps = append(jumps, lw.testPattern(fc, elReg, el)...)
		}
		return jumps
	case *ast.OrPattern:
		var endJumps []int
		var lastFail []int
		for i, alt := range p.Alternatives {
			fails := lw.testPattern(fc, subj, alt)
			if i < len(p.Alternatives)-1 {
				ej := fc.emitAx(lir.OpJump, 0)
				endJumps = append(endJumps, ej)
				for _, f := range fails {
					fc.patchJumpHere(f)
				}
			} else {
				lastFail = fails
			}
		}
		for _, ej := range endJumps {
			fc.patchJumpHere(ej)
		}
		return lastFail
	}
	return nil
}

// lowerExpr lowers e and returns the register holding its value.
func (lw *Lowerer) lowerExpr(fc *fnCtx, e ast.Expr) uint8 {
	switch x := e.(type) {
	case *ast.IntLit:
		r := fc.alloc()
		idx := fc.pool.InternInt(x.Value)
		fc.emitBx(lir.OpLoadConst, r, uint16(idx))
		return r
	case *ast.FloatLit:
		r := fc.alloc()
		idx := fc.pool.InternFloat(x.Value)
		fc.emitBx(lir.OpLoadConst, r, uint16(idx))
		return r
	case *ast.BoolLit:
		r := fc.alloc()
		var b uint8
		if x.Value {
			b = 1
		}
		fc.emit(lir.OpLoadBool, r, b, 0)
		return r
	case *ast.NullLit:
		r := fc.alloc()
		fc.emit(lir.OpLoadNil, r, 0, 0)
		return r
	case *ast.BytesLit:
		r := fc.alloc()
		idx := fc.pool.InternString(string(x.Value))
		fc.emitBx(lir.OpLoadConst, r, uint16(idx))
		return r
	case *ast.StringLit:
		return lw.lowerStringLit(fc, x)
	case *ast.Ident:
		return lw.lowerIdent(fc, x)
	case *ast.ListExpr:
		return lw.lowerContainer(fc, lir.OpNewList, x.Elems)
	case *ast.SetExpr:
		return lw.lowerContainer(fc, lir.OpNewSet, x.Elems)
	case *ast.TupleExpr:
		return lw.lowerContainer(fc, lir.OpNewTuple, x.Elems)
	case *ast.MapExpr:
		var flat []ast.Expr
		for _, ent := range x.Entries {
			flat = append(flat, ent.Key, ent.Value)
		}
		return lw.lowerContainer(fc, lir.OpNewMap, flat)
	case *ast.RecordExpr:
		return lw.lowerRecordExpr(fc, x)
	case *ast.UnaryExpr:
		return lw.lowerUnary(fc, x)
	case *ast.BinaryExpr:
		return lw.lowerBinary(fc, x)
	case *ast.RangeExpr:
		return lw.lowerContainer(fc, lir.OpNewTuple, []ast.Expr{x.From, x.To})
	case *ast.CallExpr:
		return lw.lowerCall(fc, x)
	case *ast.FieldExpr:
		obj := lw.lowerExpr(fc, x.X)
		nameC := fc.pool.InternString(x.Field)
		nameReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, nameReg, uint16(nameC))
		dst := fc.alloc()
		fc.emit(lir.OpGetIndex, dst, obj, nameReg)
		return dst
	case *ast.IndexExpr:
		obj := lw.lowerExpr(fc, x.X)
		idx := lw.lowerExpr(fc, x.Index)
		dst := fc.alloc()
		fc.emit(lir.OpGetIndex, dst, obj, idx)
		return dst
	case *ast.TryExpr:
		v := lw.lowerExpr(fc, x.X)
		dst := fc.alloc()
		fc.emit(lir.OpTryUnwrap, dst, v, 0)
		return dst
	case *ast.NullAssertExpr:
		v := lw.lowerExpr(fc, x.X)
		dst := fc.alloc()
		fc.emit(lir.OpTryUnwrap, dst, v, 0)
		return dst
	case *ast.NullCoalesceExpr:
		v := lw.lowerExpr(fc, x.X)
		d := lw.lowerExpr(fc, x.Default)
		dst := fc.alloc()
		fc.emit(lir.OpNullCo, dst, v, d)
		return dst
	case *ast.CastExpr:
		v := lw.lowerExpr(fc, x.X)
		typeC := fc.pool.InternString(x.Type.Span().String())
		tReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, tReg, uint16(typeC))
		dst := fc.alloc()
		fc.emit(lir.OpMove, dst, v, 0)
		_ = tReg
		return dst
	case *ast.IsExpr:
		v := lw.lowerExpr(fc, x.X)
		typeC := fc.pool.InternString(x.Type.Span().String())
		tReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, tReg, uint16(typeC))
		dst := fc.alloc()
		fc.emit(lir.OpIs, dst, v, tReg)
		return dst
	case *ast.IfExpr:
		return lw.lowerIfExpr(fc, x)
	case *ast.MatchExpr:
		subj := lw.lowerExpr(fc, x.Subject)
		dst := fc.alloc()
		lw.lowerMatchArms(fc, subj, x.Arms, &dst)
		return dst
	case *ast.BlockExpr:
		dst := fc.alloc()
		lw.lowerBlockExpr(fc, x.Block, dst)
		return dst
	case *ast.LambdaExpr:
		return lw.lowerLambda(fc, x)
	case *ast.SpawnExpr:
		return lw.lowerSpawn(fc, x)
	case *ast.AwaitExpr:
		f := lw.lowerExpr(fc, x.X)
		dst := fc.alloc()
		fc.emit(lir.OpAwait, dst, f, 0)
		return dst
	case *ast.PipeExpr:
		lhs := lw.lowerExpr(fc, x.X)
		return lw.lowerCallWithLeadingArg(fc, x.Call, lhs)
	case *ast.ComposeExpr:
		f := lw.lowerExpr(fc, x.F)
		g := lw.lowerExpr(fc, x.G)
		dst := fc.alloc()
		fc.emit(lir.OpComposeClosure, dst, f, g)
		return dst
	case *ast.ForComprehension:
		return lw.lowerForComprehension(fc, x)
	}
	r := fc.alloc()
	fc.emit(lir.OpLoadNil, r, 0, 0)
	return r
}

func (lw *Lowerer) lowerStringLit(fc *fnCtx, x *ast.StringLit) uint8 {
	if len(x.Parts) == 1 && x.Parts[0].Expr == nil {
		r := fc.alloc()
		idx := fc.pool.InternString(x.Parts[0].Literal)
		fc.emitBx(lir.OpLoadConst, r, uint16(idx))
		return r
	}
	dst := fc.alloc()
	idx := fc.pool.InternString("")
	fc.emitBx(lir.OpLoadConst, dst, uint16(idx))
	for _, part := range x.Parts {
		mark := fc.mark()
		var piece uint8
		if part.Expr != nil {
			piece = lw.lowerExpr(fc, part.Expr)
		} else {
			piece = fc.alloc()
			idx := fc.pool.InternString(part.Literal)
			fc.emitBx(lir.OpLoadConst, piece, uint16(idx))
		}
		fc.emit(lir.OpConcat, dst, dst, piece)
		fc.release(mark)
	}
	return dst
}

func (lw *Lowerer) lowerIdent(fc *fnCtx, id *ast.Ident) uint8 {
	return lw.lowerIdentByName(fc, id.Name)
}

// lowerIdentByName resolves a bare name to a register: a plain local,
// a captured upvalue (fetched fresh via GetUpvalue into a new
// temporary), or — falling through both — a reference to a named cell
// or top-level const, resolved by name at link time via MakeClosure's
// Bx operand. Factored out of lowerIdent so lowerLambda's free-variable
// capture can resolve a name exactly the same way an ordinary
// reference to it would, including one more level out when the name is
// itself an upvalue of the immediately enclosing lambda.
func (lw *Lowerer) lowerIdentByName(fc *fnCtx, name string) uint8 {
	if r, ok := fc.locals[name]; ok {
		return r
	}
	if idx, ok := fc.upvals[name]; ok {
		dst := fc.alloc()
		fc.emit(lir.OpGetUpvalue, dst, uint8(idx), 0)
		return dst
	}
	r := fc.alloc()
	idx := fc.pool.InternString(name)
	fc.emitBx(lir.OpMakeClosure, r, uint16(idx))
	return r
}

// lowerExprIntoSlot lowers e and guarantees the result lands in a freshly
// allocated register, even when lowerExpr hands back an existing
// register (e.g. a bound local) rather than a new one. Several
// multi-operand instructions (NewList, NewRecord, Call, CallTool) need
// their operands in a contiguous register run, which only holds if
// every operand is forced into its own slot this way.
func (lw *Lowerer) lowerExprIntoSlot(fc *fnCtx, e ast.Expr) uint8 {
	slot := fc.alloc()
	r := lw.lowerExpr(fc, e)
	if r != slot {
		fc.emit(lir.OpMove, slot, r, 0)
	}
	return slot
}

func (lw *Lowerer) lowerContainer(fc *fnCtx, op lir.Op, elems []ast.Expr) uint8 {
	base := fc.next
	for _, el := range elems {
		lw.lowerExprIntoSlot(fc, el)
	}
	dst := fc.alloc()
	fc.emit(op, dst, base, uint8(len(elems)))
	return dst
}

func (lw *Lowerer) lowerRecordExpr(fc *fnCtx, x *ast.RecordExpr) uint8 {
	typeName := typeExprName(x.Type)
	dst := fc.alloc()
	for _, arg := range x.Args {
		lw.lowerExprIntoSlot(fc, arg.Value)
	}
	schemaFields := make([]string, len(x.Args))
	for i, arg := range x.Args {
		schemaFields[i] = arg.Name
	}
	schemaIdx := fc.pool.InternRecordSchema(typeName, schemaFields)
	fc.emitBx(lir.OpNewRecord, dst, uint16(schemaIdx))
	return dst
}

func (lw *Lowerer) lowerUnary(fc *fnCtx, x *ast.UnaryExpr) uint8 {
	v := lw.lowerExpr(fc, x.X)
	dst := fc.alloc()
	switch x.Op {
	case ast.UnaryNeg:
		zero := fc.alloc()
		zc := fc.pool.InternInt(0)
		fc.emitBx(lir.OpLoadConst, zero, uint16(zc))
		fc.emit(lir.OpSub, dst, zero, v)
	case ast.UnaryNot:
		fc.emit(lir.OpNot, dst, v, 0)
	case ast.UnaryBitNot:
		fc.emit(lir.OpBitNot, dst, v, 0)
	default:
		fc.emit(lir.OpMove, dst, v, 0)
	}
	return dst
}

var binaryOps = map[ast.BinaryOp]lir.Op{
	ast.BinAdd: lir.OpAdd, ast.BinSub: lir.OpSub, ast.BinMul: lir.OpMul,
	ast.BinDiv: lir.OpDiv, ast.BinMod: lir.OpMod, ast.BinPow: lir.OpPow,
	ast.BinEq: lir.OpEq, ast.BinNeq: lir.OpNeq,
	ast.BinLt: lir.OpLt, ast.BinLe: lir.OpLe, ast.BinGt: lir.OpGt, ast.BinGe: lir.OpGe,
	ast.BinAnd: lir.OpAnd, ast.BinOr: lir.OpOr,
	ast.BinConcat: lir.OpConcat, ast.BinNullCo: lir.OpNullCo, ast.BinIn: lir.OpIn,
}

func (lw *Lowerer) lowerBinary(fc *fnCtx, x *ast.BinaryExpr) uint8 {
	lhs := lw.lowerExpr(fc, x.X)
	rhs := lw.lowerExpr(fc, x.Y)
	op, ok := binaryOps[x.Op]
	if !ok {
		op = lir.OpAdd
	}
	dst := fc.alloc()
	fc.emit(op, dst, lhs, rhs)
	return dst
}

func (lw *Lowerer) lowerIfExpr(fc *fnCtx, x *ast.IfExpr) uint8 {
	dst := fc.alloc()
	mark := fc.mark()
	cond := lw.lowerExpr(fc, x.Cond)
	jf := fc.emitCondJump(lir.OpJumpIfFalse, cond)
	fc.release(mark)
	lw.lowerExprInto(fc, x.Then, dst)
	jend := fc.emitAx(lir.OpJump, 0)
	fc.patchJumpHere(jf)
	if x.Else != nil {
		lw.lowerExprInto(fc, x.Else, dst)
	} else {
		fc.emit(lir.OpLoadNil, dst, 0, 0)
	}
	fc.patchJumpHere(jend)
	return dst
}

func (lw *Lowerer) lowerExprInto(fc *fnCtx, e ast.Expr, dst uint8) {
	mark := fc.mark()
	r := lw.lowerExpr(fc, e)
	fc.emit(lir.OpMove, dst, r, 0)
	fc.release(mark)
}

// lowerCall lowers a call expression. A bare-ident callee names a
// top-level cell and is resolved at link time by the interned-string
// constant produced by MakeClosure (see lowerIdent); any other callee
// expression is itself lowered to a closure value and called directly.
// Call convention: B names the closure register, the arguments occupy
// the C contiguous registers immediately following it, and A receives
// the return value.
func (lw *Lowerer) lowerCall(fc *fnCtx, x *ast.CallExpr) uint8 {
	if ua, ok := x.Callee.(*ast.FieldExpr); ok {
		if alias, path, isTool := lw.toolRef(ua); isTool {
			return lw.lowerToolCall(fc, alias, path, x.Args)
		}
		if isProcessMethod(ua.Field) {
			return lw.lowerMethodCall(fc, ua.X, ua.Field, x.Args)
		}
	}
	// A `use tool ... as Alias` binding is itself callable directly
	// (spec.md §8 scenario 6: `Fetch(url: "...")`), not only through a
	// `.method(...)` field access — toolRef only recognizes the latter
	// shape, so a bare bound identifier is handled here instead.
	if id, ok := x.Callee.(*ast.Ident); ok {
		if path, bound := lw.mod.ToolAliases[id.Name]; bound {
			return lw.lowerToolCall(fc, id.Name, path, x.Args)
		}
	}
	callee := lw.lowerExprIntoSlot(fc, x.Callee)
	return lw.lowerCallWithArgs(fc, callee, x.Args, nil)
}

// processMethodNames is the fixed method-name set spec.md §4.8 gives
// process instances. Recognizing a field-call by name here, rather than
// resolving it through general dynamic dispatch, mirrors toolRef's
// structural recognition of `tool.method(...)` shapes just above.
var processMethodNames = map[string]bool{
	"append": true, "recent": true, "remember": true, "recall": true,
	"upsert": true, "get": true, "query": true, "store": true,
	"run": true, "start": true, "step": true, "is_terminal": true,
	"current_state": true, "resume_from": true,
}

func isProcessMethod(name string) bool { return processMethodNames[name] }

// lowerMethodCall emits OpCallMethod for a process-instance method call.
// Layout mirrors lowerToolCall: the method-name constant occupies one
// register, with the receiver and arguments in the contiguous registers
// immediately following it.
func (lw *Lowerer) lowerMethodCall(fc *fnCtx, recv ast.Expr, method string, args []ast.RecordArg) uint8 {
	nameIdx := fc.pool.InternString(method)
	nameReg := fc.alloc()
	fc.emitBx(lir.OpLoadConst, nameReg, uint16(nameIdx))
	lw.lowerExprIntoSlot(fc, recv)
	for _, a := range args {
		lw.lowerExprIntoSlot(fc, a.Value)
	}
	dst := fc.alloc()
	fc.emit(lir.OpCallMethod, dst, nameReg, uint8(len(args)))
	return dst
}

// lowerSpawn lowers `spawn(call(...))` per spec.md §4.7. Unlike
// lowerCall, the callee is loaded into a register but never invoked
// here: Spawn only registers a pending future, and it's the VM's
// scheduler -- not the order these instructions were emitted in --
// that decides when the call actually runs, which is what lets
// @deterministic govern Await's drain order instead of the bytecode
// already having run everything in program order by the time Spawn
// executes. Register layout mirrors lowerCallWithArgs: B names the
// closure register, the C contiguous registers after it hold the
// arguments.
//
// spawn's grammar (spec.md §4.7's canonical example) is always
// spawn(call(...)), but the parser accepts any unary expression after
// `spawn`; anything other than a call is lowered eagerly and Spawn
// wraps its already-computed value as an already-resolved future, the
// same fallback the VM used universally before it gained scheduling.
func (lw *Lowerer) lowerSpawn(fc *fnCtx, x *ast.SpawnExpr) uint8 {
	call, ok := x.Call.(*ast.CallExpr)
	if !ok {
		v := lw.lowerExpr(fc, x.Call)
		dst := fc.alloc()
		fc.emit(lir.OpSpawn, dst, v, 0)
		return dst
	}
	callee := lw.lowerExprIntoSlot(fc, call.Callee)
	n := 0
	for _, a := range call.Args {
		lw.lowerExprIntoSlot(fc, a.Value)
		n++
	}
	dst := fc.alloc()
	fc.emit(lir.OpSpawn, dst, callee, uint8(n))
	return dst
}

func (lw *Lowerer) lowerCallWithLeadingArg(fc *fnCtx, call *ast.CallExpr, lead uint8) uint8 {
	callee := lw.lowerExprIntoSlot(fc, call.Callee)
	return lw.lowerCallWithArgs(fc, callee, call.Args, &lead)
}

func (lw *Lowerer) lowerCallWithArgs(fc *fnCtx, callee uint8, args []ast.RecordArg, lead *uint8) uint8 {
	n := 0
	if lead != nil {
		r := fc.alloc()
		fc.emit(lir.OpMove, r, *lead, 0)
		n++
	}
	for _, a := range args {
		lw.lowerExprIntoSlot(fc, a.Value)
		n++
	}
	dst := fc.alloc()
	fc.emit(lir.OpCall, dst, callee, uint8(n))
	return dst
}

// toolRef recognizes a `tool.method(...)`-shaped field access where
// `tool` is a local alias bound by a `use tool` declaration, returning
// the alias and its resolved dotted path.
func (lw *Lowerer) toolRef(fe *ast.FieldExpr) (alias, path string, ok bool) {
	id, isIdent := fe.X.(*ast.Ident)
	if !isIdent {
		return "", "", false
	}
	p, bound := lw.mod.ToolAliases[id.Name]
	if !bound {
		return "", "", false
	}
	return id.Name, p + "." + fe.Field, true
}

func (lw *Lowerer) lowerToolCall(fc *fnCtx, alias, path string, args []ast.RecordArg) uint8 {
	argNames := make([]string, len(args))
	for i, a := range args {
		argNames[i] = a.Name
	}
	schemaIdx := fc.pool.InternToolSchema(alias, path, argNames)
	schemaReg := fc.alloc()
	fc.emitBx(lir.OpLoadConst, schemaReg, uint16(schemaIdx))
	for _, a := range args {
		lw.lowerExprIntoSlot(fc, a.Value)
	}
	dst := fc.alloc()
	fc.emit(lir.OpCallTool, dst, schemaReg, uint8(len(args)))
	return dst
}

// lowerLambda compiles a lambda into its own top-level cell and
// produces a closure value referencing it by name. Free variables
// drawn from the lambda's defining scope (spec.md §3's "Closure (cell
// index + captured upvalues)") are resolved by freeVarNames before the
// body is lowered, so every reference to one inside the body compiles
// to GetUpvalue rather than the bare-name-as-cell-reference fallback
// lowerIdentByName uses for anything it doesn't otherwise recognize.
func (lw *Lowerer) lowerLambda(fc *fnCtx, x *ast.LambdaExpr) uint8 {
	name := fmt.Sprintf("%s$lambda%d", fc.cell.Name, lw.lambdaSeq)
	lw.lambdaSeq++
	free := lw.freeVarNames(x, fc)

	inner := newFnCtx(lw.out.Consts, name, len(x.Params))
	for _, p := range x.Params {
		inner.bind(p.Name)
	}
	if len(free) > 0 {
		inner.upvals = make(map[string]int, len(free))
		for i, n := range free {
			inner.upvals[n] = i
		}
	}
	r := lw.lowerExpr(inner, x.Body)
	inner.emit(lir.OpReturn, r, 0, 0)
	inner.cell.Registers = int(inner.high)
	lw.out.Cells = append(lw.out.Cells, inner.cell)

	dst := fc.alloc()
	idx := fc.pool.InternString(name)
	fc.emitBx(lir.OpMakeClosure, dst, uint16(idx))
	// Capture each free variable's current value, in the same order
	// inner.upvals assigned indices, immediately after MakeClosure --
	// resolved through lowerIdentByName so a name that is itself an
	// upvalue of fc (a lambda nested inside another lambda) captures
	// correctly one level further out, not just fc's own plain locals.
	for _, n := range free {
		src := lw.lowerIdentByName(fc, n)
		fc.emit(lir.OpCaptureUpvalue, dst, src, 0)
	}
	return dst
}

// freeVarNames returns, in first-seen order, the names lambda's body
// references that are bound neither by its own parameters nor by any
// let/for/match pattern introduced inside its own body, but that are
// available one scope out — as one of fc's own locals, or (for a
// lambda nested inside another lambda) one of fc's own captured
// upvalues. Each becomes one upvalue slot.
//
// Scope tracking here is append-only within one walk: a name bound in
// one arm of an if/match is never un-bound for an unrelated later use
// of the same name in a sibling arm. That can only cause a capture to
// be skipped when the name was already shadowed throughout the body
// anyway, never cause an actually-free variable to go uncaptured.
func (lw *Lowerer) freeVarNames(x *ast.LambdaExpr, fc *fnCtx) []string {
	bound := map[string]bool{}
	for _, p := range x.Params {
		bound[p.Name] = true
	}
	var order []string
	seen := map[string]bool{}
	add := func(name string) {
		if bound[name] || seen[name] {
			return
		}
		_, isLocal := fc.locals[name]
		_, isUpval := fc.upvals[name]
		if !isLocal && !isUpval {
			return
		}
		seen[name] = true
		order = append(order, name)
	}
	bindPatternNames := func(p ast.Pattern) {
		for _, n := range patternNames(p) {
			bound[n] = true
		}
	}

	var walkExpr func(ast.Expr)
	var walkStmt func(ast.Stmt)

	walkExpr = func(e ast.Expr) {
		if e == nil {
			return
		}
		switch v := e.(type) {
		case *ast.Ident:
			add(v.Name)
		case *ast.CallExpr:
			walkExpr(v.Callee)
			for _, a := range v.Args {
				walkExpr(a.Value)
			}
		case *ast.SpawnExpr:
			walkExpr(v.Call)
		case *ast.AwaitExpr:
			walkExpr(v.X)
		case *ast.BinaryExpr:
			walkExpr(v.X)
			walkExpr(v.Y)
		case *ast.UnaryExpr:
			walkExpr(v.X)
		case *ast.RangeExpr:
			walkExpr(v.From)
			walkExpr(v.To)
		case *ast.FieldExpr:
			walkExpr(v.X)
		case *ast.IndexExpr:
			walkExpr(v.X)
			walkExpr(v.Index)
		case *ast.TryExpr:
			walkExpr(v.X)
		case *ast.NullAssertExpr:
			walkExpr(v.X)
		case *ast.NullCoalesceExpr:
			walkExpr(v.X)
			walkExpr(v.Default)
		case *ast.CastExpr:
			walkExpr(v.X)
		case *ast.IsExpr:
			walkExpr(v.X)
		case *ast.IfExpr:
			walkExpr(v.Cond)
			walkExpr(v.Then)
			walkExpr(v.Else)
		case *ast.MatchExpr:
			walkExpr(v.Subject)
			for _, arm := range v.Arms {
				bindPatternNames(arm.Pattern)
				walkExpr(arm.Guard)
				walkExpr(arm.Body)
			}
		case *ast.BlockExpr:
			walkLambdaBlock(v.Block, walkStmt)
		case *ast.LambdaExpr:
			saved := bound
			inner := make(map[string]bool, len(saved)+len(v.Params))
			for k := range saved {
				inner[k] = true
			}
			for _, p := range v.Params {
				inner[p.Name] = true
			}
			bound = inner
			walkExpr(v.Body)
			bound = saved
		case *ast.PipeExpr:
			walkExpr(v.X)
			walkExpr(v.Call)
		case *ast.ComposeExpr:
			walkExpr(v.F)
			walkExpr(v.G)
		case *ast.ForComprehension:
			walkExpr(v.Iter)
			bindPatternNames(v.Pattern)
			walkExpr(v.Filter)
			walkExpr(v.Body)
		case *ast.ListExpr:
			for _, el := range v.Elems {
				walkExpr(el)
			}
		case *ast.SetExpr:
			for _, el := range v.Elems {
				walkExpr(el)
			}
		case *ast.TupleExpr:
			for _, el := range v.Elems {
				walkExpr(el)
			}
		case *ast.MapExpr:
			for _, en := range v.Entries {
				walkExpr(en.Key)
				walkExpr(en.Value)
			}
		case *ast.RecordExpr:
			for _, a := range v.Args {
				walkExpr(a.Value)
			}
		case *ast.StringLit:
			for _, part := range v.Parts {
				walkExpr(part.Expr)
			}
		}
	}

	walkStmt = func(s ast.Stmt) {
		if s == nil {
			return
		}
		switch v := s.(type) {
		case *ast.LetStmt:
			walkExpr(v.Value)
			bindPatternNames(v.Pattern)
		case *ast.AssignStmt:
			walkExpr(v.Target)
			walkExpr(v.Value)
		case *ast.ExprStmt:
			walkExpr(v.X)
		case *ast.ReturnStmt:
			walkExpr(v.Value)
		case *ast.IfStmt:
			walkExpr(v.Cond)
			walkLambdaBlock(v.Then, walkStmt)
			walkLambdaBlock(v.Else, walkStmt)
		case *ast.ForStmt:
			walkExpr(v.Iter)
			bindPatternNames(v.Pattern)
			walkExpr(v.Filter)
			walkLambdaBlock(v.Body, walkStmt)
		case *ast.WhileStmt:
			walkExpr(v.Cond)
			walkLambdaBlock(v.Body, walkStmt)
		case *ast.LoopStmt:
			walkLambdaBlock(v.Body, walkStmt)
		case *ast.MatchStmt:
			walkExpr(v.Subject)
			for _, arm := range v.Arms {
				bindPatternNames(arm.Pattern)
				walkExpr(arm.Guard)
				walkExpr(arm.Body)
			}
		case *ast.DeferStmt:
			walkLambdaBlock(v.Body, walkStmt)
		case *ast.HaltStmt:
			walkExpr(v.Message)
		}
	}

	walkExpr(x.Body)
	return order
}

func walkLambdaBlock(b *ast.Block, walkStmt func(ast.Stmt)) {
	if b == nil {
		return
	}
	for _, s := range b.Stmts {
		walkStmt(s)
	}
}

// patternNames lists every name a pattern binds, used by freeVarNames
// to grow its bound set as it walks past a let/for/match-arm pattern.
func patternNames(pat ast.Pattern) []string {
	var names []string
	var walk func(ast.Pattern)
	walk = func(p ast.Pattern) {
		switch pt := p.(type) {
		case *ast.IdentPattern:
			names = append(names, pt.Name)
		case *ast.TuplePattern:
			for _, el := range pt.Elems {
				walk(el)
			}
		case *ast.ListPattern:
			for _, el := range pt.Elems {
				walk(el)
			}
			if pt.HasRest && pt.Rest != "" {
				names = append(names, pt.Rest)
			}
		case *ast.RecordPattern:
			for _, f := range pt.Fields {
				walk(f.Pattern)
			}
		case *ast.VariantPattern:
			for _, el := range pt.Positional {
				walk(el)
			}
			for _, f := range pt.Named {
				walk(f.Pattern)
			}
		case *ast.OrPattern:
			for _, alt := range pt.Alternatives {
				walk(alt)
			}
		case *ast.TypedPattern:
			names = append(names, pt.Name)
		}
	}
	walk(pat)
	return names
}

// lowerForComprehension lowers `[ body for pat in iter if filter ]` to
// a fresh accumulator list built by an ordinary for-loop, since LIR has
// no dedicated comprehension opcode.
func (lw *Lowerer) lowerForComprehension(fc *fnCtx, x *ast.ForComprehension) uint8 {
	acc := fc.alloc()
	fc.emit(lir.OpNewList, acc, fc.next, 0)

	iterReg := lw.lowerExpr(fc, x.Iter)
	idxReg := fc.alloc()
	zeroC := fc.pool.InternInt(0)
	fc.emitBx(lir.OpLoadConst, idxReg, uint16(zeroC))

	testAt := len(fc.cell.Instrs)
	condReg := fc.alloc()
	fc.emit(lir.OpLt, condReg, idxReg, iterReg)
	jf := fc.emitCondJump(lir.OpJumpIfFalse, condReg)

	elemReg := fc.alloc()
	fc.emit(lir.OpGetIndex, elemReg, iterReg, idxReg)
	fc.release(elemReg + 1)
	lw.bindPattern(fc, x.Pattern, elemReg)

	if x.Filter != nil {
		fr := lw.lowerExpr(fc, x.Filter)
		skipJf := fc.emitCondJump(lir.OpJumpIfFalse, fr)
		body := lw.lowerExpr(fc, x.Body)
		fc.emit(lir.OpSetIndex, acc, idxReg, body)
		fc.patchJumpHere(skipJf)
	} else {
		body := lw.lowerExpr(fc, x.Body)
		fc.emit(lir.OpSetIndex, acc, idxReg, body)
	}

	oneC := fc.pool.InternInt(1)
	oneReg := fc.alloc()
	fc.emitBx(lir.OpLoadConst, oneReg, uint16(oneC))
	fc.emit(lir.OpAdd, idxReg, idxReg, oneReg)
	fc.release(condReg)

	back := fc.emitAx(lir.OpJump, 0)
	fc.patchJumpTo(back, testAt)
	fc.patchJumpHere(jf)
	return acc
}

// lowerProcess compiles a `memory`/`machine`/`pipeline` declaration
// into a constructor cell that builds the runtime's backing record
// (spec.md §4.8): `memory` carries an item-type descriptor for its VM-
// native storage, `machine` carries its state table as a record schema
// keyed by state name, and `pipeline` is lowered exactly like `machine`,
// from its own declared states; no implicit state is added.
func (lw *Lowerer) lowerProcess(d *ast.ProcessDecl) {
	name := d.Name + "$new"
	fc := newFnCtx(lw.out.Consts, name, 0)

	var fields []string
	switch d.Kind {
	case ast.ProcessMemory:
		fields = []string{"items", "kind"}
	default:
		for _, st := range d.States {
			fields = append(fields, st.Name)
		}
		fields = append(fields, "__state")
	}
	schemaIdx := fc.pool.InternRecordSchema(d.Name, fields)

	// dst is reserved first so the field values that follow land in the
	// contiguous run dst+1..dst+len(fields) that OpNewRecord expects.
	dst := fc.alloc()
	switch d.Kind {
	case ast.ProcessMemory:
		itemsReg := fc.alloc()
		fc.emit(lir.OpNewList, itemsReg, fc.next, 0)
		kindIdx := fc.pool.InternString(string(d.Kind))
		kindReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, kindReg, uint16(kindIdx))
	default:
		// Every declared state starts unvisited (Null); machine/pipeline
		// transition logic (spec.md §4.8, flagged partial at §9) drives
		// the actual per-state payload at runtime, not construction time.
		for range d.States {
			r := fc.alloc()
			fc.emit(lir.OpLoadNil, r, 0, 0)
		}
		stateIdx := fc.pool.InternString(d.Initial)
		stateReg := fc.alloc()
		fc.emitBx(lir.OpLoadConst, stateReg, uint16(stateIdx))
	}

	fc.emitBx(lir.OpNewRecord, dst, uint16(schemaIdx))
	fc.emit(lir.OpReturn, dst, 0, 0)
	fc.cell.Registers = int(fc.high)
	lw.out.Cells = append(lw.out.Cells, fc.cell)
}
