package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/lir"
)

// addCell builds `add(a, b) = a + b` by hand: registers 0,1 are the
// params, register 2 holds the sum.
func addModule() *lir.Module {
	mod := lir.NewModule("test")
	cell := &lir.Cell{Name: "add", NumParams: 2, Registers: 3}
	cell.Instrs = []lir.Instr{
		lir.Encode(lir.OpAdd, 2, 0, 1),
		lir.Encode(lir.OpReturn, 2, 0, 0),
	}
	mod.Cells = append(mod.Cells, cell)
	return mod
}

func TestMachineCallArithmetic(t *testing.T) {
	m := New(addModule(), nil, nil)
	result, err := m.Call("add", []Value{Int(2), Int(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Int)
}

// callerModule builds two cells: `inc(x) = add1(x)` which calls a
// second cell `add1(x) = x + 1`, exercising Call/Return across frames.
func callerModule() *lir.Module {
	mod := lir.NewModule("test")

	add1 := &lir.Cell{Name: "add1", NumParams: 1, Registers: 3}
	oneIdx := mod.Consts.InternInt(1)
	add1.Instrs = []lir.Instr{
		lir.EncodeBx(lir.OpLoadConst, 1, uint16(oneIdx)),
		lir.Encode(lir.OpAdd, 2, 0, 1),
		lir.Encode(lir.OpReturn, 2, 0, 0),
	}
	mod.Cells = append(mod.Cells, add1)

	inc := &lir.Cell{Name: "inc", NumParams: 1, Registers: 3}
	nameIdx := mod.Consts.InternString("add1")
	inc.Instrs = []lir.Instr{
		lir.EncodeBx(lir.OpMakeClosure, 1, uint16(nameIdx)),
		lir.Encode(lir.OpMove, 2, 1, 0),  // callee into its own slot
		lir.Encode(lir.OpMove, 3, 0, 0),  // arg into the slot right after
		lir.Encode(lir.OpCall, 4, 2, 1),  // dst=4, callee=reg2, argc=1
		lir.Encode(lir.OpReturn, 4, 0, 0),
	}
	inc.Registers = 5
	mod.Cells = append(mod.Cells, inc)
	return mod
}

func TestMachineCallAcrossFrames(t *testing.T) {
	m := New(callerModule(), nil, nil)
	result, err := m.Call("inc", []Value{Int(41)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Int)
}

// ifModule builds `sign(x) = if x < 0 { -1 } else { 1 }`.
func ifModule() *lir.Module {
	mod := lir.NewModule("test")
	cell := &lir.Cell{Name: "sign", NumParams: 1, Registers: 4}
	zeroIdx := mod.Consts.InternInt(0)
	negIdx := mod.Consts.InternInt(-1)
	posIdx := mod.Consts.InternInt(1)
	instrs := []lir.Instr{
		lir.EncodeBx(lir.OpLoadConst, 1, uint16(zeroIdx)), // 0
		lir.Encode(lir.OpLt, 2, 0, 1),                      // 1: r2 = x < 0
		0,                                                  // 2: JumpIfFalse placeholder
		lir.EncodeBx(lir.OpLoadConst, 3, uint16(negIdx)),   // 3: then-branch
		lir.Encode(lir.OpReturn, 3, 0, 0),                  // 4
		lir.EncodeBx(lir.OpLoadConst, 3, uint16(posIdx)),   // 5: else-branch
		lir.Encode(lir.OpReturn, 3, 0, 0),                  // 6
	}
	// JumpIfFalse at ip=2 tests register 2, jumps to ip=5 on false.
	instrs[2] = lir.EncodeSBx(lir.OpJumpIfFalse, 2, int32(5-2-1))
	cell.Instrs = instrs
	mod.Cells = append(mod.Cells, cell)
	return mod
}

func TestMachineConditionalBranch(t *testing.T) {
	m := New(ifModule(), nil, nil)

	neg, err := m.Call("sign", []Value{Int(-5)})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), neg.Int)

	pos, err := m.Call("sign", []Value{Int(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos.Int)
}

type stubDispatcher struct {
	calls     []string
	lastNames []string
}

func (s *stubDispatcher) Dispatch(alias string, argNames []string, args []Value) (Value, error) {
	s.calls = append(s.calls, alias)
	s.lastNames = argNames
	if alias == "fails" {
		return Value{}, errors.New("boom")
	}
	return String("ok"), nil
}

// toolModule builds `ask() = echo.say(message: "hi")` against a tool alias.
func toolModule() *lir.Module {
	mod := lir.NewModule("test")
	cell := &lir.Cell{Name: "ask", NumParams: 0, Registers: 3}
	schemaIdx := mod.Consts.InternToolSchema("echo", "say", []string{"message"})
	msgIdx := mod.Consts.InternString("hi")
	cell.Instrs = []lir.Instr{
		lir.EncodeBx(lir.OpLoadConst, 0, uint16(schemaIdx)),
		lir.EncodeBx(lir.OpLoadConst, 1, uint16(msgIdx)),
		lir.Encode(lir.OpCallTool, 2, 0, 1),
		lir.Encode(lir.OpReturn, 2, 0, 0),
	}
	mod.Cells = append(mod.Cells, cell)
	return mod
}

func TestMachineCallTool(t *testing.T) {
	disp := &stubDispatcher{}
	m := New(toolModule(), disp, nil)
	result, err := m.Call("ask", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, disp.calls)
	assert.Equal(t, []string{"message"}, disp.lastNames)
	require.Equal(t, KUnion, result.Kind)
	assert.Equal(t, "Ok", result.Union.Tag)
	assert.Equal(t, "ok", result.Union.Inner.Str)
}

func TestMachineCallToolFailurePackagesErr(t *testing.T) {
	disp := &stubDispatcher{}
	mod := toolModule()
	// Repoint the schema at the alias that makes the stub fail.
	schemaIdx := mod.Consts.InternToolSchema("fails", "say", []string{"message"})
	mod.Cells[0].Instrs[0] = lir.EncodeBx(lir.OpLoadConst, 0, uint16(schemaIdx))

	m := New(mod, disp, nil)
	result, err := m.Call("ask", nil)
	require.NoError(t, err)
	assert.Equal(t, "Err", result.Union.Tag)
}

// spawnAwaitModule builds `run() = await spawn(add(2,3))` to exercise
// the eager-spawn/future path under deterministic mode.
func spawnAwaitModule() *lir.Module {
	mod := lir.NewModule("test")

	add := &lir.Cell{Name: "add", NumParams: 2, Registers: 3}
	add.Instrs = []lir.Instr{
		lir.Encode(lir.OpAdd, 2, 0, 1),
		lir.Encode(lir.OpReturn, 2, 0, 0),
	}
	mod.Cells = append(mod.Cells, add)

	run := &lir.Cell{Name: "run", NumParams: 0, Registers: 6}
	twoIdx := mod.Consts.InternInt(2)
	threeIdx := mod.Consts.InternInt(3)
	nameIdx := mod.Consts.InternString("add")
	run.Instrs = []lir.Instr{
		lir.EncodeBx(lir.OpLoadConst, 0, uint16(twoIdx)),
		lir.EncodeBx(lir.OpLoadConst, 1, uint16(threeIdx)),
		lir.EncodeBx(lir.OpMakeClosure, 2, uint16(nameIdx)),
		lir.Encode(lir.OpMove, 3, 0, 0),
		lir.Encode(lir.OpMove, 4, 1, 0),
		lir.Encode(lir.OpCall, 5, 2, 2), // dst=5, callee=reg2, argc=2
		lir.Encode(lir.OpSpawn, 2, 5, 0),
		lir.Encode(lir.OpAwait, 3, 2, 0),
		lir.Encode(lir.OpReturn, 3, 0, 0),
	}
	mod.Cells = append(mod.Cells, run)
	return mod
}

func TestMachineSpawnAwaitDeterministic(t *testing.T) {
	m := New(spawnAwaitModule(), nil, nil)
	m.Deterministic = true
	result, err := m.Call("run", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Int)
	assert.Len(t, m.futures, 1)
	assert.Equal(t, FutureResolved, m.futures[0].state)
}

// emitOrderSink records every value passed to Emit, in call order, so
// tests can observe which spawned future actually ran first.
type emitOrderSink struct {
	seen []int64
}

func (s *emitOrderSink) Emit(kind, detail string, args []Value) {
	if len(args) == 1 {
		s.seen = append(s.seen, args[0].Int)
	}
}

// twoSpawnsModule builds a `tag(x) = { emit x; return x }` cell and a
// `run()` that spawns tag(10) then tag(20) WITHOUT awaiting either
// right away, then awaits the second spawn before the first. Neither
// future has run by the time either Await instruction executes, so
// which one actually runs first is entirely the scheduler's call —
// this is what distinguishes real deferred scheduling from the old
// eager implementation, where both calls would already be long
// finished (in spawn order) before either Await was reached.
func twoSpawnsModule() *lir.Module {
	mod := lir.NewModule("test")

	tag := &lir.Cell{Name: "tag", NumParams: 1, Registers: 1}
	tag.Instrs = []lir.Instr{
		lir.Encode(lir.OpEmit, 0, 0, 0),
		lir.Encode(lir.OpReturn, 0, 0, 0),
	}
	mod.Cells = append(mod.Cells, tag)

	run := &lir.Cell{Name: "run", NumParams: 0, Registers: 10}
	tenIdx := mod.Consts.InternInt(10)
	twentyIdx := mod.Consts.InternInt(20)
	nameIdx := mod.Consts.InternString("tag")
	run.Instrs = []lir.Instr{
		lir.EncodeBx(lir.OpLoadConst, 0, uint16(tenIdx)),
		lir.EncodeBx(lir.OpLoadConst, 1, uint16(twentyIdx)),
		lir.EncodeBx(lir.OpMakeClosure, 2, uint16(nameIdx)), // callee slot, spawn A
		lir.Encode(lir.OpMove, 3, 0, 0),                     // arg: 10
		lir.Encode(lir.OpSpawn, 4, 2, 1),                    // futA = spawn tag(10)
		lir.EncodeBx(lir.OpMakeClosure, 5, uint16(nameIdx)), // callee slot, spawn B
		lir.Encode(lir.OpMove, 6, 1, 0),                     // arg: 20
		lir.Encode(lir.OpSpawn, 7, 5, 1),                    // futB = spawn tag(20)
		lir.Encode(lir.OpAwait, 8, 7, 0),                    // await futB first
		lir.Encode(lir.OpAwait, 9, 4, 0),                    // then await futA
		lir.Encode(lir.OpReturn, 8, 0, 0),
	}
	mod.Cells = append(mod.Cells, run)
	return mod
}

func TestMachineSpawnDefersUntilAwaited(t *testing.T) {
	sink := &emitOrderSink{}
	m := New(twoSpawnsModule(), nil, sink)
	_, err := m.Call("run", nil)
	require.NoError(t, err)
	require.Len(t, sink.seen, 2)
	assert.ElementsMatch(t, []int64{10, 20}, sink.seen, "neither spawned call has run yet when Spawn returns, so nothing is emitted until the first Await forces the scheduler to run")
}

func TestMachineSpawnSchedulingRespectsDeterministic(t *testing.T) {
	fifo := &emitOrderSink{}
	m := New(twoSpawnsModule(), nil, fifo)
	m.Deterministic = true
	_, err := m.Call("run", nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, fifo.seen, "deterministic mode must drain futures in FIFO spawn order regardless of which one is awaited first")

	lifo := &emitOrderSink{}
	m2 := New(twoSpawnsModule(), nil, lifo)
	_, err = m2.Call("run", nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 10}, lifo.seen, "outside deterministic mode the scheduler runs the most recently spawned pending future first, which must produce a different order than FIFO to prove Deterministic actually governs scheduling")
}

func TestMachineStackOverflow(t *testing.T) {
	mod := lir.NewModule("test")
	cell := &lir.Cell{Name: "loop", NumParams: 0, Registers: 2}
	nameIdx := mod.Consts.InternString("loop")
	cell.Instrs = []lir.Instr{
		lir.EncodeBx(lir.OpMakeClosure, 0, uint16(nameIdx)),
		lir.Encode(lir.OpCall, 1, 0, 0),
		lir.Encode(lir.OpReturn, 1, 0, 0),
	}
	mod.Cells = append(mod.Cells, cell)

	m := New(mod, nil, nil)
	_, err := m.Call("loop", nil)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "StackOverflow", rerr.Kind)
}

func TestMachineDivByZero(t *testing.T) {
	mod := lir.NewModule("test")
	cell := &lir.Cell{Name: "bad", NumParams: 0, Registers: 3}
	zeroIdx := mod.Consts.InternInt(0)
	tenIdx := mod.Consts.InternInt(10)
	cell.Instrs = []lir.Instr{
		lir.EncodeBx(lir.OpLoadConst, 0, uint16(tenIdx)),
		lir.EncodeBx(lir.OpLoadConst, 1, uint16(zeroIdx)),
		lir.Encode(lir.OpFloorDiv, 2, 0, 1),
		lir.Encode(lir.OpReturn, 2, 0, 0),
	}
	mod.Cells = append(mod.Cells, cell)

	m := New(mod, nil, nil)
	_, err := m.Call("bad", nil)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "DivByZero", rerr.Kind)
}

func TestValueCopyOnWrite(t *testing.T) {
	l := NewList([]Value{Int(1), Int(2), Int(3)})
	l.List.refs = 2 // simulate a second live reference
	shared := l
	err := (&Machine{}).setIndex(&l, Int(0), Int(99))
	require.NoError(t, err)
	assert.Equal(t, int64(1), shared.List.elems[0].Int, "original backing store must be untouched")
	assert.Equal(t, int64(99), l.List.elems[0].Int)
}
