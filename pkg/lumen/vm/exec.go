package vm

import "github.com/ternarybob/lumen/pkg/lumen/lir"

// step executes the single instruction at cur.ip within cell, mutating
// cur.ip for jumps/falls-through and returning stepCall/stepReturn to
// tell run how to adjust the frame stack. Arithmetic/logical opcodes
// only support Int/Float/Bool/String operands; a checked program never
// reaches this code with mismatched operands except through an Any
// recovery value, in which case a RuntimeError surfaces (spec.md §4.7
// "Failure modes": "type-mismatch at runtime").
func (m *Machine) step(cell *lir.Cell, cur *frame, ins lir.Instr) (stepOutcome, Value, error) {
	base := cur.base
	op := ins.Op()
	a := base + int(ins.A())

	switch op {
	case lir.OpLoadConst:
		c := m.mod.Consts.Get(int(ins.Bx()))
		m.setReg(a, constToValue(c))
		return stepContinue, Value{}, nil

	case lir.OpLoadNil:
		m.setReg(a, Null())
		return stepContinue, Value{}, nil

	case lir.OpLoadBool:
		m.setReg(a, Bool(ins.B() != 0))
		return stepContinue, Value{}, nil

	case lir.OpMove:
		m.setReg(a, m.reg(base+int(ins.B())))
		return stepContinue, Value{}, nil

	case lir.OpAdd, lir.OpSub, lir.OpMul, lir.OpDiv, lir.OpMod, lir.OpPow, lir.OpFloorDiv:
		v, err := m.arith(op, m.reg(base+int(ins.B())), m.reg(base+int(ins.C())))
		if err != nil {
			return stepContinue, Value{}, err
		}
		m.setReg(a, v)
		return stepContinue, Value{}, nil

	case lir.OpEq:
		m.setReg(a, Bool(m.reg(base+int(ins.B())).Equal(m.reg(base+int(ins.C())))))
		return stepContinue, Value{}, nil
	case lir.OpNeq:
		m.setReg(a, Bool(!m.reg(base+int(ins.B())).Equal(m.reg(base+int(ins.C())))))
		return stepContinue, Value{}, nil
	case lir.OpLt, lir.OpLe, lir.OpGt, lir.OpGe:
		v, err := m.compare(op, m.reg(base+int(ins.B())), m.reg(base+int(ins.C())))
		if err != nil {
			return stepContinue, Value{}, err
		}
		m.setReg(a, v)
		return stepContinue, Value{}, nil

	case lir.OpAnd:
		m.setReg(a, Bool(m.reg(base+int(ins.B())).Truthy() && m.reg(base+int(ins.C())).Truthy()))
		return stepContinue, Value{}, nil
	case lir.OpOr:
		m.setReg(a, Bool(m.reg(base+int(ins.B())).Truthy() || m.reg(base+int(ins.C())).Truthy()))
		return stepContinue, Value{}, nil
	case lir.OpNot:
		m.setReg(a, Bool(!m.reg(base+int(ins.B())).Truthy()))
		return stepContinue, Value{}, nil

	case lir.OpConcat:
		m.setReg(a, String(m.reg(base+int(ins.B())).String()+m.reg(base+int(ins.C())).String()))
		return stepContinue, Value{}, nil

	case lir.OpNullCo:
		v := m.reg(base + int(ins.B()))
		if v.Kind == KNull {
			v = m.reg(base + int(ins.C()))
		}
		m.setReg(a, v)
		return stepContinue, Value{}, nil

	case lir.OpIs:
		subj := m.reg(base + int(ins.B()))
		typeDesc := m.reg(base + int(ins.C())).Str
		m.setReg(a, Bool(matchesTypeDescriptor(subj, typeDesc)))
		return stepContinue, Value{}, nil

	case lir.OpJump:
		cur.ip += int(ins.Ax()) + 1
		return stepJump, Value{}, nil
	case lir.OpJumpIfTrue:
		if m.reg(a).Truthy() {
			cur.ip += int(ins.SBx()) + 1
			return stepJump, Value{}, nil
		}
		return stepContinue, Value{}, nil
	case lir.OpJumpIfFalse:
		if !m.reg(a).Truthy() {
			cur.ip += int(ins.SBx()) + 1
			return stepJump, Value{}, nil
		}
		return stepContinue, Value{}, nil

	case lir.OpNewList:
		n := int(ins.C())
		elems := make([]Value, n)
		baseReg := base + int(ins.B())
		for i := 0; i < n; i++ {
			elems[i] = m.reg(baseReg + i)
		}
		m.setReg(a, NewList(elems))
		return stepContinue, Value{}, nil

	case lir.OpNewSet, lir.OpNewTuple:
		n := int(ins.C())
		elems := make([]Value, n)
		baseReg := base + int(ins.B())
		for i := 0; i < n; i++ {
			elems[i] = m.reg(baseReg + i)
		}
		m.setReg(a, NewList(elems))
		return stepContinue, Value{}, nil

	case lir.OpNewMap:
		n := int(ins.C())
		pairs := make([]Value, n)
		baseReg := base + int(ins.B())
		for i := 0; i < n; i++ {
			pairs[i] = m.reg(baseReg + i)
		}
		m.setReg(a, NewMap(pairs))
		return stepContinue, Value{}, nil

	case lir.OpNewRecord:
		// Field values occupy the contiguous registers immediately
		// following the destination register (pkg/lumen/lower's
		// lowerRecordExpr/lowerProcess reserve dst first for exactly
		// this reason); the schema constant names the field order.
		schemaConst := m.mod.Consts.Get(int(ins.Bx()))
		name, fields := "", []string(nil)
		if schemaConst.Kind == lir.ConstRecordSchema {
			name, fields = schemaConst.Record.Name, schemaConst.Record.Fields
		}
		vals := make([]Value, len(fields))
		for i := range fields {
			vals[i] = m.reg(a + 1 + i)
		}
		m.setReg(a, NewRecord(name, fields, vals))
		return stepContinue, Value{}, nil

	case lir.OpGetIndex:
		v, err := m.getIndex(m.reg(base+int(ins.B())), m.reg(base+int(ins.C())))
		if err != nil {
			return stepContinue, Value{}, err
		}
		m.setReg(a, v)
		return stepContinue, Value{}, nil

	case lir.OpSetIndex:
		obj := m.reg(a)
		if err := m.setIndex(&obj, m.reg(base+int(ins.B())), m.reg(base+int(ins.C()))); err != nil {
			return stepContinue, Value{}, err
		}
		m.setReg(a, obj)
		return stepContinue, Value{}, nil

	case lir.OpMakeClosure:
		c := m.mod.Consts.Get(int(ins.Bx()))
		m.setReg(a, Closure(c.Str))
		return stepContinue, Value{}, nil

	case lir.OpComposeClosure:
		fv := m.reg(base + int(ins.B()))
		gv := m.reg(base + int(ins.C()))
		m.setReg(a, NewComposedClosure(fv, gv))
		return stepContinue, Value{}, nil

	case lir.OpCaptureUpvalue:
		closure := m.reg(a)
		closure.Upvalues = append(closure.Upvalues, m.reg(base+int(ins.B())))
		m.setReg(a, closure)
		return stepContinue, Value{}, nil

	case lir.OpCall, lir.OpTailCall:
		return m.prepareCall(cell, cur, ins, op == lir.OpTailCall)

	case lir.OpReturn:
		return stepReturn, m.reg(a), nil

	case lir.OpCallTool:
		return m.callTool(cur, ins)

	case lir.OpCallMethod:
		return m.callMethod(cur, ins)

	case lir.OpEmit:
		if m.trace != nil {
			m.trace.Emit("effect-emit", "", []Value{m.reg(a)})
		}
		return stepContinue, Value{}, nil

	case lir.OpTryUnwrap:
		v := m.reg(base + int(ins.B()))
		if v.Kind == KUnion {
			if v.Union.Tag == "Err" {
				return stepReturn, v, nil
			}
			m.setReg(a, v.Union.Inner)
			return stepContinue, Value{}, nil
		}
		if v.Kind == KNull {
			return stepContinue, Value{}, rtErr("NullAssert", "null assertion failed")
		}
		m.setReg(a, v)
		return stepContinue, Value{}, nil

	case lir.OpHalt:
		return stepReturn, Value{}, rtErr("Halt", "%s", m.reg(a).String())

	case lir.OpSpawn:
		// B names the closure register and the C contiguous registers
		// after it hold its arguments (lowerSpawn mirrors lowerCall's
		// layout) for the canonical spec.md §4.7 shape spawn(call(...)).
		// Unlike an ordinary Call, the callee is NOT invoked here: Spawn
		// only registers a pending future, so the scheduler -- not
		// program order -- decides when it actually runs (see
		// resolveFuture). A B register that isn't even a Closure means
		// lowerSpawn fell back to its non-call-shape path; that value is
		// wrapped as an already-resolved future exactly the way this
		// opcode always behaved before it gained real scheduling.
		calleeReg := base + int(ins.B())
		callee := m.reg(calleeReg)
		if callee.Kind != KClosure {
			idx := len(m.futures)
			m.futures = append(m.futures, futureEntry{state: FutureResolved, value: callee, order: m.nextOrder})
			m.nextOrder++
			m.ready = append(m.ready, idx)
			m.setReg(a, Value{Kind: KFuture, Future: idx})
			return stepContinue, Value{}, nil
		}
		n := int(ins.C())
		args := make([]Value, n)
		for i := 0; i < n; i++ {
			args[i] = m.reg(calleeReg + 1 + i)
		}
		if callee.Compose != nil {
			// A composed closure (f ~> g) has no single cell name
			// resolveFuture could call back into later, so it can't be
			// deferred as a pending entry; run it now and wrap the result.
			res, err := m.callClosureValue(callee, args)
			if err != nil {
				return stepContinue, Value{}, err
			}
			idx := len(m.futures)
			m.futures = append(m.futures, futureEntry{state: FutureResolved, value: res, order: m.nextOrder})
			m.nextOrder++
			m.ready = append(m.ready, idx)
			m.setReg(a, Value{Kind: KFuture, Future: idx})
			return stepContinue, Value{}, nil
		}
		idx := len(m.futures)
		m.futures = append(m.futures, futureEntry{
			state: FuturePending, cellName: callee.Cell, args: args, upvalues: callee.Upvalues,
			order: m.nextOrder,
		})
		m.nextOrder++
		m.ready = append(m.ready, idx)
		m.setReg(a, Value{Kind: KFuture, Future: idx})
		return stepContinue, Value{}, nil

	case lir.OpAwait:
		fv := m.reg(base + int(ins.B()))
		if fv.Kind != KFuture || fv.Future < 0 || fv.Future >= len(m.futures) {
			return stepContinue, Value{}, rtErr("TypeMismatch", "await requires a future")
		}
		if err := m.resolveFuture(fv.Future); err != nil {
			return stepContinue, Value{}, err
		}
		entry := &m.futures[fv.Future]
		entry.resumed = true
		if entry.state == FutureFailed {
			return stepContinue, Value{}, entry.err
		}
		m.setReg(a, entry.value)
		return stepContinue, Value{}, nil

	case lir.OpRaiseResult:
		v := m.reg(base + int(ins.B()))
		if v.Kind == KUnion && v.Union.Tag == "Err" {
			return stepReturn, v, nil
		}
		m.setReg(a, v)
		return stepContinue, Value{}, nil

	case lir.OpGetUpvalue:
		idx := int(ins.B())
		if idx < 0 || idx >= len(cur.upvalues) {
			return stepContinue, Value{}, rtErr("UpvalueOutOfRange", "no captured upvalue at index %d", idx)
		}
		m.setReg(a, cur.upvalues[idx])
		return stepContinue, Value{}, nil

	case lir.OpSetUpvalue:
		// A's register-offset meaning is reused here as a plain upvalue
		// index (no base offset: this opcode never addresses a register
		// through A), so `a` computed above is not used. Writing through
		// mutates only this closure's own captured copy -- Lumen's
		// Value model has no boxed shared cell an outer scope's local
		// could alias, so an upvalue write never propagates back out to
		// the variable's defining frame, only forward to any other
		// reference of the same captured slot within this closure body.
		idx := int(ins.A())
		if idx >= 0 && idx < len(cur.upvalues) {
			cur.upvalues[idx] = m.reg(base + int(ins.B()))
		}
		return stepContinue, Value{}, nil
	}
	return stepContinue, Value{}, rtErr("UnknownOpcode", "%s", op)
}

func constToValue(c lir.Const) Value {
	switch c.Kind {
	case lir.ConstString:
		return String(c.Str)
	case lir.ConstInt:
		return Int(c.Int)
	case lir.ConstFloat:
		return Float(c.Float)
	case lir.ConstToolSchema:
		return Value{Kind: KToolSchema, ToolAlias: c.Tool.Alias, ToolPath: c.Tool.Path, ToolArgNames: c.Tool.ArgNames}
	}
	return Null()
}

func matchesTypeDescriptor(v Value, desc string) bool {
	switch desc {
	case "Int":
		return v.Kind == KInt
	case "Float":
		return v.Kind == KFloat
	case "Bool":
		return v.Kind == KBool
	case "String":
		return v.Kind == KString
	case "Null":
		return v.Kind == KNull
	case "Any":
		return true
	}
	if v.Kind == KRecord {
		return v.Record.typ == desc
	}
	return false
}

// CallClosure invokes a closure Value to completion. Exported for
// pkg/lumen/process's memory.query(predicate), which needs to call
// back into a Lumen closure value from Go-level host logic rather than
// through the register-indexed Call opcode.
func (m *Machine) CallClosure(v Value, args []Value) (Value, error) {
	return m.callClosureValue(v, args)
}

// callClosureValue invokes a closure Value (plain or composed) outside
// the register-indexed Call opcode path, used to run each leg of a
// composed closure (`f ~> g`) to completion before threading its result
// into the next.
func (m *Machine) callClosureValue(v Value, args []Value) (Value, error) {
	if v.Kind != KClosure {
		return Value{}, rtErr("NotCallable", "value %s is not callable", v.String())
	}
	if v.Compose != nil {
		mid, err := m.callClosureValue(v.Compose.F, args)
		if err != nil {
			return Value{}, err
		}
		return m.callClosureValue(v.Compose.G, []Value{mid})
	}
	return m.callCell(v.Cell, args, v.Upvalues)
}

func (m *Machine) prepareCall(cell *lir.Cell, cur *frame, ins lir.Instr, tail bool) (stepOutcome, Value, error) {
	base := cur.base
	a := base + int(ins.A())
	calleeReg := base + int(ins.B())
	n := int(ins.C())
	callee := m.reg(calleeReg)
	if callee.Kind != KClosure {
		return stepContinue, Value{}, rtErr("NotCallable", "register holds %s, not a closure", callee.String())
	}
	if callee.Compose != nil {
		args := make([]Value, n)
		for i := 0; i < n; i++ {
			args[i] = m.reg(calleeReg + 1 + i)
		}
		mid, err := m.callClosureValue(callee.Compose.F, args)
		if err != nil {
			return stepContinue, Value{}, err
		}
		res, err := m.callClosureValue(callee.Compose.G, []Value{mid})
		if err != nil {
			return stepContinue, Value{}, err
		}
		m.setReg(a, res)
		return stepContinue, Value{}, nil
	}
	target := m.mod.CellByName(callee.Cell)
	if target == nil {
		return stepContinue, Value{}, rtErr("CellNotFound", "no cell named %q", callee.Cell)
	}
	newBase := len(m.regs)
	for i := 0; i < target.Registers; i++ {
		m.regs = append(m.regs, Null())
	}
	for i := 0; i < n && i < target.NumParams; i++ {
		m.setReg(newBase+i, m.reg(calleeReg+1+i))
	}
	nf := frame{cellName: callee.Cell, ip: 0, base: newBase, dest: int(ins.A()), caller: -1, upvalues: callee.Upvalues}
	m.pendingCall = &nf
	if tail {
		return stepTailCall, Value{}, nil
	}
	return stepCall, Value{}, nil
}

// callMethod dispatches a process-instance method call (spec.md §4.8),
// mirroring callTool's register layout: B names the register holding
// the interned method-name string, with the receiver and arguments in
// the contiguous registers immediately following it. The receiver is
// written back to its original register after the call so mutations a
// method makes to the instance's visible fields (e.g. a machine
// recording its new current state) are observable by the caller.
func (m *Machine) callMethod(cur *frame, ins lir.Instr) (stepOutcome, Value, error) {
	base := cur.base
	a := base + int(ins.A())
	nameReg := base + int(ins.B())
	method := m.reg(nameReg).Str
	selfReg := nameReg + 1
	self := m.reg(selfReg)
	n := int(ins.C())
	args := make([]Value, n)
	for i := 0; i < n; i++ {
		args[i] = m.reg(selfReg + 1 + i)
	}
	if m.methods == nil {
		return stepContinue, Value{}, rtErr("NotCallable", "no process-method host configured for %q", method)
	}
	res, err := m.methods.CallMethod(&self, method, args)
	if err != nil {
		return stepContinue, Value{}, err
	}
	m.setReg(selfReg, self)
	m.setReg(a, res)
	return stepContinue, Value{}, nil
}

func (m *Machine) callTool(cur *frame, ins lir.Instr) (stepOutcome, Value, error) {
	base := cur.base
	a := base + int(ins.A())
	schemaReg := base + int(ins.B())
	schema := m.reg(schemaReg)
	if schema.Kind != KToolSchema {
		return stepContinue, Value{}, rtErr("ToolNotFound", "CallTool's schema register does not hold a tool reference")
	}
	alias, path := schema.ToolAlias, schema.ToolPath
	n := int(ins.C())
	args := make([]Value, n)
	for i := 0; i < n; i++ {
		args[i] = m.reg(schemaReg + 1 + i)
	}
	if m.dispatcher == nil {
		return stepContinue, Value{}, rtErr("ToolNotFound", "no dispatcher configured for %q", path)
	}
	res, err := m.dispatcher.Dispatch(alias, schema.ToolArgNames, args)
	if m.trace != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.trace.Emit("tool-call", alias+" "+status, args)
	}
	if err != nil {
		m.setReg(a, NewUnion("Err", String(err.Error())))
		return stepContinue, Value{}, nil
	}
	m.setReg(a, NewUnion("Ok", res))
	return stepContinue, Value{}, nil
}
