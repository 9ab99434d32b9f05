package vm

import "github.com/ternarybob/lumen/pkg/lumen/lir"

// arith implements the numeric opcodes. Int/Int stays Int except Div,
// which always promotes to Float (spec.md §4.7: "/ always yields Float;
// FloorDiv yields Int"); Int/Float or Float/Float promotes to Float.
func (m *Machine) arith(op lir.Op, x, y Value) (Value, error) {
	if x.Kind == KString && y.Kind == KString && op == lir.OpAdd {
		return String(x.Str + y.Str), nil
	}
	if !isNumeric(x) || !isNumeric(y) {
		return Value{}, rtErr("TypeMismatch", "arithmetic requires numbers, got %s and %s", x.String(), y.String())
	}
	useFloat := x.Kind == KFloat || y.Kind == KFloat || op == lir.OpDiv
	xf, yf := asFloat(x), asFloat(y)
	switch op {
	case lir.OpAdd:
		if useFloat {
			return Float(xf + yf), nil
		}
		return Int(x.Int + y.Int), nil
	case lir.OpSub:
		if useFloat {
			return Float(xf - yf), nil
		}
		return Int(x.Int - y.Int), nil
	case lir.OpMul:
		if useFloat {
			return Float(xf * yf), nil
		}
		return Int(x.Int * y.Int), nil
	case lir.OpDiv:
		if yf == 0 {
			return Value{}, rtErr("DivByZero", "division by zero")
		}
		return Float(xf / yf), nil
	case lir.OpFloorDiv:
		if !useFloat {
			if y.Int == 0 {
				return Value{}, rtErr("DivByZero", "division by zero")
			}
			q := x.Int / y.Int
			if (x.Int%y.Int != 0) && ((x.Int < 0) != (y.Int < 0)) {
				q--
			}
			return Int(q), nil
		}
		if yf == 0 {
			return Value{}, rtErr("DivByZero", "division by zero")
		}
		return Int(int64(xf / yf)), nil
	case lir.OpMod:
		if !useFloat {
			if y.Int == 0 {
				return Value{}, rtErr("DivByZero", "division by zero")
			}
			r := x.Int % y.Int
			if r != 0 && (r < 0) != (y.Int < 0) {
				r += y.Int
			}
			return Int(r), nil
		}
		if yf == 0 {
			return Value{}, rtErr("DivByZero", "division by zero")
		}
		return Float(floatMod(xf, yf)), nil
	case lir.OpPow:
		if useFloat {
			return Float(floatPow(xf, yf)), nil
		}
		return Int(intPow(x.Int, y.Int)), nil
	}
	return Value{}, rtErr("TypeMismatch", "unsupported arithmetic opcode %s", op)
}

func (m *Machine) compare(op lir.Op, x, y Value) (Value, error) {
	if !isNumeric(x) || !isNumeric(y) {
		if x.Kind == KString && y.Kind == KString {
			switch op {
			case lir.OpLt:
				return Bool(x.Str < y.Str), nil
			case lir.OpLe:
				return Bool(x.Str <= y.Str), nil
			case lir.OpGt:
				return Bool(x.Str > y.Str), nil
			case lir.OpGe:
				return Bool(x.Str >= y.Str), nil
			}
		}
		return Value{}, rtErr("TypeMismatch", "comparison requires numbers or strings, got %s and %s", x.String(), y.String())
	}
	xf, yf := asFloat(x), asFloat(y)
	switch op {
	case lir.OpLt:
		return Bool(xf < yf), nil
	case lir.OpLe:
		return Bool(xf <= yf), nil
	case lir.OpGt:
		return Bool(xf > yf), nil
	case lir.OpGe:
		return Bool(xf >= yf), nil
	}
	return Value{}, rtErr("TypeMismatch", "unsupported comparison opcode %s", op)
}

func isNumeric(v Value) bool { return v.Kind == KInt || v.Kind == KFloat }

func asFloat(v Value) float64 {
	if v.Kind == KInt {
		return float64(v.Int)
	}
	return v.Float
}

func floatMod(a, b float64) float64 {
	r := a - b*float64(int64(a/b))
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// floatPow handles the integer-exponent case exclusively; Lumen's `**`
// operator is only specified over Int/Float operands with Int-valued
// exponents in every spec.md example.
func floatPow(a, b float64) float64 {
	neg := b < 0
	n := int(b)
	if neg {
		n = -n
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= a
	}
	if neg {
		return 1 / result
	}
	return result
}

func intPow(a, b int64) int64 {
	result := int64(1)
	for i := int64(0); i < b; i++ {
		result *= a
	}
	return result
}

// getIndex implements field/element/key access for Record/List/Map
// (spec.md §4.6 "GetIndex"), including the synthetic "__tag"/"__state"
// fields used by match compilation and process state.
func (m *Machine) getIndex(obj, key Value) (Value, error) {
	switch obj.Kind {
	case KRecord:
		if key.Kind != KString {
			return Value{}, rtErr("TypeMismatch", "record field key must be a string")
		}
		if key.Str == "__tag" {
			return String(obj.Record.tag), nil
		}
		v, ok := obj.Record.fields[key.Str]
		if !ok {
			return Null(), nil
		}
		return v, nil
	case KList:
		if key.Kind != KInt {
			return Value{}, rtErr("TypeMismatch", "list index must be an int")
		}
		idx := int(key.Int)
		// Negative indices are sentinels emitted by pattern lowering
		// (pkg/lumen/lower's testPattern/bindPattern): -1 asks for the
		// list's length, and any idx <= -2 asks for the "rest" sublist
		// starting at N = -idx-1.
		if idx == -1 {
			return Int(int64(len(obj.List.elems))), nil
		}
		if idx <= -2 {
			n := -idx - 1
			if n > len(obj.List.elems) {
				n = len(obj.List.elems)
			}
			return NewList(obj.List.elems[n:]), nil
		}
		if idx < 0 || idx >= len(obj.List.elems) {
			return Value{}, rtErr("IndexOutOfRange", "index %d out of range for list of length %d", idx, len(obj.List.elems))
		}
		return obj.List.elems[idx], nil
	case KMap:
		for _, e := range obj.Map.entries {
			if e.key.Equal(key) {
				return e.val, nil
			}
		}
		return Null(), nil
	}
	return Value{}, rtErr("TypeMismatch", "cannot index into %s", obj.String())
}

// setIndex mutates *obj in place, cloning its backing store first if it
// is shared (refs > 1), implementing copy-on-write (spec.md §4.7:
// "mutating operations clone only when the reference count exceeds
// one").
func (m *Machine) setIndex(obj *Value, key, val Value) error {
	switch obj.Kind {
	case KRecord:
		if key.Kind != KString {
			return rtErr("TypeMismatch", "record field key must be a string")
		}
		if obj.Record.refs > 1 {
			*obj = obj.cloneContainer()
		}
		if _, ok := obj.Record.fields[key.Str]; !ok {
			obj.Record.order = append(obj.Record.order, key.Str)
		}
		obj.Record.fields[key.Str] = val
		return nil
	case KList:
		if key.Kind != KInt {
			return rtErr("TypeMismatch", "list index must be an int")
		}
		idx := int(key.Int)
		if idx < 0 || idx > len(obj.List.elems) {
			return rtErr("IndexOutOfRange", "index %d out of range", idx)
		}
		if obj.List.refs > 1 {
			*obj = obj.cloneContainer()
		}
		// idx == len(elems) appends, matching the accumulator-building
		// pattern comprehensions lower to (pkg/lumen/lower's
		// lowerForComprehension writes each element via SetIndex at the
		// current loop cursor into a list that starts empty).
		if idx == len(obj.List.elems) {
			obj.List.elems = append(obj.List.elems, val)
			return nil
		}
		obj.List.elems[idx] = val
		return nil
	case KMap:
		if obj.Map.refs > 1 {
			*obj = obj.cloneContainer()
		}
		for i, e := range obj.Map.entries {
			if e.key.Equal(key) {
				obj.Map.entries[i].val = val
				return nil
			}
		}
		obj.Map.entries = append(obj.Map.entries, mapEntry{key: key, val: val})
		return nil
	}
	return rtErr("TypeMismatch", "cannot index into %s", obj.String())
}
