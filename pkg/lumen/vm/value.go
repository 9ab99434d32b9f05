// Package vm executes LIR modules: register file, call frames, the
// futures table, tool dispatch, and trace emission, per spec.md §4.7.
package vm

import "fmt"

// Kind discriminates a Value's variant (spec.md §3 "Runtime Value").
type Kind int

const (
	KNull Kind = iota
	KInt
	KFloat
	KBool
	KString
	KBytes
	KList
	KMap
	KSet
	KTuple
	KRecord
	KUnion
	KClosure
	KTraceRef
	KFuture
	// KToolSchema holds an interned tool-call target (alias/path pair),
	// the runtime counterpart of lir.ToolSchemaConst. It exists only as
	// an intermediate value between LoadConst and CallTool; Lumen source
	// has no way to construct or observe one directly.
	KToolSchema
)

// Value is the VM's tagged runtime value. Container kinds (List, Map,
// Set, Record) hold a pointer to a shared, reference-counted backing
// store so GetIndex/SetIndex can implement copy-on-write: a mutation
// clones the backing store only when refs > 1 (spec.md §4.7).
type Value struct {
	Kind Kind

	Int    int64
	Float  float64
	Bool   bool
	Str    string
	Bytes  []byte
	List   *listData
	Map    *mapData
	Record *recordData
	Union  *unionData
	Cell      string       // Closure: target cell name
	Compose   *composePair // Closure: set instead of Cell for a composed closure
	Upvalues  []Value      // Closure: captured free variables, by declaration order (spec.md §3 "Closure (cell index + captured upvalues)")
	Future    int          // Future: handle into the scheduler's completion table
	ToolAlias    string   // KToolSchema: tool alias
	ToolPath     string   // KToolSchema: dotted method path
	ToolArgNames []string // KToolSchema: call-site argument names ("" = positional)
}

// composePair is a closure built by `f ~> g` (ComposeExpr): calling it
// applies F, then threads the result into G.
type composePair struct {
	F Value
	G Value
}

// NewComposedClosure builds the closure value for `f ~> g`.
func NewComposedClosure(f, g Value) Value {
	return Value{Kind: KClosure, Compose: &composePair{F: f, G: g}}
}

func Null() Value               { return Value{Kind: KNull} }
func Int(v int64) Value         { return Value{Kind: KInt, Int: v} }
func Float(v float64) Value     { return Value{Kind: KFloat, Float: v} }
func Bool(v bool) Value         { return Value{Kind: KBool, Bool: v} }
func String(v string) Value     { return Value{Kind: KString, Str: v} }
func Bytes(v []byte) Value      { return Value{Kind: KBytes, Bytes: v} }
func Closure(cell string) Value { return Value{Kind: KClosure, Cell: cell} }

// ClosureWithUpvalues builds a closure that captured one or more free
// variables from its defining scope (see pkg/lumen/lower's lowerLambda,
// which emits a CaptureUpvalue instruction per entry in order).
func ClosureWithUpvalues(cell string, upvalues []Value) Value {
	return Value{Kind: KClosure, Cell: cell, Upvalues: upvalues}
}

type listData struct {
	refs  int
	elems []Value
}

// NewList builds a fresh, uniquely-owned list. refs starts at 0, not 1:
// Machine.setReg's retain bump (see vm.go) fires the first time this
// value is actually stored into a register, so refs counts registers
// holding this pointer, not constructions of it.
func NewList(elems []Value) Value {
	return Value{Kind: KList, List: &listData{refs: 0, elems: append([]Value(nil), elems...)}}
}

type mapEntry struct {
	key Value
	val Value
}

type mapData struct {
	refs    int
	entries []mapEntry // sorted by key's rendered string form, per spec.md §3
}

func NewMap(pairs []Value) Value {
	md := &mapData{refs: 0}
	for i := 0; i+1 < len(pairs); i += 2 {
		md.entries = append(md.entries, mapEntry{key: pairs[i], val: pairs[i+1]})
	}
	return Value{Kind: KMap, Map: md}
}

type recordData struct {
	refs   int
	typ    string
	fields map[string]Value
	order  []string
	tag    string // non-empty for enum variant records; read via the "__tag" synthetic field
}

func NewRecord(typ string, fieldNames []string, values []Value) Value {
	rd := &recordData{refs: 0, typ: typ, fields: map[string]Value{}}
	for i, name := range fieldNames {
		if i < len(values) {
			rd.fields[name] = values[i]
		}
		rd.order = append(rd.order, name)
	}
	return Value{Kind: KRecord, Record: rd}
}

type unionData struct {
	Tag   string
	Inner Value
}

func NewUnion(tag string, inner Value) Value {
	return Value{Kind: KUnion, Union: &unionData{Tag: tag, Inner: inner}}
}

// clone deep-copies list/map/record backing stores so a mutation under
// copy-on-write never disturbs another Value sharing the same pointer.
// The clone's refs starts at 0, same reasoning as the constructors above.
func (v Value) cloneContainer() Value {
	switch v.Kind {
	case KList:
		nl := &listData{refs: 0, elems: append([]Value(nil), v.List.elems...)}
		return Value{Kind: KList, List: nl}
	case KMap:
		nm := &mapData{refs: 0, entries: append([]mapEntry(nil), v.Map.entries...)}
		return Value{Kind: KMap, Map: nm}
	case KRecord:
		nr := &recordData{refs: 0, typ: v.Record.typ, fields: map[string]Value{}, order: append([]string(nil), v.Record.order...), tag: v.Record.tag}
		for k, fv := range v.Record.fields {
			nr.fields[k] = fv
		}
		return Value{Kind: KRecord, Record: nr}
	}
	return v
}

// RecordType returns a record Value's declared type name, or "" for
// any other kind.
func (v Value) RecordType() string {
	if v.Kind == KRecord {
		return v.Record.typ
	}
	return ""
}

// RecordIdentity returns a comparable handle unique to this record's
// backing store, usable as a map key. pkg/lumen/process uses this to
// key per-instance state (append logs, transition logs) independently
// of the record's field contents, since two structurally identical
// process instances (spec.md §4.8 "Instance isolation") must not share
// state.
func (v Value) RecordIdentity() any {
	if v.Kind == KRecord {
		return v.Record
	}
	return nil
}

// FieldOrder returns a record's field names in declaration order
// (empty for any other kind). Used by pkg/lumen/process to recover a
// machine/pipeline instance's declared state names, which lowerProcess
// encodes as field order rather than as a separate runtime-visible
// list.
func (v Value) FieldOrder() []string {
	if v.Kind != KRecord {
		return nil
	}
	return append([]string(nil), v.Record.order...)
}

// GetField reads a record field directly, returning Null for a record
// without that field or for any non-record Value. Exported for
// pkg/lumen/process, which reads process-instance fields (declared
// state parameters, the synthetic "__state" field) without going
// through the VM's GetIndex opcode path.
func (v Value) GetField(name string) Value {
	if v.Kind != KRecord {
		return Null()
	}
	if fv, ok := v.Record.fields[name]; ok {
		return fv
	}
	return Null()
}

// SetField returns a copy of v with field name set to val, cloning the
// backing store first when it is shared — the same copy-on-write
// discipline as SetIndex, exported so pkg/lumen/process can update a
// process instance's visible fields (e.g. a machine's current state)
// without reaching into vm-internal types.
func (v Value) SetField(name string, val Value) Value {
	if v.Kind != KRecord {
		return v
	}
	nv := v
	if nv.Record.refs > 1 {
		nv = nv.cloneContainer()
	}
	if _, ok := nv.Record.fields[name]; !ok {
		nv.Record.order = append(nv.Record.order, name)
	}
	nv.Record.fields[name] = val
	return nv
}

// Elems returns a list Value's elements (nil for any other kind).
// Exported for pkg/lumen/process, which returns list Values built from
// a memory instance's own Go-side log rather than via the VM's
// GetIndex opcode path, and needs to inspect them in tests.
func (v Value) Elems() []Value {
	if v.Kind != KList {
		return nil
	}
	return v.List.elems
}

func (v Value) String() string {
	switch v.Kind {
	case KNull:
		return "null"
	case KInt:
		return fmt.Sprintf("%d", v.Int)
	case KFloat:
		return fmt.Sprintf("%v", v.Float)
	case KBool:
		return fmt.Sprintf("%v", v.Bool)
	case KString:
		return v.Str
	case KBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KList:
		return fmt.Sprintf("list(%d)", len(v.List.elems))
	case KMap:
		return fmt.Sprintf("map(%d)", len(v.Map.entries))
	case KRecord:
		return fmt.Sprintf("%s{...}", v.Record.typ)
	case KUnion:
		return fmt.Sprintf("%s(...)", v.Union.Tag)
	case KClosure:
		return fmt.Sprintf("<closure %s>", v.Cell)
	case KFuture:
		return fmt.Sprintf("<future %d>", v.Future)
	}
	return "<?>"
}

// Truthy implements the VM's boolean-coercion rule used by
// JumpIfTrue/JumpIfFalse: Bool uses its own value; Null is false;
// every other kind is true (spec.md leaves falsiness of non-bool
// values unspecified beyond Null, so only Bool and Null are special-
// cased here and everything else is truthy, matching how the checker
// only ever feeds Bool-typed expressions into conditions except for
// Any-typed recovery values).
func (v Value) Truthy() bool {
	switch v.Kind {
	case KBool:
		return v.Bool
	case KNull:
		return false
	}
	return true
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KNull:
		return true
	case KInt:
		return v.Int == o.Int
	case KFloat:
		return v.Float == o.Float
	case KBool:
		return v.Bool == o.Bool
	case KString:
		return v.Str == o.Str
	case KClosure:
		return v.Cell == o.Cell
	case KList:
		if len(v.List.elems) != len(o.List.elems) {
			return false
		}
		for i := range v.List.elems {
			if !v.List.elems[i].Equal(o.List.elems[i]) {
				return false
			}
		}
		return true
	case KRecord:
		if v.Record.typ != o.Record.typ || len(v.Record.fields) != len(o.Record.fields) {
			return false
		}
		for k, fv := range v.Record.fields {
			ov, ok := o.Record.fields[k]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}
