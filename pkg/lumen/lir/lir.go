// Package lir defines the Lumen Intermediate Representation: a
// register-based bytecode module with fixed-width instructions and a
// shared, structurally-interned constant pool, per spec.md §3 and §4.6.
package lir

import (
	"fmt"
	"strings"

	"github.com/ternarybob/lumen/pkg/lumen/types"
)

// Op is an LIR opcode. The instruction set is spec.md §4.6's minimum
// set plus the few opcodes below that are marked as outside it.
type Op uint8

const (
	OpLoadConst Op = iota
	OpLoadNil
	OpLoadBool
	OpMove
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpFloorDiv
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpShr
	OpEq
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpNot
	OpConcat
	OpNullCo
	OpIn
	OpIs
	OpJump
	OpJumpIfTrue
	OpJumpIfFalse
	OpNewList
	OpNewMap
	OpNewSet
	OpNewTuple
	OpNewRecord
	OpGetIndex
	OpSetIndex
	OpCall
	OpTailCall
	OpReturn
	OpSpawn
	OpAwait
	OpCallTool
	OpEmit
	OpMakeClosure
	OpGetUpvalue
	OpSetUpvalue
	OpRaiseResult
	OpTryUnwrap
	// OpHalt is not part of spec.md §4.6's named minimum set but is
	// required to lower `halt(message)` (spec.md §7) without overloading
	// RaiseResult's Result-unwind semantics for a non-Result termination.
	OpHalt
	// OpComposeClosure is not part of spec.md §4.6's named minimum set.
	// MakeClosure carries two incompatible encodings in the obvious
	// design (a named-cell reference via its Bx constant-index operand,
	// and function composition `f ~> g` via two register operands), and
	// a decoder cannot always tell which encoding produced a given
	// instruction word from its bits alone. ComposeClosure gives
	// composition its own opcode so MakeClosure's Bx form is
	// unambiguous.
	OpComposeClosure
	// OpCallMethod is not part of spec.md §4.6's named minimum set.
	// Process-instance method semantics (spec.md §4.8 — memory's
	// append/recall/..., machine's run/step/...) are not compiled to LIR
	// cells; the lowerer recognizes the fixed method-name set on a
	// field-call expression and emits this instead of an ordinary Call,
	// the same way a `tool.method(...)` shape emits CallTool rather than
	// Call. B names the register holding the interned method-name
	// string, with the receiver and arguments occupying the contiguous
	// registers immediately following it (mirroring CallTool's
	// schema-then-args layout), and C carries the argument count.
	OpCallMethod
	// OpCaptureUpvalue is not part of spec.md §4.6's named minimum set.
	// MakeClosure alone has no way to populate the "captured upvalues"
	// half of spec.md §3's Closure value, since the captured registers
	// are runtime values, not constants it could reference by pool
	// index. The lowerer emits one CaptureUpvalue per free variable
	// immediately after the MakeClosure that builds the closure: A names
	// the closure register, B the register (in the defining scope) whose
	// current value becomes the next upvalue slot, appended in emission
	// order.
	OpCaptureUpvalue
	opCount
)

var opNames = [opCount]string{
	"LoadConst", "LoadNil", "LoadBool", "Move",
	"Add", "Sub", "Mul", "Div", "Mod", "Pow", "FloorDiv",
	"BitAnd", "BitOr", "BitXor", "BitNot", "Shl", "Shr",
	"Eq", "Neq", "Lt", "Le", "Gt", "Ge",
	"And", "Or", "Not", "Concat", "NullCo", "In", "Is",
	"Jump", "JumpIfTrue", "JumpIfFalse",
	"NewList", "NewMap", "NewSet", "NewTuple", "NewRecord",
	"GetIndex", "SetIndex",
	"Call", "TailCall", "Return",
	"Spawn", "Await", "CallTool", "Emit",
	"MakeClosure", "GetUpvalue", "SetUpvalue",
	"RaiseResult", "TryUnwrap", "Halt", "ComposeClosure", "CallMethod",
	"CaptureUpvalue",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// Instr is one fixed-width 32-bit instruction word: an 8-bit opcode and
// three 8-bit register fields (A, B, C), or — sharing the same 24 high
// bits — a 16-bit constant index `Bx` or a 24-bit signed jump offset
// `Ax` (spec.md §3).
type Instr uint32

// Encode packs a three-register instruction.
func Encode(op Op, a, b, c uint8) Instr {
	return Instr(uint32(op) | uint32(a)<<8 | uint32(b)<<16 | uint32(c)<<24)
}

// EncodeBx packs an instruction carrying a 16-bit constant-pool index.
func EncodeBx(op Op, a uint8, bx uint16) Instr {
	return Instr(uint32(op) | uint32(a)<<8 | uint32(bx)<<16)
}

// EncodeAx packs an instruction carrying a 24-bit signed jump offset.
func EncodeAx(op Op, ax int32) Instr {
	return Instr(uint32(op) | (uint32(ax)&0xFFFFFF)<<8)
}

// EncodeSBx packs an instruction carrying an 8-bit register (A) plus a
// signed 16-bit offset sharing the B/C fields, used by JumpIfTrue and
// JumpIfFalse so the condition register survives alongside the branch
// target.
func EncodeSBx(op Op, a uint8, sbx int32) Instr {
	return Instr(uint32(op) | uint32(a)<<8 | (uint32(sbx)&0xFFFF)<<16)
}

func (i Instr) Op() Op { return Op(i & 0xFF) }
func (i Instr) A() uint8 { return uint8((i >> 8) & 0xFF) }
func (i Instr) B() uint8 { return uint8((i >> 16) & 0xFF) }
func (i Instr) C() uint8 { return uint8((i >> 24) & 0xFF) }
func (i Instr) Bx() uint16 { return uint16((i >> 16) & 0xFFFF) }

// Ax unpacks the 24-bit signed jump offset sharing the A/B/C fields.
func (i Instr) Ax() int32 {
	v := int32((i >> 8) & 0xFFFFFF)
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return v
}

// SBx unpacks the signed 16-bit offset sharing the B/C fields, paired
// with A as the condition register (see EncodeSBx).
func (i Instr) SBx() int32 {
	v := int16(i.Bx())
	return int32(v)
}

func (i Instr) String() string {
	return fmt.Sprintf("%s a=%d b=%d c=%d", i.Op(), i.A(), i.B(), i.C())
}

// ConstKind discriminates the shared constant pool's entry types
// (spec.md §3: "strings, integers, floats, type descriptors, record
// schemas, tool schemas").
type ConstKind int

const (
	ConstString ConstKind = iota
	ConstInt
	ConstFloat
	ConstType
	ConstRecordSchema
	ConstToolSchema
)

// RecordSchemaConst is the interned field-name list for a record type,
// used by GetIndex/SetIndex to resolve a field name to its slot.
type RecordSchemaConst struct {
	Name   string
	Fields []string
}

// ToolSchemaConst is the interned alias/path pair a CallTool instruction
// references, plus the declared argument names from the call site
// (spec.md §4.10's policy enforcement checks a constraint key like
// "domain" against "the corresponding argument", which only makes sense
// if the dispatcher can recover argument names — lowerToolCall records
// them here since RecordArg names are otherwise erased by lowering).
// ArgNames[i] is "" for a positional argument at that position.
type ToolSchemaConst struct {
	Alias    string
	Path     string
	ArgNames []string
}

// Const is one entry of the shared constant pool.
type Const struct {
	Kind   ConstKind
	Str    string
	Int    int64
	Float  float64
	Type   *types.Type
	Record *RecordSchemaConst
	Tool   *ToolSchemaConst
}

func (c Const) key() string {
	switch c.Kind {
	case ConstString:
		return "s:" + c.Str
	case ConstInt:
		return fmt.Sprintf("i:%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("f:%v", c.Float)
	case ConstType:
		return "t:" + c.Type.String()
	case ConstRecordSchema:
		return "r:" + c.Record.Name + ":" + fmt.Sprint(c.Record.Fields)
	case ConstToolSchema:
		return "u:" + c.Tool.Alias + ":" + c.Tool.Path + ":" + strings.Join(c.Tool.ArgNames, ",")
	}
	return ""
}

// Pool is the module's shared constant table. Entries are interned by
// structural equality so identical constants share one index.
type Pool struct {
	consts []Const
	index  map[string]int
}

// NewPool creates an empty constant pool.
func NewPool() *Pool {
	return &Pool{index: map[string]int{}}
}

func (p *Pool) intern(c Const) int {
	k := c.key()
	if idx, ok := p.index[k]; ok {
		return idx
	}
	idx := len(p.consts)
	p.consts = append(p.consts, c)
	p.index[k] = idx
	return idx
}

func (p *Pool) InternString(s string) int { return p.intern(Const{Kind: ConstString, Str: s}) }
func (p *Pool) InternInt(v int64) int     { return p.intern(Const{Kind: ConstInt, Int: v}) }
func (p *Pool) InternFloat(v float64) int { return p.intern(Const{Kind: ConstFloat, Float: v}) }
func (p *Pool) InternType(t *types.Type) int {
	return p.intern(Const{Kind: ConstType, Type: t})
}
func (p *Pool) InternRecordSchema(name string, fields []string) int {
	return p.intern(Const{Kind: ConstRecordSchema, Record: &RecordSchemaConst{Name: name, Fields: fields}})
}
func (p *Pool) InternToolSchema(alias, path string, argNames []string) int {
	return p.intern(Const{Kind: ConstToolSchema, Tool: &ToolSchemaConst{Alias: alias, Path: path, ArgNames: argNames}})
}

// Get returns the constant at idx.
func (p *Pool) Get(idx int) Const { return p.consts[idx] }

// Len returns the number of interned constants.
func (p *Pool) Len() int { return len(p.consts) }

// Cell is one compiled function/cell: a name, parameter count, register
// window size, and its instruction vector (spec.md §3).
type Cell struct {
	Name      string
	NumParams int
	Registers int
	Instrs    []Instr
}

// Module is a complete compiled unit: every cell plus the shared
// constant pool they reference (spec.md §3, §4.6).
type Module struct {
	Version string
	Cells   []*Cell
	Consts  *Pool
}

// NewModule creates an empty module at the given format version.
func NewModule(version string) *Module {
	return &Module{Version: version, Consts: NewPool()}
}

// CellByName looks up a cell by name, or returns nil.
func (m *Module) CellByName(name string) *Cell {
	for _, c := range m.Cells {
		if c.Name == name {
			return c
		}
	}
	return nil
}
