package lir

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/lumen/pkg/lumen/types"
)

// typeFromDescriptor rebuilds a best-effort Type from its canonical
// String() form after a JSON round-trip. Scalar kinds resolve exactly;
// everything else degrades to an unresolved TypeRef carrying the
// original descriptor text, since reparsing the full type grammar is
// the checker's job, not the wire format's.
func typeFromDescriptor(desc string) *types.Type {
	switch desc {
	case "Int":
		return types.Int()
	case "Float":
		return types.Float()
	case "Bool":
		return types.Bool()
	case "String":
		return types.String()
	case "Bytes":
		return types.Bytes()
	case "Json":
		return types.JSON()
	case "Null":
		return types.Null()
	case "Any":
		return types.Any()
	}
	return types.TypeRef(desc)
}

// wireModule mirrors the versioned JSON document of spec.md §6:
// `{ version, cells: [{ name, params, registers, instructions: [[op, a,
// b, c]], constants: [...] }], type_descriptors, tool_schemas }`.
//
// The constant pool is shared across cells (spec.md §3), so wireModule
// hoists it to the top level as "constants" rather than duplicating it
// per cell; type descriptors and tool schemas are the ConstType/
// ConstToolSchema subsets of that same pool, broken out as their own
// top-level arrays to match the wire shape literally. This keeps one
// interning table in memory while still emitting the four named arrays
// spec.md §6 calls for.
type wireModule struct {
	Version         string           `json:"version"`
	Cells           []wireCell       `json:"cells"`
	Constants       []wireConst      `json:"constants"`
	TypeDescriptors []int            `json:"type_descriptors"`
	ToolSchemas     []int            `json:"tool_schemas"`
}

type wireCell struct {
	Name         string    `json:"name"`
	Params       int       `json:"params"`
	Registers    int       `json:"registers"`
	Instructions [][4]int  `json:"instructions"`
}

type wireConst struct {
	Kind   string           `json:"kind"`
	Str    string           `json:"str,omitempty"`
	Int    int64            `json:"int,omitempty"`
	Float  float64          `json:"float,omitempty"`
	Type   string           `json:"type,omitempty"`
	Record *RecordSchemaConst `json:"record,omitempty"`
	Tool   *ToolSchemaConst   `json:"tool,omitempty"`
}

var constKindNames = map[ConstKind]string{
	ConstString:       "string",
	ConstInt:          "int",
	ConstFloat:        "float",
	ConstType:         "type",
	ConstRecordSchema: "record_schema",
	ConstToolSchema:   "tool_schema",
}

var constKindValues = map[string]ConstKind{
	"string":        ConstString,
	"int":           ConstInt,
	"float":         ConstFloat,
	"type":          ConstType,
	"record_schema": ConstRecordSchema,
	"tool_schema":   ConstToolSchema,
}

// MarshalJSON encodes m into the wire format of spec.md §6.
func (m *Module) MarshalJSON() ([]byte, error) {
	w := wireModule{Version: m.Version}
	for _, c := range m.Cells {
		wc := wireCell{Name: c.Name, Params: c.NumParams, Registers: c.Registers}
		for _, ins := range c.Instrs {
			wc.Instructions = append(wc.Instructions, [4]int{
				int(ins.Op()), int(ins.A()), int(ins.B()), int(ins.C()),
			})
		}
		w.Cells = append(w.Cells, wc)
	}
	for i := 0; i < m.Consts.Len(); i++ {
		k := m.Consts.Get(i)
		wc := wireConst{Kind: constKindNames[k.Kind]}
		switch k.Kind {
		case ConstString:
			wc.Str = k.Str
		case ConstInt:
			wc.Int = k.Int
		case ConstFloat:
			wc.Float = k.Float
		case ConstType:
			wc.Type = k.Type.String()
			w.TypeDescriptors = append(w.TypeDescriptors, i)
		case ConstRecordSchema:
			wc.Record = k.Record
		case ConstToolSchema:
			wc.Tool = k.Tool
			w.ToolSchemas = append(w.ToolSchemas, i)
		}
		w.Constants = append(w.Constants, wc)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes m from the wire format of spec.md §6, rebuilding
// the shared constant pool from the flat "constants" array. Type
// descriptors are reconstructed only by their canonical string form
// (types.TypeRef), which round-trips structurally but not by original
// Go pointer identity — callers that need fully resolved types should
// re-run resolveType against a checker after decode.
func (m *Module) UnmarshalJSON(data []byte) error {
	var w wireModule
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Version = w.Version
	m.Consts = NewPool()
	for _, wc := range w.Constants {
		kind, ok := constKindValues[wc.Kind]
		if !ok {
			return fmt.Errorf("lir: unknown constant kind %q", wc.Kind)
		}
		switch kind {
		case ConstString:
			m.Consts.InternString(wc.Str)
		case ConstInt:
			m.Consts.InternInt(wc.Int)
		case ConstFloat:
			m.Consts.InternFloat(wc.Float)
		case ConstType:
			m.Consts.intern(Const{Kind: ConstType, Type: typeFromDescriptor(wc.Type)})
		case ConstRecordSchema:
			m.Consts.InternRecordSchema(wc.Record.Name, wc.Record.Fields)
		case ConstToolSchema:
			m.Consts.InternToolSchema(wc.Tool.Alias, wc.Tool.Path, wc.Tool.ArgNames)
		}
	}
	m.Cells = nil
	for _, wc := range w.Cells {
		cell := &Cell{Name: wc.Name, NumParams: wc.Params, Registers: wc.Registers}
		for _, raw := range wc.Instructions {
			cell.Instrs = append(cell.Instrs, Encode(Op(raw[0]), uint8(raw[1]), uint8(raw[2]), uint8(raw[3])))
		}
		m.Cells = append(m.Cells, cell)
	}
	return nil
}
