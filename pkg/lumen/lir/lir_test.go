package lir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeABC(t *testing.T) {
	i := Encode(OpAdd, 1, 2, 3)
	assert.Equal(t, OpAdd, i.Op())
	assert.Equal(t, uint8(1), i.A())
	assert.Equal(t, uint8(2), i.B())
	assert.Equal(t, uint8(3), i.C())
}

func TestEncodeDecodeBx(t *testing.T) {
	i := EncodeBx(OpLoadConst, 5, 0x1234)
	assert.Equal(t, OpLoadConst, i.Op())
	assert.Equal(t, uint8(5), i.A())
	assert.Equal(t, uint16(0x1234), i.Bx())
}

func TestEncodeDecodeAx(t *testing.T) {
	i := EncodeAx(OpJump, -10)
	assert.Equal(t, OpJump, i.Op())
	assert.Equal(t, int32(-10), i.Ax())

	i2 := EncodeAx(OpJump, 100)
	assert.Equal(t, int32(100), i2.Ax())
}

func TestPoolInterning(t *testing.T) {
	p := NewPool()
	a := p.InternString("hello")
	b := p.InternString("hello")
	c := p.InternString("world")
	assert.Equal(t, a, b, "identical strings must share one slot")
	assert.NotEqual(t, a, c)
	assert.Equal(t, 2, p.Len())
}

func TestModuleJSONRoundTrip(t *testing.T) {
	m := NewModule("1")
	idx := m.Consts.InternInt(5)
	cell := &Cell{
		Name:      "fact",
		NumParams: 1,
		Registers: 4,
		Instrs: []Instr{
			EncodeBx(OpLoadConst, 1, uint16(idx)),
			Encode(OpLt, 2, 0, 1),
			Encode(OpReturn, 0, 0, 0),
		},
	}
	m.Cells = append(m.Cells, cell)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var m2 Module
	require.NoError(t, json.Unmarshal(data, &m2))

	require.Len(t, m2.Cells, 1)
	assert.Equal(t, cell.Name, m2.Cells[0].Name)
	assert.Equal(t, cell.Instrs, m2.Cells[0].Instrs)
	assert.Equal(t, m.Consts.Len(), m2.Consts.Len())
}

func TestRecordSchemaInterning(t *testing.T) {
	p := NewPool()
	a := p.InternRecordSchema("Point", []string{"x", "y"})
	b := p.InternRecordSchema("Point", []string{"x", "y"})
	assert.Equal(t, a, b)
}
