package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

func newMemoryInstance() vm.Value {
	return vm.NewRecord("Log", []string{"items", "kind"}, []vm.Value{vm.NewList(nil), vm.String("memory")})
}

func newMachineInstance(states ...string) vm.Value {
	fields := append(append([]string(nil), states...), "__state")
	values := make([]vm.Value, len(states)+1)
	for i := range states {
		values[i] = vm.Null()
	}
	values[len(states)] = vm.String(states[0])
	return vm.NewRecord("Order", fields, values)
}

func TestHostMemoryAppendAndRecent(t *testing.T) {
	h := NewHost()
	self := newMemoryInstance()

	_, err := h.CallMethod(&self, "append", []vm.Value{vm.Int(1)})
	require.NoError(t, err)
	_, err = h.CallMethod(&self, "append", []vm.Value{vm.Int(2)})
	require.NoError(t, err)
	_, err = h.CallMethod(&self, "append", []vm.Value{vm.Int(3)})
	require.NoError(t, err)

	result, err := h.CallMethod(&self, "recent", []vm.Value{vm.Int(2)})
	require.NoError(t, err)
	require.Equal(t, vm.KList, result.Kind)
	require.Len(t, result.Elems(), 2)
	assert.Equal(t, int64(2), result.Elems()[0].Int)
	assert.Equal(t, int64(3), result.Elems()[1].Int)
}

func TestHostMemoryKeyValuePairsShareBackingStore(t *testing.T) {
	h := NewHost()
	self := newMemoryInstance()

	_, err := h.CallMethod(&self, "remember", []vm.Value{vm.String("k"), vm.Int(7)})
	require.NoError(t, err)

	got, err := h.CallMethod(&self, "get", []vm.Value{vm.String("k")})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Int, "remember and get must share one map, per spec.md's identical key-value semantics")

	_, err = h.CallMethod(&self, "upsert", []vm.Value{vm.String("k"), vm.Int(9)})
	require.NoError(t, err)
	got, err = h.CallMethod(&self, "recall", []vm.Value{vm.String("k")})
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Int)
}

func TestHostMemoryQueryFiltersThroughClosure(t *testing.T) {
	h := NewHost()
	h.SetCaller(stubCaller(func(args []vm.Value) (vm.Value, error) {
		return vm.Bool(args[0].Int > 1), nil
	}))
	self := newMemoryInstance()
	_, _ = h.CallMethod(&self, "append", []vm.Value{vm.Int(1)})
	_, _ = h.CallMethod(&self, "append", []vm.Value{vm.Int(2)})
	_, _ = h.CallMethod(&self, "append", []vm.Value{vm.Int(3)})

	result, err := h.CallMethod(&self, "query", []vm.Value{vm.Null()})
	require.NoError(t, err)
	require.Equal(t, vm.KList, result.Kind)
	assert.Len(t, result.Elems(), 2)
}

func TestHostMachineStepAdvancesInDeclaredOrder(t *testing.T) {
	h := NewHost()
	self := newMachineInstance("pending", "shipped", "delivered")

	res, err := h.CallMethod(&self, "step", nil)
	require.NoError(t, err)
	assert.Equal(t, "shipped", res.GetField("__state").Str)

	term, err := h.CallMethod(&self, "is_terminal", nil)
	require.NoError(t, err)
	assert.False(t, term.Bool)

	res, err = h.CallMethod(&self, "step", nil)
	require.NoError(t, err)
	assert.Equal(t, "delivered", res.GetField("__state").Str)

	term, err = h.CallMethod(&self, "is_terminal", nil)
	require.NoError(t, err)
	assert.True(t, term.Bool)
}

func TestHostMachineRunAdvancesToTerminal(t *testing.T) {
	h := NewHost()
	self := newMachineInstance("a", "b", "c")

	res, err := h.CallMethod(&self, "run", nil)
	require.NoError(t, err)
	assert.Equal(t, "c", res.GetField("__state").Str)
}

func TestHostMachineResumeFromRewindsLog(t *testing.T) {
	h := NewHost()
	self := newMachineInstance("a", "b", "c")

	_, err := h.CallMethod(&self, "step", nil) // -> b
	require.NoError(t, err)
	_, err = h.CallMethod(&self, "step", nil) // -> c
	require.NoError(t, err)

	res, err := h.CallMethod(&self, "resume_from", []vm.Value{vm.Int(0)})
	require.NoError(t, err)
	assert.Equal(t, "a", res.GetField("__state").Str)
}

type stubCaller func(args []vm.Value) (vm.Value, error)

func (s stubCaller) CallClosure(_ vm.Value, args []vm.Value) (vm.Value, error) {
	return s(args)
}
