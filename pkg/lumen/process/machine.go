package process

import (
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// machineState is one machine/pipeline-process instance's owned state.
// spec.md §4.8/§9 explicitly flags transition semantics as partial: a
// ProcessDecl carries only a flat, ordered list of state names (no
// declared edges between them — see ast.ProcessDecl), so there is no
// graph to reach, walk, or validate a jump against. The semantics
// implemented here treat the declared state order as the only
// transition path: start/step/run all advance strictly forward through
// it, is_terminal means "sitting on the last declared state", and
// resume_from rewinds to an earlier point in the instance's own visit
// log rather than replaying any declared edge.
type machineState struct {
	states []string // declared order, recovered from the record's FieldOrder
	log    []string // state names visited, in order, including the current one
}

// machineFor must be called with h.mu already held.
func (h *Host) machineFor(self *vm.Value) *machineState {
	id := self.RecordIdentity()
	st, ok := h.machine[id]
	if !ok {
		order := self.FieldOrder()
		var states []string
		if len(order) > 0 {
			states = order[:len(order)-1] // drop the synthetic "__state" entry
		}
		current := self.GetField("__state").Str
		st = &machineState{states: states, log: []string{current}}
		h.machine[id] = st
	}
	return st
}

func (h *Host) callMachineMethod(self *vm.Value, method string, args []vm.Value) (vm.Value, error) {
	logMethod("machine", method, args)

	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.machineFor(self)

	switch method {
	case "current_state":
		return self.GetField("__state"), nil

	case "is_terminal":
		cur := self.GetField("__state").Str
		terminal := len(st.states) > 0 && cur == st.states[len(st.states)-1]
		return vm.Bool(terminal), nil

	case "start":
		if len(st.states) == 0 {
			return *self, nil
		}
		return h.advanceTo(self, st, 0, args), nil

	case "step", "run":
		idx := indexOf(st.states, self.GetField("__state").Str)
		if idx < 0 || idx+1 >= len(st.states) {
			return *self, nil // already terminal or unrecognized state
		}
		if method == "run" {
			for idx+1 < len(st.states) {
				*self = h.advanceTo(self, st, idx+1, nil)
				idx++
			}
			return *self, nil
		}
		return h.advanceTo(self, st, idx+1, args), nil

	case "resume_from":
		if len(args) < 1 || args[0].Kind != vm.KInt {
			return *self, nil
		}
		seq := int(args[0].Int)
		if seq < 0 || seq >= len(st.log) {
			return vm.Value{}, unknownMethodError("machine", "resume_from: sequence out of range")
		}
		name := st.log[seq]
		st.log = append([]string(nil), st.log[:seq+1]...)
		nv := self.SetField("__state", vm.String(name))
		*self = nv
		return *self, nil
	}

	return vm.Value{}, unknownMethodError("machine", method)
}

// advanceTo moves self to st.states[idx], recording the transition in
// the instance's visit log and writing the advancing state's param
// values (positionally, from args) into the instance's fields.
func (h *Host) advanceTo(self *vm.Value, st *machineState, idx int, args []vm.Value) vm.Value {
	name := st.states[idx]
	nv := self.SetField("__state", vm.String(name))
	if len(args) > 0 {
		nv = nv.SetField(name, args[0])
	}
	*self = nv
	st.log = append(st.log, name)
	return nv
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
