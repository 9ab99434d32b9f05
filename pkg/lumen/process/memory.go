package process

import (
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// memoryState is one memory-process instance's owned state (spec.md
// §4.8 "Memory process"): an append-only log plus a key-value store.
// remember/upsert/store all write the same kv map, and recall/get both
// read it — spec.md names them as distinct methods but describes
// identical key-value semantics for each pair, so one backing map
// serves all three names rather than three parallel stores that would
// only ever diverge by caller typo.
type memoryState struct {
	log []vm.Value
	kv  map[string]vm.Value
}

func newMemoryState() *memoryState {
	return &memoryState{kv: map[string]vm.Value{}}
}

// memoryFor must be called with h.mu already held.
func (h *Host) memoryFor(self *vm.Value) *memoryState {
	id := self.RecordIdentity()
	st, ok := h.memory[id]
	if !ok {
		st = newMemoryState()
		h.memory[id] = st
	}
	return st
}

func (h *Host) callMemoryMethod(self *vm.Value, method string, args []vm.Value) (vm.Value, error) {
	logMethod("memory", method, args)

	// query calls back out into a Lumen closure (h.caller.CallClosure),
	// which may itself reach a process method on this same instance —
	// sync.Mutex isn't reentrant, so the log snapshot is taken and the
	// lock released before that call happens, unlike every other branch
	// below which holds h.mu for its entire body.
	if method == "query" {
		h.mu.Lock()
		st := h.memoryFor(self)
		snapshot := append([]vm.Value(nil), st.log...)
		h.mu.Unlock()

		if len(args) < 1 || h.caller == nil {
			return vm.NewList(nil), nil
		}
		predicate := args[0]
		var matched []vm.Value
		for _, item := range snapshot {
			keep, err := h.caller.CallClosure(predicate, []vm.Value{item})
			if err != nil {
				return vm.Value{}, err
			}
			if keep.Truthy() {
				matched = append(matched, item)
			}
		}
		return vm.NewList(matched), nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.memoryFor(self)

	switch method {
	case "append":
		if len(args) >= 1 {
			st.log = append(st.log, args[0])
		}
		return vm.Null(), nil

	case "recent":
		n := 0
		if len(args) >= 1 && args[0].Kind == vm.KInt {
			n = int(args[0].Int)
		}
		if n > len(st.log) {
			n = len(st.log)
		}
		if n < 0 {
			n = 0
		}
		start := len(st.log) - n
		return vm.NewList(append([]vm.Value(nil), st.log[start:]...)), nil

	case "remember", "upsert", "store":
		if len(args) >= 2 && args[0].Kind == vm.KString {
			st.kv[args[0].Str] = args[1]
		}
		return vm.Null(), nil

	case "recall", "get":
		if len(args) >= 1 && args[0].Kind == vm.KString {
			if v, ok := st.kv[args[0].Str]; ok {
				return v, nil
			}
		}
		return vm.Null(), nil
	}

	return vm.Value{}, unknownMethodError("memory", method)
}
