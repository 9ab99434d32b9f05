// Package process implements built-in method semantics for
// instance-bound process constructs (spec.md §4.8): memory's
// append/recent/remember/recall/upsert/get/query/store, and
// machine/pipeline's run/start/step/is_terminal/current_state/
// resume_from. The VM never implements these itself — it only calls
// through the vm.ProcessMethods interface a Host satisfies.
package process

import (
	"fmt"
	"sync"

	"github.com/ternarybob/lumen/internal/logger"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// Host dispatches process-instance method calls by inspecting the
// receiver's record shape (spec.md §4.8's two process kinds have
// distinct field layouts — see pkg/lumen/lower's lowerProcess) rather
// than by the record's declared type name, since a declared type name
// is exactly as meaningful as any other string and carries no runtime
// guarantee about which runtime owns it.
type Host struct {
	mu      sync.Mutex
	memory  map[any]*memoryState
	machine map[any]*machineState
	caller  ClosureCaller
}

// ClosureCaller invokes a Lumen closure value from Go-level host code.
// Satisfied by *vm.Machine (vm.Machine.CallClosure); a separate
// interface so this package never imports vm.Machine directly, only
// the vm.Value/vm.ProcessMethods seam it already depends on.
type ClosureCaller interface {
	CallClosure(v vm.Value, args []vm.Value) (vm.Value, error)
}

// NewHost creates an empty process-method host. One Host instance is
// shared by every memory/machine declaration compiled into a module;
// instance isolation (spec.md §4.8) comes from keying state off each
// record's own identity, not from a separate Host per declared type.
func NewHost() *Host {
	return &Host{
		memory:  map[any]*memoryState{},
		machine: map[any]*machineState{},
	}
}

// SetCaller wires the closure-invocation seam used by memory.query's
// predicate. Left as a setter (like vm.Machine.SetProcessMethods) since
// the Machine and the Host are constructed independently and then
// cross-wired by the compiler driver.
func (h *Host) SetCaller(c ClosureCaller) { h.caller = c }

// unknownMethodError reports a method name the given process kind does
// not implement, such as a memory method called on a machine instance
// (lowerMethodCall emits OpCallMethod without checking the name against
// the instance's kind). machine.go also reports an out-of-range
// resume_from sequence through it.
func unknownMethodError(kind, method string) error {
	return fmt.Errorf("%s process has no method %q", kind, method)
}

// CallMethod implements vm.ProcessMethods.
func (h *Host) CallMethod(self *vm.Value, method string, args []vm.Value) (vm.Value, error) {
	if self.RecordType() == "" {
		return vm.Value{}, fmt.Errorf("process method %q called on non-record value", method)
	}
	if isMemoryInstance(*self) {
		return h.callMemoryMethod(self, method, args)
	}
	if isMachineInstance(*self) {
		return h.callMachineMethod(self, method, args)
	}
	return vm.Value{}, fmt.Errorf("%q is not a process instance", self.RecordType())
}

// isMemoryInstance recognizes the field layout lowerProcess's
// ast.ProcessMemory branch produces: {"items", "kind"} with
// kind == "memory".
func isMemoryInstance(v vm.Value) bool {
	return v.GetField("kind").Kind == vm.KString && v.GetField("kind").Str == "memory"
}

// isMachineInstance recognizes the field layout lowerProcess's default
// (machine/pipeline) branch produces: one field per declared state,
// plus a synthetic "__state" field.
func isMachineInstance(v vm.Value) bool {
	return v.GetField("__state").Kind == vm.KString
}

func logMethod(kind, method string, args []vm.Value) {
	logger.GetLogger().Debug().
		Str("process_kind", kind).
		Str("method", method).
		Int("arg_count", len(args)).
		Msg("process method dispatched")
}
