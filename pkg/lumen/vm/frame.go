package vm

// maxCallDepth bounds recursion (spec.md §3 "Call Frame": "a fixed
// maximum depth (256 frames)").
const maxCallDepth = 256

// frame is a VM-internal call frame: which cell is executing, its
// instruction pointer, the base offset into the shared register array,
// which caller register receives the return value, and the caller's
// frame index (-1 for the outermost frame).
type frame struct {
	cellName string
	ip       int
	base     int
	dest     int
	caller   int
	// upvalues is the calling closure's captured-variable list (nil for
	// a plain, non-closure call such as the compiler driver's top-level
	// Call), read by GetUpvalue/written by SetUpvalue while this frame
	// is executing.
	upvalues []Value
}

// FutureState is the lifecycle of a spawned future (spec.md §3
// "Future").
type FutureState int

const (
	FuturePending FutureState = iota
	FutureResolved
	FutureFailed
)

type futureEntry struct {
	state FutureState
	value Value
	err   error
	order int // FIFO enqueue order, used under deterministic mode
	resumed bool

	// cellName/args/upvalues describe a not-yet-run spawned call
	// (state == FuturePending): resolveFuture invokes
	// Machine.callCell(cellName, args, upvalues) the first time the
	// scheduler picks this entry off the ready queue. Left zero for an
	// entry that was resolved immediately at Spawn time (a composed
	// closure, or a spawn argument that wasn't a plain call).
	cellName string
	args     []Value
	upvalues []Value
}
