// Package trace implements the Trace Event model and JSONL sink spec.md
// §3/§6 describe: every CallTool and Emit instruction the VM executes
// produces one structured event, in the same order the VM executed
// them in, which is what the determinism law (spec.md §8) tests
// against.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// Event is one JSON Lines trace record (spec.md §6: `{ run_id, seq, ts,
// kind, tool?, inputs?, outputs?, status?, latency_ms? }`). Fields with
// `omitempty` are the spec's "?"-suffixed optional members.
type Event struct {
	RunID     string   `json:"run_id"`
	Seq       int64    `json:"seq"`
	Ts        int64    `json:"ts"`
	Kind      string   `json:"kind"`
	Tool      string   `json:"tool,omitempty"`
	Inputs    []string `json:"inputs,omitempty"`
	Outputs   []string `json:"outputs,omitempty"`
	Status    string   `json:"status,omitempty"`
	LatencyMs int64    `json:"latency_ms,omitempty"`
}

// Sink writes one Event per Emit call as a JSON Lines stream and
// satisfies vm.TraceSink. Under deterministic mode every event's Ts is
// pinned to 0 and Seq is the sole authoritative ordering (spec.md §6,
// §8's determinism law), matching exactly what a second run against
// identical recorded tool responses must reproduce byte-for-byte.
type Sink struct {
	mu            sync.Mutex
	w             io.Writer
	enc           *json.Encoder
	log           arbor.ILogger
	runID         string
	deterministic bool
	seq           int64
	nowFn         func() int64 // overridable for deterministic/test runs
}

// NewSink builds a Sink writing JSONL events to w, tagged with runID.
// When deterministic is true every event's timestamp is forced to 0,
// per spec.md §6. log receives a one-line warning if a single event
// fails to marshal or write — tracing is diagnostic, not a control-flow
// path, so a write failure here never aborts the VM call that produced
// the event.
func NewSink(w io.Writer, runID string, deterministic bool, log arbor.ILogger) *Sink {
	return &Sink{
		w:             w,
		enc:           json.NewEncoder(w),
		log:           log,
		runID:         runID,
		deterministic: deterministic,
		nowFn:         func() int64 { return 0 },
	}
}

// SetClock sets the clock non-deterministic runs use for Ts (the
// default clock returns 0); deterministic runs always emit Ts=0
// regardless.
func (s *Sink) SetClock(nowFn func() int64) {
	s.nowFn = nowFn
}

// Emit implements vm.TraceSink. detail is a small, kind-specific
// annotation exec.go packs in ad hoc (currently "<alias> <status>" for
// tool-call events, empty for effect-emit) — Emit unpacks the pieces it
// recognizes and otherwise just logs the kind and the raw args.
func (s *Sink) Emit(kind, detail string, args []vm.Value) {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	ev := Event{
		RunID: s.runID,
		Seq:   seq,
		Kind:  kind,
	}
	if !s.deterministic {
		ev.Ts = s.nowFn()
	}

	tool, status := splitDetail(kind, detail)
	ev.Tool = tool
	ev.Status = status
	for _, a := range args {
		ev.Inputs = append(ev.Inputs, a.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil && s.log != nil {
		s.log.Warn().Msg(fmt.Sprintf("trace: failed to write event (seq=%d kind=%s): %v", seq, kind, err))
	}
}

// splitDetail recovers a tool alias and status from exec.go's
// "<alias> <status>" convention for tool-call events; every other kind
// carries no alias and detail is returned verbatim as the status.
func splitDetail(kind, detail string) (tool, status string) {
	if kind != "tool-call" || detail == "" {
		return "", detail
	}
	for i := len(detail) - 1; i >= 0; i-- {
		if detail[i] == ' ' {
			return detail[:i], detail[i+1:]
		}
	}
	return "", detail
}
