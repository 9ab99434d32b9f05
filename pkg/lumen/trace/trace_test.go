package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

func readEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var out []Event
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		out = append(out, ev)
	}
	return out
}

func TestSinkAssignsMonotonicSeq(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, "run-1", true, nil)

	s.Emit("cell-entry", "", nil)
	s.Emit("tool-call", "echo ok", []vm.Value{vm.String("hi")})
	s.Emit("cell-exit", "", nil)

	events := readEvents(t, &buf)
	require.Len(t, events, 3)
	assert.Equal(t, int64(0), events[0].Seq)
	assert.Equal(t, int64(1), events[1].Seq)
	assert.Equal(t, int64(2), events[2].Seq)
	for _, ev := range events {
		assert.Equal(t, "run-1", ev.RunID)
	}
}

func TestSinkDeterministicModeForcesZeroTimestamp(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, "run-1", true, nil)
	s.SetClock(func() int64 { return 99999 })

	s.Emit("cell-entry", "", nil)
	events := readEvents(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, int64(0), events[0].Ts)
}

func TestSinkNonDeterministicModeUsesClock(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, "run-1", false, nil)
	s.SetClock(func() int64 { return 42 })

	s.Emit("cell-entry", "", nil)
	events := readEvents(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, int64(42), events[0].Ts)
}

func TestSinkParsesToolCallAliasAndStatus(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, "run-1", true, nil)

	s.Emit("tool-call", "fetch error", []vm.Value{vm.String("https://example.com")})
	events := readEvents(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, "fetch", events[0].Tool)
	assert.Equal(t, "error", events[0].Status)
	assert.Equal(t, []string{"https://example.com"}, events[0].Inputs)
}

// TestSinkDeterminismLaw is spec.md §8's testable invariant: two
// separate sinks fed the identical call sequence under deterministic
// mode must produce byte-identical trace output.
func TestSinkDeterminismLaw(t *testing.T) {
	run := func() string {
		var buf bytes.Buffer
		s := NewSink(&buf, "run-1", true, nil)
		s.Emit("cell-entry", "", []vm.Value{vm.Int(1)})
		s.Emit("tool-call", "echo ok", []vm.Value{vm.String("hi")})
		s.Emit("cell-exit", "", []vm.Value{vm.Int(2)})
		return buf.String()
	}
	assert.Equal(t, run(), run())
}
