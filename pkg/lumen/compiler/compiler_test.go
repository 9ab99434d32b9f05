package compiler

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// TestCompileAndRunFactorial is spec.md §8 scenario 1, run end-to-end
// through every pipeline stage: extraction (a no-op for a raw ".lm"
// path) -> lex -> parse -> resolve -> check -> lower -> VM.
func TestCompileAndRunFactorial(t *testing.T) {
	src := `
cell fact(n: Int) -> Int
  if n <= 1 then 1 else n * fact(n - 1)
end
cell main() -> Int
  return fact(5)
end
`
	prog, err := Compile("fact.lm", []byte(src), Options{})
	require.NoError(t, err)

	result, err := prog.Run("main", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(120), result.Int)
}

// TestCompileSyntaxErrorsSurfaceAsCompileError exercises the
// parse/check failure path: Compile must return every collected
// diagnostic, not just the first, per spec.md §4.3.
func TestCompileSyntaxErrorsSurfaceAsCompileError(t *testing.T) {
	src := `
cell broken() -> Int
  return undeclared_name
end
`
	_, err := Compile("broken.lm", []byte(src), Options{})
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.NotEmpty(t, cerr.Diags)
}

// TestCompileAndRunToolPolicyViolation is spec.md §8 scenario 6: a
// `grant ... domain` constraint must reject a call to a disallowed
// host before any provider is ever reached, surfacing as an Err union
// the caller can match on.
func TestCompileAndRunToolPolicyViolation(t *testing.T) {
	src := `
use tool http.get as Fetch
grant Fetch domain "*.example.com"
cell main() -> String / {http}
  return Fetch(url: "https://evil.com/x")
end
`
	var traceBuf bytes.Buffer
	prog, err := Compile("policy.lm", []byte(src), Options{RunID: "policy-test", TraceWriter: &traceBuf})
	require.NoError(t, err)

	result, err := prog.Run("main", nil)
	require.NoError(t, err)
	require.Equal(t, vm.KUnion, result.Kind)
	assert.Equal(t, "Err", result.Union.Tag)
	assert.Contains(t, result.Union.Inner.Str, "PolicyViolation")
	assert.Contains(t, result.Union.Inner.Str, "evil.com")

	assert.NotEmpty(t, traceBuf.String(), "a tool-call trace event must still be emitted for a rejected call")
}

// TestProgramDeterministicReflectsFileDirective exercises the
// @deterministic directive propagating from ast.File through to both
// the Machine's scheduler mode and the Program's own accessor.
func TestProgramDeterministicReflectsFileDirective(t *testing.T) {
	src := `
@deterministic true
cell pure_one() -> Int
  return 1
end
cell pure_two() -> Int
  return 2
end
cell main() -> list[Int]
  let a = spawn(pure_one())
  let b = spawn(pure_two())
  return [await a, await b]
end
`
	prog, err := Compile("future.lm", []byte(src), Options{})
	require.NoError(t, err)
	assert.True(t, prog.Deterministic())
	assert.True(t, prog.Machine.Deterministic)

	result, err := prog.Run("main", nil)
	require.NoError(t, err)
	require.Equal(t, vm.KList, result.Kind)
	elems := result.Elems()
	require.Len(t, elems, 2)
	assert.Equal(t, int64(1), elems[0].Int)
	assert.Equal(t, int64(2), elems[1].Int)
}
