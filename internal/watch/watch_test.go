package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/compiler"
)

func TestWatcherRecompilesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lm")
	src := "cell main() -> Int\n  return 1\nend\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	results := make(chan error, 4)
	w, err := New(path, compiler.Options{}, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.OnRecompile = func(prog *compiler.Program, err error) { results <- err }
	require.NoError(t, w.Start())
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a recompile notification after write")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lm")
	require.NoError(t, os.WriteFile(path, []byte("cell main() -> Int\n  return 1\nend\n"), 0o644))

	results := make(chan error, 4)
	w, err := New(path, compiler.Options{}, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.OnRecompile = func(prog *compiler.Program, err error) { results <- err }
	require.NoError(t, w.Start())
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o644))

	select {
	case <-results:
		t.Fatal("unrelated file write must not trigger a recompile")
	case <-time.After(200 * time.Millisecond):
	}
}
