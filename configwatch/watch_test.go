package configwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "coday.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("description: a\n"), 0o644))

	var fired atomic.Int32
	w, err := New([]string{dir}, func() { fired.Add(1) }, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()
	w.Start(context.Background())

	require.NoError(t, os.WriteFile(cfg, []byte("description: b\n"), 0o644))
	waitFor(t, func() bool { return fired.Load() >= 1 })
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "agents.yaml")

	var fired atomic.Int32
	w, err := New([]string{dir}, func() { fired.Add(1) }, Options{Debounce: 150 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()
	w.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(cfg, []byte("name: x\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool { return fired.Load() >= 1 })
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load(), "burst collapses to one reload")
}

func TestWatcherSkipsMissingPaths(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "does-not-exist"), dir}, func() {}, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestWatcherCloseStopsLoop(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	w, err := New([]string{dir}, func() { fired.Add(1) }, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	w.Start(context.Background())
	require.NoError(t, w.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.yaml"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}
