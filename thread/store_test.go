package thread

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())

	th := New("t1")
	_, err := th.AppendUserMessage("alice", textContent("hello"))
	require.NoError(t, err)
	_, err = th.AppendToolRequest("sage", "search", "call-1", `{"q":"x"}`)
	require.NoError(t, err)
	_, err = th.AppendToolResponse("call-1", `{"ok":true}`)
	require.NoError(t, err)
	th.SetName("greeting thread")

	require.NoError(t, store.Save(th))

	loaded, err := store.Load("t1")
	require.NoError(t, err)
	require.Equal(t, "t1", loaded.ID())
	require.Equal(t, "greeting thread", loaded.Name())

	all := loaded.GetAll()
	require.Len(t, all, 3)
	require.Equal(t, EntryToolResponse, all[2].Kind())

	// Loaded thread must preserve the no-pending invariant so further
	// entries can be appended.
	_, err = loaded.AppendAgentMessage("sage", textContent("done"))
	require.NoError(t, err)
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Load("does-not-exist")
	require.Error(t, err)
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	store := NewFileStore(t.TempDir())
	th := New("t1")
	require.NoError(t, store.Save(th))
	require.NoError(t, store.Delete("t1"))
	require.NoError(t, store.Delete("t1"))
}

type flakyStore struct {
	failCount int
	calls     int
	inner     Store
}

func (f *flakyStore) Save(t *Thread) error {
	f.calls++
	if f.calls <= f.failCount {
		return errors.New("simulated persistence failure")
	}
	return f.inner.Save(t)
}

func (f *flakyStore) Load(id string) (*Thread, error) { return f.inner.Load(id) }
func (f *flakyStore) Delete(id string) error           { return f.inner.Delete(id) }

func TestRetryingStoreRecoversOnRetry(t *testing.T) {
	inner := NewFileStore(t.TempDir())
	flaky := &flakyStore{failCount: 1, inner: inner}

	var warnings []string
	retrying := NewRetryingStore(flaky, func(msg string) { warnings = append(warnings, msg) })

	th := New("t1")
	require.NoError(t, retrying.Save(th))
	require.Equal(t, 2, flaky.calls, "expected exactly one retry after the first failure")
	require.Empty(t, warnings)
}

func TestRetryingStoreWarnsAfterExhaustingRetry(t *testing.T) {
	inner := NewFileStore(t.TempDir())
	flaky := &flakyStore{failCount: 99, inner: inner}

	var warnings []string
	retrying := NewRetryingStore(flaky, func(msg string) { warnings = append(warnings, msg) })

	th := New("t1")
	err := retrying.Save(th)
	require.NoError(t, err, "caller should not see the error; the in-memory log remains authoritative")
	require.Len(t, warnings, 1)
}
