package thread

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func textContent(s string) []ContentPart {
	return []ContentPart{{Kind: ContentText, Text: s}}
}

func TestAppendOrdersEntries(t *testing.T) {
	th := New("t1")
	_, err := th.AppendUserMessage("alice", textContent("hi"))
	require.NoError(t, err)
	_, err = th.AppendAgentMessage("sage", textContent("hello"))
	require.NoError(t, err)

	all := th.GetAll()
	require.Len(t, all, 2)
	require.Equal(t, EntryUserMessage, all[0].Kind())
	require.Equal(t, EntryAgentMessage, all[1].Kind())
}

func TestAppendRejectsNonMatchingEntryWhilePending(t *testing.T) {
	th := New("t1")
	_, err := th.AppendToolRequest("sage", "search", "call-1", `{"q":"x"}`)
	require.NoError(t, err)

	_, err = th.AppendAgentMessage("sage", textContent("too early"))
	require.Error(t, err)
	var pendingErr *ErrToolResponsePending
	require.ErrorAs(t, err, &pendingErr)
	require.Equal(t, "call-1", pendingErr.CallID)

	_, err = th.AppendToolResponse("call-1", `{"ok":true}`)
	require.NoError(t, err)

	_, err = th.AppendAgentMessage("sage", textContent("now ok"))
	require.NoError(t, err)
}

func TestGetSinceReturnsOnlyLaterEntries(t *testing.T) {
	th := New("t1")
	first, err := th.AppendUserMessage("alice", textContent("one"))
	require.NoError(t, err)
	_, err = th.AppendAgentMessage("sage", textContent("two"))
	require.NoError(t, err)

	since := th.GetSince(first.EntryID())
	require.Len(t, since, 1)
	require.Equal(t, EntryAgentMessage, since[0].Kind())
}

func TestForkSeedsFromParentAndIncrementsDepth(t *testing.T) {
	parent := New("parent")
	_, err := parent.AppendUserMessage("alice", textContent("hi"))
	require.NoError(t, err)

	child, err := parent.Fork("child")
	require.NoError(t, err)
	require.Equal(t, 1, child.ForkDepth())
	require.Len(t, child.GetAll(), 1)

	// Parent is untouched by further child mutation.
	_, err = child.AppendAgentMessage("helper", textContent("child work"))
	require.NoError(t, err)
	require.Len(t, parent.GetAll(), 1)
}

func TestForkRefusesBeyondMaxDepth(t *testing.T) {
	cur := New("root")
	var err error
	for i := 0; i < MaxForkDepth; i++ {
		cur, err = cur.Fork("gen")
		require.NoError(t, err)
	}
	_, err = cur.Fork("one-too-many")
	require.ErrorIs(t, err, ErrForkDepthExceeded)
}

func TestMergeAppendsSummaryWithoutInliningChildEntries(t *testing.T) {
	parent := New("parent")
	child, err := parent.Fork("child")
	require.NoError(t, err)
	_, err = child.AppendAgentMessage("helper", textContent("did the work"))
	require.NoError(t, err)

	_, err = parent.Merge("helper", "delegated task complete: did the work")
	require.NoError(t, err)

	all := parent.GetAll()
	require.Len(t, all, 1, "child entries must not be inlined into the parent")
	require.Equal(t, EntryAgentMessage, all[0].Kind())
}

func TestDeleteFromTruncatesAndClearsPending(t *testing.T) {
	th := New("t1")
	_, err := th.AppendUserMessage("alice", textContent("hi"))
	require.NoError(t, err)
	req, err := th.AppendToolRequest("sage", "search", "call-1", `{}`)
	require.NoError(t, err)

	require.NoError(t, th.DeleteFrom(req.EntryID()))
	require.Len(t, th.GetAll(), 1)

	// Pending state cleared: an unrelated entry can be appended immediately.
	_, err = th.AppendAgentMessage("sage", textContent("after retry"))
	require.NoError(t, err)
}

func TestFirstUserTextRespectsLimit(t *testing.T) {
	th := New("t1")
	_, _ = th.AppendUserMessage("alice", textContent("first"))
	_, _ = th.AppendAgentMessage("sage", textContent("reply"))
	_, _ = th.AppendUserMessage("alice", textContent("second"))
	_, _ = th.AppendUserMessage("alice", textContent("third"))
	_, _ = th.AppendUserMessage("alice", textContent("fourth"))

	require.Equal(t, "first\nsecond", th.FirstUserText(2))
}

func TestCountUserMessagesAndLastAgentName(t *testing.T) {
	th := New("t1")
	_, _ = th.AppendUserMessage("alice", textContent("hi"))
	_, _ = th.AppendAgentMessage("sage", textContent("hello"))
	_, _ = th.AppendUserMessage("alice", textContent("thanks"))
	_, _ = th.AppendAgentMessage("coach", textContent("anytime"))

	require.Equal(t, 2, th.CountUserMessages())
	require.Equal(t, "coach", th.LastAgentName())
}
