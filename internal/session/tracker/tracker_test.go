package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	tr := New()
	tr.Register(Record{PostID: "p1", ThreadID: "t1", SessionID: "s1", Kind: KindContent})

	rec, ok := tr.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, KindContent, rec.Kind)
	assert.False(t, rec.CreatedAt.IsZero())

	sid, ok := tr.FindSession("p1")
	require.True(t, ok)
	assert.Equal(t, "s1", sid)

	_, ok = tr.Get("missing")
	assert.False(t, ok)
}

func TestUnregisterRemovesBothIndices(t *testing.T) {
	tr := New()
	tr.Register(Record{PostID: "p1", SessionID: "s1", Kind: KindContent})
	tr.Register(Record{PostID: "p2", SessionID: "s1", Kind: KindTaskList})

	tr.Unregister("p1")
	_, ok := tr.Get("p1")
	assert.False(t, ok)
	assert.Len(t, tr.SessionPosts("s1"), 1)

	// Removing the last post drops the session bucket entirely.
	tr.Unregister("p2")
	assert.Empty(t, tr.SessionPosts("s1"))
	assert.Equal(t, 0, tr.Count())

	tr.Unregister("p2") // no-op
}

func TestGetByKind(t *testing.T) {
	tr := New()
	tr.Register(Record{PostID: "p1", SessionID: "s1", Kind: KindContent})
	tr.Register(Record{PostID: "p2", SessionID: "s1", Kind: KindTaskList})
	tr.Register(Record{PostID: "p3", SessionID: "s2", Kind: KindTaskList})

	got := tr.GetByKind("s1", KindTaskList)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].PostID)

	assert.Empty(t, tr.GetByKind("s1", KindPermission))
	assert.Empty(t, tr.GetByKind("unknown", KindContent))
}

func TestClearSession(t *testing.T) {
	tr := New()
	tr.Register(Record{PostID: "p1", SessionID: "s1", Kind: KindContent})
	tr.Register(Record{PostID: "p2", SessionID: "s1", Kind: KindTaskList})
	tr.Register(Record{PostID: "p3", SessionID: "s2", Kind: KindContent})

	ids := tr.ClearSession("s1")
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)
	assert.Equal(t, 1, tr.Count())

	_, ok := tr.FindSession("p1")
	assert.False(t, ok)
	_, ok = tr.FindSession("p3")
	assert.True(t, ok)

	assert.Nil(t, tr.ClearSession("s1"))
}

func TestReRegisterMovesSessions(t *testing.T) {
	tr := New()
	tr.Register(Record{PostID: "p1", SessionID: "s1", Kind: KindTaskList})
	tr.Register(Record{PostID: "p1", SessionID: "s2", Kind: KindContent})

	assert.Empty(t, tr.SessionPosts("s1"))
	require.Len(t, tr.SessionPosts("s2"), 1)

	rec, _ := tr.Get("p1")
	assert.Equal(t, KindContent, rec.Kind)
	assert.Equal(t, 1, tr.Count())
}
