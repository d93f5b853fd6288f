package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/tools"
)

func TestSubagent_StartAndComplete(t *testing.T) {
	pub := newFakePublisher()
	env := newTestEnv(t, pub)
	sub := NewSubagent(env)
	ctx := context.Background()

	sub.Start(ctx, "tu1", "🤖 Explore the repo")
	postID := pub.lastCreated()
	assert.True(t, sub.Owns("tu1"))
	assert.Contains(t, pub.body(postID), "🤖 Explore the repo")
	assert.Contains(t, pub.body(postID), "running")

	rec, ok := env.Tracker.Get(postID)
	require.True(t, ok)
	assert.Equal(t, tracker.KindSubagent, rec.Kind)
	assert.Equal(t, "tu1", rec.ToolUseID)

	sub.Complete(ctx, "tu1", "found 3 packages", false)
	assert.False(t, sub.Owns("tu1"))
	// Success keeps the thread compact: marker only, no summary text.
	assert.Equal(t, "🤖 Explore the repo\n"+tools.ResultOK, pub.body(postID))
}

func TestSubagent_CompleteError(t *testing.T) {
	pub := newFakePublisher()
	sub := NewSubagent(newTestEnv(t, pub))
	ctx := context.Background()

	sub.Start(ctx, "tu1", "🤖 Run the tests")
	postID := pub.lastCreated()

	sub.Complete(ctx, "tu1", "exit status 1", true)
	body := pub.body(postID)
	assert.Contains(t, body, tools.ResultFail)
	assert.Contains(t, body, "exit status 1")
}

func TestSubagent_CompleteUnknownIgnored(t *testing.T) {
	pub := newFakePublisher()
	sub := NewSubagent(newTestEnv(t, pub))

	sub.Complete(context.Background(), "never-started", "x", false)
	assert.Empty(t, pub.opLog())
}

func TestSubagent_PostGoneUnregisters(t *testing.T) {
	pub := newFakePublisher()
	env := newTestEnv(t, pub)
	sub := NewSubagent(env)
	ctx := context.Background()

	sub.Start(ctx, "tu1", "🤖 agent")
	postID := pub.lastCreated()
	pub.failUpdate[postID] = platform.ErrPostGone

	sub.Complete(ctx, "tu1", "", false)
	_, ok := env.Tracker.Get(postID)
	assert.False(t, ok)
}

func TestSubagent_CloseKeepsPosts(t *testing.T) {
	pub := newFakePublisher()
	sub := NewSubagent(newTestEnv(t, pub))
	ctx := context.Background()

	sub.Start(ctx, "tu1", "🤖 agent")
	postID := pub.lastCreated()

	sub.Close(ctx)
	assert.False(t, sub.Owns("tu1"))
	// The announcement post stays as a record of the turn.
	assert.NotEmpty(t, pub.body(postID))
}
