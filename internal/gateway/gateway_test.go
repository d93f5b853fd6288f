package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/store"
	"github.com/threadrelay/threadrelay/internal/tools"
)

type fakePost struct {
	body      string
	reactions []string
}

// fakePort is an in-memory platform binding with injectable event channels.
type fakePort struct {
	mu    sync.Mutex
	seq   int
	posts map[string]*fakePost

	messages  chan platform.MessageEvent
	reactions chan platform.ReactionEvent

	allowed map[string]bool
	files   map[string][]byte
}

func newFakePort() *fakePort {
	return &fakePort{
		posts:     make(map[string]*fakePost),
		messages:  make(chan platform.MessageEvent, 16),
		reactions: make(chan platform.ReactionEvent, 16),
		allowed:   map[string]bool{"alice": true},
		files:     make(map[string][]byte),
	}
}

func (p *fakePort) CreatePost(_ context.Context, threadID, body string) (*platform.Post, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("p%d", p.seq)
	p.posts[id] = &fakePost{body: body}
	return &platform.Post{ID: id, ThreadID: threadID}, nil
}

func (p *fakePort) CreateInteractivePost(ctx context.Context, threadID, body string, reactions []string) (*platform.Post, error) {
	post, err := p.CreatePost(ctx, threadID, body)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.posts[post.ID].reactions = append([]string(nil), reactions...)
	p.mu.Unlock()
	return post, nil
}

func (p *fakePort) UpdatePost(_ context.Context, postID, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	post, ok := p.posts[postID]
	if !ok {
		return platform.ErrPostGone
	}
	post.body = body
	return nil
}

func (p *fakePort) DeletePost(_ context.Context, postID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.posts, postID)
	return nil
}

func (p *fakePort) PinPost(context.Context, string) error   { return nil }
func (p *fakePort) UnpinPost(context.Context, string) error { return nil }

func (p *fakePort) AddReaction(context.Context, string, string) error    { return nil }
func (p *fakePort) RemoveReaction(context.Context, string, string) error { return nil }

func (p *fakePort) SendTyping(context.Context, string) {}

func (p *fakePort) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.files[fileID]
	if !ok {
		return nil, fmt.Errorf("no such file %s", fileID)
	}
	return data, nil
}

func (p *fakePort) MessageLimits() platform.Limits {
	return platform.Limits{MaxLength: 16000, SoftThreshold: 4000, HardThreshold: 8000}
}

func (p *fakePort) Formatter() platform.Formatter { return platform.MarkdownFormatter{} }

func (p *fakePort) IsUserAllowed(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed[user]
}

func (p *fakePort) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePort) Messages() <-chan platform.MessageEvent   { return p.messages }
func (p *fakePort) Reactions() <-chan platform.ReactionEvent { return p.reactions }
func (p *fakePort) ID() string                               { return "fake" }
func (p *fakePort) BotName() string                          { return "relay" }

func (p *fakePort) lastBody() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.posts[fmt.Sprintf("p%d", p.seq)].body
}

func (p *fakePort) findBody(substr string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, post := range p.posts {
		if strings.Contains(post.body, substr) {
			return post.body, true
		}
	}
	return "", false
}

func newTestGateway(t *testing.T) (*Gateway, *fakePort, *session.Manager) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	bin := filepath.Join(t.TempDir(), "assistant")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexec cat >/dev/null\n"), 0o755))

	port := newFakePort()
	m := session.NewManager(session.ManagerConfig{
		PlatformID:     "fake",
		Command:        bin,
		DefaultWorkDir: t.TempDir(),
		IdleTimeout:    time.Minute,
	}, port, tracker.New(), tools.NewRegistry(), nil, nil, log)
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	return New(port, m, nil, log), port, m
}

func TestGateway_MentionStartsSession(t *testing.T) {
	g, _, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m1", UserID: "alice", UserName: "alice",
		Text: "@relay please fix the failing test", IsMention: true,
	})

	s, ok := m.Get("m1")
	require.True(t, ok, "a mention opens a session in its own thread")
	assert.Equal(t, "alice", s.StartedBy())
	assert.Equal(t, session.StateRunning, s.State())
}

func TestGateway_NonMentionIgnored(t *testing.T) {
	g, _, m := newTestGateway(t)

	g.handleMessage(context.Background(), platform.MessageEvent{
		PostID: "m1", UserID: "alice", Text: "just chatting",
	})
	assert.Equal(t, 0, m.Count())
}

func TestGateway_ReplyResumesStoredThread(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	bin := filepath.Join(t.TempDir(), "assistant")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexec cat >/dev/null\n"), 0o755))

	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// A previous run left a record for thread t9.
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, store.Record{
		SessionID:          "fake:t9",
		PlatformID:         "fake",
		ThreadID:           "t9",
		StartedBy:          "alice",
		AssistantSessionID: "conv-1",
	}))

	port := newFakePort()
	m := session.NewManager(session.ManagerConfig{
		PlatformID:     "fake",
		Command:        bin,
		DefaultWorkDir: t.TempDir(),
		IdleTimeout:    time.Minute,
	}, port, tracker.New(), tools.NewRegistry(), st, nil, log)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	g := New(port, m, nil, log)

	// A plain reply in an unknown thread is still ignored.
	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m1", ThreadID: "t0", UserID: "alice", Text: "ping",
	})
	assert.Equal(t, 0, m.Count())

	// A non-allowed user cannot revive the thread either.
	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t9", UserID: "mallory", Text: "resume please",
	})
	assert.Equal(t, 0, m.Count())

	// The stored thread comes back on a plain reply, no mention needed.
	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m3", ThreadID: "t9", UserID: "alice", Text: "thanks, also check the tests",
	})
	s, ok := m.Get("t9")
	require.True(t, ok, "a reply in a stored thread revives its session")
	assert.Equal(t, "conv-1", s.AssistantSessionID())
	assert.Equal(t, "alice", s.StartedBy())
}

func TestGateway_BotEchoIgnored(t *testing.T) {
	g, _, m := newTestGateway(t)

	g.handleMessage(context.Background(), platform.MessageEvent{
		PostID: "m1", UserID: "relay-bot", Text: "@relay hi", IsMention: true, IsBot: true,
	})
	assert.Equal(t, 0, m.Count())
}

func TestGateway_NotAllowedUserCannotStart(t *testing.T) {
	g, _, m := newTestGateway(t)

	g.handleMessage(context.Background(), platform.MessageEvent{
		PostID: "m1", UserID: "mallory", Text: "@relay hello", IsMention: true,
	})
	assert.Equal(t, 0, m.Count())
}

func TestGateway_HelpCommand(t *testing.T) {
	g, port, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := m.GetOrCreate(ctx, "t1", "alice", "")
	require.NoError(t, err)

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t1", UserID: "alice", Text: "!help",
	})
	assert.Contains(t, port.lastBody(), "Commands")
}

func TestGateway_StopCommand(t *testing.T) {
	g, port, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := m.GetOrCreate(ctx, "t1", "alice", "")
	require.NoError(t, err)

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t1", UserID: "alice", Text: "!stop",
	})
	assert.Equal(t, 0, m.Count())
	assert.Contains(t, port.lastBody(), "Session ended")
}

func TestGateway_UpdateNowRestartsAssistant(t *testing.T) {
	g, port, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, err := m.GetOrCreate(ctx, "t1", "alice", "")
	require.NoError(t, err)
	gen := s.AssistantGeneration()

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t1", UserID: "alice", Text: "!update now",
	})
	assert.Contains(t, port.lastBody(), "restarted")
	assert.Greater(t, s.AssistantGeneration(), gen)
}

func TestGateway_CdCommandValidatesDir(t *testing.T) {
	g, port, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, err := m.GetOrCreate(ctx, "t1", "alice", "")
	require.NoError(t, err)

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t1", UserID: "alice", Text: "!cd /no/such/dir",
	})
	assert.Contains(t, port.lastBody(), "Not a directory")

	dir := t.TempDir()
	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m3", ThreadID: "t1", UserID: "alice", Text: "!cd " + dir,
	})
	assert.Contains(t, port.lastBody(), "Working directory set")
	assert.Equal(t, dir, s.WorkingDir())
}

func TestGateway_InviteAndKick(t *testing.T) {
	g, port, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, err := m.GetOrCreate(ctx, "t1", "alice", "")
	require.NoError(t, err)

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t1", UserID: "alice", Text: "!invite @bob",
	})
	assert.True(t, s.IsUserAllowed("bob"))

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m3", ThreadID: "t1", UserID: "alice", Text: "!kick @bob",
	})
	assert.False(t, s.IsUserAllowed("bob"))

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m4", ThreadID: "t1", UserID: "alice", Text: "!kick @alice",
	})
	assert.Contains(t, port.lastBody(), "cannot be removed")
}

func TestGateway_CommandWithoutSessionDoesNotStartOne(t *testing.T) {
	g, port, m := newTestGateway(t)
	ctx := context.Background()

	// A stray command in an unknown thread is dropped.
	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m1", UserID: "alice", Text: "!stop",
	})
	assert.Equal(t, 0, m.Count())
	port.mu.Lock()
	assert.Empty(t, port.posts)
	port.mu.Unlock()

	// A mention that is only a command gets a notice, not a session.
	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", UserID: "alice", Text: "@relay !help", IsMention: true,
	})
	assert.Equal(t, 0, m.Count())
	assert.Contains(t, port.lastBody(), "No active session")
}

func TestGateway_CommandsFromNonAllowedUserIgnored(t *testing.T) {
	g, _, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := m.GetOrCreate(ctx, "t1", "alice", "")
	require.NoError(t, err)

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t1", UserID: "mallory", Text: "!stop",
	})
	assert.Equal(t, 1, m.Count(), "non-allowed users cannot run commands")
}

func TestGateway_MessageApprovalFlow(t *testing.T) {
	g, port, m := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := m.GetOrCreate(ctx, "t1", "alice", "")
	require.NoError(t, err)

	g.handleMessage(ctx, platform.MessageEvent{
		PostID: "m2", ThreadID: "t1", UserID: "bob", UserName: "bob",
		Text: "also update the readme",
	})
	body, found := port.findBody("Message needs approval")
	require.True(t, found)
	assert.Contains(t, body, "also update the readme")

	// Find the prompt post and approve it as the session starter.
	var promptID string
	port.mu.Lock()
	for id, post := range port.posts {
		if strings.Contains(post.body, "Message needs approval") {
			promptID = id
		}
	}
	port.mu.Unlock()
	require.NotEmpty(t, promptID)

	g.handleReaction(ctx, platform.ReactionEvent{
		PostID: promptID, Emoji: "+1", UserID: "alice", Action: platform.ReactionAdded,
	})
	_, found = port.findBody("Forwarded once")
	assert.True(t, found)
}

func TestGateway_ReactionOnUntrackedPostIgnored(t *testing.T) {
	g, _, _ := newTestGateway(t)

	g.handleReaction(context.Background(), platform.ReactionEvent{
		PostID: "random", Emoji: "+1", UserID: "alice", Action: platform.ReactionAdded,
	})
}

func TestGateway_RunStopsOnCancel(t *testing.T) {
	g, port, _ := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	port.messages <- platform.MessageEvent{PostID: "m1", UserID: "alice", Text: "hi"}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop on cancel")
	}
}

func TestStripMention(t *testing.T) {
	assert.Equal(t, "fix it", stripMention("@relay fix it", "relay"))
	assert.Equal(t, "fix it", stripMention("relay fix it", "relay"))
	assert.Equal(t, "fix it", stripMention("fix it", "relay"))
	assert.Equal(t, "", stripMention("@relay", "relay"))
}

func TestThreadFor(t *testing.T) {
	assert.Equal(t, "root", threadFor(platform.MessageEvent{PostID: "m9", ThreadID: "root"}))
	assert.Equal(t, "m9", threadFor(platform.MessageEvent{PostID: "m9"}))
}
