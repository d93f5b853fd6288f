package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/tools"
)

type fakePost struct {
	body      string
	reactions []string
}

// fakePub is a minimal in-memory publisher for session-level tests.
type fakePub struct {
	mu    sync.Mutex
	seq   int
	posts map[string]*fakePost

	// allowAll controls the platform-level ACL answer.
	allowAll bool
}

func newFakePub() *fakePub {
	return &fakePub{posts: make(map[string]*fakePost), allowAll: true}
}

func (p *fakePub) CreatePost(_ context.Context, threadID, body string) (*platform.Post, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("p%d", p.seq)
	p.posts[id] = &fakePost{body: body}
	return &platform.Post{ID: id, ThreadID: threadID}, nil
}

func (p *fakePub) CreateInteractivePost(ctx context.Context, threadID, body string, reactions []string) (*platform.Post, error) {
	post, err := p.CreatePost(ctx, threadID, body)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.posts[post.ID].reactions = append([]string(nil), reactions...)
	p.mu.Unlock()
	return post, nil
}

func (p *fakePub) UpdatePost(_ context.Context, postID, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	post, ok := p.posts[postID]
	if !ok {
		return platform.ErrPostGone
	}
	post.body = body
	return nil
}

func (p *fakePub) DeletePost(_ context.Context, postID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.posts, postID)
	return nil
}

func (p *fakePub) PinPost(context.Context, string) error   { return nil }
func (p *fakePub) UnpinPost(context.Context, string) error { return nil }

func (p *fakePub) AddReaction(context.Context, string, string) error    { return nil }
func (p *fakePub) RemoveReaction(context.Context, string, string) error { return nil }

func (p *fakePub) SendTyping(context.Context, string) {}

func (p *fakePub) DownloadFile(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("no files in fake")
}

func (p *fakePub) MessageLimits() platform.Limits {
	return platform.Limits{MaxLength: 16000, SoftThreshold: 4000, HardThreshold: 8000}
}

func (p *fakePub) Formatter() platform.Formatter { return platform.MarkdownFormatter{} }

func (p *fakePub) IsUserAllowed(string) bool { return p.allowAll }

func (p *fakePub) body(postID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post, ok := p.posts[postID]; ok {
		return post.body
	}
	return ""
}

func (p *fakePub) reactions(postID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post, ok := p.posts[postID]; ok {
		return append([]string(nil), post.reactions...)
	}
	return nil
}

func (p *fakePub) lastCreated() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("p%d", p.seq)
}

func (p *fakePub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// newTestSession builds an unstarted session over the fake publisher; tests
// drive it by injecting events directly.
func newTestSession(t *testing.T, pub *fakePub) (*Session, *tracker.Tracker) {
	t.Helper()
	trk := tracker.New()
	s := New(Config{
		PlatformID:    "fake",
		ThreadID:      "t1",
		StartedBy:     "alice",
		Command:       "/bin/true",
		FlushDebounce: 5 * time.Millisecond,
	}, pub, trk, tools.NewRegistry(), nil, nil, testLogger(t))
	return s, trk
}
