package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
)

type fakePost struct {
	id        string
	body      string
	pinned    bool
	reactions []string
}

// fakePublisher records every operation in order and keeps a live post map
// so tests can assert on bodies and layout.
type fakePublisher struct {
	mu     sync.Mutex
	seq    int
	posts  map[string]*fakePost
	ops    []string
	limits platform.Limits

	failUpdate map[string]error
	failDelete map[string]error
	failCreate error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		posts:      make(map[string]*fakePost),
		failUpdate: make(map[string]error),
		failDelete: make(map[string]error),
		limits:     platform.Limits{MaxLength: 16000, SoftThreshold: 4000, HardThreshold: 8000, MaxLines: 0},
	}
}

func (p *fakePublisher) op(format string, args ...any) {
	p.ops = append(p.ops, fmt.Sprintf(format, args...))
}

func (p *fakePublisher) CreatePost(_ context.Context, threadID, body string) (*platform.Post, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreate != nil {
		return nil, p.failCreate
	}
	p.seq++
	id := fmt.Sprintf("p%d", p.seq)
	p.posts[id] = &fakePost{id: id, body: body}
	p.op("create:%s", id)
	return &platform.Post{ID: id, ThreadID: threadID}, nil
}

func (p *fakePublisher) CreateInteractivePost(ctx context.Context, threadID, body string, reactions []string) (*platform.Post, error) {
	post, err := p.CreatePost(ctx, threadID, body)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.posts[post.ID].reactions = append([]string(nil), reactions...)
	p.mu.Unlock()
	return post, nil
}

func (p *fakePublisher) UpdatePost(_ context.Context, postID, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failUpdate[postID]; err != nil {
		p.op("update-fail:%s", postID)
		return err
	}
	post, ok := p.posts[postID]
	if !ok {
		return platform.ErrPostGone
	}
	post.body = body
	p.op("update:%s", postID)
	return nil
}

func (p *fakePublisher) DeletePost(_ context.Context, postID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failDelete[postID]; err != nil {
		p.op("delete-fail:%s", postID)
		return err
	}
	delete(p.posts, postID)
	p.op("delete:%s", postID)
	return nil
}

func (p *fakePublisher) PinPost(_ context.Context, postID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post, ok := p.posts[postID]; ok {
		post.pinned = true
	}
	p.op("pin:%s", postID)
	return nil
}

func (p *fakePublisher) UnpinPost(_ context.Context, postID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post, ok := p.posts[postID]; ok {
		post.pinned = false
	}
	p.op("unpin:%s", postID)
	return nil
}

func (p *fakePublisher) AddReaction(_ context.Context, postID, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post, ok := p.posts[postID]; ok {
		post.reactions = append(post.reactions, emoji)
	}
	return nil
}

func (p *fakePublisher) RemoveReaction(_ context.Context, postID, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post, ok := p.posts[postID]; ok {
		out := post.reactions[:0]
		for _, r := range post.reactions {
			if r != emoji {
				out = append(out, r)
			}
		}
		post.reactions = out
	}
	return nil
}

func (p *fakePublisher) SendTyping(context.Context, string) {}

func (p *fakePublisher) DownloadFile(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("no files in fake")
}

func (p *fakePublisher) MessageLimits() platform.Limits { return p.limits }

func (p *fakePublisher) Formatter() platform.Formatter { return platform.MarkdownFormatter{} }

func (p *fakePublisher) IsUserAllowed(string) bool { return true }

func (p *fakePublisher) body(postID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post, ok := p.posts[postID]; ok {
		return post.body
	}
	return ""
}

func (p *fakePublisher) lastCreated() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("p%d", p.seq)
}

func (p *fakePublisher) opLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

// env under test: tracker-backed, always-authorized unless overridden.
func newTestEnv(t *testing.T, pub *fakePublisher) *Env {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return &Env{
		PlatformID: "fake",
		SessionID:  "fake:thread1",
		ThreadID:   "thread1",
		Publisher:  pub,
		Tracker:    tracker.New(),
		Logger:     log,
	}
}

// newExecutors builds the full wired set for a test session.
func newExecutors(t *testing.T, pub *fakePublisher) (*Env, *Content, *TaskList, *Interactive, *Sticky) {
	t.Helper()
	env := newTestEnv(t, pub)
	content := NewContent(env)
	tasks := NewTaskList(env)
	interactive := NewInteractive(env)
	sticky := NewSticky(env, content, tasks, interactive)
	return env, content, tasks, interactive, sticky
}
