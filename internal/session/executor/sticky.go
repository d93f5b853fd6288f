package executor

import (
	"context"

	"github.com/threadrelay/threadrelay/internal/session/tracker"
)

// Sticky enforces the bottom-of-thread layout: content posts first, a
// pending plan approval below them, the live task list last. Mutations that
// could violate the layout are serialized through a per-session FIFO lock.
type Sticky struct {
	env         *Env
	content     *Content
	tasks       *TaskList
	interactive *Interactive

	// lock is a single-token channel: receive to acquire, send to release.
	lock chan struct{}
}

// NewSticky wires the executors together and returns the layout manager.
func NewSticky(env *Env, content *Content, tasks *TaskList, interactive *Interactive) *Sticky {
	s := &Sticky{
		env:         env,
		content:     content,
		tasks:       tasks,
		interactive: interactive,
		lock:        make(chan struct{}, 1),
	}
	s.lock <- struct{}{}
	content.bind(s)
	tasks.bind(s)
	return s
}

func (s *Sticky) acquire(ctx context.Context) bool {
	select {
	case <-s.lock:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Sticky) release() {
	s.lock <- struct{}{}
}

// BumpTaskList moves the task list to the bottom of the thread.
func (s *Sticky) BumpTaskList(ctx context.Context) {
	if !s.acquire(ctx) {
		return
	}
	defer s.release()
	s.tasks.bumpLocked(ctx)
}

// BumpPlanApproval moves a pending plan approval to the bottom.
func (s *Sticky) BumpPlanApproval(ctx context.Context) {
	if !s.acquire(ctx) {
		return
	}
	defer s.release()
	s.interactive.bumpPlanLocked(ctx)
}

// PlaceContentBottom writes body as a new content post at the bottom and
// restores the layout below it in one serialized episode: the old task post
// is repurposed for the content when possible, then the plan approval and
// the task list are recreated underneath.
func (s *Sticky) PlaceContentBottom(ctx context.Context, body string) (string, error) {
	if !s.acquire(ctx) {
		return "", ctx.Err()
	}
	defer s.release()

	postID, repurposed := s.tasks.repurposeLocked(ctx, body)
	if !repurposed {
		post, err := s.env.Publisher.CreatePost(ctx, s.env.ThreadID, body)
		if err != nil {
			return "", err
		}
		postID = post.ID
		s.env.register(postID, tracker.KindContent, "", "")
	}

	s.interactive.bumpPlanLocked(ctx)
	s.tasks.bumpLocked(ctx)
	return postID, nil
}
