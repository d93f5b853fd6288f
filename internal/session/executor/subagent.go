package executor

import (
	"context"
	"sync"

	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/tools"
)

type subagentRun struct {
	postID  string
	display string
}

// Subagent owns one post per nested-agent run (the assistant's Task tool).
type Subagent struct {
	env *Env

	mu   sync.Mutex
	runs map[string]subagentRun // keyed by tool-use id
}

// NewSubagent creates the subagent executor.
func NewSubagent(env *Env) *Subagent {
	return &Subagent{env: env, runs: make(map[string]subagentRun)}
}

// Start creates the post announcing a nested-agent run.
func (s *Subagent) Start(ctx context.Context, toolUseID, display string) {
	if s.env.cancelled() {
		return
	}
	post, err := s.env.Publisher.CreatePost(ctx, s.env.ThreadID, display+"\n⏳ running…")
	if err != nil {
		s.env.warn("subagent post create failed", err)
		return
	}
	s.env.register(post.ID, tracker.KindSubagent, "", toolUseID)

	s.mu.Lock()
	s.runs[toolUseID] = subagentRun{postID: post.ID, display: display}
	s.mu.Unlock()
}

// Owns reports whether the tool-use id belongs to a subagent run.
func (s *Subagent) Owns(toolUseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[toolUseID]
	return ok
}

// Complete rewrites the run's post with its outcome.
func (s *Subagent) Complete(ctx context.Context, toolUseID, summary string, isError bool) {
	s.mu.Lock()
	run, ok := s.runs[toolUseID]
	delete(s.runs, toolUseID)
	s.mu.Unlock()
	if !ok {
		return
	}

	if !isError {
		summary = ""
	}
	body := run.display + "\n" + tools.ResultMarker(isError, summary)
	if err := s.env.Publisher.UpdatePost(ctx, run.postID, body); err != nil {
		if platform.IsPostGone(err) {
			s.env.unregister(run.postID)
			return
		}
		s.env.warn("subagent post update failed", err)
	}
}

// Finalize is a no-op; completed runs keep their posts.
func (s *Subagent) Finalize(ctx context.Context) {}

// Close forgets open runs; their posts stay as a record of the turn.
func (s *Subagent) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[string]subagentRun)
}
