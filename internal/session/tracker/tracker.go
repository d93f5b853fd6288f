// Package tracker maintains the process-wide mapping from platform post ids
// to the sessions and executors that own them. It is the source of truth for
// routing reactions.
package tracker

import (
	"sync"
	"time"
)

// Kind identifies which executor owns a post.
type Kind string

const (
	KindContent         Kind = "content"
	KindTaskList        Kind = "task_list"
	KindSessionHeader   Kind = "session_header"
	KindQuestion        Kind = "question"
	KindPlanApproval    Kind = "plan_approval"
	KindMessageApproval Kind = "message_approval"
	KindPermission      Kind = "permission"
	KindWorktreePrompt  Kind = "worktree_prompt"
	KindUpdatePrompt    Kind = "update_prompt"
	KindSubagent        Kind = "subagent"
	KindLifecycle       Kind = "lifecycle"
	KindBugReport       Kind = "bug_report"
	KindSystem          Kind = "system"
)

// InteractionKind describes what a reaction on the post means. Empty when
// the post is not reactable.
type InteractionKind string

const (
	InteractionQuestion         InteractionKind = "question"
	InteractionPlanApproval     InteractionKind = "plan_approval"
	InteractionActionApproval   InteractionKind = "action_approval"
	InteractionMessageApproval  InteractionKind = "message_approval"
	InteractionWorktreeExisting InteractionKind = "worktree_existing"
	InteractionUpdateNow        InteractionKind = "update_now"
	InteractionToggleMinimize   InteractionKind = "toggle_minimize"
	InteractionResume           InteractionKind = "resume"
)

// Record is one tracked post.
type Record struct {
	PostID      string
	ThreadID    string
	SessionID   string
	Kind        Kind
	Interaction InteractionKind
	ToolUseID   string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Tracker holds two indices: post-id to record, and session-id to the set of
// post ids the session owns. The secondary index is always the transpose of
// the primary.
type Tracker struct {
	mu        sync.RWMutex
	posts     map[string]Record
	bySession map[string]map[string]struct{}
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		posts:     make(map[string]Record),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Register adds a post to both indices. A re-register of the same post id
// replaces the record (and moves it between sessions if needed).
func (t *Tracker) Register(rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.posts[rec.PostID]; ok && old.SessionID != rec.SessionID {
		t.removeFromSession(old.SessionID, rec.PostID)
	}
	t.posts[rec.PostID] = rec

	set, ok := t.bySession[rec.SessionID]
	if !ok {
		set = make(map[string]struct{})
		t.bySession[rec.SessionID] = set
	}
	set[rec.PostID] = struct{}{}
}

// Unregister removes a post from both indices. Unknown ids are a no-op.
func (t *Tracker) Unregister(postID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.posts[postID]
	if !ok {
		return
	}
	delete(t.posts, postID)
	t.removeFromSession(rec.SessionID, postID)
}

func (t *Tracker) removeFromSession(sessionID, postID string) {
	set, ok := t.bySession[sessionID]
	if !ok {
		return
	}
	delete(set, postID)
	if len(set) == 0 {
		delete(t.bySession, sessionID)
	}
}

// Get returns the record for a post id.
func (t *Tracker) Get(postID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.posts[postID]
	return rec, ok
}

// FindSession returns the session that owns a post.
func (t *Tracker) FindSession(postID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.posts[postID]
	if !ok {
		return "", false
	}
	return rec.SessionID, true
}

// GetByKind returns the session's posts of the given kind.
func (t *Tracker) GetByKind(sessionID string, kind Kind) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for postID := range t.bySession[sessionID] {
		if rec := t.posts[postID]; rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// SessionPosts returns all records owned by a session.
func (t *Tracker) SessionPosts(sessionID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.bySession[sessionID]))
	for postID := range t.bySession[sessionID] {
		out = append(out, t.posts[postID])
	}
	return out
}

// ClearSession removes every post a session owns and returns their ids.
func (t *Tracker) ClearSession(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.bySession[sessionID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for postID := range set {
		delete(t.posts, postID)
		ids = append(ids, postID)
	}
	delete(t.bySession, sessionID)
	return ids
}

// Count returns the number of tracked posts.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.posts)
}
