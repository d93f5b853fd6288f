package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
)

// Task statuses as reported by the assistant's todo tool.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// TaskItem is one entry of the assistant's task list.
type TaskItem struct {
	Content    string `json:"content"`
	ActiveForm string `json:"activeForm,omitempty"`
	Status     string `json:"status"`
}

// TaskList owns the pinned task-list post that tracks the assistant's
// progress through a turn.
type TaskList struct {
	env    *Env
	sticky *Sticky

	mu              sync.Mutex
	postID          string
	items           []TaskItem
	completed       bool
	minimized       bool
	inProgressStart time.Time

	// now is swapped in tests.
	now func() time.Time
}

// NewTaskList creates the task-list executor.
func NewTaskList(env *Env) *TaskList {
	return &TaskList{env: env, now: time.Now}
}

func (t *TaskList) bind(s *Sticky) { t.sticky = s }

// Update replaces the task items and creates or edits the post. The platform
// mutation runs under the sticky lock so it cannot interleave with a flush
// that is repurposing the task post for content.
func (t *TaskList) Update(ctx context.Context, items []TaskItem) {
	if t.env.cancelled() {
		return
	}
	if !t.sticky.acquire(ctx) {
		return
	}
	defer t.sticky.release()
	t.updateLocked(ctx, items)
}

func (t *TaskList) updateLocked(ctx context.Context, items []TaskItem) {
	t.mu.Lock()
	prevInProgress := currentTask(t.items)
	t.items = items
	t.completed = false
	if cur := currentTask(items); cur != "" && cur != prevInProgress {
		t.inProgressStart = t.now()
	}
	body := t.renderLocked()
	postID := t.postID
	t.mu.Unlock()

	if postID != "" {
		err := t.env.Publisher.UpdatePost(ctx, postID, body)
		if err == nil {
			return
		}
		if !platform.IsPostGone(err) {
			t.env.warn("task list update failed", err)
			return
		}
		t.mu.Lock()
		t.env.unregister(postID)
		t.postID = ""
		t.mu.Unlock()
	}

	post, err := t.env.Publisher.CreateInteractivePost(ctx, t.env.ThreadID, body,
		[]string{platform.EmojiMinimize})
	if err != nil {
		t.env.warn("task list create failed", err)
		return
	}
	t.env.Publisher.PinPost(ctx, post.ID)
	t.env.register(post.ID, tracker.KindTaskList, tracker.InteractionToggleMinimize, "")
	t.env.logExecutor(map[string]any{"executor": "task_list", "action": "create", "postId": post.ID})

	t.mu.Lock()
	t.postID = post.ID
	t.mu.Unlock()
}

// Complete removes the post once the list has served its purpose.
func (t *TaskList) Complete(ctx context.Context) {
	t.mu.Lock()
	postID := t.postID
	t.postID = ""
	t.completed = true
	t.mu.Unlock()

	if postID == "" {
		return
	}
	t.env.Publisher.RemoveReaction(ctx, postID, platform.EmojiMinimize)
	t.env.Publisher.UnpinPost(ctx, postID)
	if err := t.env.Publisher.DeletePost(ctx, postID); err != nil {
		t.env.warn("task list delete failed", err)
	}
	t.env.unregister(postID)
}

// BumpToBottom re-creates the post as the thread's last message.
func (t *TaskList) BumpToBottom(ctx context.Context) {
	t.sticky.BumpTaskList(ctx)
}

// ToggleMinimize flips between the full body and the compact one-liner.
func (t *TaskList) ToggleMinimize(ctx context.Context) {
	t.mu.Lock()
	if t.postID == "" {
		t.mu.Unlock()
		return
	}
	t.minimized = !t.minimized
	body := t.renderLocked()
	postID := t.postID
	t.mu.Unlock()

	if err := t.env.Publisher.UpdatePost(ctx, postID, body); err != nil {
		t.env.warn("task list minimize toggle failed", err)
	}
}

// HandleReaction toggles minimization when the owner reacts with the
// minimize emoji on the live task post.
func (t *TaskList) HandleReaction(ctx context.Context, postID, emoji, userID string, added bool) {
	t.mu.Lock()
	match := added && postID == t.postID && platform.NormalizeEmoji(emoji) == platform.EmojiMinimize
	t.mu.Unlock()
	if !match || !t.env.authorized(userID) {
		return
	}
	t.ToggleMinimize(ctx)
}

// Finalize deletes the post at turn end once every task is done.
func (t *TaskList) Finalize(ctx context.Context) {
	t.mu.Lock()
	done := t.postID != "" && allCompleted(t.items)
	t.mu.Unlock()
	if done {
		t.Complete(ctx)
	}
}

// Close removes the post unconditionally when the session terminates.
func (t *TaskList) Close(ctx context.Context) {
	t.mu.Lock()
	postID := t.postID
	t.postID = ""
	t.items = nil
	t.mu.Unlock()

	if postID == "" {
		return
	}
	t.env.Publisher.UnpinPost(ctx, postID)
	_ = t.env.Publisher.DeletePost(ctx, postID)
	t.env.unregister(postID)
}

// active reports whether a live (not completed) task post should exist.
func (t *TaskList) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items) > 0 && !t.completed
}

// bumpLocked runs under the sticky lock: delete the old post and recreate
// at the bottom. On delete failure no new post is created; the next Update
// starts fresh.
func (t *TaskList) bumpLocked(ctx context.Context) {
	if !t.active() || t.env.cancelled() {
		return
	}

	t.mu.Lock()
	oldID := t.postID
	body := t.renderLocked()
	t.mu.Unlock()

	if oldID != "" {
		t.env.Publisher.UnpinPost(ctx, oldID)
		if err := t.env.Publisher.DeletePost(ctx, oldID); err != nil {
			t.env.warn("task list bump delete failed", err)
			t.mu.Lock()
			t.postID = ""
			t.mu.Unlock()
			t.env.unregister(oldID)
			return
		}
		t.env.unregister(oldID)
	}

	post, err := t.env.Publisher.CreateInteractivePost(ctx, t.env.ThreadID, body,
		[]string{platform.EmojiMinimize})
	if err != nil {
		t.env.warn("task list bump create failed", err)
		t.mu.Lock()
		t.postID = ""
		t.mu.Unlock()
		return
	}
	t.env.Publisher.PinPost(ctx, post.ID)
	t.env.register(post.ID, tracker.KindTaskList, tracker.InteractionToggleMinimize, "")

	t.mu.Lock()
	t.postID = post.ID
	t.mu.Unlock()
}

// repurposeLocked runs under the sticky lock: hand the old task post to the
// content executor by rewriting its body. Returns the claimed post id, or
// ok=false when the caller must create its own post.
func (t *TaskList) repurposeLocked(ctx context.Context, newBody string) (string, bool) {
	if !t.active() {
		return "", false
	}

	t.mu.Lock()
	oldID := t.postID
	t.postID = ""
	t.mu.Unlock()

	if oldID == "" {
		return "", false
	}

	t.env.Publisher.RemoveReaction(ctx, oldID, platform.EmojiMinimize)
	t.env.Publisher.UnpinPost(ctx, oldID)

	if err := t.env.Publisher.UpdatePost(ctx, oldID, newBody); err != nil {
		// Could not claim it; drop the post and let the caller create.
		_ = t.env.Publisher.DeletePost(ctx, oldID)
		t.env.unregister(oldID)
		return "", false
	}
	t.env.register(oldID, tracker.KindContent, "", "")
	return oldID, true
}

func (t *TaskList) renderLocked() string {
	f := t.env.Publisher.Formatter()
	completed := 0
	for _, it := range t.items {
		if it.Status == TaskCompleted {
			completed++
		}
	}
	total := len(t.items)
	pct := 0
	if total > 0 {
		pct = completed * 100 / total
	}
	header := fmt.Sprintf("📋 Tasks (%d/%d · %d%%)", completed, total, pct)

	if t.minimized {
		cur := currentTask(t.items)
		if cur == "" {
			return header + " 🔽"
		}
		return fmt.Sprintf("%s · 🔄 %s (%ds) 🔽", header, cur, t.elapsedLocked())
	}

	var sb strings.Builder
	sb.WriteString(header)
	for _, it := range t.items {
		sb.WriteByte('\n')
		switch it.Status {
		case TaskCompleted:
			sb.WriteString("✅ " + f.Strikethrough(it.Content))
		case TaskInProgress:
			label := it.Content
			if it.ActiveForm != "" {
				label = it.ActiveForm
			}
			sb.WriteString(fmt.Sprintf("🔄 %s (%ds)", f.Bold(label), t.elapsedLocked()))
		default:
			sb.WriteString("⬜ " + it.Content)
		}
	}
	return sb.String()
}

func (t *TaskList) elapsedLocked() int {
	if t.inProgressStart.IsZero() {
		return 0
	}
	return int(t.now().Sub(t.inProgressStart).Seconds())
}

func currentTask(items []TaskItem) string {
	for _, it := range items {
		if it.Status == TaskInProgress {
			if it.ActiveForm != "" {
				return it.ActiveForm
			}
			return it.Content
		}
	}
	return ""
}

func allCompleted(items []TaskItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.Status != TaskCompleted {
			return false
		}
	}
	return true
}
