package executor

import (
	"context"
	"strings"
	"sync"

	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/breaker"
	"github.com/threadrelay/threadrelay/internal/tools"
)

// Content owns the streaming text posts. Deltas accumulate in a pending
// buffer; Flush applies the break algorithm and creates or updates posts.
type Content struct {
	env    *Env
	sticky *Sticky

	mu             sync.Mutex
	currentPostID  string
	currentContent string
	pending        string
	// toolLines remembers which tool-use ids have been rendered so a
	// result marker without a start line is dropped.
	toolLines map[string]bool
}

// NewContent creates the content executor. The sticky manager is attached
// later via bind, after all executors exist.
func NewContent(env *Env) *Content {
	return &Content{env: env, toolLines: make(map[string]bool)}
}

func (c *Content) bind(s *Sticky) { c.sticky = s }

// Append queues a streaming text delta.
func (c *Content) Append(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending += text
}

// ToolStart queues the display line for a tool invocation.
func (c *Content) ToolStart(toolUseID, display string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolLines[toolUseID] = true
	if c.pending != "" && !strings.HasSuffix(c.pending, "\n") {
		c.pending += "\n"
	}
	c.pending += display + "\n"
}

// ToolResult queues the outcome marker under a previously started tool line.
func (c *Content) ToolResult(toolUseID, summary string, isError bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.toolLines[toolUseID] {
		return
	}
	delete(c.toolLines, toolUseID)
	// Successful results only render a summary when something went wrong;
	// the checkmark alone keeps the thread compact.
	if !isError {
		summary = ""
	}
	c.pending += tools.ResultMarker(isError, summary) + "\n"
}

// HasPending reports whether unflushed text exists.
func (c *Content) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != ""
}

// Flush pushes pending text to the platform, splitting posts as needed.
func (c *Content) Flush(ctx context.Context) {
	if c.env.cancelled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == "" {
		return
	}
	buf := c.currentContent + c.pending
	lims := c.env.limits()

	if c.currentPostID == "" {
		c.createLocked(ctx, buf, lims)
		return
	}

	res := breaker.Break(buf, lims)
	body, _ := breaker.Truncate(res.Head, lims.MaxLength)
	if err := c.env.Publisher.UpdatePost(ctx, c.currentPostID, body); err != nil {
		if platform.IsPostGone(err) {
			// Keep the pending text; the next flush recreates the post.
			c.env.unregister(c.currentPostID)
			c.currentPostID = ""
			c.currentContent = ""
			return
		}
		c.env.warn("content update failed", err)
		return
	}

	if res.Split {
		// The head post is full; the tail seeds a continuation post on the
		// next flush.
		c.currentPostID = ""
		c.currentContent = ""
		c.pending = res.Tail
		return
	}
	c.currentContent = res.Head
	c.pending = ""
}

// createLocked writes buf as a fresh bottom post through the sticky manager
// so plan approval and the task list stay below it.
func (c *Content) createLocked(ctx context.Context, buf string, lims breaker.Limits) {
	res := breaker.Break(buf, lims)
	body, _ := breaker.Truncate(res.Head, lims.MaxLength)

	postID, err := c.sticky.PlaceContentBottom(ctx, body)
	if err != nil {
		c.env.warn("content create failed", err)
		return
	}
	c.env.logExecutor(map[string]any{"executor": "content", "action": "create", "postId": postID})

	if res.Split {
		c.currentPostID = ""
		c.currentContent = ""
		c.pending = res.Tail
		return
	}
	c.currentPostID = postID
	c.currentContent = res.Head
	c.pending = ""
}

// Finalize flushes whatever is left at turn end.
func (c *Content) Finalize(ctx context.Context) {
	for i := 0; i < 4; i++ {
		c.Flush(ctx)
		if !c.HasPending() {
			return
		}
		c.mu.Lock()
		stuck := c.currentPostID == "" && c.pending != ""
		c.mu.Unlock()
		if stuck && c.env.cancelled() {
			return
		}
	}
}

// Close drops buffered state; posted content stays in the thread.
func (c *Content) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = ""
	c.currentPostID = ""
	c.currentContent = ""
	c.toolLines = make(map[string]bool)
}
