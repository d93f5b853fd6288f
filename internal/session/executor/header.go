package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
)

// Header owns the session-header post created when the assistant comes up.
// It is edited in place as the session progresses and accumulates per-turn
// stats.
type Header struct {
	env *Env

	mu         sync.Mutex
	postID     string
	workingDir string
	resumed    bool
	turns      int
	totalCost  float64
}

// NewHeader creates the session-header executor.
func NewHeader(env *Env) *Header {
	return &Header{env: env}
}

// SessionStarted creates (or rewrites) the header post.
func (h *Header) SessionStarted(ctx context.Context, workingDir string, resumed bool) {
	h.mu.Lock()
	h.workingDir = workingDir
	h.resumed = resumed
	body := h.renderLocked("🟢 working")
	postID := h.postID
	h.mu.Unlock()

	if postID != "" {
		if err := h.env.Publisher.UpdatePost(ctx, postID, body); err == nil {
			return
		} else if !platform.IsPostGone(err) {
			h.env.warn("session header update failed", err)
			return
		}
		h.env.unregister(postID)
	}

	post, err := h.env.Publisher.CreatePost(ctx, h.env.ThreadID, body)
	if err != nil {
		h.env.warn("session header create failed", err)
		return
	}
	h.env.register(post.ID, tracker.KindSessionHeader, "", "")

	h.mu.Lock()
	h.postID = post.ID
	h.mu.Unlock()
}

// TurnCompleted folds one turn's result stats into the header.
func (h *Header) TurnCompleted(ctx context.Context, durationMS int64, costUSD float64) {
	h.mu.Lock()
	h.turns++
	h.totalCost += costUSD
	body := h.renderLocked(fmt.Sprintf("💤 idle · last turn %.1fs", float64(durationMS)/1000))
	postID := h.postID
	h.mu.Unlock()

	if postID == "" {
		return
	}
	if err := h.env.Publisher.UpdatePost(ctx, postID, body); err != nil {
		if platform.IsPostGone(err) {
			h.env.unregister(postID)
			h.mu.Lock()
			h.postID = ""
			h.mu.Unlock()
			return
		}
		h.env.warn("session header update failed", err)
	}
}

// Finalize is a no-op; the header lives for the whole session.
func (h *Header) Finalize(ctx context.Context) {}

// Close rewrites the header to show the session ended.
func (h *Header) Close(ctx context.Context) {
	h.mu.Lock()
	body := h.renderLocked("⚪ session ended")
	postID := h.postID
	h.postID = ""
	h.mu.Unlock()

	if postID == "" {
		return
	}
	_ = h.env.Publisher.UpdatePost(ctx, postID, body)
	h.env.unregister(postID)
}

func (h *Header) renderLocked(status string) string {
	f := h.env.Publisher.Formatter()
	verb := "started"
	if h.resumed {
		verb = "resumed"
	}
	body := fmt.Sprintf("🤖 %s · %s", f.Bold("Session "+verb), status)
	if h.workingDir != "" {
		body += "\n📂 " + f.Code(h.workingDir)
	}
	if h.turns > 0 {
		body += fmt.Sprintf("\n%d turn(s) · $%.4f", h.turns, h.totalCost)
	}
	return body
}
