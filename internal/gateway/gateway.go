// Package gateway connects a platform's inbound event stream to the session
// runtime: it classifies messages, enforces the session ACL, dispatches bang
// commands, and routes reactions to the posts they landed on.
package gateway

import (
	"context"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session"
	"github.com/threadrelay/threadrelay/internal/threadlog"
	"github.com/threadrelay/threadrelay/pkg/claudecode"
)

// Gateway routes one platform's events.
type Gateway struct {
	port    platform.Port
	manager *session.Manager
	tlog    *threadlog.Store
	log     *logger.Logger
}

// New creates a gateway over a platform port.
func New(port platform.Port, manager *session.Manager, tlog *threadlog.Store, log *logger.Logger) *Gateway {
	return &Gateway{
		port:    port,
		manager: manager,
		tlog:    tlog,
		log:     log.WithPlatformID(port.ID()),
	}
}

// Run consumes the port's event channels until ctx is cancelled. The port's
// own Run (transport loop) is driven separately by the caller.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-g.port.Messages():
			if !ok {
				return nil
			}
			g.handleMessage(ctx, ev)
		case ev, ok := <-g.port.Reactions():
			if !ok {
				return nil
			}
			g.handleReaction(ctx, ev)
		}
	}
}

// threadFor resolves the session thread: replies carry the root id, a fresh
// channel message starts its own thread.
func threadFor(ev platform.MessageEvent) string {
	if ev.ThreadID != "" {
		return ev.ThreadID
	}
	return ev.PostID
}

func (g *Gateway) handleMessage(ctx context.Context, ev platform.MessageEvent) {
	if ev.IsBot {
		return
	}
	threadID := threadFor(ev)
	text := strings.TrimSpace(stripMention(ev.Text, g.port.BotName()))

	sess, exists := g.manager.Get(threadID)

	// Commands control a live session and are never forwarded as prompts.
	if strings.HasPrefix(text, "!") {
		if exists {
			g.handleCommand(ctx, sess, threadID, ev, text)
		} else if ev.IsMention {
			g.post(ctx, threadID, "No active session in this thread. Mention me with a task to start one.")
		}
		return
	}

	if !exists {
		// A mention opens a session; a plain reply only revives a thread
		// whose previous run left a resumable record. Either way the user
		// must be platform-allowed.
		if !ev.IsMention && !(ev.ThreadID != "" && g.manager.CanResume(ctx, ev.ThreadID)) {
			return
		}
		if !g.port.IsUserAllowed(ev.UserID) {
			g.log.Info("ignoring session request from non-allowed user",
				zap.String("user", ev.UserID))
			return
		}
		var err error
		sess, _, err = g.manager.GetOrCreate(ctx, threadID, ev.UserID, "")
		if err != nil {
			g.log.Warn("failed to create session", zap.Error(err))
			g.post(ctx, threadID, "⚠️ Could not start a session: "+err.Error())
			return
		}
	}

	if text == "" && len(ev.Files) == 0 {
		return
	}

	if !sess.IsUserAllowed(ev.UserID) {
		forward := func() { g.forward(ctx, sess, ev, text) }
		if err := sess.AskMessageApproval(ctx, ev.UserName, ev.UserID, text, forward); err != nil {
			g.log.Warn("failed to open message approval", zap.Error(err))
		}
		return
	}
	g.forward(ctx, sess, ev, text)
}

// forward sends the message to the assistant, attaching image files as
// base64 content blocks.
func (g *Gateway) forward(ctx context.Context, sess *session.Session, ev platform.MessageEvent, text string) {
	var blocks []claudecode.ContentBlock
	for _, f := range ev.Files {
		if !strings.HasPrefix(f.MimeType, "image/") {
			continue
		}
		data, err := g.port.DownloadFile(ctx, f.ID)
		if err != nil {
			g.log.Warn("failed to download attachment",
				zap.String("file", f.Name), zap.Error(err))
			continue
		}
		blocks = append(blocks, claudecode.ImageBlock(f.MimeType,
			base64.StdEncoding.EncodeToString(data)))
	}
	if blocks != nil && text != "" {
		blocks = append([]claudecode.ContentBlock{claudecode.TextBlock(text)}, blocks...)
	}

	if err := sess.SendPrompt(ctx, blocks, text); err != nil {
		g.log.Warn("failed to forward message", zap.Error(err))
		g.post(ctx, sess.ThreadID(), "⚠️ Could not reach the assistant: "+err.Error())
	}
}

func (g *Gateway) handleReaction(ctx context.Context, ev platform.ReactionEvent) {
	rec, ok := g.manager.Tracker().Get(ev.PostID)
	if !ok {
		return
	}
	sess, ok := g.manager.GetByID(rec.SessionID)
	if !ok {
		return
	}
	sess.HandleReaction(ctx, rec, ev.Emoji, ev.UserID, ev.Action == platform.ReactionAdded)
}

func (g *Gateway) post(ctx context.Context, threadID, body string) {
	if _, err := g.port.CreatePost(ctx, threadID, body); err != nil {
		g.log.Warn("failed to post notice", zap.Error(err))
	}
}

// stripMention removes a leading @botname so mention text and commands parse
// the same way on every platform.
func stripMention(text, botName string) string {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range []string{"@" + botName, botName} {
		if len(trimmed) >= len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return trimmed
}
