package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session"
	"github.com/threadrelay/threadrelay/internal/threadlog"
)

const helpText = `**Commands**
· ` + "`!help`" + ` — show this message
· ` + "`!cd <dir>`" + ` — change the working directory (applies on the next assistant restart)
· ` + "`!permissions`" + ` — list always-allowed tools
· ` + "`!invite @user`" + ` — allow a user to talk to this session
· ` + "`!kick @user`" + ` — remove a user from this session
· ` + "`!escape`" + ` — interrupt the current operation
· ` + "`!update [now]`" + ` — restart the assistant to pick up a new version
· ` + "`!stop`" + ` — end this session`

func (g *Gateway) handleCommand(ctx context.Context, sess *session.Session, threadID string, ev platform.MessageEvent, text string) {
	if !sess.IsUserAllowed(ev.UserID) {
		g.log.Info("ignoring command from non-allowed user",
			zap.String("user", ev.UserID), zap.String("command", text))
		return
	}

	cmd, arg := splitCommand(text)
	g.logCommand(sess, cmd, arg, ev.UserID)

	switch cmd {
	case "!help":
		g.post(ctx, threadID, helpText)

	case "!cd":
		if arg == "" {
			g.post(ctx, threadID, "Usage: `!cd <dir>`")
			return
		}
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			g.post(ctx, threadID, fmt.Sprintf("⚠️ Not a directory: `%s`", arg))
			return
		}
		sess.SetWorkingDir(arg)
		g.post(ctx, threadID, fmt.Sprintf("📂 Working directory set to `%s` (applies on the next assistant restart).", arg))

	case "!permissions":
		tools := sess.AllowedTools()
		if len(tools) == 0 {
			g.post(ctx, threadID, "No tools are always-allowed for this session.")
			return
		}
		g.post(ctx, threadID, "Always-allowed tools: `"+strings.Join(tools, "`, `")+"`")

	case "!invite":
		user := strings.TrimPrefix(arg, "@")
		if user == "" {
			g.post(ctx, threadID, "Usage: `!invite @user`")
			return
		}
		sess.Invite(user)
		g.post(ctx, threadID, fmt.Sprintf("✅ %s can now talk to this session.",
			g.port.Formatter().UserMention(user)))

	case "!kick":
		user := strings.TrimPrefix(arg, "@")
		if user == "" {
			g.post(ctx, threadID, "Usage: `!kick @user`")
			return
		}
		if !sess.Kick(user) {
			g.post(ctx, threadID, "The session starter cannot be removed.")
			return
		}
		g.post(ctx, threadID, fmt.Sprintf("🚪 %s was removed from this session.",
			g.port.Formatter().UserMention(user)))

	case "!escape":
		if err := sess.Interrupt(); err != nil {
			g.post(ctx, threadID, "⚠️ Nothing to interrupt: "+err.Error())
			return
		}
		g.post(ctx, threadID, "🛑 Interrupt sent.")

	case "!update":
		if arg == "now" {
			if err := sess.RestartAssistantNow(); err != nil {
				g.post(ctx, threadID, "⚠️ Could not restart the assistant: "+err.Error())
				return
			}
			g.post(ctx, threadID, "🔄 The assistant was restarted.")
			return
		}
		sess.RestartAssistant()
		g.post(ctx, threadID, "🔄 The assistant restarts on your next message.")

	case "!stop":
		g.manager.Stop(ctx, threadID)
		g.post(ctx, threadID, "👋 Session ended.")

	default:
		g.post(ctx, threadID, fmt.Sprintf("Unknown command `%s`. Try `!help`.", cmd))
	}
}

func splitCommand(text string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(text, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (g *Gateway) logCommand(sess *session.Session, cmd, arg, userID string) {
	if g.tlog == nil {
		return
	}
	g.tlog.Log(g.port.ID(), sess.ID(), threadlog.TypeCommand, map[string]any{
		"command": cmd,
		"arg":     arg,
		"userId":  userID,
	})
}
