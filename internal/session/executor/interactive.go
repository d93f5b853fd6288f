package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/threadlog"
)

// PermissionDecision is the outcome of a permission prompt.
type PermissionDecision struct {
	Allow bool
	// AllowAll adds the tool to the session allow-list so future
	// invocations skip the prompt.
	AllowAll bool
	UserID   string
}

// MessageApprovalOutcome is the outcome of a message-approval prompt.
type MessageApprovalOutcome int

const (
	MessageDenied MessageApprovalOutcome = iota
	MessageApprovedOnce
	// MessageInvited also adds the sender to the session ACL.
	MessageInvited
)

type pendingPlan struct {
	postID  string
	body    string
	resolve func(approved bool)
}

type pendingQuestion struct {
	postID  string
	options []string
	resolve func(index int, option string)
}

type pendingPermission struct {
	postID   string
	toolName string
	resolve  func(PermissionDecision)
}

type pendingMessage struct {
	postID  string
	userID  string
	resolve func(MessageApprovalOutcome)
}

// Interactive owns every post that waits for a reaction: plan approvals,
// questions, permission prompts, and message approvals. At most one of each
// kind is pending; prompts persist until resolved or the session ends.
type Interactive struct {
	env *Env

	mu         sync.Mutex
	plan       *pendingPlan
	question   *pendingQuestion
	permission *pendingPermission
	message    *pendingMessage
}

// NewInteractive creates the interactive executor.
func NewInteractive(env *Env) *Interactive {
	return &Interactive{env: env}
}

// AskPlanApproval posts the plan with approve/deny reactions. resolve runs
// once, on the first authorized reaction.
func (i *Interactive) AskPlanApproval(ctx context.Context, plan string, resolve func(approved bool)) error {
	f := i.env.Publisher.Formatter()
	body := fmt.Sprintf("%s\n\n%s\n\n%s",
		f.Bold("📋 Plan ready for review"),
		f.MarkdownToNative(plan),
		f.Italic("React 👍 to approve or 👎 to reject."))

	post, err := i.env.Publisher.CreateInteractivePost(ctx, i.env.ThreadID, body,
		[]string{platform.EmojiApprove, platform.EmojiDeny})
	if err != nil {
		return fmt.Errorf("failed to create plan approval post: %w", err)
	}
	i.env.register(post.ID, tracker.KindPlanApproval, tracker.InteractionPlanApproval, "")

	i.mu.Lock()
	i.plan = &pendingPlan{postID: post.ID, body: body, resolve: resolve}
	i.mu.Unlock()
	return nil
}

// AskQuestion posts the question with numbered options. resolve receives
// the chosen index and option text.
func (i *Interactive) AskQuestion(ctx context.Context, question string, options []string, resolve func(index int, option string)) error {
	if len(options) == 0 || len(options) > 9 {
		return fmt.Errorf("question needs 1-9 options, got %d", len(options))
	}
	f := i.env.Publisher.Formatter()

	var sb strings.Builder
	sb.WriteString(f.Bold("❓ " + question))
	reactions := make([]string, 0, len(options))
	for n, opt := range options {
		sb.WriteString(fmt.Sprintf("\n%d. %s", n+1, opt))
		reactions = append(reactions, platform.NumberEmoji(n+1))
	}
	sb.WriteString("\n\n" + f.Italic("React with a number to answer."))

	post, err := i.env.Publisher.CreateInteractivePost(ctx, i.env.ThreadID, sb.String(), reactions)
	if err != nil {
		return fmt.Errorf("failed to create question post: %w", err)
	}
	i.env.register(post.ID, tracker.KindQuestion, tracker.InteractionQuestion, "")

	i.mu.Lock()
	i.question = &pendingQuestion{postID: post.ID, options: options, resolve: resolve}
	i.mu.Unlock()
	return nil
}

// AskPermission posts a proposed tool invocation with approve, deny, and
// allow-all reactions.
func (i *Interactive) AskPermission(ctx context.Context, toolName, display string, resolve func(PermissionDecision)) error {
	f := i.env.Publisher.Formatter()
	body := fmt.Sprintf("%s\n%s\n\n%s",
		f.Bold("🔐 Permission required"),
		display,
		f.Italic("React 👍 to allow once, ✅ to always allow "+f.Code(toolName)+", 👎 to deny."))

	post, err := i.env.Publisher.CreateInteractivePost(ctx, i.env.ThreadID, body,
		[]string{platform.EmojiApprove, platform.EmojiAllowAll, platform.EmojiDeny})
	if err != nil {
		return fmt.Errorf("failed to create permission post: %w", err)
	}
	i.env.register(post.ID, tracker.KindPermission, tracker.InteractionActionApproval, "")

	i.mu.Lock()
	i.permission = &pendingPermission{postID: post.ID, toolName: toolName, resolve: resolve}
	i.mu.Unlock()
	return nil
}

// AskMessageApproval posts a prompt asking whether a non-allowed user's
// message should be forwarded.
func (i *Interactive) AskMessageApproval(ctx context.Context, userName, userID, preview string, resolve func(MessageApprovalOutcome)) error {
	f := i.env.Publisher.Formatter()
	body := fmt.Sprintf("%s\n%s wrote:\n%s\n\n%s",
		f.Bold("✋ Message needs approval"),
		f.UserMention(userName),
		f.MarkdownToNative(preview),
		f.Italic("React 👍 to forward once, ✅ to invite them to this session, 👎 to ignore."))

	post, err := i.env.Publisher.CreateInteractivePost(ctx, i.env.ThreadID, body,
		[]string{platform.EmojiApprove, platform.EmojiAllowAll, platform.EmojiDeny})
	if err != nil {
		return fmt.Errorf("failed to create message approval post: %w", err)
	}
	i.env.register(post.ID, tracker.KindMessageApproval, tracker.InteractionMessageApproval, "")

	i.mu.Lock()
	i.message = &pendingMessage{postID: post.ID, userID: userID, resolve: resolve}
	i.mu.Unlock()
	return nil
}

// HasPendingPlan reports whether a plan approval awaits a reaction.
func (i *Interactive) HasPendingPlan() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.plan != nil
}

// HandleReaction routes a reaction to the matching pending prompt. The
// first authorized, matching reaction wins; everything else is ignored.
func (i *Interactive) HandleReaction(ctx context.Context, rec tracker.Record, emoji, userID string, added bool) {
	if !added || !i.env.authorized(userID) {
		return
	}
	emoji = platform.NormalizeEmoji(emoji)

	switch rec.Interaction {
	case tracker.InteractionPlanApproval:
		i.handlePlan(ctx, rec.PostID, emoji, userID)
	case tracker.InteractionQuestion:
		i.handleQuestion(ctx, rec.PostID, emoji, userID)
	case tracker.InteractionActionApproval:
		i.handlePermission(ctx, rec.PostID, emoji, userID)
	case tracker.InteractionMessageApproval:
		i.handleMessage(ctx, rec.PostID, emoji, userID)
	}
}

func (i *Interactive) handlePlan(ctx context.Context, postID, emoji, userID string) {
	var approved bool
	switch emoji {
	case platform.EmojiApprove:
		approved = true
	case platform.EmojiDeny:
		approved = false
	default:
		return
	}

	i.mu.Lock()
	p := i.plan
	if p == nil || p.postID != postID {
		i.mu.Unlock()
		return
	}
	i.plan = nil
	i.mu.Unlock()

	f := i.env.Publisher.Formatter()
	verdict := "✅ Plan approved by " + f.UserMention(userID)
	if !approved {
		verdict = "❌ Plan rejected by " + f.UserMention(userID)
	}
	if err := i.env.Publisher.UpdatePost(ctx, postID, p.body+"\n\n"+verdict); err != nil && !platform.IsPostGone(err) {
		i.env.warn("plan approval update failed", err)
	}
	i.env.unregister(postID)
	i.logDecision("plan_approval", emoji, userID)
	p.resolve(approved)
}

func (i *Interactive) handleQuestion(ctx context.Context, postID, emoji, userID string) {
	n := platform.NumberFromEmoji(emoji)
	if n == 0 {
		return
	}

	i.mu.Lock()
	q := i.question
	if q == nil || q.postID != postID || n > len(q.options) {
		i.mu.Unlock()
		return
	}
	i.question = nil
	i.mu.Unlock()

	option := q.options[n-1]
	f := i.env.Publisher.Formatter()
	body := fmt.Sprintf("%s Selected: %s", "✔️", f.Bold(option))
	if err := i.env.Publisher.UpdatePost(ctx, postID, body); err != nil && !platform.IsPostGone(err) {
		i.env.warn("question update failed", err)
	}
	i.env.unregister(postID)
	i.logDecision("question", emoji, userID)
	q.resolve(n-1, option)
}

func (i *Interactive) handlePermission(ctx context.Context, postID, emoji, userID string) {
	var dec PermissionDecision
	switch emoji {
	case platform.EmojiApprove:
		dec = PermissionDecision{Allow: true}
	case platform.EmojiAllowAll:
		dec = PermissionDecision{Allow: true, AllowAll: true}
	case platform.EmojiDeny:
		dec = PermissionDecision{Allow: false}
	default:
		return
	}
	dec.UserID = userID

	i.mu.Lock()
	p := i.permission
	if p == nil || p.postID != postID {
		i.mu.Unlock()
		return
	}
	i.permission = nil
	i.mu.Unlock()

	f := i.env.Publisher.Formatter()
	var verdict string
	switch {
	case dec.AllowAll:
		verdict = fmt.Sprintf("✅ %s always allowed by %s", f.Code(p.toolName), f.UserMention(userID))
	case dec.Allow:
		verdict = "✅ Allowed by " + f.UserMention(userID)
	default:
		verdict = "❌ Denied by " + f.UserMention(userID)
	}
	if err := i.env.Publisher.UpdatePost(ctx, postID, verdict); err != nil && !platform.IsPostGone(err) {
		i.env.warn("permission update failed", err)
	}
	i.env.unregister(postID)
	i.logPermission(p.toolName, dec)
	p.resolve(dec)
}

func (i *Interactive) handleMessage(ctx context.Context, postID, emoji, userID string) {
	var outcome MessageApprovalOutcome
	switch emoji {
	case platform.EmojiApprove:
		outcome = MessageApprovedOnce
	case platform.EmojiAllowAll:
		outcome = MessageInvited
	case platform.EmojiDeny:
		outcome = MessageDenied
	default:
		return
	}

	i.mu.Lock()
	m := i.message
	if m == nil || m.postID != postID {
		i.mu.Unlock()
		return
	}
	i.message = nil
	i.mu.Unlock()

	f := i.env.Publisher.Formatter()
	var verdict string
	switch outcome {
	case MessageInvited:
		verdict = "✅ Invited to the session by " + f.UserMention(userID)
	case MessageApprovedOnce:
		verdict = "✅ Forwarded once by " + f.UserMention(userID)
	default:
		verdict = "❌ Ignored by " + f.UserMention(userID)
	}
	if err := i.env.Publisher.UpdatePost(ctx, postID, verdict); err != nil && !platform.IsPostGone(err) {
		i.env.warn("message approval update failed", err)
	}
	i.env.unregister(postID)
	i.logDecision("message_approval", emoji, userID)
	m.resolve(outcome)
}

// bumpPlanLocked runs under the sticky lock: delete and recreate the plan
// approval post at the bottom of the thread.
func (i *Interactive) bumpPlanLocked(ctx context.Context) {
	i.mu.Lock()
	p := i.plan
	i.mu.Unlock()
	if p == nil || i.env.cancelled() {
		return
	}

	if err := i.env.Publisher.DeletePost(ctx, p.postID); err != nil {
		i.env.warn("plan approval bump delete failed", err)
		return
	}
	i.env.unregister(p.postID)

	post, err := i.env.Publisher.CreateInteractivePost(ctx, i.env.ThreadID, p.body,
		[]string{platform.EmojiApprove, platform.EmojiDeny})
	if err != nil {
		i.env.warn("plan approval bump create failed", err)
		i.mu.Lock()
		if i.plan == p {
			i.plan = nil
		}
		i.mu.Unlock()
		return
	}
	i.env.register(post.ID, tracker.KindPlanApproval, tracker.InteractionPlanApproval, "")

	i.mu.Lock()
	if i.plan == p {
		p.postID = post.ID
	}
	i.mu.Unlock()
}

// Finalize is a no-op: prompts persist across turn boundaries until
// answered.
func (i *Interactive) Finalize(ctx context.Context) {}

// Close deletes every pending prompt post.
func (i *Interactive) Close(ctx context.Context) {
	i.mu.Lock()
	ids := []string{}
	if i.plan != nil {
		ids = append(ids, i.plan.postID)
		i.plan = nil
	}
	if i.question != nil {
		ids = append(ids, i.question.postID)
		i.question = nil
	}
	if i.permission != nil {
		ids = append(ids, i.permission.postID)
		i.permission = nil
	}
	if i.message != nil {
		ids = append(ids, i.message.postID)
		i.message = nil
	}
	i.mu.Unlock()

	for _, id := range ids {
		_ = i.env.Publisher.DeletePost(ctx, id)
		i.env.unregister(id)
	}
}

func (i *Interactive) logDecision(kind, emoji, userID string) {
	i.env.logExecutor(map[string]any{
		"executor": "interactive",
		"kind":     kind,
		"emoji":    emoji,
		"userId":   userID,
	})
}

func (i *Interactive) logPermission(toolName string, dec PermissionDecision) {
	if i.env.ThreadLog == nil {
		return
	}
	i.env.ThreadLog.Log(i.env.PlatformID, i.env.SessionID, threadlog.TypePermission, map[string]any{
		"tool":     toolName,
		"allowed":  dec.Allow,
		"allowAll": dec.AllowAll,
		"userId":   dec.UserID,
	})
}
