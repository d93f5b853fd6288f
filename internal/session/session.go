package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/assistant"
	"github.com/threadrelay/threadrelay/internal/common/constants"
	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/common/tracing"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/executor"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/store"
	"github.com/threadrelay/threadrelay/internal/threadlog"
	"github.com/threadrelay/threadrelay/internal/tools"
	"github.com/threadrelay/threadrelay/pkg/claudecode"
)

// State is the session lifecycle phase.
type State string

const (
	StateSpawning    State = "spawning"
	StateRunning     State = "running"
	StateIdle        State = "idle"
	StateTerminating State = "terminating"
)

// Config describes one session at creation time.
type Config struct {
	PlatformID      string
	ThreadID        string
	StartedBy       string
	WorkingDir      string
	Command         string
	ExtraArgs       []string
	SkipPermissions bool
	IdleTimeout     time.Duration
	FlushDebounce   time.Duration
	// Resume carries a previous assistant conversation id.
	Resume string
}

// Session binds one chat thread to one assistant process and the executors
// that own its posts.
type Session struct {
	id  string
	cfg Config
	log *logger.Logger

	publisher platform.Publisher
	tracker   *tracker.Tracker
	proc      *assistant.Process
	disp      *Dispatcher
	store     *store.Store
	tlog      *threadlog.Store

	content     *executor.Content
	tasks       *executor.TaskList
	interactive *executor.Interactive
	subagent    *executor.Subagent
	header      *executor.Header
	sticky      *executor.Sticky

	mu                 sync.Mutex
	state              State
	cancelled          bool
	assistantSessionID string
	allowedUsers       map[string]bool
	allowedTools       map[string]bool
	promptQueue        []claudecode.UserMessageBody
	lastActivity       time.Time
	// turnSpan covers one turn, prompt write to result event.
	turnSpan trace.Span

	flushTimer *time.Timer
	idleTimer  *time.Timer
	typingStop chan struct{}

	// onTerminate lets the manager drop its reference.
	onTerminate func(threadID string)

	// runCtx bounds everything the session spawns.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New assembles a session and its executors. Start must be called before
// prompts are sent.
func New(cfg Config, pub platform.Publisher, trk *tracker.Tracker, registry *tools.Registry,
	st *store.Store, tlog *threadlog.Store, log *logger.Logger) *Session {

	id := cfg.PlatformID + ":" + cfg.ThreadID
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = constants.SessionIdleTimeout
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = constants.FlushDebounce
	}

	s := &Session{
		id:           id,
		cfg:          cfg,
		log:          log.WithSessionID(id),
		publisher:    pub,
		tracker:      trk,
		store:        st,
		tlog:         tlog,
		state:        StateSpawning,
		allowedUsers: map[string]bool{cfg.StartedBy: true},
		allowedTools: make(map[string]bool),
		lastActivity: time.Now(),
	}

	env := &executor.Env{
		PlatformID: cfg.PlatformID,
		SessionID:  id,
		ThreadID:   cfg.ThreadID,
		Publisher:  pub,
		Tracker:    trk,
		Logger:     s.log,
		ThreadLog:  tlog,
		Authorized: s.IsUserAllowed,
		Cancelled:  s.isCancelled,
	}
	s.content = executor.NewContent(env)
	s.tasks = executor.NewTaskList(env)
	s.interactive = executor.NewInteractive(env)
	s.subagent = executor.NewSubagent(env)
	s.header = executor.NewHeader(env)
	s.sticky = executor.NewSticky(env, s.content, s.tasks, s.interactive)
	s.disp = NewDispatcher(registry, s.log)

	s.proc = assistant.NewProcess(assistant.Options{
		Command:         cfg.Command,
		ExtraArgs:       cfg.ExtraArgs,
		WorkDir:         cfg.WorkingDir,
		SkipPermissions: cfg.SkipPermissions,
	}, s.log)
	if cfg.Resume != "" {
		s.assistantSessionID = cfg.Resume
		s.proc.SetResumeSessionID(cfg.Resume)
	}
	s.proc.SetEventHandler(s.handleEvent)
	s.proc.SetRequestHandler(s.handleControlRequest)
	s.proc.SetExitHandler(s.handleExit)

	return s
}

// ID returns platform-id:thread-id.
func (s *Session) ID() string { return s.id }

// ThreadID returns the bound thread.
func (s *Session) ThreadID() string { return s.cfg.ThreadID }

// StartedBy returns the user that opened the session.
func (s *Session) StartedBy() string { return s.cfg.StartedBy }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the last inbound or outbound activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AssistantSessionID returns the assistant's conversation id, once known.
func (s *Session) AssistantSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistantSessionID
}

// WorkingDir returns the assistant's working directory.
func (s *Session) WorkingDir() string { return s.proc.WorkDir() }

// SetWorkingDir changes the directory for the next process start.
func (s *Session) SetWorkingDir(dir string) { s.proc.SetWorkDir(dir) }

// SetTerminateHandler installs the manager's cleanup callback.
func (s *Session) SetTerminateHandler(h func(threadID string)) {
	s.onTerminate = h
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// IsUserAllowed implements the session ACL: the platform allow-list, the
// session starter, and invited users.
func (s *Session) IsUserAllowed(user string) bool {
	if s.publisher.IsUserAllowed(user) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowedUsers[user]
}

// Invite adds a user to the session ACL.
func (s *Session) Invite(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedUsers[user] = true
}

// Kick removes a user from the session ACL. The starter cannot be kicked.
func (s *Session) Kick(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == s.cfg.StartedBy {
		return false
	}
	delete(s.allowedUsers, user)
	return true
}

// AllowedTools returns the per-session permission allow-list.
func (s *Session) AllowedTools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.allowedTools))
	for t := range s.allowedTools {
		out = append(out, t)
	}
	return out
}

// Start spawns the assistant process. ctx bounds the whole session.
func (s *Session) Start(ctx context.Context) error {
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	if err := s.proc.Start(s.runCtx); err != nil {
		return fmt.Errorf("failed to start assistant: %w", err)
	}
	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	s.resetIdleTimer()
	s.logLifecycle("started")
	return nil
}

// SendPrompt forwards user text (or text+images) to the assistant. While a
// turn is in flight the prompt queues and is sent on the next result event.
func (s *Session) SendPrompt(ctx context.Context, blocks []claudecode.ContentBlock, text string) error {
	body := claudecode.UserMessageBody{Role: "user", Content: text}
	if len(blocks) > 0 {
		body.Content = blocks
	}

	s.mu.Lock()
	if s.state == StateTerminating {
		s.mu.Unlock()
		return fmt.Errorf("session is terminating")
	}
	if s.state == StateRunning && s.proc.Running() {
		s.promptQueue = append(s.promptQueue, body)
		s.mu.Unlock()
		s.touch()
		return nil
	}
	s.state = StateRunning
	s.mu.Unlock()

	if err := s.ensureProcess(); err != nil {
		return err
	}
	s.touch()
	return s.writePrompt(body)
}

func (s *Session) ensureProcess() error {
	if s.proc.Running() {
		return nil
	}
	if s.runCtx == nil {
		return fmt.Errorf("session not started")
	}
	return s.proc.Start(s.runCtx)
}

func (s *Session) writePrompt(body claudecode.UserMessageBody) error {
	client := s.proc.Client()
	if client == nil {
		return fmt.Errorf("assistant not running")
	}
	s.mu.Lock()
	sid := s.assistantSessionID
	s.mu.Unlock()

	var err error
	switch content := body.Content.(type) {
	case string:
		err = client.SendUserText(sid, content)
	case []claudecode.ContentBlock:
		err = client.SendUserBlocks(sid, content)
	default:
		err = fmt.Errorf("unsupported prompt content %T", content)
	}
	if err != nil {
		return fmt.Errorf("failed to send prompt: %w", err)
	}
	s.beginTurnSpan()
	s.logThread(threadlog.TypeUserMessage, map[string]any{"queued": false})
	return nil
}

func (s *Session) beginTurnSpan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnSpan != nil {
		return
	}
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	_, s.turnSpan = tracing.TraceTurn(ctx, s.id, s.cfg.ThreadID)
}

// takeTurnSpan detaches the live turn span so exactly one caller ends it.
func (s *Session) takeTurnSpan() trace.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.turnSpan
	s.turnSpan = nil
	return span
}

// RestartAssistant kills the assistant process; the next prompt respawns it
// with the stored conversation id, picking up an updated CLI binary.
func (s *Session) RestartAssistant() {
	s.proc.Kill()
}

// RestartAssistantNow kills the assistant and respawns it immediately,
// resuming the stored conversation.
func (s *Session) RestartAssistantNow() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), constants.AssistantStopTimeout)
	defer cancel()
	s.proc.Stop(stopCtx)
	return s.ensureProcess()
}

// AssistantGeneration reports how many times the assistant process has been
// spawned for this session.
func (s *Session) AssistantGeneration() int {
	return s.proc.Generation()
}

// Interrupt asks the assistant to stop the current operation (!escape).
func (s *Session) Interrupt() error {
	client := s.proc.Client()
	if client == nil {
		return fmt.Errorf("assistant not running")
	}
	return client.Interrupt()
}

// handleEvent runs on the process read loop; ops apply in arrival order.
func (s *Session) handleEvent(ev *claudecode.Event) {
	s.logThread(threadlog.TypeClaudeEvent, map[string]any{"eventType": ev.Type, "subtype": ev.Subtype})
	for _, op := range s.disp.Translate(ev) {
		s.apply(op)
	}
}

func (s *Session) apply(op Op) {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	switch op := op.(type) {
	case SessionStartedOp:
		s.sessionStarted(ctx, op.AssistantSessionID)

	case AddContentOp:
		s.content.Append(op.Text)
		s.scheduleFlush()

	case ToolStartOp:
		s.content.ToolStart(op.ToolUseID, op.Display)
		s.scheduleFlush()

	case ToolResultOp:
		s.content.ToolResult(op.ToolUseID, op.Summary, op.IsError)
		s.scheduleFlush()

	case TaskListOp:
		s.applyTaskOp(ctx, op)

	case PlanApprovalOp:
		s.askPlanApproval(ctx, op.Plan)

	case QuestionOp:
		s.askQuestion(ctx, op)

	case SubagentStartOp:
		s.content.Flush(ctx)
		s.subagent.Start(ctx, op.ToolUseID, op.Display)

	case SubagentResultOp:
		s.subagent.Complete(ctx, op.ToolUseID, op.Summary, op.IsError)

	case TurnEndOp:
		s.finishTurn(ctx, op)
	}
}

func (s *Session) applyTaskOp(ctx context.Context, op TaskListOp) {
	switch op.Action {
	case TaskActionUpdate:
		s.content.Flush(ctx)
		s.tasks.Update(ctx, op.Tasks)
	case TaskActionComplete:
		s.tasks.Complete(ctx)
	case TaskActionBumpToBottom:
		s.tasks.BumpToBottom(ctx)
	case TaskActionToggleMinimize:
		s.tasks.ToggleMinimize(ctx)
	}
}

func (s *Session) sessionStarted(ctx context.Context, assistantSessionID string) {
	s.mu.Lock()
	resumed := s.assistantSessionID != "" && s.assistantSessionID != assistantSessionID
	first := s.assistantSessionID == ""
	s.assistantSessionID = assistantSessionID
	s.mu.Unlock()

	s.proc.SetResumeSessionID(assistantSessionID)
	s.startTyping()

	if s.tlog != nil {
		// Thread logs are filed under the assistant's conversation id; lines
		// written before it was known move over.
		s.tlog.Alias(s.cfg.PlatformID, s.id, assistantSessionID)
	}
	if first || resumed {
		s.header.SessionStarted(ctx, s.proc.WorkDir(), !first)
	}
	if s.store != nil {
		if err := s.store.SetAssistantSession(ctx, s.id, assistantSessionID); err != nil {
			s.log.Warn("failed to persist assistant session id", zap.Error(err))
		}
	}
	s.logLifecycle("assistant_ready")
}

func (s *Session) askPlanApproval(ctx context.Context, plan string) {
	s.content.Flush(ctx)
	err := s.interactive.AskPlanApproval(ctx, plan, func(approved bool) {
		text := "Plan approved. Proceed with the implementation."
		if !approved {
			text = "Plan rejected. Do not proceed; wait for further instructions."
		}
		if err := s.SendPrompt(context.Background(), nil, text); err != nil {
			s.log.Warn("failed to forward plan decision", zap.Error(err))
		}
	})
	if err != nil {
		s.log.Warn("failed to open plan approval", zap.Error(err))
	}
}

func (s *Session) askQuestion(ctx context.Context, op QuestionOp) {
	s.content.Flush(ctx)
	err := s.interactive.AskQuestion(ctx, op.Question, op.Options, func(_ int, option string) {
		if err := s.SendPrompt(context.Background(), nil, option); err != nil {
			s.log.Warn("failed to forward question answer", zap.Error(err))
		}
	})
	if err != nil {
		s.log.Warn("failed to open question", zap.Error(err))
	}
}

func (s *Session) finishTurn(ctx context.Context, op TurnEndOp) {
	s.stopTyping()
	s.content.Finalize(ctx)
	s.tasks.Finalize(ctx)
	s.header.TurnCompleted(ctx, op.DurationMS, op.CostUSD)

	if span := s.takeTurnSpan(); span != nil {
		var turnErr error
		if len(op.Errors) > 0 {
			turnErr = errors.New(strings.Join(op.Errors, "; "))
		}
		tracing.TraceTurnResult(span, op.DurationMS, op.CostUSD, turnErr)
	}
	s.logLifecycle("turn_end")
	s.touch()

	s.mu.Lock()
	var next *claudecode.UserMessageBody
	if len(s.promptQueue) > 0 {
		next = &s.promptQueue[0]
		s.promptQueue = s.promptQueue[1:]
	} else if s.state == StateRunning {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if next != nil {
		if err := s.writePrompt(*next); err != nil {
			s.log.Warn("failed to send queued prompt", zap.Error(err))
		}
	}
	s.resetIdleTimer()
}

// handleControlRequest answers the assistant's permission prompts.
func (s *Session) handleControlRequest(requestID string, req *claudecode.ControlRequest) {
	if req.Subtype != claudecode.SubtypeCanUseTool {
		s.respondPermission(requestID, false, "unsupported control request")
		return
	}

	s.mu.Lock()
	allowed := s.cfg.SkipPermissions || s.allowedTools[req.ToolName]
	s.mu.Unlock()
	if allowed {
		s.respondPermission(requestID, true, "")
		return
	}

	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	display := s.disp.registry.Display(req.ToolName, req.Input)
	s.content.Flush(ctx)
	err := s.interactive.AskPermission(ctx, req.ToolName, display, func(dec executor.PermissionDecision) {
		if dec.AllowAll {
			s.mu.Lock()
			s.allowedTools[req.ToolName] = true
			s.mu.Unlock()
		}
		msg := ""
		if !dec.Allow {
			msg = "Denied by " + dec.UserID
		}
		s.respondPermission(requestID, dec.Allow, msg)
	})
	if err != nil {
		s.log.Warn("failed to open permission prompt", zap.Error(err))
		s.respondPermission(requestID, false, "failed to ask the user")
	}
}

func (s *Session) respondPermission(requestID string, allow bool, message string) {
	client := s.proc.Client()
	if client == nil {
		return
	}
	if err := client.RespondPermission(requestID, allow, nil, message); err != nil {
		s.log.Warn("failed to answer permission request", zap.Error(err))
	}
}

// handleExit observes process death. The session parks in Idle; the next
// prompt restarts the process with the stored conversation id.
func (s *Session) handleExit(generation int, err error) {
	if generation != s.proc.Generation() {
		return
	}
	s.mu.Lock()
	terminating := s.state == StateTerminating
	if !terminating {
		s.state = StateIdle
	}
	s.mu.Unlock()
	if terminating {
		return
	}

	s.stopTyping()
	if span := s.takeTurnSpan(); span != nil {
		tracing.TraceTurnResult(span, 0, 0, err)
	}
	s.logLifecycle("assistant_exited")
	if err != nil {
		s.log.Warn("assistant exited unexpectedly", zap.Error(err),
			zap.String("stderr_tail", s.proc.Stderr().Tail(10)))
		s.postErrorCard(err)
	}
}

// postErrorCard surfaces an unexpected assistant exit in the thread. The bug
// reaction on the card posts the captured diagnostics.
func (s *Session) postErrorCard(exitErr error) {
	ctx := s.runCtx
	if ctx == nil || s.isCancelled() {
		return
	}

	var sb strings.Builder
	sb.WriteString("❌ The assistant exited unexpectedly: " + exitErr.Error() + "\n")
	if tail := s.proc.Stderr().Tail(5); tail != "" {
		sb.WriteString(s.publisher.Formatter().CodeBlock("", strings.TrimRight(tail, "\n")))
		sb.WriteString("\n")
	}
	sb.WriteString("Send a new message to restart it, or react with 🐛 to post diagnostics.")

	post, err := s.publisher.CreateInteractivePost(ctx, s.cfg.ThreadID, sb.String(),
		[]string{platform.EmojiBug})
	if err != nil {
		s.log.Warn("failed to post error card", zap.Error(err))
		return
	}
	s.tracker.Register(tracker.Record{
		PostID:    post.ID,
		ThreadID:  s.cfg.ThreadID,
		SessionID: s.id,
		Kind:      tracker.KindBugReport,
	})
	s.logLifecycle("error_card_posted")
}

// postBugReport dumps session diagnostics under the error card, once.
func (s *Session) postBugReport(ctx context.Context, rec tracker.Record) {
	s.mu.Lock()
	asid := s.assistantSessionID
	s.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("🐛 Diagnostics\n")
	sb.WriteString(fmt.Sprintf("· session: `%s`\n", s.id))
	if asid != "" {
		sb.WriteString(fmt.Sprintf("· assistant session: `%s`\n", asid))
	}
	sb.WriteString(fmt.Sprintf("· process generation: %d\n", s.proc.Generation()))
	if s.tlog != nil {
		sb.WriteString(fmt.Sprintf("· thread log: `%s`\n", s.tlog.Path(s.cfg.PlatformID, s.id)))
	}
	if tail := s.proc.Stderr().Tail(20); tail != "" {
		sb.WriteString(s.publisher.Formatter().CodeBlock("", strings.TrimRight(tail, "\n")))
	}

	if _, err := s.publisher.CreatePost(ctx, s.cfg.ThreadID, sb.String()); err != nil {
		s.log.Warn("failed to post bug report", zap.Error(err))
		return
	}
	s.tracker.Unregister(rec.PostID)
	s.logLifecycle("bug_report_posted")
}

// HandleReaction routes a reaction on one of the session's posts to the
// owning executor.
func (s *Session) HandleReaction(ctx context.Context, rec tracker.Record, emoji, user string, added bool) {
	s.logThread(threadlog.TypeReaction, map[string]any{
		"postId": rec.PostID, "emoji": emoji, "user": user, "added": added,
	})
	switch rec.Kind {
	case tracker.KindTaskList:
		s.tasks.HandleReaction(ctx, rec.PostID, emoji, user, added)
	case tracker.KindPlanApproval, tracker.KindQuestion, tracker.KindPermission, tracker.KindMessageApproval:
		s.interactive.HandleReaction(ctx, rec, emoji, user, added)
	case tracker.KindBugReport:
		if added && platform.NormalizeEmoji(emoji) == platform.EmojiBug && s.IsUserAllowed(user) {
			s.postBugReport(ctx, rec)
		}
	}
}

// AskMessageApproval opens a prompt for a non-allowed user's message and
// forwards it if approved.
func (s *Session) AskMessageApproval(ctx context.Context, userName, userID, text string, forward func()) error {
	return s.interactive.AskMessageApproval(ctx, userName, userID, text, func(outcome executor.MessageApprovalOutcome) {
		switch outcome {
		case executor.MessageInvited:
			s.Invite(userID)
			forward()
		case executor.MessageApprovedOnce:
			forward()
		}
	})
}

// Terminate tears the session down: cancel work, flush nothing further,
// close executors, stop the process, clear tracked posts.
func (s *Session) Terminate(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.state == StateTerminating {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminating
	s.mu.Unlock()

	s.log.Info("terminating session", zap.String("reason", reason))
	s.stopTyping()
	s.stopFlushTimer()
	s.stopIdleTimer()
	if span := s.takeTurnSpan(); span != nil {
		tracing.TraceTurnResult(span, 0, 0, nil)
	}

	// Flush what we have before cancellation blocks further platform calls.
	s.content.Finalize(ctx)

	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()

	s.tasks.Close(ctx)
	s.interactive.Close(ctx)
	s.subagent.Close(ctx)
	s.header.Close(ctx)
	s.content.Close(ctx)
	s.tracker.ClearSession(s.id)

	stopCtx, cancel := context.WithTimeout(context.Background(), constants.AssistantStopTimeout)
	defer cancel()
	s.proc.Stop(stopCtx)
	if s.runCancel != nil {
		s.runCancel()
	}

	s.logLifecycle("terminated:" + reason)
	if s.tlog != nil {
		s.tlog.CloseSession(s.cfg.PlatformID, s.id)
	}
	if s.store != nil && reason == "stop" {
		if err := s.store.Delete(ctx, s.id); err != nil {
			s.log.Warn("failed to delete session record", zap.Error(err))
		}
	}
	if s.onTerminate != nil {
		s.onTerminate(s.cfg.ThreadID)
	}
}

func (s *Session) scheduleFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(s.cfg.FlushDebounce, func() {
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		s.content.Flush(ctx)
		if s.content.HasPending() && !s.isCancelled() {
			s.scheduleFlush()
		}
	})
}

func (s *Session) stopFlushTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

func (s *Session) startTyping() {
	s.mu.Lock()
	if s.typingStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.typingStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(constants.TypingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx := s.runCtx
				if ctx == nil {
					ctx = context.Background()
				}
				s.publisher.SendTyping(ctx, s.cfg.ThreadID)
			}
		}
	}()
}

func (s *Session) stopTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typingStop != nil {
		close(s.typingStop)
		s.typingStop = nil
	}
}

func (s *Session) resetIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		s.mu.Lock()
		idle := s.state == StateIdle && time.Since(s.lastActivity) >= s.cfg.IdleTimeout
		s.mu.Unlock()
		if idle {
			s.Terminate(context.Background(), "idle_timeout")
		} else {
			s.resetIdleTimer()
		}
	})
}

func (s *Session) stopIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	if s.store != nil {
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := s.store.Touch(ctx, s.id); err != nil {
			s.log.Debug("failed to touch session record", zap.Error(err))
		}
	}
	s.resetIdleTimer()
}

func (s *Session) logLifecycle(phase string) {
	s.logThread(threadlog.TypeLifecycle, map[string]any{"phase": phase})
}

func (s *Session) logThread(typ string, fields map[string]any) {
	if s.tlog == nil {
		return
	}
	s.tlog.Log(s.cfg.PlatformID, s.id, typ, fields)
}
