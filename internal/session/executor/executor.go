// Package executor contains the post owners: each executor manages the
// create/update/delete lifecycle and reactions for one kind of thread post.
// The sticky layout manager serializes the mutations that keep the task
// list and plan approval pinned to the bottom of the thread.
package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/breaker"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/threadlog"
)

// Executor is the shared surface of all post owners. Finalize runs at the
// end of an assistant turn; Close runs when the session terminates.
type Executor interface {
	Finalize(ctx context.Context)
	Close(ctx context.Context)
}

// Env bundles the per-session dependencies every executor needs.
type Env struct {
	PlatformID string
	SessionID  string
	ThreadID   string

	Publisher platform.Publisher
	Tracker   *tracker.Tracker
	Logger    *logger.Logger
	ThreadLog *threadlog.Store

	// Authorized reports whether a user may answer interactive prompts for
	// this session.
	Authorized func(userID string) bool
	// Cancelled is observed before platform calls; a cancelled session
	// aborts pending work.
	Cancelled func() bool
}

func (e *Env) cancelled() bool {
	return e.Cancelled != nil && e.Cancelled()
}

func (e *Env) authorized(userID string) bool {
	return e.Authorized == nil || e.Authorized(userID)
}

func (e *Env) register(postID string, kind tracker.Kind, interaction tracker.InteractionKind, toolUseID string) {
	e.Tracker.Register(tracker.Record{
		PostID:      postID,
		ThreadID:    e.ThreadID,
		SessionID:   e.SessionID,
		Kind:        kind,
		Interaction: interaction,
		ToolUseID:   toolUseID,
	})
}

func (e *Env) unregister(postID string) {
	e.Tracker.Unregister(postID)
}

func (e *Env) logExecutor(fields map[string]any) {
	if e.ThreadLog == nil {
		return
	}
	e.ThreadLog.Log(e.PlatformID, e.SessionID, threadlog.TypeExecutor, fields)
}

func (e *Env) limits() breaker.Limits {
	lim := e.Publisher.MessageLimits()
	return breaker.Limits{
		Soft:      lim.SoftThreshold,
		Hard:      lim.HardThreshold,
		MaxLength: lim.MaxLength,
		MaxLines:  lim.MaxLines,
	}
}

func (e *Env) warn(msg string, err error, fields ...zap.Field) {
	e.Logger.Warn(msg, append(fields,
		zap.String("session_id", e.SessionID),
		zap.Error(err))...)
}
