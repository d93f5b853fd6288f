package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/store"
	"github.com/threadrelay/threadrelay/internal/threadlog"
	"github.com/threadrelay/threadrelay/internal/tools"
)

// ManagerConfig holds the per-platform session defaults.
type ManagerConfig struct {
	PlatformID      string
	Command         string
	ExtraArgs       []string
	DefaultWorkDir  string
	SkipPermissions bool
	IdleTimeout     time.Duration
	FlushDebounce   time.Duration
	// MaxSessions caps concurrent sessions per platform; 0 means unlimited.
	MaxSessions int
}

// Manager owns the thread → session map for one platform. Sessions are
// created on demand and resumed from the store when a previous run left a
// record behind.
type Manager struct {
	cfg      ManagerConfig
	pub      platform.Publisher
	tracker  *tracker.Tracker
	registry *tools.Registry
	store    *store.Store
	tlog     *threadlog.Store
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session // keyed by thread id
}

// NewManager creates a manager for one platform.
func NewManager(cfg ManagerConfig, pub platform.Publisher, trk *tracker.Tracker,
	registry *tools.Registry, st *store.Store, tlog *threadlog.Store, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		pub:      pub,
		tracker:  trk,
		registry: registry,
		store:    st,
		tlog:     tlog,
		log:      log.WithPlatformID(cfg.PlatformID),
		sessions: make(map[string]*Session),
	}
}

// Tracker returns the post tracker shared by this platform's sessions.
func (m *Manager) Tracker() *tracker.Tracker { return m.tracker }

// Get returns the live session for a thread, if any.
func (m *Manager) Get(threadID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[threadID]
	return s, ok
}

// CanResume reports whether a previous run left a record for the thread, so
// a plain reply there can revive the session without a fresh mention.
func (m *Manager) CanResume(ctx context.Context, threadID string) bool {
	if m.store == nil {
		return false
	}
	_, err := m.store.GetByThread(ctx, m.cfg.PlatformID, threadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.log.Warn("failed to look up session record", zap.Error(err))
	}
	return err == nil
}

// GetByID returns a live session by its platform-qualified session id.
func (m *Manager) GetByID(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID() == sessionID {
			return s, true
		}
	}
	return nil, false
}

// GetOrCreate returns the thread's session, creating and starting one if
// needed. The bool reports whether the session was created by this call.
// ctx bounds the session's whole lifetime, not just this call.
func (m *Manager) GetOrCreate(ctx context.Context, threadID, startedBy, workingDir string) (*Session, bool, error) {
	m.mu.Lock()
	if s, ok := m.sessions[threadID]; ok {
		m.mu.Unlock()
		return s, false, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, false, fmt.Errorf("session limit reached (%d)", m.cfg.MaxSessions)
	}
	m.mu.Unlock()

	cfg := Config{
		PlatformID:      m.cfg.PlatformID,
		ThreadID:        threadID,
		StartedBy:       startedBy,
		WorkingDir:      workingDir,
		Command:         m.cfg.Command,
		ExtraArgs:       m.cfg.ExtraArgs,
		SkipPermissions: m.cfg.SkipPermissions,
		IdleTimeout:     m.cfg.IdleTimeout,
		FlushDebounce:   m.cfg.FlushDebounce,
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = m.cfg.DefaultWorkDir
	}

	// A record from a previous run lets the assistant resume the old
	// conversation in the same thread.
	if m.store != nil {
		rec, err := m.store.GetByThread(ctx, m.cfg.PlatformID, threadID)
		switch {
		case err == nil:
			cfg.Resume = rec.AssistantSessionID
			cfg.StartedBy = rec.StartedBy
			if rec.WorkingDir != "" {
				cfg.WorkingDir = rec.WorkingDir
			}
			m.log.Info("resuming session from store",
				zap.String("thread_id", threadID),
				zap.String("assistant_session_id", rec.AssistantSessionID))
		case errors.Is(err, store.ErrNotFound):
			// Fresh thread.
		default:
			m.log.Warn("failed to look up session record", zap.Error(err))
		}
	}

	s := New(cfg, m.pub, m.tracker, m.registry, m.store, m.tlog, m.log)
	s.SetTerminateHandler(m.remove)

	m.mu.Lock()
	if existing, ok := m.sessions[threadID]; ok {
		// Lost the race; discard ours before it starts anything.
		m.mu.Unlock()
		return existing, false, nil
	}
	m.sessions[threadID] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.remove(threadID)
		return nil, false, err
	}

	if m.store != nil {
		rec := store.Record{
			SessionID:          s.ID(),
			PlatformID:         m.cfg.PlatformID,
			ThreadID:           threadID,
			StartedBy:          cfg.StartedBy,
			AssistantSessionID: cfg.Resume,
			WorkingDir:         cfg.WorkingDir,
		}
		if err := m.store.Save(ctx, rec); err != nil {
			m.log.Warn("failed to save session record", zap.Error(err))
		}
	}

	m.log.Info("session created",
		zap.String("thread_id", threadID),
		zap.String("started_by", cfg.StartedBy),
		zap.Bool("resumed", cfg.Resume != ""))
	return s, true, nil
}

// Stop terminates the thread's session, deleting its stored record.
func (m *Manager) Stop(ctx context.Context, threadID string) bool {
	s, ok := m.Get(threadID)
	if !ok {
		return false
	}
	s.Terminate(ctx, "stop")
	return true
}

// Shutdown terminates every session, keeping store records so threads can
// resume after a restart.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Terminate(ctx, "shutdown")
		}(s)
	}
	wg.Wait()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Info is a debug snapshot of one live session.
type Info struct {
	SessionID          string    `json:"session_id"`
	ThreadID           string    `json:"thread_id"`
	StartedBy          string    `json:"started_by"`
	State              State     `json:"state"`
	WorkingDir         string    `json:"working_dir"`
	AssistantSessionID string    `json:"assistant_session_id,omitempty"`
	LastActivity       time.Time `json:"last_activity"`
	TrackedPosts       int       `json:"tracked_posts"`
}

// Infos snapshots every live session for the debug endpoints.
func (m *Manager) Infos() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Info{
			SessionID:          s.ID(),
			ThreadID:           s.ThreadID(),
			StartedBy:          s.StartedBy(),
			State:              s.State(),
			WorkingDir:         s.WorkingDir(),
			AssistantSessionID: s.AssistantSessionID(),
			LastActivity:       s.LastActivity(),
			TrackedPosts:       len(m.tracker.SessionPosts(s.ID())),
		})
	}
	return out
}

func (m *Manager) remove(threadID string) {
	m.mu.Lock()
	delete(m.sessions, threadID)
	m.mu.Unlock()
}
