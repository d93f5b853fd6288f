// Package threadlog appends per-session JSONL transcripts: every assistant
// event, user message, command, permission decision, and reaction gets one
// line. Files are owner-readable only and swept after a retention period.
package threadlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/constants"
	"github.com/threadrelay/threadrelay/internal/common/logger"
)

// Line types.
const (
	TypeClaudeEvent = "claude_event"
	TypeUserMessage = "user_message"
	TypeLifecycle   = "lifecycle"
	TypeCommand     = "command"
	TypePermission  = "permission"
	TypeReaction    = "reaction"
	TypeExecutor    = "executor"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

type logFile struct {
	f *os.File
	w *bufio.Writer
}

// Store owns the log directory and the set of open files. Writes are
// buffered and flushed on an interval.
type Store struct {
	dir    string
	logger *logger.Logger

	mu    sync.Mutex
	files map[string]*logFile
	// aliases reroutes a session's write key to the file named by the
	// assistant's conversation id once that id is known.
	aliases map[string]string

	done chan struct{}
	once sync.Once
}

// NewStore opens (creating if needed) the log directory and starts the
// background flusher.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create thread log dir: %w", err)
	}
	s := &Store{
		dir:     dir,
		logger:  log.WithFields(zap.String("component", "threadlog")),
		files:   make(map[string]*logFile),
		aliases: make(map[string]string),
		done:    make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func fileKey(platformID, sessionID string) string {
	name := platformID + "_" + sessionID + ".jsonl"
	return unsafeChars.ReplaceAllString(name, "-")
}

func (s *Store) resolveLocked(platformID, sessionID string) string {
	key := fileKey(platformID, sessionID)
	if target, ok := s.aliases[key]; ok {
		return target
	}
	return key
}

// Path returns the file path for a platform/session pair.
func (s *Store) Path(platformID, sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filepath.Join(s.dir, s.resolveLocked(platformID, sessionID))
}

// Alias names a session's file after the assistant's own conversation id.
// Lines already written under the session id move into the renamed file, so
// there is one file per (platform, assistant session) on disk.
func (s *Store) Alias(platformID, sessionID, assistantSessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := fileKey(platformID, sessionID)
	to := fileKey(platformID, assistantSessionID)
	if from == to || s.aliases[from] == to {
		return
	}
	if lf, ok := s.files[from]; ok {
		_ = lf.w.Flush()
		_ = lf.f.Close()
		delete(s.files, from)
	}
	s.aliases[from] = to

	fromPath := filepath.Join(s.dir, from)
	data, err := os.ReadFile(fromPath)
	if err != nil {
		return
	}
	if lf, err := s.openKeyLocked(to); err == nil {
		if _, err := lf.w.Write(data); err != nil {
			s.logger.Warn("failed to migrate thread log lines", zap.Error(err))
			return
		}
	}
	_ = os.Remove(fromPath)
}

// Log appends one line. fields are merged alongside ts, sessionId, and type;
// a failed write is logged and dropped, never surfaced to the session.
func (s *Store) Log(platformID, sessionID, typ string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UnixMilli()
	entry["sessionId"] = sessionID
	entry["type"] = typ

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("failed to marshal thread log entry", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := s.openLocked(platformID, sessionID)
	if err != nil {
		s.logger.Warn("failed to open thread log", zap.Error(err))
		return
	}
	if _, err := lf.w.Write(append(data, '\n')); err != nil {
		s.logger.Warn("failed to write thread log entry", zap.Error(err))
	}
}

func (s *Store) openLocked(platformID, sessionID string) (*logFile, error) {
	return s.openKeyLocked(s.resolveLocked(platformID, sessionID))
}

func (s *Store) openKeyLocked(key string) (*logFile, error) {
	if lf, ok := s.files[key]; ok {
		return lf, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	lf := &logFile{f: f, w: bufio.NewWriter(f)}
	s.files[key] = lf
	return lf, nil
}

func (s *Store) flushLoop() {
	ticker := time.NewTicker(constants.ThreadLogFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.done:
			return
		}
	}
}

// Flush writes all buffered lines to disk.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, lf := range s.files {
		if err := lf.w.Flush(); err != nil {
			s.logger.Warn("failed to flush thread log", zap.String("file", key), zap.Error(err))
		}
	}
}

// CloseSession flushes and closes one session's file.
func (s *Store) CloseSession(platformID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.resolveLocked(platformID, sessionID)
	if lf, ok := s.files[key]; ok {
		_ = lf.w.Flush()
		_ = lf.f.Close()
		delete(s.files, key)
	}
}

// Close flushes and closes everything and stops the flusher.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, lf := range s.files {
		_ = lf.w.Flush()
		_ = lf.f.Close()
		delete(s.files, key)
	}
}

// Sweep deletes log files whose mtime is older than the retention period
// and returns how many were removed.
func (s *Store) Sweep(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read thread log dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Warn("failed to remove expired thread log",
				zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("swept expired thread logs", zap.Int("removed", removed))
	}
	return removed, nil
}

// RunRetention sweeps at startup and then once a day until the context is
// cancelled.
func (s *Store) RunRetention(ctx context.Context, retention time.Duration) {
	if _, err := s.Sweep(retention); err != nil {
		s.logger.Warn("thread log sweep failed", zap.Error(err))
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(retention); err != nil {
				s.logger.Warn("thread log sweep failed", zap.Error(err))
			}
		}
	}
}

// Read parses a log file, skipping malformed lines.
func Read(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, scanner.Err()
}
