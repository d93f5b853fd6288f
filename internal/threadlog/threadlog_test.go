package threadlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrelay/threadrelay/internal/common/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	s, err := NewStore(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestLogAndRead(t *testing.T) {
	s := newTestStore(t)

	s.Log("mm-dev", "sess1", TypeUserMessage, map[string]any{"text": "hello"})
	s.Log("mm-dev", "sess1", TypeClaudeEvent, map[string]any{"eventType": "assistant"})
	s.Flush()

	entries, err := Read(s.Path("mm-dev", "sess1"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "sess1", entries[0]["sessionId"])
	assert.Equal(t, TypeUserMessage, entries[0]["type"])
	assert.Equal(t, "hello", entries[0]["text"])
	assert.NotZero(t, entries[0]["ts"])
	assert.Equal(t, TypeClaudeEvent, entries[1]["type"])
}

func TestFilePermissions(t *testing.T) {
	s := newTestStore(t)
	s.Log("mm-dev", "sess1", TypeLifecycle, nil)
	s.Flush()

	info, err := os.Stat(s.Path("mm-dev", "sess1"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileKeySanitized(t *testing.T) {
	s := newTestStore(t)
	s.Log("mm/dev", "sess:1", TypeLifecycle, nil)
	s.Flush()

	path := s.Path("mm/dev", "sess:1")
	assert.NotContains(t, filepath.Base(path), "/")
	assert.NotContains(t, filepath.Base(path), ":")
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestAliasMovesEarlyLines(t *testing.T) {
	s := newTestStore(t)

	// Lines logged before the assistant announces its conversation id.
	s.Log("mm-dev", "mm-dev:t1", TypeLifecycle, map[string]any{"phase": "started"})
	s.Alias("mm-dev", "mm-dev:t1", "conv-42")
	s.Log("mm-dev", "mm-dev:t1", TypeClaudeEvent, map[string]any{"eventType": "assistant"})
	s.Flush()

	path := s.Path("mm-dev", "mm-dev:t1")
	assert.Equal(t, s.Path("mm-dev", "conv-42"), path)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeLifecycle, entries[0]["type"])
	assert.Equal(t, TypeClaudeEvent, entries[1]["type"])

	// The pre-alias file is gone.
	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestAliasAppendsToExistingFile(t *testing.T) {
	s := newTestStore(t)

	// A previous run already filed lines under this conversation id.
	s.Log("mm-dev", "conv-42", TypeLifecycle, map[string]any{"phase": "started"})
	s.CloseSession("mm-dev", "conv-42")

	s.Log("mm-dev", "mm-dev:t1", TypeLifecycle, map[string]any{"phase": "resumed"})
	s.Alias("mm-dev", "mm-dev:t1", "conv-42")
	s.Flush()

	entries, err := Read(s.Path("mm-dev", "conv-42"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "started", entries[0]["phase"])
	assert.Equal(t, "resumed", entries[1]["phase"])
}

func TestReadSkipsMalformedLines(t *testing.T) {
	s := newTestStore(t)
	s.Log("p", "s", TypeCommand, map[string]any{"command": "!help"})
	s.Flush()

	path := s.Path("p", "s")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s.Log("p", "s", TypeReaction, map[string]any{"emoji": "+1"})
	s.Flush()

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeCommand, entries[0]["type"])
	assert.Equal(t, TypeReaction, entries[1]["type"])
}

func TestSweep(t *testing.T) {
	s := newTestStore(t)
	s.Log("p", "old", TypeLifecycle, nil)
	s.Log("p", "new", TypeLifecycle, nil)
	s.Flush()
	s.CloseSession("p", "old")

	oldTime := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(s.Path("p", "old"), oldTime, oldTime))

	removed, err := s.Sweep(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(s.Path("p", "old"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.Path("p", "new"))
	assert.NoError(t, err)
}

func TestCloseSessionThenLogReopens(t *testing.T) {
	s := newTestStore(t)
	s.Log("p", "s", TypeLifecycle, map[string]any{"phase": "start"})
	s.CloseSession("p", "s")

	s.Log("p", "s", TypeLifecycle, map[string]any{"phase": "stop"})
	s.Flush()

	entries, err := Read(s.Path("p", "s"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
