package assistant

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/pkg/claudecode"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// fakeAssistant writes a shell script that stands in for the CLI binary.
// The script ignores the protocol flags it is invoked with.
func fakeAssistant(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-assistant")
	content := "#!/bin/sh\n" + script + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestProcess_Args(t *testing.T) {
	p := NewProcess(Options{}, newTestLogger(t))

	joined := strings.Join(p.args(), " ")
	assert.Contains(t, joined, "--output-format stream-json")
	assert.Contains(t, joined, "--input-format stream-json")
	assert.Contains(t, joined, "--permission-prompt-tool stdio")
	assert.NotContains(t, joined, "--resume")
	assert.NotContains(t, joined, "--dangerously-skip-permissions")
}

func TestProcess_ArgsWithResume(t *testing.T) {
	p := NewProcess(Options{SkipPermissions: true}, newTestLogger(t))
	p.SetResumeSessionID("sess-abc")

	joined := strings.Join(p.args(), " ")
	assert.Contains(t, joined, "--resume sess-abc")
	assert.Contains(t, joined, "--dangerously-skip-permissions")
}

func TestProcess_DefaultCommand(t *testing.T) {
	p := NewProcess(Options{}, newTestLogger(t))
	assert.Equal(t, "claude", p.opts.Command)
}

func TestProcess_StartAndStop(t *testing.T) {
	// cat echoes stdin to stdout, which exercises the full pipe wiring.
	bin := fakeAssistant(t, "exec cat")
	p := NewProcess(Options{Command: bin, WorkDir: t.TempDir()}, newTestLogger(t))

	var mu sync.Mutex
	var events []*claudecode.Event
	p.SetEventHandler(func(ev *claudecode.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	exited := make(chan int, 1)
	p.SetExitHandler(func(gen int, err error) {
		exited <- gen
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.Running())
	assert.Equal(t, 1, p.Generation())

	// Starting again is a no-op.
	require.NoError(t, p.Start(ctx))
	assert.Equal(t, 1, p.Generation())

	client := p.Client()
	require.NotNil(t, client)
	require.NoError(t, client.SendUserText("", "hello"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, claudecode.EventUser, events[0].Type)
	mu.Unlock()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	p.Stop(stopCtx)

	select {
	case gen := <-exited:
		assert.Equal(t, 1, gen)
	case <-time.After(2 * time.Second):
		t.Fatal("exit handler not called")
	}
	assert.False(t, p.Running())
	assert.Nil(t, p.Client())
}

func TestProcess_ExitDetected(t *testing.T) {
	bin := fakeAssistant(t, "echo oops >&2; exit 3")
	p := NewProcess(Options{Command: bin}, newTestLogger(t))

	exited := make(chan error, 1)
	p.SetExitHandler(func(gen int, err error) {
		exited <- err
	})

	require.NoError(t, p.Start(context.Background()))

	select {
	case err := <-exited:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("exit handler not called")
	}

	assert.Eventually(t, func() bool {
		return strings.Contains(p.Stderr().Tail(5), "oops")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcess_RestartBumpsGeneration(t *testing.T) {
	bin := fakeAssistant(t, "exit 0")
	p := NewProcess(Options{Command: bin}, newTestLogger(t))

	exited := make(chan int, 2)
	p.SetExitHandler(func(gen int, err error) {
		exited <- gen
	})

	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, 1, <-exited)

	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, 2, <-exited)
	assert.Equal(t, 2, p.Generation())
}

func TestStderrBuffer(t *testing.T) {
	b := NewStderrBuffer(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Add(s)
	}

	assert.Equal(t, 3, b.Count())

	last := b.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, "c", last[0].Content)
	assert.Equal(t, "d", last[1].Content)

	assert.Equal(t, "b\nc\nd\n", b.Tail(10))

	b.Clear()
	assert.Equal(t, 0, b.Count())
	assert.Empty(t, b.Last(5))
}
