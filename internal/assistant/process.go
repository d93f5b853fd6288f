// Package assistant manages the assistant CLI subprocess: spawning it with
// the stream-json protocol flags, resuming previous conversations, and
// watching for exit.
package assistant

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/pkg/claudecode"
)

const stderrBufferSize = 200

// Options configure a Process.
type Options struct {
	// Command is the CLI binary, default "claude".
	Command string
	// ExtraArgs are appended after the generated flags.
	ExtraArgs []string
	// WorkDir is the working directory for the process.
	WorkDir string
	// SkipPermissions passes --dangerously-skip-permissions.
	SkipPermissions bool
	// Env overrides the process environment when non-nil.
	Env []string
}

// ExitFunc is called when the process exits. generation identifies which
// process instance exited; stale callbacks from a replaced process carry an
// old generation.
type ExitFunc func(generation int, err error)

// Process owns one assistant CLI subprocess. A Process may be restarted many
// times over a session's life; each start bumps the generation counter so
// state cleanup from a dead read loop cannot clobber a newer process.
type Process struct {
	opts   Options
	logger *logger.Logger
	stderr *StderrBuffer

	eventHandler   claudecode.EventHandler
	requestHandler claudecode.RequestHandler
	onExit         ExitFunc

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	client  *claudecode.Client
	cancel  context.CancelFunc
	started bool
	gen     int

	// resumeSessionID is passed as --resume on the next start.
	resumeSessionID string
}

// NewProcess creates a process manager. Handlers must be set before Start.
func NewProcess(opts Options, log *logger.Logger) *Process {
	if opts.Command == "" {
		opts.Command = "claude"
	}
	return &Process{
		opts:   opts,
		logger: log.WithFields(zap.String("component", "assistant-process")),
		stderr: NewStderrBuffer(stderrBufferSize),
	}
}

// SetEventHandler sets the handler for stream events.
func (p *Process) SetEventHandler(h claudecode.EventHandler) {
	p.eventHandler = h
}

// SetRequestHandler sets the handler for permission control requests.
func (p *Process) SetRequestHandler(h claudecode.RequestHandler) {
	p.requestHandler = h
}

// SetExitHandler sets the callback invoked when the process exits.
func (p *Process) SetExitHandler(h ExitFunc) {
	p.onExit = h
}

// SetResumeSessionID stores the assistant's opaque session id; the next
// start passes it as --resume.
func (p *Process) SetResumeSessionID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumeSessionID = id
}

// ResumeSessionID returns the stored assistant session id.
func (p *Process) ResumeSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeSessionID
}

// SetWorkDir changes the working directory used by the next start.
func (p *Process) SetWorkDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.WorkDir = dir
}

// WorkDir returns the current working directory setting.
func (p *Process) WorkDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.WorkDir
}

// Stderr returns the diagnostic ring buffer.
func (p *Process) Stderr() *StderrBuffer {
	return p.stderr
}

// Running reports whether the process is currently started.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Generation returns the current process generation.
func (p *Process) Generation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Client returns the protocol client for the running process, or nil when
// stopped.
func (p *Process) Client() *claudecode.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Process) args() []string {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--permission-prompt-tool", "stdio",
	}
	if p.opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if p.resumeSessionID != "" {
		args = append(args, "--resume", p.resumeSessionID)
	}
	return append(args, p.opts.ExtraArgs...)
}

// Start spawns the CLI if it is not already running. The parent ctx bounds
// the whole process lifetime, not a single call.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}

	gen := p.gen + 1
	p.gen = gen
	args := p.args()
	workDir := p.opts.WorkDir

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, p.opts.Command, args...)
	cmd.Dir = workDir
	if p.opts.Env != nil {
		cmd.Env = p.opts.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		p.mu.Unlock()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		p.mu.Unlock()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		p.mu.Unlock()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		p.mu.Unlock()
		return fmt.Errorf("failed to start assistant: %w", err)
	}

	client := claudecode.NewClient(stdin, stdout, p.logger)
	client.SetEventHandler(p.eventHandler)
	client.SetRequestHandler(p.requestHandler)

	p.cmd = cmd
	p.stdin = stdin
	p.client = client
	p.cancel = cancel
	p.started = true
	p.mu.Unlock()

	p.logger.Info("assistant process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("generation", gen),
		zap.String("workdir", workDir))

	finished := client.Start(cmdCtx)
	go p.readStderr(stderr)
	go p.waitForExit(cmd, gen, finished)

	return nil
}

// Stop closes stdin to let the process exit gracefully, killing it after
// the context deadline.
func (p *Process) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	stdin := p.stdin
	cmd := p.cmd
	cancel := p.cancel
	client := p.client
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		for p.Running() {
			time.Sleep(50 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("assistant process stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("force killing assistant process")
		// Past this point nothing from the stream is wanted; stop
		// dispatching before the kill.
		if client != nil {
			client.Stop()
		}
		if cancel != nil {
			cancel()
		}
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// Kill terminates the process immediately. The next Start respawns it with
// the stored resume session id.
func (p *Process) Kill() {
	p.mu.Lock()
	client := p.client
	cancel := p.cancel
	p.mu.Unlock()
	if client != nil {
		client.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

func (p *Process) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		p.stderr.Add(line)
		p.logger.Debug("assistant stderr", zap.String("line", line))
	}
}

func (p *Process) waitForExit(cmd *exec.Cmd, gen int, finished <-chan struct{}) {
	<-finished
	err := cmd.Wait()

	p.mu.Lock()
	// Only clean up if we are still the current generation; a newer process
	// may already have been started.
	if p.gen == gen {
		p.started = false
		p.stdin = nil
		p.cmd = nil
		p.client = nil
		p.cancel = nil
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Info("assistant process exited with error",
			zap.Int("generation", gen), zap.Error(err))
	} else {
		p.logger.Info("assistant process exited",
			zap.Int("generation", gen))
	}

	if p.onExit != nil {
		p.onExit(gen, err)
	}
}
