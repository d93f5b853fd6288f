package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
)

// EventHandler handles streaming events from the CLI.
type EventHandler func(ev *Event)

// RequestHandler handles incoming control requests (permission prompts).
// Implementations answer via RespondPermission or SendControlResponse.
type RequestHandler func(requestID string, req *ControlRequest)

// Client speaks the stream-json protocol over a pair of pipes. It reads
// NDJSON events from stdout and writes user messages and control responses
// to stdin.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	logger *logger.Logger

	eventHandler   EventHandler
	requestHandler RequestHandler

	writeMu sync.Mutex

	mu   sync.RWMutex
	done chan struct{}
}

// NewClient creates a client over the given pipes.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:  stdin,
		stdout: stdout,
		logger: log.WithFields(zap.String("component", "claudecode-client")),
		done:   make(chan struct{}),
	}
}

// SetEventHandler sets the handler for streaming events.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandler = handler
}

// SetRequestHandler sets the handler for incoming control requests.
func (c *Client) SetRequestHandler(handler RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestHandler = handler
}

// Start begins reading from stdout in a goroutine. The returned channel is
// closed when the read loop exits (EOF or error), which signals that the
// process has gone away.
func (c *Client) Start(ctx context.Context) <-chan struct{} {
	finished := make(chan struct{})
	go c.readLoop(ctx, finished)
	return finished
}

// Stop stops the client read loop.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// SendUserText sends a plain-text prompt.
func (c *Client) SendUserText(sessionID, text string) error {
	return c.send(&UserMessage{
		Type:      EventUser,
		SessionID: sessionID,
		Message:   UserMessageBody{Role: "user", Content: text},
	})
}

// SendUserBlocks sends a prompt composed of content blocks (text + images).
func (c *Client) SendUserBlocks(sessionID string, blocks []ContentBlock) error {
	return c.send(&UserMessage{
		Type:      EventUser,
		SessionID: sessionID,
		Message:   UserMessageBody{Role: "user", Content: blocks},
	})
}

// RespondPermission answers a can_use_tool control request.
func (c *Client) RespondPermission(requestID string, allow bool, updates []PermissionUpdate, message string) error {
	result := &PermissionResult{UpdatedPermissions: updates, Message: message}
	if allow {
		result.Behavior = BehaviorAllow
	} else {
		result.Behavior = BehaviorDeny
	}
	return c.SendControlResponse(&ControlResponseMessage{
		Type:      EventControlResponse,
		RequestID: requestID,
		Response:  &ControlResponse{Subtype: "success", Result: result},
	})
}

// SendControlResponse sends a raw control response.
func (c *Client) SendControlResponse(resp *ControlResponseMessage) error {
	return c.send(resp)
}

// Interrupt asks the CLI to stop the current operation.
func (c *Client) Interrupt() error {
	return c.send(&SDKControlRequest{
		Type:      EventControlRequest,
		RequestID: uuid.New().String(),
		Request:   SDKControlRequestBody{Subtype: SubtypeInterrupt},
	})
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	c.logger.Debug("claudecode: sent message", zap.String("data", string(data)))
	return nil
}

func (c *Client) readLoop(ctx context.Context, finished chan<- struct{}) {
	defer close(finished)

	scanner := bufio.NewScanner(c.stdout)
	// Tool results can be large; allow JSON lines up to 10MB.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("read loop error", zap.Error(err))
	}
}

func (c *Client) handleLine(line []byte) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		// Best effort: skip malformed lines, keep the stream alive.
		c.logger.Warn("failed to parse event", zap.Error(err), zap.String("line", string(line)))
		return
	}
	ev.Raw = append(json.RawMessage(nil), line...)

	c.logger.Debug("claudecode: received event",
		zap.String("type", ev.Type),
		zap.String("subtype", ev.Subtype))

	if ev.Type == EventControlRequest && ev.Request != nil {
		c.handleControlRequest(ev.RequestID, ev.Request)
		return
	}

	c.mu.RLock()
	handler := c.eventHandler
	c.mu.RUnlock()

	if handler != nil {
		handler(&ev)
	}
}

func (c *Client) handleControlRequest(requestID string, req *ControlRequest) {
	c.mu.RLock()
	handler := c.requestHandler
	c.mu.RUnlock()

	if handler != nil {
		handler(requestID, req)
		return
	}

	c.logger.Warn("received control request but no handler registered",
		zap.String("request_id", requestID),
		zap.String("subtype", req.Subtype))
	// Auto-deny if no handler.
	if err := c.SendControlResponse(&ControlResponseMessage{
		Type:      EventControlResponse,
		RequestID: requestID,
		Response: &ControlResponse{
			Subtype: "error",
			Error:   "no handler registered",
		},
	}); err != nil {
		c.logger.Warn("failed to send error response", zap.Error(err))
	}
}
