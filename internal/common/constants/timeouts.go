// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// SessionIdleTimeout is how long an idle session keeps its state before
	// being cleaned up. Overridable via session.idleTimeoutMinutes.
	SessionIdleTimeout = 30 * time.Minute

	// FlushDebounce is the delay between receiving streamed content and
	// flushing it to the platform.
	FlushDebounce = 500 * time.Millisecond

	// TypingInterval is how often the typing indicator is refreshed while a
	// turn is running. Platform typing events expire after a few seconds.
	TypingInterval = 5 * time.Second

	// AssistantStopTimeout is how long to wait for a graceful exit after
	// closing the assistant's stdin before killing the process.
	AssistantStopTimeout = 10 * time.Second

	// PlatformCallTimeout bounds a single platform REST call.
	PlatformCallTimeout = 30 * time.Second

	// ThreadLogFlushInterval is how often buffered thread-log lines are
	// flushed to disk.
	ThreadLogFlushInterval = time.Second
)
