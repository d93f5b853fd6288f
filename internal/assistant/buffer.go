package assistant

import (
	"strings"
	"sync"
	"time"
)

// StderrLine is one captured diagnostic line from the assistant process.
type StderrLine struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// StderrBuffer is a ring buffer holding the most recent stderr output.
// Its contents feed error cards and bug reports.
type StderrBuffer struct {
	lines []StderrLine
	size  int
	head  int
	count int
	mu    sync.RWMutex
}

// NewStderrBuffer creates a buffer with the given capacity.
func NewStderrBuffer(size int) *StderrBuffer {
	return &StderrBuffer{
		lines: make([]StderrLine, size),
		size:  size,
	}
}

// Add appends a line, evicting the oldest when full.
func (b *StderrBuffer) Add(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.head + b.count) % b.size
	if b.count < b.size {
		b.count++
	} else {
		b.head = (b.head + 1) % b.size
	}
	b.lines[idx] = StderrLine{Timestamp: time.Now(), Content: content}
}

// Last returns the last n lines, oldest first.
func (b *StderrBuffer) Last(n int) []StderrLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	result := make([]StderrLine, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		idx := (b.head + start + i) % b.size
		result[i] = b.lines[idx]
	}
	return result
}

// Tail renders the last n lines as a single string for display.
func (b *StderrBuffer) Tail(n int) string {
	lines := b.Last(n)
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Count returns the number of buffered lines.
func (b *StderrBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Clear drops all buffered lines.
func (b *StderrBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}
