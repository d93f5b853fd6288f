// Package tools turns assistant tool invocations into one-line display
// strings for thread posts. Formatters are injectable per tool name so
// platform hosts can override the rendering.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/threadrelay/threadrelay/pkg/claudecode"
)

const (
	maxDetailLen = 120
	// ResultOK and ResultFail prefix the outcome line rendered under a
	// tool invocation. The two-space indent groups it with its tool line.
	ResultOK   = "  ↳ ✓"
	ResultFail = "  ↳ ❌"
)

// Formatter renders one tool invocation's input as a display string.
type Formatter func(input json.RawMessage) string

// Registry maps tool names to display formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
}

// NewRegistry creates a registry preloaded with defaults for the common
// tools. Unknown tools fall back to a generic line.
func NewRegistry() *Registry {
	r := &Registry{formatters: make(map[string]Formatter)}

	r.Register(claudecode.ToolBash, func(in json.RawMessage) string {
		var p struct {
			Command     string `json:"command"`
			Description string `json:"description"`
		}
		_ = json.Unmarshal(in, &p)
		if p.Description != "" {
			return fmt.Sprintf("🔧 %s", p.Description)
		}
		return fmt.Sprintf("🔧 `%s`", clip(p.Command))
	})
	r.Register(claudecode.ToolRead, pathFormatter("📖 Reading"))
	r.Register(claudecode.ToolWrite, pathFormatter("📝 Writing"))
	r.Register(claudecode.ToolEdit, pathFormatter("✏️ Editing"))
	r.Register(claudecode.ToolGlob, patternFormatter("🔍 Globbing"))
	r.Register(claudecode.ToolGrep, patternFormatter("🔍 Searching"))
	r.Register(claudecode.ToolWebFetch, func(in json.RawMessage) string {
		var p struct {
			URL string `json:"url"`
		}
		_ = json.Unmarshal(in, &p)
		return fmt.Sprintf("🌐 Fetching %s", clip(p.URL))
	})
	r.Register(claudecode.ToolWebSearch, func(in json.RawMessage) string {
		var p struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(in, &p)
		return fmt.Sprintf("🌐 Searching the web for %q", clip(p.Query))
	})
	r.Register(claudecode.ToolTask, func(in json.RawMessage) string {
		var p struct {
			Description  string `json:"description"`
			SubagentType string `json:"subagent_type"`
		}
		_ = json.Unmarshal(in, &p)
		if p.Description == "" {
			p.Description = "subtask"
		}
		if p.SubagentType != "" {
			return fmt.Sprintf("🤖 %s (%s)", clip(p.Description), p.SubagentType)
		}
		return fmt.Sprintf("🤖 %s", clip(p.Description))
	})

	return r
}

// Register installs or replaces the formatter for a tool name.
func (r *Registry) Register(name string, f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[name] = f
}

// Display renders a tool invocation. Unknown tools render as "🔧 <name>".
func (r *Registry) Display(name string, input json.RawMessage) string {
	r.mu.RLock()
	f, ok := r.formatters[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("🔧 %s", name)
	}
	return f(input)
}

// ResultMarker renders the outcome line under a tool invocation.
func ResultMarker(isError bool, summary string) string {
	prefix := ResultOK
	if isError {
		prefix = ResultFail
	}
	summary = firstLine(summary)
	if summary == "" {
		return prefix
	}
	return prefix + " " + clip(summary)
}

func pathFormatter(verb string) Formatter {
	return func(in json.RawMessage) string {
		var p struct {
			FilePath string `json:"file_path"`
			Path     string `json:"path"`
		}
		_ = json.Unmarshal(in, &p)
		path := p.FilePath
		if path == "" {
			path = p.Path
		}
		return fmt.Sprintf("%s `%s`", verb, clip(path))
	}
}

func patternFormatter(verb string) Formatter {
	return func(in json.RawMessage) string {
		var p struct {
			Pattern string `json:"pattern"`
		}
		_ = json.Unmarshal(in, &p)
		return fmt.Sprintf("%s `%s`", verb, clip(p.Pattern))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func clip(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "…"
}
