package logger

import (
	"regexp"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Credential patterns replaced with [REDACTED] before any log line is written.
// Tokens never appear in logs even at debug level, where raw platform payloads
// and process arguments are dumped wholesale. Key=value forms keep the key
// name and redact only the value.
var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-+/=]+`), redacted},
	{regexp.MustCompile(`(?i)(token|password|secret|api[_-]?key)(["']?\s*[:=]\s*["']?)[^\s"',}]+`), "${1}${2}" + redacted},
	{regexp.MustCompile(`xoxb-[A-Za-z0-9-]+`), redacted},
	{regexp.MustCompile(`xapp-[A-Za-z0-9-]+`), redacted},
}

// Sanitize replaces credential material in s with [REDACTED].
func Sanitize(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// sanitizingCore wraps a zapcore.Core and scrubs message text and string
// field values on write.
type sanitizingCore struct {
	zapcore.Core
}

func newSanitizingCore(inner zapcore.Core) zapcore.Core {
	return &sanitizingCore{Core: inner}
}

func (c *sanitizingCore) With(fields []zapcore.Field) zapcore.Core {
	return &sanitizingCore{Core: c.Core.With(sanitizeFields(fields))}
}

func (c *sanitizingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sanitizingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = Sanitize(ent.Message)
	return c.Core.Write(ent, sanitizeFields(fields))
}

func sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	copy(out, fields)
	for i := range out {
		if out[i].Type == zapcore.StringType {
			out[i].String = Sanitize(out[i].String)
		}
	}
	return out
}
