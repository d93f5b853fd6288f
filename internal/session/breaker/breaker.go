// Package breaker decides where to cut a growing text buffer into posts.
// All functions are pure; platform length limits come in as parameters.
//
// The rules protect markdown structure: a cut never lands inside a fenced
// code block, and when a block cannot be closed in time the whole block
// moves to the continuation post.
package breaker

import (
	"strings"
	"unicode/utf8"
)

// BreakType classifies a breakpoint candidate.
type BreakType string

const (
	BreakNone         BreakType = "none"
	BreakToolMarker   BreakType = "tool_marker"
	BreakHeading      BreakType = "heading"
	BreakCodeBlockEnd BreakType = "code_block_end"
	BreakParagraph    BreakType = "paragraph"
	BreakLine         BreakType = "line"
)

// TruncationSuffix is appended when content is cut against max-length.
const TruncationSuffix = "\n_… (truncated)_"

// Limits are the platform length constants driving the break decisions.
type Limits struct {
	// Soft is the length at which a flush prefers to split.
	Soft int
	// Hard is the length a single post must not exceed.
	Hard int
	// MaxLength is the absolute platform cap; content beyond it is truncated.
	MaxLength int
	// MaxLines triggers an early split on tall posts. Zero disables it.
	MaxLines int
}

// CodeBlockState describes whether a position sits inside a fenced code block.
type CodeBlockState struct {
	Inside   bool
	Language string
	// OpenPos is the byte offset of the opening fence line, -1 when outside.
	OpenPos int
}

// Breakpoint is one cut candidate: the byte offset to split at and what kind
// of boundary it is.
type Breakpoint struct {
	Position int
	Type     BreakType
}

// Result is the outcome of Break: Head updates the current post; when Split
// is set, Tail seeds the continuation post.
type Result struct {
	Head  string
	Tail  string
	Split bool
}

type lineSpan struct {
	start int
	end   int // offset just past the trailing newline, or len(b)
}

func splitLines(b string) []lineSpan {
	var spans []lineSpan
	start := 0
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' {
			spans = append(spans, lineSpan{start: start, end: i + 1})
			start = i + 1
		}
	}
	if start < len(b) {
		spans = append(spans, lineSpan{start: start, end: len(b)})
	}
	return spans
}

func isFenceLine(b string, ln lineSpan) bool {
	return strings.HasPrefix(b[ln.start:ln.end], "```")
}

func fenceLanguage(b string, ln lineSpan) string {
	text := strings.TrimRight(b[ln.start:ln.end], "\r\n")
	return strings.TrimSpace(strings.TrimPrefix(text, "```"))
}

func isToolMarkerLine(b string, ln lineSpan) bool {
	text := strings.TrimLeft(b[ln.start:ln.end], " \t")
	return strings.HasPrefix(text, "↳ ✓") || strings.HasPrefix(text, "↳ ❌")
}

func isHeadingLine(b string, ln lineSpan) bool {
	text := b[ln.start:ln.end]
	return strings.HasPrefix(text, "## ") || strings.HasPrefix(text, "### ")
}

// StateAt reports the fenced-code state at position p: fences at line starts
// in b[0..p] are counted, an odd count means p is inside an open block.
func StateAt(b string, p int) CodeBlockState {
	if p > len(b) {
		p = len(b)
	}
	st := CodeBlockState{OpenPos: -1}
	for _, ln := range splitLines(b) {
		if ln.start >= p {
			break
		}
		if !isFenceLine(b, ln) {
			continue
		}
		if st.Inside {
			st = CodeBlockState{OpenPos: -1}
		} else {
			st = CodeBlockState{Inside: true, Language: fenceLanguage(b, ln), OpenPos: ln.start}
		}
	}
	return st
}

// FindLogicalBreakpoint searches [start, start+lookahead] for the best cut.
// lookahead < 0 means search to the end of the buffer.
//
// Outside a code block the candidate priority is: end of a tool marker line,
// start of a level 2-3 heading, closing fence of a code block, paragraph
// break, any line break. Inside a code block only a closing fence qualifies.
// Among candidates of the same type the latest position wins.
func FindLogicalBreakpoint(b string, start, lookahead int) (Breakpoint, bool) {
	if start < 0 {
		start = 0
	}
	end := len(b)
	if lookahead >= 0 && start+lookahead < end {
		end = start + lookahead
	}
	if start > len(b) {
		return Breakpoint{}, false
	}

	spans := splitLines(b)
	inside := StateAt(b, start).Inside

	inWindow := func(pos int) bool { return pos >= start && pos <= end }
	valid := func(pos int) bool { return !StateAt(b, pos).Inside }

	best := map[BreakType]int{}
	consider := func(t BreakType, pos int) {
		if !inWindow(pos) || !valid(pos) {
			return
		}
		if cur, ok := best[t]; !ok || pos > cur {
			best[t] = pos
		}
	}

	open := false
	for _, ln := range spans {
		fence := isFenceLine(b, ln)
		if fence && open {
			// Cut right after the closing fence.
			consider(BreakCodeBlockEnd, ln.end)
		}
		if fence {
			open = !open
			continue
		}
		if open {
			continue
		}
		if inside {
			continue
		}
		if isToolMarkerLine(b, ln) {
			consider(BreakToolMarker, ln.end)
		}
		if isHeadingLine(b, ln) {
			consider(BreakHeading, ln.start)
		}
	}

	if inside {
		if pos, ok := best[BreakCodeBlockEnd]; ok {
			return Breakpoint{Position: pos, Type: BreakCodeBlockEnd}, true
		}
		return Breakpoint{}, false
	}

	for i := start; i < end && i < len(b)-1; i++ {
		if b[i] == '\n' && b[i+1] == '\n' {
			consider(BreakParagraph, i+2)
		}
	}
	for i := start; i < end && i < len(b); i++ {
		if b[i] == '\n' {
			consider(BreakLine, i+1)
		}
	}

	for _, t := range []BreakType{BreakToolMarker, BreakHeading, BreakCodeBlockEnd, BreakParagraph, BreakLine} {
		if pos, ok := best[t]; ok {
			return Breakpoint{Position: pos, Type: t}, true
		}
	}
	return Breakpoint{}, false
}

// ShouldFlushEarly reports whether the buffer is large or tall enough that
// the next flush should split even before the hard limit.
func ShouldFlushEarly(b string, lim Limits) bool {
	if lim.Soft > 0 && len(b) >= lim.Soft {
		return true
	}
	if lim.MaxLines > 0 && strings.Count(b, "\n")+1 >= lim.MaxLines {
		return true
	}
	return false
}

// EndsAtBreakpoint classifies the buffer's tail.
func EndsAtBreakpoint(b string) BreakType {
	if b == "" || !strings.HasSuffix(b, "\n") {
		return BreakNone
	}
	spans := splitLines(b)
	last := spans[len(spans)-1]
	if isToolMarkerLine(b, last) {
		return BreakToolMarker
	}
	if isFenceLine(b, last) && StateAt(b, last.start).Inside {
		return BreakCodeBlockEnd
	}
	if strings.HasSuffix(b, "\n\n") {
		return BreakParagraph
	}
	return BreakNone
}

// Break decides how to flush buffer b into the current post. When the buffer
// exceeds the hard limit (or ShouldFlushEarly holds) it picks a cut; the
// window for a hard break is [0.7*hard, hard], a soft break searches from
// soft forward. When no cut is possible the whole buffer stays in one post.
func Break(b string, lim Limits) Result {
	n := len(b)

	var bp Breakpoint
	var ok bool
	var desired int
	switch {
	case lim.Hard > 0 && n > lim.Hard:
		start := int(0.7 * float64(lim.Hard))
		bp, ok = FindLogicalBreakpoint(b, start, lim.Hard-start)
		desired = lim.Hard
	case ShouldFlushEarly(b, lim):
		bp, ok = FindLogicalBreakpoint(b, lim.Soft, -1)
		desired = lim.Soft
	default:
		return Result{Head: b}
	}

	if ok && bp.Position > 0 && bp.Position < n {
		return splitAt(b, bp.Position)
	}

	// No candidate. If the desired cut sits inside a code block, move the
	// whole block to the continuation post by cutting just before its
	// opening fence.
	if desired > n {
		desired = n
	}
	if st := StateAt(b, desired); st.Inside && st.OpenPos > 0 {
		return splitAt(b, st.OpenPos)
	}
	return Result{Head: b}
}

func splitAt(b string, cut int) Result {
	head := strings.TrimRight(b[:cut], " \t\n")
	tail := strings.TrimLeft(b[cut:], "\n")
	if tail == "" {
		return Result{Head: head}
	}
	return Result{Head: head, Tail: tail, Split: true}
}

// Truncate enforces the absolute platform cap, appending a visible suffix.
// An open code block at the cut is closed so the post still renders.
func Truncate(b string, maxLength int) (string, bool) {
	if maxLength <= 0 || len(b) <= maxLength {
		return b, false
	}
	reserve := len(TruncationSuffix) + len("\n```")
	cut := maxLength - reserve
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	// Prefer a nearby line boundary so the cut does not land mid-word.
	if i := strings.LastIndexByte(b[:cut], '\n'); i > 0 && cut-i < 200 {
		cut = i
	}
	head := strings.TrimRight(b[:cut], " \t\n")
	if StateAt(b, cut).Inside {
		head += "\n```"
	}
	return head + TruncationSuffix, true
}
